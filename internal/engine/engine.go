// Package engine implements the per-topic priority-queue engine: the
// coupling between the in-memory Scheduler and the two durable KV stores
// (messages, index) that let a topic recover its state across restarts.
package engine

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bettermq/bettermq/internal/bmqerr"
	"github.com/bettermq/bettermq/internal/kvstore"
	"github.com/bettermq/bettermq/internal/logging"
	"github.com/bettermq/bettermq/internal/scheduler"
)

// recoverPageSize is the number of index keys scanned per page while
// rebuilding the scheduler from the index store at startup.
const recoverPageSize = 100

// EnqueueRequest is the argument to Engine.Enqueue.
type EnqueueRequest struct {
	Topic          string
	Payload        []byte
	Meta           string
	Priority       int32
	DeliverAfterMs uint32
}

// EnqueueReply is the result of a successful Enqueue.
type EnqueueReply struct {
	MessageID string
	NodeID    string
}

// DequeueRequest is the argument to Engine.Dequeue.
type DequeueRequest struct {
	Count           int
	LeaseDurationMs int32
}

// DataItem is one hydrated message returned by Dequeue.
type DataItem struct {
	MessageID string
	Payload   []byte
	Meta      string
	Priority  int32
}

// DequeueReply is the result of a Dequeue call.
type DequeueReply struct {
	Items []DataItem
}

// NackRequest is the argument to Engine.Nack.
type NackRequest struct {
	MessageID      string
	Meta           string
	DeliverAfterMs uint32
}

// Stats summarizes a topic's current scheduling state.
type Stats struct {
	Topic       string
	ReadySize   int
	DelayedSize int
}

// Engine is one independent durable priority queue, corresponding to a
// single topic. The zero value is not usable; construct with New.
type Engine struct {
	mu sync.RWMutex

	topic    string
	nodeID   string
	messages kvstore.Store
	index    kvstore.Store
	seqNo    uint64

	sched *scheduler.Scheduler
}

// New opens the engine for one topic: it seeds the sequence counter from
// the message store, starts the scheduler's tick loop, and rebuilds the
// scheduler's ready/delay state from the index store. A failure while
// scanning the index store is fatal, matching the "rebuild_index treats
// any scan error as fatal to startup" propagation rule.
func New(topic, nodeID string, messages, index kvstore.Store) (*Engine, error) {
	seqNo, err := seedSeqNo(messages)
	if err != nil {
		return nil, fmt.Errorf("engine %s: seed sequence: %w", topic, err)
	}

	e := &Engine{
		topic:    topic,
		nodeID:   nodeID,
		messages: messages,
		index:    index,
		seqNo:    seqNo,
		sched:    scheduler.New(0),
	}

	if err := e.rebuildIndex(); err != nil {
		e.sched.Stop()
		return nil, fmt.Errorf("engine %s: rebuild index: %w", topic, err)
	}

	return e, nil
}

func seedSeqNo(messages kvstore.Store) (uint64, error) {
	key, err := messages.MaxKey()
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeID(key), nil
}

func (e *Engine) rebuildIndex() error {
	start := []byte{0x00}
	end := bytes.Repeat([]byte{0xFF}, 8)

	for {
		var lastKey []byte
		count := 0
		err := e.index.Scan(start, end, recoverPageSize, func(key, value []byte) error {
			var rec storedIndex
			if err := decodeGob(value, &rec); err != nil {
				return fmt.Errorf("decode index record for key %x: %w", key, err)
			}
			e.sched.AddTask(scheduler.Task{Priority: rec.Priority, Due: rec.TimestampMs, ID: rec.MessageID})
			lastKey = append([]byte(nil), key...)
			count++
			return nil
		})
		if err != nil {
			return err
		}
		if count < recoverPageSize {
			return nil
		}
		start = append(append([]byte(nil), lastKey...), 0x00)
	}
}

// Enqueue admits a new message: it allocates the next sequence number,
// persists the message and its index record, and schedules a Task for
// delivery at now+DeliverAfterMs.
func (e *Engine) Enqueue(req EnqueueRequest) (EnqueueReply, error) {
	e.mu.Lock()
	e.seqNo++
	curSeq := e.seqNo
	e.mu.Unlock()

	e.mu.RLock()
	defer e.mu.RUnlock()

	due := nowMillis() + int64(req.DeliverAfterMs)
	key := encodeID(curSeq)

	msgVal, err := encodeGob(storedMessage{
		Topic:          req.Topic,
		Payload:        req.Payload,
		Meta:           req.Meta,
		Priority:       req.Priority,
		DeliverAfterMs: req.DeliverAfterMs,
	})
	if err != nil {
		return EnqueueReply{}, bmqerr.Wrap(err)
	}
	if err := e.messages.Set(key, msgVal); err != nil {
		return EnqueueReply{}, bmqerr.Wrap(err)
	}

	idxVal, err := encodeGob(storedIndex{Priority: req.Priority, TimestampMs: due, MessageID: curSeq})
	if err != nil {
		return EnqueueReply{}, bmqerr.Wrap(err)
	}
	if err := e.index.Set(key, idxVal); err != nil {
		return EnqueueReply{}, bmqerr.Wrap(err)
	}

	e.sched.AddTask(scheduler.Task{Priority: req.Priority, Due: due, ID: curSeq})

	return EnqueueReply{MessageID: strconv.FormatUint(curSeq, 10), NodeID: e.nodeID}, nil
}

// Dequeue hands out up to req.Count ready messages in priority order. If
// req.LeaseDurationMs > 0, each returned message is re-scheduled as a
// delayed task before hydration so that a missing ack causes redelivery
// at lease expiry; otherwise the message and its index record are
// removed immediately, matching the at-least-once lease semantics.
func (e *Engine) Dequeue(req DequeueRequest) (DequeueReply, error) {
	tasks := e.sched.FetchTasks(req.Count)
	if len(tasks) == 0 {
		return DequeueReply{}, nil
	}

	if req.LeaseDurationMs > 0 {
		due := nowMillis() + int64(req.LeaseDurationMs)
		for _, t := range tasks {
			e.sched.AddTask(scheduler.Task{Priority: t.Priority, Due: due, ID: t.ID})
		}
	}

	items := make([]DataItem, 0, len(tasks))
	e.mu.RLock()
	for _, t := range tasks {
		v, err := e.messages.Get(encodeID(t.ID))
		if err != nil {
			logging.Op().Warn("dequeue: failed to hydrate message, dropping", "topic", e.topic, "message_id", t.ID, "error", err)
			continue
		}
		var stored storedMessage
		if err := decodeGob(v, &stored); err != nil {
			logging.Op().Warn("dequeue: failed to decode message, dropping", "topic", e.topic, "message_id", t.ID, "error", err)
			continue
		}
		items = append(items, DataItem{
			MessageID: strconv.FormatUint(t.ID, 10),
			Payload:   stored.Payload,
			Meta:      stored.Meta,
			Priority:  stored.Priority,
		})
	}
	e.mu.RUnlock()

	if req.LeaseDurationMs <= 0 {
		for _, t := range tasks {
			if err := e.removeMsg(t.ID); err != nil {
				logging.Op().Warn("dequeue: failed to remove delivered message", "topic", e.topic, "message_id", t.ID, "error", err)
			}
		}
	}

	return DequeueReply{Items: items}, nil
}

// Ack terminates delivery of a leased message. It returns a NotFound
// error if the id has no outstanding lease (already acked, never leased,
// or the id is unknown).
func (e *Engine) Ack(messageID string) error {
	id, err := parseMessageID(messageID)
	if err != nil {
		return err
	}
	if !e.sched.CancelTask(id) {
		return bmqerr.New(bmqerr.NotFound, "no lease found for message_id "+messageID)
	}
	return e.removeMsg(id)
}

// Nack returns a leased message for redelivery with an updated delay and
// optionally updated meta. The payload and priority are carried over
// unchanged from the original enqueue.
func (e *Engine) Nack(req NackRequest) error {
	id, err := parseMessageID(req.MessageID)
	if err != nil {
		return err
	}
	e.sched.CancelTask(id) // best-effort; ignore false (already expired/acked races)

	key := encodeID(id)

	e.mu.RLock()
	v, getErr := e.messages.Get(key)
	e.mu.RUnlock()
	if getErr == kvstore.ErrNotFound {
		return bmqerr.New(bmqerr.NotFound, "no stored message for message_id "+req.MessageID)
	}
	if getErr != nil {
		return bmqerr.Wrap(getErr)
	}

	var stored storedMessage
	if err := decodeGob(v, &stored); err != nil {
		return bmqerr.Wrap(err)
	}

	newMeta := req.Meta
	if newMeta == "" {
		newMeta = stored.Meta
	}
	due := nowMillis() + int64(req.DeliverAfterMs)

	e.mu.RLock()
	defer e.mu.RUnlock()

	newVal, err := encodeGob(storedMessage{
		Topic:          stored.Topic,
		Payload:        stored.Payload,
		Meta:           newMeta,
		Priority:       stored.Priority,
		DeliverAfterMs: req.DeliverAfterMs,
	})
	if err != nil {
		return bmqerr.Wrap(err)
	}
	if err := e.messages.Set(key, newVal); err != nil {
		return bmqerr.Wrap(err)
	}

	idxVal, err := encodeGob(storedIndex{Priority: stored.Priority, TimestampMs: due, MessageID: id})
	if err != nil {
		return bmqerr.Wrap(err)
	}
	if err := e.index.Set(key, idxVal); err != nil {
		return bmqerr.Wrap(err)
	}

	e.sched.AddTask(scheduler.Task{Priority: stored.Priority, Due: due, ID: id})
	return nil
}

// removeMsg idempotently removes a message's index record, and its
// payload record unless id is the most recently assigned sequence (in
// which case the payload is left in place so max_key on restart still
// reflects the next sequence to assign; see the retain-latest-sequence
// design note).
func (e *Engine) removeMsg(id uint64) error {
	key := encodeID(id)

	if err := e.index.Remove(key); err != nil {
		return bmqerr.Wrap(err)
	}

	e.mu.RLock()
	keepMessage := id == e.seqNo
	e.mu.RUnlock()
	if keepMessage {
		return nil
	}

	if err := e.messages.Remove(key); err != nil {
		return bmqerr.Wrap(err)
	}
	return nil
}

// Stats returns the topic's current ready/delayed scheduling sizes.
func (e *Engine) Stats() Stats {
	ready, delayed := e.sched.Stats()
	return Stats{Topic: e.topic, ReadySize: ready, DelayedSize: delayed}
}

// Stop quiesces the scheduler. It does not close the KV stores; the
// caller (the broker) owns their lifecycle.
func (e *Engine) Stop() {
	e.sched.Stop()
}

func parseMessageID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, bmqerr.Newf(bmqerr.InvalidArgument, "malformed message_id %q", s)
	}
	return id, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
