package engine

import (
	"strconv"
	"testing"
	"time"

	"github.com/bettermq/bettermq/internal/kvstore"
)

func openTopic(t *testing.T, dir string) (*Engine, kvstore.Store, kvstore.Store) {
	t.Helper()
	messages, err := kvstore.OpenBolt(dir + "/messages")
	if err != nil {
		t.Fatalf("open messages store: %v", err)
	}
	index, err := kvstore.OpenBolt(dir + "/index")
	if err != nil {
		t.Fatalf("open index store: %v", err)
	}
	e, err := New("t", "node-1", messages, index)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, messages, index
}

func TestScenarioOrderingAndDelay(t *testing.T) {
	dir := t.TempDir()
	e, messages, index := openTopic(t, dir)
	defer func() { e.Stop(); messages.Close(); index.Close() }()

	mustEnqueue(t, e, "r1", 1, 0)
	mustEnqueue(t, e, "r2", 0, 0)
	mustEnqueue(t, e, "r3", 1, 0)
	mustEnqueue(t, e, "r4", -1, 2000)

	time.Sleep(20 * time.Millisecond) // let the scheduler tick settle r1-r3 into ready

	reply, err := e.Dequeue(DequeueRequest{Count: 4, LeaseDurationMs: 0})
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(reply.Items) != 3 {
		t.Fatalf("expected 3 items (r4 still delayed), got %d: %+v", len(reply.Items), reply.Items)
	}
	wantMeta := []string{"r2", "r1", "r3"}
	for i, want := range wantMeta {
		if reply.Items[i].Meta != want {
			t.Fatalf("position %d: want meta %s, got %s", i, want, reply.Items[i].Meta)
		}
	}
}

func TestScenarioLeaseRoundTripAndExpiry(t *testing.T) {
	dir := t.TempDir()
	e, messages, index := openTopic(t, dir)
	defer func() { e.Stop(); messages.Close(); index.Close() }()

	mustEnqueue(t, e, "late", -1, 40)

	time.Sleep(60 * time.Millisecond)

	reply, err := e.Dequeue(DequeueRequest{Count: 1, LeaseDurationMs: 60})
	if err != nil {
		t.Fatalf("dequeue with lease: %v", err)
	}
	if len(reply.Items) != 1 || reply.Items[0].Meta != "late" {
		t.Fatalf("expected leased item, got %+v", reply.Items)
	}
	id := reply.Items[0].MessageID

	// No ack: lease should expire and the item should be redelivered.
	time.Sleep(90 * time.Millisecond)
	reply2, err := e.Dequeue(DequeueRequest{Count: 1, LeaseDurationMs: 0})
	if err != nil {
		t.Fatalf("redelivery dequeue: %v", err)
	}
	if len(reply2.Items) != 1 || reply2.Items[0].MessageID != id || reply2.Items[0].Meta != "late" {
		t.Fatalf("expected redelivery of same message, got %+v", reply2.Items)
	}

	// That dequeue had no lease, so the message is gone now.
	time.Sleep(10 * time.Millisecond)
	reply3, err := e.Dequeue(DequeueRequest{Count: 1, LeaseDurationMs: 0})
	if err != nil {
		t.Fatalf("final dequeue: %v", err)
	}
	if len(reply3.Items) != 0 {
		t.Fatalf("expected no items left, got %+v", reply3.Items)
	}
}

func TestAckFinality(t *testing.T) {
	dir := t.TempDir()
	e, messages, index := openTopic(t, dir)
	defer func() { e.Stop(); messages.Close(); index.Close() }()

	mustEnqueue(t, e, "m", 0, 0)
	time.Sleep(10 * time.Millisecond)

	reply, err := e.Dequeue(DequeueRequest{Count: 1, LeaseDurationMs: 5000})
	if err != nil || len(reply.Items) != 1 {
		t.Fatalf("dequeue: %v %+v", err, reply)
	}
	id := reply.Items[0].MessageID

	if err := e.Ack(id); err != nil {
		t.Fatalf("ack: %v", err)
	}

	if err := e.Ack(id); err == nil {
		t.Fatal("expected NotFound re-acking the same id")
	}

	reply2, err := e.Dequeue(DequeueRequest{Count: 10, LeaseDurationMs: 0})
	if err != nil {
		t.Fatalf("dequeue after ack: %v", err)
	}
	if len(reply2.Items) != 0 {
		t.Fatalf("expected no deliverable items after ack, got %+v", reply2.Items)
	}
}

func TestNackPreservesPayload(t *testing.T) {
	dir := t.TempDir()
	e, messages, index := openTopic(t, dir)
	defer func() { e.Stop(); messages.Close(); index.Close() }()

	reply, err := e.Enqueue(EnqueueRequest{Topic: "t", Payload: []byte("hello"), Meta: "orig", Priority: 3})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	dqReply, err := e.Dequeue(DequeueRequest{Count: 1, LeaseDurationMs: 5000})
	if err != nil || len(dqReply.Items) != 1 {
		t.Fatalf("dequeue: %v %+v", err, dqReply)
	}

	if err := e.Nack(NackRequest{MessageID: reply.MessageID, Meta: "updated", DeliverAfterMs: 30}); err != nil {
		t.Fatalf("nack: %v", err)
	}

	immediate, err := e.Dequeue(DequeueRequest{Count: 1, LeaseDurationMs: 0})
	if err != nil {
		t.Fatalf("immediate dequeue: %v", err)
	}
	if len(immediate.Items) != 0 {
		t.Fatalf("expected nacked item not yet eligible, got %+v", immediate.Items)
	}

	time.Sleep(60 * time.Millisecond)
	redelivered, err := e.Dequeue(DequeueRequest{Count: 1, LeaseDurationMs: 0})
	if err != nil {
		t.Fatalf("redelivery dequeue: %v", err)
	}
	if len(redelivered.Items) != 1 {
		t.Fatalf("expected nacked item redelivered, got %+v", redelivered.Items)
	}
	item := redelivered.Items[0]
	if string(item.Payload) != "hello" || item.Meta != "updated" || item.Priority != 3 {
		t.Fatalf("nack did not preserve payload/priority or apply new meta: %+v", item)
	}
}

func TestSequenceMonotonicityAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	e, messages, index := openTopic(t, dir)

	var lastID string
	for i := 0; i < 3; i++ {
		r, err := e.Enqueue(EnqueueRequest{Topic: "t", Payload: []byte("p"), Meta: "m", Priority: 0})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		lastID = r.MessageID
	}
	e.Stop()
	messages.Close()
	index.Close()

	e2, messages2, index2 := openTopic(t, dir)
	defer func() { e2.Stop(); messages2.Close(); index2.Close() }()

	r, err := e2.Enqueue(EnqueueRequest{Topic: "t", Payload: []byte("p"), Meta: "m", Priority: 0})
	if err != nil {
		t.Fatalf("post-restart enqueue: %v", err)
	}
	prev, _ := strconv.ParseUint(lastID, 10, 64)
	next, _ := strconv.ParseUint(r.MessageID, 10, 64)
	if next <= prev {
		t.Fatalf("expected new sequence to exceed previous max %s, got %s", lastID, r.MessageID)
	}
}

func TestRecoveryAfterRestartPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	e, messages, index := openTopic(t, dir)

	mustEnqueue(t, e, "a", 2, 0)
	mustEnqueue(t, e, "b", 1, 0)
	mustEnqueue(t, e, "c", 1, 0)
	time.Sleep(10 * time.Millisecond)

	e.Stop()
	messages.Close()
	index.Close()

	e2, messages2, index2 := openTopic(t, dir)
	defer func() { e2.Stop(); messages2.Close(); index2.Close() }()
	time.Sleep(10 * time.Millisecond)

	reply, err := e2.Dequeue(DequeueRequest{Count: 10, LeaseDurationMs: 0})
	if err != nil {
		t.Fatalf("dequeue after reopen: %v", err)
	}
	if len(reply.Items) != 3 {
		t.Fatalf("expected all 3 messages recovered, got %d", len(reply.Items))
	}
	wantMeta := []string{"b", "c", "a"}
	for i, want := range wantMeta {
		if reply.Items[i].Meta != want {
			t.Fatalf("position %d: want meta %s, got %s", i, want, reply.Items[i].Meta)
		}
	}
}

func mustEnqueue(t *testing.T, e *Engine, meta string, priority int32, afterMs uint32) EnqueueReply {
	t.Helper()
	r, err := e.Enqueue(EnqueueRequest{Topic: "t", Payload: []byte(meta), Meta: meta, Priority: priority, DeliverAfterMs: afterMs})
	if err != nil {
		t.Fatalf("enqueue %s: %v", meta, err)
	}
	return r
}
