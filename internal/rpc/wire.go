// Package rpc implements BetterMQ's wire transport: a length-prefixed
// gob stream over TCP. The broker's RPC surface (Enqueue, Dequeue, Ack,
// Nack, CreateTopic, RemoveTopic, GetActiveTopics) is specified only at
// the interface level, so this package supplies one concrete framing for
// it rather than depending on generated protobuf stubs that do not exist
// in this tree.
package rpc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/bettermq/bettermq/internal/engine"
)

// MaxFrameBytes bounds a single frame to guard against a corrupt or
// malicious length prefix requesting an unbounded allocation.
const MaxFrameBytes = 32 << 20 // 32MB

// Method names carried in an Envelope.
const (
	MethodEnqueue         = "Enqueue"
	MethodDequeue         = "Dequeue"
	MethodAck             = "Ack"
	MethodNack            = "Nack"
	MethodCreateTopic     = "CreateTopic"
	MethodRemoveTopic     = "RemoveTopic"
	MethodGetActiveTopics = "GetActiveTopics"
)

// Envelope is the outer frame for every request and reply. Payload is a
// gob-encoded copy of the method-specific request/reply struct below.
type Envelope struct {
	Method  string
	Payload []byte
}

// ErrEnvelope carries a failed call's error back to the client. It is
// set on Envelope.Payload-decoded replies instead of returning a
// transport-level error, so the framing itself stays agnostic of
// application error codes.
type ErrEnvelope struct {
	Code    string
	Message string
}

// EnqueueArgs is the wire form of an Enqueue call.
type EnqueueArgs struct {
	Topic          string
	Payload        []byte
	Meta           string
	Priority       int32
	DeliverAfterMs uint32
}

// EnqueueResult is the wire form of an Enqueue reply.
type EnqueueResult struct {
	MessageID string
	NodeID    string
}

// DequeueArgs is the wire form of a Dequeue call.
type DequeueArgs struct {
	Topic           string
	Count           int
	LeaseDurationMs int32
}

// DequeueResult is the wire form of a Dequeue reply.
type DequeueResult struct {
	Items []engine.DataItem
}

// AckArgs is the wire form of an Ack call.
type AckArgs struct {
	Topic     string
	MessageID string
}

// NackArgs is the wire form of a Nack call.
type NackArgs struct {
	Topic          string
	MessageID      string
	Meta           string
	DeliverAfterMs uint32
}

// CreateTopicArgs is the wire form of a CreateTopic call.
type CreateTopicArgs struct {
	Topic string
}

// RemoveTopicArgs is the wire form of a RemoveTopic call.
type RemoveTopicArgs struct {
	Topic string
}

// GetActiveTopicsResult is the wire form of a GetActiveTopics reply.
type GetActiveTopicsResult struct {
	Topics []engine.Stats
}

// Empty is used where a call has no meaningful reply payload beyond
// success/failure.
type Empty struct{}

// WriteFrame gob-encodes v, wraps it as the payload of an Envelope
// tagged with method, and writes a 4-byte big-endian length prefix
// followed by the encoded envelope to w.
func WriteFrame(w io.Writer, method string, v any) error {
	payload, err := encodeGob(v)
	if err != nil {
		return fmt.Errorf("rpc: encode payload for %s: %w", method, err)
	}
	env := Envelope{Method: method, Payload: payload}
	envBytes, err := encodeGob(env)
	if err != nil {
		return fmt.Errorf("rpc: encode envelope for %s: %w", method, err)
	}
	if len(envBytes) > MaxFrameBytes {
		return fmt.Errorf("rpc: frame for %s exceeds max size %d", method, MaxFrameBytes)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(envBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(envBytes)
	return err
}

// ReadFrame reads one length-prefixed frame from r and decodes its
// Envelope.
func ReadFrame(r *bufio.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameBytes {
		return Envelope{}, fmt.Errorf("rpc: incoming frame of %d bytes exceeds max size %d", n, MaxFrameBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := decodeGob(buf, &env); err != nil {
		return Envelope{}, fmt.Errorf("rpc: decode envelope: %w", err)
	}
	return env, nil
}

// DecodePayload decodes env.Payload into v.
func DecodePayload(env Envelope, v any) error {
	return decodeGob(env.Payload, v)
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
