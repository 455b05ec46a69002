package rpc

import (
	"bufio"
	"bytes"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	args := EnqueueArgs{Topic: "t", Payload: []byte("hello"), Meta: "m", Priority: 2, DeliverAfterMs: 10}
	if err := WriteFrame(&buf, MethodEnqueue, args); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	env, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if env.Method != MethodEnqueue {
		t.Fatalf("expected method %s, got %s", MethodEnqueue, env.Method)
	}

	var got EnqueueArgs
	if err := DecodePayload(env, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Topic != "t" || string(got.Payload) != "hello" || got.Priority != 2 || got.DeliverAfterMs != 10 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF}) // huge length prefix, no body
	if _, err := ReadFrame(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected an error for an oversized frame length")
	}
}
