package engine

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
)

// storedMessage mirrors an Enqueue request. It is the message-store
// value for a given message_id.
type storedMessage struct {
	Topic          string
	Payload        []byte
	Meta           string
	Priority       int32
	DeliverAfterMs uint32
}

// storedIndex mirrors a Task. It is the index-store value for a given
// message_id, used to rebuild the scheduler on restart.
type storedIndex struct {
	Priority    int32
	TimestampMs int64
	MessageID   uint64
}

func encodeID(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func decodeID(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
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
