package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/murelay/internal/ir"
)

// marshalMessage converts a message to JSON TEXT for storage.
func marshalMessage(m ir.Message) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	return string(data), nil
}

// marshalOutbox converts an outbox to JSON TEXT. A nil outbox is stored
// as an empty array so reads never have to special-case NULL.
func marshalOutbox(outbox []ir.Message) (string, error) {
	if outbox == nil {
		outbox = []ir.Message{}
	}
	data, err := json.Marshal(outbox)
	if err != nil {
		return "", fmt.Errorf("marshal outbox: %w", err)
	}
	return string(data), nil
}

func unmarshalMessage(data string) (ir.Message, error) {
	var m ir.Message
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return ir.Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return m, nil
}

func unmarshalOutbox(data string) ([]ir.Message, error) {
	outbox := []ir.Message{}
	if data == "" || data == "[]" {
		return outbox, nil
	}
	if err := json.Unmarshal([]byte(data), &outbox); err != nil {
		return nil, fmt.Errorf("unmarshal outbox: %w", err)
	}
	return outbox, nil
}

// marshalRecord serializes a full cache record. Used by the Redis backend,
// which stores each record as a single value.
func marshalRecord(rec ir.CacheRecord) ([]byte, error) {
	if rec.Outbox == nil {
		rec.Outbox = []ir.Message{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

func unmarshalRecord(data []byte) (ir.CacheRecord, error) {
	var rec ir.CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ir.CacheRecord{}, fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.Outbox == nil {
		rec.Outbox = []ir.Message{}
	}
	return rec, nil
}

func validateRecord(rec ir.CacheRecord) error {
	if rec.MessageID == "" {
		return fmt.Errorf("message_id is required")
	}
	if rec.ProcessID == "" {
		return fmt.Errorf("process_id is required")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("invalid status %q", rec.Status)
	}
	return nil
}
