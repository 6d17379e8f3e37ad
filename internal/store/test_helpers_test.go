package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/murelay/internal/ir"
)

// createTestStore creates a new SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTx creates a sequenced tx with minimal required fields.
func createTestTx(processID, txID string, seq int64) ir.SequencedTx {
	return ir.SequencedTx{
		MessageID:      "msg-" + txID,
		ProcessID:      processID,
		TxID:           txID,
		SequenceNumber: seq,
	}
}

// createTestRecord creates a cache record with minimal required fields.
func createTestRecord(messageID, processID string, status ir.Status) ir.CacheRecord {
	return ir.CacheRecord{
		MessageID: messageID,
		ProcessID: processID,
		Status:    status,
		Message: ir.Message{
			ID:        messageID,
			ProcessID: processID,
			Data:      "data-" + messageID,
			Owner:     "owner-1",
			Tags:      []ir.Tag{{Name: ir.TagType, Value: ir.TypeMessage}},
		},
	}
}

func statusPtr(s ir.Status) *ir.Status { return &s }
func strPtr(s string) *string          { return &s }
func int64Ptr(n int64) *int64          { return &n }
