package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/murelay/internal/ir"
)

const selectRecord = `
	SELECT row_seq, message_id, process_id, status, tx_id, sequence_number, message, outbox, last_error, error_kind
	FROM messages`

// FindLatestTx returns the latest sequenced tx stored for a process.
// Returns ErrNotFound if the process has never been sequenced.
func (s *Store) FindLatestTx(ctx context.Context, processID string) (ir.SequencedTx, error) {
	return scanLatestTx(s.db.QueryRowContext(ctx, `
		SELECT process_id, latest_tx_id, latest_message_id, latest_seq
		FROM processes
		WHERE process_id = ?
	`, processID))
}

// FindMessage returns the record for a message id.
// Returns ErrNotFound if it was never saved.
func (s *Store) FindMessage(ctx context.Context, messageID string) (ir.CacheRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE message_id = ?`, messageID))
	if err != nil {
		return ir.CacheRecord{}, fmt.Errorf("find message %s: %w", messageID, err)
	}
	return rec, nil
}

// FindLatestMessages pages through the records of a process, newest first.
//
// cursor is the value returned by the previous page, or 0 for the first.
// next is 0 when there are no more records.
func (s *Store) FindLatestMessages(ctx context.Context, processID string, cursor int64, limit int) ([]ir.CacheRecord, int64, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE process_id = ? AND (? = 0 OR row_seq < ?)
		ORDER BY row_seq DESC
		LIMIT ?
	`, processID, cursor, cursor, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query latest messages: %w", err)
	}
	defer rows.Close()

	records, lastSeq, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}

	var next int64
	if len(records) == limit {
		next = lastSeq
	}
	return records, next, nil
}

// FindResumable returns records of a process left in pending or
// sequenced status, oldest first. An empty processID matches all
// processes.
func (s *Store) FindResumable(ctx context.Context, processID string, limit int) ([]ir.CacheRecord, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	rows, err := s.db.QueryContext(ctx, selectRecord+`
		WHERE status IN ('pending', 'sequenced') AND (? = '' OR process_id = ?)
		ORDER BY row_seq ASC
		LIMIT ?
	`, processID, processID, limit)
	if err != nil {
		return nil, fmt.Errorf("query resumable messages: %w", err)
	}
	defer rows.Close()

	records, _, err := collectRecords(rows)
	return records, err
}

// FindProcessNode returns the node a process is pinned to.
// Returns ErrNotFound if the process has no pin.
func (s *Store) FindProcessNode(ctx context.Context, processID string) (string, error) {
	var node string
	err := s.db.QueryRowContext(ctx, `
		SELECT node FROM process_nodes WHERE process_id = ?
	`, processID).Scan(&node)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find process node: %w", err)
	}
	return node, nil
}

// collectRecords drains rows and returns the row_seq of the last record.
func collectRecords(rows *sql.Rows) ([]ir.CacheRecord, int64, error) {
	records := []ir.CacheRecord{}
	var lastSeq int64
	for rows.Next() {
		seq, rec, err := scanRecordWithSeq(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate messages: %w", err)
	}
	return records, lastSeq, nil
}

func scanRecord(row rowScanner) (ir.CacheRecord, error) {
	_, rec, err := scanRecordWithSeq(row)
	return rec, err
}

func scanRecordWithSeq(row rowScanner) (int64, ir.CacheRecord, error) {
	var (
		rowSeq     int64
		rec        ir.CacheRecord
		status     string
		msgJSON    string
		outboxJSON string
	)
	err := row.Scan(
		&rowSeq, &rec.MessageID, &rec.ProcessID, &status, &rec.TxID, &rec.SequenceNumber,
		&msgJSON, &outboxJSON, &rec.LastError, &rec.ErrorKind,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ir.CacheRecord{}, ErrNotFound
	}
	if err != nil {
		return 0, ir.CacheRecord{}, fmt.Errorf("scan message: %w", err)
	}
	rec.Status = ir.Status(status)

	if rec.Message, err = unmarshalMessage(msgJSON); err != nil {
		return 0, ir.CacheRecord{}, err
	}
	if rec.Outbox, err = unmarshalOutbox(outboxJSON); err != nil {
		return 0, ir.CacheRecord{}, err
	}
	return rowSeq, rec, nil
}
