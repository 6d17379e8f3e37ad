package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/murelay/internal/ir"
)

// SaveTx advances the latest-tx pointer of tx.ProcessID.
//
// The read-check-write runs in one transaction. A stored pointer with a
// higher sequence number, or the same sequence number under a different
// tx id, yields a *ConflictError. Saving the stored tx again is a no-op.
func (s *Store) SaveTx(ctx context.Context, tx ir.SequencedTx) error {
	if tx.ProcessID == "" || tx.TxID == "" {
		return fmt.Errorf("save tx: process_id and tx_id are required")
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save tx: begin tx: %w", err)
	}
	defer dbTx.Rollback() // No-op if committed

	stored, err := scanLatestTx(dbTx.QueryRowContext(ctx, `
		SELECT process_id, latest_tx_id, latest_message_id, latest_seq
		FROM processes
		WHERE process_id = ?
	`, tx.ProcessID))
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return fmt.Errorf("save tx: %w", err)
	default:
		write, err := checkMonotonic(stored, tx)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
	}

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO processes (process_id, latest_tx_id, latest_message_id, latest_seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(process_id) DO UPDATE SET
			latest_tx_id = excluded.latest_tx_id,
			latest_message_id = excluded.latest_message_id,
			latest_seq = excluded.latest_seq
	`, tx.ProcessID, tx.TxID, tx.MessageID, tx.SequenceNumber)
	if err != nil {
		return fmt.Errorf("save tx: upsert: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("save tx: commit: %w", err)
	}
	return nil
}

// SaveMessage inserts or replaces a message record.
// Records already in a terminal status are left untouched.
func (s *Store) SaveMessage(ctx context.Context, rec ir.CacheRecord) error {
	if err := validateRecord(rec); err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	msgJSON, err := marshalMessage(rec.Message)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	outboxJSON, err := marshalOutbox(rec.Outbox)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	// ON CONFLICT keeps row_seq, so a record keeps its position in
	// FindLatestMessages across status changes.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages
		(message_id, process_id, status, tx_id, sequence_number, message, outbox, last_error, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			status = excluded.status,
			tx_id = excluded.tx_id,
			sequence_number = excluded.sequence_number,
			message = excluded.message,
			outbox = excluded.outbox,
			last_error = excluded.last_error,
			error_kind = excluded.error_kind
		WHERE messages.status NOT IN ('executed', 'failed')
	`,
		rec.MessageID,
		rec.ProcessID,
		string(rec.Status),
		rec.TxID,
		rec.SequenceNumber,
		msgJSON,
		outboxJSON,
		rec.LastError,
		rec.ErrorKind,
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// UpdateMessage applies patch to an existing record.
// Returns ErrNotFound if the record was never saved. Patches to terminal
// records are ignored.
func (s *Store) UpdateMessage(ctx context.Context, messageID string, patch ir.RecordPatch) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update message: begin tx: %w", err)
	}
	defer dbTx.Rollback()

	rec, err := scanRecord(dbTx.QueryRowContext(ctx, selectRecord+` WHERE message_id = ?`, messageID))
	if err != nil {
		return fmt.Errorf("update message %s: %w", messageID, err)
	}
	if rec.Status.Terminal() {
		return nil
	}

	updated := patch.Apply(rec)
	if !updated.Status.Valid() {
		return fmt.Errorf("update message %s: invalid status %q", messageID, updated.Status)
	}
	outboxJSON, err := marshalOutbox(updated.Outbox)
	if err != nil {
		return fmt.Errorf("update message %s: %w", messageID, err)
	}

	_, err = dbTx.ExecContext(ctx, `
		UPDATE messages SET
			status = ?, tx_id = ?, sequence_number = ?, outbox = ?, last_error = ?, error_kind = ?
		WHERE message_id = ?
	`,
		string(updated.Status),
		updated.TxID,
		updated.SequenceNumber,
		outboxJSON,
		updated.LastError,
		updated.ErrorKind,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("update message %s: %w", messageID, err)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("update message %s: commit: %w", messageID, err)
	}
	return nil
}

// SaveProcessNode pins a process to a compute node by name.
func (s *Store) SaveProcessNode(ctx context.Context, processID, node string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_nodes (process_id, node)
		VALUES (?, ?)
		ON CONFLICT(process_id) DO UPDATE SET node = excluded.node
	`, processID, node)
	if err != nil {
		return fmt.Errorf("save process node: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLatestTx(row rowScanner) (ir.SequencedTx, error) {
	var tx ir.SequencedTx
	err := row.Scan(&tx.ProcessID, &tx.TxID, &tx.MessageID, &tx.SequenceNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.SequencedTx{}, ErrNotFound
	}
	if err != nil {
		return ir.SequencedTx{}, fmt.Errorf("scan latest tx: %w", err)
	}
	return tx, nil
}
