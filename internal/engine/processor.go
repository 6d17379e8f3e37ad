package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/metrics"
	"github.com/roach88/murelay/internal/nodes"
	"github.com/roach88/murelay/internal/sequencer"
	"github.com/roach88/murelay/internal/store"
)

// CacheStore is the persistence the pipeline needs.
// Implemented by store.Store and store.RedisStore.
type CacheStore interface {
	FindLatestTx(ctx context.Context, processID string) (ir.SequencedTx, error)
	SaveTx(ctx context.Context, tx ir.SequencedTx) error
	SaveMessage(ctx context.Context, rec ir.CacheRecord) error
	UpdateMessage(ctx context.Context, messageID string, patch ir.RecordPatch) error
	FindMessage(ctx context.Context, messageID string) (ir.CacheRecord, error)
}

// Sequencer orders interactions on a process.
// Implemented by sequencer.Client and sequencer.Local.
type Sequencer interface {
	FindTx(ctx context.Context, msg ir.Message) (ir.SequencedTx, error)
	BuildAndSign(msg ir.Message) (ir.SignedInteraction, error)
	WriteInteraction(ctx context.Context, si ir.SignedInteraction) (ir.SequencedTx, error)
}

// Compute fetches the outbox of a sequenced tx.
// Implemented by compute.Client.
type Compute interface {
	FetchMessages(ctx context.Context, node nodes.Node, processID string, tx ir.SequencedTx) ([]ir.Message, error)
}

// NodeSelector maps a process onto a compute node.
// Implemented by nodes.Selector.
type NodeSelector interface {
	Select(ctx context.Context, processID string) (nodes.Node, error)
}

// Outcome is the result of processing one message.
type Outcome struct {
	Tx     ir.SequencedTx `json:"tx"`
	Outbox []ir.Message   `json:"outbox"`
	Cached bool           `json:"cached"` // Served from an executed record
}

// Processor runs single messages through the pipeline.
//
// Thread-safety: safe for concurrent use. All coordination happens in the
// CacheStore and the Sequencer.
type Processor struct {
	cache     CacheStore
	sequencer Sequencer
	compute   Compute
	selector  NodeSelector
	retry     RetryPolicy
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithRetryPolicy sets the retry policy for sequencer and compute calls.
//
// Default: DefaultRetryPolicy
// Use NoRetry in tests asserting exact call counts on failure.
func WithRetryPolicy(p RetryPolicy) ProcessorOption {
	return func(pr *Processor) {
		pr.retry = p
	}
}

// NewProcessor creates a Processor over the four leaf collaborators.
func NewProcessor(cache CacheStore, seq Sequencer, comp Compute, sel NodeSelector, opts ...ProcessorOption) *Processor {
	p := &Processor{
		cache:     cache,
		sequencer: seq,
		compute:   comp,
		selector:  sel,
		retry:     DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initiate is the entry point for a brand-new inbound message.
//
// Besides the message's own record it consults the process's latest tx,
// so a client re-sending the message that last advanced the process is
// answered from the cache.
func (p *Processor) Initiate(ctx context.Context, msg ir.Message) (Outcome, error) {
	msg, err := p.prepare(msg)
	if err != nil {
		return Outcome{}, err
	}

	latest, err := p.cache.FindLatestTx(ctx, msg.ProcessID)
	switch {
	case err == nil && latest.MessageID == msg.ID:
		return p.replayLatest(ctx, msg, latest)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return Outcome{}, p.fail(newError(StageValidation, msg, fmt.Errorf("find latest tx: %w", err)))
	}

	return p.process(ctx, msg)
}

// replayLatest handles a message that is already its process's latest tx.
// A record that lost its tx (missing, pending, or sequenced without a
// tx id) is restored from latest and executed without asking the
// sequencer again.
func (p *Processor) replayLatest(ctx context.Context, msg ir.Message, latest ir.SequencedTx) (Outcome, error) {
	rec, err := p.cache.FindMessage(ctx, msg.ID)
	switch {
	case err == nil:
		if _, ok := rec.Tx(); ok || rec.Status.Terminal() {
			return p.process(ctx, msg)
		}
	case errors.Is(err, store.ErrNotFound):
		rec = ir.CacheRecord{MessageID: msg.ID, ProcessID: msg.ProcessID, Message: msg}
	default:
		return Outcome{}, p.fail(newError(StageSequencing, msg, fmt.Errorf("find record: %w", err)))
	}

	slog.Debug("restoring record from the process's latest tx",
		"message_id", msg.ID,
		"process_id", msg.ProcessID,
		"tx_id", latest.TxID,
	)
	rec.Status = ir.StatusSequenced
	rec.TxID = latest.TxID
	rec.SequenceNumber = latest.SequenceNumber
	if err := p.cache.SaveMessage(ctx, rec); err != nil {
		return Outcome{}, p.fail(newError(StageSequencing, msg, fmt.Errorf("restore sequenced record: %w", err)))
	}
	return p.execute(ctx, msg, latest)
}

// ProcessMsg runs an outbox entry through the pipeline.
func (p *Processor) ProcessMsg(ctx context.Context, msg ir.Message) (Outcome, error) {
	msg, err := p.prepare(msg)
	if err != nil {
		return Outcome{}, err
	}
	return p.process(ctx, msg)
}

// prepare fills in the message id and validates the message.
func (p *Processor) prepare(msg ir.Message) (ir.Message, error) {
	withID, err := ir.WithID(msg)
	if err != nil {
		return ir.Message{}, p.fail(&Error{Kind: KindInvalidMessage, Stage: StageValidation, ProcessID: msg.ProcessID, Err: err})
	}
	if err := ir.ValidateMessage(withID); err != nil {
		return ir.Message{}, p.fail(newError(StageValidation, withID, err))
	}
	return withID, nil
}

func (p *Processor) process(ctx context.Context, msg ir.Message) (Outcome, error) {
	rec, err := p.cache.FindMessage(ctx, msg.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = ir.CacheRecord{
			MessageID: msg.ID,
			ProcessID: msg.ProcessID,
			Status:    ir.StatusPending,
			Message:   msg,
		}
		if err := p.cache.SaveMessage(ctx, rec); err != nil {
			return Outcome{}, p.fail(newError(StageSequencing, msg, fmt.Errorf("save pending record: %w", err)))
		}
	case err != nil:
		return Outcome{}, p.fail(newError(StageSequencing, msg, fmt.Errorf("find record: %w", err)))
	}

	switch rec.Status {
	case ir.StatusExecuted:
		tx, _ := rec.Tx()
		metrics.MessagesProcessed.WithLabelValues("cached").Inc()
		slog.Debug("message already executed",
			"message_id", msg.ID,
			"tx_id", tx.TxID,
		)
		return Outcome{Tx: tx, Outbox: rec.Outbox, Cached: true}, nil

	case ir.StatusFailed:
		return Outcome{}, p.fail(recordedError(rec))

	case ir.StatusSequenced:
		tx, ok := rec.Tx()
		if ok {
			return p.execute(ctx, msg, tx)
		}
		// A sequenced record without a tx id is re-sequenced; FindTx
		// makes this safe.
	}

	tx, err := p.sequence(ctx, msg)
	if err != nil {
		return Outcome{}, err
	}
	return p.execute(ctx, msg, tx)
}

// sequence steps 2 and 3: obtain a tx, record it as the process's latest,
// and mark the record sequenced.
func (p *Processor) sequence(ctx context.Context, msg ir.Message) (ir.SequencedTx, error) {
	tx, err := p.obtainTx(ctx, msg)
	if err != nil {
		// Only a rejection is final. Anything else leaves the record
		// pending for a later delivery or resume.
		perr := newError(StageSequencing, msg, err)
		if perr.Kind == KindRejected {
			p.markFailed(ctx, msg, perr)
		} else {
			p.noteError(ctx, msg, perr)
		}
		return ir.SequencedTx{}, p.fail(perr)
	}

	if err := p.cache.SaveTx(ctx, tx); err != nil {
		if !store.IsConflict(err) {
			return ir.SequencedTx{}, p.fail(newError(StageSequencing, msg, fmt.Errorf("save tx: %w", err)))
		}
		// Another crank advanced the process first. Not an error.
		latest, rerr := p.cache.FindLatestTx(ctx, msg.ProcessID)
		slog.Info("lost latest-tx race, continuing",
			"message_id", msg.ID,
			"process_id", msg.ProcessID,
			"seq", tx.SequenceNumber,
			"latest_seq", latest.SequenceNumber,
			"reread_error", rerr,
		)
	}

	status := ir.StatusSequenced
	if err := p.cache.UpdateMessage(ctx, msg.ID, ir.RecordPatch{
		Status:         &status,
		TxID:           &tx.TxID,
		SequenceNumber: &tx.SequenceNumber,
	}); err != nil {
		return ir.SequencedTx{}, p.fail(newError(StageSequencing, msg, fmt.Errorf("mark sequenced: %w", err)))
	}

	slog.Debug("message sequenced",
		"message_id", msg.ID,
		"process_id", msg.ProcessID,
		"tx_id", tx.TxID,
		"seq", tx.SequenceNumber,
	)
	return tx, nil
}

// obtainTx asks the sequencer for an existing tx and only submits a new
// interaction when there is none.
func (p *Processor) obtainTx(ctx context.Context, msg ir.Message) (ir.SequencedTx, error) {
	var tx ir.SequencedTx
	err := p.retry.do(ctx, "sequencer.find_tx", func() error {
		var err error
		tx, err = p.sequencer.FindTx(ctx, msg)
		return err
	})
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, sequencer.ErrNotFound) {
		return ir.SequencedTx{}, err
	}

	si, err := p.sequencer.BuildAndSign(msg)
	if err != nil {
		return ir.SequencedTx{}, fmt.Errorf("build interaction: %w", err)
	}

	err = p.retry.do(ctx, "sequencer.write_interaction", func() error {
		var err error
		tx, err = p.sequencer.WriteInteraction(ctx, si)
		return err
	})
	if err != nil {
		return ir.SequencedTx{}, err
	}
	return tx, nil
}

// execute step 4: select a node, fetch the outbox, mark the record
// executed.
func (p *Processor) execute(ctx context.Context, msg ir.Message, tx ir.SequencedTx) (Outcome, error) {
	node, err := p.selector.Select(ctx, msg.ProcessID)
	if err != nil {
		perr := newError(StageExecution, msg, err)
		p.noteError(ctx, msg, perr)
		return Outcome{}, p.fail(perr)
	}

	var outbox []ir.Message
	err = p.retry.do(ctx, "compute.fetch_messages", func() error {
		var err error
		outbox, err = p.compute.FetchMessages(ctx, node, msg.ProcessID, tx)
		return err
	})
	if err != nil {
		perr := newError(StageExecution, msg, err)
		if perr.Kind == KindComputeError {
			p.markFailed(ctx, msg, perr)
		} else {
			p.noteError(ctx, msg, perr)
		}
		return Outcome{}, p.fail(perr)
	}
	if outbox == nil {
		outbox = []ir.Message{}
	}

	status := ir.StatusExecuted
	empty := ""
	if err := p.cache.UpdateMessage(ctx, msg.ID, ir.RecordPatch{
		Status:    &status,
		Outbox:    outbox,
		LastError: &empty,
		ErrorKind: &empty,
	}); err != nil {
		return Outcome{}, p.fail(newError(StageExecution, msg, fmt.Errorf("mark executed: %w", err)))
	}

	metrics.MessagesProcessed.WithLabelValues("executed").Inc()
	slog.Info("message executed",
		"message_id", msg.ID,
		"process_id", msg.ProcessID,
		"tx_id", tx.TxID,
		"node", node.Name,
		"outbox", len(outbox),
	)
	return Outcome{Tx: tx, Outbox: outbox}, nil
}

// markFailed freezes the record with the error.
func (p *Processor) markFailed(ctx context.Context, msg ir.Message, perr *Error) {
	status := ir.StatusFailed
	p.patchError(ctx, msg, perr, &status)
}

// noteError records the error on the record without changing its status,
// so a later delivery retries the step.
func (p *Processor) noteError(ctx context.Context, msg ir.Message, perr *Error) {
	p.patchError(ctx, msg, perr, nil)
}

func (p *Processor) patchError(ctx context.Context, msg ir.Message, perr *Error, status *ir.Status) {
	lastErr := perr.Message
	if perr.Err != nil {
		lastErr = perr.Err.Error()
	}
	kind := string(perr.Kind)
	err := p.cache.UpdateMessage(ctx, msg.ID, ir.RecordPatch{
		Status:    status,
		LastError: &lastErr,
		ErrorKind: &kind,
	})
	if err != nil {
		slog.Error("failed to record message error",
			"message_id", msg.ID,
			"error_kind", kind,
			"error", err,
		)
	}
}

// fail counts and logs a processor failure and returns it.
func (p *Processor) fail(perr *Error) error {
	metrics.MessagesProcessed.WithLabelValues(string(perr.Kind)).Inc()
	level := slog.LevelWarn
	if perr.Kind == KindInternal {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, "message processing failed",
		"message_id", perr.MessageID,
		"process_id", perr.ProcessID,
		"stage", perr.Stage,
		"kind", perr.Kind,
		"cached", perr.Cached,
		"error", perr,
	)
	return perr
}
