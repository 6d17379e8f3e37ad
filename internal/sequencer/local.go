package sequencer

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/signer"
)

// Local is an in-process sequencing authority.
//
// Each process has its own lock, nonce and hash chain. The first
// interaction on a process gets nonce 1 and a chain seeded with the
// process id. Writing an interaction whose message is already sequenced
// returns the existing tx.
type Local struct {
	signer *signer.Signer
	now    func() time.Time

	mu    sync.Mutex // guards procs
	procs map[string]*schedule
}

// schedule is the ordering state of one process.
type schedule struct {
	mu        sync.Mutex
	epoch     int64
	nonce     int64
	hashChain string
	latest    ir.SequencedTx
	byMessage map[string]ir.SequencedTx
}

// LocalOption configures a Local authority.
type LocalOption func(*Local)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		l.now = now
	}
}

// NewLocal creates an empty authority that signs with s.
func NewLocal(s *signer.Signer, opts ...LocalOption) *Local {
	l := &Local{
		signer: s,
		now:    time.Now,
		procs:  make(map[string]*schedule),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) schedule(processID string) *schedule {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc, ok := l.procs[processID]
	if !ok {
		sc = &schedule{byMessage: make(map[string]ir.SequencedTx)}
		l.procs[processID] = sc
	}
	return sc
}

// FindTx returns the tx assigned to msg, or ErrNotFound.
func (l *Local) FindTx(ctx context.Context, msg ir.Message) (ir.SequencedTx, error) {
	sc := l.schedule(msg.ProcessID)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	tx, ok := sc.byMessage[msg.ID]
	if !ok {
		return ir.SequencedTx{}, ErrNotFound
	}
	return tx, nil
}

// BuildAndSign signs msg with the authority's key.
func (l *Local) BuildAndSign(msg ir.Message) (ir.SignedInteraction, error) {
	return BuildAndSign(l.signer, msg)
}

// WriteInteraction verifies and sequences si.
func (l *Local) WriteInteraction(ctx context.Context, si ir.SignedInteraction) (ir.SequencedTx, error) {
	if err := ctx.Err(); err != nil {
		return ir.SequencedTx{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := VerifyInteraction(si); err != nil {
		return ir.SequencedTx{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err := ir.ValidateMessage(si.Message); err != nil {
		return ir.SequencedTx{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	msg := si.Message
	sc := l.schedule(msg.ProcessID)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if tx, ok := sc.byMessage[msg.ID]; ok {
		return tx, nil
	}

	prev := sc.hashChain
	if prev == "" {
		prev = msg.ProcessID
	}
	chain := nextHashChain(prev, msg.ID)
	nonce := sc.nonce + 1

	txID, err := ir.TxID(msg.ProcessID, msg.ID, nonce, chain)
	if err != nil {
		return ir.SequencedTx{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	tx := ir.SequencedTx{
		MessageID:      msg.ID,
		ProcessID:      msg.ProcessID,
		TxID:           txID,
		SequenceNumber: nonce,
		Epoch:          sc.epoch,
		HashChain:      chain,
		Timestamp:      l.now().UnixMilli(),
	}
	sc.nonce = nonce
	sc.hashChain = chain
	sc.latest = tx
	sc.byMessage[msg.ID] = tx

	slog.Debug("interaction sequenced",
		"process_id", msg.ProcessID,
		"message_id", msg.ID,
		"nonce", nonce,
		"tx_id", txID,
	)
	return tx, nil
}

// Latest returns the most recent tx on a process, or ErrNotFound.
func (l *Local) Latest(processID string) (ir.SequencedTx, error) {
	sc := l.schedule(processID)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.nonce == 0 {
		return ir.SequencedTx{}, ErrNotFound
	}
	return sc.latest, nil
}

// nextHashChain computes base64url(SHA256(prev || messageID)).
func nextHashChain(prev, messageID string) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte(messageID))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
