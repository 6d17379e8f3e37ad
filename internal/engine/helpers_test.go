package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/nodes"
	"github.com/roach88/murelay/internal/sequencer"
	"github.com/roach88/murelay/internal/signer"
	"github.com/roach88/murelay/internal/store"
)

// fastRetry keeps retry tests quick while still exercising backoff.
var fastRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

// countingSequencer wraps a sequencer and counts calls. Queued errors are
// returned by WriteInteraction before reaching the inner sequencer.
type countingSequencer struct {
	inner Sequencer

	mu        sync.Mutex
	finds     int
	writes    int
	writeErrs []error
}

func (s *countingSequencer) FindTx(ctx context.Context, msg ir.Message) (ir.SequencedTx, error) {
	s.mu.Lock()
	s.finds++
	s.mu.Unlock()
	return s.inner.FindTx(ctx, msg)
}

func (s *countingSequencer) BuildAndSign(msg ir.Message) (ir.SignedInteraction, error) {
	return s.inner.BuildAndSign(msg)
}

func (s *countingSequencer) WriteInteraction(ctx context.Context, si ir.SignedInteraction) (ir.SequencedTx, error) {
	s.mu.Lock()
	s.writes++
	if len(s.writeErrs) > 0 {
		err := s.writeErrs[0]
		s.writeErrs = s.writeErrs[1:]
		s.mu.Unlock()
		return ir.SequencedTx{}, err
	}
	s.mu.Unlock()
	return s.inner.WriteInteraction(ctx, si)
}

func (s *countingSequencer) counts() (finds, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds, s.writes
}

// fakeCompute serves outboxes keyed by message id and counts fetches.
type fakeCompute struct {
	mu       sync.Mutex
	outboxes map[string][]ir.Message
	errs     map[string][]error
	calls    map[string]int
	lastTx   map[string]ir.SequencedTx

	// next, when set, produces the outbox of messages without an entry.
	next func(tx ir.SequencedTx) []ir.Message
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{
		outboxes: make(map[string][]ir.Message),
		errs:     make(map[string][]error),
		calls:    make(map[string]int),
		lastTx:   make(map[string]ir.SequencedTx),
	}
}

func (c *fakeCompute) emit(parent ir.Message, outbox ...ir.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outboxes[parent.ID] = outbox
}

func (c *fakeCompute) failWith(msg ir.Message, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[msg.ID] = append(c.errs[msg.ID], errs...)
}

func (c *fakeCompute) FetchMessages(ctx context.Context, node nodes.Node, processID string, tx ir.SequencedTx) ([]ir.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[tx.MessageID]++
	c.lastTx[tx.MessageID] = tx
	if queued := c.errs[tx.MessageID]; len(queued) > 0 {
		c.errs[tx.MessageID] = queued[1:]
		return nil, queued[0]
	}
	if out, ok := c.outboxes[tx.MessageID]; ok {
		return out, nil
	}
	if c.next != nil {
		return c.next(tx), nil
	}
	return []ir.Message{}, nil
}

func (c *fakeCompute) callsFor(msg ir.Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[msg.ID]
}

type fixedSelector struct {
	node nodes.Node
	err  error
}

func (s fixedSelector) Select(ctx context.Context, processID string) (nodes.Node, error) {
	if s.err != nil {
		return nodes.Node{}, s.err
	}
	return s.node, nil
}

// pipeline bundles a processor with its collaborators.
type pipeline struct {
	cache   *store.Store
	local   *sequencer.Local
	seq     *countingSequencer
	compute *fakeCompute
	proc    *Processor
}

func newPipeline(t *testing.T, opts ...ProcessorOption) *pipeline {
	t.Helper()
	return newPipelineWithSelector(t, fixedSelector{node: nodes.Node{Name: "cu-1", URL: "http://cu-1.test"}}, opts...)
}

func newPipelineWithSelector(t *testing.T, sel NodeSelector, opts ...ProcessorOption) *pipeline {
	t.Helper()

	cache, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	s, err := signer.Generate()
	require.NoError(t, err)
	local := sequencer.NewLocal(s)
	seq := &countingSequencer{inner: local}
	comp := newFakeCompute()

	opts = append([]ProcessorOption{WithRetryPolicy(NoRetry)}, opts...)
	return &pipeline{
		cache:   cache,
		local:   local,
		seq:     seq,
		compute: comp,
		proc:    NewProcessor(cache, seq, comp, sel, opts...),
	}
}

// testMessage builds a message with its content id filled in.
func testMessage(t *testing.T, processID, data string) ir.Message {
	t.Helper()
	m, err := ir.WithID(ir.Message{
		ProcessID: processID,
		Data:      data,
		Owner:     "owner-1",
		Tags:      []ir.Tag{{Name: ir.TagType, Value: ir.TypeMessage}},
	})
	require.NoError(t, err)
	return m
}

func record(t *testing.T, p *pipeline, m ir.Message) ir.CacheRecord {
	t.Helper()
	rec, err := p.cache.FindMessage(context.Background(), m.ID)
	require.NoError(t, err)
	return rec
}
