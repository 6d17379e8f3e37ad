package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/metrics"
	"github.com/roach88/murelay/internal/store"
)

const (
	// DefaultMaxDepth bounds how far below the root a crank expands.
	DefaultMaxDepth = 64

	// DefaultMaxNodes bounds how many messages one crank processes.
	DefaultMaxNodes = 1000

	// DefaultConcurrency bounds sibling messages processed at once.
	DefaultConcurrency = 8
)

// Cranker drives the cascade of outbox messages a root message causes.
//
// The cascade is walked breadth-first as a worklist. Each wave (every
// item queued when the wave starts) is processed concurrently; outboxes
// produced by the wave form the next wave. A failed node does not stop
// its siblings.
//
// Thread-safety: safe for concurrent use. Each crank has its own
// worklist, visited set and quota.
type Cranker struct {
	proc        *Processor
	concurrency int
	maxDepth    int
	maxNodes    int
	ids         CrankIDGenerator
}

// CrankerOption configures a Cranker.
type CrankerOption func(*Cranker)

// WithConcurrency sets how many siblings may be processed at once.
// Values below 1 mean 1.
func WithConcurrency(n int) CrankerOption {
	return func(c *Cranker) {
		if n < 1 {
			n = 1
		}
		c.concurrency = n
	}
}

// WithMaxDepth sets the depth limit. The root has depth 0.
func WithMaxDepth(n int) CrankerOption {
	return func(c *Cranker) {
		c.maxDepth = n
	}
}

// WithMaxNodes sets the limit on processed nodes, root included.
func WithMaxNodes(n int) CrankerOption {
	return func(c *Cranker) {
		c.maxNodes = n
	}
}

// WithIDGenerator sets the crank id generator.
//
// Default: UUIDv7Generator
// Use NewFixedGenerator in tests for deterministic ids.
func WithIDGenerator(g CrankIDGenerator) CrankerOption {
	return func(c *Cranker) {
		c.ids = g
	}
}

// NewCranker creates a Cranker on top of p.
func NewCranker(p *Processor, opts ...CrankerOption) *Cranker {
	c := &Cranker{
		proc:        p,
		concurrency: DefaultConcurrency,
		maxDepth:    DefaultMaxDepth,
		maxNodes:    DefaultMaxNodes,
		ids:         UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run initiates msg and cranks its outbox.
//
// Errors processing msg itself are returned as-is; there is no tree to
// report. Errors below the root are recorded in the result.
func (c *Cranker) Run(ctx context.Context, msg ir.Message) (*CrankResult, error) {
	out, err := c.proc.Initiate(ctx, msg)
	if err != nil {
		return nil, err
	}
	return c.crank(ctx, rootNode(msg, out), out.Outbox), nil
}

// Resume re-drives the cascade of a stored message.
//
// An executed record is cranked from its stored outbox. A pending or
// sequenced record is processed first. A failed record returns its
// recorded error.
func (c *Cranker) Resume(ctx context.Context, messageID string) (*CrankResult, error) {
	rec, err := c.proc.cache.FindMessage(ctx, messageID)
	if err != nil {
		kind := KindInternal
		if errors.Is(err, store.ErrNotFound) {
			kind = KindNotFound
		}
		return nil, &Error{
			Kind:      kind,
			Stage:     StageCrank,
			MessageID: messageID,
			Message:   fmt.Sprintf("resume %s: %v", messageID, err),
			Err:       err,
		}
	}

	msg := rec.Message
	if msg.ID == "" {
		msg.ID = rec.MessageID
	}
	out, err := c.proc.ProcessMsg(ctx, msg)
	if err != nil {
		return nil, err
	}

	slog.Info("resuming crank",
		"message_id", msg.ID,
		"process_id", msg.ProcessID,
		"status", rec.Status,
		"outbox", len(out.Outbox),
	)
	return c.crank(ctx, rootNode(msg, out), out.Outbox), nil
}

// Crank processes outbox as the cascade of an already processed root.
func (c *Cranker) Crank(ctx context.Context, root ir.Message, outbox []ir.Message) *CrankResult {
	return c.crank(ctx, rootNode(root, Outcome{Outbox: outbox}), outbox)
}

func rootNode(msg ir.Message, out Outcome) CrankNode {
	id := msg.ID
	if withID, err := ir.WithID(msg); err == nil {
		id = withID.ID
	}
	return CrankNode{
		MessageID:      id,
		ProcessID:      msg.ProcessID,
		TxID:           out.Tx.TxID,
		SequenceNumber: out.Tx.SequenceNumber,
		Cached:         out.Cached,
		Outbox:         len(out.Outbox),
	}
}

// wave item admitted for processing
type admitted struct {
	idx int
	msg ir.Message
}

func (c *Cranker) crank(ctx context.Context, root CrankNode, outbox []ir.Message) *CrankResult {
	start := time.Now()
	res := &CrankResult{CrankID: c.ids.Generate(), Warnings: []string{}}

	quota := newNodeQuota(res.CrankID, c.maxDepth, c.maxNodes)
	seen := newVisitedSet(c.maxNodes)

	_ = quota.Admit(0)
	root.Index, root.Parent, root.Depth = 0, -1, 0
	root.Children = []int{}
	res.Nodes = append(res.Nodes, root)
	seen.Visit(root.MessageID, 0)

	q := newWorkQueue()
	for _, m := range outbox {
		q.Enqueue(workItem{parent: 0, depth: 1, msg: m})
	}

	warned := make(map[string]bool)
	for q.Len() > 0 {
		var (
			batch    []admitted
			revisits []int
		)
		for _, it := range q.DrainWave() {
			idx := len(res.Nodes)
			node := CrankNode{
				Index:     idx,
				Parent:    it.parent,
				Depth:     it.depth,
				MessageID: it.msg.ID,
				ProcessID: it.msg.ProcessID,
				Children:  []int{},
			}
			if withID, err := ir.WithID(it.msg); err == nil {
				node.MessageID = withID.ID
			}
			res.Nodes[it.parent].Children = append(res.Nodes[it.parent].Children, idx)

			if first, ok := seen.Seen(node.MessageID); ok && node.MessageID != "" {
				node.Revisited = true
				node.RevisitOf = first
				res.Nodes = append(res.Nodes, node)
				revisits = append(revisits, idx)
				slog.Debug("crank revisited message",
					"crank_id", res.CrankID,
					"message_id", node.MessageID,
					"first", first,
				)
				continue
			}

			if err := quota.Admit(it.depth); err != nil {
				node.Error = nodeError(err)
				res.Nodes = append(res.Nodes, node)
				var le *LimitExceededError
				if errors.As(err, &le) && !warned[le.Limit] {
					warned[le.Limit] = true
					res.Warnings = append(res.Warnings, err.Error())
					slog.Warn("crank truncated",
						"crank_id", res.CrankID,
						"limit", le.Limit,
						"max", le.Max,
					)
				}
				continue
			}

			if node.MessageID != "" {
				seen.Visit(node.MessageID, idx)
			}
			res.Nodes = append(res.Nodes, node)
			batch = append(batch, admitted{idx: idx, msg: it.msg})
		}

		outcomes := make([]Outcome, len(batch))
		errs := make([]error, len(batch))

		var g errgroup.Group
		g.SetLimit(c.concurrency)
		for i, a := range batch {
			g.Go(func() error {
				outcomes[i], errs[i] = c.proc.ProcessMsg(ctx, a.msg)
				return nil
			})
		}
		_ = g.Wait()

		for i, a := range batch {
			node := &res.Nodes[a.idx]
			if errs[i] != nil {
				node.Error = nodeError(errs[i])
				continue
			}
			out := outcomes[i]
			node.TxID = out.Tx.TxID
			node.SequenceNumber = out.Tx.SequenceNumber
			node.Cached = out.Cached
			node.Outbox = len(out.Outbox)
			for _, m := range out.Outbox {
				q.Enqueue(workItem{parent: a.idx, depth: node.Depth + 1, msg: m})
			}
		}

		// A revisit answers with its first occurrence's tx. The first
		// occurrence is in this wave or an earlier one, so it is settled.
		for _, idx := range revisits {
			node := &res.Nodes[idx]
			first := res.Nodes[node.RevisitOf]
			node.TxID = first.TxID
			node.SequenceNumber = first.SequenceNumber
			node.Cached = first.TxID != ""
		}
	}

	res.summarize()

	metrics.CrankNodes.Observe(float64(len(res.Nodes)))
	metrics.CrankDuration.WithLabelValues(string(res.Status)).Observe(time.Since(start).Seconds())
	slog.Info("crank finished",
		"crank_id", res.CrankID,
		"root", root.MessageID,
		"status", res.Status,
		"nodes", len(res.Nodes),
		"processed", quota.Used(),
		"failures", len(res.Failures()),
		"duration", time.Since(start),
	)
	return res
}
