package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/murelay/internal/compute"
	"github.com/roach88/murelay/internal/ir"
)

func newTestCranker(p *pipeline, opts ...CrankerOption) *Cranker {
	opts = append([]CrankerOption{WithIDGenerator(NewFixedGenerator("crank-1", "crank-2", "crank-3"))}, opts...)
	return NewCranker(p.proc, opts...)
}

// TestRun_FanOutToOtherProcesses covers the basic cascade: m1 on P emits
// m2 for Q and m3 for R.
func TestRun_FanOutToOtherProcesses(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p)
	ctx := context.Background()

	m1 := testMessage(t, "P", "m1")
	m2 := testMessage(t, "Q", "m2")
	m3 := testMessage(t, "R", "m3")
	p.compute.emit(m1, m2, m3)

	res, err := c.Run(ctx, m1)
	require.NoError(t, err)

	assert.Equal(t, "crank-1", res.CrankID)
	assert.Equal(t, CrankOK, res.Status)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Nodes, 3)

	root := res.Root()
	require.NotNil(t, root)
	assert.Equal(t, m1.ID, root.MessageID)
	assert.Equal(t, -1, root.Parent)
	assert.Equal(t, []int{1, 2}, root.Children)
	assert.Equal(t, 2, root.Outbox)

	assert.Equal(t, m2.ID, res.Nodes[1].MessageID)
	assert.Equal(t, "Q", res.Nodes[1].ProcessID)
	assert.Equal(t, 1, res.Nodes[1].Depth)
	assert.Equal(t, m3.ID, res.Nodes[2].MessageID)

	latestP, err := p.cache.FindLatestTx(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, root.TxID, latestP.TxID, "P only advanced for m1")
	assert.Equal(t, int64(1), latestP.SequenceNumber)

	for _, pid := range []string{"Q", "R"} {
		latest, err := p.cache.FindLatestTx(ctx, pid)
		require.NoError(t, err)
		assert.Equal(t, int64(1), latest.SequenceNumber)
	}

	for _, m := range []ir.Message{m1, m2, m3} {
		assert.Equal(t, ir.StatusExecuted, record(t, p, m).Status)
	}
}

func TestRun_SecondRunIsCached(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p)
	ctx := context.Background()

	m1 := testMessage(t, "P", "m1")
	m2 := testMessage(t, "Q", "m2")
	p.compute.emit(m1, m2)

	_, err := c.Run(ctx, m1)
	require.NoError(t, err)

	res, err := c.Run(ctx, m1)
	require.NoError(t, err)
	assert.Equal(t, "crank-2", res.CrankID)
	require.Len(t, res.Nodes, 2)
	assert.True(t, res.Nodes[0].Cached)
	assert.True(t, res.Nodes[1].Cached)

	_, writes := p.seq.counts()
	assert.Equal(t, 2, writes)
	assert.Equal(t, 1, p.compute.callsFor(m1))
	assert.Equal(t, 1, p.compute.callsFor(m2))
}

func TestRun_RootFailureReturnsError(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p)

	m1 := testMessage(t, "P", "m1")
	p.compute.failWith(m1, compute.ErrExecution)

	res, err := c.Run(context.Background(), m1)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrExecutionFailed)
}

func TestCrank_CycleIsNotReexpanded(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p)

	m1 := testMessage(t, "P", "ping")
	m2 := testMessage(t, "Q", "pong")
	p.compute.emit(m1, m2)
	p.compute.emit(m2, m1)

	res, err := c.Run(context.Background(), m1)
	require.NoError(t, err)

	require.Len(t, res.Nodes, 3)
	assert.Equal(t, CrankOK, res.Status)

	revisit := res.Nodes[2]
	assert.True(t, revisit.Revisited)
	assert.Equal(t, 0, revisit.RevisitOf)
	assert.Equal(t, m1.ID, revisit.MessageID)
	assert.Empty(t, revisit.Children)
	assert.Equal(t, res.Nodes[0].TxID, revisit.TxID, "revisit shows the first occurrence's tx")
	assert.Equal(t, res.Nodes[0].SequenceNumber, revisit.SequenceNumber)
	assert.True(t, revisit.Cached)
	assert.False(t, revisit.Failed())

	assert.Equal(t, 1, p.compute.callsFor(m1))
	assert.Equal(t, 1, p.compute.callsFor(m2))
}

func TestCrank_DuplicateSiblingsVisitedOnce(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p)

	m1 := testMessage(t, "P", "root")
	dup := testMessage(t, "Q", "same")
	p.compute.emit(m1, dup, dup)

	res, err := c.Run(context.Background(), m1)
	require.NoError(t, err)

	require.Len(t, res.Nodes, 3)
	assert.False(t, res.Nodes[1].Revisited)
	assert.True(t, res.Nodes[2].Revisited)
	assert.Equal(t, 1, res.Nodes[2].RevisitOf)
	assert.NotEmpty(t, res.Nodes[2].TxID, "a same-wave revisit is filled after the wave")
	assert.Equal(t, res.Nodes[1].TxID, res.Nodes[2].TxID)
	assert.Equal(t, res.Nodes[1].SequenceNumber, res.Nodes[2].SequenceNumber)
	assert.Equal(t, 1, p.compute.callsFor(dup))
}

func TestCrank_SiblingFailureIsIsolated(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p)

	root := testMessage(t, "P", "root")
	a := testMessage(t, "A", "a")
	b := testMessage(t, "B", "b")
	cc := testMessage(t, "C", "c")
	d := testMessage(t, "D", "d")
	p.compute.emit(root, a, b, cc)
	p.compute.emit(a, d)
	p.compute.failWith(b, fmt.Errorf("%w: trap", compute.ErrExecution))

	res, err := c.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, CrankPartial, res.Status)
	require.Len(t, res.Nodes, 5)

	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, []string{root.ID, b.ID}, failures[0].Path)
	require.NotNil(t, failures[0].Node.Error)
	assert.Equal(t, KindComputeError, failures[0].Node.Error.Kind)
	assert.Equal(t, StageExecution, failures[0].Node.Error.Stage)

	assert.Equal(t, ir.StatusExecuted, record(t, p, cc).Status)
	assert.Equal(t, ir.StatusExecuted, record(t, p, d).Status, "grandchild of a healthy sibling still runs")
	assert.Equal(t, ir.StatusFailed, record(t, p, b).Status)
}

func TestCrank_AllChildrenFailed(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p)

	root := testMessage(t, "P", "root")
	a := testMessage(t, "A", "a")
	p.compute.emit(root, a)
	p.compute.failWith(a, compute.ErrExecution)

	res, err := c.Run(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, CrankFailed, res.Status)
}

// chain makes every message emit one new message on the same process.
func chain(tx ir.SequencedTx) []ir.Message {
	return []ir.Message{{
		ProcessID: tx.ProcessID,
		Data:      "after " + tx.MessageID,
		Owner:     "owner-1",
		Tags:      []ir.Tag{{Name: ir.TagType, Value: ir.TypeMessage}},
	}}
}

func TestCrank_DepthLimit(t *testing.T) {
	p := newPipeline(t)
	p.compute.next = chain
	c := newTestCranker(p, WithMaxDepth(3))

	res, err := c.Run(context.Background(), testMessage(t, "P", "start"))
	require.NoError(t, err)

	// Depths 0..3 run; the depth-4 node is truncated.
	require.Len(t, res.Nodes, 5)
	last := res.Nodes[4]
	assert.Equal(t, 4, last.Depth)
	require.NotNil(t, last.Error)
	assert.Equal(t, KindCrankDepthExceeded, last.Error.Kind)
	assert.Equal(t, StageCrank, last.Error.Stage)

	assert.Equal(t, CrankPartial, res.Status)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "depth")

	latest, err := p.cache.FindLatestTx(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest.SequenceNumber, "the truncated node is never sequenced")
}

func TestCrank_NodeLimit(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p, WithMaxNodes(3))

	root := testMessage(t, "P", "root")
	var outbox []ir.Message
	for i := range 5 {
		outbox = append(outbox, testMessage(t, "Q", fmt.Sprintf("child-%d", i)))
	}
	p.compute.emit(root, outbox...)

	res, err := c.Run(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, res.Nodes, 6)
	processed, truncated := 0, 0
	for _, n := range res.Nodes[1:] {
		if n.Failed() {
			assert.Equal(t, KindCrankDepthExceeded, n.Error.Kind)
			truncated++
		} else {
			processed++
		}
	}
	assert.Equal(t, 2, processed)
	assert.Equal(t, 3, truncated)
	require.Len(t, res.Warnings, 1, "one warning per limit")
	assert.Contains(t, res.Warnings[0], "nodes")
}

func TestCrank_SerialAndConcurrentAgree(t *testing.T) {
	build := func(t *testing.T, concurrency int) *CrankResult {
		p := newPipeline(t)
		c := newTestCranker(p, WithConcurrency(concurrency))

		root := testMessage(t, "P", "root")
		var kids []ir.Message
		for i := range 6 {
			kid := testMessage(t, fmt.Sprintf("K%d", i), "kid")
			kids = append(kids, kid)
			p.compute.emit(kid, testMessage(t, "Z", fmt.Sprintf("leaf-%d", i)))
		}
		p.compute.emit(root, kids...)

		res, err := c.Run(context.Background(), root)
		require.NoError(t, err)
		return res
	}

	serial := build(t, 1)
	parallel := build(t, 4)

	require.Len(t, parallel.Nodes, len(serial.Nodes))
	for i := range serial.Nodes {
		assert.Equal(t, serial.Nodes[i].MessageID, parallel.Nodes[i].MessageID, "node %d", i)
		assert.Equal(t, serial.Nodes[i].Children, parallel.Nodes[i].Children, "node %d", i)
	}
	assert.Equal(t, CrankOK, parallel.Status)
}

func TestCrank_ExplicitOutbox(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p)

	root := testMessage(t, "P", "root")
	child := testMessage(t, "Q", "child")

	res := c.Crank(context.Background(), root, []ir.Message{child})
	require.Len(t, res.Nodes, 2)
	assert.Equal(t, root.ID, res.Nodes[0].MessageID)
	assert.Equal(t, ir.StatusExecuted, record(t, p, child).Status)
}

func TestResume_FinishesInterruptedCascade(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p)
	ctx := context.Background()

	root := testMessage(t, "P", "root")
	child := testMessage(t, "Q", "child")
	grandchild := testMessage(t, "R", "grandchild")
	p.compute.emit(root, child)
	p.compute.emit(child, grandchild)
	p.compute.failWith(child, compute.ErrUnavailable)

	first, err := c.Run(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, CrankFailed, first.Status)
	assert.Equal(t, ir.StatusSequenced, record(t, p, child).Status)

	res, err := c.Resume(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, CrankOK, res.Status)
	require.Len(t, res.Nodes, 3)
	assert.True(t, res.Nodes[0].Cached)
	assert.Equal(t, grandchild.ID, res.Nodes[2].MessageID)

	assert.Equal(t, ir.StatusExecuted, record(t, p, child).Status)
	assert.Equal(t, 1, p.compute.callsFor(root))
}

func TestResume_PendingRecordIsProcessed(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p)
	ctx := context.Background()

	m := testMessage(t, "P", "stranded")
	require.NoError(t, p.cache.SaveMessage(ctx, ir.CacheRecord{
		MessageID: m.ID,
		ProcessID: m.ProcessID,
		Status:    ir.StatusPending,
		Message:   m,
	}))

	res, err := c.Resume(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, CrankOK, res.Status)
	assert.Equal(t, ir.StatusExecuted, record(t, p, m).Status)
}

func TestResume_UnknownMessage(t *testing.T) {
	p := newPipeline(t)
	c := newTestCranker(p)

	_, err := c.Resume(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, Classify(err))
}
