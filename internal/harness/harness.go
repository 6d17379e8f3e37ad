package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/murelay/internal/engine"
	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/sequencer"
	"github.com/roach88/murelay/internal/signer"
	"github.com/roach88/murelay/internal/store"
)

// Harness wires one scenario's pipeline.
type Harness struct {
	store   *store.Store
	program *program
	cranker *engine.Cranker
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database. Crank ids are
// crank-1, crank-2 and so on, in the order cranks start.
func Run(scenario *Scenario) (*Result, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st, scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()
	h.executeFlow(ctx, scenario.Flow, result)

	for _, err := range h.evaluate(ctx, scenario.Assertions, result.Trace) {
		result.AddError("%s", err)
	}
	return result, nil
}

func newHarness(st *store.Store, scenario *Scenario) (*Harness, error) {
	key, err := signer.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	retry := engine.NoRetry
	if n := scenario.Limits.RetryAttempts; n > 1 {
		retry = engine.RetryPolicy{MaxAttempts: n, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	}

	prog := newProgram(scenario.Program)
	proc := engine.NewProcessor(st, sequencer.NewLocal(key), prog, singleNode{}, engine.WithRetryPolicy(retry))

	ids := make([]string, len(scenario.Flow))
	for i := range ids {
		ids[i] = fmt.Sprintf("crank-%d", i+1)
	}
	opts := []engine.CrankerOption{
		engine.WithIDGenerator(engine.NewFixedGenerator(ids...)),
		engine.WithConcurrency(max(scenario.Limits.Concurrency, 1)),
	}
	if n := scenario.Limits.MaxDepth; n > 0 {
		opts = append(opts, engine.WithMaxDepth(n))
	}
	if n := scenario.Limits.MaxNodes; n > 0 {
		opts = append(opts, engine.WithMaxNodes(n))
	}

	return &Harness{
		store:   st,
		program: prog,
		cranker: engine.NewCranker(proc, opts...),
	}, nil
}

// executeFlow runs every step in order. A failing expectation does not
// stop the flow.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) {
	roots := make([]string, len(flow))
	for i, step := range flow {
		var (
			res     *engine.CrankResult
			err     error
			process string
		)
		if step.Send != nil {
			msg := step.Send.Message()
			process = msg.ProcessID
			roots[i] = ir.MustMessageID(msg)
			res, err = h.cranker.Run(ctx, msg)
		} else {
			roots[i] = roots[*step.Resume]
			process = flow[*step.Resume].processID(flow)
			res, err = h.cranker.Resume(ctx, roots[i])
		}

		if err != nil {
			kind := engine.Classify(err)
			result.addRootError(i, process, kind)
			switch {
			case step.Expect == nil || step.Expect.Error == "":
				result.AddError("flow[%d]: root failed: %v", i, err)
			case step.Expect.Error != kind:
				result.AddError("flow[%d]: expected root error %s, got %s", i, step.Expect.Error, kind)
			}
			continue
		}

		result.addCrank(i, res)
		if step.Expect != nil {
			for _, msg := range checkExpect(step.Expect, res) {
				result.AddError("flow[%d]: %s", i, msg)
			}
		}
	}
}

// processID follows resume links back to the step that sent the root.
func (s FlowStep) processID(flow []FlowStep) string {
	for s.Send == nil {
		s = flow[*s.Resume]
	}
	return s.Send.Process
}

func checkExpect(e *Expect, res *engine.CrankResult) []string {
	var out []string
	if e.Error != "" {
		out = append(out, fmt.Sprintf("expected root error %s, crank finished %s", e.Error, res.Status))
	}
	if e.Status != "" && e.Status != res.Status {
		out = append(out, fmt.Sprintf("expected status %s, got %s", e.Status, res.Status))
	}
	if e.Nodes > 0 && e.Nodes != len(res.Nodes) {
		out = append(out, fmt.Sprintf("expected %d nodes, got %d", e.Nodes, len(res.Nodes)))
	}
	if e.Failures != nil && *e.Failures != len(res.Failures()) {
		out = append(out, fmt.Sprintf("expected %d failures, got %d", *e.Failures, len(res.Failures())))
	}
	if e.Cached != nil {
		cached := 0
		for _, n := range res.Nodes {
			if n.Cached {
				cached++
			}
		}
		if *e.Cached != cached {
			out = append(out, fmt.Sprintf("expected %d cached nodes, got %d", *e.Cached, cached))
		}
	}
	if e.Warnings != nil && *e.Warnings != len(res.Warnings) {
		out = append(out, fmt.Sprintf("expected %d warnings, got %d", *e.Warnings, len(res.Warnings)))
	}
	return out
}
