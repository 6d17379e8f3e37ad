package harness

import (
	"fmt"

	"github.com/roach88/murelay/internal/engine"
)

// TraceEvent is one crank node as seen by the harness.
type TraceEvent struct {
	Step    int    `json:"step"`
	Crank   string `json:"crank,omitempty"`
	Index   int    `json:"index"`
	Parent  int    `json:"parent"`
	Depth   int    `json:"depth"`
	Process string `json:"process"`
	Outcome string `json:"outcome"`
	Seq     int64  `json:"seq,omitempty"`
}

// Result holds the outcome of a scenario run.
type Result struct {
	Pass   bool
	Errors []string
	Trace  []TraceEvent

	// Cranks has one entry per flow step; nil where the root failed.
	Cranks []*engine.CrankResult
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
		Trace:  []TraceEvent{},
	}
}

// AddError marks the result failed.
func (r *Result) AddError(format string, args ...any) {
	r.Pass = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// addCrank appends res to the trace.
func (r *Result) addCrank(step int, res *engine.CrankResult) {
	r.Cranks = append(r.Cranks, res)
	res.Walk(func(n engine.CrankNode) {
		r.Trace = append(r.Trace, TraceEvent{
			Step:    step,
			Crank:   res.CrankID,
			Index:   n.Index,
			Parent:  n.Parent,
			Depth:   n.Depth,
			Process: n.ProcessID,
			Outcome: outcome(n),
			Seq:     n.SequenceNumber,
		})
	})
}

// addRootError records a step whose root message failed.
func (r *Result) addRootError(step int, processID string, kind engine.Kind) {
	r.Cranks = append(r.Cranks, nil)
	r.Trace = append(r.Trace, TraceEvent{
		Step:    step,
		Parent:  -1,
		Process: processID,
		Outcome: "error:" + string(kind),
	})
}

func outcome(n engine.CrankNode) string {
	switch {
	case n.Revisited:
		return "revisit"
	case n.Error != nil:
		return "failed:" + string(n.Error.Kind)
	case n.Cached:
		return "cached"
	default:
		return "executed"
	}
}
