package harness

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/murelay/internal/compute"
	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/nodes"
)

// program is an in-process compute node driven by a scenario.
type program struct {
	behavior map[string]Behavior

	mu      sync.Mutex
	fetches map[string]int
}

func newProgram(b map[string]Behavior) *program {
	return &program{behavior: b, fetches: make(map[string]int)}
}

// FetchMessages implements engine.Compute.
func (p *program) FetchMessages(_ context.Context, _ nodes.Node, processID string, tx ir.SequencedTx) ([]ir.Message, error) {
	p.mu.Lock()
	p.fetches[processID]++
	n := p.fetches[processID]
	p.mu.Unlock()

	b := p.behavior[processID]
	if n <= b.Unavailable {
		return nil, fmt.Errorf("%w: fetch %d for %s", compute.ErrUnavailable, n, processID)
	}
	if b.Error != "" {
		return nil, fmt.Errorf("%w: %s", compute.ErrExecution, b.Error)
	}

	outbox := make([]ir.Message, 0, len(b.Replies))
	for _, r := range b.Replies {
		m, err := ir.WithID(ir.Message{
			ProcessID: r.Process,
			Data:      r.Data,
			Owner:     processID,
			Tags:      []ir.Tag{{Name: ir.TagType, Value: ir.TypeMessage}},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", compute.ErrExecution, err)
		}
		outbox = append(outbox, m)
	}
	return outbox, nil
}

func (p *program) fetchCount(processID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches[processID]
}

// singleNode routes every process to one node.
type singleNode struct{}

func (singleNode) Select(context.Context, string) (nodes.Node, error) {
	return nodes.Node{Name: "harness", URL: "http://harness.invalid"}, nil
}
