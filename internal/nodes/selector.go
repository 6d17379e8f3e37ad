package nodes

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/roach88/murelay/internal/store"
)

// ErrNoNodeAvailable means no node can serve the process.
var ErrNoNodeAvailable = errors.New("no compute node available")

// PinStore persists process-to-node pins.
type PinStore interface {
	FindProcessNode(ctx context.Context, processID string) (string, error)
	SaveProcessNode(ctx context.Context, processID, node string) error
}

// Selector picks the node for a process.
type Selector struct {
	nodes  []Node
	byName map[string]Node
	pins   map[string]string
	store  PinStore
}

// NewSelector builds a selector over table. ps may be nil, in which case
// only the table's own pins apply.
func NewSelector(table Table, ps PinStore) (*Selector, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	s := &Selector{
		nodes:  append([]Node(nil), table.Nodes...),
		byName: make(map[string]Node, len(table.Nodes)),
		pins:   make(map[string]string, len(table.Pins)),
		store:  ps,
	}
	sort.Slice(s.nodes, func(i, j int) bool { return s.nodes[i].Name < s.nodes[j].Name })
	for _, n := range s.nodes {
		s.byName[n.Name] = n
	}
	for pid, name := range table.Pins {
		s.pins[pid] = name
	}
	return s, nil
}

// SeedPins writes the table's pins to the pin store.
func (s *Selector) SeedPins(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	for pid, name := range s.pins {
		if err := s.store.SaveProcessNode(ctx, pid, name); err != nil {
			return fmt.Errorf("seed pin %s: %w", pid, err)
		}
	}
	return nil
}

// Nodes returns the table's nodes sorted by name.
func (s *Selector) Nodes() []Node {
	return append([]Node(nil), s.nodes...)
}

// Select returns the node for processID. It does not write.
func (s *Selector) Select(ctx context.Context, processID string) (Node, error) {
	if n, ok := s.pinned(ctx, processID); ok {
		return n, nil
	}
	if len(s.nodes) == 0 {
		return Node{}, fmt.Errorf("%w: routing table is empty", ErrNoNodeAvailable)
	}
	return s.rendezvous(processID), nil
}

func (s *Selector) pinned(ctx context.Context, processID string) (Node, bool) {
	if s.store != nil {
		name, err := s.store.FindProcessNode(ctx, processID)
		switch {
		case err == nil:
			if n, ok := s.byName[name]; ok {
				return n, true
			}
			slog.Warn("process pinned to unknown node, falling back to hashing",
				"process_id", processID,
				"node", name,
			)
		case !errors.Is(err, store.ErrNotFound):
			slog.Warn("pin lookup failed, falling back to hashing",
				"process_id", processID,
				"error", err,
			)
		}
	}
	if name, ok := s.pins[processID]; ok {
		return s.byName[name], true
	}
	return Node{}, false
}

// rendezvous returns the node with the highest BLAKE3 score for
// processID. Ties go to the lexically smaller name.
func (s *Selector) rendezvous(processID string) Node {
	var (
		best      Node
		bestScore uint64
	)
	for i, n := range s.nodes {
		sc := score(n.Name, processID)
		if i == 0 || sc > bestScore {
			best, bestScore = n, sc
		}
	}
	return best
}

func score(nodeName, processID string) uint64 {
	h := blake3.New()
	h.Write([]byte(nodeName))
	h.Write([]byte{0x00})
	h.Write([]byte(processID))
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}
