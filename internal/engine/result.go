package engine

import "errors"

// CrankStatus summarizes how a crank went.
type CrankStatus string

const (
	// CrankOK means every node processed without error.
	CrankOK CrankStatus = "ok"

	// CrankPartial means some nodes failed and others succeeded.
	CrankPartial CrankStatus = "partial"

	// CrankFailed means every node below the root failed.
	CrankFailed CrankStatus = "failed"
)

// NodeError is the error recorded on a crank node.
type NodeError struct {
	Kind    Kind   `json:"kind"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Cached  bool   `json:"cached,omitempty"`
}

// nodeError flattens err for the result tree.
func nodeError(err error) *NodeError {
	var pe *Error
	if errors.As(err, &pe) {
		msg := pe.Message
		if msg == "" && pe.Err != nil {
			msg = pe.Err.Error()
		}
		return &NodeError{Kind: pe.Kind, Stage: pe.Stage, Message: msg, Cached: pe.Cached}
	}
	return &NodeError{Kind: Classify(err), Stage: StageCrank, Message: err.Error()}
}

// CrankNode is one message in a crank's result tree.
//
// Nodes live in CrankResult.Nodes; Parent and Children are indices into
// that slice. The root has index 0 and parent -1.
type CrankNode struct {
	Index          int        `json:"index"`
	Parent         int        `json:"parent"`
	Depth          int        `json:"depth"`
	MessageID      string     `json:"messageId"`
	ProcessID      string     `json:"processId"`
	TxID           string     `json:"txId,omitempty"`
	SequenceNumber int64      `json:"sequenceNumber,omitempty"`
	Cached         bool       `json:"cached,omitempty"`
	Revisited      bool       `json:"revisited,omitempty"`
	RevisitOf      int        `json:"revisitOf,omitempty"` // Index of the first occurrence; set only when Revisited
	Outbox         int        `json:"outbox"`              // Number of outbox entries the node produced
	Error          *NodeError `json:"error,omitempty"`
	Children       []int      `json:"children"`
}

// Failed reports whether the node carries an error.
func (n CrankNode) Failed() bool {
	return n.Error != nil
}

// CrankResult is the tree of everything one crank touched.
type CrankResult struct {
	CrankID  string      `json:"crankId"`
	Status   CrankStatus `json:"status"`
	Nodes    []CrankNode `json:"nodes"`
	Warnings []string    `json:"warnings"`
}

// Root returns the root node, or nil for an empty result.
func (r *CrankResult) Root() *CrankNode {
	if len(r.Nodes) == 0 {
		return nil
	}
	return &r.Nodes[0]
}

// Failure is a failed node with the message ids leading to it.
type Failure struct {
	Path []string  `json:"path"` // Root first, failed node last
	Node CrankNode `json:"node"`
}

// Failures returns every failed node in index order.
func (r *CrankResult) Failures() []Failure {
	var out []Failure
	for _, n := range r.Nodes {
		if !n.Failed() {
			continue
		}
		out = append(out, Failure{Path: r.path(n.Index), Node: n})
	}
	return out
}

func (r *CrankResult) path(idx int) []string {
	var rev []string
	for i := idx; i >= 0; i = r.Nodes[i].Parent {
		rev = append(rev, r.Nodes[i].MessageID)
	}
	path := make([]string, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = id
	}
	return path
}

// Walk visits the tree depth-first, parents before children.
func (r *CrankResult) Walk(fn func(n CrankNode)) {
	if len(r.Nodes) == 0 {
		return
	}
	var visit func(idx int)
	visit = func(idx int) {
		n := r.Nodes[idx]
		fn(n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(0)
}

// summarize derives Status from the nodes.
func (r *CrankResult) summarize() {
	failed, total := 0, 0
	for _, n := range r.Nodes {
		if n.Index == 0 {
			if n.Failed() {
				r.Status = CrankFailed
				return
			}
			continue
		}
		total++
		if n.Failed() {
			failed++
		}
	}
	switch {
	case failed == 0:
		r.Status = CrankOK
	case failed == total:
		r.Status = CrankFailed
	default:
		r.Status = CrankPartial
	}
}
