package engine

// nodeQuota enforces a crank's depth and node-count limits.
//
// The visited set catches cycles (A → B → A). The quota catches the other
// way a cascade runs away: long chains (A → B → C → ... ) and wide
// fan-out of distinct messages. Together they guarantee a crank
// terminates.
type nodeQuota struct {
	crankID  string
	maxDepth int
	maxNodes int
	nodes    int
}

// newNodeQuota creates a quota for one crank.
func newNodeQuota(crankID string, maxDepth, maxNodes int) *nodeQuota {
	return &nodeQuota{crankID: crankID, maxDepth: maxDepth, maxNodes: maxNodes}
}

// Admit checks whether a node at depth may be expanded and counts it.
// Returns *LimitExceededError if the node lies beyond either limit.
func (q *nodeQuota) Admit(depth int) error {
	if depth > q.maxDepth {
		return &LimitExceededError{CrankID: q.crankID, Limit: "depth", Max: q.maxDepth}
	}
	if q.nodes >= q.maxNodes {
		return &LimitExceededError{CrankID: q.crankID, Limit: "nodes", Max: q.maxNodes}
	}
	q.nodes++
	return nil
}

// Used returns the number of admitted nodes.
func (q *nodeQuota) Used() int {
	return q.nodes
}
