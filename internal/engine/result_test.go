package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleResult builds:
//
//	0 root
//	├── 1 a
//	│   └── 3 c (failed)
//	└── 2 b
func sampleResult() *CrankResult {
	return &CrankResult{
		CrankID: "crank-1",
		Nodes: []CrankNode{
			{Index: 0, Parent: -1, MessageID: "root", Children: []int{1, 2}},
			{Index: 1, Parent: 0, Depth: 1, MessageID: "a", Children: []int{3}},
			{Index: 2, Parent: 0, Depth: 1, MessageID: "b", Children: []int{}},
			{Index: 3, Parent: 1, Depth: 2, MessageID: "c", Children: []int{}, Error: &NodeError{Kind: KindComputeError}},
		},
	}
}

func TestCrankResult_Failures(t *testing.T) {
	res := sampleResult()

	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, []string{"root", "a", "c"}, failures[0].Path)
	assert.Equal(t, 3, failures[0].Node.Index)
}

func TestCrankResult_WalkIsDepthFirst(t *testing.T) {
	res := sampleResult()

	var order []string
	res.Walk(func(n CrankNode) {
		order = append(order, n.MessageID)
	})
	assert.Equal(t, []string{"root", "a", "c", "b"}, order)
}

func TestCrankResult_Summarize(t *testing.T) {
	res := sampleResult()
	res.summarize()
	assert.Equal(t, CrankPartial, res.Status)

	res.Nodes[3].Error = nil
	res.summarize()
	assert.Equal(t, CrankOK, res.Status)

	for i := 1; i < len(res.Nodes); i++ {
		res.Nodes[i].Error = &NodeError{Kind: KindComputeError}
	}
	res.summarize()
	assert.Equal(t, CrankFailed, res.Status)

	rootOnly := &CrankResult{Nodes: []CrankNode{{Index: 0, Parent: -1}}}
	rootOnly.summarize()
	assert.Equal(t, CrankOK, rootOnly.Status)
}

func TestCrankResult_EmptyRoot(t *testing.T) {
	res := &CrankResult{}
	assert.Nil(t, res.Root())
	res.Walk(func(CrankNode) { t.Fatal("walk of empty result visited a node") })
}

func TestNodeError(t *testing.T) {
	ne := nodeError(&Error{Kind: KindRejected, Stage: StageSequencing, Err: errors.New("bad sig"), Cached: true})
	assert.Equal(t, KindRejected, ne.Kind)
	assert.Equal(t, StageSequencing, ne.Stage)
	assert.Equal(t, "bad sig", ne.Message)
	assert.True(t, ne.Cached)

	ne = nodeError(&LimitExceededError{CrankID: "c", Limit: "depth", Max: 2})
	assert.Equal(t, KindCrankDepthExceeded, ne.Kind)
	assert.Equal(t, StageCrank, ne.Stage)
}
