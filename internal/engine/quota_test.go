package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNodeQuota_WithinLimit tests normal operation within quota.
func TestNodeQuota_WithinLimit(t *testing.T) {
	q := newNodeQuota("crank-1", 10, 10)

	for i := 0; i < 10; i++ {
		assert.NoError(t, q.Admit(i), "node %d should be admitted", i+1)
	}
	assert.Equal(t, 10, q.Used())
}

// TestNodeQuota_NodesExceeded tests the node-count limit.
func TestNodeQuota_NodesExceeded(t *testing.T) {
	q := newNodeQuota("crank-1", 10, 2)

	require.NoError(t, q.Admit(0))
	require.NoError(t, q.Admit(1))

	err := q.Admit(1)
	require.Error(t, err)

	var le *LimitExceededError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "crank-1", le.CrankID)
	assert.Equal(t, "nodes", le.Limit)
	assert.Equal(t, 2, le.Max)
	assert.Equal(t, 2, q.Used(), "refused nodes are not counted")
}

// TestNodeQuota_DepthExceeded tests the depth limit.
func TestNodeQuota_DepthExceeded(t *testing.T) {
	q := newNodeQuota("crank-1", 3, 100)

	require.NoError(t, q.Admit(3))

	err := q.Admit(4)
	require.Error(t, err)
	assert.True(t, IsLimitExceeded(err))
	assert.Contains(t, err.Error(), "depth")
	assert.Equal(t, KindCrankDepthExceeded, Classify(err))
}
