package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVisitedSet(t *testing.T) {
	v := newVisitedSet(4)

	first, fresh := v.Visit("m1", 0)
	assert.True(t, fresh)
	assert.Equal(t, 0, first)

	_, ok := v.Seen("m2")
	assert.False(t, ok)

	v.Visit("m2", 3)
	first, fresh = v.Visit("m2", 7)
	assert.False(t, fresh, "second visit is a revisit")
	assert.Equal(t, 3, first, "revisit points at the first occurrence")

	idx, ok := v.Seen("m2")
	assert.True(t, ok)
	assert.Equal(t, 3, idx)
	assert.Equal(t, 2, v.Len())
}
