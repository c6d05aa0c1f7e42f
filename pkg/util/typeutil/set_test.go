package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := NewSet(1, 2, 3)
	assert.True(t, s.Contain(1, 2))
	assert.False(t, s.Contain(1, 4))
	assert.True(t, s.Contain())

	s.Insert(4)
	s.Remove(1)
	assert.ElementsMatch(t, []int{2, 3, 4}, s.Collect())
	assert.Equal(t, 3, s.Len())
}

func TestOrderedSet(t *testing.T) {
	s := NewOrderedSet("b", "a")
	assert.Equal(t, 1, s.Insert("c", "a"))
	assert.Equal(t, []string{"b", "a", "c"}, s.Collect())
	assert.Equal(t, 2, s.IndexOf("c"))
	assert.Equal(t, -1, s.IndexOf("z"))
	assert.True(t, s.Contain("a"))
	assert.Equal(t, 3, s.Len())
}
