package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTodoListOrder(t *testing.T) {
	tl := NewTodoList()
	c3, a1, b2 := slot(1, 2, 2), slot(1, 0, 0), slot(1, 1, 1)

	assert.True(t, tl.Add(c3))
	assert.True(t, tl.Add(a1))
	assert.True(t, tl.Add(b2))
	assert.False(t, tl.Add(SLR{Doc: 1, Col: AbsBit, Row: AbsBit}), "markers are ignored")
	assert.Equal(t, 3, tl.Len())
	assert.Equal(t, []SLR{c3, a1, b2}, tl.Slots())

	next, ok := tl.Next()
	require.True(t, ok)
	assert.Equal(t, c3, next, "next does not remove")
	assert.Equal(t, 3, tl.Len())

	tl.Sort()
	assert.Equal(t, []SLR{a1, b2, c3}, tl.Slots())
}

func TestTodoListRemove(t *testing.T) {
	tl := NewTodoList()
	a1, a2, b1 := slot(1, 0, 0), slot(1, 0, 1), slot(2, 1, 0)
	tl.Add(a1)
	tl.Add(a2)
	tl.Add(b1)

	assert.True(t, tl.Remove(a1))
	assert.False(t, tl.Remove(a1))
	assert.False(t, tl.Contains(a1))
	next, ok := tl.Next()
	require.True(t, ok)
	assert.Equal(t, a2, next)

	// a removed slot can be queued again, at the back
	assert.True(t, tl.Add(a1))
	assert.Equal(t, []SLR{a2, b1, a1}, tl.Slots())

	assert.Equal(t, 2, tl.RemoveDoc(1))
	assert.Equal(t, []SLR{b1}, tl.Slots())

	tl.Clear()
	assert.Zero(t, tl.Len())
	_, ok = tl.Next()
	assert.False(t, ok)
}

func TestTodoListCompaction(t *testing.T) {
	tl := NewTodoList()
	for row := int32(0); row < 5000; row++ {
		tl.Add(slot(1, 0, row))
	}
	for row := int32(0); row < 4000; row++ {
		s, ok := tl.Next()
		require.True(t, ok)
		require.Equal(t, row, s.Row)
		require.True(t, tl.Remove(s))
	}
	s, ok := tl.Next()
	require.True(t, ok)
	assert.Equal(t, int32(4000), s.Row)
	assert.Equal(t, 1000, tl.Len())
	assert.Len(t, tl.Slots(), 1000)
	assert.True(t, tl.Contains(slot(1, 0, 4999)))
}
