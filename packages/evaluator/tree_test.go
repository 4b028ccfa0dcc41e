package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slot(doc DocNo, col, row int32) SLR {
	return SLR{Doc: doc, Col: col, Row: row}
}

func TestDependencyTreeDependents(t *testing.T) {
	dt := NewDependencyTree(0)
	a1, b1, c1 := slot(1, 0, 0), slot(1, 1, 0), slot(1, 2, 0)
	sum := slot(1, 3, 0)

	require.NoError(t, dt.AddSLRUse(a1, b1, 0))
	require.NoError(t, dt.AddSLRUse(a1, c1, 0))
	require.NoError(t, dt.AddRangeUse(NewRange(slot(1, 0, 0), slot(1, 0, 9)), sum, 0))

	assert.Equal(t, []SLR{b1, c1, sum}, dt.Dependents(a1))
	assert.Equal(t, []SLR{sum}, dt.Dependents(slot(1, 0, 5)))
	assert.Empty(t, dt.Dependents(slot(1, 0, 10)))
	assert.Empty(t, dt.Dependents(slot(2, 0, 0)))

	// absolute markers do not change the target
	abs := SLR{Doc: 1, Col: AbsBit, Row: AbsBit}
	assert.Equal(t, dt.Dependents(a1), dt.Dependents(abs))
}

func TestDependencyTreeSortedLookups(t *testing.T) {
	dt := NewDependencyTree(0)
	owner := slot(1, 9, 9)
	for _, s := range []SLR{slot(1, 5, 0), slot(1, 1, 3), slot(1, 1, 1), slot(1, 0, 7)} {
		require.NoError(t, dt.AddSLRUse(s, owner, 0))
	}
	require.NoError(t, dt.AddRangeUse(NewRange(slot(1, 4, 0), slot(1, 6, 2)), owner, 5))
	require.NoError(t, dt.AddRangeUse(NewRange(slot(1, 0, 0), slot(1, 1, 1)), owner, 10))

	unsorted := dt.Dependents(slot(1, 1, 1))
	dt.Sort()
	require.NoError(t, dt.Check())
	assert.Equal(t, unsorted, dt.Dependents(slot(1, 1, 1)))
	assert.Equal(t, []SLR{owner}, dt.Dependents(slot(1, 5, 0)))
	assert.Equal(t, []SLR{owner}, dt.Dependents(slot(1, 6, 2)))
	assert.Empty(t, dt.Dependents(slot(1, 7, 2)))
}

func TestDependencyTreeRemoveOwner(t *testing.T) {
	dt := NewDependencyTree(0)
	a1, b1, c1 := slot(1, 0, 0), slot(1, 1, 0), slot(1, 2, 0)
	require.NoError(t, dt.AddSLRUse(a1, b1, 0))
	require.NoError(t, dt.AddSLRUse(a1, c1, 0))
	require.NoError(t, dt.AddNameUse(NameID(7), b1, 11))

	assert.Equal(t, 2, dt.RemoveOwner(b1))
	assert.Equal(t, []SLR{c1}, dt.Dependents(a1))
	assert.False(t, dt.NameUsed(NameID(7)))
	assert.Equal(t, TreeStats{SLRUses: 1}, dt.Stats())
	assert.Zero(t, dt.RemoveOwner(b1))
}

func TestDependencyTreeHold(t *testing.T) {
	dt := NewDependencyTree(0)
	a1, b1 := slot(1, 0, 0), slot(1, 1, 0)
	require.NoError(t, dt.AddSLRUse(a1, b1, 0))

	dt.Hold()
	dt.Hold()
	assert.Equal(t, 1, dt.RemoveOwner(b1))
	// marked records stay in place but are no longer visible
	assert.Empty(t, dt.Dependents(a1))
	assert.Len(t, dt.docs[1].slrs.entries, 1)
	require.NoError(t, dt.Check())

	dt.Release()
	assert.Len(t, dt.docs[1].slrs.entries, 1)
	dt.Release()
	assert.Empty(t, dt.docs[1].slrs.entries)
	require.NoError(t, dt.Check())

	// an extra release is harmless
	dt.Release()
	require.NoError(t, dt.Check())
}

func TestDependencyTreeLimit(t *testing.T) {
	dt := NewDependencyTree(2)
	owner := slot(1, 5, 5)
	require.NoError(t, dt.AddSLRUse(slot(1, 0, 0), owner, 0))
	require.NoError(t, dt.AddSLRUse(slot(1, 0, 1), owner, 0))
	assert.ErrorIs(t, dt.AddSLRUse(slot(1, 0, 2), owner, 0), ErrTableFull)

	// each table has its own limit
	require.NoError(t, dt.AddCustomUse(CustomID(1), owner, 0))
	dt.RemoveOwner(owner)
	require.NoError(t, dt.AddSLRUse(slot(1, 0, 2), owner, 0))
}

func TestDependencyTreeNamesAndCustoms(t *testing.T) {
	dt := NewDependencyTree(0)
	b1, b2 := slot(1, 1, 0), slot(1, 1, 1)
	require.NoError(t, dt.AddNameUse(NameID(3), b2, 0))
	require.NoError(t, dt.AddNameUse(NameID(3), b1, 0))
	require.NoError(t, dt.AddCustomUse(CustomID(4), b1, 0))

	assert.Equal(t, []SLR{b1, b2}, dt.NameUsers(NameID(3)))
	assert.True(t, dt.NameUsed(NameID(3)))
	assert.False(t, dt.NameUsed(NameID(4)))
	assert.Equal(t, []SLR{b1}, dt.CustomUsers(CustomID(4)))
	assert.True(t, dt.CustomUsed(CustomID(4)))
	assert.Equal(t, TreeStats{NameUses: 2, CustomUses: 1}, dt.Stats())
}

func TestDependencyTreeDocuments(t *testing.T) {
	dt := NewDependencyTree(0)
	own1, own2 := slot(1, 0, 0), slot(1, 0, 1)
	require.NoError(t, dt.AddSLRUse(slot(2, 3, 3), own1, 0))
	require.NoError(t, dt.AddRangeUse(NewRange(slot(2, 0, 0), slot(2, 1, 1)), own2, 0))

	assert.True(t, dt.DocReferenced(2))
	assert.False(t, dt.DocReferenced(3))
	assert.Equal(t, []SLR{own1, own2}, dt.ReferencingDoc(2))

	slrs, ranges := dt.UsesWithin(NewRange(slot(2, 0, 0), slot(2, 3, 3)))
	assert.Len(t, slrs, 1)
	assert.Len(t, ranges, 1)
	slrs, ranges = dt.UsesWithin(NewRange(slot(2, 0, 0), slot(2, 0, 0)))
	assert.Empty(t, slrs)
	assert.Empty(t, ranges, "a range only partly inside is not within")

	dt.DropDoc(2)
	assert.False(t, dt.DocReferenced(2))
	assert.Empty(t, dt.Dependents(slot(2, 3, 3)))
}

func TestDependencyTreeDynamicUses(t *testing.T) {
	dt := NewDependencyTree(0)
	owner := slot(1, 2, 0)
	require.NoError(t, dt.AddSLRUse(slot(1, 0, 0), owner, 3))
	require.NoError(t, dt.AddDynamicSLRUse(slot(1, 1, 0), owner))
	require.NoError(t, dt.AddDynamicSLRUse(slot(1, 1, 0), owner))
	require.NoError(t, dt.AddDynamicRangeUse(NewRange(slot(1, 4, 0), slot(1, 4, 9)), owner))
	assert.Equal(t, 2, dt.Stats().SLRUses, "a repeated dynamic use is kept once")
	assert.Equal(t, []SLR{owner}, dt.Dependents(slot(1, 1, 0)))
	assert.Equal(t, []SLR{owner}, dt.Dependents(slot(1, 4, 5)))

	assert.Equal(t, 2, dt.RemoveDynamic(owner))
	assert.Empty(t, dt.Dependents(slot(1, 1, 0)))
	assert.Equal(t, []SLR{owner}, dt.Dependents(slot(1, 0, 0)), "formula uses stay")
	assert.Zero(t, dt.RemoveDynamic(owner))

	require.NoError(t, dt.AddDynamicNameUse(NameID(7), owner))
	assert.Equal(t, []SLR{owner}, dt.NameUsers(NameID(7)))
	assert.Equal(t, 2, dt.RemoveOwner(owner))
	assert.Equal(t, TreeStats{}, dt.Stats())
	require.NoError(t, dt.Check())
}

func TestDependencyTreeOwnerIndex(t *testing.T) {
	dt := NewDependencyTree(0)
	a1 := slot(1, 0, 0)
	for row := int32(0); row < 100; row++ {
		require.NoError(t, dt.AddSLRUse(a1, slot(1, 1, row), 0))
		require.NoError(t, dt.AddRangeUse(NewRange(a1, slot(1, 0, 5)), slot(1, 1, row), 1))
	}
	assert.Equal(t, 2, dt.RemoveOwner(slot(1, 1, 0)))

	dt.Hold()
	for row := int32(1); row < 50; row++ {
		require.Equal(t, 2, dt.RemoveOwner(slot(1, 1, row)))
	}
	// re-added while held, after its old records were marked
	require.NoError(t, dt.AddSLRUse(a1, slot(1, 1, 1), 0))
	assert.Zero(t, dt.RemoveOwner(slot(1, 3, 3)))
	require.NoError(t, dt.Check())
	dt.Release()

	deps := dt.Dependents(a1)
	assert.Len(t, deps, 51)
	assert.Contains(t, deps, slot(1, 1, 1))
	assert.NotContains(t, deps, slot(1, 1, 2))
	assert.Equal(t, TreeStats{SLRUses: 51, RangeUses: 50}, dt.Stats())

	dt.Sort()
	assert.Equal(t, 1, dt.RemoveOwner(slot(1, 1, 1)), "the index is rebuilt after sorting")
	require.NoError(t, dt.Check())
}
