package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameTableDefineAndFind(t *testing.T) {
	nt := NewNameTable()
	id := nt.Define(1, "Rate", Real(0.05))

	found, ok := nt.Find(1, "RATE")
	require.True(t, ok, "lookups fold case")
	assert.Equal(t, id, found)

	_, ok = nt.Find(2, "rate")
	assert.False(t, ok, "names are scoped to their document")

	v, ok := nt.Get(id)
	require.True(t, ok)
	assert.Equal(t, Real(0.05), v)

	owner, text, ok := nt.Label(id)
	require.True(t, ok)
	assert.Equal(t, DocNo(1), owner)
	assert.Equal(t, "Rate", text)

	again := nt.Define(1, "rate", Integer(2))
	assert.Equal(t, id, again, "redefining keeps the handle")
	_, text, _ = nt.Label(id)
	assert.Equal(t, "rate", text)
}

func TestNameTableUndefined(t *testing.T) {
	nt := NewNameTable()
	id := nt.Ensure(1, "later")
	assert.True(t, nt.Exists(id))
	assert.False(t, nt.Defined(id))
	_, ok := nt.Get(id)
	assert.False(t, ok)

	assert.Equal(t, id, nt.Define(1, "later", Integer(1)))
	assert.True(t, nt.Defined(id))

	assert.True(t, nt.Undefine(id))
	assert.False(t, nt.Undefine(id))
	assert.True(t, nt.Exists(id), "undefined entries stay for their users")
	assert.False(t, nt.Defined(id))
}

func TestNameTableStaleHandles(t *testing.T) {
	nt := NewNameTable()
	old := nt.Define(1, "a", Integer(1))
	require.True(t, nt.Remove(old))
	assert.False(t, nt.Exists(old))
	assert.False(t, nt.Remove(old))

	// the freed slot is reused with a new generation
	reused := nt.Define(1, "b", Integer(2))
	_, oldIndex := splitHandle(old)
	_, newIndex := splitHandle(reused)
	assert.Equal(t, oldIndex, newIndex)
	assert.NotEqual(t, old, reused)
	_, ok := nt.Get(old)
	assert.False(t, ok)
	assert.Equal(t, 1, nt.Count())
}

func TestNameTableListings(t *testing.T) {
	nt := NewNameTable()
	nt.Define(2, "zeta", Integer(1))
	nt.Define(1, "beta", Integer(2))
	nt.Define(1, "Alpha", Integer(3))

	var labels []string
	for _, id := range nt.IDs() {
		_, text, _ := nt.Label(id)
		labels = append(labels, text)
	}
	assert.Equal(t, []string{"Alpha", "beta", "zeta"}, labels)
	assert.Len(t, nt.OwnedBy(1), 2)
	assert.Len(t, nt.OwnedBy(3), 0)
}

func TestCustomTable(t *testing.T) {
	ct := NewCustomTable()
	header := SLR{Doc: 4, Col: 0, Row: 0}
	id := ct.Define(4, "Double", CustomDef{Header: header, Args: []CustomArg{{Name: "x", Mask: ArgNumber}}})

	found, ok := ct.FindDefined(1, "double")
	require.True(t, ok, "an unqualified call finds a definition in any document")
	assert.Equal(t, id, found)

	byHeader, ok := ct.ByHeader(SLR{Doc: 4, Col: AbsBit, Row: AbsBit})
	require.True(t, ok)
	assert.Equal(t, id, byHeader)

	// a local undefined entry does not hide the definition elsewhere
	ct.Ensure(1, "double")
	found, ok = ct.FindDefined(1, "DOUBLE")
	require.True(t, ok)
	assert.Equal(t, id, found)

	_, ok = ct.FindDefined(1, "triple")
	assert.False(t, ok)
}

func TestParseCustomArg(t *testing.T) {
	cases := []struct {
		decl string
		want CustomArg
		ok   bool
	}{
		{"x", CustomArg{Name: "x", Mask: ArgScalar | ArgVector}, true},
		{"n:number", CustomArg{Name: "n", Mask: ArgNumber}, true},
		{" s : Text ", CustomArg{Name: "s", Mask: ArgString}, true},
		{"r:reference", CustomArg{Name: "r", Mask: ArgSLR | ArgRange}, true},
		{"v:any", CustomArg{Name: "v", Mask: ArgAny}, true},
		{"x:colour", CustomArg{}, false},
		{":number", CustomArg{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.decl, func(t *testing.T) {
			got, ok := parseCustomArg(tc.decl)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDocumentTable(t *testing.T) {
	dt := NewDocumentTable()

	thunk := dt.Intern("Budget")
	assert.Equal(t, DocNo(1), thunk)
	assert.False(t, dt.IsOpen(thunk))
	assert.Equal(t, []DocNo{thunk}, dt.Thunks())

	id, wasThunk := dt.Define("budget", DocSheet)
	assert.Equal(t, thunk, id, "names fold case")
	assert.True(t, wasThunk)
	assert.True(t, dt.IsOpen(id))
	name, _ := dt.Name(id)
	assert.Equal(t, "budget", name)

	lib, wasThunk := dt.Define("Lib", DocCustom)
	assert.False(t, wasThunk)
	kind, ok := dt.Kind(lib)
	require.True(t, ok)
	assert.Equal(t, DocCustom, kind)
	assert.Equal(t, "custom", kind.String())
	assert.Equal(t, []DocNo{id, lib}, dt.Defined())

	assert.False(t, dt.Remove(lib), "open documents are not removed")
	assert.True(t, dt.Undefine(lib))
	assert.False(t, dt.Undefine(lib))
	assert.True(t, dt.Remove(lib))
	_, ok = dt.ID("Lib")
	assert.False(t, ok)
	assert.Equal(t, 1, dt.Count())
}
