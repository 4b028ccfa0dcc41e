package evaluator

import (
	"sort"
	"strings"
)

// NameID is a handle into the name table: generation in the top byte,
// slot index below. a stale handle never resolves to a later occupant of
// the same slot.
type NameID uint32

// CustomID is a handle into the custom function table, encoded like NameID
type CustomID uint32

const (
	handleIndexBits = 24
	handleIndexMask = 1<<handleIndexBits - 1
)

type handle interface{ ~uint32 }

func makeHandle[ID handle](gen uint8, index int) ID {
	return ID(uint32(gen)<<handleIndexBits | uint32(index))
}

func splitHandle[ID handle](id ID) (uint8, int) {
	return uint8(uint32(id) >> handleIndexBits), int(uint32(id) & handleIndexMask)
}

// EntryFlags describe a name or custom table entry
type EntryFlags uint8

const (
	// EntryUndefined marks an entry that is referenced but has no definition
	EntryUndefined EntryFlags = 1 << iota
	// EntryInUse is set while the entry occupies its slot
	EntryInUse
)

type tableEntry[T any] struct {
	gen   uint8
	flags EntryFlags
	owner DocNo
	text  string
	key   string // folded text
	def   T
}

// handleTable stores owner-scoped, case-insensitively named entries. entries
// never move once allocated so handles stay valid; a separate index is kept
// sorted by (owner, folded text) and re-sorted lazily after inserts.
type handleTable[ID handle, T any] struct {
	entries []tableEntry[T]
	free    []int
	index   []int // entry indices ordered by owner then key
	sorted  bool
}

func (t *handleTable[ID, T]) live(i int) bool {
	return i >= 0 && i < len(t.entries) && t.entries[i].flags&EntryInUse != 0
}

func (t *handleTable[ID, T]) less(a, b int) bool {
	ea, eb := &t.entries[a], &t.entries[b]
	if ea.owner != eb.owner {
		return ea.owner < eb.owner
	}
	return ea.key < eb.key
}

func (t *handleTable[ID, T]) sortIndex() {
	if t.sorted {
		return
	}
	sort.Slice(t.index, func(i, j int) bool { return t.less(t.index[i], t.index[j]) })
	t.sorted = true
}

// Find looks up an entry by owner and name, defined or not
func (t *handleTable[ID, T]) Find(owner DocNo, text string) (ID, bool) {
	t.sortIndex()
	key := foldName(text)
	i := sort.Search(len(t.index), func(i int) bool {
		e := &t.entries[t.index[i]]
		if e.owner != owner {
			return e.owner > owner
		}
		return e.key >= key
	})
	if i < len(t.index) {
		e := &t.entries[t.index[i]]
		if e.owner == owner && e.key == key {
			return makeHandle[ID](e.gen, t.index[i]), true
		}
	}
	return 0, false
}

// Ensure returns the entry for (owner, text), creating an undefined one
// when none exists
func (t *handleTable[ID, T]) Ensure(owner DocNo, text string) ID {
	if id, ok := t.Find(owner, text); ok {
		return id
	}

	var i int
	if n := len(t.free); n > 0 {
		i = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		i = len(t.entries)
		t.entries = append(t.entries, tableEntry[T]{})
	}
	e := &t.entries[i]
	gen := e.gen + 1
	if gen == 0 {
		gen = 1
	}
	*e = tableEntry[T]{
		gen:   gen,
		flags: EntryInUse | EntryUndefined,
		owner: owner,
		text:  text,
		key:   foldName(text),
	}
	t.index = append(t.index, i)
	t.sorted = false
	return makeHandle[ID](gen, i)
}

func (t *handleTable[ID, T]) entry(id ID) (*tableEntry[T], bool) {
	gen, i := splitHandle(id)
	if !t.live(i) || t.entries[i].gen != gen {
		return nil, false
	}
	return &t.entries[i], true
}

// Define sets the definition of (owner, text), creating the entry if need be
func (t *handleTable[ID, T]) Define(owner DocNo, text string, def T) ID {
	id := t.Ensure(owner, text)
	e, _ := t.entry(id)
	e.def = def
	e.text = text
	e.flags &^= EntryUndefined
	return id
}

// Undefine drops the definition but keeps the entry for its users
func (t *handleTable[ID, T]) Undefine(id ID) bool {
	e, ok := t.entry(id)
	if !ok || e.flags&EntryUndefined != 0 {
		return false
	}
	var zero T
	e.def = zero
	e.flags |= EntryUndefined
	return true
}

// Remove frees the entry's slot; the handle becomes stale
func (t *handleTable[ID, T]) Remove(id ID) bool {
	_, i := splitHandle(id)
	if _, ok := t.entry(id); !ok {
		return false
	}
	t.entries[i].flags = 0
	var zero T
	t.entries[i].def = zero
	t.free = append(t.free, i)
	for j, x := range t.index {
		if x == i {
			t.index = append(t.index[:j], t.index[j+1:]...)
			break
		}
	}
	return true
}

// Get returns the definition and whether the entry is defined
func (t *handleTable[ID, T]) Get(id ID) (T, bool) {
	e, ok := t.entry(id)
	if !ok || e.flags&EntryUndefined != 0 {
		var zero T
		return zero, false
	}
	return e.def, true
}

// Exists reports whether id still refers to a live entry
func (t *handleTable[ID, T]) Exists(id ID) bool {
	_, ok := t.entry(id)
	return ok
}

// Defined reports whether id refers to a defined entry
func (t *handleTable[ID, T]) Defined(id ID) bool {
	e, ok := t.entry(id)
	return ok && e.flags&EntryUndefined == 0
}

// Label returns the owner and display text of an entry
func (t *handleTable[ID, T]) Label(id ID) (DocNo, string, bool) {
	e, ok := t.entry(id)
	if !ok {
		return 0, "", false
	}
	return e.owner, e.text, true
}

// IDs lists every live entry in (owner, name) order
func (t *handleTable[ID, T]) IDs() []ID {
	t.sortIndex()
	out := make([]ID, 0, len(t.index))
	for _, i := range t.index {
		out = append(out, makeHandle[ID](t.entries[i].gen, i))
	}
	return out
}

// OwnedBy lists the live entries owned by doc
func (t *handleTable[ID, T]) OwnedBy(doc DocNo) []ID {
	var out []ID
	for _, id := range t.IDs() {
		if owner, _, _ := t.Label(id); owner == doc {
			out = append(out, id)
		}
	}
	return out
}

// Count returns the number of live entries
func (t *handleTable[ID, T]) Count() int {
	return len(t.index)
}

// NameTable holds defined names. a definition is a constant, an array, or
// a reference to a slot or range.
type NameTable struct {
	handleTable[NameID, Value]
}

// NewNameTable creates an empty name table
func NewNameTable() *NameTable {
	return &NameTable{}
}

// CustomArg is one formal parameter of a custom function
type CustomArg struct {
	Name string
	Mask ArgMask
}

// CustomDef is a custom function definition: the FUNCTION header slot
// in a custom document and the formal parameter list
type CustomDef struct {
	Header SLR
	Args   []CustomArg
}

// CustomTable holds custom function definitions
type CustomTable struct {
	handleTable[CustomID, CustomDef]
}

// NewCustomTable creates an empty custom function table
func NewCustomTable() *CustomTable {
	return &CustomTable{}
}

// FindDefined looks for a defined custom function called text in any
// document, preferring owner
func (t *CustomTable) FindDefined(owner DocNo, text string) (CustomID, bool) {
	if id, ok := t.Find(owner, text); ok && t.Defined(id) {
		return id, true
	}
	key := foldName(text)
	for _, id := range t.IDs() {
		e, _ := t.entry(id)
		if e.key == key && e.flags&EntryUndefined == 0 {
			return id, true
		}
	}
	return 0, false
}

// ByHeader finds the custom function whose header is at slot s
func (t *CustomTable) ByHeader(s SLR) (CustomID, bool) {
	s = s.Plain()
	for _, id := range t.IDs() {
		if def, ok := t.Get(id); ok && def.Header == s {
			return id, true
		}
	}
	return 0, false
}

var argTypeMasks = map[string]ArgMask{
	"number":    ArgNumber,
	"real":      ArgReal,
	"integer":   ArgInt,
	"string":    ArgString,
	"text":      ArgString,
	"date":      ArgDate,
	"array":     ArgArray | ArgRange,
	"reference": ArgSLR | ArgRange,
	"error":     ArgError,
	"value":     ArgScalar | ArgVector,
	"any":       ArgAny,
}

// parseCustomArg parses a formal parameter of the form "name" or
// "name:type". the default type accepts any non-error value.
func parseCustomArg(decl string) (CustomArg, bool) {
	name, typ, hasType := strings.Cut(decl, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return CustomArg{}, false
	}
	arg := CustomArg{Name: name, Mask: ArgScalar | ArgVector}
	if hasType {
		mask, ok := argTypeMasks[foldName(strings.TrimSpace(typ))]
		if !ok {
			return CustomArg{}, false
		}
		arg.Mask = mask
	}
	return arg, true
}
