package evaluator

import "sort"

// DocKind distinguishes ordinary sheets from documents holding custom
// function definitions
type DocKind uint8

const (
	DocSheet DocKind = iota
	DocCustom
)

func (k DocKind) String() string {
	if k == DocCustom {
		return "custom"
	}
	return "sheet"
}

// DocumentTable maps document names to numbers. a document is either open
// (defined) or a thunk: referenced by some formula but not loaded.
type DocumentTable struct {
	nameToID map[string]DocNo // folded name -> number, open or thunk
	idToName map[DocNo]string

	defined      map[DocNo]DocKind
	undefinedIDs map[DocNo]struct{}

	nextID DocNo
}

// NewDocumentTable creates a new document table
func NewDocumentTable() *DocumentTable {
	return &DocumentTable{
		nameToID:     make(map[string]DocNo),
		idToName:     make(map[DocNo]string),
		defined:      make(map[DocNo]DocKind),
		undefinedIDs: make(map[DocNo]struct{}),
		nextID:       1, // start at 1, reserve 0 for no document
	}
}

// Intern returns the number for a document name, creating a thunk when the
// document is not known
func (dt *DocumentTable) Intern(name string) DocNo {
	key := foldName(name)
	if id, exists := dt.nameToID[key]; exists {
		return id
	}

	id := dt.nextID
	dt.nameToID[key] = id
	dt.idToName[id] = name
	dt.undefinedIDs[id] = struct{}{}
	dt.nextID++
	return id
}

// Define opens a document. wasThunk reports that formulas already refer
// to it.
func (dt *DocumentTable) Define(name string, kind DocKind) (id DocNo, wasThunk bool) {
	key := foldName(name)
	if id, exists := dt.nameToID[key]; exists {
		_, wasThunk = dt.undefinedIDs[id]
		delete(dt.undefinedIDs, id)
		dt.defined[id] = kind
		dt.idToName[id] = name
		return id, wasThunk
	}

	// create new open document
	id = dt.nextID
	dt.nameToID[key] = id
	dt.idToName[id] = name
	dt.defined[id] = kind
	dt.nextID++
	return id, false
}

// Undefine turns an open document back into a thunk
func (dt *DocumentTable) Undefine(id DocNo) bool {
	if _, ok := dt.defined[id]; !ok {
		return false
	}
	delete(dt.defined, id)
	dt.undefinedIDs[id] = struct{}{}
	return true
}

// Remove forgets a thunk entirely. open documents are not removed.
func (dt *DocumentTable) Remove(id DocNo) bool {
	if _, ok := dt.undefinedIDs[id]; !ok {
		return false
	}
	name := dt.idToName[id]
	delete(dt.nameToID, foldName(name))
	delete(dt.idToName, id)
	delete(dt.undefinedIDs, id)
	return true
}

// IsOpen checks whether a document is loaded
func (dt *DocumentTable) IsOpen(id DocNo) bool {
	_, ok := dt.defined[id]
	return ok
}

// Kind returns the kind of an open document
func (dt *DocumentTable) Kind(id DocNo) (DocKind, bool) {
	k, ok := dt.defined[id]
	return k, ok
}

// ID returns the number for a document name
func (dt *DocumentTable) ID(name string) (DocNo, bool) {
	id, ok := dt.nameToID[foldName(name)]
	return id, ok
}

// Name returns the name for a document number
func (dt *DocumentTable) Name(id DocNo) (string, bool) {
	name, ok := dt.idToName[id]
	return name, ok
}

// Defined returns the open documents in number order
func (dt *DocumentTable) Defined() []DocNo {
	out := make([]DocNo, 0, len(dt.defined))
	for id := range dt.defined {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Thunks returns the referenced but unloaded documents in number order
func (dt *DocumentTable) Thunks() []DocNo {
	out := make([]DocNo, 0, len(dt.undefinedIDs))
	for id := range dt.undefinedIDs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the total number of documents (open and thunk)
func (dt *DocumentTable) Count() int {
	return len(dt.nameToID)
}
