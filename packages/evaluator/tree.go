package evaluator

import (
	"fmt"
	"sort"
)

// UseFlags mark use records
type UseFlags uint8

const (
	// UseToBeDeleted marks a record removed while deletions were held
	UseToBeDeleted UseFlags = 1 << iota
	// UseDynamic marks a record found while evaluating, not in the formula
	// itself. it has no offset and is replaced each time the owner is
	// evaluated.
	UseDynamic
)

// UseRecord says that the formula at BySLR refers to RefTo through the
// instruction at ByOffset
type UseRecord[T any] struct {
	RefTo    T
	BySLR    SLR
	ByOffset int
	Flags    UseFlags
}

func (u *UseRecord[T]) deleted() bool {
	return u.Flags&UseToBeDeleted != 0
}

// Dynamic reports whether the record was made during evaluation
func (u *UseRecord[T]) Dynamic() bool {
	return u.Flags&UseDynamic != 0
}

// useTable is a flat list of use records. it is sorted lazily by target
// and compacted lazily after removals.
type useTable[T any] struct {
	entries []UseRecord[T]
	less    func(a, b T) bool
	sorted  bool
	hold    bool
	deleted int
	max     int

	// positions of each owner's records. nil until the first removal and
	// again after the entries move.
	owners map[SLR][]int
}

func newUseTable[T any](less func(a, b T) bool, max int) *useTable[T] {
	return &useTable[T]{less: less, sorted: true, max: max}
}

func (t *useTable[T]) live() int {
	return len(t.entries) - t.deleted
}

func (t *useTable[T]) add(rec UseRecord[T]) error {
	if t.max > 0 && t.live() >= t.max {
		return ErrTableFull
	}
	if n := len(t.entries); n > 0 && t.sorted && t.less(rec.RefTo, t.entries[n-1].RefTo) {
		t.sorted = false
	}
	if t.owners != nil {
		t.owners[rec.BySLR] = append(t.owners[rec.BySLR], len(t.entries))
	}
	t.entries = append(t.entries, rec)
	return nil
}

// addDynamic records a dynamic use unless owner already has one for the
// same target
func (t *useTable[T]) addDynamic(target T, owner SLR) error {
	t.index()
	for _, i := range t.owners[owner] {
		u := &t.entries[i]
		if u.Dynamic() && !u.deleted() && !t.less(u.RefTo, target) && !t.less(target, u.RefTo) {
			return nil
		}
	}
	return t.add(UseRecord[T]{RefTo: target, BySLR: owner, ByOffset: -1, Flags: UseDynamic})
}

func (t *useTable[T]) index() {
	if t.owners != nil {
		return
	}
	t.owners = make(map[SLR][]int)
	for i := range t.entries {
		if u := &t.entries[i]; !u.deleted() {
			t.owners[u.BySLR] = append(t.owners[u.BySLR], i)
		}
	}
}

// removeOwnedBy drops the records made by owner, only the dynamic ones
// when dynamicOnly is set. while deletions are held the records are only
// marked.
func (t *useTable[T]) removeOwnedBy(owner SLR, dynamicOnly bool) int {
	if len(t.entries) == 0 {
		return 0
	}
	t.index()
	positions := t.owners[owner]
	if len(positions) == 0 {
		return 0
	}
	n := 0
	kept := positions[:0]
	for _, i := range positions {
		u := &t.entries[i]
		if u.deleted() {
			continue
		}
		if dynamicOnly && !u.Dynamic() {
			kept = append(kept, i)
			continue
		}
		u.Flags |= UseToBeDeleted
		t.deleted++
		n++
	}
	if len(kept) == 0 {
		delete(t.owners, owner)
	} else {
		t.owners[owner] = kept
	}
	if n > 0 && !t.hold {
		t.compact()
	}
	return n
}

func (t *useTable[T]) compact() {
	if t.deleted == 0 {
		return
	}
	out := t.entries[:0]
	for _, u := range t.entries {
		if !u.deleted() {
			out = append(out, u)
		}
	}
	clear(t.entries[len(out):])
	t.entries = out
	t.deleted = 0
	t.owners = nil
}

func (t *useTable[T]) sort() {
	t.compact()
	if t.sorted {
		return
	}
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.less(t.entries[i].RefTo, t.entries[j].RefTo)
	})
	t.sorted = true
	t.owners = nil
}

// scan visits the live records, optionally stopping early
func (t *useTable[T]) scan(fn func(*UseRecord[T]) bool) {
	for i := range t.entries {
		u := &t.entries[i]
		if u.deleted() {
			continue
		}
		if !fn(u) {
			return
		}
	}
}

// matching visits the records whose target equals key. a sorted table is
// binary searched; otherwise every record is checked.
func (t *useTable[T]) matching(key T, fn func(*UseRecord[T])) {
	if !t.sorted {
		t.scan(func(u *UseRecord[T]) bool {
			if !t.less(u.RefTo, key) && !t.less(key, u.RefTo) {
				fn(u)
			}
			return true
		})
		return
	}
	i := sort.Search(len(t.entries), func(i int) bool {
		return !t.less(t.entries[i].RefTo, key)
	})
	for ; i < len(t.entries) && !t.less(key, t.entries[i].RefTo); i++ {
		if u := &t.entries[i]; !u.deleted() {
			fn(u)
		}
	}
}

func (t *useTable[T]) check(name string) error {
	n := 0
	for i := range t.entries {
		if t.entries[i].deleted() {
			n++
		}
		if t.sorted && i > 0 && t.less(t.entries[i].RefTo, t.entries[i-1].RefTo) {
			return fmt.Errorf("%s table marked sorted but entry %d is out of order", name, i)
		}
	}
	if n != t.deleted {
		return fmt.Errorf("%s table counts %d deletions, found %d", name, t.deleted, n)
	}
	if !t.hold && n > 0 {
		return fmt.Errorf("%s table holds %d deleted entries outside a hold", name, n)
	}
	return nil
}

func slrLess(a, b SLR) bool {
	a, b = a.Plain(), b.Plain()
	if a.Doc != b.Doc {
		return a.Doc < b.Doc
	}
	if a.Col != b.Col {
		return a.Col < b.Col
	}
	return a.Row < b.Row
}

func rangeLess(a, b Range) bool {
	if a.S.Doc != b.S.Doc {
		return a.S.Doc < b.S.Doc
	}
	as, bs := a.S.Plain(), b.S.Plain()
	if as.Col != bs.Col {
		return as.Col < bs.Col
	}
	if as.Row != bs.Row {
		return as.Row < bs.Row
	}
	ae, be := a.E.Plain(), b.E.Plain()
	if ae.Col != be.Col {
		return ae.Col < be.Col
	}
	return ae.Row < be.Row
}

func handleLess[ID handle](a, b ID) bool { return a < b }

// docTree holds the slot and range uses that target one document
type docTree struct {
	slrs   *useTable[SLR]
	ranges *useTable[Range]
}

// DependencyTree records every reference made by every formula: uses of
// slots and ranges, kept per target document, and uses of names and
// custom functions.
type DependencyTree struct {
	docs    map[DocNo]*docTree
	names   *useTable[NameID]
	customs *useTable[CustomID]
	max     int
	holds   int

	dynamic map[SLR]struct{} // owners holding dynamic records
}

// NewDependencyTree creates an empty tree. max caps the live records of
// each table; zero means unlimited.
func NewDependencyTree(max int) *DependencyTree {
	return &DependencyTree{
		docs:    make(map[DocNo]*docTree),
		names:   newUseTable(handleLess[NameID], max),
		customs: newUseTable(handleLess[CustomID], max),
		max:     max,
		dynamic: make(map[SLR]struct{}),
	}
}

func (dt *DependencyTree) doc(d DocNo, create bool) *docTree {
	t, ok := dt.docs[d]
	if !ok && create {
		t = &docTree{
			slrs:   newUseTable(slrLess, dt.max),
			ranges: newUseTable(rangeLess, dt.max),
		}
		t.slrs.hold = dt.holds > 0
		t.ranges.hold = dt.holds > 0
		dt.docs[d] = t
	}
	return t
}

// AddSLRUse records that owner refers to target
func (dt *DependencyTree) AddSLRUse(target, owner SLR, offset int) error {
	return dt.doc(target.Doc, true).slrs.add(UseRecord[SLR]{RefTo: target.Plain(), BySLR: owner, ByOffset: offset})
}

// AddRangeUse records that owner refers to target
func (dt *DependencyTree) AddRangeUse(target Range, owner SLR, offset int) error {
	return dt.doc(target.S.Doc, true).ranges.add(UseRecord[Range]{RefTo: target.Plain(), BySLR: owner, ByOffset: offset})
}

// AddNameUse records that owner refers to a name
func (dt *DependencyTree) AddNameUse(id NameID, owner SLR, offset int) error {
	return dt.names.add(UseRecord[NameID]{RefTo: id, BySLR: owner, ByOffset: offset})
}

// AddCustomUse records that owner calls a custom function
func (dt *DependencyTree) AddCustomUse(id CustomID, owner SLR, offset int) error {
	return dt.customs.add(UseRecord[CustomID]{RefTo: id, BySLR: owner, ByOffset: offset})
}

// AddDynamicSLRUse records that evaluating owner read target through a
// reference the formula computes
func (dt *DependencyTree) AddDynamicSLRUse(target, owner SLR) error {
	dt.dynamic[owner] = struct{}{}
	return dt.doc(target.Doc, true).slrs.addDynamic(target.Plain(), owner)
}

// AddDynamicRangeUse is AddDynamicSLRUse for a range
func (dt *DependencyTree) AddDynamicRangeUse(target Range, owner SLR) error {
	dt.dynamic[owner] = struct{}{}
	return dt.doc(target.S.Doc, true).ranges.addDynamic(target.Plain(), owner)
}

// AddDynamicNameUse is AddDynamicSLRUse for a name
func (dt *DependencyTree) AddDynamicNameUse(id NameID, owner SLR) error {
	dt.dynamic[owner] = struct{}{}
	return dt.names.addDynamic(id, owner)
}

// RemoveOwner drops every record made by the formula at owner
func (dt *DependencyTree) RemoveOwner(owner SLR) int {
	return dt.removeOwner(owner, false)
}

// RemoveDynamic drops the dynamic records of owner, leaving those of its
// formula
func (dt *DependencyTree) RemoveDynamic(owner SLR) int {
	if _, ok := dt.dynamic[owner]; !ok {
		return 0
	}
	return dt.removeOwner(owner, true)
}

func (dt *DependencyTree) removeOwner(owner SLR, dynamicOnly bool) int {
	delete(dt.dynamic, owner)
	n := 0
	for _, t := range dt.docs {
		n += t.slrs.removeOwnedBy(owner, dynamicOnly)
		n += t.ranges.removeOwnedBy(owner, dynamicOnly)
	}
	n += dt.names.removeOwnedBy(owner, dynamicOnly)
	n += dt.customs.removeOwnedBy(owner, dynamicOnly)
	return n
}

func (dt *DependencyTree) tables(fn func(hold bool, compact func())) {
	for _, t := range dt.docs {
		t.slrs.hold, t.ranges.hold = dt.holds > 0, dt.holds > 0
		fn(dt.holds > 0, t.slrs.compact)
		fn(dt.holds > 0, t.ranges.compact)
	}
	dt.names.hold, dt.customs.hold = dt.holds > 0, dt.holds > 0
	fn(dt.holds > 0, dt.names.compact)
	fn(dt.holds > 0, dt.customs.compact)
}

// Hold defers compaction of removed records until the matching Release.
// holds nest.
func (dt *DependencyTree) Hold() {
	dt.holds++
	dt.tables(func(bool, func()) {})
}

// Release ends a hold, compacting the tables when the last hold ends
func (dt *DependencyTree) Release() {
	if dt.holds == 0 {
		return
	}
	dt.holds--
	dt.tables(func(hold bool, compact func()) {
		if !hold {
			compact()
		}
	})
}

// Sort orders every table that has gone out of order. lookups work either
// way; sorted tables are searched instead of scanned.
func (dt *DependencyTree) Sort() {
	if dt.holds > 0 {
		return
	}
	for _, t := range dt.docs {
		t.slrs.sort()
		t.ranges.sort()
	}
	dt.names.sort()
	dt.customs.sort()
}

// Dependents returns the owners of formulas that refer to target, directly
// or through a range containing it, in slot order without duplicates
func (dt *DependencyTree) Dependents(target SLR) []SLR {
	target = target.Plain()
	t := dt.doc(target.Doc, false)
	if t == nil {
		return nil
	}
	seen := make(map[SLR]struct{})
	t.slrs.matching(target, func(u *UseRecord[SLR]) {
		seen[u.BySLR] = struct{}{}
	})
	dt.rangesContaining(t, target, func(u *UseRecord[Range]) {
		seen[u.BySLR] = struct{}{}
	})
	return sortedSlots(seen)
}

func (dt *DependencyTree) rangesContaining(t *docTree, target SLR, fn func(*UseRecord[Range])) {
	rt := t.ranges
	end := len(rt.entries)
	if rt.sorted {
		// ranges starting right of the target cannot contain it
		end = sort.Search(len(rt.entries), func(i int) bool {
			return rt.entries[i].RefTo.S.Col&CoordMask > target.Col
		})
	}
	for i := 0; i < end; i++ {
		u := &rt.entries[i]
		if !u.deleted() && u.RefTo.Contains(target) {
			fn(u)
		}
	}
}

// NameUsers returns the owners of formulas using a name
func (dt *DependencyTree) NameUsers(id NameID) []SLR {
	seen := make(map[SLR]struct{})
	dt.names.matching(id, func(u *UseRecord[NameID]) { seen[u.BySLR] = struct{}{} })
	return sortedSlots(seen)
}

// CustomUsers returns the owners of formulas calling a custom function
func (dt *DependencyTree) CustomUsers(id CustomID) []SLR {
	seen := make(map[SLR]struct{})
	dt.customs.matching(id, func(u *UseRecord[CustomID]) { seen[u.BySLR] = struct{}{} })
	return sortedSlots(seen)
}

// NameUsed reports whether any formula refers to the name
func (dt *DependencyTree) NameUsed(id NameID) bool {
	used := false
	dt.names.matching(id, func(*UseRecord[NameID]) { used = true })
	return used
}

// CustomUsed reports whether any formula calls the custom function
func (dt *DependencyTree) CustomUsed(id CustomID) bool {
	used := false
	dt.customs.matching(id, func(*UseRecord[CustomID]) { used = true })
	return used
}

// UsesWithin returns the slot and range uses whose target lies entirely
// inside r
func (dt *DependencyTree) UsesWithin(r Range) ([]UseRecord[SLR], []UseRecord[Range]) {
	t := dt.doc(r.S.Doc, false)
	if t == nil {
		return nil, nil
	}
	var slrs []UseRecord[SLR]
	var ranges []UseRecord[Range]
	t.slrs.scan(func(u *UseRecord[SLR]) bool {
		if r.Contains(u.RefTo) {
			slrs = append(slrs, *u)
		}
		return true
	})
	t.ranges.scan(func(u *UseRecord[Range]) bool {
		if u.RefTo.Within(r) {
			ranges = append(ranges, *u)
		}
		return true
	})
	return slrs, ranges
}

// ReferencingDoc returns the owners of formulas that refer to any slot of
// doc
func (dt *DependencyTree) ReferencingDoc(doc DocNo) []SLR {
	t := dt.doc(doc, false)
	if t == nil {
		return nil
	}
	seen := make(map[SLR]struct{})
	t.slrs.scan(func(u *UseRecord[SLR]) bool {
		seen[u.BySLR] = struct{}{}
		return true
	})
	t.ranges.scan(func(u *UseRecord[Range]) bool {
		seen[u.BySLR] = struct{}{}
		return true
	})
	return sortedSlots(seen)
}

// DocReferenced reports whether any formula refers into doc
func (dt *DependencyTree) DocReferenced(doc DocNo) bool {
	t := dt.doc(doc, false)
	return t != nil && (t.slrs.live() > 0 || t.ranges.live() > 0)
}

// DropDoc forgets the uses targeting doc
func (dt *DependencyTree) DropDoc(doc DocNo) {
	delete(dt.docs, doc)
}

// TreeStats counts the live records of each table kind
type TreeStats struct {
	SLRUses    int
	RangeUses  int
	NameUses   int
	CustomUses int
}

// Stats counts the live records
func (dt *DependencyTree) Stats() TreeStats {
	var s TreeStats
	for _, t := range dt.docs {
		s.SLRUses += t.slrs.live()
		s.RangeUses += t.ranges.live()
	}
	s.NameUses = dt.names.live()
	s.CustomUses = dt.customs.live()
	return s
}

// Check verifies the internal consistency of every table
func (dt *DependencyTree) Check() error {
	for d, t := range dt.docs {
		if err := t.slrs.check(fmt.Sprintf("doc %d slot", d)); err != nil {
			return err
		}
		if err := t.ranges.check(fmt.Sprintf("doc %d range", d)); err != nil {
			return err
		}
	}
	if err := dt.names.check("name"); err != nil {
		return err
	}
	return dt.customs.check("custom")
}

func sortedSlots(set map[SLR]struct{}) []SLR {
	if len(set) == 0 {
		return nil
	}
	out := make([]SLR, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
