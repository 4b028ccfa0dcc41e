package evaluator

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log"
	"strings"
)

// Options configure a new Engine. zero fields take their defaults.
type Options struct {
	Config *Config
	Logger *log.Logger
	Clock  Clock
	Random RandomGenerator
}

// RecalcStats summarises one call to Recalc
type RecalcStats struct {
	Slots    int  // formula slots evaluated
	Circular int  // slots found to be part of a circular reference
	Deferred int  // slots re-queued after running out of memory
	Done     bool // the worklist is empty and nothing is suspended
}

// DocumentInfo describes an open document
type DocumentInfo struct {
	No   DocNo
	Name string
	Kind DocKind
}

// EngineStats counts the entries of the engine's tables
type EngineStats struct {
	Tree      TreeStats
	Names     int
	Customs   int
	Documents int
	Todo      int
}

// Engine is the recalculation engine: it compiles formulas into a store,
// tracks what depends on what, and brings formula values up to date.
//
// An Engine is not safe for concurrent use. all calls must come from one
// goroutine.
type Engine struct {
	store  CellStore
	cfg    Config
	log    *log.Logger
	clock  Clock
	rng    RandomGenerator
	seeded bool

	docs     *DocumentTable
	tree     *DependencyTree
	names    *NameTable
	customs  *CustomTable
	todo     *TodoList
	volatile map[SLR]struct{}
	m        *machine
}

// NewEngine creates an engine over store. a nil store is replaced with a
// new MemoryStore.
func NewEngine(store CellStore, opts Options) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = opts.Config.withDefaults()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	var clock Clock = WallClock{}
	if opts.Clock != nil {
		clock = opts.Clock
	}
	var rng RandomGenerator = NewDefaultRandomGenerator()
	if opts.Random != nil {
		rng = opts.Random
	}

	e := &Engine{
		store:    store,
		cfg:      cfg,
		log:      logger,
		clock:    clock,
		rng:      rng,
		docs:     NewDocumentTable(),
		tree:     NewDependencyTree(cfg.MaxTableEntries),
		names:    NewNameTable(),
		customs:  NewCustomTable(),
		todo:     NewTodoList(),
		volatile: make(map[SLR]struct{}),
	}
	e.m = newMachine(e)
	return e
}

// Store returns the cell store the engine works on
func (e *Engine) Store() CellStore {
	return e.store
}

// Config returns the engine's configuration
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) debugf(format string, args ...any) {
	if e.cfg.Debug {
		e.log.Printf(format, args...)
	}
}

func (e *Engine) isCustomDoc(doc DocNo) bool {
	kind, ok := e.docs.Kind(doc)
	return ok && kind == DocCustom
}

func (e *Engine) slotName(s SLR) string {
	name, ok := e.docs.Name(s.Doc)
	if !ok {
		return FormatSLR(s.Plain())
	}
	return name + "!" + FormatSLR(s.Plain())
}

func (e *Engine) compileContext(s SLR) CompileContext {
	return CompileContext{Slot: s, Custom: e.isCustomDoc(s.Doc), Resolver: e}
}

// Resolver implementation

func (e *Engine) ResolveDoc(name string) DocNo {
	return e.docs.Intern(name)
}

func (e *Engine) DocName(doc DocNo) string {
	name, _ := e.docs.Name(doc)
	return name
}

func (e *Engine) ResolveName(owner DocNo, name string) NameID {
	return e.names.Ensure(owner, name)
}

func (e *Engine) NameLabel(id NameID) (DocNo, string) {
	owner, text, _ := e.names.Label(id)
	return owner, text
}

// ResolveCustom binds an unqualified call to a defined custom function in
// any document, preferring owner. a qualified call is bound to owner.
func (e *Engine) ResolveCustom(owner DocNo, name string, qualified bool) CustomID {
	if !qualified {
		if id, ok := e.customs.FindDefined(owner, name); ok {
			return id
		}
	}
	return e.customs.Ensure(owner, name)
}

func (e *Engine) CustomLabel(id CustomID) (DocNo, string) {
	owner, text, _ := e.customs.Label(id)
	return owner, text
}

// lookupResolver resolves against the tables as they stand. unknown
// documents, names and custom functions resolve to the zero handle
// instead of being interned, so text compiled during a recalculation
// leaves nothing behind.
type lookupResolver struct{ e *Engine }

func (r lookupResolver) ResolveDoc(name string) DocNo {
	id, _ := r.e.docs.ID(name)
	return id
}

func (r lookupResolver) DocName(doc DocNo) string { return r.e.DocName(doc) }

func (r lookupResolver) ResolveName(owner DocNo, name string) NameID {
	id, _ := r.e.names.Find(owner, name)
	return id
}

func (r lookupResolver) NameLabel(id NameID) (DocNo, string) { return r.e.NameLabel(id) }

func (r lookupResolver) ResolveCustom(owner DocNo, name string, qualified bool) CustomID {
	if !qualified {
		if id, ok := r.e.customs.FindDefined(owner, name); ok {
			return id
		}
	}
	id, _ := r.e.customs.Find(owner, name)
	return id
}

func (r lookupResolver) CustomLabel(id CustomID) (DocNo, string) { return r.e.CustomLabel(id) }

// evalContext compiles text met while evaluating the formula at s
func (e *Engine) evalContext(s SLR) CompileContext {
	return CompileContext{Slot: s, Custom: e.isCustomDoc(s.Doc), Resolver: lookupResolver{e}}
}

// documents

// OpenDocument opens a document, or turns a thunk left by earlier
// references into an open one. formulas already in the store for the
// document are attached and queued.
func (e *Engine) OpenDocument(name string, kind DocKind) (DocNo, error) {
	if strings.TrimSpace(name) == "" {
		return 0, NewApplicationError(InvalidArgument, "document name is empty")
	}
	if id, ok := e.docs.ID(name); ok && e.docs.IsOpen(id) {
		return id, NewApplicationError(AlreadyExists, fmt.Sprintf("document %q is already open", name))
	}
	e.edited()
	doc, wasThunk := e.docs.Define(name, kind)
	e.attach(doc)
	if wasThunk {
		e.queue(e.tree.ReferencingDoc(doc)...)
		for _, id := range e.customs.OwnedBy(doc) {
			e.queue(e.tree.CustomUsers(id)...)
		}
	}
	return doc, nil
}

// attach records the uses of formulas the store already holds for doc
func (e *Engine) attach(doc DocNo) {
	sc, ok := e.store.(FormulaScanner)
	if !ok {
		return
	}
	var slots []SLR
	for s := range sc.FormulaCells(DocumentRange(doc)) {
		slots = append(slots, s)
	}
	e.tree.Hold()
	defer e.tree.Release()
	for _, s := range slots {
		rpn, _ := e.store.CompiledFormula(s)
		e.tree.RemoveOwner(s)
		if err := e.addUses(s, rpn); err != nil {
			e.log.Printf("%s: %v", e.slotName(s), err)
			continue
		}
		e.afterInstall(s, rpn)
	}
}

// CloseDocument closes an open document. its formulas stop being tracked
// and its names and custom functions become undefined. formulas elsewhere
// that refer into it are queued and calculate to an external reference
// error; while any remain the document is kept as a thunk.
func (e *Engine) CloseDocument(doc DocNo) error {
	if !e.docs.IsOpen(doc) {
		return NewApplicationError(NotFound, fmt.Sprintf("document %d is not open", doc))
	}
	e.edited()

	if sc, ok := e.store.(FormulaScanner); ok {
		var owned []SLR
		for s := range sc.FormulaCells(DocumentRange(doc)) {
			owned = append(owned, s)
		}
		e.tree.Hold()
		for _, s := range owned {
			e.tree.RemoveOwner(s)
			delete(e.volatile, s)
		}
		e.tree.Release()
	}

	for _, id := range e.names.OwnedBy(doc) {
		if e.names.Undefine(id) {
			e.queue(e.tree.NameUsers(id)...)
		}
	}
	for _, id := range e.customs.OwnedBy(doc) {
		users := e.customUsers(id)
		if e.customs.Undefine(id) {
			e.queue(users...)
		}
	}

	e.todo.RemoveDoc(doc)
	e.docs.Undefine(doc)
	e.queue(e.tree.ReferencingDoc(doc)...)
	e.sweep()

	if !e.tree.DocReferenced(doc) && len(e.names.OwnedBy(doc)) == 0 && len(e.customs.OwnedBy(doc)) == 0 {
		e.tree.DropDoc(doc)
		e.docs.Remove(doc)
	}
	return nil
}

// DocumentNo looks up an open document by name
func (e *Engine) DocumentNo(name string) (DocNo, bool) {
	id, ok := e.docs.ID(name)
	if !ok || !e.docs.IsOpen(id) {
		return 0, false
	}
	return id, true
}

func (e *Engine) DocumentName(doc DocNo) (string, bool) {
	return e.docs.Name(doc)
}

// Documents lists the open documents
func (e *Engine) Documents() []DocumentInfo {
	var out []DocumentInfo
	for _, id := range e.docs.Defined() {
		name, _ := e.docs.Name(id)
		kind, _ := e.docs.Kind(id)
		out = append(out, DocumentInfo{No: id, Name: name, Kind: kind})
	}
	return out
}

// cells

func (e *Engine) checkSlot(s SLR) error {
	if s.Bad() {
		return NewApplicationError(InvalidArgument, "bad slot reference")
	}
	p := s.Plain()
	if p.Col > MaxCol || p.Row >= MaxRow {
		return NewApplicationError(OutOfRange, fmt.Sprintf("slot %s is outside the grid", FormatSLR(p)))
	}
	if !e.docs.IsOpen(s.Doc) {
		return NewApplicationError(NotFound, fmt.Sprintf("document %d is not open", s.Doc))
	}
	return nil
}

// SetFormula compiles text into the slot s and queues it. the previous
// formula's uses are replaced by the new one's.
func (e *Engine) SetFormula(s SLR, text string) error {
	if err := e.checkSlot(s); err != nil {
		return err
	}
	s = s.Plain()
	rpn, err := Compile(text, e.compileContext(s))
	if err != nil {
		e.sweep()
		return fmt.Errorf("%s: %w", e.slotName(s), err)
	}
	e.edited()
	return e.install(s, rpn)
}

func (e *Engine) install(s SLR, rpn []byte) error {
	old, had := e.store.CompiledFormula(s)
	old = append([]byte(nil), old...)

	e.tree.RemoveOwner(s)
	e.store.SetCompiledFormula(s, rpn)
	if err := e.addUses(s, rpn); err != nil {
		e.tree.RemoveOwner(s)
		if had {
			e.store.SetCompiledFormula(s, old)
			_ = e.addUses(s, old)
		} else {
			e.store.SetCompiledFormula(s, nil)
		}
		e.log.Printf("%s: %v", e.slotName(s), err)
		return fmt.Errorf("%s: %w", e.slotName(s), err)
	}
	if had {
		e.collect(old)
	}
	e.afterInstall(s, rpn)
	return nil
}

func (e *Engine) afterInstall(s SLR, rpn []byte) {
	if e.isCustomDoc(s.Doc) {
		e.updateCustomHeader(s, rpn)
		e.queue(s)
		return
	}
	e.todo.Add(s)
	if usesVolatile(rpn) {
		e.volatile[s] = struct{}{}
	} else {
		delete(e.volatile, s)
	}
}

// addUses records a use for every reference in rpn. references marked bad
// are skipped.
func (e *Engine) addUses(s SLR, rpn []byte) error {
	var err error
	walkErr := Walk(rpn, func(in Instr) bool {
		switch in.Op {
		case OpSLR:
			if !in.SLR.Bad() {
				err = e.tree.AddSLRUse(in.SLR.Plain(), s, in.Offset)
			}
		case OpRange:
			if !in.Range.Bad() {
				err = e.tree.AddRangeUse(in.Range.Plain(), s, in.Offset)
			}
		case OpName:
			err = e.tree.AddNameUse(in.Name, s, in.Offset)
		case OpCustom:
			err = e.tree.AddCustomUse(in.Custom, s, in.Offset)
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	return walkErr
}

func usesVolatile(rpn []byte) bool {
	found := false
	_ = Walk(rpn, func(in Instr) bool {
		if in.Op == OpFunc {
			if def, ok := funcDef(in.Func); ok && def.Flags&FlagVolatile != 0 {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// dropFormula removes the formula at s, if any, with its uses
func (e *Engine) dropFormula(s SLR) {
	rpn, had := e.store.CompiledFormula(s)
	if !had {
		return
	}
	old := append([]byte(nil), rpn...)
	e.tree.RemoveOwner(s)
	e.store.SetCompiledFormula(s, nil)
	e.todo.Remove(s)
	delete(e.volatile, s)
	if e.isCustomDoc(s.Doc) {
		e.queue(s)
		e.updateCustomHeader(s, nil)
	}
	e.collect(old)
}

// SetValue stores a constant into s, replacing any formula
func (e *Engine) SetValue(s SLR, v Value) error {
	if err := e.checkSlot(s); err != nil {
		return err
	}
	s = s.Plain()
	switch v.(type) {
	case nil:
		v = Blank{}
	case RangeRef, SLRRef, NameRef:
		return NewApplicationError(InvalidArgument, fmt.Sprintf("cannot store a %s in a slot", v.Type()))
	}
	e.edited()
	e.dropFormula(s)
	old := e.store.CellValue(s)
	e.store.SetCellValue(s, CopyValue(v))
	if !Equal(old, v) {
		e.queueDependents(s)
	}
	return nil
}

// ClearCell empties s
func (e *Engine) ClearCell(s SLR) error {
	if err := e.checkSlot(s); err != nil {
		return err
	}
	s = s.Plain()
	e.edited()
	e.dropFormula(s)
	old := e.store.CellValue(s)
	e.store.ClearCell(s)
	if _, blank := old.(Blank); !blank {
		e.queueDependents(s)
	}
	return nil
}

// assignValue writes a value computed by SET_VALUE. the slot keeps its
// formula, if it has one.
func (e *Engine) assignValue(s SLR, v Value) {
	s = s.Plain()
	old := e.store.CellValue(s)
	e.store.SetCellValue(s, v)
	// statements of a custom function are scratch space for its own run
	if !Equal(old, v) && !e.isCustomDoc(s.Doc) {
		e.queueDependents(s)
	}
}

// DeleteCells empties every slot of r. references into r held by other
// formulas are marked bad, so those formulas calculate to a lost reference
// error; names defined as references into r are redefined as that error.
func (e *Engine) DeleteCells(r Range) error {
	r = r.Plain()
	if !e.docs.IsOpen(r.S.Doc) {
		return NewApplicationError(NotFound, fmt.Sprintf("document %d is not open", r.S.Doc))
	}
	e.edited()
	e.tree.Hold()
	defer e.tree.Release()

	slrs, ranges := e.tree.UsesWithin(r)
	marks := make(map[SLR][]int)
	// dynamic uses have nothing to mark; their owners are queued with the
	// dependents of the cleared slots
	for _, u := range slrs {
		if !u.Dynamic() {
			marks[u.BySLR] = append(marks[u.BySLR], u.ByOffset)
		}
	}
	for _, u := range ranges {
		if !u.Dynamic() {
			marks[u.BySLR] = append(marks[u.BySLR], u.ByOffset)
		}
	}
	owners := make(map[SLR]struct{}, len(marks))
	for s := range marks {
		owners[s] = struct{}{}
	}

	var firstErr error
	for _, owner := range sortedSlots(owners) {
		if r.Contains(owner) {
			continue
		}
		rpn, ok := e.store.CompiledFormula(owner)
		if !ok {
			continue
		}
		// stored formulas are shared, mark a copy
		bad := append([]byte(nil), rpn...)
		for _, off := range marks[owner] {
			markBad(bad, off)
		}
		e.tree.RemoveOwner(owner)
		e.store.SetCompiledFormula(owner, bad)
		if err := e.addUses(owner, bad); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", e.slotName(owner), err)
		}
		e.queue(owner)
	}

	for _, id := range e.names.IDs() {
		def, ok := e.names.Get(id)
		if !ok || !refWithin(def, r) {
			continue
		}
		owner, text, _ := e.names.Label(id)
		e.names.Define(owner, text, NewError(ErrRefLost))
		e.queue(e.tree.NameUsers(id)...)
	}

	var cells []SLR
	for s := range e.occupied(r) {
		cells = append(cells, s)
	}
	for _, s := range cells {
		e.dropFormula(s)
		e.store.ClearCell(s)
		e.queueDependents(s)
	}
	return firstErr
}

// occupied lists the slots of r holding anything
func (e *Engine) occupied(r Range) iter.Seq[SLR] {
	if sc, ok := e.store.(interface{ Cells(Range) iter.Seq[SLR] }); ok {
		return sc.Cells(r)
	}
	return func(yield func(SLR) bool) {
		for s := range r.Slots() {
			if e.store.CellExists(s) && !yield(s) {
				return
			}
		}
	}
}

func refWithin(v Value, r Range) bool {
	switch x := v.(type) {
	case SLRRef:
		return r.Contains(SLR(x).Plain())
	case RangeRef:
		return Range(x).Plain().Within(r)
	}
	return false
}

func refCovers(v Value, s SLR) bool {
	switch x := v.(type) {
	case SLRRef:
		return SLR(x).Plain() == s
	case RangeRef:
		return Range(x).Plain().Contains(s)
	}
	return false
}

// names

// DefineName defines or redefines a name in doc. the definition is a
// constant, an array, or a reference to a slot or range.
func (e *Engine) DefineName(doc DocNo, name string, v Value) error {
	if !isIdentifier(name) {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("%q is not a valid name", name))
	}
	if _, ok := parseCoords(name); ok {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("%q looks like a slot reference", name))
	}
	if !e.docs.IsOpen(doc) {
		return NewApplicationError(NotFound, fmt.Sprintf("document %d is not open", doc))
	}
	switch v.(type) {
	case nil, NameRef:
		return NewApplicationError(InvalidArgument, "a name must be defined as a constant or a reference")
	}
	e.edited()
	e.defineName(doc, name, v)
	return nil
}

// defineName sets a name without disturbing a recalculation in progress.
// users are queued when the definition changes.
func (e *Engine) defineName(doc DocNo, name string, v Value) {
	var prev Value
	defined := false
	if id, ok := e.names.Find(doc, name); ok {
		prev, defined = e.names.Get(id)
	}
	id := e.names.Define(doc, name, CopyValue(v))
	if !defined || !Equal(prev, v) {
		e.queue(e.tree.NameUsers(id)...)
	}
}

// DefineNameFormula defines a name from text holding a single constant or
// reference, such as "A1:B4" or "Other!C3"
func (e *Engine) DefineNameFormula(doc DocNo, name, text string) error {
	if !e.docs.IsOpen(doc) {
		return NewApplicationError(NotFound, fmt.Sprintf("document %d is not open", doc))
	}
	rpn, err := Compile(text, e.compileContext(SLR{Doc: doc}))
	if err != nil {
		e.sweep()
		return fmt.Errorf("name %s: %w", name, err)
	}
	var v Value
	n := 0
	_ = Walk(rpn, func(in Instr) bool {
		n++
		switch {
		case in.Op == OpSLR && !in.SLR.Bad():
			v = SLRRef(in.SLR.Plain())
		case in.Op == OpRange && !in.Range.Bad():
			v = RangeRef(in.Range.Plain())
		case in.Lit != nil:
			v = in.Lit
		}
		return true
	})
	if n != 1 || v == nil {
		e.sweep()
		return NewApplicationError(InvalidArgument, fmt.Sprintf("name %s must be a constant or a reference", name))
	}
	return e.DefineName(doc, name, v)
}

// UndefineName removes the definition of a name. formulas using it are
// queued and calculate to an undefined name error.
func (e *Engine) UndefineName(doc DocNo, name string) error {
	id, ok := e.names.Find(doc, name)
	if !ok || !e.names.Defined(id) {
		return NewApplicationError(NotFound, fmt.Sprintf("name %q is not defined", name))
	}
	e.edited()
	e.names.Undefine(id)
	e.queue(e.tree.NameUsers(id)...)
	e.collectName(id)
	return nil
}

// NameValue returns the definition of a name
func (e *Engine) NameValue(doc DocNo, name string) (Value, bool) {
	id, ok := e.names.Find(doc, name)
	if !ok {
		return nil, false
	}
	v, ok := e.names.Get(id)
	return v, ok
}

// collect drops the name and custom entries rpn used that are now both
// undefined and unused
func (e *Engine) collect(rpn []byte) {
	_ = Walk(rpn, func(in Instr) bool {
		switch in.Op {
		case OpName:
			e.collectName(in.Name)
		case OpCustom:
			e.collectCustom(in.Custom)
		}
		return true
	})
}

func (e *Engine) collectName(id NameID) {
	if e.names.Exists(id) && !e.names.Defined(id) && !e.tree.NameUsed(id) {
		e.names.Remove(id)
	}
}

func (e *Engine) collectCustom(id CustomID) {
	if e.customs.Exists(id) && !e.customs.Defined(id) && !e.tree.CustomUsed(id) {
		e.customs.Remove(id)
	}
}

// sweep collects every entry left undefined and unused
func (e *Engine) sweep() {
	for _, id := range e.names.IDs() {
		e.collectName(id)
	}
	for _, id := range e.customs.IDs() {
		e.collectCustom(id)
	}
}

// custom functions

// customHeader decodes a FUNCTION("name", "arg:type", ...) statement
func customHeader(rpn []byte) (string, []CustomArg, bool) {
	var lits []string
	var last Instr
	n := 0
	if err := Walk(rpn, func(in Instr) bool {
		n++
		last = in
		if s, ok := in.Lit.(String); ok && in.Op == OpString {
			lits = append(lits, string(s))
		}
		return true
	}); err != nil || n == 0 || last.Op != OpFunc {
		return "", nil, false
	}
	def, ok := funcDef(last.Func)
	if !ok || def.Control != ControlFunction || len(lits) != last.NArgs || n != last.NArgs+1 {
		return "", nil, false
	}
	if !isIdentifier(lits[0]) {
		return "", nil, false
	}
	args := make([]CustomArg, 0, len(lits)-1)
	for _, decl := range lits[1:] {
		a, ok := parseCustomArg(decl)
		if !ok {
			return "", nil, false
		}
		args = append(args, a)
	}
	return lits[0], args, true
}

// updateCustomHeader defines the custom function headed at s, or undefines
// one that no longer is
func (e *Engine) updateCustomHeader(s SLR, rpn []byte) {
	name, args, isHeader := customHeader(rpn)
	if old, ok := e.customs.ByHeader(s); ok {
		_, oldName, _ := e.customs.Label(old)
		if !isHeader || foldName(oldName) != foldName(name) {
			users := e.customUsers(old)
			e.customs.Undefine(old)
			e.queue(users...)
			e.collectCustom(old)
		}
	}
	if !isHeader {
		return
	}
	if id, ok := e.customs.Find(s.Doc, name); ok {
		if def, defined := e.customs.Get(id); defined && def.Header != s {
			e.log.Printf("%s: custom function %s redefined, was at %s", e.slotName(s), name, e.slotName(def.Header))
		}
	}
	id := e.customs.Define(s.Doc, name, CustomDef{Header: s, Args: args})
	e.queue(e.customUsers(id)...)
}

// customUsers lists the callers of a custom function, including unqualified
// calls that were made before it was defined
func (e *Engine) customUsers(id CustomID) []SLR {
	users := e.tree.CustomUsers(id)
	_, text, ok := e.customs.Label(id)
	if !ok {
		return users
	}
	key := foldName(text)
	for _, other := range e.customs.IDs() {
		if other == id || e.customs.Defined(other) {
			continue
		}
		owner, t, _ := e.customs.Label(other)
		if foldName(t) == key && e.docs.IsOpen(owner) && !e.isCustomDoc(owner) {
			users = append(users, e.tree.CustomUsers(other)...)
		}
	}
	return users
}

// owningCustom finds the custom function whose body holds statement s: the
// nearest header at or above s in its column
func (e *Engine) owningCustom(s SLR) (CustomID, bool) {
	var best CustomID
	bestRow := int32(-1)
	for _, id := range e.customs.OwnedBy(s.Doc) {
		def, ok := e.customs.Get(id)
		if !ok || def.Header.Col != s.Col || def.Header.Row > s.Row {
			continue
		}
		if def.Header.Row > bestRow {
			best, bestRow = id, def.Header.Row
		}
	}
	return best, bestRow >= 0
}

// queueing

// queue adds slots to the worklist. a statement of a custom function
// stands for every slot calling that function.
func (e *Engine) queue(slots ...SLR) {
	var seen map[CustomID]bool
	for _, s := range slots {
		if !e.isCustomDoc(s.Doc) {
			if e.docs.IsOpen(s.Doc) {
				e.todo.Add(s)
			}
			continue
		}
		id, ok := e.owningCustom(s)
		if !ok {
			continue
		}
		if seen == nil {
			seen = make(map[CustomID]bool)
		}
		e.queueCallers(id, seen)
	}
}

func (e *Engine) queueCallers(id CustomID, seen map[CustomID]bool) {
	if seen[id] {
		return
	}
	seen[id] = true
	for _, u := range e.customUsers(id) {
		if !e.isCustomDoc(u.Doc) {
			e.todo.Add(u)
			continue
		}
		if outer, ok := e.owningCustom(u); ok {
			e.queueCallers(outer, seen)
		}
	}
}

// dependentsOf lists the formulas referring to s directly, through a range,
// or through a name defined over it
func (e *Engine) dependentsOf(s SLR) []SLR {
	s = s.Plain()
	set := make(map[SLR]struct{})
	for _, d := range e.tree.Dependents(s) {
		set[d] = struct{}{}
	}
	for _, id := range e.names.IDs() {
		if def, ok := e.names.Get(id); ok && refCovers(def, s) {
			for _, u := range e.tree.NameUsers(id) {
				set[u] = struct{}{}
			}
		}
	}
	return sortedSlots(set)
}

func (e *Engine) queueDependents(s SLR) {
	e.queue(e.dependentsOf(s)...)
}

// FindDependents lists the formulas that refer to target
func (e *Engine) FindDependents(target SLR) []SLR {
	return e.dependentsOf(target)
}

// QueueVolatile queues every formula using a volatile function such as
// RAND or NOW, returning how many were queued
func (e *Engine) QueueVolatile() int {
	n := 0
	for s := range e.volatile {
		if e.todo.Add(s) {
			n++
		}
	}
	return n
}

// recalculation

// the root loop starts a fresh pass when a slot already done in this one
// is queued again, at most this many times per call
const maxRepasses = 64

// edited abandons a suspended recalculation before the tables change
func (e *Engine) edited() {
	if len(e.m.stack) > 0 {
		e.log.Printf("edit during recalculation, abandoning %d frames", len(e.m.stack))
		e.m.zap()
	}
}

// Recalc brings queued formulas up to date. it returns early, with the
// evaluation suspended, once Config.SliceSlots slots have been calculated
// or when ctx is done; the next call resumes where it stopped.
func (e *Engine) Recalc(ctx context.Context) (RecalcStats, error) {
	m := e.m
	m.finished, m.circular, m.deferred = 0, 0, nil
	m.slotDone = false
	if len(m.stack) == 0 {
		m.newPass()
		e.tree.Sort()
		if e.cfg.TodoSort {
			e.todo.Sort()
		}
	}

	finish := func() RecalcStats {
		for _, s := range m.deferred {
			e.todo.Add(s)
		}
		st := RecalcStats{
			Slots:    m.finished,
			Circular: m.circular,
			Deferred: len(m.deferred),
			Done:     len(m.stack) == 0 && e.todo.Len() == 0,
		}
		m.deferred = nil
		return st
	}

	if err := ctx.Err(); err != nil {
		return finish(), err
	}
	repasses := 0
	for {
		if len(m.stack) == 0 {
			s, ok := e.todo.Next()
			if !ok {
				break
			}
			if !m.calcable(s) {
				e.todo.Remove(s)
				continue
			}
			if m.stamp(s).done == m.pass && repasses < maxRepasses {
				repasses++
				m.newPass()
			}
			m.push(&calcSlotFrame{slr: s})
		}

		m.top().step(m)

		if m.slotDone {
			m.slotDone = false
			if err := ctx.Err(); err != nil {
				return finish(), err
			}
			if e.cfg.SliceSlots > 0 && m.finished >= e.cfg.SliceSlots {
				e.debugf("yielding after %d slots, %d frames suspended", m.finished, len(m.stack))
				return finish(), nil
			}
		}
	}
	if m.circular > 0 {
		e.log.Printf("%d slots in circular references", m.circular)
	}
	e.checkTables()
	return finish(), nil
}

// checkTables verifies the dependency tables in debug mode
func (e *Engine) checkTables() {
	if !e.cfg.Debug {
		return
	}
	if err := e.tree.Check(); err != nil {
		e.log.Printf("dependency tables corrupt: %v", err)
		panic(NewApplicationError(Internal, err.Error()))
	}
}

// queries

// Value returns the stored value of s
func (e *Engine) Value(s SLR) Value {
	if !e.docs.IsOpen(s.Doc) {
		return NewError(ErrExtRefUnavailable)
	}
	return e.store.CellValue(s.Plain())
}

// FormulaText decompiles the formula at s
func (e *Engine) FormulaText(s SLR) (string, bool) {
	s = s.Plain()
	rpn, ok := e.store.CompiledFormula(s)
	if !ok {
		return "", false
	}
	text, err := Decompile(rpn, e.compileContext(s))
	if err != nil {
		e.log.Printf("%s: %v", e.slotName(s), err)
		return "", false
	}
	return text, true
}

// TodoLen is the number of queued slots
func (e *Engine) TodoLen() int {
	return e.todo.Len()
}

// Todo lists the queued slots in order
func (e *Engine) Todo() []SLR {
	return e.todo.Slots()
}

// StackDepth is the number of frames of a suspended recalculation
func (e *Engine) StackDepth() int {
	return len(e.m.stack)
}

func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Tree:      e.tree.Stats(),
		Names:     e.names.Count(),
		Customs:   e.customs.Count(),
		Documents: e.docs.Count(),
		Todo:      e.todo.Len(),
	}
}

// referenceFromText compiles text relative to at and returns it when it is
// a single slot or range reference. name is set when the text is a name,
// whether or not it is defined as a reference.
func (e *Engine) referenceFromText(text string, at SLR) (ref Value, name NameID, ok bool) {
	rpn, err := Compile(text, e.evalContext(at))
	if err != nil {
		return nil, 0, false
	}
	n := 0
	_ = Walk(rpn, func(in Instr) bool {
		n++
		switch in.Op {
		case OpSLR:
			ref = SLRRef(in.SLR.Plain())
		case OpRange:
			ref = RangeRef(in.Range.Plain())
		case OpName:
			name = in.Name
			if def, ok := e.names.Get(in.Name); ok {
				switch def.(type) {
				case SLRRef, RangeRef:
					ref = def
				}
			}
		}
		return true
	})
	if n != 1 {
		return nil, 0, false
	}
	return ref, name, ref != nil
}

// useDynamic records that evaluating owner read ref through a reference
// the formula computed, so a later change to ref queues owner. the record
// lasts until owner is next evaluated.
func (e *Engine) useDynamic(owner SLR, ref Value) {
	var err error
	switch x := ref.(type) {
	case SLRRef:
		if s := SLR(x); s.Doc != 0 && !s.Bad() {
			err = e.tree.AddDynamicSLRUse(s, owner)
		}
	case RangeRef:
		if r := Range(x); r.S.Doc != 0 && !r.Bad() {
			err = e.tree.AddDynamicRangeUse(r, owner)
		}
	case NameRef:
		if x != 0 {
			err = e.tree.AddDynamicNameUse(NameID(x), owner)
		}
	}
	if err != nil {
		e.log.Printf("%s: %v", e.slotName(owner), err)
	}
}

// useDynamicFormula records the references of a formula compiled during
// evaluation. relative references that move down rows rows are recorded
// over all the slots they visit.
func (e *Engine) useDynamicFormula(owner SLR, rpn []byte, rows int32) {
	_ = Walk(rpn, func(in Instr) bool {
		if (in.Op == OpSLR && in.SLR.Bad()) || (in.Op == OpRange && in.Range.Bad()) {
			return true
		}
		switch in.Op {
		case OpSLR:
			if rows <= 1 || in.SLR.AbsRow() {
				e.useDynamic(owner, SLRRef(in.SLR.Plain()))
			} else {
				last := in.SLR.Offset(0, rows-1).Plain()
				e.useDynamic(owner, RangeRef(NewRange(in.SLR.Plain(), last)))
			}
		case OpRange:
			r := in.Range.Plain()
			if rows > 1 {
				moved := in.Range.Offset(0, rows-1).Plain()
				r.E.Row = max(r.E.Row, moved.E.Row)
			}
			e.useDynamic(owner, RangeRef(r))
		case OpName:
			e.useDynamic(owner, NameRef(in.Name))
		}
		return true
	})
}

// addresses

// ParseSLR parses "A1", "doc!A1" or "[doc]A1". an unqualified reference is
// in doc.
func (e *Engine) ParseSLR(text string, doc DocNo) (SLR, error) {
	docName, rest, qualified := splitDocPrefix(strings.TrimSpace(text))
	if qualified {
		id, ok := e.DocumentNo(docName)
		if !ok {
			return SLR{}, NewApplicationError(NotFound, fmt.Sprintf("document %q is not open", docName))
		}
		doc = id
	}
	s, ok := parseCoords(rest)
	if !ok {
		return SLR{}, NewApplicationError(InvalidArgument, fmt.Sprintf("bad slot reference %q", text))
	}
	s = s.Plain()
	s.Doc = doc
	return s, nil
}

// ParseRange parses "A1:C4" or a single slot, optionally qualified by a
// document
func (e *Engine) ParseRange(text string, doc DocNo) (Range, error) {
	docName, rest, qualified := splitDocPrefix(strings.TrimSpace(text))
	prefix := ""
	if qualified {
		prefix = "[" + docName + "]"
	}
	a, b, isRange := strings.Cut(rest, ":")
	s, err := e.ParseSLR(prefix+a, doc)
	if err != nil {
		return Range{}, err
	}
	if !isRange {
		return NewRange(s, s), nil
	}
	end, err := e.ParseSLR(prefix+b, doc)
	if err != nil {
		return Range{}, err
	}
	return NewRange(s, end), nil
}
