package evaluator

import (
	"iter"
	"math/bits"
	"sort"
)

// CellStore is the engine's view of slot contents. the host owns the cells;
// the engine reads compiled formulas and writes results through it.
type CellStore interface {
	// CompiledFormula returns the formula at s. the returned slice must not
	// be modified.
	CompiledFormula(s SLR) ([]byte, bool)
	SetCompiledFormula(s SLR, rpn []byte)
	CellValue(s SLR) Value
	SetCellValue(s SLR, v Value)
	CellExists(s SLR) bool
	ClearCell(s SLR)
}

// FormulaScanner is implemented by stores that can list formula slots in
// a range without visiting every slot
type FormulaScanner interface {
	FormulaCells(r Range) iter.Seq[SLR]
}

// formulaCells lists the formula slots in r, using the store's scanner
// when it has one
func formulaCells(st CellStore, r Range) iter.Seq[SLR] {
	if sc, ok := st.(FormulaScanner); ok {
		return sc.FormulaCells(r)
	}
	return func(yield func(SLR) bool) {
		for s := range r.Slots() {
			if _, ok := st.CompiledFormula(s); ok {
				if !yield(s) {
					return
				}
			}
		}
	}
}

const (
	ChunkRows int32 = 256 // rows per chunk, a power of 2 for cheap modulo
	ChunkCols int32 = 256
	ChunkSize       = int(ChunkRows * ChunkCols)
)

type chunkKey struct {
	row int32
	col int32
}

// chunk is a 256x256 region stored as parallel arrays. only kinds and the
// occupancy bitmap exist at first; the rest is allocated on demand.
type chunk struct {
	kinds    []DataType
	occupied []uint64
	count    int

	numbers    []float64     // Real and Integer values (lazy)
	stringIDs  []uint32      // interned String values (lazy)
	extras     map[int]Value // dates, errors and arrays (lazy)
	formulaIDs []uint32      // interned compiled formulas (lazy)
}

func newChunk() *chunk {
	return &chunk{
		kinds:    make([]DataType, ChunkSize),
		occupied: make([]uint64, (ChunkSize+63)/64),
	}
}

func (c *chunk) isSet(idx int) bool {
	return c.occupied[idx/64]&(1<<(idx%64)) != 0
}

func (c *chunk) mark(idx int, on bool) {
	was := c.isSet(idx)
	switch {
	case on && !was:
		c.occupied[idx/64] |= 1 << (idx % 64)
		c.count++
	case !on && was:
		c.occupied[idx/64] &^= 1 << (idx % 64)
		c.count--
	}
}

type memDoc struct {
	chunks map[chunkKey]*chunk
}

// MemoryStore is an in-memory CellStore. cells are held in sparse chunks;
// strings and compiled formulas are interned with reference counts so
// repeated text and copied formulas are shared.
type MemoryStore struct {
	docs     map[DocNo]*memDoc
	strings  *stringTable
	formulas *formulaTable
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[DocNo]*memDoc),
		strings:  newStringTable(),
		formulas: newFormulaTable(),
	}
}

func locate(s SLR) (chunkKey, int) {
	p := s.Plain()
	key := chunkKey{row: p.Row / ChunkRows, col: p.Col / ChunkCols}
	// column-first indexing so column scans stay within a chunk
	idx := int((p.Col%ChunkCols)*ChunkRows + p.Row%ChunkRows)
	return key, idx
}

func (ms *MemoryStore) lookup(s SLR) (*chunk, int) {
	d, ok := ms.docs[s.Doc]
	if !ok {
		return nil, 0
	}
	key, idx := locate(s)
	c, ok := d.chunks[key]
	if !ok {
		return nil, 0
	}
	return c, idx
}

func (ms *MemoryStore) chunkFor(s SLR) (*chunk, int) {
	d, ok := ms.docs[s.Doc]
	if !ok {
		d = &memDoc{chunks: make(map[chunkKey]*chunk)}
		ms.docs[s.Doc] = d
	}
	key, idx := locate(s)
	c, ok := d.chunks[key]
	if !ok {
		c = newChunk()
		d.chunks[key] = c
	}
	return c, idx
}

func (ms *MemoryStore) dropIfEmpty(s SLR, c *chunk) {
	if c.count > 0 {
		return
	}
	key, _ := locate(s)
	delete(ms.docs[s.Doc].chunks, key)
}

// CompiledFormula returns the formula at s
func (ms *MemoryStore) CompiledFormula(s SLR) ([]byte, bool) {
	c, idx := ms.lookup(s)
	if c == nil || c.formulaIDs == nil || c.formulaIDs[idx] == 0 {
		return nil, false
	}
	return ms.formulas.get(c.formulaIDs[idx])
}

// SetCompiledFormula stores rpn at s, replacing any formula there. a nil
// rpn removes the formula and keeps the value.
func (ms *MemoryStore) SetCompiledFormula(s SLR, rpn []byte) {
	if rpn == nil {
		c, idx := ms.lookup(s)
		if c == nil || c.formulaIDs == nil || c.formulaIDs[idx] == 0 {
			return
		}
		ms.formulas.release(c.formulaIDs[idx])
		c.formulaIDs[idx] = 0
		c.mark(idx, c.kinds[idx] != TypeBlank)
		ms.dropIfEmpty(s, c)
		return
	}

	c, idx := ms.chunkFor(s)
	if c.formulaIDs == nil {
		c.formulaIDs = make([]uint32, ChunkSize)
	}
	id := ms.formulas.intern(rpn)
	if old := c.formulaIDs[idx]; old != 0 {
		ms.formulas.release(old)
	}
	c.formulaIDs[idx] = id
	c.mark(idx, true)
}

// CellValue returns the value at s, blank when empty
func (ms *MemoryStore) CellValue(s SLR) Value {
	c, idx := ms.lookup(s)
	if c == nil {
		return Blank{}
	}
	switch k := c.kinds[idx]; k {
	case TypeBlank:
		return Blank{}
	case TypeReal:
		return Real(c.numbers[idx])
	case TypeWord8, TypeWord16, TypeWord32:
		return Integer(int32(c.numbers[idx]))
	case TypeString:
		str, _ := ms.strings.get(c.stringIDs[idx])
		return String(str)
	default:
		if v, ok := c.extras[idx]; ok {
			return CopyValue(v)
		}
	}
	return Blank{}
}

func (ms *MemoryStore) clearValue(c *chunk, idx int) {
	switch c.kinds[idx] {
	case TypeString:
		ms.strings.release(c.stringIDs[idx])
		c.stringIDs[idx] = 0
	case TypeDate, TypeError, TypeArray:
		delete(c.extras, idx)
	}
	c.kinds[idx] = TypeBlank
}

// SetCellValue stores v at s, keeping any formula
func (ms *MemoryStore) SetCellValue(s SLR, v Value) {
	if v == nil {
		v = Blank{}
	}
	if _, isBlank := v.(Blank); isBlank {
		c, idx := ms.lookup(s)
		if c == nil {
			return
		}
		ms.clearValue(c, idx)
		c.mark(idx, c.formulaIDs != nil && c.formulaIDs[idx] != 0)
		ms.dropIfEmpty(s, c)
		return
	}

	c, idx := ms.chunkFor(s)
	ms.clearValue(c, idx)
	switch x := v.(type) {
	case Real, Integer:
		if c.numbers == nil {
			c.numbers = make([]float64, ChunkSize)
		}
		f, _ := AsFloat(x)
		c.numbers[idx] = f
	case String:
		if c.stringIDs == nil {
			c.stringIDs = make([]uint32, ChunkSize)
		}
		c.stringIDs[idx] = ms.strings.intern(string(x))
	case Date, Error, *Array:
		if c.extras == nil {
			c.extras = make(map[int]Value)
		}
		c.extras[idx] = CopyValue(x)
	default:
		// references are never stored as cell values
		c.mark(idx, c.formulaIDs != nil && c.formulaIDs[idx] != 0)
		ms.dropIfEmpty(s, c)
		return
	}
	c.kinds[idx] = v.Type()
	c.mark(idx, true)
}

// CellExists checks whether s holds a value or a formula
func (ms *MemoryStore) CellExists(s SLR) bool {
	c, idx := ms.lookup(s)
	return c != nil && c.isSet(idx)
}

// ClearCell removes the value and the formula at s
func (ms *MemoryStore) ClearCell(s SLR) {
	c, idx := ms.lookup(s)
	if c == nil || !c.isSet(idx) {
		return
	}
	ms.clearValue(c, idx)
	if c.formulaIDs != nil && c.formulaIDs[idx] != 0 {
		ms.formulas.release(c.formulaIDs[idx])
		c.formulaIDs[idx] = 0
	}
	c.mark(idx, false)
	ms.dropIfEmpty(s, c)
}

// chunkSlots yields the occupied slots of the chunks overlapping r,
// clipped to r, in column-major order
func (ms *MemoryStore) chunkSlots(r Range, want func(*chunk, int) bool) iter.Seq[SLR] {
	return func(yield func(SLR) bool) {
		d, ok := ms.docs[r.S.Doc]
		if !ok {
			return
		}
		p := r.Plain()
		keys := make([]chunkKey, 0, len(d.chunks))
		for key := range d.chunks {
			if key.col*ChunkCols < p.E.Col && (key.col+1)*ChunkCols > p.S.Col &&
				key.row*ChunkRows < p.E.Row && (key.row+1)*ChunkRows > p.S.Row {
				keys = append(keys, key)
			}
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].col != keys[j].col {
				return keys[i].col < keys[j].col
			}
			return keys[i].row < keys[j].row
		})
		for _, key := range keys {
			c := d.chunks[key]
			for w, word := range c.occupied {
				for word != 0 {
					bit := bits.TrailingZeros64(word)
					word &^= 1 << bit
					idx := w*64 + bit
					s := SLR{
						Doc: r.S.Doc,
						Col: key.col*ChunkCols + int32(idx)/ChunkRows,
						Row: key.row*ChunkRows + int32(idx)%ChunkRows,
					}
					if !p.Contains(s) || !want(c, idx) {
						continue
					}
					if !yield(s) {
						return
					}
				}
			}
		}
	}
}

// FormulaCells yields the formula slots within r
func (ms *MemoryStore) FormulaCells(r Range) iter.Seq[SLR] {
	return ms.chunkSlots(r, func(c *chunk, idx int) bool {
		return c.formulaIDs != nil && c.formulaIDs[idx] != 0
	})
}

// Cells yields every occupied slot within r
func (ms *MemoryStore) Cells(r Range) iter.Seq[SLR] {
	return ms.chunkSlots(r, func(*chunk, int) bool { return true })
}

// DocumentRange returns a range covering every slot of doc
func DocumentRange(doc DocNo) Range {
	return Range{S: SLR{Doc: doc}, E: SLR{Doc: doc, Col: MaxCol + 1, Row: MaxRow}}
}

// RemoveDocument drops every cell of doc
func (ms *MemoryStore) RemoveDocument(doc DocNo) {
	var slots []SLR
	for s := range ms.Cells(DocumentRange(doc)) {
		slots = append(slots, s)
	}
	for _, s := range slots {
		ms.ClearCell(s)
	}
	delete(ms.docs, doc)
}

// Stats reports the number of occupied cells, interned strings and
// distinct compiled formulas
func (ms *MemoryStore) Stats() (cells, strings, formulas int) {
	for _, d := range ms.docs {
		for _, c := range d.chunks {
			cells += c.count
		}
	}
	return cells, len(ms.strings.ids), len(ms.formulas.ids)
}

// stringTable interns strings with reference counting
type stringTable struct {
	ids       map[string]uint32
	byID      map[uint32]string
	refCounts map[uint32]int
	nextID    uint32
}

func newStringTable() *stringTable {
	return &stringTable{
		ids:       make(map[string]uint32),
		byID:      make(map[uint32]string),
		refCounts: make(map[uint32]int),
		nextID:    1, // start at 1, reserve 0 for no string
	}
}

func (st *stringTable) intern(s string) uint32 {
	if id, exists := st.ids[s]; exists {
		st.refCounts[id]++
		return id
	}
	id := st.nextID
	st.ids[s] = id
	st.byID[id] = s
	st.refCounts[id] = 1
	st.nextID++
	return id
}

func (st *stringTable) get(id uint32) (string, bool) {
	s, ok := st.byID[id]
	return s, ok
}

func (st *stringTable) release(id uint32) {
	s, exists := st.byID[id]
	if !exists {
		return
	}
	st.refCounts[id]--
	if st.refCounts[id] <= 0 {
		delete(st.ids, s)
		delete(st.byID, id)
		delete(st.refCounts, id)
	}
}

// formulaTable shares identical compiled formulas between slots. a
// formula's bytes are its key, so a slot that gets a modified copy (refs
// marked bad) simply moves to a new entry.
type formulaTable struct {
	ids       map[string]uint32
	byID      map[uint32][]byte
	refCounts map[uint32]int
	nextID    uint32
}

func newFormulaTable() *formulaTable {
	return &formulaTable{
		ids:       make(map[string]uint32),
		byID:      make(map[uint32][]byte),
		refCounts: make(map[uint32]int),
		nextID:    1,
	}
}

func (ft *formulaTable) intern(rpn []byte) uint32 {
	key := string(rpn)
	if id, exists := ft.ids[key]; exists {
		ft.refCounts[id]++
		return id
	}
	id := ft.nextID
	ft.ids[key] = id
	ft.byID[id] = []byte(key)
	ft.refCounts[id] = 1
	ft.nextID++
	return id
}

func (ft *formulaTable) get(id uint32) ([]byte, bool) {
	rpn, ok := ft.byID[id]
	return rpn, ok
}

func (ft *formulaTable) release(id uint32) {
	rpn, exists := ft.byID[id]
	if !exists {
		return
	}
	ft.refCounts[id]--
	if ft.refCounts[id] <= 0 {
		delete(ft.ids, string(rpn))
		delete(ft.byID, id)
		delete(ft.refCounts, id)
	}
}
