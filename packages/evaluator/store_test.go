package evaluator

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreValues(t *testing.T) {
	ms := NewMemoryStore()
	cases := []struct {
		name string
		at   SLR
		v    Value
	}{
		{"real", slot(1, 0, 0), Real(1.5)},
		{"small integer", slot(1, 0, 1), Integer(7)},
		{"large integer", slot(1, 0, 2), Integer(1 << 20)},
		{"string", slot(1, 0, 3), String("hello")},
		{"date", slot(1, 0, 4), Date{Days: 100, Seconds: NoDate}},
		{"error", slot(1, 0, 5), NewError(ErrDivZero)},
		{"far away", slot(1, 1000, 70000), Integer(-3)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ms.SetCellValue(tc.at, tc.v)
			assert.True(t, ms.CellExists(tc.at))
			assert.Equal(t, tc.v, ms.CellValue(tc.at))
		})
	}

	assert.Equal(t, Blank{}, ms.CellValue(slot(1, 5, 5)))
	assert.Equal(t, Blank{}, ms.CellValue(slot(9, 0, 0)))
	assert.False(t, ms.CellExists(slot(1, 5, 5)))
}

func TestMemoryStoreArraysAreCopied(t *testing.T) {
	ms := NewMemoryStore()
	a := NewArray(2, 1)
	a.Set(0, 0, Integer(1))
	a.Set(1, 0, Integer(2))
	ms.SetCellValue(slot(1, 0, 0), a)

	a.Set(0, 0, Integer(99))
	got, ok := ms.CellValue(slot(1, 0, 0)).(*Array)
	require.True(t, ok)
	assert.Equal(t, Integer(1), got.At(0, 0))

	got.Set(1, 0, Integer(42))
	again := ms.CellValue(slot(1, 0, 0)).(*Array)
	assert.Equal(t, Integer(2), again.At(1, 0))
}

func TestMemoryStoreFormulas(t *testing.T) {
	ms := NewMemoryStore()
	s := slot(1, 2, 2)
	rpn := []byte{byte(OpWord8), 1, byte(OpEnd)}

	ms.SetCompiledFormula(s, rpn)
	got, ok := ms.CompiledFormula(s)
	require.True(t, ok)
	assert.Equal(t, rpn, got)
	assert.True(t, ms.CellExists(s))
	assert.Equal(t, Blank{}, ms.CellValue(s))

	ms.SetCellValue(s, Integer(1))
	got, ok = ms.CompiledFormula(s)
	require.True(t, ok, "storing a result keeps the formula")
	assert.Equal(t, rpn, got)

	ms.SetCompiledFormula(s, nil)
	_, ok = ms.CompiledFormula(s)
	assert.False(t, ok)
	assert.Equal(t, Integer(1), ms.CellValue(s), "removing the formula keeps the value")

	ms.ClearCell(s)
	assert.False(t, ms.CellExists(s))
	cells, _, formulas := ms.Stats()
	assert.Zero(t, cells)
	assert.Zero(t, formulas)
}

func TestMemoryStoreInterning(t *testing.T) {
	ms := NewMemoryStore()
	rpn := []byte{byte(OpWord8), 5, byte(OpEnd)}
	for row := int32(0); row < 10; row++ {
		ms.SetCompiledFormula(slot(1, 0, row), rpn)
		ms.SetCellValue(slot(1, 1, row), String("same"))
	}
	cells, stringCount, formulas := ms.Stats()
	assert.Equal(t, 20, cells)
	assert.Equal(t, 1, stringCount)
	assert.Equal(t, 1, formulas)

	for row := int32(0); row < 9; row++ {
		ms.ClearCell(slot(1, 0, row))
		ms.SetCellValue(slot(1, 1, row), Blank{})
	}
	_, stringCount, formulas = ms.Stats()
	assert.Equal(t, 1, stringCount)
	assert.Equal(t, 1, formulas)

	ms.ClearCell(slot(1, 0, 9))
	ms.ClearCell(slot(1, 1, 9))
	_, stringCount, formulas = ms.Stats()
	assert.Zero(t, stringCount)
	assert.Zero(t, formulas)
}

func TestMemoryStoreScans(t *testing.T) {
	ms := NewMemoryStore()
	rpn := []byte{byte(OpWord8), 1, byte(OpEnd)}
	ms.SetCompiledFormula(slot(1, 0, 0), rpn)
	ms.SetCellValue(slot(1, 0, 1), Integer(2))
	ms.SetCompiledFormula(slot(1, 300, 5), rpn)
	ms.SetCellValue(slot(1, 1, 300), String("x"))
	ms.SetCompiledFormula(slot(2, 0, 0), rpn)

	all := slices.Collect(ms.Cells(DocumentRange(1)))
	assert.ElementsMatch(t, []SLR{slot(1, 0, 0), slot(1, 0, 1), slot(1, 300, 5), slot(1, 1, 300)}, all)

	formulas := slices.Collect(ms.FormulaCells(DocumentRange(1)))
	assert.ElementsMatch(t, []SLR{slot(1, 0, 0), slot(1, 300, 5)}, formulas)

	clipped := slices.Collect(ms.Cells(NewRange(slot(1, 0, 1), slot(1, 1, 300))))
	assert.ElementsMatch(t, []SLR{slot(1, 0, 1), slot(1, 1, 300)}, clipped)

	// the generic path visits every slot of the range
	var generic []SLR
	for s := range formulaCells(plainStore{ms}, NewRange(slot(1, 0, 0), slot(1, 2, 2))) {
		generic = append(generic, s)
	}
	assert.Equal(t, []SLR{slot(1, 0, 0)}, generic)

	ms.RemoveDocument(1)
	assert.Empty(t, slices.Collect(ms.Cells(DocumentRange(1))))
	assert.Len(t, slices.Collect(ms.Cells(DocumentRange(2))), 1)
}

// plainStore hides the scanner of the store it wraps
type plainStore struct{ ms *MemoryStore }

func (p plainStore) CompiledFormula(s SLR) ([]byte, bool) { return p.ms.CompiledFormula(s) }
func (p plainStore) SetCompiledFormula(s SLR, rpn []byte) { p.ms.SetCompiledFormula(s, rpn) }
func (p plainStore) CellValue(s SLR) Value                { return p.ms.CellValue(s) }
func (p plainStore) SetCellValue(s SLR, v Value)          { p.ms.SetCellValue(s, v) }
func (p plainStore) CellExists(s SLR) bool                { return p.ms.CellExists(s) }
func (p plainStore) ClearCell(s SLR)                      { p.ms.ClearCell(s) }

func TestEngineOverPlainStore(t *testing.T) {
	e := NewEngine(plainStore{NewMemoryStore()}, Options{})
	doc, err := e.OpenDocument("Sheet1", DocSheet)
	require.NoError(t, err)
	require.NoError(t, e.SetValue(SLR{Doc: doc, Row: 0}, Integer(4)))
	require.NoError(t, e.SetFormula(SLR{Doc: doc, Row: 1}, "=A1*A1"))
	_, err = e.Recalc(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Integer(16), e.Value(SLR{Doc: doc, Row: 1}))
}
