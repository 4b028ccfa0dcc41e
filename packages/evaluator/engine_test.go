package evaluator

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"
)

type EngineTestCase struct {
	t       *testing.T
	name    string
	engine  *Engine
	doc     DocNo
	stats   RecalcStats
	err     error
	skipped bool
}

func NewEngineTestCase(t *testing.T, name string, opts ...Options) *EngineTestCase {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	tc := &EngineTestCase{
		t:      t,
		name:   name,
		engine: NewEngine(NewMemoryStore(), o),
	}
	tc.doc, tc.err = tc.engine.OpenDocument("Sheet1", DocSheet)
	if tc.err != nil {
		t.Fatalf("%s: OpenDocument(Sheet1) failed: %v", name, tc.err)
	}
	return tc
}

func (tc *EngineTestCase) Skip(reason string) *EngineTestCase {
	if !tc.skipped {
		tc.t.Skipf("%s: %s", tc.name, reason)
		tc.skipped = true
	}
	return tc
}

func (tc *EngineTestCase) slot(address string) (SLR, bool) {
	s, err := tc.engine.ParseSLR(address, tc.doc)
	if err != nil {
		tc.t.Errorf("%s: bad address %s: %v", tc.name, address, err)
		return SLR{}, false
	}
	return s, true
}

func (tc *EngineTestCase) docNo(name string) (DocNo, bool) {
	doc, ok := tc.engine.DocumentNo(name)
	if !ok {
		tc.t.Errorf("%s: document %s is not open", tc.name, name)
	}
	return doc, ok
}

// set stores a formula ("=..."), number, string, bool, or nil to clear
func (tc *EngineTestCase) set(address string, value any) error {
	s, ok := tc.slot(address)
	if !ok {
		return nil
	}
	switch v := value.(type) {
	case nil:
		return tc.engine.ClearCell(s)
	case string:
		if strings.HasPrefix(v, "=") {
			return tc.engine.SetFormula(s, v)
		}
		return tc.engine.SetValue(s, String(v))
	case float64:
		return tc.engine.SetValue(s, Real(v))
	case int:
		return tc.engine.SetValue(s, Integer(int32(v)))
	case bool:
		return tc.engine.SetValue(s, Bool(v))
	case Value:
		return tc.engine.SetValue(s, v)
	}
	tc.t.Errorf("%s: Set(%s) with unsupported %T", tc.name, address, value)
	return nil
}

func (tc *EngineTestCase) Set(address string, value any) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.err = tc.set(address, value)
	if tc.err != nil {
		tc.t.Errorf("%s: Set(%s) failed: %v", tc.name, address, tc.err)
	}
	return tc
}

// TrySet is Set for edits expected to fail; follow it with ExpectAppError
func (tc *EngineTestCase) TrySet(address string, value any) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.err = tc.set(address, value)
	return tc
}

func (tc *EngineTestCase) Doc(name string) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	_, tc.err = tc.engine.OpenDocument(name, DocSheet)
	if tc.err != nil {
		tc.t.Errorf("%s: OpenDocument(%s) failed: %v", tc.name, name, tc.err)
	}
	return tc
}

func (tc *EngineTestCase) CloseDoc(name string) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	doc, ok := tc.docNo(name)
	if !ok {
		return tc
	}
	tc.err = tc.engine.CloseDocument(doc)
	if tc.err != nil {
		tc.t.Errorf("%s: CloseDocument(%s) failed: %v", tc.name, name, tc.err)
	}
	return tc
}

// Custom opens a custom function document holding statements down column A
func (tc *EngineTestCase) Custom(docName string, statements ...string) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	doc, err := tc.engine.OpenDocument(docName, DocCustom)
	if err != nil {
		tc.err = err
		tc.t.Errorf("%s: OpenDocument(%s) failed: %v", tc.name, docName, err)
		return tc
	}
	for i, text := range statements {
		s := SLR{Doc: doc, Row: int32(i)}
		if tc.err = tc.engine.SetFormula(s, text); tc.err != nil {
			tc.t.Errorf("%s: statement %d of %s failed: %v", tc.name, i+1, docName, tc.err)
			return tc
		}
	}
	return tc
}

func (tc *EngineTestCase) Define(name string, v Value) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.err = tc.engine.DefineName(tc.doc, name, v)
	if tc.err != nil {
		tc.t.Errorf("%s: DefineName(%s) failed: %v", tc.name, name, tc.err)
	}
	return tc
}

func (tc *EngineTestCase) DefineFormula(name, text string) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.err = tc.engine.DefineNameFormula(tc.doc, name, text)
	if tc.err != nil {
		tc.t.Errorf("%s: DefineNameFormula(%s) failed: %v", tc.name, name, tc.err)
	}
	return tc
}

func (tc *EngineTestCase) Undefine(name string) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.err = tc.engine.UndefineName(tc.doc, name)
	if tc.err != nil {
		tc.t.Errorf("%s: UndefineName(%s) failed: %v", tc.name, name, tc.err)
	}
	return tc
}

func (tc *EngineTestCase) Delete(ref string) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	r, err := tc.engine.ParseRange(ref, tc.doc)
	if err != nil {
		tc.t.Errorf("%s: bad range %s: %v", tc.name, ref, err)
		return tc
	}
	tc.err = tc.engine.DeleteCells(r)
	if tc.err != nil {
		tc.t.Errorf("%s: DeleteCells(%s) failed: %v", tc.name, ref, tc.err)
	}
	return tc
}

// Recalc runs one call to Recalc, which may stop early under a slot budget
func (tc *EngineTestCase) Recalc() *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	tc.stats, tc.err = tc.engine.Recalc(context.Background())
	if tc.err != nil {
		tc.t.Errorf("%s: Recalc() failed: %v", tc.name, tc.err)
	}
	return tc
}

// RecalcAll calls Recalc until nothing is left to do
func (tc *EngineTestCase) RecalcAll() *EngineTestCase {
	for i := 0; i < 1000; i++ {
		tc.Recalc()
		if tc.skipped || tc.err != nil || tc.stats.Done {
			return tc
		}
		if tc.stats.Deferred > 0 && tc.stats.Slots == tc.stats.Deferred {
			return tc
		}
	}
	tc.t.Errorf("%s: recalculation did not finish", tc.name)
	return tc
}

func (tc *EngineTestCase) value(address string) (Value, bool) {
	s, ok := tc.slot(address)
	if !ok {
		return nil, false
	}
	return tc.engine.Value(s), true
}

func (tc *EngineTestCase) AssertNum(address string, want float64) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	v, ok := tc.value(address)
	if !ok {
		return tc
	}
	got, isNum := AsFloat(v)
	if _, blank := v.(Blank); blank || !isNum {
		tc.t.Errorf("%s: Cell %s = %v (%T), want number %v", tc.name, address, FormatValue(v), v, want)
		return tc
	}
	if math.Abs(got-want) > 1e-10 {
		tc.t.Errorf("%s: Cell %s = %v, want %v", tc.name, address, got, want)
	}
	return tc
}

func (tc *EngineTestCase) AssertInt(address string, want int32) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	v, ok := tc.value(address)
	if !ok {
		return tc
	}
	if got, isInt := v.(Integer); !isInt || int32(got) != want {
		tc.t.Errorf("%s: Cell %s = %v (%T), want Integer %d", tc.name, address, FormatValue(v), v, want)
	}
	return tc
}

func (tc *EngineTestCase) AssertStr(address, want string) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	v, ok := tc.value(address)
	if !ok {
		return tc
	}
	if got, isStr := v.(String); !isStr || string(got) != want {
		tc.t.Errorf("%s: Cell %s = %v (%T), want %q", tc.name, address, FormatValue(v), v, want)
	}
	return tc
}

func (tc *EngineTestCase) AssertErr(address string, code ErrorCode) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	v, ok := tc.value(address)
	if !ok {
		return tc
	}
	if got, isErr := v.(Error); !isErr || got.Code != code {
		tc.t.Errorf("%s: Cell %s = %v, want error %v", tc.name, address, FormatValue(v), code)
	}
	return tc
}

func (tc *EngineTestCase) AssertBlank(address string) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	v, ok := tc.value(address)
	if !ok {
		return tc
	}
	if _, blank := v.(Blank); !blank {
		tc.t.Errorf("%s: Cell %s = %v, want blank", tc.name, address, FormatValue(v))
	}
	return tc
}

// AssertArray checks an array result of x columns by y rows, elements
// given row by row
func (tc *EngineTestCase) AssertArray(address string, x, y int, want ...float64) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	v, ok := tc.value(address)
	if !ok {
		return tc
	}
	a, isArr := v.(*Array)
	if !isArr || a.X != x || a.Y != y {
		tc.t.Errorf("%s: Cell %s = %v, want %dx%d array", tc.name, address, FormatValue(v), x, y)
		return tc
	}
	for i, w := range want {
		got, _ := AsFloat(a.At(i%x, i/x))
		if math.Abs(got-w) > 1e-10 {
			tc.t.Errorf("%s: Cell %s element %d = %v, want %v", tc.name, address, i, FormatValue(a.At(i%x, i/x)), w)
		}
	}
	return tc
}

func (tc *EngineTestCase) AssertFormula(address, want string) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	s, ok := tc.slot(address)
	if !ok {
		return tc
	}
	got, ok := tc.engine.FormulaText(s)
	if !ok || got != want {
		tc.t.Errorf("%s: Formula %s = %q, want %q", tc.name, address, got, want)
	}
	return tc
}

func (tc *EngineTestCase) AssertFn(fn func(e *Engine, stats RecalcStats, t *testing.T)) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	fn(tc.engine, tc.stats, tc.t)
	return tc
}

func (tc *EngineTestCase) AssertTodo(want int) *EngineTestCase {
	if tc.skipped || tc.err != nil {
		return tc
	}
	if got := tc.engine.TodoLen(); got != want {
		tc.t.Errorf("%s: %d slots queued, want %d (%v)", tc.name, got, want, tc.engine.Todo())
	}
	return tc
}

func (tc *EngineTestCase) ExpectAppError(expectedCode AppErrorCode) *EngineTestCase {
	if tc.skipped {
		return tc
	}
	if tc.err == nil {
		tc.t.Errorf("%s: Expected error with code %v, but got no error", tc.name, expectedCode)
		return tc
	}
	var appErr *AppError
	if errors.As(tc.err, &appErr) {
		if appErr.Code != expectedCode {
			tc.t.Errorf("%s: Got error code %v, want %v", tc.name, appErr.Code, expectedCode)
		}
	} else {
		tc.t.Errorf("%s: Got error %v, want AppError with code %v", tc.name, tc.err, expectedCode)
	}
	tc.err = nil
	return tc
}

func (tc *EngineTestCase) End() {
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixedRandom struct{ next float64 }

func (r *fixedRandom) Float64() float64 {
	v := r.next
	r.next += 0.125
	return v
}

func (r *fixedRandom) NormFloat64() float64 { return 0.5 }

func TestArithmetic(t *testing.T) {
	NewEngineTestCase(t, "Integer addition").
		Set("A1", "=1+2").
		Recalc().
		AssertInt("A1", 3).
		End()

	NewEngineTestCase(t, "Precedence").
		Set("A1", "=2+3*4^2").
		Set("A2", "=(2+3)*4").
		Set("A3", "=-2^2").
		Set("A4", "=50%").
		Recalc().
		AssertNum("A1", 50).
		AssertNum("A2", 20).
		AssertNum("A3", 4).
		AssertNum("A4", 0.5).
		End()

	NewEngineTestCase(t, "Division gives real").
		Set("A1", "=7/2").
		Recalc().
		AssertNum("A1", 3.5).
		End()

	NewEngineTestCase(t, "Integer overflow becomes real").
		Set("A1", "=2147483647+1").
		Recalc().
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			if v, ok := e.Value(SLR{Doc: 1}).(Real); !ok || float64(v) != 2147483648 {
				t.Errorf("A1 = %v, want real 2147483648", e.Value(SLR{Doc: 1}))
			}
		}).
		End()

	NewEngineTestCase(t, "Comparison gives logical").
		Set("A1", "=3>2").
		Set("A2", "=\"a\"=\"A\"").
		Set("A3", "=1<>1").
		Recalc().
		AssertInt("A1", 1).
		AssertInt("A2", 1).
		AssertInt("A3", 0).
		End()
}

func TestReferences(t *testing.T) {
	NewEngineTestCase(t, "Chain updates").
		Set("A1", 1).
		Set("A2", "=A1*2").
		Set("A3", "=A2*2").
		Recalc().
		AssertNum("A3", 4).
		Set("A1", 5).
		AssertTodo(1).
		Recalc().
		AssertNum("A2", 10).
		AssertNum("A3", 20).
		AssertTodo(0).
		End()

	NewEngineTestCase(t, "Formula set before its supporter").
		Set("B1", "=A1+A2").
		Set("A2", "=A1*10").
		Set("A1", 3).
		Recalc().
		AssertNum("A2", 30).
		AssertNum("B1", 33).
		End()

	NewEngineTestCase(t, "Blank reads as zero").
		Set("A1", "=Z99+1").
		Recalc().
		AssertNum("A1", 1).
		End()

	NewEngineTestCase(t, "Absolute references").
		Set("A1", 4).
		Set("B1", "=$A$1*A1").
		Recalc().
		AssertNum("B1", 16).
		AssertFormula("B1", "$A$1*A1").
		End()

	NewEngineTestCase(t, "Clearing a supporter").
		Set("A1", 4).
		Set("B1", "=A1+1").
		Recalc().
		Set("A1", nil).
		Recalc().
		AssertNum("B1", 1).
		End()

	NewEngineTestCase(t, "Formula replaced by a value").
		Set("A1", "=1+1").
		Set("B1", "=A1*3").
		Recalc().
		AssertNum("B1", 6).
		Set("A1", 10).
		Recalc().
		AssertNum("B1", 30).
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			if _, ok := e.FormulaText(SLR{Doc: 1}); ok {
				t.Errorf("A1 still holds a formula")
			}
		}).
		End()

	NewEngineTestCase(t, "DEREF calculates its target").
		Set("B2", "=DEREF(\"A2\")+1").
		Set("A2", "=A1*2").
		Set("A1", 5).
		Recalc().
		AssertNum("A2", 10).
		AssertNum("B2", 11).
		End()

	NewEngineTestCase(t, "DEREF follows changes to its target").
		Set("A1", "=B1*2").
		Set("B1", 3).
		Set("C1", "=DEREF(\"A1\")+1").
		Recalc().
		AssertNum("C1", 7).
		Set("B1", 4).
		Recalc().
		AssertNum("A1", 8).
		AssertNum("C1", 9).
		End()

	NewEngineTestCase(t, "DEREF retargeted by its text").
		Set("A1", 1).
		Set("B1", 2).
		Set("D1", "A1").
		Set("C1", "=DEREF(TRIM(D1))*10").
		Recalc().
		AssertNum("C1", 10).
		Set("D1", "B1").
		Recalc().
		AssertNum("C1", 20).
		Set("A1", 5).
		AssertTodo(0).
		Set("B1", 3).
		Recalc().
		AssertNum("C1", 30).
		End()

	NewEngineTestCase(t, "DEREF of a name follows its redefinition").
		Set("A1", 1).
		Set("B1", 2).
		Define("target", SLRRef(SLR{Doc: 1, Col: 0, Row: 0})).
		Set("C1", "=DEREF(\"target\")+100").
		Recalc().
		AssertNum("C1", 101).
		Define("target", SLRRef(SLR{Doc: 1, Col: 1, Row: 0})).
		Recalc().
		AssertNum("C1", 102).
		End()

	NewEngineTestCase(t, "Text resolved while calculating interns nothing").
		Set("A1", "=DEREF(\"Ghost!A1\")").
		Set("A2", "=DEREF(\"nosuch\")").
		Recalc().
		AssertErr("A1", ErrExtRefUnavailable).
		AssertErr("A2", ErrArgType).
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			st := e.Stats()
			if st.Documents != 1 || st.Names != 0 {
				t.Errorf("stats = %+v, want one document and no names", st)
			}
		}).
		End()
}

func TestRanges(t *testing.T) {
	NewEngineTestCase(t, "SUM over a range").
		Set("A1", 1).
		Set("A2", 2).
		Set("A3", 3).
		Set("B1", "=SUM(A1:A3)").
		Recalc().
		AssertInt("B1", 6).
		Set("A2", 20).
		Recalc().
		AssertNum("B1", 24).
		End()

	NewEngineTestCase(t, "Range of formulas is calculated first").
		Set("B1", "=SUM(A1:A3)").
		Set("A1", "=1").
		Set("A2", "=A1+1").
		Set("A3", "=A2+1").
		Recalc().
		AssertNum("B1", 6).
		End()

	NewEngineTestCase(t, "Array broadcast").
		Set("A1", 1).
		Set("A2", 2).
		Set("A3", 3).
		Set("B1", "=A1:A3+10").
		Recalc().
		AssertArray("B1", 1, 3, 11, 12, 13).
		End()

	NewEngineTestCase(t, "Aggregates").
		Set("A1", 2).
		Set("A2", 4).
		Set("A3", "text").
		Set("A4", 9).
		Set("B1", "=AVG(A1:A4)").
		Set("B2", "=COUNT(A1:A4)").
		Set("B3", "=COUNTA(A1:A5)").
		Set("B4", "=MAX(A1:A4)").
		Set("B5", "=MIN(A1:A4)").
		Recalc().
		AssertNum("B1", 5).
		AssertInt("B2", 3).
		AssertInt("B3", 4).
		AssertNum("B4", 9).
		AssertNum("B5", 2).
		End()

	NewEngineTestCase(t, "Lookups").
		Set("A1", 1).
		Set("A2", 2).
		Set("A3", 3).
		Set("B1", "one").
		Set("B2", "two").
		Set("B3", "three").
		Set("C1", "=VLOOKUP(2,A1:B3,1)").
		Set("C2", "=MATCH(3,A1:A3)").
		Set("C3", "=MATCH(7,A1:A3,0)").
		Set("C4", "=INDEX(A1:B3,2,3)").
		Recalc().
		AssertStr("C1", "two").
		AssertInt("C2", 3).
		AssertErr("C3", ErrNotAvailable).
		AssertStr("C4", "three").
		End()

	NewEngineTestCase(t, "Database sum").
		Set("A1", 1).
		Set("A2", 2).
		Set("A3", 3).
		Set("A4", 4).
		Set("B1", "=DSUM(A1:A4,\"A1>2\")").
		Recalc().
		AssertNum("B1", 7).
		End()

	NewEngineTestCase(t, "Database condition reads a fixed criterion").
		Set("A1", 1).
		Set("A2", 5).
		Set("A3", 10).
		Set("C5", 2).
		Set("B1", "=DSUM(A1:A3,\"A1>$C$5\")").
		Recalc().
		AssertNum("B1", 15).
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			deps := e.FindDependents(SLR{Doc: 1, Col: 2, Row: 4})
			if len(deps) != 1 || deps[0] != (SLR{Doc: 1, Col: 1, Row: 0}) {
				t.Errorf("dependents of C5 = %v, want [B1]", deps)
			}
		}).
		Set("C5", 6).
		Recalc().
		AssertNum("B1", 10).
		End()

	NewEngineTestCase(t, "Database condition over a column outside the field").
		Set("A1", 1).
		Set("A2", 2).
		Set("A3", 3).
		Set("B1", 1).
		Set("B2", 0).
		Set("B3", 1).
		Set("D1", "=DSUM(A1:A3,\"B1>0\")").
		Recalc().
		AssertNum("D1", 4).
		Set("B2", 1).
		Recalc().
		AssertNum("D1", 6).
		End()
}

func TestCircularReferences(t *testing.T) {
	NewEngineTestCase(t, "Two cell loop").
		Set("A1", "=B1+1").
		Set("B1", "=A1+1").
		Recalc().
		AssertErr("A1", ErrCircular).
		AssertErr("B1", ErrCircular).
		AssertTodo(0).
		AssertFn(func(_ *Engine, stats RecalcStats, t *testing.T) {
			if stats.Circular == 0 || !stats.Done {
				t.Errorf("stats = %+v, want circular slots and done", stats)
			}
		}).
		End()

	NewEngineTestCase(t, "Self reference through a range").
		Set("A1", "=SUM(A1:A3)").
		Recalc().
		AssertErr("A1", ErrCircular).
		End()

	NewEngineTestCase(t, "Loop broken by an edit").
		Set("A1", "=B1+1").
		Set("B1", "=A1+1").
		Recalc().
		Set("B1", 5).
		Recalc().
		AssertNum("A1", 6).
		AssertNum("B1", 5).
		End()
}

func TestErrorPropagation(t *testing.T) {
	NewEngineTestCase(t, "Division by zero wins").
		Set("A1", "=1/0+5").
		Set("A2", "=SUM(A1,3)").
		Set("A3", "=A2*2").
		Recalc().
		AssertErr("A1", ErrDivZero).
		AssertErr("A2", ErrDivZero).
		AssertErr("A3", ErrDivZero).
		End()

	NewEngineTestCase(t, "ISERROR catches").
		Set("A1", "=1/0").
		Set("A2", "=IF(ISERROR(A1),-1,A1)").
		Recalc().
		AssertNum("A2", -1).
		End()

	NewEngineTestCase(t, "Type errors").
		Set("A1", "abc").
		Set("A2", "=A1*2").
		Set("A3", "=LOG(-1)").
		Recalc().
		AssertErr("A2", ErrArgType).
		AssertErr("A3", ErrArgRange).
		End()

	NewEngineTestCase(t, "Compile error leaves the slot alone").
		Set("A1", "=1+1").
		TrySet("A1", "=1+").
		ExpectAppError(InvalidArgument).
		TrySet("A1", "=SUM(").
		ExpectAppError(InvalidArgument).
		Recalc().
		AssertNum("A1", 2).
		End()

	NewEngineTestCase(t, "Control statement outside a custom function").
		TrySet("A1", "=RESULT(1)").
		ExpectAppError(InvalidArgument).
		End()

	tc := NewEngineTestCase(t, "Slot outside the grid")
	tc.err = tc.engine.SetFormula(SLR{Doc: tc.doc, Col: MaxCol + 1}, "=1")
	tc.ExpectAppError(OutOfRange).End()
}

func TestLogicAndText(t *testing.T) {
	NewEngineTestCase(t, "IF").
		Set("A1", 5).
		Set("B1", "=IF(A1>2,\"big\",\"small\")").
		Set("B2", "=IF(A1>9,\"big\")").
		Set("B3", "=AND(A1>1,A1<9)").
		Set("B4", "=OR(A1>9,NOT(A1>9))").
		Recalc().
		AssertStr("B1", "big").
		AssertInt("B2", 0).
		AssertInt("B3", 1).
		AssertInt("B4", 1).
		End()

	NewEngineTestCase(t, "Strings").
		Set("A1", "world").
		Set("B1", "=\"hello \"&A1").
		Set("B2", "=UPPER(A1)&LEFT(\"hello\",2)").
		Set("B3", "=LENGTH(A1)").
		Set("B4", "=PROPER(\"the end\")").
		Set("B5", "=1&2").
		Recalc().
		AssertStr("B1", "hello world").
		AssertStr("B2", "WORLDhe").
		AssertInt("B3", 5).
		AssertStr("B4", "The End").
		AssertStr("B5", "12").
		End()

	NewEngineTestCase(t, "Dates").
		Set("A1", "=DATE(2024,3,15)").
		Set("A2", "=YEAR(A1)").
		Set("A3", "=MONTH(A1)").
		Set("A4", "=DAY(A1+20)").
		Recalc().
		AssertInt("A2", 2024).
		AssertInt("A3", 3).
		AssertInt("A4", 4).
		End()
}

func TestNames(t *testing.T) {
	NewEngineTestCase(t, "Constant name").
		Define("X", Integer(5)).
		Set("A1", "=X*2").
		Recalc().
		AssertNum("A1", 10).
		Define("X", Integer(7)).
		AssertTodo(1).
		Recalc().
		AssertNum("A1", 14).
		End()

	NewEngineTestCase(t, "Redefining with the same value queues nothing").
		Define("X", Integer(5)).
		Set("A1", "=X*2").
		Recalc().
		Define("X", Integer(5)).
		AssertTodo(0).
		End()

	NewEngineTestCase(t, "Range name").
		Set("A1", 1).
		Set("A2", 2).
		Set("A3", 3).
		DefineFormula("Data", "A1:A3").
		Set("B1", "=SUM(Data)").
		Recalc().
		AssertNum("B1", 6).
		Set("A3", 30).
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			deps := e.FindDependents(SLR{Doc: 1, Col: 0, Row: 2})
			if len(deps) != 1 || deps[0] != (SLR{Doc: 1, Col: 1, Row: 0}) {
				t.Errorf("dependents of A3 = %v, want [B1]", deps)
			}
		}).
		Recalc().
		AssertNum("B1", 33).
		End()

	NewEngineTestCase(t, "Undefined name").
		Set("A1", "=Nope+1").
		Recalc().
		AssertErr("A1", ErrNameUndefined).
		Define("Nope", Integer(1)).
		Recalc().
		AssertNum("A1", 2).
		Undefine("Nope").
		Recalc().
		AssertErr("A1", ErrNameUndefined).
		End()

	tc := NewEngineTestCase(t, "Name that looks like a slot")
	tc.err = tc.engine.DefineName(tc.doc, "AB12", Integer(1))
	tc.ExpectAppError(InvalidArgument).End()
}

func TestDocuments(t *testing.T) {
	NewEngineTestCase(t, "Cross document reference").
		Doc("Other").
		Set("Other!A1", 5).
		Set("A1", "=Other!A1*2").
		Recalc().
		AssertNum("A1", 10).
		CloseDoc("Other").
		AssertTodo(1).
		Recalc().
		AssertErr("A1", ErrExtRefUnavailable).
		Doc("Other").
		Recalc().
		AssertNum("A1", 10).
		End()

	NewEngineTestCase(t, "Reference to a document opened later").
		Set("A1", "=[Later]B2+1").
		Recalc().
		AssertErr("A1", ErrExtRefUnavailable).
		Doc("Later").
		Set("Later!B2", 4).
		Recalc().
		AssertNum("A1", 5).
		End()

	tc := NewEngineTestCase(t, "Opening twice")
	_, tc.err = tc.engine.OpenDocument("Sheet1", DocSheet)
	tc.ExpectAppError(AlreadyExists).End()

	NewEngineTestCase(t, "Closing releases an unreferenced document").
		Doc("Scratch").
		Set("Scratch!A1", "=1+1").
		RecalcAll().
		CloseDoc("Scratch").
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			if _, ok := e.DocumentNo("Scratch"); ok {
				t.Errorf("Scratch still open")
			}
			if n := len(e.Documents()); n != 1 {
				t.Errorf("%d documents open, want 1", n)
			}
		}).
		End()
}

func TestDeleteCells(t *testing.T) {
	NewEngineTestCase(t, "Lost reference").
		Set("A1", 5).
		Set("B1", "=A1+1").
		Set("B2", "=SUM(A1:A1)").
		Recalc().
		AssertNum("B1", 6).
		Delete("A1").
		Recalc().
		AssertBlank("A1").
		AssertErr("B1", ErrRefLost).
		AssertErr("B2", ErrRefLost).
		AssertFormula("B1", "#REF!+1").
		End()

	NewEngineTestCase(t, "Ranges partly deleted keep working").
		Set("A1", 1).
		Set("A2", 2).
		Set("A3", 3).
		Set("B1", "=SUM(A1:A3)").
		Recalc().
		Delete("A2").
		Recalc().
		AssertNum("B1", 4).
		End()

	NewEngineTestCase(t, "Names into a deleted range").
		Set("A1", 3).
		DefineFormula("N", "A1").
		Set("B1", "=N*2").
		Recalc().
		AssertNum("B1", 6).
		Delete("A1:A5").
		Recalc().
		AssertErr("B1", ErrRefLost).
		End()
}

func TestCustomFunctions(t *testing.T) {
	NewEngineTestCase(t, "Simple custom").
		Custom("Lib",
			"=FUNCTION(\"double\",\"x:number\")",
			"=RESULT(@x*2)").
		Set("A1", "=double(21)").
		Recalc().
		AssertNum("A1", 42).
		End()

	NewEngineTestCase(t, "FOR loop with SET_VALUE").
		Custom("Lib",
			"=FUNCTION(\"sumto\",\"n:integer\")",
			"=SET_VALUE(B1,0)",
			"=FOR(\"i\",1,@n)",
			"=SET_VALUE(B1,B1+@i)",
			"=NEXT()",
			"=RESULT(B1)").
		Set("A1", 4).
		Set("A2", "=sumto(A1)").
		Recalc().
		AssertNum("A2", 10).
		AssertFn(func(_ *Engine, stats RecalcStats, t *testing.T) {
			if !stats.Done || stats.Slots != 1 {
				t.Errorf("stats = %+v, want one slot and done", stats)
			}
		}).
		Set("A1", 100).
		Recalc().
		AssertNum("A2", 5050).
		End()

	NewEngineTestCase(t, "IF ELSEIF ELSE").
		Custom("Lib",
			"=FUNCTION(\"sign2\",\"x:number\")",
			"=IF(@x>0)",
			"=RESULT(1)",
			"=ELSEIF(@x<0)",
			"=RESULT(-1)",
			"=ELSE()",
			"=RESULT(0)",
			"=ENDIF()").
		Set("A1", "=sign2(5)").
		Set("A2", "=sign2(-5)").
		Set("A3", "=sign2(0)").
		Recalc().
		AssertNum("A1", 1).
		AssertNum("A2", -1).
		AssertNum("A3", 0).
		End()

	NewEngineTestCase(t, "WHILE loop").
		Custom("Lib",
			"=FUNCTION(\"halvings\",\"x:number\")",
			"=SET_VALUE(B1,@x)",
			"=SET_VALUE(B2,0)",
			"=WHILE(B1>1)",
			"=SET_VALUE(B1,B1/2)",
			"=SET_VALUE(B2,B2+1)",
			"=ENDWHILE()",
			"=RESULT(B2)").
		Set("A1", "=halvings(64)").
		Recalc().
		AssertNum("A1", 6).
		End()

	NewEngineTestCase(t, "Defined after use").
		Set("A1", "=triple(2)").
		Recalc().
		AssertErr("A1", ErrCustomUndefined).
		Custom("Lib",
			"=FUNCTION(\"triple\",\"x\")",
			"=RESULT(@x*3)").
		AssertTodo(1).
		Recalc().
		AssertNum("A1", 6).
		End()

	NewEngineTestCase(t, "Editing the body queues callers").
		Custom("Lib",
			"=FUNCTION(\"f\",\"x\")",
			"=RESULT(@x+1)").
		Set("A1", "=f(1)").
		Recalc().
		AssertNum("A1", 2).
		Set("Lib!A2", "=RESULT(@x+100)").
		AssertTodo(1).
		Recalc().
		AssertNum("A1", 101).
		End()

	NewEngineTestCase(t, "Argument type mismatch").
		Custom("Lib",
			"=FUNCTION(\"double\",\"x:number\")",
			"=RESULT(@x*2)").
		Set("A1", "=double(\"abc\")").
		Set("A2", "=double(1,2)").
		Recalc().
		AssertErr("A1", ErrArgType).
		AssertErr("A2", ErrArgType).
		End()

	NewEngineTestCase(t, "Unbounded recursion").
		Custom("Lib",
			"=FUNCTION(\"deep\",\"n:number\")",
			"=RESULT(deep(@n+1))").
		Set("A1", "=deep(0)").
		Recalc().
		AssertErr("A1", ErrStackOverflow).
		End()

	NewEngineTestCase(t, "Step limit", Options{Config: &Config{MaxCustomSteps: 50}}).
		Custom("Lib",
			"=FUNCTION(\"spin\")",
			"=WHILE(1)",
			"=ENDWHILE()",
			"=RESULT(0)").
		Set("A1", "=spin()").
		Recalc().
		AssertErr("A1", ErrLoopLimit).
		End()

	NewEngineTestCase(t, "Undefined custom").
		Set("A1", "=nosuch(1)").
		Recalc().
		AssertErr("A1", ErrCustomUndefined).
		End()

	NewEngineTestCase(t, "Falling off the end").
		Custom("Lib",
			"=FUNCTION(\"nothing\")",
			"=1+1").
		Set("A1", "=nothing()").
		Recalc().
		AssertErr("A1", ErrNoResult).
		End()

	NewEngineTestCase(t, "Closing the library").
		Custom("Lib",
			"=FUNCTION(\"double\",\"x:number\")",
			"=RESULT(@x*2)").
		Set("A1", "=double(4)").
		Recalc().
		AssertNum("A1", 8).
		CloseDoc("Lib").
		Recalc().
		AssertErr("A1", ErrCustomUndefined).
		End()

	NewEngineTestCase(t, "SET_NAME").
		Custom("Lib",
			"=FUNCTION(\"remember\",\"x\")",
			"=SET_NAME(\"Last\",@x)",
			"=RESULT(@x)").
		Set("A1", "=remember(9)").
		Recalc().
		AssertNum("A1", 9).
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			lib, _ := e.DocumentNo("Lib")
			if v, ok := e.NameValue(lib, "Last"); !ok || !Equal(v, Integer(9)) {
				t.Errorf("Last = %v, want 9", v)
			}
		}).
		End()
}

func TestSlicedRecalc(t *testing.T) {
	sliced := Options{Config: &Config{SliceSlots: 1}}

	NewEngineTestCase(t, "One slot per call", sliced).
		Set("A1", 1).
		Set("B1", "=A1+1").
		Set("C1", "=B1+1").
		Recalc().
		AssertFn(func(e *Engine, stats RecalcStats, t *testing.T) {
			if stats.Slots != 1 || stats.Done {
				t.Errorf("stats = %+v, want one slot, not done", stats)
			}
		}).
		AssertTodo(1).
		Recalc().
		AssertNum("C1", 3).
		AssertFn(func(_ *Engine, stats RecalcStats, t *testing.T) {
			if !stats.Done {
				t.Errorf("stats = %+v, want done", stats)
			}
		}).
		End()

	NewEngineTestCase(t, "Suspended mid stack", sliced).
		Set("A1", 1).
		Set("C1", "=B1+1").
		Set("B1", "=A1+1").
		Recalc().
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			if d := e.StackDepth(); d != 1 {
				t.Errorf("stack depth %d, want 1", d)
			}
		}).
		Recalc().
		AssertNum("C1", 3).
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			if d := e.StackDepth(); d != 0 {
				t.Errorf("stack depth %d, want 0", d)
			}
		}).
		End()

	NewEngineTestCase(t, "Edit abandons a suspended pass", sliced).
		Set("A1", 1).
		Set("C1", "=B1+1").
		Set("B1", "=A1+1").
		Recalc().
		Set("A1", 10).
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			if d := e.StackDepth(); d != 0 {
				t.Errorf("stack depth %d after edit, want 0", d)
			}
		}).
		RecalcAll().
		AssertNum("B1", 11).
		AssertNum("C1", 12).
		End()

	tc := NewEngineTestCase(t, "Canceled context").
		Set("A1", "=1+1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tc.engine.Recalc(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Recalc with canceled context: %v", err)
	}
	tc.AssertTodo(1).AssertBlank("A1").Recalc().AssertNum("A1", 2).End()
}

func TestOutOfMemory(t *testing.T) {
	small := Options{Config: &Config{MaxArrayElements: 4}}
	tc := NewEngineTestCase(t, "Large array deferred", small)
	for i := 1; i <= 10; i++ {
		tc.Set("B"+strconv.Itoa(i), i)
	}
	tc.Set("A1", "=TRANSPOSE(B1:B9)").
		Set("A2", "=1+1").
		Recalc().
		AssertFn(func(e *Engine, stats RecalcStats, t *testing.T) {
			if stats.Deferred != 1 || stats.Done {
				t.Errorf("stats = %+v, want one deferred slot", stats)
			}
		}).
		AssertBlank("A1").
		AssertNum("A2", 2).
		AssertTodo(1).
		End()

	NewEngineTestCase(t, "Stored memory error is an ordinary value").
		Set("A1", NewError(ErrOutOfMemory)).
		Set("B1", "=A1+1").
		Recalc().
		AssertErr("B1", ErrOutOfMemory).
		AssertFn(func(e *Engine, stats RecalcStats, t *testing.T) {
			if stats.Deferred != 0 || !stats.Done {
				t.Errorf("stats = %+v, want nothing deferred", stats)
			}
		}).
		AssertTodo(0).
		End()
}

func TestVolatile(t *testing.T) {
	rng := &fixedRandom{next: 0.25}
	NewEngineTestCase(t, "RAND", Options{Random: rng}).
		Set("A1", "=RAND()").
		Set("A2", "=A1*4").
		Recalc().
		AssertNum("A1", 0.25).
		AssertNum("A2", 1).
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			if n := e.QueueVolatile(); n != 1 {
				t.Errorf("QueueVolatile() = %d, want 1", n)
			}
		}).
		Recalc().
		AssertNum("A1", 0.375).
		AssertNum("A2", 1.5).
		End()

	clock := fixedClock{t: time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)}
	NewEngineTestCase(t, "NOW", Options{Clock: clock}).
		Set("A1", "=NOW()").
		Set("A2", "=HOUR(A1)").
		Set("A3", "=YEAR(TODAY())").
		Recalc().
		AssertInt("A2", 10).
		AssertInt("A3", 2024).
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			if got := FormatValue(e.Value(SLR{Doc: 1})); got != "2024-03-15 10:30:00" {
				t.Errorf("NOW() = %q", got)
			}
		}).
		End()
}

func TestConvergence(t *testing.T) {
	NewEngineTestCase(t, "Second pass finds nothing").
		Set("A1", 1).
		Set("A2", "=A1+1").
		Set("A3", "=A2+A1").
		Set("B1", "=SUM(A1:A3)").
		Recalc().
		AssertNum("B1", 6).
		Recalc().
		AssertFn(func(_ *Engine, stats RecalcStats, t *testing.T) {
			if stats.Slots != 0 || !stats.Done {
				t.Errorf("stats = %+v, want nothing done", stats)
			}
		}).
		End()

	NewEngineTestCase(t, "Unreferenced edit queues nothing").
		Set("A1", "=B1").
		Recalc().
		Set("C5", 1).
		AssertTodo(0).
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			if deps := e.FindDependents(SLR{Doc: 1, Col: 2, Row: 4}); len(deps) != 0 {
				t.Errorf("dependents of C5 = %v", deps)
			}
		}).
		End()

	var before TreeStats
	NewEngineTestCase(t, "Recompiling the same formula").
		Set("A1", "=B1+SUM(C1:C4)+X").
		AssertFn(func(e *Engine, _ RecalcStats, _ *testing.T) { before = e.Stats().Tree }).
		Set("A1", "=B1+SUM(C1:C4)+X").
		AssertFn(func(e *Engine, _ RecalcStats, t *testing.T) {
			if after := e.Stats().Tree; after != before {
				t.Errorf("uses %+v after recompiling, want %+v", after, before)
			}
		}).
		End()

	NewEngineTestCase(t, "Sorted worklist", Options{Config: &Config{TodoSort: true, Debug: true}}).
		Set("C3", "=A1+1").
		Set("A1", "=2").
		Set("B2", "=C3*2").
		Recalc().
		AssertNum("B2", 6).
		End()
}
