package evaluator

// dbaseFrame runs a database function: for each row of the field range it
// evaluates the condition with its relative references moved down to that
// row, and collects the row's values when the condition holds
type dbaseFrame struct {
	ctx     *callContext
	rng     Range
	cond    []byte
	row     int32
	matched []Value
}

func newDBaseFrame(ctx *callContext, args []Value) (*dbaseFrame, Value) {
	r := Range(args[0].(RangeRef))
	text, _ := args[1].(String)
	e := ctx.engine()
	cc := e.evalContext(r.S)
	cc.Custom = ctx.f.owner != nil
	cond, err := Compile(string(text), cc)
	if err != nil {
		e.debugf("database condition %q: %v", text, err)
		return nil, NewError(ErrBadExpression)
	}
	// the condition's references are not in the calling formula
	e.useDynamicFormula(ctx.slot(), cond, r.Rows())
	if int64(r.Cols())*int64(r.Rows()) > int64(e.cfg.MaxArrayElements) {
		return nil, ctx.m.outOfMemory()
	}
	return &dbaseFrame{ctx: ctx, rng: r, cond: cond}, nil
}

func (df *dbaseFrame) kind() FrameKind { return FrameDBase }

func (df *dbaseFrame) step(m *machine) {
	if df.row >= df.rng.Rows() {
		v := NewArray(1, len(df.matched))
		copy(v.Elems, df.matched)
		if len(df.matched) == 0 {
			v = NewArray(1, 1)
		}
		m.deliver(df.ctx.def.Fn(df.ctx, []Value{v}), nil)
		return
	}
	ev := newEvalFrame(df.ctx.slot(), df.cond)
	ev.dr = df.row
	ev.owner = df.ctx.f.owner
	m.push(ev)
}

func (df *dbaseFrame) receive(m *machine, v Value) {
	if _, isErr := v.(Error); !isErr && IsTruthy(v) {
		for c := int32(0); c < df.rng.Cols(); c++ {
			s := SLR{Doc: df.rng.S.Doc, Col: df.rng.S.Col + c, Row: df.rng.S.Row + df.row}
			df.matched = append(df.matched, m.e.store.CellValue(s))
		}
	}
	df.row++
}
