package evaluator

// LookupBreakCount is the number of candidates a lookup examines before
// yielding to the scheduler
const LookupBreakCount = 100

type lookupMode uint8

const (
	lookupExact lookupMode = iota
	lookupNotAbove // largest candidate not above the key, ascending data
	lookupNotBelow // smallest candidate not below the key, descending data
)

// lookupFrame searches a vector for a key a few candidates at a time
type lookupFrame struct {
	ctx    *callContext
	key    Value
	src    Value // RangeRef or *Array searched
	out    Value // LOOKUP result vector
	offset int   // HLOOKUP row or VLOOKUP column offset
	mode   lookupMode
	across bool // search along the first row rather than the first column
	n      int
	i      int
	best   int
}

func vectorShape(v Value) (int, int) {
	switch x := v.(type) {
	case RangeRef:
		r := Range(x)
		return int(r.Cols()), int(r.Rows())
	case *Array:
		return x.X, x.Y
	}
	return 1, 1
}

func newLookupFrame(ctx *callContext, args []Value) *lookupFrame {
	lf := &lookupFrame{ctx: ctx, key: args[0], src: args[1], best: -1}
	cols, rows := vectorShape(lf.src)
	switch foldName(ctx.def.Name) {
	case "lookup":
		lf.out = args[2]
		lf.across = rows == 1 && cols > 1
	case "hlookup":
		lf.offset = int(args[2].(Integer))
		lf.across = true
	case "vlookup":
		lf.offset = int(args[2].(Integer))
	case "match":
		lf.across = rows == 1 && cols > 1
		lf.mode = lookupNotAbove
		if len(args) > 2 {
			switch t := args[2].(Integer); {
			case t == 0:
				lf.mode = lookupExact
			case t < 0:
				lf.mode = lookupNotBelow
			}
		}
	}
	if lf.across {
		lf.n = cols
	} else {
		lf.n = rows
	}
	return lf
}

func (lf *lookupFrame) kind() FrameKind { return FrameLookup }

func (lf *lookupFrame) elem(v Value, x, y int) Value {
	switch s := v.(type) {
	case RangeRef:
		r := Range(s)
		if x < 0 || y < 0 || x >= int(r.Cols()) || y >= int(r.Rows()) {
			return Blank{}
		}
		return lf.ctx.m.e.store.CellValue(SLR{Doc: r.S.Doc, Col: r.S.Col + int32(x), Row: r.S.Row + int32(y)})
	case *Array:
		return s.At(x, y)
	}
	return v
}

func (lf *lookupFrame) candidate(i int) Value {
	if lf.across {
		return lf.elem(lf.src, i, 0)
	}
	return lf.elem(lf.src, 0, i)
}

func (lf *lookupFrame) step(m *machine) {
	for n := 0; n < LookupBreakCount && lf.i < lf.n; n++ {
		v := lf.candidate(lf.i)
		if _, blank := v.(Blank); blank {
			lf.i++
			continue
		}
		c, comparable := compareLookup(v, lf.key)
		if comparable {
			switch lf.mode {
			case lookupExact:
				if c == 0 {
					lf.best = lf.i
					lf.finish(m)
					return
				}
			case lookupNotAbove:
				if c > 0 {
					lf.finish(m)
					return
				}
				lf.best = lf.i
			case lookupNotBelow:
				if c < 0 {
					lf.finish(m)
					return
				}
				lf.best = lf.i
			}
		}
		lf.i++
	}
	if lf.i >= lf.n {
		lf.finish(m)
	}
}

func (lf *lookupFrame) finish(m *machine) {
	if lf.best < 0 {
		m.deliver(NewError(ErrNotAvailable), nil)
		return
	}
	var res Value
	switch foldName(lf.ctx.def.Name) {
	case "lookup":
		oc, or := vectorShape(lf.out)
		if or == 1 && oc > 1 {
			res = lf.elem(lf.out, lf.best, 0)
		} else {
			res = lf.elem(lf.out, 0, lf.best)
		}
	case "hlookup":
		_, rows := vectorShape(lf.src)
		if lf.offset < 0 || lf.offset >= rows {
			res = NewError(ErrArgRange)
		} else {
			res = lf.elem(lf.src, lf.best, lf.offset)
		}
	case "vlookup":
		cols, _ := vectorShape(lf.src)
		if lf.offset < 0 || lf.offset >= cols {
			res = NewError(ErrArgRange)
		} else {
			res = lf.elem(lf.src, lf.offset, lf.best)
		}
	default:
		res = Integer(int32(lf.best + 1))
	}
	m.deliver(CopyValue(res), nil)
}

func (lf *lookupFrame) receive(*machine, Value) {}

// compareLookup orders a candidate against the key. numbers only compare
// with numbers and strings with strings.
func compareLookup(v, key Value) (int, bool) {
	_, vs := v.(String)
	_, ks := key.(String)
	if vs != ks {
		return 0, false
	}
	if _, isErr := v.(Error); isErr {
		return 0, false
	}
	return compareValues(v, key), true
}
