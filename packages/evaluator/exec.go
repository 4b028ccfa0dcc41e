package evaluator

import "math"

type callStatus uint8

const (
	callDone      callStatus = iota // result pushed
	callSuspended                   // a supporter must be calculated; retry the instruction
	callDelegated                   // a child frame will deliver the result
)

type argAction uint8

const (
	argOK argAction = iota
	argError
	argBroadcast
	argSuspend
)

// controlStmt is a control statement evaluated as the outermost call of a
// custom function statement
type controlStmt struct {
	def  *FuncDef
	args []Value
	err  Value // first error among the arguments
}

// normalise converts an argument to what the mask accepts. references are
// fetched unless the function takes references, single element arrays and
// ranges collapse, and blanks become zero or the empty string.
func (m *machine) normalise(v Value, mask ArgMask) (Value, argAction) {
	if s, ok := v.(SLRRef); ok {
		if mask&ArgSLR != 0 {
			return v, argOK
		}
		val, suspended := m.fetch(SLR(s))
		if suspended {
			return nil, argSuspend
		}
		v = val
	}

	if r, ok := v.(RangeRef); ok {
		rr := Range(r)
		switch {
		case mask&ArgRange != 0:
			return v, argOK
		case rr.Cols() == 1 && rr.Rows() == 1:
			val, suspended := m.fetch(rr.S)
			if suspended {
				return nil, argSuspend
			}
			v = val
		case mask&ArgArray != 0:
			val, suspended := m.fetchRange(rr)
			if suspended {
				return nil, argSuspend
			}
			if e, isErr := val.(Error); isErr {
				return e, argError
			}
			return val, argOK
		default:
			return v, argBroadcast
		}
	}

	if a, ok := v.(*Array); ok {
		switch {
		case mask&ArgArray != 0:
			return v, argOK
		case a.X == 1 && a.Y == 1:
			v = a.At(0, 0)
		case mask&ArgRange != 0:
			return NewError(ErrArgType), argError
		default:
			return v, argBroadcast
		}
	}

	switch x := v.(type) {
	case Error:
		if mask&ArgError != 0 {
			return v, argOK
		}
		return v, argError
	case Blank:
		switch {
		case mask&ArgBlank != 0:
			return v, argOK
		case mask&ArgInt != 0:
			return Integer(0), argOK
		case mask&ArgReal != 0:
			return Real(0), argOK
		case mask&ArgString != 0:
			return String(""), argOK
		}
	case Integer:
		switch {
		case mask&ArgInt != 0:
			return v, argOK
		case mask&ArgReal != 0:
			return Real(x), argOK
		}
	case Real:
		switch {
		case mask&ArgReal != 0:
			return v, argOK
		case mask&ArgInt != 0:
			f := math.Trunc(float64(x))
			if f < math.MinInt32 || f > math.MaxInt32 || math.IsNaN(f) {
				return NewError(ErrArgRange), argError
			}
			return Integer(int32(f)), argOK
		}
	case String:
		if mask&ArgString != 0 {
			return v, argOK
		}
	case Date:
		if mask&ArgDate != 0 {
			return v, argOK
		}
	}
	return NewError(ErrArgType), argError
}

// callFunction runs the builtin at in with the operands on top of f's
// stack
func (m *machine) callFunction(f *evalFrame, in Instr) callStatus {
	def, ok := funcDef(in.Func)
	n := in.NArgs
	if !ok {
		f.replace(n, NewError(ErrBadExpression))
		return callDone
	}
	if !def.acceptsArgs(n) {
		f.replace(n, NewError(ErrArgCount))
		return callDone
	}
	if def.Kind == KindControl && f.owner == nil {
		f.replace(n, NewError(ErrBadControl))
		return callDone
	}

	raw := f.args(n)
	args := make([]Value, n)
	var bcast []bool
	var firstErr Value
	for i, a := range raw {
		v, act := m.normalise(a, def.argMask(i))
		switch act {
		case argSuspend:
			return callSuspended
		case argError:
			if firstErr == nil {
				firstErr = v
			}
		case argBroadcast:
			if def.Exec != ExecSimple {
				v = NewError(ErrArgType)
				if firstErr == nil {
					firstErr = v
				}
				break
			}
			if bcast == nil {
				bcast = make([]bool, n)
			}
			bcast[i] = true
		}
		args[i] = v
	}

	if def.Kind == KindControl {
		f.control = &controlStmt{def: def, args: args, err: firstErr}
		var v Value = Blank{}
		if firstErr != nil {
			v = firstErr
		}
		f.replace(n, v)
		return callDone
	}
	if firstErr != nil {
		f.replace(n, firstErr)
		return callDone
	}

	ctx := &callContext{m: m, f: f, def: def}
	if bcast != nil {
		af, err := newArrayFrame(ctx, args, bcast)
		if err != nil {
			f.replace(n, err)
			return callDone
		}
		f.stack = f.stack[:len(f.stack)-n]
		m.push(af)
		return callDelegated
	}

	switch def.Exec {
	case ExecLookup:
		lf := newLookupFrame(ctx, args)
		f.stack = f.stack[:len(f.stack)-n]
		m.push(lf)
		return callDelegated

	case ExecDBase:
		df, errv := newDBaseFrame(ctx, args)
		if errv != nil {
			f.replace(n, errv)
			return callDone
		}
		f.stack = f.stack[:len(f.stack)-n]
		m.push(df)
		return callDelegated

	case ExecDeref:
		v, suspended := m.resolve(def.Fn(ctx, args))
		if suspended {
			return callSuspended
		}
		f.replace(n, v)
		return callDone
	}

	f.replace(n, def.Fn(ctx, args))
	return callDone
}

// callContext gives builtins access to the engine and the calling frame
type callContext struct {
	m   *machine
	f   *evalFrame
	def *FuncDef
}

func (c *callContext) engine() *Engine { return c.m.e }

// slot is the slot whose formula is being evaluated
func (c *callContext) slot() SLR { return c.f.slr }

// each calls fn for every scalar in a list argument: the elements of an
// array, the stored values of a range, or the value itself
func (c *callContext) each(v Value, fn func(Value) bool) {
	switch x := v.(type) {
	case *Array:
		for _, e := range x.Elems {
			if !fn(e) {
				return
			}
		}
	case RangeRef:
		r := Range(x)
		for s := range r.Slots() {
			if !fn(c.m.e.store.CellValue(s)) {
				return
			}
		}
	default:
		fn(v)
	}
}

// array returns a list argument as an array, reading ranges from the store
func (c *callContext) array(v Value) (*Array, Value) {
	switch x := v.(type) {
	case *Array:
		return x, nil
	case RangeRef:
		a := c.m.rangeValues(Range(x))
		if e, ok := a.(Error); ok {
			return nil, e
		}
		return a.(*Array), nil
	}
	a := NewArray(1, 1)
	a.Set(0, 0, v)
	return a, nil
}

// arrayFrame applies a scalar function element by element across array
// arguments
type arrayFrame struct {
	ctx   *callContext
	args  []Value
	bcast []bool
	arrs  []*Array
	res   *Array
	i     int
}

const arrayChunk = 256

func newArrayFrame(ctx *callContext, args []Value, bcast []bool) (*arrayFrame, Value) {
	af := &arrayFrame{ctx: ctx, args: args, bcast: bcast, arrs: make([]*Array, len(args))}
	var shapes [][2]int
	for i, b := range bcast {
		if !b {
			continue
		}
		a, errv := ctx.array(args[i])
		if errv != nil {
			return nil, errv
		}
		af.arrs[i] = a
		shapes = append(shapes, [2]int{a.X, a.Y})
	}
	x, y := broadcastSize(shapes)
	if x*y > ctx.m.e.cfg.MaxArrayElements {
		return nil, ctx.m.outOfMemory()
	}
	af.res = NewArray(x, y)
	return af, nil
}

func (af *arrayFrame) kind() FrameKind { return FrameProcessingArray }

func (af *arrayFrame) step(m *machine) {
	def := af.ctx.def
	elem := make([]Value, len(af.args))
	for n := 0; n < arrayChunk && af.i < len(af.res.Elems); n++ {
		x, y := af.i%af.res.X, af.i/af.res.X
		var errv Value
		for k, a := range af.args {
			if !af.bcast[k] {
				elem[k] = a
				continue
			}
			v, act := m.normalise(af.arrs[k].Broadcast(x, y), def.argMask(k))
			if act != argOK && errv == nil {
				errv = v
				if act == argBroadcast {
					errv = NewError(ErrArgType)
				}
			}
			elem[k] = v
		}
		if errv != nil {
			af.res.Elems[af.i] = errv
		} else {
			af.res.Elems[af.i] = def.Fn(af.ctx, elem)
		}
		af.i++
	}
	if af.i >= len(af.res.Elems) {
		m.deliver(af.res, nil)
	}
}

func (af *arrayFrame) receive(*machine, Value) {}
