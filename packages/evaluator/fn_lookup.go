package evaluator

// CHOOSE(n, a1, a2 ...) picks the nth of its remaining arguments
func fnChoose(_ *callContext, args []Value) Value {
	n := argInt(args[0])
	if n < 1 || n >= len(args) {
		return NewError(ErrArgRange)
	}
	return CopyValue(args[n])
}

// position finds the top left slot of a reference argument, the calling
// slot when there is none
func position(c *callContext, args []Value) (SLR, bool) {
	if len(args) == 0 {
		return c.slot(), true
	}
	switch x := args[0].(type) {
	case SLRRef:
		return SLR(x), true
	case RangeRef:
		return Range(x).S, true
	}
	return SLR{}, false
}

func fnCol(c *callContext, args []Value) Value {
	s, ok := position(c, args)
	if !ok {
		return NewError(ErrArgType)
	}
	return Integer(s.Plain().Col + 1)
}

func fnRow(c *callContext, args []Value) Value {
	s, ok := position(c, args)
	if !ok {
		return NewError(ErrArgType)
	}
	return Integer(s.Plain().Row + 1)
}

func fnCols(_ *callContext, args []Value) Value {
	x, _ := vectorShape(args[0])
	return Integer(int32(x))
}

func fnRows(_ *callContext, args []Value) Value {
	_, y := vectorShape(args[0])
	return Integer(int32(y))
}

// INDEX(vector, col, row) is one-based. indexing a range yields a
// reference to the slot.
func fnIndex(_ *callContext, args []Value) Value {
	x, y := argInt(args[1]), argInt(args[2])
	cols, rows := vectorShape(args[0])
	if x < 1 || y < 1 || x > cols || y > rows {
		return NewError(ErrArgRange)
	}
	switch v := args[0].(type) {
	case RangeRef:
		r := Range(v)
		return SLRRef(SLR{Doc: r.S.Doc, Col: r.S.Col + int32(x-1), Row: r.S.Row + int32(y-1)})
	case *Array:
		return CopyValue(v.At(x-1, y-1))
	}
	return NewError(ErrArgType)
}

// DEREF yields the reference given by a reference or by its text. the
// interpreter fetches it, calculating the target first if need be.
func fnDeref(c *callContext, args []Value) Value {
	switch x := args[0].(type) {
	case SLRRef, RangeRef:
		return x
	case String:
		e := c.engine()
		ref, name, ok := e.referenceFromText(string(x), c.slot())
		if name != 0 {
			e.useDynamic(c.slot(), NameRef(name))
		}
		if !ok {
			return NewError(ErrArgType)
		}
		e.useDynamic(c.slot(), ref)
		return ref
	}
	return NewError(ErrArgType)
}
