package evaluator

import "math"

type realOp func(x float64) (float64, bool)

// realFunc adapts a one argument real function. ok false means the
// argument is outside the function's domain.
func realFunc(op realOp) execFunc {
	return func(_ *callContext, args []Value) Value {
		r, ok := op(toFloat(args[0]))
		if !ok {
			return NewError(ErrArgRange)
		}
		return realResult(r)
	}
}

func acos(x float64) (float64, bool) { return math.Acos(x), x >= -1 && x <= 1 }
func asin(x float64) (float64, bool) { return math.Asin(x), x >= -1 && x <= 1 }
func atan(x float64) (float64, bool) { return math.Atan(x), true }
func cos(x float64) (float64, bool)  { return math.Cos(x), true }
func sin(x float64) (float64, bool)  { return math.Sin(x), true }
func tan(x float64) (float64, bool)  { return math.Tan(x), true }
func deg(x float64) (float64, bool)  { return x * 180 / math.Pi, true }
func rad(x float64) (float64, bool)  { return x * math.Pi / 180, true }
func exp(x float64) (float64, bool)  { return math.Exp(x), true }
func ln(x float64) (float64, bool)   { return math.Log(x), x > 0 }
func sqrt(x float64) (float64, bool) { return math.Sqrt(x), x >= 0 }

func fnAbs(_ *callContext, args []Value) Value {
	if i, ok := args[0].(Integer); ok {
		if i < 0 {
			return intResult(-int64(i))
		}
		return i
	}
	return Real(math.Abs(toFloat(args[0])))
}

// ATAN2(x, y) is the angle of the point (x, y)
func fnAtan2(_ *callContext, args []Value) Value {
	x, y := toFloat(args[0]), toFloat(args[1])
	if x == 0 && y == 0 {
		return NewError(ErrDivZero)
	}
	return Real(math.Atan2(y, x))
}

func fnFact(_ *callContext, args []Value) Value {
	n := int(args[0].(Integer))
	if n < 0 || n > 170 {
		return NewError(ErrArgRange)
	}
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return Number(f)
}

func fnInt(_ *callContext, args []Value) Value {
	if i, ok := args[0].(Integer); ok {
		return i
	}
	return Number(math.Trunc(toFloat(args[0])))
}

func fnLog(_ *callContext, args []Value) Value {
	x := toFloat(args[0])
	base := 10.0
	if len(args) > 1 {
		base = toFloat(args[1])
	}
	if x <= 0 || base <= 0 || base == 1 {
		return NewError(ErrArgRange)
	}
	if base == 10 {
		return realResult(math.Log10(x))
	}
	return realResult(math.Log(x) / math.Log(base))
}

// MOD takes the sign of the dividend
func fnMod(_ *callContext, args []Value) Value {
	a, aok := args[0].(Integer)
	b, bok := args[1].(Integer)
	if aok && bok {
		if b == 0 {
			return NewError(ErrDivZero)
		}
		return intResult(int64(a) % int64(b))
	}
	y := toFloat(args[1])
	if y == 0 {
		return NewError(ErrDivZero)
	}
	return realResult(math.Mod(toFloat(args[0]), y))
}

func fnSgn(_ *callContext, args []Value) Value {
	x := toFloat(args[0])
	switch {
	case x > 0:
		return Integer(1)
	case x < 0:
		return Integer(-1)
	}
	return Integer(0)
}

// ROUND rounds half away from zero to the given number of decimal places
func fnRound(_ *callContext, args []Value) Value {
	places := 0
	if len(args) > 1 {
		places = int(args[1].(Integer))
	}
	if i, ok := args[0].(Integer); ok && places >= 0 {
		return i
	}
	if places < -15 || places > 15 {
		return NewError(ErrArgRange)
	}
	scale := math.Pow(10, float64(places))
	r := math.Round(toFloat(args[0])*scale) / scale
	if places <= 0 {
		return Number(r)
	}
	return realResult(r)
}

func toMultiple(args []Value, round func(float64) float64) Value {
	mult := 1.0
	if len(args) > 1 {
		mult = toFloat(args[1])
	}
	if mult == 0 {
		return Integer(0)
	}
	x := toFloat(args[0])
	if x*mult < 0 {
		return NewError(ErrArgRange)
	}
	r := round(x/mult) * mult
	if _, ok := args[0].(Integer); ok {
		if _, ok := args[len(args)-1].(Integer); ok {
			return Number(r)
		}
	}
	return realResult(r)
}

func fnCeiling(_ *callContext, args []Value) Value { return toMultiple(args, math.Ceil) }
func fnFloor(_ *callContext, args []Value) Value   { return toMultiple(args, math.Floor) }

func fnPi(*callContext, []Value) Value {
	return Real(math.Pi)
}
