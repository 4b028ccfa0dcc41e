package evaluator

import (
	"math"
	"strings"
)

const secondsPerDay = 24 * 60 * 60

// realResult wraps a float result, turning overflow and NaN into errors
func realResult(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NewError(ErrArgRange)
	}
	return Real(f)
}

// intResult keeps an integer result when it fits in 32 bits
func intResult(i int64) Value {
	if i < math.MinInt32 || i > math.MaxInt32 {
		return Real(float64(i))
	}
	return Integer(int32(i))
}

func toFloat(v Value) float64 {
	f, _ := AsFloat(v)
	return f
}

// arith applies an integer or floating operation depending on the operand
// types. integer results that overflow 32 bits become reals.
func arith(a, b Value, iop func(x, y int64) int64, fop func(x, y float64) float64) Value {
	x, xok := a.(Integer)
	y, yok := b.(Integer)
	if xok && yok && iop != nil {
		return intResult(iop(int64(x), int64(y)))
	}
	return realResult(fop(toFloat(a), toFloat(b)))
}

func opUnaryPlus(_ *callContext, args []Value) Value {
	return args[0]
}

func opUnaryMinus(_ *callContext, args []Value) Value {
	if i, ok := args[0].(Integer); ok {
		return intResult(-int64(i))
	}
	return realResult(-toFloat(args[0]))
}

func opPercent(_ *callContext, args []Value) Value {
	return realResult(toFloat(args[0]) / 100)
}

// dateFloat flattens a date into fractional days for mixed arithmetic
func dateFloat(d Date) float64 {
	var f float64
	if d.Days != NoDate {
		f = float64(d.Days)
	}
	if d.Seconds != NoDate {
		f += float64(d.Seconds) / secondsPerDay
	}
	return f
}

// normaliseDate carries whole days out of the seconds part
func normaliseDate(days, secs int64, hasDays, hasSecs bool) Value {
	if hasSecs {
		carry := secs / secondsPerDay
		secs %= secondsPerDay
		if secs < 0 {
			secs += secondsPerDay
			carry--
		}
		if carry != 0 {
			days += carry
			hasDays = true
		}
	}
	d := Date{Days: NoDate, Seconds: NoDate}
	if hasDays {
		if days < 1 || days > math.MaxInt32 {
			return NewError(ErrBadDate)
		}
		d.Days = int32(days)
	}
	if hasSecs {
		d.Seconds = int32(secs)
	}
	return d
}

func addDates(a, b Date, sign int64) Value {
	days := int64(0)
	secs := int64(0)
	hasDays := a.Days != NoDate
	hasSecs := a.Seconds != NoDate || b.Seconds != NoDate
	if hasDays {
		days = int64(a.Days)
	}
	if b.Days != NoDate {
		days += sign * int64(b.Days)
		hasDays = true
	}
	if a.Seconds != NoDate {
		secs = int64(a.Seconds)
	}
	if b.Seconds != NoDate {
		secs += sign * int64(b.Seconds)
	}
	return normaliseDate(days, secs, hasDays, hasSecs)
}

func opAdd(_ *callContext, args []Value) Value {
	a, aDate := args[0].(Date)
	b, bDate := args[1].(Date)
	switch {
	case aDate && bDate:
		return addDates(a, b, 1)
	case aDate:
		return addDates(a, Date{Days: int32(toFloat(args[1])), Seconds: NoDate}, 1)
	case bDate:
		return addDates(b, Date{Days: int32(toFloat(args[0])), Seconds: NoDate}, 1)
	}
	return arith(args[0], args[1],
		func(x, y int64) int64 { return x + y },
		func(x, y float64) float64 { return x + y })
}

func opSub(_ *callContext, args []Value) Value {
	a, aDate := args[0].(Date)
	b, bDate := args[1].(Date)
	switch {
	case aDate && bDate:
		if a.Seconds == NoDate && b.Seconds == NoDate {
			return Integer(a.Days - b.Days)
		}
		return realResult(dateFloat(a) - dateFloat(b))
	case aDate:
		return addDates(a, Date{Days: int32(toFloat(args[1])), Seconds: NoDate}, -1)
	case bDate:
		return NewError(ErrArgType)
	}
	return arith(args[0], args[1],
		func(x, y int64) int64 { return x - y },
		func(x, y float64) float64 { return x - y })
}

func opMul(_ *callContext, args []Value) Value {
	return arith(args[0], args[1],
		func(x, y int64) int64 { return x * y },
		func(x, y float64) float64 { return x * y })
}

func opDiv(_ *callContext, args []Value) Value {
	y := toFloat(args[1])
	if y == 0 {
		return NewError(ErrDivZero)
	}
	a, aok := args[0].(Integer)
	b, bok := args[1].(Integer)
	if aok && bok && int64(a)%int64(b) == 0 {
		return intResult(int64(a) / int64(b))
	}
	return realResult(toFloat(args[0]) / y)
}

func opPower(_ *callContext, args []Value) Value {
	x, y := toFloat(args[0]), toFloat(args[1])
	if x == 0 && y < 0 {
		return NewError(ErrDivZero)
	}
	r := math.Pow(x, y)
	_, aok := args[0].(Integer)
	b, bok := args[1].(Integer)
	if aok && bok && b >= 0 && math.Abs(r) <= math.MaxInt32 {
		return Integer(int32(r))
	}
	return realResult(r)
}

// textOf renders a scalar for concatenation and string conversion
func textOf(v Value) string {
	if s, ok := v.(String); ok {
		return string(s)
	}
	return FormatValue(v)
}

func opConcat(_ *callContext, args []Value) Value {
	return String(textOf(args[0]) + textOf(args[1]))
}

func opCompare(test func(int) bool) execFunc {
	return func(_ *callContext, args []Value) Value {
		return Bool(test(compareValues(args[0], args[1])))
	}
}

func fnIf(_ *callContext, args []Value) Value {
	if IsTruthy(args[0]) {
		return args[1]
	}
	if len(args) > 2 {
		return args[2]
	}
	return Bool(false)
}

// logical folds AND and OR over scalars and the numbers inside vectors
func logical(c *callContext, args []Value, and bool) Value {
	result := and
	var errv Value
	for _, a := range args {
		c.each(a, func(v Value) bool {
			switch v.(type) {
			case Error:
				errv = v
				return false
			case Real, Integer:
				if and {
					result = result && IsTruthy(v)
				} else {
					result = result || IsTruthy(v)
				}
			}
			return true
		})
		if errv != nil {
			return errv
		}
	}
	return Bool(result)
}

func fnAnd(c *callContext, args []Value) Value { return logical(c, args, true) }
func fnOr(c *callContext, args []Value) Value  { return logical(c, args, false) }

func fnNot(_ *callContext, args []Value) Value {
	return Bool(!IsTruthy(args[0]))
}

func fnIsError(_ *callContext, args []Value) Value {
	_, ok := args[0].(Error)
	return Bool(ok)
}

func fnIsNumber(_ *callContext, args []Value) Value {
	return Bool(IsNumber(args[0]))
}

func fnIsText(_ *callContext, args []Value) Value {
	_, ok := args[0].(String)
	return Bool(ok)
}

func fnIsBlank(_ *callContext, args []Value) Value {
	_, ok := args[0].(Blank)
	return Bool(ok)
}

// compareValues orders two scalars: blanks take the type of the other
// side, numbers and dates sort before strings, strings compare without
// case, errors sort last
func compareValues(a, b Value) int {
	a, b = blankAs(a, b), blankAs(b, a)
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case String:
		y := b.(String)
		return strings.Compare(foldName(string(x)), foldName(string(y)))
	case Error:
		return int(x.Code) - int(b.(Error).Code)
	case Blank:
		return 0
	}
	fa, fb := scalarFloat(a), scalarFloat(b)
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}

func blankAs(v, other Value) Value {
	if _, ok := v.(Blank); !ok {
		return v
	}
	switch other.(type) {
	case String:
		return String("")
	case Real, Integer, Date:
		return Integer(0)
	}
	return v
}

func typeRank(v Value) int {
	switch v.(type) {
	case Blank:
		return 0
	case Real, Integer, Date:
		return 1
	case String:
		return 2
	case Error:
		return 3
	}
	return 4
}

func scalarFloat(v Value) float64 {
	if d, ok := v.(Date); ok {
		return dateFloat(d)
	}
	return toFloat(v)
}
