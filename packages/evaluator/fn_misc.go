package evaluator

import (
	"math/rand/v2"
)

// RandomGenerator provides numbers for RAND and GRAND
type RandomGenerator interface {
	Float64() float64
	NormFloat64() float64
}

// Seeder is implemented by generators RAND can reseed
type Seeder interface {
	Seed(seed uint64)
}

// DefaultRandomGenerator draws from a PCG source seeded at random
type DefaultRandomGenerator struct {
	r *rand.Rand
}

func NewDefaultRandomGenerator() *DefaultRandomGenerator {
	return &DefaultRandomGenerator{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

func (d *DefaultRandomGenerator) Float64() float64     { return d.r.Float64() }
func (d *DefaultRandomGenerator) NormFloat64() float64 { return d.r.NormFloat64() }

func (d *DefaultRandomGenerator) Seed(seed uint64) {
	d.r = rand.New(rand.NewPCG(seed, seed))
}

// SORT(vector, col) orders the rows of an array by a zero-based column
func fnSort(c *callContext, args []Value) Value {
	a, errv := c.array(args[0])
	if errv != nil {
		return errv
	}
	col := 0
	if len(args) > 1 {
		col = argInt(args[1])
	}
	if col < 0 || col >= a.X {
		return NewError(ErrArgRange)
	}
	return a.SortRows(col)
}

func fnTranspose(c *callContext, args []Value) Value {
	a, errv := c.array(args[0])
	if errv != nil {
		return errv
	}
	return a.Transpose()
}

func fnType(_ *callContext, args []Value) Value {
	switch args[0].(type) {
	case Real, Integer:
		return String("number")
	case String:
		return String("text")
	case Date:
		return String("date")
	case Error:
		return String("error")
	case *Array:
		return String("array")
	case RangeRef, SLRRef:
		return String("reference")
	}
	return String("blank")
}

// SET_VALUE(ref, value) stores value into the referenced slots, an array
// spreading over a range. the written slots' dependents are queued.
func fnSetValue(c *callContext, args []Value) Value {
	var r Range
	switch x := args[0].(type) {
	case SLRRef:
		r = NewRange(SLR(x), SLR(x))
	case RangeRef:
		r = Range(x)
	default:
		return NewError(ErrArgType)
	}
	v := args[1]
	if _, ok := v.(RangeRef); ok {
		a, errv := c.array(v)
		if errv != nil {
			return errv
		}
		v = a
	}
	e := c.engine()
	if !e.docs.IsOpen(r.S.Doc) {
		return NewError(ErrExtRefUnavailable)
	}
	arr, _ := v.(*Array)
	for s := range r.Slots() {
		val := v
		if arr != nil {
			val = CopyValue(arr.Broadcast(int(s.Col-r.S.Col), int(s.Row-r.S.Row)))
		}
		e.assignValue(s, val)
	}
	return CopyValue(v)
}

// SET_NAME(name, value) defines a name in the calling slot's document
func fnSetName(c *callContext, args []Value) Value {
	name := argText(args[0])
	if !isIdentifier(name) {
		return NewError(ErrArgRange)
	}
	if _, isRef := parseCoords(name); isRef {
		return NewError(ErrArgRange)
	}
	v := args[1]
	if _, ok := v.(NameRef); ok {
		return NewError(ErrArgType)
	}
	c.engine().defineName(c.slot().Doc, name, v)
	return CopyValue(v)
}
