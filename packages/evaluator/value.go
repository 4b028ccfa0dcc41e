package evaluator

import (
	"math"
	"strconv"
	"strings"
)

// DataType tags the active member of a Value
type DataType uint8

const (
	TypeBlank DataType = iota
	TypeReal
	TypeWord8
	TypeWord16
	TypeWord32
	TypeDate
	TypeString
	TypeError
	TypeArray
	TypeRange
	TypeSLR
	TypeName
)

var dataTypeNames = [...]string{
	TypeBlank:  "blank",
	TypeReal:   "real",
	TypeWord8:  "word8",
	TypeWord16: "word16",
	TypeWord32: "word32",
	TypeDate:   "date",
	TypeString: "string",
	TypeError:  "error",
	TypeArray:  "array",
	TypeRange:  "range",
	TypeSLR:    "slr",
	TypeName:   "name",
}

func (t DataType) String() string {
	if int(t) < len(dataTypeNames) {
		return dataTypeNames[t]
	}
	return "unknown"
}

// Value is the evaluator's typed result. the set of implementations is
// closed: Blank, Real, Integer, Date, String, Error, *Array, RangeRef,
// SLRRef and NameRef.
type Value interface {
	Type() DataType
	sealed()
}

// Blank is an empty slot or missing value
type Blank struct{}

// Real is a double precision number
type Real float64

// Integer is a whole number. its reported width is the smallest of 8, 16
// or 32 bits that holds it. logical results are Integer 1 and 0.
type Integer int32

// Date holds a day number (days since 1 Jan 0001, day 1) and seconds
// since midnight. either part may be NoDate.
type Date struct {
	Days    int32
	Seconds int32
}

// NoDate marks an absent half of a Date
const NoDate int32 = math.MinInt32

// String is a text value
type String string

// Error is an evaluation error carried as data
type Error struct {
	Code ErrorCode
}

// RangeRef is a reference to a range of slots, dereferenced by its consumer
type RangeRef Range

// SLRRef is a reference to a single slot, dereferenced by its consumer
type SLRRef SLR

// NameRef refers to a name table entry
type NameRef NameID

func (Blank) Type() DataType { return TypeBlank }
func (Real) Type() DataType  { return TypeReal }
func (i Integer) Type() DataType {
	switch {
	case i >= math.MinInt8 && i <= math.MaxInt8:
		return TypeWord8
	case i >= math.MinInt16 && i <= math.MaxInt16:
		return TypeWord16
	default:
		return TypeWord32
	}
}
func (Date) Type() DataType     { return TypeDate }
func (String) Type() DataType   { return TypeString }
func (Error) Type() DataType    { return TypeError }
func (*Array) Type() DataType   { return TypeArray }
func (RangeRef) Type() DataType { return TypeRange }
func (SLRRef) Type() DataType   { return TypeSLR }
func (NameRef) Type() DataType  { return TypeName }

func (Blank) sealed()    {}
func (Real) sealed()     {}
func (Integer) sealed()  {}
func (Date) sealed()     {}
func (String) sealed()   {}
func (Error) sealed()    {}
func (*Array) sealed()   {}
func (RangeRef) sealed() {}
func (SLRRef) sealed()   {}
func (NameRef) sealed()  {}

// NewError builds an error value
func NewError(code ErrorCode) Error {
	return Error{Code: code}
}

// Bool converts a truth value into the Integer 1 or 0
func Bool(b bool) Integer {
	if b {
		return 1
	}
	return 0
}

// Number builds the narrowest numeric value for f: an Integer when f is a
// whole number that fits, a Real otherwise
func Number(f float64) Value {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
		return Integer(int32(f))
	}
	return Real(f)
}

// IsNumber reports whether v is a Real or an Integer
func IsNumber(v Value) bool {
	switch v.(type) {
	case Real, Integer:
		return true
	}
	return false
}

// AsFloat returns the numeric value of a Real, Integer or Blank
func AsFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case Real:
		return float64(x), true
	case Integer:
		return float64(x), true
	case Blank:
		return 0, true
	}
	return 0, false
}

// IsError returns the error carried by v, if any
func IsError(v Value) (Error, bool) {
	e, ok := v.(Error)
	return e, ok
}

// IsTruthy reports the logical value of a scalar
func IsTruthy(v Value) bool {
	switch x := v.(type) {
	case Real:
		return x != 0
	case Integer:
		return x != 0
	case String:
		return x != ""
	case Date:
		return true
	}
	return false
}

// CopyValue duplicates v. arrays are deep-copied; every other value is
// immutable and returned as is.
func CopyValue(v Value) Value {
	if a, ok := v.(*Array); ok {
		return a.Copy()
	}
	return v
}

// Equal compares two values for identity of type and content. it is used
// to decide whether a recalculated slot changed.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case *Array:
		y, ok := b.(*Array)
		if !ok || x.X != y.X || x.Y != y.Y {
			return false
		}
		for i := range x.Elems {
			if !Equal(x.Elems[i], y.Elems[i]) {
				return false
			}
		}
		return true
	case Real:
		y, ok := b.(Real)
		return ok && (x == y || (math.IsNaN(float64(x)) && math.IsNaN(float64(y))))
	case nil:
		return b == nil
	}
	return a == b
}

// FormatValue renders a value the way the command line host prints it
func FormatValue(v Value) string {
	switch x := v.(type) {
	case nil, Blank:
		return ""
	case Real:
		return strconv.FormatFloat(float64(x), 'g', 15, 64)
	case Integer:
		return strconv.Itoa(int(x))
	case String:
		return string(x)
	case Error:
		return x.Code.String()
	case Date:
		return formatDate(x)
	case *Array:
		var sb strings.Builder
		sb.WriteByte('{')
		for y := 0; y < x.Y; y++ {
			if y > 0 {
				sb.WriteByte(';')
			}
			for c := 0; c < x.X; c++ {
				if c > 0 {
					sb.WriteByte(',')
				}
				e := x.At(c, y)
				if s, ok := e.(String); ok {
					sb.WriteString(strconv.Quote(string(s)))
				} else {
					sb.WriteString(FormatValue(e))
				}
			}
		}
		sb.WriteByte('}')
		return sb.String()
	case RangeRef:
		return Range(x).String()
	case SLRRef:
		return SLR(x).String()
	case NameRef:
		return "name#" + strconv.Itoa(int(x))
	}
	return "?"
}
