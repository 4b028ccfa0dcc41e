package evaluator

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/language"
)

// MaxStringLength bounds strings built by REPT and friends
const MaxStringLength = 0xFFFF

var (
	upperCaser  = cases.Upper(language.Und)
	lowerCaser  = cases.Lower(language.Und)
	properCaser = cases.Title(language.Und)
)

func argText(v Value) string {
	s, _ := v.(String)
	return string(s)
}

func argInt(v Value) int {
	i, _ := v.(Integer)
	return int(i)
}

func stringResult(s string) Value {
	if len(s) > MaxStringLength {
		return NewError(ErrArgRange)
	}
	return String(s)
}

// CHAR maps a Latin-1 code to its character
func fnChar(_ *callContext, args []Value) Value {
	n := argInt(args[0])
	if n < 1 || n > 255 {
		return NewError(ErrArgRange)
	}
	return String(string(charmap.ISO8859_1.DecodeByte(byte(n))))
}

// CODE is the Latin-1 code of the first character, zero for an empty
// string
func fnCode(_ *callContext, args []Value) Value {
	s := argText(args[0])
	if s == "" {
		return Integer(0)
	}
	r, _ := utf8.DecodeRuneInString(s)
	b, ok := charmap.ISO8859_1.EncodeRune(r)
	if !ok {
		return NewError(ErrArgRange)
	}
	return Integer(int32(b))
}

func fnExact(_ *callContext, args []Value) Value {
	return Bool(argText(args[0]) == argText(args[1]))
}

// FIND returns the one-based position of the first string in the second,
// or zero
func fnFind(_ *callContext, args []Value) Value {
	find, within := []rune(argText(args[0])), []rune(argText(args[1]))
	start := 1
	if len(args) > 2 {
		start = argInt(args[2])
	}
	if start < 1 {
		return NewError(ErrArgRange)
	}
	if start > len(within)+1 {
		return Integer(0)
	}
	i := strings.Index(string(within[start-1:]), string(find))
	if i < 0 {
		return Integer(0)
	}
	return Integer(int32(start + utf8.RuneCountInString(string(within[start-1:])[:i])))
}

func fnJoin(_ *callContext, args []Value) Value {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(argText(a))
	}
	return stringResult(sb.String())
}

func fnLeft(_ *callContext, args []Value) Value {
	rs := []rune(argText(args[0]))
	n := 1
	if len(args) > 1 {
		n = argInt(args[1])
	}
	if n < 0 {
		return NewError(ErrArgRange)
	}
	return String(string(rs[:min(n, len(rs))]))
}

func fnRight(_ *callContext, args []Value) Value {
	rs := []rune(argText(args[0]))
	n := 1
	if len(args) > 1 {
		n = argInt(args[1])
	}
	if n < 0 {
		return NewError(ErrArgRange)
	}
	return String(string(rs[len(rs)-min(n, len(rs)):]))
}

func fnMid(_ *callContext, args []Value) Value {
	rs := []rune(argText(args[0]))
	start, n := argInt(args[1]), argInt(args[2])
	if start < 1 || n < 0 {
		return NewError(ErrArgRange)
	}
	if start > len(rs) {
		return String("")
	}
	end := min(start-1+n, len(rs))
	return String(string(rs[start-1 : end]))
}

func fnLength(_ *callContext, args []Value) Value {
	return Integer(int32(utf8.RuneCountInString(argText(args[0]))))
}

func fnLower(_ *callContext, args []Value) Value  { return String(lowerCaser.String(argText(args[0]))) }
func fnUpper(_ *callContext, args []Value) Value  { return String(upperCaser.String(argText(args[0]))) }
func fnProper(_ *callContext, args []Value) Value { return String(properCaser.String(argText(args[0]))) }

// REPLACE(text, start, n, new) replaces n characters from start
func fnReplace(_ *callContext, args []Value) Value {
	rs := []rune(argText(args[0]))
	start, n := argInt(args[1]), argInt(args[2])
	if start < 1 || n < 0 {
		return NewError(ErrArgRange)
	}
	from := min(start-1, len(rs))
	to := min(from+n, len(rs))
	return stringResult(string(rs[:from]) + argText(args[3]) + string(rs[to:]))
}

func fnRept(_ *callContext, args []Value) Value {
	s, n := argText(args[0]), argInt(args[1])
	if n < 0 || len(s)*n > MaxStringLength {
		return NewError(ErrArgRange)
	}
	return String(strings.Repeat(s, n))
}

func fnReverse(_ *callContext, args []Value) Value {
	rs := []rune(argText(args[0]))
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
	return String(string(rs))
}

// STRING(number, places) formats a number with fixed decimals, two by
// default
func fnString(_ *callContext, args []Value) Value {
	places := 2
	if len(args) > 1 {
		places = argInt(args[1])
	}
	if places < 0 || places > 15 {
		return NewError(ErrArgRange)
	}
	return String(strconv.FormatFloat(toFloat(args[0]), 'f', places, 64))
}

// TRIM drops leading and trailing spaces and collapses inner runs
func fnTrim(_ *callContext, args []Value) Value {
	return String(strings.Join(strings.Fields(argText(args[0])), " "))
}

func fnValue(_ *callContext, args []Value) Value {
	s := strings.TrimSpace(argText(args[0]))
	if i, err := strconv.ParseInt(s, 10, 32); err == nil {
		return Integer(int32(i))
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return NewError(ErrArgType)
	}
	return realResult(f)
}
