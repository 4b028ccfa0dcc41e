package evaluator

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Opcode is the first byte of each compiled instruction
type Opcode uint8

const (
	OpEnd Opcode = iota
	OpReal
	OpWord8
	OpWord16
	OpWord32
	OpString
	OpDate
	OpError
	OpSLR
	OpRange
	OpName
	OpArg
	OpArray
	OpBrackets
	OpFunc
	OpCustom
	OpBlank
)

var opcodeNames = [...]string{
	OpEnd: "end", OpReal: "real", OpWord8: "word8", OpWord16: "word16",
	OpWord32: "word32", OpString: "string", OpDate: "date", OpError: "error",
	OpSLR: "slr", OpRange: "range", OpName: "name", OpArg: "arg",
	OpArray: "array", OpBrackets: "brackets", OpFunc: "func",
	OpCustom: "custom", OpBlank: "blank",
}

func (o Opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return fmt.Sprintf("op%d", uint8(o))
}

// Instr is one decoded instruction
type Instr struct {
	Op     Opcode
	Offset int // byte offset of the opcode within the formula
	Len    int // encoded length, opcode included

	Lit    Value // literal payload for constants and arrays
	SLR    SLR
	Range  Range
	Name   NameID
	Custom CustomID
	Func   FuncID
	NArgs  int
	Arg    string
}

// rpnBuilder accumulates an instruction stream
type rpnBuilder struct {
	buf []byte
}

func (b *rpnBuilder) op(o Opcode) {
	b.buf = append(b.buf, byte(o))
}

func (b *rpnBuilder) u16(v uint16) { b.buf = binary.LittleEndian.AppendUint16(b.buf, v) }
func (b *rpnBuilder) u32(v uint32) { b.buf = binary.LittleEndian.AppendUint32(b.buf, v) }
func (b *rpnBuilder) i32(v int32)  { b.u32(uint32(v)) }

func (b *rpnBuilder) real(f float64) {
	b.op(OpReal)
	b.buf = binary.LittleEndian.AppendUint64(b.buf, math.Float64bits(f))
}

func (b *rpnBuilder) integer(i int32) {
	switch Integer(i).Type() {
	case TypeWord8:
		b.op(OpWord8)
		b.buf = append(b.buf, byte(int8(i)))
	case TypeWord16:
		b.op(OpWord16)
		b.u16(uint16(int16(i)))
	default:
		b.op(OpWord32)
		b.i32(i)
	}
}

func (b *rpnBuilder) str(s string) {
	b.op(OpString)
	b.u16(uint16(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *rpnBuilder) date(d Date) {
	b.op(OpDate)
	b.i32(d.Days)
	b.i32(d.Seconds)
}

func (b *rpnBuilder) errorCode(c ErrorCode) {
	b.op(OpError)
	b.u16(uint16(c))
}

func (b *rpnBuilder) slrBody(s SLR) {
	b.u16(uint16(s.Doc))
	b.i32(s.Col)
	b.i32(s.Row)
}

func (b *rpnBuilder) slr(s SLR) {
	b.op(OpSLR)
	b.slrBody(s)
}

func (b *rpnBuilder) rng(r Range) {
	b.op(OpRange)
	b.u16(uint16(r.S.Doc))
	b.i32(r.S.Col)
	b.i32(r.S.Row)
	b.i32(r.E.Col)
	b.i32(r.E.Row)
}

func (b *rpnBuilder) name(id NameID) {
	b.op(OpName)
	b.u32(uint32(id))
}

func (b *rpnBuilder) arg(name string) {
	b.op(OpArg)
	b.u16(uint16(len(name)))
	b.buf = append(b.buf, name...)
}

func (b *rpnBuilder) literal(v Value) error {
	switch x := v.(type) {
	case Real:
		b.real(float64(x))
	case Integer:
		b.integer(int32(x))
	case String:
		b.str(string(x))
	case Date:
		b.date(x)
	case Error:
		b.errorCode(x.Code)
	case Blank:
		b.op(OpBlank)
	default:
		return fmt.Errorf("cannot encode %s as a literal", v.Type())
	}
	return nil
}

func (b *rpnBuilder) array(a *Array) error {
	b.op(OpArray)
	b.u16(uint16(a.X))
	b.u16(uint16(a.Y))
	for _, e := range a.Elems {
		if err := b.literal(e); err != nil {
			return err
		}
	}
	return nil
}

func (b *rpnBuilder) fn(id FuncID, nargs int) {
	b.op(OpFunc)
	b.u16(uint16(id))
	b.buf = append(b.buf, byte(nargs))
}

func (b *rpnBuilder) custom(id CustomID, nargs int) {
	b.op(OpCustom)
	b.u32(uint32(id))
	b.buf = append(b.buf, byte(nargs))
}

func (b *rpnBuilder) end() []byte {
	b.op(OpEnd)
	return b.buf
}

// errTruncated reports an instruction stream that ends mid-instruction
var errTruncated = fmt.Errorf("compiled formula truncated")

// decode reads the instruction at offset off
func decode(rpn []byte, off int) (Instr, error) {
	if off >= len(rpn) {
		return Instr{}, errTruncated
	}
	in := Instr{Op: Opcode(rpn[off]), Offset: off}
	p := off + 1
	need := func(n int) bool { return p+n <= len(rpn) }
	u16 := func() uint16 { v := binary.LittleEndian.Uint16(rpn[p:]); p += 2; return v }
	u32 := func() uint32 { v := binary.LittleEndian.Uint32(rpn[p:]); p += 4; return v }
	i32 := func() int32 { return int32(u32()) }

	switch in.Op {
	case OpEnd, OpBrackets:
	case OpBlank:
		in.Lit = Blank{}
	case OpReal:
		if !need(8) {
			return in, errTruncated
		}
		in.Lit = Real(math.Float64frombits(binary.LittleEndian.Uint64(rpn[p:])))
		p += 8
	case OpWord8:
		if !need(1) {
			return in, errTruncated
		}
		in.Lit = Integer(int8(rpn[p]))
		p++
	case OpWord16:
		if !need(2) {
			return in, errTruncated
		}
		in.Lit = Integer(int16(u16()))
	case OpWord32:
		if !need(4) {
			return in, errTruncated
		}
		in.Lit = Integer(i32())
	case OpString, OpArg:
		if !need(2) {
			return in, errTruncated
		}
		n := int(u16())
		if !need(n) {
			return in, errTruncated
		}
		s := string(rpn[p : p+n])
		p += n
		if in.Op == OpString {
			in.Lit = String(s)
		} else {
			in.Arg = s
		}
	case OpDate:
		if !need(8) {
			return in, errTruncated
		}
		in.Lit = Date{Days: i32(), Seconds: i32()}
	case OpError:
		if !need(2) {
			return in, errTruncated
		}
		in.Lit = NewError(ErrorCode(u16()))
	case OpSLR:
		if !need(10) {
			return in, errTruncated
		}
		in.SLR = SLR{Doc: DocNo(u16()), Col: i32(), Row: i32()}
	case OpRange:
		if !need(18) {
			return in, errTruncated
		}
		doc := DocNo(u16())
		in.Range.S = SLR{Doc: doc, Col: i32(), Row: i32()}
		in.Range.E = SLR{Doc: doc, Col: i32(), Row: i32()}
	case OpName:
		if !need(4) {
			return in, errTruncated
		}
		in.Name = NameID(u32())
	case OpFunc:
		if !need(3) {
			return in, errTruncated
		}
		in.Func = FuncID(u16())
		in.NArgs = int(rpn[p])
		p++
	case OpCustom:
		if !need(5) {
			return in, errTruncated
		}
		in.Custom = CustomID(u32())
		in.NArgs = int(rpn[p])
		p++
	case OpArray:
		if !need(4) {
			return in, errTruncated
		}
		x, y := int(u16()), int(u16())
		a := NewArray(x, y)
		for i := range a.Elems {
			e, err := decode(rpn, p)
			if err != nil {
				return in, err
			}
			if e.Lit == nil {
				return in, fmt.Errorf("non-literal %s inside array at %d", e.Op, p)
			}
			a.Elems[i] = e.Lit
			p += e.Len
		}
		in.Lit = a
	default:
		return in, fmt.Errorf("bad opcode %d at offset %d", rpn[off], off)
	}
	in.Len = p - off
	return in, nil
}

// Walk decodes every instruction of a compiled formula in order, stopping
// at OpEnd or when fn returns false
func Walk(rpn []byte, fn func(Instr) bool) error {
	off := 0
	for off < len(rpn) {
		in, err := decode(rpn, off)
		if err != nil {
			return err
		}
		if in.Op == OpEnd {
			return nil
		}
		if !fn(in) {
			return nil
		}
		off += in.Len
	}
	return errTruncated
}

// lastInstr returns the final instruction before OpEnd, which for a
// statement in a custom function identifies its control opcode
func lastInstr(rpn []byte) (Instr, bool) {
	var last Instr
	found := false
	if err := Walk(rpn, func(in Instr) bool {
		last, found = in, true
		return true
	}); err != nil {
		return Instr{}, false
	}
	return last, found
}

// markBad sets the bad marker on the reference instruction at offset off,
// in place
func markBad(rpn []byte, off int) bool {
	if off >= len(rpn) {
		return false
	}
	switch Opcode(rpn[off]) {
	case OpSLR:
		if off+11 > len(rpn) {
			return false
		}
		col := binary.LittleEndian.Uint32(rpn[off+3:])
		binary.LittleEndian.PutUint32(rpn[off+3:], col|uint32(BadBit))
		return true
	case OpRange:
		if off+19 > len(rpn) {
			return false
		}
		for _, p := range []int{off + 3, off + 11} {
			col := binary.LittleEndian.Uint32(rpn[p:])
			binary.LittleEndian.PutUint32(rpn[p:], col|uint32(BadBit))
		}
		return true
	}
	return false
}
