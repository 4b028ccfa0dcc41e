package evaluator

import (
	"fmt"
	"iter"
	"strings"
)

// DocNo identifies an open (or referenced) document. zero means no document.
type DocNo uint16

const (
	// AbsBit marks an absolute ($) coordinate
	AbsBit int32 = 1 << 29
	// BadBit marks a coordinate whose target was deleted
	BadBit int32 = 1 << 30
	// CoordMask extracts the coordinate value from a flagged coordinate
	CoordMask int32 = AbsBit - 1

	MaxCol int32 = 0x7FFF
	MaxRow int32 = CoordMask
)

// SLR is a slot (cell) reference: document, column and row. column and row
// are zero-based and may carry AbsBit and BadBit.
type SLR struct {
	Doc DocNo
	Col int32
	Row int32
}

// Bad reports whether either coordinate carries the bad marker
func (s SLR) Bad() bool {
	return s.Col&BadBit != 0 || s.Row&BadBit != 0
}

// Plain strips the absolute and bad markers, leaving the coordinates
func (s SLR) Plain() SLR {
	return SLR{Doc: s.Doc, Col: s.Col & CoordMask, Row: s.Row & CoordMask}
}

func (s SLR) AbsCol() bool { return s.Col&AbsBit != 0 }
func (s SLR) AbsRow() bool { return s.Row&AbsBit != 0 }

// Offset moves the relative coordinates of s by (dc, dr). absolute
// coordinates are left alone.
func (s SLR) Offset(dc, dr int32) SLR {
	if !s.AbsCol() {
		s.Col = (s.Col & ^CoordMask) | ((s.Col&CoordMask + dc) & CoordMask)
	}
	if !s.AbsRow() {
		s.Row = (s.Row & ^CoordMask) | ((s.Row&CoordMask + dr) & CoordMask)
	}
	return s
}

// Less orders slots by document, row, then column (sheet reading order)
func (s SLR) Less(o SLR) bool {
	if s.Doc != o.Doc {
		return s.Doc < o.Doc
	}
	if s.Row&CoordMask != o.Row&CoordMask {
		return s.Row&CoordMask < o.Row&CoordMask
	}
	return s.Col&CoordMask < o.Col&CoordMask
}

func (s SLR) String() string {
	return FormatSLR(s)
}

// Range is a box of slots within one document. S is inclusive and E is
// exclusive in both axes.
type Range struct {
	S SLR
	E SLR
}

// NewRange builds a normalised range from two inclusive corner slots
func NewRange(a, b SLR) Range {
	ac, ar := a.Col&CoordMask, a.Row&CoordMask
	bc, br := b.Col&CoordMask, b.Row&CoordMask
	r := Range{S: a, E: b}
	if bc < ac {
		r.S.Col, r.E.Col = b.Col, a.Col
		ac, bc = bc, ac
	}
	if br < ar {
		r.S.Row, r.E.Row = b.Row, a.Row
		ar, br = br, ar
	}
	r.E.Doc = r.S.Doc
	r.E.Col = (r.E.Col & ^CoordMask) | (bc + 1)
	r.E.Row = (r.E.Row & ^CoordMask) | (br + 1)
	return r
}

// Bad reports whether any corner carries the bad marker
func (r Range) Bad() bool {
	return r.S.Bad() || r.E.Bad()
}

// Plain strips the markers from both corners
func (r Range) Plain() Range {
	return Range{S: r.S.Plain(), E: r.E.Plain()}
}

// Cols returns the width of the range
func (r Range) Cols() int32 {
	return r.E.Col&CoordMask - r.S.Col&CoordMask
}

// Rows returns the height of the range
func (r Range) Rows() int32 {
	return r.E.Row&CoordMask - r.S.Row&CoordMask
}

// Contains checks whether slot s lies inside the range
func (r Range) Contains(s SLR) bool {
	if s.Doc != r.S.Doc {
		return false
	}
	c, w := s.Col&CoordMask, s.Row&CoordMask
	return c >= r.S.Col&CoordMask && c < r.E.Col&CoordMask &&
		w >= r.S.Row&CoordMask && w < r.E.Row&CoordMask
}

// Overlaps checks whether two ranges share at least one slot
func (r Range) Overlaps(o Range) bool {
	if r.S.Doc != o.S.Doc {
		return false
	}
	return r.S.Col&CoordMask < o.E.Col&CoordMask && o.S.Col&CoordMask < r.E.Col&CoordMask &&
		r.S.Row&CoordMask < o.E.Row&CoordMask && o.S.Row&CoordMask < r.E.Row&CoordMask
}

// Within checks whether r lies entirely inside o
func (r Range) Within(o Range) bool {
	if r.S.Doc != o.S.Doc {
		return false
	}
	return r.S.Col&CoordMask >= o.S.Col&CoordMask && r.E.Col&CoordMask <= o.E.Col&CoordMask &&
		r.S.Row&CoordMask >= o.S.Row&CoordMask && r.E.Row&CoordMask <= o.E.Row&CoordMask
}

// Offset moves the relative corners of a range
func (r Range) Offset(dc, dr int32) Range {
	return Range{S: r.S.Offset(dc, dr), E: r.E.Offset(dc, dr)}
}

// Slots lazily yields each slot of the range, column by column
func (r Range) Slots() iter.Seq[SLR] {
	return func(yield func(SLR) bool) {
		p := r.Plain()
		for col := p.S.Col; col < p.E.Col; col++ {
			for row := p.S.Row; row < p.E.Row; row++ {
				if !yield(SLR{Doc: p.S.Doc, Col: col, Row: row}) {
					return
				}
			}
		}
	}
}

func (r Range) String() string {
	last := r.E
	last.Col = (last.Col & ^CoordMask) | (last.Col&CoordMask - 1)
	last.Row = (last.Row & ^CoordMask) | (last.Row&CoordMask - 1)
	return FormatSLR(r.S) + ":" + formatCoords(last)
}

// ColumnName converts a zero-based column index into letters (0 -> A,
// 26 -> AA)
func ColumnName(col int32) string {
	var b []byte
	col++
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// FormatSLR renders a slot as A1 notation, without a document prefix
func FormatSLR(s SLR) string {
	return formatCoords(s)
}

func formatCoords(s SLR) string {
	if s.Bad() {
		return "#REF"
	}
	var sb strings.Builder
	if s.AbsCol() {
		sb.WriteByte('$')
	}
	sb.WriteString(ColumnName(s.Col & CoordMask))
	if s.AbsRow() {
		sb.WriteByte('$')
	}
	fmt.Fprintf(&sb, "%d", s.Row&CoordMask+1)
	return sb.String()
}

// parseCoords parses an A1 style reference such as "B12" or "$B$12". it
// returns the slot with doc unset, or ok=false when text is not a reference.
func parseCoords(text string) (SLR, bool) {
	i := 0
	var s SLR
	if i < len(text) && text[i] == '$' {
		s.Col |= AbsBit
		i++
	}
	start := i
	col := int32(0)
	for i < len(text) && isLetter(text[i]) {
		col = col*26 + int32(upper(text[i])-'A'+1)
		if col > MaxCol+1 {
			return SLR{}, false
		}
		i++
	}
	if i == start {
		return SLR{}, false
	}
	if i < len(text) && text[i] == '$' {
		s.Row |= AbsBit
		i++
	}
	start = i
	row := int64(0)
	for i < len(text) && text[i] >= '0' && text[i] <= '9' {
		row = row*10 + int64(text[i]-'0')
		if row > int64(MaxRow)+1 {
			return SLR{}, false
		}
		i++
	}
	if i == start || i != len(text) || row == 0 {
		return SLR{}, false
	}
	s.Col |= col - 1
	s.Row |= int32(row - 1)
	return s, true
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
