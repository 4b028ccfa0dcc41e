package evaluator

import "sort"

// Array is a dense X by Y grid of values, stored row by row. arrays never
// hold references: ranges are dereferenced into values before they are
// stored.
type Array struct {
	X     int
	Y     int
	Elems []Value
}

// NewArray allocates an x by y array of blanks
func NewArray(x, y int) *Array {
	a := &Array{X: x, Y: y, Elems: make([]Value, x*y)}
	for i := range a.Elems {
		a.Elems[i] = Blank{}
	}
	return a
}

// At returns the element at column x, row y. positions outside the array
// read as blank.
func (a *Array) At(x, y int) Value {
	if x < 0 || y < 0 || x >= a.X || y >= a.Y {
		return Blank{}
	}
	return a.Elems[y*a.X+x]
}

// Set stores v at column x, row y
func (a *Array) Set(x, y int, v Value) {
	a.Elems[y*a.X+x] = v
}

// Copy duplicates the array and every nested array
func (a *Array) Copy() *Array {
	c := &Array{X: a.X, Y: a.Y, Elems: make([]Value, len(a.Elems))}
	for i, e := range a.Elems {
		c.Elems[i] = CopyValue(e)
	}
	return c
}

// Broadcast reads element (x, y) of a w by h view of the array. a
// dimension of size one replicates across the view; elements past the
// array's bounds read as blank.
func (a *Array) Broadcast(x, y int) Value {
	if a.X == 1 {
		x = 0
	}
	if a.Y == 1 {
		y = 0
	}
	return a.At(x, y)
}

// Transpose swaps rows and columns
func (a *Array) Transpose() *Array {
	t := NewArray(a.Y, a.X)
	for y := 0; y < a.Y; y++ {
		for x := 0; x < a.X; x++ {
			t.Set(y, x, CopyValue(a.At(x, y)))
		}
	}
	return t
}

// SortRows returns a copy of the array with its rows ordered by column
// col, ascending. the sort is stable.
func (a *Array) SortRows(col int) *Array {
	rows := make([]int, a.Y)
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return compareValues(a.At(col, rows[i]), a.At(col, rows[j])) < 0
	})
	s := NewArray(a.X, a.Y)
	for y, src := range rows {
		for x := 0; x < a.X; x++ {
			s.Set(x, y, CopyValue(a.At(x, src)))
		}
	}
	return s
}

// broadcastSize works out the result shape when the given operand shapes
// are combined element by element: the largest extent in each axis.
func broadcastSize(shapes [][2]int) (int, int) {
	x, y := 1, 1
	for _, s := range shapes {
		if s[0] > x {
			x = s[0]
		}
		if s[1] > y {
			y = s[1]
		}
	}
	return x, y
}
