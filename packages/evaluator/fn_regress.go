package evaluator

import "math"

// design holds regression observations: one y per row and k x values
type design struct {
	y []float64
	x [][]float64
	k int
}

// xRows reads an x array as observations of n rows. a single row of n
// values is taken as one variable.
func xRows(a *Array, n int) ([][]float64, bool) {
	if a.Y != n && a.X == n && a.Y == 1 {
		a = a.Transpose()
	}
	if a.Y != n {
		return nil, false
	}
	rows := make([][]float64, n)
	for y := range rows {
		rows[y] = make([]float64, a.X)
		for x := 0; x < a.X; x++ {
			f, ok := AsFloat(a.At(x, y))
			if !ok {
				return nil, false
			}
			rows[y][x] = f
		}
	}
	return rows, true
}

func countingRows(n int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = []float64{float64(i + 1)}
	}
	return rows
}

func regressionData(c *callContext, args []Value, logY bool) (*design, Value) {
	ya, errv := c.array(args[0])
	if errv != nil {
		return nil, errv
	}
	d := &design{}
	for _, v := range ya.Elems {
		f, ok := AsFloat(v)
		if !ok {
			if e, isErr := v.(Error); isErr {
				return nil, e
			}
			return nil, NewError(ErrArgType)
		}
		if logY {
			if f <= 0 {
				return nil, NewError(ErrArgRange)
			}
			f = math.Log(f)
		}
		d.y = append(d.y, f)
	}
	n := len(d.y)
	if n == 0 {
		return nil, NewError(ErrNoValidData)
	}
	if len(args) > 1 {
		if _, blank := args[1].(Blank); !blank {
			xa, errv := c.array(args[1])
			if errv != nil {
				return nil, errv
			}
			rows, ok := xRows(xa, n)
			if !ok {
				return nil, NewError(ErrArgRange)
			}
			d.x = rows
		}
	}
	if d.x == nil {
		d.x = countingRows(n)
	}
	d.k = len(d.x[0])
	if n <= d.k {
		return nil, NewError(ErrNoValidData)
	}
	return d, nil
}

// solve fits y = b + sum(m[i] * x[i]) by least squares and returns
// [b, m1 .. mk]
func (d *design) solve() ([]float64, bool) {
	p := d.k + 1
	// normal equations, augmented with the right hand side
	a := make([][]float64, p)
	for i := range a {
		a[i] = make([]float64, p+1)
	}
	term := func(row []float64, i int) float64 {
		if i == 0 {
			return 1
		}
		return row[i-1]
	}
	for r, row := range d.x {
		for i := 0; i < p; i++ {
			ti := term(row, i)
			for j := 0; j < p; j++ {
				a[i][j] += ti * term(row, j)
			}
			a[i][p] += ti * d.y[r]
		}
	}
	for col := 0; col < p; col++ {
		pivot := col
		for r := col + 1; r < p; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := 0; r < p; r++ {
			if r == col {
				continue
			}
			f := a[r][col] / a[col][col]
			for j := col; j <= p; j++ {
				a[r][j] -= f * a[col][j]
			}
		}
	}
	coef := make([]float64, p)
	for i := range coef {
		coef[i] = a[i][p] / a[i][i]
	}
	return coef, true
}

func predict(coef []float64, row []float64) float64 {
	v := coef[0]
	for i, x := range row {
		v += coef[i+1] * x
	}
	return v
}

// coefficientRow lays coefficients out as {mk, .. m1, b}
func coefficientRow(coef []float64, transform func(float64) float64) Value {
	out := NewArray(len(coef), 1)
	for i := 1; i < len(coef); i++ {
		out.Set(len(coef)-1-i, 0, realResult(transform(coef[i])))
	}
	out.Set(len(coef)-1, 0, realResult(transform(coef[0])))
	return out
}

func identity(f float64) float64 { return f }

func fitLine(c *callContext, args []Value, logY bool) Value {
	d, errv := regressionData(c, args, logY)
	if errv != nil {
		return errv
	}
	coef, ok := d.solve()
	if !ok {
		return NewError(ErrDivZero)
	}
	if logY {
		return coefficientRow(coef, math.Exp)
	}
	return coefficientRow(coef, identity)
}

func projectLine(c *callContext, args []Value, logY bool) Value {
	d, errv := regressionData(c, args, logY)
	if errv != nil {
		return errv
	}
	coef, ok := d.solve()
	if !ok {
		return NewError(ErrDivZero)
	}
	rows := d.x
	if len(args) > 2 {
		na, errv := c.array(args[2])
		if errv != nil {
			return errv
		}
		if na.X != d.k {
			na = na.Transpose()
		}
		if na.X != d.k {
			return NewError(ErrArgRange)
		}
		r, ok := xRows(na, na.Y)
		if !ok {
			return NewError(ErrArgType)
		}
		rows = r
	}
	out := NewArray(1, len(rows))
	for i, row := range rows {
		v := predict(coef, row)
		if logY {
			v = math.Exp(v)
		}
		out.Set(0, i, realResult(v))
	}
	return out
}

func fnLinest(c *callContext, args []Value) Value { return fitLine(c, args, false) }
func fnLogest(c *callContext, args []Value) Value { return fitLine(c, args, true) }
func fnTrend(c *callContext, args []Value) Value  { return projectLine(c, args, false) }
func fnGrowth(c *callContext, args []Value) Value { return projectLine(c, args, true) }
