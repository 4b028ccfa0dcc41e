package evaluator

import (
	"math"
	"sort"
)

type statKind uint8

const (
	statSum statKind = iota
	statAvg
	statCount
	statCountA
	statMax
	statMin
	statStd
	statStdP
	statVar
	statVarP
)

// accumulator gathers the numbers of a list argument. strings and
// blanks inside vectors are skipped; an error anywhere wins.
type accumulator struct {
	n        int
	nonBlank int
	allInt   bool
	sum      float64
	sumSq    float64
	min, max float64
	err      Value
}

func (a *accumulator) add(v Value) bool {
	switch x := v.(type) {
	case Error:
		a.err = x
		return false
	case Blank:
		return true
	case Real, Integer:
		f := toFloat(x)
		if _, ok := x.(Integer); !ok {
			a.allInt = false
		}
		if a.n == 0 || f < a.min {
			a.min = f
		}
		if a.n == 0 || f > a.max {
			a.max = f
		}
		a.n++
		a.sum += f
		a.sumSq += f * f
	}
	a.nonBlank++
	return true
}

func (a *accumulator) variance(sample bool) (float64, bool) {
	d := float64(a.n)
	if sample {
		d--
	}
	if d <= 0 {
		return 0, false
	}
	mean := a.sum / float64(a.n)
	v := (a.sumSq - float64(a.n)*mean*mean) / d
	if v < 0 {
		v = 0
	}
	return v, true
}

func (a *accumulator) number(f float64) Value {
	if a.allInt {
		return Number(f)
	}
	return realResult(f)
}

func statFunc(kind statKind) execFunc {
	return func(c *callContext, args []Value) Value {
		acc := &accumulator{allInt: true}
		for _, arg := range args {
			c.each(arg, acc.add)
			if acc.err != nil {
				return acc.err
			}
		}
		switch kind {
		case statSum:
			return acc.number(acc.sum)
		case statAvg:
			if acc.n == 0 {
				return NewError(ErrDivZero)
			}
			return realResult(acc.sum / float64(acc.n))
		case statCount:
			return Integer(int32(acc.n))
		case statCountA:
			return Integer(int32(acc.nonBlank))
		case statMax:
			return acc.number(acc.max)
		case statMin:
			return acc.number(acc.min)
		}
		v, ok := acc.variance(kind == statStd || kind == statVar)
		if !ok {
			return NewError(ErrDivZero)
		}
		if kind == statStd || kind == statStdP {
			v = math.Sqrt(v)
		}
		return realResult(v)
	}
}

// numbers flattens the numeric elements of a vector
func numbers(c *callContext, v Value) ([]float64, Value) {
	var out []float64
	var errv Value
	c.each(v, func(e Value) bool {
		switch x := e.(type) {
		case Error:
			errv = x
			return false
		case Real, Integer:
			out = append(out, toFloat(x))
		case Date:
			out = append(out, dateFloat(x))
		}
		return true
	})
	return out, errv
}

func fnMedian(c *callContext, args []Value) Value {
	xs, errv := numbers(c, args[0])
	if errv != nil {
		return errv
	}
	if len(xs) == 0 {
		return NewError(ErrNoValidData)
	}
	sort.Float64s(xs)
	h := len(xs) / 2
	m := xs[h]
	if len(xs)%2 == 0 {
		m = (m + xs[h-1]) / 2
	}
	return Number(m)
}

// productBetween multiplies the integers lo..hi
func productBetween(lo, hi int) float64 {
	p := 1.0
	for i := lo; i <= hi; i++ {
		p *= float64(i)
	}
	return p
}

func lnFactorial(n int) float64 {
	r, _ := math.Lgamma(float64(n) + 1)
	return r
}

func fnCombin(_ *callContext, args []Value) Value {
	n, k := int(args[0].(Integer)), int(args[1].(Integer))
	switch {
	case n < 0 || k < 0:
		return NewError(ErrArgRange)
	case k > n:
		return Integer(0)
	case k == 0 || k == n:
		return Integer(1)
	case n <= 170:
		return Number(math.Floor(productBetween(n-k+1, n)/productBetween(1, k) + 0.5))
	}
	lnc := lnFactorial(n) - lnFactorial(k) - lnFactorial(n-k)
	return realResult(math.Floor(math.Exp(lnc) + 0.5))
}

func fnPermut(_ *callContext, args []Value) Value {
	n, k := int(args[0].(Integer)), int(args[1].(Integer))
	switch {
	case n < 0 || k < 0:
		return NewError(ErrArgRange)
	case k > n:
		return Integer(0)
	case k == 0:
		return Integer(1)
	case n <= 170:
		return Number(productBetween(n-k+1, n))
	}
	return realResult(math.Floor(math.Exp(lnFactorial(n)-lnFactorial(n-k)) + 0.5))
}

// RANK returns a two column array: the position of each element of the
// first column counting from the largest, and the number of elements
// equal to it. with the spearman flag tied positions are averaged.
func fnRank(c *callContext, args []Value) Value {
	a, errv := c.array(args[0])
	if errv != nil {
		return errv
	}
	spearman := len(args) > 1 && args[1].(Integer) != 0
	out := NewArray(2, a.Y)
	for y := 0; y < a.Y; y++ {
		v := a.At(0, y)
		position, equal := 1, 1
		for t := 0; t < a.Y; t++ {
			if t == y {
				continue
			}
			switch r := compareValues(v, a.At(0, t)); {
			case r == 0:
				equal++
			case r < 0:
				position++
			}
		}
		if spearman {
			out.Set(0, y, Real(float64(position)+float64(equal-1)*0.5))
		} else {
			out.Set(0, y, Integer(int32(position)))
		}
		out.Set(1, y, Integer(int32(equal)))
	}
	return out
}

// SPEARMAN correlates two columns of ranks, ignoring rows that are not
// numbers in both
func fnSpearman(c *callContext, args []Value) Value {
	a, errv := c.array(args[0])
	if errv != nil {
		return errv
	}
	b, errv := c.array(args[1])
	if errv != nil {
		return errv
	}
	rows := max(a.Y, b.Y)
	n := 0
	sumD2 := 0.0
	for y := 0; y < rows; y++ {
		x0, ok0 := AsFloat(a.At(0, y))
		x1, ok1 := AsFloat(b.At(0, y))
		if _, blank := a.At(0, y).(Blank); blank {
			ok0 = false
		}
		if _, blank := b.At(0, y).(Blank); blank {
			ok1 = false
		}
		if !ok0 || !ok1 || x0 == 0 || x1 == 0 {
			continue
		}
		d := x1 - x0
		sumD2 += d * d
		n++
	}
	if n == 0 {
		return NewError(ErrNoValidData)
	}
	fn := float64(n)
	return realResult(1 - 6*sumD2/(fn*(fn*fn-1)))
}

// LISTCOUNT sorts the first column and returns each distinct value with
// the number of times it occurs. a second column, if present, supplies
// the count to add for each row.
func fnListCount(c *callContext, args []Value) Value {
	a, errv := c.array(args[0])
	if errv != nil {
		return errv
	}
	s := a.SortRows(0)
	var keys []Value
	var counts []float64
	for y := 0; y < s.Y; y++ {
		v := s.At(0, y)
		w := 1.0
		if s.X > 1 {
			w, _ = AsFloat(s.At(s.X-1, y))
		}
		if n := len(keys); n > 0 && compareValues(keys[n-1], v) == 0 {
			counts[n-1] += w
			continue
		}
		keys = append(keys, v)
		counts = append(counts, w)
	}
	if len(keys) == 0 {
		return NewArray(2, 1)
	}
	out := NewArray(2, len(keys))
	for i, k := range keys {
		out.Set(0, i, CopyValue(k))
		out.Set(1, i, Number(counts[i]))
	}
	return out
}

// BIN counts the data falling into each bin: a value goes in the first
// bin it does not exceed, and values above every bin in a final extra
// bin
func fnBin(c *callContext, args []Value) Value {
	data, errv := c.array(args[0])
	if errv != nil {
		return errv
	}
	bins, errv := c.array(args[1])
	if errv != nil {
		return errv
	}
	out := NewArray(1, bins.Y+1)
	counts := make([]int32, bins.Y+1)
	for _, v := range data.Elems {
		switch v.(type) {
		case Real, Integer, Date, String:
		default:
			continue
		}
		slot := bins.Y
		for b := 0; b < bins.Y; b++ {
			if compareValues(v, bins.At(0, b)) <= 0 {
				slot = b
				break
			}
		}
		counts[slot]++
	}
	for i, n := range counts {
		out.Set(0, i, Integer(n))
	}
	return out
}

func fnGammaLn(_ *callContext, args []Value) Value {
	x := toFloat(args[0])
	if x <= 0 {
		return NewError(ErrArgRange)
	}
	r, _ := math.Lgamma(x)
	return realResult(r)
}

func fnBeta(_ *callContext, args []Value) Value {
	a, b := toFloat(args[0]), toFloat(args[1])
	if a <= 0 || b <= 0 {
		return NewError(ErrArgRange)
	}
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	lab, _ := math.Lgamma(a + b)
	return realResult(math.Exp(la + lb - lab))
}

// RAND(seed) reseeds the generator the first time it is called with a
// non zero seed
func fnRand(c *callContext, args []Value) Value {
	e := c.engine()
	if len(args) > 0 && !e.seeded {
		if seed := toFloat(args[0]); seed != 0 {
			if s, ok := e.rng.(Seeder); ok {
				s.Seed(uint64(seed))
			}
			e.seeded = true
		}
	}
	return Real(e.rng.Float64())
}

func fnGrand(c *callContext, args []Value) Value {
	mean, sd := 0.0, 1.0
	if len(args) > 0 {
		mean = toFloat(args[0])
	}
	if len(args) > 1 {
		sd = math.Abs(toFloat(args[1]))
	}
	return realResult(c.engine().rng.NormFloat64()*sd + mean)
}
