package evaluator

import "math"

const (
	irrIterations = 100
	irrTolerance  = 1e-10
)

// cashFlows reads the numbers of a vector in order. blanks and strings are
// skipped.
func cashFlows(c *callContext, v Value) ([]float64, Value) {
	var out []float64
	var errv Value
	c.each(v, func(e Value) bool {
		switch x := e.(type) {
		case Error:
			errv = x
			return false
		case Real, Integer:
			out = append(out, toFloat(x))
		}
		return true
	})
	return out, errv
}

func npv(rate float64, flows []float64) float64 {
	sum := 0.0
	d := 1.0
	for _, f := range flows {
		d *= 1 + rate
		sum += f / d
	}
	return sum
}

func fnNPV(c *callContext, args []Value) Value {
	rate := toFloat(args[0])
	if rate == -1 {
		return NewError(ErrDivZero)
	}
	flows, errv := cashFlows(c, args[1])
	if errv != nil {
		return errv
	}
	return realResult(npv(rate, flows))
}

// IRR solves npv(r) = 0 by Newton's method from the guess
func fnIRR(c *callContext, args []Value) Value {
	flows, errv := cashFlows(c, args[1])
	if errv != nil {
		return errv
	}
	if len(flows) < 2 {
		return NewError(ErrNoValidData)
	}
	r := toFloat(args[0])
	for range irrIterations {
		var f, df float64
		d := 1.0
		for i, cf := range flows {
			f += cf / d
			df -= float64(i) * cf / (d * (1 + r))
			d *= 1 + r
		}
		if df == 0 {
			break
		}
		next := r - f/df
		if math.Abs(next-r) < irrTolerance {
			return realResult(next)
		}
		r = next
		if r <= -1 || math.IsNaN(r) {
			break
		}
	}
	return NewError(ErrNoValidData)
}

func fnMIRR(c *callContext, args []Value) Value {
	flows, errv := cashFlows(c, args[0])
	if errv != nil {
		return errv
	}
	finance, reinvest := toFloat(args[1]), toFloat(args[2])
	n := len(flows)
	if n < 2 || finance == -1 || reinvest == -1 {
		return NewError(ErrArgRange)
	}
	pos := make([]float64, n)
	neg := make([]float64, n)
	for i, f := range flows {
		if f > 0 {
			pos[i] = f
		} else {
			neg[i] = f
		}
	}
	npvNeg := npv(finance, neg)
	if npvNeg == 0 {
		return NewError(ErrDivZero)
	}
	fn := float64(n)
	top := -npv(reinvest, pos) * math.Pow(1+reinvest, fn)
	bottom := npvNeg * (1 + finance)
	return realResult(math.Pow(top/bottom, 1/(fn-1)) - 1)
}

// PMT(principal, rate, term) is the payment that repays principal
func fnPMT(_ *callContext, args []Value) Value {
	p, r, n := toFloat(args[0]), toFloat(args[1]), toFloat(args[2])
	if n == 0 {
		return NewError(ErrDivZero)
	}
	if r == 0 {
		return realResult(p / n)
	}
	return realResult(p * r / (1 - math.Pow(1+r, -n)))
}

// PV(payment, rate, term) is the present value of an annuity
func fnPV(_ *callContext, args []Value) Value {
	pmt, r, n := toFloat(args[0]), toFloat(args[1]), toFloat(args[2])
	if r == 0 {
		return realResult(pmt * n)
	}
	return realResult(pmt * (1 - math.Pow(1+r, -n)) / r)
}

// FV(payment, rate, term) is the future value of an annuity
func fnFV(_ *callContext, args []Value) Value {
	pmt, r, n := toFloat(args[0]), toFloat(args[1]), toFloat(args[2])
	if r == 0 {
		return realResult(pmt * n)
	}
	return realResult(pmt * (math.Pow(1+r, n) - 1) / r)
}

// RATE(future, present, term) is the periodic rate growing present into
// future
func fnRate(_ *callContext, args []Value) Value {
	fv, pv, n := toFloat(args[0]), toFloat(args[1]), toFloat(args[2])
	if pv == 0 || n == 0 {
		return NewError(ErrDivZero)
	}
	if fv/pv < 0 {
		return NewError(ErrArgRange)
	}
	return realResult(math.Pow(fv/pv, 1/n) - 1)
}

func fnSLN(_ *callContext, args []Value) Value {
	cost, salvage, life := toFloat(args[0]), toFloat(args[1]), toFloat(args[2])
	if life == 0 {
		return NewError(ErrDivZero)
	}
	return realResult((cost - salvage) / life)
}

func fnSYD(_ *callContext, args []Value) Value {
	cost, salvage, life, period := toFloat(args[0]), toFloat(args[1]), toFloat(args[2]), toFloat(args[3])
	if life <= 0 || period < 1 || period > life {
		return NewError(ErrArgRange)
	}
	return realResult((cost - salvage) * (life - period + 1) * 2 / (life * (life + 1)))
}

// DDB is double declining balance depreciation for one period
func fnDDB(_ *callContext, args []Value) Value {
	cost, salvage, life, period := toFloat(args[0]), toFloat(args[1]), toFloat(args[2]), toFloat(args[3])
	if life <= 0 || period < 1 || period > life || cost < 0 {
		return NewError(ErrArgRange)
	}
	book := cost
	dep := 0.0
	for p := 1; float64(p) <= period; p++ {
		dep = min(book*2/life, book-salvage)
		if dep < 0 {
			dep = 0
		}
		book -= dep
	}
	return realResult(dep)
}

// CTERM(rate, future, present) is the number of periods for present to
// compound into future
func fnCTerm(_ *callContext, args []Value) Value {
	r, fv, pv := toFloat(args[0]), toFloat(args[1]), toFloat(args[2])
	if r <= -1 || r == 0 || pv == 0 || fv/pv <= 0 {
		return NewError(ErrArgRange)
	}
	return realResult(math.Log(fv/pv) / math.Log(1+r))
}

// TERM(payment, rate, future) is the number of payments reaching future
func fnTerm(_ *callContext, args []Value) Value {
	pmt, r, fv := toFloat(args[0]), toFloat(args[1]), toFloat(args[2])
	if pmt == 0 {
		return NewError(ErrDivZero)
	}
	if r == 0 {
		return realResult(fv / pmt)
	}
	x := 1 + fv*r/pmt
	if x <= 0 || r <= -1 {
		return NewError(ErrArgRange)
	}
	return realResult(math.Log(x) / math.Log(1+r))
}
