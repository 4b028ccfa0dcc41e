package evaluator

const (
	stmtStart = iota
	stmtVisit
	stmtAwait
)

// customFrame executes a custom function one statement at a time, down
// the column below its FUNCTION header
type customFrame struct {
	id     CustomID
	def    CustomDef
	vars   map[string]Value // arguments and FOR variables by folded name
	pc     SLR
	steps  int
	phase  int
	rpn    []byte
	supp   []supporter
	next   int
	jumped bool // pc was reached by skipping a false IF or ELSEIF
}

func (cf *customFrame) kind() FrameKind { return FrameExecutingCustom }

// loopFrame marks an active WHILE, REPEAT or FOR. it sits above its custom
// frame and forwards everything to it.
type loopFrame struct {
	owner  *customFrame
	ctl    Control
	origin SLR // the opening statement
	end    SLR // the closing statement
	name   string
	limit  float64
	by     float64
}

func (lf *loopFrame) kind() FrameKind           { return FrameControlLoop }
func (lf *loopFrame) step(m *machine)           { lf.owner.step(m) }
func (lf *loopFrame) receive(m *machine, v Value) { lf.owner.receive(m, v) }

// callCustom starts a custom function call with the operands on top of f's
// stack
func (m *machine) callCustom(f *evalFrame, in Instr) callStatus {
	n := in.NArgs
	def, ok := m.e.customs.Get(in.Custom)
	if !ok {
		def, ok = m.lateCustom(in.Custom)
	}
	if !ok {
		f.replace(n, NewError(ErrCustomUndefined))
		return callDone
	}
	if !m.e.docs.IsOpen(def.Header.Doc) {
		f.replace(n, NewError(ErrExtRefUnavailable))
		return callDone
	}
	if n != len(def.Args) {
		f.replace(n, NewError(ErrArgType))
		return callDone
	}

	vars := make(map[string]Value, n)
	for i, a := range f.args(n) {
		formal := def.Args[i]
		v, act := m.normalise(a, formal.Mask)
		switch act {
		case argSuspend:
			return callSuspended
		case argBroadcast:
			f.replace(n, NewError(ErrArgType))
			return callDone
		case argError:
			f.replace(n, v)
			return callDone
		}
		vars[foldName(formal.Name)] = v
	}

	if m.customDepth >= m.e.cfg.MaxStackDepth {
		f.replace(n, NewError(ErrStackOverflow))
		return callDone
	}
	f.stack = f.stack[:len(f.stack)-n]
	m.customDepth++
	pc := def.Header
	pc.Row++
	m.push(&customFrame{id: in.Custom, def: def, vars: vars, pc: pc})
	return callDelegated
}

// lateCustom binds an unqualified call compiled before its custom function
// was defined
func (m *machine) lateCustom(id CustomID) (CustomDef, bool) {
	owner, text, ok := m.e.customs.Label(id)
	if !ok || !m.e.docs.IsOpen(owner) || m.e.isCustomDoc(owner) {
		return CustomDef{}, false
	}
	found, ok := m.e.customs.FindDefined(owner, text)
	if !ok {
		return CustomDef{}, false
	}
	return m.e.customs.Get(found)
}

func (cf *customFrame) step(m *machine) {
	switch cf.phase {
	case stmtStart:
		cf.steps++
		if cf.steps > m.e.cfg.MaxCustomSteps {
			m.finishCustom(cf, NewError(ErrLoopLimit))
			return
		}
		rpn, ok := m.e.store.CompiledFormula(cf.pc)
		if !ok {
			m.finishCustom(cf, NewError(ErrNoResult))
			return
		}
		cf.rpn = rpn
		cf.supp = m.supporters(rpn)
		cf.next = 0
		cf.phase = stmtVisit
		fallthrough

	case stmtVisit:
		if m.visitSupporters(cf.supp, &cf.next) {
			return
		}
		cf.phase = stmtAwait
		ev := newEvalFrame(cf.pc, cf.rpn)
		ev.owner = cf
		m.push(ev)
	}
}

// finishCustom unwinds the loops of a custom frame and returns v to the
// caller
func (m *machine) finishCustom(cf *customFrame, v Value) {
	for i := len(m.stack) - 1; i >= 0; i-- {
		if m.stack[i] == frame(cf) {
			clear(m.stack[i+1:])
			m.stack = m.stack[:i+1]
			break
		}
	}
	m.customDepth--
	m.deliver(v, nil)
}

// topLoop returns the innermost active loop of cf
func (m *machine) topLoop(cf *customFrame) *loopFrame {
	if lf, ok := m.top().(*loopFrame); ok && lf.owner == cf {
		return lf
	}
	return nil
}

func (m *machine) popLoop() {
	m.pop()
}

// statementControl identifies the control statement at s, if any
func (m *machine) statementControl(s SLR) (Control, bool) {
	rpn, ok := m.e.store.CompiledFormula(s)
	if !ok {
		return ControlNone, false
	}
	in, ok := lastInstr(rpn)
	if !ok || in.Op != OpFunc {
		return ControlNone, true
	}
	def, _ := funcDef(in.Func)
	if def == nil {
		return ControlNone, true
	}
	return def.Control, true
}

// scanControl looks down the column from s for the statement closing the
// construct opened at s, or for one of stops at the same nesting depth
func (m *machine) scanControl(s SLR, open, close Control, stops ...Control) (SLR, Control, bool) {
	depth := 0
	for p := (SLR{Doc: s.Doc, Col: s.Col, Row: s.Row + 1}); p.Row < MaxRow; p.Row++ {
		ctl, ok := m.statementControl(p)
		if !ok || ctl == ControlFunction {
			return SLR{}, ControlNone, false
		}
		switch {
		case ctl == open:
			depth++
		case ctl == close:
			if depth == 0 {
				return p, ctl, true
			}
			depth--
		case depth == 0:
			for _, stop := range stops {
				if ctl == stop {
					return p, ctl, true
				}
			}
		}
	}
	return SLR{}, ControlNone, false
}

func (cf *customFrame) goTo(s SLR) {
	cf.pc = s
	cf.phase = stmtStart
}

func (cf *customFrame) advance() {
	cf.goTo(SLR{Doc: cf.pc.Doc, Col: cf.pc.Col, Row: cf.pc.Row + 1})
}

func below(s SLR) SLR {
	return SLR{Doc: s.Doc, Col: s.Col, Row: s.Row + 1}
}

func (cf *customFrame) receive(m *machine, v Value) {
	ctl := m.control
	jumped := cf.jumped
	cf.jumped = false

	if ctl == nil {
		m.e.store.SetCellValue(cf.pc, v)
		cf.advance()
		return
	}
	if ctl.err != nil {
		m.finishCustom(cf, ctl.err)
		return
	}

	bad := func() { m.finishCustom(cf, NewError(ErrBadControl)) }
	truth := func() bool { return len(ctl.args) > 0 && IsTruthy(ctl.args[0]) }

	switch ctl.def.Control {
	case ControlFunction:
		m.finishCustom(cf, NewError(ErrNoResult))

	case ControlResult:
		m.e.store.SetCellValue(cf.pc, v)
		m.finishCustom(cf, ctl.args[0])

	case ControlElseIf:
		if !jumped {
			end, _, ok := m.scanControl(cf.pc, ControlIf, ControlEndIf)
			if !ok {
				bad()
				return
			}
			cf.goTo(below(end))
			return
		}
		fallthrough

	case ControlIf:
		if truth() {
			cf.advance()
			return
		}
		p, kind, ok := m.scanControl(cf.pc, ControlIf, ControlEndIf, ControlElse, ControlElseIf)
		if !ok {
			bad()
			return
		}
		if kind == ControlElseIf {
			cf.goTo(p)
			cf.jumped = true
			return
		}
		cf.goTo(below(p))

	case ControlElse:
		end, _, ok := m.scanControl(cf.pc, ControlIf, ControlEndIf)
		if !ok {
			bad()
			return
		}
		cf.goTo(below(end))

	case ControlEndIf:
		cf.advance()

	case ControlWhile:
		lf := m.topLoop(cf)
		active := lf != nil && lf.ctl == ControlWhile && lf.origin == cf.pc
		end, _, ok := m.scanControl(cf.pc, ControlWhile, ControlEndWhile)
		if !ok {
			bad()
			return
		}
		if !truth() {
			if active {
				m.popLoop()
			}
			cf.goTo(below(end))
			return
		}
		if !active {
			m.push(&loopFrame{owner: cf, ctl: ControlWhile, origin: cf.pc, end: end})
		}
		cf.advance()

	case ControlEndWhile:
		lf := m.topLoop(cf)
		if lf == nil || lf.ctl != ControlWhile {
			bad()
			return
		}
		cf.goTo(lf.origin)

	case ControlRepeat:
		end, _, ok := m.scanControl(cf.pc, ControlRepeat, ControlUntil)
		if !ok {
			bad()
			return
		}
		m.push(&loopFrame{owner: cf, ctl: ControlRepeat, origin: cf.pc, end: end})
		cf.advance()

	case ControlUntil:
		lf := m.topLoop(cf)
		if lf == nil || lf.ctl != ControlRepeat {
			bad()
			return
		}
		if truth() {
			m.popLoop()
			cf.advance()
			return
		}
		cf.goTo(below(lf.origin))

	case ControlFor:
		name, _ := ctl.args[0].(String)
		start, _ := AsFloat(ctl.args[1])
		limit, _ := AsFloat(ctl.args[2])
		by := 1.0
		if len(ctl.args) > 3 {
			by, _ = AsFloat(ctl.args[3])
		}
		if name == "" || by == 0 {
			m.finishCustom(cf, NewError(ErrArgRange))
			return
		}
		end, _, ok := m.scanControl(cf.pc, ControlFor, ControlNext)
		if !ok {
			bad()
			return
		}
		key := foldName(string(name))
		cf.vars[key] = Number(start)
		if !forInRange(start, limit, by) {
			cf.goTo(below(end))
			return
		}
		m.push(&loopFrame{owner: cf, ctl: ControlFor, origin: cf.pc, end: end, name: key, limit: limit, by: by})
		cf.advance()

	case ControlNext:
		lf := m.topLoop(cf)
		if lf == nil || lf.ctl != ControlFor {
			bad()
			return
		}
		cur, _ := AsFloat(cf.vars[lf.name])
		cur += lf.by
		cf.vars[lf.name] = Number(cur)
		if forInRange(cur, lf.limit, lf.by) {
			cf.goTo(below(lf.origin))
			return
		}
		m.popLoop()
		cf.advance()

	case ControlBreak:
		n := 1
		if len(ctl.args) > 0 {
			n = int(ctl.args[0].(Integer))
		}
		if n < 1 {
			m.finishCustom(cf, NewError(ErrArgRange))
			return
		}
		var outer *loopFrame
		for ; n > 0; n-- {
			lf := m.topLoop(cf)
			if lf == nil {
				bad()
				return
			}
			outer = lf
			m.popLoop()
		}
		cf.goTo(below(outer.end))

	case ControlContinue:
		lf := m.topLoop(cf)
		if lf == nil {
			bad()
			return
		}
		cf.goTo(lf.end)

	case ControlGoto:
		target, ok := ctl.args[0].(SLRRef)
		if !ok || SLR(target).Doc != cf.pc.Doc {
			bad()
			return
		}
		cf.goTo(SLR(target).Plain())

	default:
		bad()
	}
}

func forInRange(v, limit, by float64) bool {
	if by > 0 {
		return v <= limit
	}
	return v >= limit
}
