package evaluator

// FrameKind names the state of a frame on the evaluation stack
type FrameKind uint8

const (
	FrameCalcSlot FrameKind = iota
	FrameVisitSupportRange
	FrameInEval
	FrameProcessingArray
	FrameLookup
	FrameDBase
	FrameExecutingCustom
	FrameControlLoop
)

var frameKindNames = [...]string{
	FrameCalcSlot:          "calc-slot",
	FrameVisitSupportRange: "visit-range",
	FrameInEval:            "in-eval",
	FrameProcessingArray:   "processing-array",
	FrameLookup:            "lookup",
	FrameDBase:             "dbase",
	FrameExecutingCustom:   "executing-custom",
	FrameControlLoop:       "control-loop",
}

func (k FrameKind) String() string {
	if int(k) < len(frameKindNames) {
		return frameKindNames[k]
	}
	return "unknown"
}

// frame is one entry of the explicit evaluation stack. the machine always
// steps the top frame; a frame that finishes pops itself and hands its
// result to the frame below through receive.
type frame interface {
	kind() FrameKind
	step(m *machine)
	receive(m *machine, v Value)
}

type slotStamp struct {
	started uint64
	done    uint64
}

// machine runs recalculation on an explicit stack so evaluation can be
// suspended between slots and resumed by a later Recalc call
type machine struct {
	e     *Engine
	stack []frame
	pass  uint64

	stamps map[SLR]slotStamp

	// per Recalc call
	finished    int
	circular    int
	slotDone    bool
	deferred    []SLR
	customDepth int

	control *controlStmt // control statement of the eval frame that just finished
}

func newMachine(e *Engine) *machine {
	return &machine{e: e, stamps: make(map[SLR]slotStamp), pass: 1}
}

func (m *machine) push(f frame) {
	m.stack = append(m.stack, f)
}

func (m *machine) pop() {
	m.stack[len(m.stack)-1] = nil
	m.stack = m.stack[:len(m.stack)-1]
}

func (m *machine) top() frame {
	if len(m.stack) == 0 {
		return nil
	}
	return m.stack[len(m.stack)-1]
}

// deliver pops the finished frame and passes v to the frame below. the
// control statement, if any, travels alongside in m.control.
func (m *machine) deliver(v Value, ctl *controlStmt) {
	m.pop()
	if t := m.top(); t != nil {
		m.control = ctl
		t.receive(m, v)
		m.control = nil
	}
}

// zap abandons a suspended evaluation. slots that were in progress keep
// their todo entries and are recalculated from scratch.
func (m *machine) zap() {
	clear(m.stack)
	m.stack = m.stack[:0]
	m.customDepth = 0
	m.control = nil
	m.pass++
}

func (m *machine) newPass() {
	m.pass++
	if len(m.stamps) > 1<<16 {
		clear(m.stamps)
	}
}

func (m *machine) stamp(s SLR) slotStamp {
	return m.stamps[s]
}

func (m *machine) inProgress(s SLR) bool {
	st := m.stamps[s]
	return st.started == m.pass && st.done != m.pass
}

// calcable reports whether s is a formula slot the recalculation visits
func (m *machine) calcable(s SLR) bool {
	if !m.e.docs.IsOpen(s.Doc) || m.e.isCustomDoc(s.Doc) {
		return false
	}
	_, ok := m.e.store.CompiledFormula(s)
	return ok
}

// visit pushes a calc frame for supporter s when it has not been done in
// this pass. a supporter already in progress closes a loop.
func (m *machine) visit(s SLR) bool {
	if !m.calcable(s) {
		return false
	}
	st := m.stamp(s)
	if st.done == m.pass {
		return false
	}
	if st.started == m.pass {
		m.markCircular(s)
		return false
	}
	m.push(&calcSlotFrame{slr: s})
	return true
}

// markCircular flags every calc frame from the one for s up to the top
func (m *machine) markCircular(s SLR) {
	for i := len(m.stack) - 1; i >= 0; i-- {
		cf, ok := m.stack[i].(*calcSlotFrame)
		if !ok {
			continue
		}
		cf.circular = true
		if cf.slr == s {
			break
		}
	}
	m.e.debugf("circular reference through %s", m.e.slotName(s))
}

type supporter struct {
	slr     SLR
	rng     Range
	isRange bool
}

// supporters lists the slots and ranges a formula reads, including those
// reached through names
func (m *machine) supporters(rpn []byte) []supporter {
	var out []supporter
	add := func(v Value) {
		switch x := v.(type) {
		case SLRRef:
			if !SLR(x).Bad() {
				out = append(out, supporter{slr: SLR(x).Plain()})
			}
		case RangeRef:
			if !Range(x).Bad() {
				out = append(out, supporter{rng: Range(x).Plain(), isRange: true})
			}
		}
	}
	_ = Walk(rpn, func(in Instr) bool {
		switch in.Op {
		case OpSLR:
			add(SLRRef(in.SLR))
		case OpRange:
			add(RangeRef(in.Range))
		case OpName:
			if def, ok := m.e.names.Get(in.Name); ok {
				add(def)
			}
		}
		return true
	})
	return out
}

// visitSupporters works through supp from *next, returning true when a
// frame was pushed and the caller must yield
func (m *machine) visitSupporters(supp []supporter, next *int) bool {
	for *next < len(supp) {
		s := supp[*next]
		*next++
		if s.isRange {
			if !m.e.docs.IsOpen(s.rng.S.Doc) || m.e.isCustomDoc(s.rng.S.Doc) {
				continue
			}
			vf := &visitRangeFrame{}
			for c := range formulaCells(m.e.store, s.rng) {
				vf.cells = append(vf.cells, c)
			}
			if len(vf.cells) == 0 {
				continue
			}
			m.push(vf)
			return true
		}
		if m.visit(s.slr) {
			return true
		}
	}
	return false
}

// fetch reads the value of a slot for an expression. a formula slot that
// has not been brought up to date in this pass is calculated first: a calc
// frame is pushed and fetch reports suspended, and the caller retries.
func (m *machine) fetch(s SLR) (Value, bool) {
	if s.Bad() {
		return NewError(ErrRefLost), false
	}
	s = s.Plain()
	if !m.e.docs.IsOpen(s.Doc) {
		return NewError(ErrExtRefUnavailable), false
	}
	if m.calcable(s) {
		st := m.stamp(s)
		if st.done != m.pass {
			if st.started == m.pass {
				m.markCircular(s)
				return NewError(ErrCircular), false
			}
			m.push(&calcSlotFrame{slr: s})
			return nil, true
		}
	}
	return m.e.store.CellValue(s), false
}

// fetchRange reads a range into an array, calculating stale formula
// slots first
func (m *machine) fetchRange(r Range) (Value, bool) {
	if r.Bad() {
		return NewError(ErrRefLost), false
	}
	r = r.Plain()
	if !m.e.docs.IsOpen(r.S.Doc) {
		return NewError(ErrExtRefUnavailable), false
	}
	if int64(r.Cols())*int64(r.Rows()) > int64(m.e.cfg.MaxArrayElements) {
		return m.outOfMemory(), false
	}
	if m.e.docs.IsOpen(r.S.Doc) && !m.e.isCustomDoc(r.S.Doc) {
		for c := range formulaCells(m.e.store, r) {
			st := m.stamp(c)
			if st.done == m.pass {
				continue
			}
			if st.started == m.pass {
				m.markCircular(c)
				continue
			}
			m.push(&calcSlotFrame{slr: c})
			return nil, true
		}
	}
	return m.rangeValues(r), false
}

// rangeValues copies the stored values of a range into an array, without
// recalculating anything
func (m *machine) rangeValues(r Range) Value {
	r = r.Plain()
	if int64(r.Cols())*int64(r.Rows()) > int64(m.e.cfg.MaxArrayElements) {
		return m.outOfMemory()
	}
	a := NewArray(int(r.Cols()), int(r.Rows()))
	for x := int32(0); x < r.Cols(); x++ {
		for y := int32(0); y < r.Rows(); y++ {
			s := SLR{Doc: r.S.Doc, Col: r.S.Col + x, Row: r.S.Row + y}
			a.Set(int(x), int(y), m.e.store.CellValue(s))
		}
	}
	return a
}

// outOfMemory reports an allocation that would exceed the array limit. the
// slot being calculated is flagged so its result is retried later rather
// than stored.
func (m *machine) outOfMemory() Value {
	for i := len(m.stack) - 1; i >= 0; i-- {
		if cf, ok := m.stack[i].(*calcSlotFrame); ok {
			cf.allocFailed = true
			break
		}
	}
	return NewError(ErrOutOfMemory)
}

// resolve turns an expression result into a storable value: references
// are fetched and single element arrays collapse
func (m *machine) resolve(v Value) (Value, bool) {
	switch x := v.(type) {
	case SLRRef:
		return m.fetch(SLR(x))
	case RangeRef:
		r := Range(x)
		if r.Cols() == 1 && r.Rows() == 1 {
			return m.fetch(r.S)
		}
		return m.fetchRange(r)
	case *Array:
		if x.X == 1 && x.Y == 1 {
			return x.At(0, 0), false
		}
	case NameRef, nil:
		return NewError(ErrArgType), false
	}
	return v, false
}

const (
	calcEnter = iota
	calcVisit
	calcAwait
)

// calcSlotFrame brings one formula slot up to date: its supporters first,
// then the slot itself if it is queued or part of a loop
type calcSlotFrame struct {
	slr         SLR
	phase       int
	rpn         []byte
	supp        []supporter
	next        int
	circular    bool
	allocFailed bool
}

func (f *calcSlotFrame) kind() FrameKind { return FrameCalcSlot }

func (f *calcSlotFrame) step(m *machine) {
	switch f.phase {
	case calcEnter:
		rpn, ok := m.e.store.CompiledFormula(f.slr)
		st := m.stamp(f.slr)
		if !ok || st.done == m.pass {
			m.e.todo.Remove(f.slr)
			st.done = m.pass
			m.stamps[f.slr] = st
			m.pop()
			return
		}
		st.started = m.pass
		m.stamps[f.slr] = st
		f.rpn = rpn
		f.supp = m.supporters(rpn)
		f.phase = calcVisit
		fallthrough

	case calcVisit:
		if m.visitSupporters(f.supp, &f.next) {
			return
		}
		switch {
		case f.circular:
			m.finishSlot(f, NewError(ErrCircular), true)
		case !m.e.todo.Contains(f.slr):
			m.finishSlot(f, nil, false)
		default:
			f.phase = calcAwait
			m.e.tree.RemoveDynamic(f.slr)
			m.push(newEvalFrame(f.slr, f.rpn))
		}
	}
}

func (f *calcSlotFrame) receive(m *machine, v Value) {
	if f.circular {
		v = NewError(ErrCircular)
	}
	m.finishSlot(f, v, true)
}

// finishSlot stores a calculated result and queues the slot's dependents
// when the value changed
func (m *machine) finishSlot(f *calcSlotFrame, v Value, evaluated bool) {
	m.pop()
	st := m.stamp(f.slr)
	st.done = m.pass
	m.stamps[f.slr] = st
	if !evaluated {
		return
	}

	m.finished++
	m.slotDone = true
	m.e.todo.Remove(f.slr)
	if e, ok := v.(Error); ok && e.Code == ErrOutOfMemory && f.allocFailed {
		m.deferred = append(m.deferred, f.slr)
		m.e.debugf("%s deferred, out of memory", m.e.slotName(f.slr))
		return
	}
	if f.circular {
		m.circular++
	}
	old := m.e.store.CellValue(f.slr)
	m.e.store.SetCellValue(f.slr, v)
	if !Equal(old, v) {
		m.e.queueDependents(f.slr)
	}
}

// visitRangeFrame visits the formula slots of a supporting range in turn
type visitRangeFrame struct {
	cells []SLR
	i     int
}

func (f *visitRangeFrame) kind() FrameKind { return FrameVisitSupportRange }

func (f *visitRangeFrame) step(m *machine) {
	for f.i < len(f.cells) {
		s := f.cells[f.i]
		f.i++
		if m.visit(s) {
			return
		}
	}
	m.pop()
}

func (f *visitRangeFrame) receive(*machine, Value) {}

// evalFrame executes a compiled formula. it can stop part way to let a
// child frame run and resumes where it left off.
type evalFrame struct {
	slr     SLR
	rpn     []byte
	pc      int
	stack   []Value
	owner   *customFrame // set for statements of a custom function
	dc, dr  int32        // reference offset for database conditions
	waiting bool
	control *controlStmt
}

func newEvalFrame(s SLR, rpn []byte) *evalFrame {
	return &evalFrame{slr: s, rpn: rpn}
}

func (f *evalFrame) kind() FrameKind { return FrameInEval }

func (f *evalFrame) push(v Value) {
	f.stack = append(f.stack, v)
}

// replace pops n operands and pushes v
func (f *evalFrame) replace(n int, v Value) {
	f.stack = append(f.stack[:len(f.stack)-n], v)
}

func (f *evalFrame) args(n int) []Value {
	if n > len(f.stack) {
		return nil
	}
	return f.stack[len(f.stack)-n:]
}

func (f *evalFrame) receive(m *machine, v Value) {
	f.waiting = false
	f.push(v)
}

func (f *evalFrame) step(m *machine) {
	if f.waiting {
		return
	}
	for {
		in, err := decode(f.rpn, f.pc)
		if err != nil {
			m.deliver(NewError(ErrBadExpression), nil)
			return
		}
		switch in.Op {
		case OpEnd:
			var v Value = Blank{}
			if n := len(f.stack); n > 0 {
				v = f.stack[n-1]
			}
			res, suspended := m.resolve(v)
			if suspended {
				return
			}
			m.deliver(res, f.control)
			return

		case OpSLR:
			s := in.SLR.Offset(f.dc, f.dr)
			if s.Bad() {
				f.push(NewError(ErrRefLost))
			} else {
				f.push(SLRRef(s.Plain()))
			}

		case OpRange:
			r := in.Range.Offset(f.dc, f.dr)
			if r.Bad() {
				f.push(NewError(ErrRefLost))
			} else {
				f.push(RangeRef(r.Plain()))
			}

		case OpName:
			f.push(m.nameValue(in.Name))

		case OpArg:
			f.push(m.argValue(f, in.Arg))

		case OpBrackets:

		case OpFunc:
			if in.NArgs > len(f.stack) {
				m.deliver(NewError(ErrBadExpression), nil)
				return
			}
			switch m.callFunction(f, in) {
			case callSuspended:
				return
			case callDelegated:
				f.pc += in.Len
				f.waiting = true
				return
			}

		case OpCustom:
			if in.NArgs > len(f.stack) {
				m.deliver(NewError(ErrBadExpression), nil)
				return
			}
			switch m.callCustom(f, in) {
			case callSuspended:
				return
			case callDelegated:
				f.pc += in.Len
				f.waiting = true
				return
			}

		default:
			f.push(CopyValue(in.Lit))
		}
		f.pc += in.Len
	}
}

func (m *machine) nameValue(id NameID) Value {
	def, ok := m.e.names.Get(id)
	if !ok {
		return NewError(ErrNameUndefined)
	}
	return CopyValue(def)
}

func (m *machine) argValue(f *evalFrame, name string) Value {
	if f.owner == nil {
		return NewError(ErrArgType)
	}
	v, ok := f.owner.vars[foldName(name)]
	if !ok {
		return NewError(ErrNameUndefined)
	}
	return CopyValue(v)
}
