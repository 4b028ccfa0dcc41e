package evaluator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/efp"
)

// Resolver turns document, name and custom function text into table
// handles and back. the engine implements it.
type Resolver interface {
	// ResolveDoc returns the number for a document, interning a thunk
	ResolveDoc(name string) DocNo
	DocName(doc DocNo) string
	// ResolveName returns the handle for a name, creating an undefined
	// entry when needed
	ResolveName(owner DocNo, name string) NameID
	NameLabel(id NameID) (DocNo, string)
	// ResolveCustom returns the handle for a custom function call
	ResolveCustom(owner DocNo, name string, qualified bool) CustomID
	CustomLabel(id CustomID) (DocNo, string)
}

// CompileContext locates the formula being compiled
type CompileContext struct {
	Slot     SLR
	Custom   bool // the slot is in a custom function document
	Resolver Resolver
}

// excelErrorCodes accepts the error literals the tokenizer recognizes
var excelErrorCodes = map[string]ErrorCode{
	"#NULL!":  ErrNoValidData,
	"#DIV/0!": ErrDivZero,
	"#VALUE!": ErrArgType,
	"#REF!":   ErrRefLost,
	"#NAME?":  ErrNameUndefined,
	"#NUM!":   ErrArgRange,
	"#N/A":    ErrNotAvailable,
}

var excelErrorText map[ErrorCode]string

func init() {
	excelErrorText = make(map[ErrorCode]string, len(excelErrorCodes))
	for text, code := range excelErrorCodes {
		excelErrorText[code] = text
	}
}

type compiler struct {
	toks []efp.Token
	pos  int
	ctx  CompileContext
	b    rpnBuilder
}

func compileError(format string, args ...any) *AppError {
	return NewApplicationError(InvalidArgument, fmt.Sprintf(format, args...))
}

// Compile translates formula text, with or without a leading '=', into a
// compiled formula
func Compile(text string, ctx CompileContext) ([]byte, error) {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "="))
	if text == "" {
		return nil, compileError("empty formula")
	}

	ps := efp.ExcelParser()
	var toks []efp.Token
	for _, t := range ps.Parse(text) {
		switch t.TType {
		case efp.TokenTypeWhitespace, efp.TokenTypeNoop:
			continue
		case efp.TokenTypeUnknown:
			return nil, compileError("unrecognised %q in formula", t.TValue)
		}
		toks = append(toks, t)
	}
	if len(toks) == 0 {
		return nil, compileError("formula %q has no expression", text)
	}

	c := &compiler{toks: toks, ctx: ctx}
	if err := c.parseExpression(); err != nil {
		return nil, err
	}
	if c.pos < len(c.toks) {
		return nil, compileError("unexpected %q after expression", c.toks[c.pos].TValue)
	}
	rpn := c.b.end()
	if err := checkControl(rpn, ctx.Custom); err != nil {
		return nil, err
	}
	return rpn, nil
}

// checkControl allows a control statement only as the outermost call of
// a custom function statement
func checkControl(rpn []byte, inCustom bool) error {
	last, _ := lastInstr(rpn)
	var bad error
	_ = Walk(rpn, func(in Instr) bool {
		if in.Op == OpArg && !inCustom {
			bad = compileError("argument @%s used outside a custom function", in.Arg)
			return false
		}
		if in.Op != OpFunc {
			return true
		}
		def, _ := funcDef(in.Func)
		if def.Kind != KindControl {
			return true
		}
		if !inCustom {
			bad = compileError("%s is only valid in a custom function", def.Name)
			return false
		}
		if in.Offset != last.Offset {
			bad = compileError("%s must be the outermost call of a statement", def.Name)
			return false
		}
		return true
	})
	return bad
}

func (c *compiler) peek() (efp.Token, bool) {
	if c.pos >= len(c.toks) {
		return efp.Token{}, false
	}
	return c.toks[c.pos], true
}

func (c *compiler) next() efp.Token {
	t := c.toks[c.pos]
	c.pos++
	return t
}

func (c *compiler) peekInfix(ops ...string) (string, bool) {
	t, ok := c.peek()
	if !ok || t.TType != efp.TokenTypeOperatorInfix {
		return "", false
	}
	for _, op := range ops {
		if t.TValue == op {
			return op, true
		}
	}
	return "", false
}

func (c *compiler) binaryLevel(next func() error, ops ...string) error {
	if err := next(); err != nil {
		return err
	}
	for {
		op, ok := c.peekInfix(ops...)
		if !ok {
			return nil
		}
		c.pos++
		if err := next(); err != nil {
			return err
		}
		c.b.fn(binaryOps[op], 2)
	}
}

func (c *compiler) parseExpression() error {
	return c.parseComparison()
}

func (c *compiler) parseComparison() error {
	return c.binaryLevel(c.parseConcatenation, "=", "<>", "<", ">", "<=", ">=")
}

func (c *compiler) parseConcatenation() error {
	return c.binaryLevel(c.parseAddition, "&")
}

func (c *compiler) parseAddition() error {
	return c.binaryLevel(c.parseMultiplication, "+", "-")
}

func (c *compiler) parseMultiplication() error {
	return c.binaryLevel(c.parsePower, "*", "/")
}

func (c *compiler) parsePower() error {
	return c.binaryLevel(c.parseUnary, "^")
}

func (c *compiler) parseUnary() error {
	t, ok := c.peek()
	if ok && t.TType == efp.TokenTypeOperatorPrefix {
		c.pos++
		if err := c.parseUnary(); err != nil {
			return err
		}
		if t.TValue == "-" {
			c.b.fn(unaryOps["-"], 1)
		}
		return nil
	}
	return c.parsePostfix()
}

func (c *compiler) parsePostfix() error {
	if err := c.parsePrimary(); err != nil {
		return err
	}
	for {
		t, ok := c.peek()
		if !ok || t.TType != efp.TokenTypeOperatorPostfix {
			return nil
		}
		c.pos++
		id, ok := postfixOps[t.TValue]
		if !ok {
			return compileError("unsupported postfix operator %q", t.TValue)
		}
		c.b.fn(id, 1)
	}
}

func (c *compiler) parsePrimary() error {
	t, ok := c.peek()
	if !ok {
		return compileError("formula ends unexpectedly")
	}

	switch t.TType {
	case efp.TokenTypeOperand:
		c.pos++
		return c.parseOperand(t)

	case efp.TokenTypeFunction:
		if t.TSubType != efp.TokenSubTypeStart {
			return compileError("unexpected )")
		}
		if strings.EqualFold(t.TValue, "ARRAY") {
			return c.parseArray()
		}
		return c.parseCall()

	case efp.TokenTypeSubexpression:
		if t.TSubType != efp.TokenSubTypeStart {
			return compileError("unexpected )")
		}
		c.pos++
		if err := c.parseExpression(); err != nil {
			return err
		}
		end, ok := c.peek()
		if !ok || end.TType != efp.TokenTypeSubexpression || end.TSubType != efp.TokenSubTypeStop {
			return compileError("missing )")
		}
		c.pos++
		c.b.op(OpBrackets)
		return nil

	case efp.TokenTypeOperatorInfix:
		if t.TSubType == efp.TokenSubTypeIntersection || t.TSubType == efp.TokenSubTypeUnion {
			return compileError("range intersection and union are not supported")
		}
	}
	return compileError("unexpected %q", t.TValue)
}

func (c *compiler) parseOperand(t efp.Token) error {
	switch t.TSubType {
	case efp.TokenSubTypeNumber:
		v, err := parseNumber(t.TValue)
		if err != nil {
			return err
		}
		return c.b.literal(v)
	case efp.TokenSubTypeText:
		if len(t.TValue) > 0xFFFF {
			return compileError("string constant too long")
		}
		c.b.str(t.TValue)
		return nil
	case efp.TokenSubTypeLogical:
		c.b.integer(int32(Bool(strings.EqualFold(t.TValue, "TRUE"))))
		return nil
	case efp.TokenSubTypeError:
		code, ok := parseErrorLiteral(t.TValue)
		if !ok {
			return compileError("unknown error %q", t.TValue)
		}
		c.b.errorCode(code)
		return nil
	}
	return c.parseReference(t.TValue)
}

func parseNumber(text string) (Value, error) {
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 32); err == nil {
			return Integer(int32(i)), nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, compileError("bad number %q", text)
	}
	return Real(f), nil
}

func parseErrorLiteral(text string) (ErrorCode, bool) {
	if code, ok := excelErrorCodes[strings.ToUpper(text)]; ok {
		return code, true
	}
	code, ok := errorCodesByText[strings.ToUpper(text)]
	return code, ok
}

// splitDocPrefix separates "[doc]ref", "doc!ref" and "'doc name'!ref"
func splitDocPrefix(text string) (doc, rest string, ok bool) {
	if strings.HasPrefix(text, "[") {
		if i := strings.IndexByte(text, ']'); i > 1 {
			return text[1:i], text[i+1:], true
		}
		return "", text, false
	}
	if i := strings.LastIndexByte(text, '!'); i > 0 {
		doc = text[:i]
		if len(doc) >= 2 && doc[0] == '\'' && doc[len(doc)-1] == '\'' {
			doc = strings.ReplaceAll(doc[1:len(doc)-1], "''", "'")
		}
		return doc, text[i+1:], true
	}
	return "", text, false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case isLetter(ch), ch == '_':
		case i > 0 && (ch >= '0' && ch <= '9' || ch == '.'):
		case ch >= 0x80:
		default:
			return false
		}
	}
	return true
}

func (c *compiler) parseReference(text string) error {
	if name, ok := strings.CutPrefix(text, "@"); ok {
		if !isIdentifier(name) {
			return compileError("bad argument name %q", text)
		}
		c.b.arg(name)
		return nil
	}

	doc := c.ctx.Slot.Doc
	docName, rest, qualified := splitDocPrefix(text)
	if qualified {
		if docName == "" {
			return compileError("missing document name in %q", text)
		}
		doc = c.ctx.Resolver.ResolveDoc(docName)
	}

	if a, b, isRange := strings.Cut(rest, ":"); isRange {
		s, ok1 := parseCoords(a)
		e, ok2 := parseCoords(b)
		if !ok1 || !ok2 {
			return compileError("bad range %q", text)
		}
		s.Doc, e.Doc = doc, doc
		c.b.rng(NewRange(s, e))
		return nil
	}
	if s, ok := parseCoords(rest); ok {
		s.Doc = doc
		c.b.slr(s)
		return nil
	}
	if isIdentifier(rest) {
		c.b.name(c.ctx.Resolver.ResolveName(doc, rest))
		return nil
	}
	return compileError("bad reference %q", text)
}

func (c *compiler) atFunctionStop() bool {
	t, ok := c.peek()
	return ok && t.TType == efp.TokenTypeFunction && t.TSubType == efp.TokenSubTypeStop
}

func (c *compiler) atArgument() bool {
	t, ok := c.peek()
	return ok && t.TType == efp.TokenTypeArgument
}

func (c *compiler) parseCall() error {
	name := c.next().TValue
	nargs := 0
	if c.atFunctionStop() {
		c.pos++
	} else {
		for {
			if c.atArgument() || c.atFunctionStop() {
				c.b.op(OpBlank)
			} else if err := c.parseExpression(); err != nil {
				return err
			}
			nargs++
			if c.atArgument() {
				c.pos++
				continue
			}
			if c.atFunctionStop() {
				c.pos++
				break
			}
			return compileError("missing ) in call to %s", name)
		}
	}
	if nargs > MaxArgs {
		return compileError("too many arguments to %s", name)
	}

	docName, fname, qualified := splitDocPrefix(name)
	if !qualified {
		if def, ok := lookupFunc(name, nargs, c.ctx.Custom); ok {
			if !def.acceptsArgs(nargs) {
				return compileError("%s takes %s", def.Name, argCountText(def))
			}
			if def.Kind == KindControl && !c.ctx.Custom {
				return compileError("%s is only valid in a custom function", def.Name)
			}
			c.b.fn(def.ID, nargs)
			return nil
		}
		fname = name
	}
	if !isIdentifier(fname) {
		return compileError("bad function name %q", name)
	}
	owner := c.ctx.Slot.Doc
	if qualified {
		owner = c.ctx.Resolver.ResolveDoc(docName)
	}
	c.b.custom(c.ctx.Resolver.ResolveCustom(owner, fname, qualified), nargs)
	return nil
}

func argCountText(d *FuncDef) string {
	switch {
	case d.MaxArgs < 0:
		return fmt.Sprintf("at least %d arguments", d.MinArgs)
	case d.MinArgs == d.MaxArgs:
		return fmt.Sprintf("%d arguments", d.MinArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", d.MinArgs, d.MaxArgs)
	}
}

func (c *compiler) parseArray() error {
	c.pos++ // ARRAY start
	var rows [][]Value
	for {
		t, ok := c.peek()
		if !ok || t.TType != efp.TokenTypeFunction || t.TSubType != efp.TokenSubTypeStart {
			return compileError("malformed array constant")
		}
		c.pos++ // ARRAYROW start
		var row []Value
		for {
			v, err := c.parseArrayElement()
			if err != nil {
				return err
			}
			row = append(row, v)
			if c.atArgument() {
				c.pos++
				continue
			}
			if c.atFunctionStop() {
				c.pos++
				break
			}
			return compileError("malformed array constant")
		}
		rows = append(rows, row)
		if c.atArgument() {
			c.pos++
			continue
		}
		if c.atFunctionStop() {
			c.pos++
			break
		}
		return compileError("malformed array constant")
	}

	a := NewArray(len(rows[0]), len(rows))
	for y, row := range rows {
		if len(row) != a.X {
			return compileError("array constant rows differ in length")
		}
		for x, v := range row {
			a.Set(x, y, v)
		}
	}
	return c.b.array(a)
}

func (c *compiler) parseArrayElement() (Value, error) {
	t, ok := c.peek()
	if !ok {
		return nil, compileError("malformed array constant")
	}
	negate := false
	if t.TType == efp.TokenTypeOperatorPrefix && t.TValue == "-" {
		negate = true
		c.pos++
		if t, ok = c.peek(); !ok {
			return nil, compileError("malformed array constant")
		}
	}
	if t.TType != efp.TokenTypeOperand {
		return nil, compileError("array constants hold only constants")
	}
	c.pos++
	switch t.TSubType {
	case efp.TokenSubTypeNumber:
		v, err := parseNumber(t.TValue)
		if err != nil {
			return nil, err
		}
		if negate {
			f, _ := AsFloat(v)
			if _, isInt := v.(Integer); isInt {
				return Integer(int32(-f)), nil
			}
			return Real(-f), nil
		}
		return v, nil
	case efp.TokenSubTypeText:
		if !negate {
			return String(t.TValue), nil
		}
	case efp.TokenSubTypeLogical:
		if !negate {
			return Bool(strings.EqualFold(t.TValue, "TRUE")), nil
		}
	case efp.TokenSubTypeError:
		if code, ok := parseErrorLiteral(t.TValue); ok && !negate {
			return NewError(code), nil
		}
	}
	return nil, compileError("bad array element %q", t.TValue)
}
