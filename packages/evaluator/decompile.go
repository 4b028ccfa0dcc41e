package evaluator

import (
	"fmt"
	"strconv"
	"strings"
)

type operand struct {
	text string
	prec int
}

// Decompile renders a compiled formula back to text, relative to the slot
// it lives in. explicit brackets are kept, so compiling the output gives
// back the same formula.
func Decompile(rpn []byte, ctx CompileContext) (string, error) {
	var stack []operand
	pop := func(n int) ([]operand, error) {
		if len(stack) < n {
			return nil, fmt.Errorf("compiled formula underflows its operand stack")
		}
		args := append([]operand(nil), stack[len(stack)-n:]...)
		stack = stack[:len(stack)-n]
		return args, nil
	}

	var err error
	walkErr := Walk(rpn, func(in Instr) bool {
		switch in.Op {
		case OpBrackets:
			var args []operand
			if args, err = pop(1); err != nil {
				return false
			}
			stack = append(stack, operand{"(" + args[0].text + ")", precPrimary})
		case OpSLR:
			if in.SLR.Bad() {
				stack = append(stack, operand{"#REF!", precPrimary})
				break
			}
			stack = append(stack, operand{docPrefix(in.SLR.Doc, ctx) + formatCoords(in.SLR), precPrimary})
		case OpRange:
			if in.Range.Bad() {
				stack = append(stack, operand{"#REF!", precPrimary})
				break
			}
			stack = append(stack, operand{docPrefix(in.Range.S.Doc, ctx) + in.Range.String(), precPrimary})
		case OpName:
			owner, text := ctx.Resolver.NameLabel(in.Name)
			stack = append(stack, operand{docPrefix(owner, ctx) + text, precPrimary})
		case OpArg:
			stack = append(stack, operand{"@" + in.Arg, precPrimary})
		case OpFunc:
			def, ok := funcDef(in.Func)
			if !ok {
				err = fmt.Errorf("unknown function %d", in.Func)
				return false
			}
			var args []operand
			if args, err = pop(in.NArgs); err != nil {
				return false
			}
			stack = append(stack, renderCall(def, args))
		case OpCustom:
			var args []operand
			if args, err = pop(in.NArgs); err != nil {
				return false
			}
			owner, text := ctx.Resolver.CustomLabel(in.Custom)
			name := text
			if owner != ctx.Slot.Doc {
				name = docPrefix(owner, ctx) + text
			}
			stack = append(stack, operand{name + "(" + joinOperands(args) + ")", precPrimary})
		default:
			stack = append(stack, operand{literalText(in.Lit), precPrimary})
		}
		return true
	})
	if walkErr != nil {
		return "", walkErr
	}
	if err != nil {
		return "", err
	}
	if len(stack) != 1 {
		return "", fmt.Errorf("compiled formula leaves %d operands", len(stack))
	}
	return stack[0].text, nil
}

func renderCall(def *FuncDef, args []operand) operand {
	switch def.Kind {
	case KindUnaryOp:
		a := args[0].text
		if args[0].prec < def.Prec {
			a = "(" + a + ")"
		}
		return operand{def.Symbol + a, def.Prec}
	case KindPostfixOp:
		a := args[0].text
		if args[0].prec < def.Prec {
			a = "(" + a + ")"
		}
		return operand{a + def.Symbol, def.Prec}
	case KindBinaryOp:
		l, r := args[0].text, args[1].text
		if args[0].prec < def.Prec {
			l = "(" + l + ")"
		}
		if args[1].prec <= def.Prec {
			r = "(" + r + ")"
		}
		return operand{l + def.Symbol + r, def.Prec}
	}
	return operand{def.Name + "(" + joinOperands(args) + ")", precPrimary}
}

func joinOperands(args []operand) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.text
	}
	return strings.Join(parts, ",")
}

func docPrefix(doc DocNo, ctx CompileContext) string {
	if doc == ctx.Slot.Doc {
		return ""
	}
	name := ctx.Resolver.DocName(doc)
	if !isIdentifier(name) {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'!"
	}
	return name + "!"
}

func literalText(v Value) string {
	switch x := v.(type) {
	case Blank:
		return ""
	case Real:
		// the tokenizer only splits exponents written with a capital E
		s := strings.ToUpper(strconv.FormatFloat(float64(x), 'g', -1, 64))
		if !strings.ContainsAny(s, ".E") {
			s += ".0"
		}
		return s
	case Integer:
		return strconv.Itoa(int(x))
	case String:
		return `"` + strings.ReplaceAll(string(x), `"`, `""`) + `"`
	case Error:
		if text, ok := excelErrorText[x.Code]; ok {
			return text
		}
		return x.Code.String()
	case Date:
		return formatDate(x)
	case *Array:
		var sb strings.Builder
		sb.WriteByte('{')
		for y := 0; y < x.Y; y++ {
			if y > 0 {
				sb.WriteByte(';')
			}
			for c := 0; c < x.X; c++ {
				if c > 0 {
					sb.WriteByte(',')
				}
				sb.WriteString(literalText(x.At(c, y)))
			}
		}
		sb.WriteByte('}')
		return sb.String()
	}
	return FormatValue(v)
}
