package evaluator

import (
	"golang.org/x/text/cases"
)

// FuncID indexes functionTable. it is stored in compiled formulas, so rows
// are only ever appended.
type FuncID uint16

// FuncKind separates operators from named functions
type FuncKind uint8

const (
	KindFunc FuncKind = iota
	KindUnaryOp
	KindBinaryOp
	KindPostfixOp
	KindControl
)

// Category groups functions for help listings
type Category uint8

const (
	CatOperator Category = iota
	CatLogic
	CatMath
	CatStat
	CatFinance
	CatString
	CatDate
	CatLookup
	CatArray
	CatDatabase
	CatControl
	CatMisc
)

// ExecType selects how the interpreter runs a function
type ExecType uint8

const (
	ExecSimple  ExecType = iota // call Fn with normalised arguments
	ExecLookup                  // run on a lookup frame
	ExecDBase                   // run on a database frame
	ExecControl                 // custom function control statement
	ExecDeref                   // Fn yields a reference to be fetched
)

// Control identifies custom function control statements
type Control uint8

const (
	ControlNone Control = iota
	ControlFunction
	ControlResult
	ControlIf
	ControlElse
	ControlElseIf
	ControlEndIf
	ControlWhile
	ControlEndWhile
	ControlRepeat
	ControlUntil
	ControlFor
	ControlNext
	ControlBreak
	ControlContinue
	ControlGoto
)

// ArgMask lists the value types an argument position accepts. anything
// not accepted is converted, broadcast or rejected by normalisation.
type ArgMask uint16

const (
	ArgReal ArgMask = 1 << iota
	ArgInt
	ArgString
	ArgDate
	ArgArray
	ArgRange
	ArgError
	ArgSLR
	ArgBlank

	ArgNumber = ArgReal | ArgInt
	ArgScalar = ArgNumber | ArgString | ArgDate | ArgBlank
	ArgVector = ArgArray | ArgRange
	ArgList   = ArgScalar | ArgVector
	ArgAny    = ArgList | ArgError | ArgSLR
)

// FuncFlags mark special behaviour
type FuncFlags uint8

const (
	FlagVolatile   FuncFlags = 1 << iota // recalculated by QueueVolatile
	FlagCustomOnly                       // only valid inside a custom function
)

// MaxArgs is the most arguments any call may pass
const MaxArgs = 25

type execFunc func(c *callContext, args []Value) Value

// FuncDef is one row of the function registry
type FuncDef struct {
	ID       FuncID
	Name     string
	Symbol   string // operator text, empty for named functions
	Kind     FuncKind
	Category Category
	Prec     int // operator precedence, higher binds tighter
	MinArgs  int
	MaxArgs  int // -1 for variadic up to MaxArgs
	Args     []ArgMask
	Exec     ExecType
	Control  Control
	Flags    FuncFlags
	Fn       execFunc
}

// argMask returns the mask for argument i; the last mask repeats
func (d *FuncDef) argMask(i int) ArgMask {
	if len(d.Args) == 0 {
		return ArgAny
	}
	if i >= len(d.Args) {
		return d.Args[len(d.Args)-1]
	}
	return d.Args[i]
}

func (d *FuncDef) acceptsArgs(n int) bool {
	if n < d.MinArgs {
		return false
	}
	if d.MaxArgs < 0 {
		return n <= MaxArgs
	}
	return n <= d.MaxArgs
}

const (
	precComparison = 1
	precConcat     = 2
	precAdditive   = 3
	precMultiply   = 4
	precPower      = 5
	precUnary      = 6
	precPostfix    = 7
	precPrimary    = 9
)

var (
	functionTable []FuncDef
	funcsByName   map[string][]FuncID
	unaryOps      map[string]FuncID
	binaryOps     map[string]FuncID
	postfixOps    map[string]FuncID
	foldCaser     = cases.Fold()
)

// foldName folds an identifier for case-insensitive lookup
func foldName(s string) string {
	return foldCaser.String(s)
}

func m(ms ...ArgMask) []ArgMask { return ms }

func init() {
	functionTable = []FuncDef{
		// operators
		{Name: "UPLUS", Symbol: "+", Kind: KindUnaryOp, Prec: precUnary, MinArgs: 1, MaxArgs: 1, Args: m(ArgNumber | ArgDate | ArgString), Fn: opUnaryPlus},
		{Name: "UMINUS", Symbol: "-", Kind: KindUnaryOp, Prec: precUnary, MinArgs: 1, MaxArgs: 1, Args: m(ArgNumber), Fn: opUnaryMinus},
		{Name: "PERCENT", Symbol: "%", Kind: KindPostfixOp, Prec: precPostfix, MinArgs: 1, MaxArgs: 1, Args: m(ArgNumber), Fn: opPercent},
		{Name: "ADD", Symbol: "+", Kind: KindBinaryOp, Prec: precAdditive, MinArgs: 2, MaxArgs: 2, Args: m(ArgNumber | ArgDate), Fn: opAdd},
		{Name: "SUB", Symbol: "-", Kind: KindBinaryOp, Prec: precAdditive, MinArgs: 2, MaxArgs: 2, Args: m(ArgNumber | ArgDate), Fn: opSub},
		{Name: "MUL", Symbol: "*", Kind: KindBinaryOp, Prec: precMultiply, MinArgs: 2, MaxArgs: 2, Args: m(ArgNumber), Fn: opMul},
		{Name: "DIV", Symbol: "/", Kind: KindBinaryOp, Prec: precMultiply, MinArgs: 2, MaxArgs: 2, Args: m(ArgNumber), Fn: opDiv},
		{Name: "POWER", Symbol: "^", Kind: KindBinaryOp, Prec: precPower, MinArgs: 2, MaxArgs: 2, Args: m(ArgNumber), Fn: opPower},
		{Name: "CONCAT", Symbol: "&", Kind: KindBinaryOp, Prec: precConcat, MinArgs: 2, MaxArgs: 2, Args: m(ArgScalar), Fn: opConcat},
		{Name: "EQ", Symbol: "=", Kind: KindBinaryOp, Prec: precComparison, MinArgs: 2, MaxArgs: 2, Args: m(ArgScalar), Fn: opCompare(func(c int) bool { return c == 0 })},
		{Name: "NE", Symbol: "<>", Kind: KindBinaryOp, Prec: precComparison, MinArgs: 2, MaxArgs: 2, Args: m(ArgScalar), Fn: opCompare(func(c int) bool { return c != 0 })},
		{Name: "LT", Symbol: "<", Kind: KindBinaryOp, Prec: precComparison, MinArgs: 2, MaxArgs: 2, Args: m(ArgScalar), Fn: opCompare(func(c int) bool { return c < 0 })},
		{Name: "GT", Symbol: ">", Kind: KindBinaryOp, Prec: precComparison, MinArgs: 2, MaxArgs: 2, Args: m(ArgScalar), Fn: opCompare(func(c int) bool { return c > 0 })},
		{Name: "LE", Symbol: "<=", Kind: KindBinaryOp, Prec: precComparison, MinArgs: 2, MaxArgs: 2, Args: m(ArgScalar), Fn: opCompare(func(c int) bool { return c <= 0 })},
		{Name: "GE", Symbol: ">=", Kind: KindBinaryOp, Prec: precComparison, MinArgs: 2, MaxArgs: 2, Args: m(ArgScalar), Fn: opCompare(func(c int) bool { return c >= 0 })},

		// logic
		{Name: "IF", Category: CatLogic, MinArgs: 2, MaxArgs: 3, Args: m(ArgNumber, ArgList|ArgError), Fn: fnIf},
		{Name: "AND", Category: CatLogic, MinArgs: 1, MaxArgs: -1, Args: m(ArgNumber | ArgVector | ArgBlank), Fn: fnAnd},
		{Name: "OR", Category: CatLogic, MinArgs: 1, MaxArgs: -1, Args: m(ArgNumber | ArgVector | ArgBlank), Fn: fnOr},
		{Name: "NOT", Category: CatLogic, MinArgs: 1, MaxArgs: 1, Args: m(ArgNumber), Fn: fnNot},
		{Name: "ISERROR", Category: CatLogic, MinArgs: 1, MaxArgs: 1, Args: m(ArgScalar | ArgError), Fn: fnIsError},
		{Name: "ISNUMBER", Category: CatLogic, MinArgs: 1, MaxArgs: 1, Args: m(ArgScalar | ArgError), Fn: fnIsNumber},
		{Name: "ISTEXT", Category: CatLogic, MinArgs: 1, MaxArgs: 1, Args: m(ArgScalar | ArgError), Fn: fnIsText},
		{Name: "ISBLANK", Category: CatLogic, MinArgs: 1, MaxArgs: 1, Args: m(ArgScalar | ArgError), Fn: fnIsBlank},

		// maths
		{Name: "ABS", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgNumber), Fn: fnAbs},
		{Name: "ACOS", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: realFunc(acos)},
		{Name: "ASIN", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: realFunc(asin)},
		{Name: "ATAN", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: realFunc(atan)},
		{Name: "ATAN2", Category: CatMath, MinArgs: 2, MaxArgs: 2, Args: m(ArgReal), Fn: fnAtan2},
		{Name: "COS", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: realFunc(cos)},
		{Name: "SIN", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: realFunc(sin)},
		{Name: "TAN", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: realFunc(tan)},
		{Name: "DEG", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: realFunc(deg)},
		{Name: "RAD", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: realFunc(rad)},
		{Name: "EXP", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: realFunc(exp)},
		{Name: "FACT", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgInt), Fn: fnFact},
		{Name: "INT", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgNumber), Fn: fnInt},
		{Name: "LN", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: realFunc(ln)},
		{Name: "LOG", Category: CatMath, MinArgs: 1, MaxArgs: 2, Args: m(ArgReal), Fn: fnLog},
		{Name: "MOD", Category: CatMath, MinArgs: 2, MaxArgs: 2, Args: m(ArgNumber), Fn: fnMod},
		{Name: "SGN", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgNumber), Fn: fnSgn},
		{Name: "SQR", Category: CatMath, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: realFunc(sqrt)},
		{Name: "ROUND", Category: CatMath, MinArgs: 1, MaxArgs: 2, Args: m(ArgNumber, ArgInt), Fn: fnRound},
		{Name: "CEILING", Category: CatMath, MinArgs: 1, MaxArgs: 2, Args: m(ArgNumber), Fn: fnCeiling},
		{Name: "FLOOR", Category: CatMath, MinArgs: 1, MaxArgs: 2, Args: m(ArgNumber), Fn: fnFloor},
		{Name: "PI", Category: CatMath, MinArgs: 0, MaxArgs: 0, Fn: fnPi},

		// statistics
		{Name: "SUM", Category: CatStat, MinArgs: 1, MaxArgs: -1, Args: m(ArgList), Fn: statFunc(statSum)},
		{Name: "AVG", Category: CatStat, MinArgs: 1, MaxArgs: -1, Args: m(ArgList), Fn: statFunc(statAvg)},
		{Name: "COUNT", Category: CatStat, MinArgs: 1, MaxArgs: -1, Args: m(ArgList), Fn: statFunc(statCount)},
		{Name: "COUNTA", Category: CatStat, MinArgs: 1, MaxArgs: -1, Args: m(ArgList), Fn: statFunc(statCountA)},
		{Name: "MAX", Category: CatStat, MinArgs: 1, MaxArgs: -1, Args: m(ArgList), Fn: statFunc(statMax)},
		{Name: "MIN", Category: CatStat, MinArgs: 1, MaxArgs: -1, Args: m(ArgList), Fn: statFunc(statMin)},
		{Name: "STD", Category: CatStat, MinArgs: 1, MaxArgs: -1, Args: m(ArgList), Fn: statFunc(statStd)},
		{Name: "STDP", Category: CatStat, MinArgs: 1, MaxArgs: -1, Args: m(ArgList), Fn: statFunc(statStdP)},
		{Name: "VAR", Category: CatStat, MinArgs: 1, MaxArgs: -1, Args: m(ArgList), Fn: statFunc(statVar)},
		{Name: "VARP", Category: CatStat, MinArgs: 1, MaxArgs: -1, Args: m(ArgList), Fn: statFunc(statVarP)},
		{Name: "MEDIAN", Category: CatStat, MinArgs: 1, MaxArgs: 1, Args: m(ArgVector), Fn: fnMedian},
		{Name: "COMBIN", Category: CatStat, MinArgs: 2, MaxArgs: 2, Args: m(ArgInt), Fn: fnCombin},
		{Name: "PERMUT", Category: CatStat, MinArgs: 2, MaxArgs: 2, Args: m(ArgInt), Fn: fnPermut},
		{Name: "RANK", Category: CatStat, MinArgs: 1, MaxArgs: 2, Args: m(ArgVector, ArgInt), Fn: fnRank},
		{Name: "SPEARMAN", Category: CatStat, MinArgs: 2, MaxArgs: 2, Args: m(ArgVector), Fn: fnSpearman},
		{Name: "LISTCOUNT", Category: CatStat, MinArgs: 1, MaxArgs: 1, Args: m(ArgVector), Fn: fnListCount},
		{Name: "BIN", Category: CatStat, MinArgs: 2, MaxArgs: 2, Args: m(ArgVector), Fn: fnBin},
		{Name: "GAMMALN", Category: CatStat, MinArgs: 1, MaxArgs: 1, Args: m(ArgReal), Fn: fnGammaLn},
		{Name: "BETA", Category: CatStat, MinArgs: 2, MaxArgs: 2, Args: m(ArgReal), Fn: fnBeta},
		{Name: "RAND", Category: CatStat, MinArgs: 0, MaxArgs: 1, Args: m(ArgReal), Flags: FlagVolatile, Fn: fnRand},
		{Name: "GRAND", Category: CatStat, MinArgs: 0, MaxArgs: 2, Args: m(ArgReal), Flags: FlagVolatile, Fn: fnGrand},

		// regression
		{Name: "LINEST", Category: CatStat, MinArgs: 1, MaxArgs: 2, Args: m(ArgVector), Fn: fnLinest},
		{Name: "TREND", Category: CatStat, MinArgs: 1, MaxArgs: 3, Args: m(ArgVector), Fn: fnTrend},
		{Name: "LOGEST", Category: CatStat, MinArgs: 1, MaxArgs: 2, Args: m(ArgVector), Fn: fnLogest},
		{Name: "GROWTH", Category: CatStat, MinArgs: 1, MaxArgs: 3, Args: m(ArgVector), Fn: fnGrowth},

		// financial
		{Name: "NPV", Category: CatFinance, MinArgs: 2, MaxArgs: 2, Args: m(ArgReal, ArgVector), Fn: fnNPV},
		{Name: "IRR", Category: CatFinance, MinArgs: 2, MaxArgs: 2, Args: m(ArgReal, ArgVector), Fn: fnIRR},
		{Name: "MIRR", Category: CatFinance, MinArgs: 3, MaxArgs: 3, Args: m(ArgVector, ArgReal), Fn: fnMIRR},
		{Name: "PMT", Category: CatFinance, MinArgs: 3, MaxArgs: 3, Args: m(ArgReal), Fn: fnPMT},
		{Name: "PV", Category: CatFinance, MinArgs: 3, MaxArgs: 3, Args: m(ArgReal), Fn: fnPV},
		{Name: "FV", Category: CatFinance, MinArgs: 3, MaxArgs: 3, Args: m(ArgReal), Fn: fnFV},
		{Name: "RATE", Category: CatFinance, MinArgs: 3, MaxArgs: 3, Args: m(ArgReal), Fn: fnRate},
		{Name: "SLN", Category: CatFinance, MinArgs: 3, MaxArgs: 3, Args: m(ArgReal), Fn: fnSLN},
		{Name: "SYD", Category: CatFinance, MinArgs: 4, MaxArgs: 4, Args: m(ArgReal), Fn: fnSYD},
		{Name: "DDB", Category: CatFinance, MinArgs: 4, MaxArgs: 4, Args: m(ArgReal), Fn: fnDDB},
		{Name: "CTERM", Category: CatFinance, MinArgs: 3, MaxArgs: 3, Args: m(ArgReal), Fn: fnCTerm},
		{Name: "TERM", Category: CatFinance, MinArgs: 3, MaxArgs: 3, Args: m(ArgReal), Fn: fnTerm},

		// strings
		{Name: "CHAR", Category: CatString, MinArgs: 1, MaxArgs: 1, Args: m(ArgInt), Fn: fnChar},
		{Name: "CODE", Category: CatString, MinArgs: 1, MaxArgs: 1, Args: m(ArgString), Fn: fnCode},
		{Name: "EXACT", Category: CatString, MinArgs: 2, MaxArgs: 2, Args: m(ArgString), Fn: fnExact},
		{Name: "FIND", Category: CatString, MinArgs: 2, MaxArgs: 3, Args: m(ArgString, ArgString, ArgInt), Fn: fnFind},
		{Name: "JOIN", Category: CatString, MinArgs: 1, MaxArgs: -1, Args: m(ArgString), Fn: fnJoin},
		{Name: "LEFT", Category: CatString, MinArgs: 1, MaxArgs: 2, Args: m(ArgString, ArgInt), Fn: fnLeft},
		{Name: "LENGTH", Category: CatString, MinArgs: 1, MaxArgs: 1, Args: m(ArgString), Fn: fnLength},
		{Name: "LOWER", Category: CatString, MinArgs: 1, MaxArgs: 1, Args: m(ArgString), Fn: fnLower},
		{Name: "MID", Category: CatString, MinArgs: 3, MaxArgs: 3, Args: m(ArgString, ArgInt), Fn: fnMid},
		{Name: "PROPER", Category: CatString, MinArgs: 1, MaxArgs: 1, Args: m(ArgString), Fn: fnProper},
		{Name: "REPLACE", Category: CatString, MinArgs: 4, MaxArgs: 4, Args: m(ArgString, ArgInt, ArgInt, ArgString), Fn: fnReplace},
		{Name: "REPT", Category: CatString, MinArgs: 2, MaxArgs: 2, Args: m(ArgString, ArgInt), Fn: fnRept},
		{Name: "REVERSE", Category: CatString, MinArgs: 1, MaxArgs: 1, Args: m(ArgString), Fn: fnReverse},
		{Name: "RIGHT", Category: CatString, MinArgs: 1, MaxArgs: 2, Args: m(ArgString, ArgInt), Fn: fnRight},
		{Name: "STRING", Category: CatString, MinArgs: 1, MaxArgs: 2, Args: m(ArgNumber, ArgInt), Fn: fnString},
		{Name: "TRIM", Category: CatString, MinArgs: 1, MaxArgs: 1, Args: m(ArgString), Fn: fnTrim},
		{Name: "UPPER", Category: CatString, MinArgs: 1, MaxArgs: 1, Args: m(ArgString), Fn: fnUpper},
		{Name: "VALUE", Category: CatString, MinArgs: 1, MaxArgs: 1, Args: m(ArgString), Fn: fnValue},

		// dates
		{Name: "DATE", Category: CatDate, MinArgs: 3, MaxArgs: 3, Args: m(ArgInt), Fn: fnDate},
		{Name: "TIME", Category: CatDate, MinArgs: 3, MaxArgs: 3, Args: m(ArgInt), Fn: fnTime},
		{Name: "DAY", Category: CatDate, MinArgs: 1, MaxArgs: 1, Args: m(ArgDate), Fn: datePart(partDay)},
		{Name: "MONTH", Category: CatDate, MinArgs: 1, MaxArgs: 1, Args: m(ArgDate), Fn: datePart(partMonth)},
		{Name: "YEAR", Category: CatDate, MinArgs: 1, MaxArgs: 1, Args: m(ArgDate), Fn: datePart(partYear)},
		{Name: "WEEKDAY", Category: CatDate, MinArgs: 1, MaxArgs: 1, Args: m(ArgDate), Fn: datePart(partWeekday)},
		{Name: "HOUR", Category: CatDate, MinArgs: 1, MaxArgs: 1, Args: m(ArgDate), Fn: datePart(partHour)},
		{Name: "MINUTE", Category: CatDate, MinArgs: 1, MaxArgs: 1, Args: m(ArgDate), Fn: datePart(partMinute)},
		{Name: "SECOND", Category: CatDate, MinArgs: 1, MaxArgs: 1, Args: m(ArgDate), Fn: datePart(partSecond)},
		{Name: "NOW", Category: CatDate, MinArgs: 0, MaxArgs: 0, Flags: FlagVolatile, Fn: fnNow},
		{Name: "TODAY", Category: CatDate, MinArgs: 0, MaxArgs: 0, Flags: FlagVolatile, Fn: fnToday},

		// lookup and reference
		{Name: "CHOOSE", Category: CatLookup, MinArgs: 2, MaxArgs: -1, Args: m(ArgInt, ArgList|ArgError), Fn: fnChoose},
		{Name: "COL", Category: CatLookup, MinArgs: 0, MaxArgs: 1, Args: m(ArgSLR | ArgRange), Fn: fnCol},
		{Name: "COLS", Category: CatLookup, MinArgs: 1, MaxArgs: 1, Args: m(ArgVector | ArgSLR), Fn: fnCols},
		{Name: "ROW", Category: CatLookup, MinArgs: 0, MaxArgs: 1, Args: m(ArgSLR | ArgRange), Fn: fnRow},
		{Name: "ROWS", Category: CatLookup, MinArgs: 1, MaxArgs: 1, Args: m(ArgVector | ArgSLR), Fn: fnRows},
		{Name: "INDEX", Category: CatLookup, MinArgs: 3, MaxArgs: 3, Args: m(ArgVector, ArgInt), Fn: fnIndex},
		{Name: "DEREF", Category: CatLookup, MinArgs: 1, MaxArgs: 1, Args: m(ArgSLR | ArgRange | ArgString), Exec: ExecDeref, Fn: fnDeref},
		{Name: "LOOKUP", Category: CatLookup, MinArgs: 3, MaxArgs: 3, Args: m(ArgScalar, ArgVector), Exec: ExecLookup},
		{Name: "HLOOKUP", Category: CatLookup, MinArgs: 3, MaxArgs: 3, Args: m(ArgScalar, ArgVector, ArgInt), Exec: ExecLookup},
		{Name: "VLOOKUP", Category: CatLookup, MinArgs: 3, MaxArgs: 3, Args: m(ArgScalar, ArgVector, ArgInt), Exec: ExecLookup},
		{Name: "MATCH", Category: CatLookup, MinArgs: 2, MaxArgs: 3, Args: m(ArgScalar, ArgVector, ArgInt), Exec: ExecLookup},

		// arrays
		{Name: "SORT", Category: CatArray, MinArgs: 1, MaxArgs: 2, Args: m(ArgVector, ArgInt), Fn: fnSort},
		{Name: "TRANSPOSE", Category: CatArray, MinArgs: 1, MaxArgs: 1, Args: m(ArgVector), Fn: fnTranspose},
		{Name: "TYPE", Category: CatMisc, MinArgs: 1, MaxArgs: 1, Args: m(ArgList | ArgError), Fn: fnType},

		// database
		{Name: "DAVG", Category: CatDatabase, MinArgs: 2, MaxArgs: 2, Args: m(ArgRange, ArgString), Exec: ExecDBase, Fn: statFunc(statAvg)},
		{Name: "DCOUNT", Category: CatDatabase, MinArgs: 2, MaxArgs: 2, Args: m(ArgRange, ArgString), Exec: ExecDBase, Fn: statFunc(statCount)},
		{Name: "DCOUNTA", Category: CatDatabase, MinArgs: 2, MaxArgs: 2, Args: m(ArgRange, ArgString), Exec: ExecDBase, Fn: statFunc(statCountA)},
		{Name: "DMAX", Category: CatDatabase, MinArgs: 2, MaxArgs: 2, Args: m(ArgRange, ArgString), Exec: ExecDBase, Fn: statFunc(statMax)},
		{Name: "DMIN", Category: CatDatabase, MinArgs: 2, MaxArgs: 2, Args: m(ArgRange, ArgString), Exec: ExecDBase, Fn: statFunc(statMin)},
		{Name: "DSTD", Category: CatDatabase, MinArgs: 2, MaxArgs: 2, Args: m(ArgRange, ArgString), Exec: ExecDBase, Fn: statFunc(statStd)},
		{Name: "DSTDP", Category: CatDatabase, MinArgs: 2, MaxArgs: 2, Args: m(ArgRange, ArgString), Exec: ExecDBase, Fn: statFunc(statStdP)},
		{Name: "DSUM", Category: CatDatabase, MinArgs: 2, MaxArgs: 2, Args: m(ArgRange, ArgString), Exec: ExecDBase, Fn: statFunc(statSum)},
		{Name: "DVAR", Category: CatDatabase, MinArgs: 2, MaxArgs: 2, Args: m(ArgRange, ArgString), Exec: ExecDBase, Fn: statFunc(statVar)},
		{Name: "DVARP", Category: CatDatabase, MinArgs: 2, MaxArgs: 2, Args: m(ArgRange, ArgString), Exec: ExecDBase, Fn: statFunc(statVarP)},

		// custom function statements
		{Name: "FUNCTION", Kind: KindControl, Category: CatControl, MinArgs: 1, MaxArgs: -1, Args: m(ArgString), Exec: ExecControl, Control: ControlFunction, Flags: FlagCustomOnly},
		{Name: "RESULT", Kind: KindControl, Category: CatControl, MinArgs: 1, MaxArgs: 1, Args: m(ArgList | ArgError), Exec: ExecControl, Control: ControlResult, Flags: FlagCustomOnly},
		{Name: "IF", Kind: KindControl, Category: CatControl, MinArgs: 1, MaxArgs: 1, Args: m(ArgNumber), Exec: ExecControl, Control: ControlIf, Flags: FlagCustomOnly},
		{Name: "ELSE", Kind: KindControl, Category: CatControl, MinArgs: 0, MaxArgs: 0, Exec: ExecControl, Control: ControlElse, Flags: FlagCustomOnly},
		{Name: "ELSEIF", Kind: KindControl, Category: CatControl, MinArgs: 1, MaxArgs: 1, Args: m(ArgNumber), Exec: ExecControl, Control: ControlElseIf, Flags: FlagCustomOnly},
		{Name: "ENDIF", Kind: KindControl, Category: CatControl, MinArgs: 0, MaxArgs: 0, Exec: ExecControl, Control: ControlEndIf, Flags: FlagCustomOnly},
		{Name: "WHILE", Kind: KindControl, Category: CatControl, MinArgs: 1, MaxArgs: 1, Args: m(ArgNumber), Exec: ExecControl, Control: ControlWhile, Flags: FlagCustomOnly},
		{Name: "ENDWHILE", Kind: KindControl, Category: CatControl, MinArgs: 0, MaxArgs: 0, Exec: ExecControl, Control: ControlEndWhile, Flags: FlagCustomOnly},
		{Name: "REPEAT", Kind: KindControl, Category: CatControl, MinArgs: 0, MaxArgs: 0, Exec: ExecControl, Control: ControlRepeat, Flags: FlagCustomOnly},
		{Name: "UNTIL", Kind: KindControl, Category: CatControl, MinArgs: 1, MaxArgs: 1, Args: m(ArgNumber), Exec: ExecControl, Control: ControlUntil, Flags: FlagCustomOnly},
		{Name: "FOR", Kind: KindControl, Category: CatControl, MinArgs: 3, MaxArgs: 4, Args: m(ArgString, ArgNumber), Exec: ExecControl, Control: ControlFor, Flags: FlagCustomOnly},
		{Name: "NEXT", Kind: KindControl, Category: CatControl, MinArgs: 0, MaxArgs: 0, Exec: ExecControl, Control: ControlNext, Flags: FlagCustomOnly},
		{Name: "BREAK", Kind: KindControl, Category: CatControl, MinArgs: 0, MaxArgs: 1, Args: m(ArgInt), Exec: ExecControl, Control: ControlBreak, Flags: FlagCustomOnly},
		{Name: "CONTINUE", Kind: KindControl, Category: CatControl, MinArgs: 0, MaxArgs: 0, Exec: ExecControl, Control: ControlContinue, Flags: FlagCustomOnly},
		{Name: "GOTO", Kind: KindControl, Category: CatControl, MinArgs: 1, MaxArgs: 1, Args: m(ArgSLR), Exec: ExecControl, Control: ControlGoto, Flags: FlagCustomOnly},
		{Name: "SET_VALUE", Category: CatMisc, MinArgs: 2, MaxArgs: 2, Args: m(ArgSLR|ArgRange, ArgList|ArgError), Fn: fnSetValue},
		{Name: "SET_NAME", Category: CatMisc, MinArgs: 2, MaxArgs: 2, Args: m(ArgString, ArgAny), Fn: fnSetName},
	}

	funcsByName = make(map[string][]FuncID)
	unaryOps = make(map[string]FuncID)
	binaryOps = make(map[string]FuncID)
	postfixOps = make(map[string]FuncID)
	for i := range functionTable {
		d := &functionTable[i]
		d.ID = FuncID(i)
		if d.Kind == KindControl {
			d.Prec = precPrimary
		}
		switch d.Kind {
		case KindUnaryOp:
			unaryOps[d.Symbol] = d.ID
		case KindBinaryOp:
			binaryOps[d.Symbol] = d.ID
		case KindPostfixOp:
			postfixOps[d.Symbol] = d.ID
		default:
			key := foldName(d.Name)
			funcsByName[key] = append(funcsByName[key], d.ID)
		}
	}
}

// funcDef returns the registry row for id
func funcDef(id FuncID) (*FuncDef, bool) {
	if int(id) >= len(functionTable) {
		return nil, false
	}
	return &functionTable[id], true
}

// lookupFunc finds the row for a named function call with nargs
// arguments. where a name has a control variant (IF), the control row is
// chosen only inside custom functions.
func lookupFunc(name string, nargs int, inCustom bool) (*FuncDef, bool) {
	ids, ok := funcsByName[foldName(name)]
	if !ok {
		return nil, false
	}
	var fallback *FuncDef
	for _, id := range ids {
		d := &functionTable[id]
		if d.Kind == KindControl && !inCustom {
			if fallback == nil {
				fallback = d
			}
			continue
		}
		if d.acceptsArgs(nargs) {
			return d, true
		}
		if fallback == nil {
			fallback = d
		}
	}
	return fallback, fallback != nil
}

// Functions lists the registry, for help output
func Functions() []FuncDef {
	out := make([]FuncDef, 0, len(functionTable))
	for _, d := range functionTable {
		if d.Kind == KindFunc || d.Kind == KindControl {
			out = append(out, d)
		}
	}
	return out
}
