package evaluator

import "fmt"

// ErrorCode is an evaluation error carried inside an Error value. these
// are displayed in cells, never thrown.
type ErrorCode uint16

const (
	ErrNone ErrorCode = iota
	ErrDivZero
	ErrArgRange
	ErrArgType
	ErrCircular
	ErrRefLost
	ErrNameUndefined
	ErrCustomUndefined
	ErrNoValidData
	ErrOutOfMemory
	ErrExtRefUnavailable
	ErrArgCount
	ErrNotAvailable
	ErrBadControl
	ErrNoResult
	ErrLoopLimit
	ErrBadDate
	ErrStackOverflow
	ErrBadExpression
)

// ErrorMessages maps error codes to the text shown in a cell
var ErrorMessages = map[ErrorCode]string{
	ErrNone:              "#OK",
	ErrDivZero:           "#DIV/0",
	ErrArgRange:          "#ARGRANGE",
	ErrArgType:           "#ARGTYPE",
	ErrCircular:          "#CIRC",
	ErrRefLost:           "#REF",
	ErrNameUndefined:     "#NAME",
	ErrCustomUndefined:   "#CUSTOM",
	ErrNoValidData:       "#NODATA",
	ErrOutOfMemory:       "#MEMORY",
	ErrExtRefUnavailable: "#EXTREF",
	ErrArgCount:          "#ARGCOUNT",
	ErrNotAvailable:      "#N/A",
	ErrBadControl:        "#CONTROL",
	ErrNoResult:          "#NORESULT",
	ErrLoopLimit:         "#LOOP",
	ErrBadDate:           "#DATE",
	ErrStackOverflow:     "#STACK",
	ErrBadExpression:     "#EXPR",
}

var errorCodesByText map[string]ErrorCode

func init() {
	errorCodesByText = make(map[string]ErrorCode, len(ErrorMessages))
	for code, text := range ErrorMessages {
		errorCodesByText[text] = code
	}
}

func (c ErrorCode) String() string {
	if s, ok := ErrorMessages[c]; ok {
		return s
	}
	return fmt.Sprintf("#ERR%d", uint16(c))
}

// AppErrorCode represents gRPC-style error codes for application-level
// errors. formula errors are never reported this way.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates the caller supplied an invalid argument,
	// such as formula text that does not compile.
	InvalidArgument AppErrorCode = 3

	// NotFound means a requested document, name or slot was not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// ResourceExhausted indicates a dependency table could not grow.
	ResourceExhausted AppErrorCode = 8

	// FailedPrecondition indicates the engine is not in a state required
	// for the operation.
	FailedPrecondition AppErrorCode = 9

	// OutOfRange means an address was outside the addressable grid.
	OutOfRange AppErrorCode = 11

	// Unimplemented indicates the operation is not supported.
	Unimplemented AppErrorCode = 12

	// Internal errors. some invariant of the dependency tables is broken.
	Internal AppErrorCode = 13
)

// AppError represents errors at the application level (not formula errors)
type AppError struct {
	Code    AppErrorCode
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// ErrTableFull is returned by a use table that has reached its configured
// size
var ErrTableFull = NewApplicationError(ResourceExhausted, "dependency table full")
