package errors

import (
	"fmt"
)

// CompileErrorKind classifies a template compile failure.
type CompileErrorKind int

const (
	// CompileErrorSyntax is malformed template grammar.
	CompileErrorSyntax CompileErrorKind = iota + 1
	// CompileErrorUnresolvedReference is an extends/include target that does
	// not exist.
	CompileErrorUnresolvedReference
	// CompileErrorOther is any other failure during compilation.
	CompileErrorOther
)

// Validation tokens reported for the first two kinds. Other errors report
// their message verbatim.
const (
	TokenSyntax     = "liquid_syntax"
	TokenUnresolved = "liquid_extend"
)

// String returns the string representation of the kind
func (k CompileErrorKind) String() string {
	switch k {
	case CompileErrorSyntax:
		return "syntax"
	case CompileErrorUnresolvedReference:
		return "unresolved_reference"
	case CompileErrorOther:
		return "other"
	default:
		return "unknown"
	}
}

// CompileError is the result of a failed compile. Callers switch on Kind.
type CompileError struct {
	Kind CompileErrorKind
	// Message is the human-readable description.
	Message string
	// Reference names the unresolved template or snippet.
	Reference string
	// Line is the 1-based source line, or 0 when unknown.
	Line  int
	Cause error
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s error (line %d): %s", e.Kind, e.Line, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *CompileError) Unwrap() error {
	return e.Cause
}

// Token returns the validation message recorded for this error.
func (e *CompileError) Token() string {
	switch e.Kind {
	case CompileErrorSyntax:
		return TokenSyntax
	case CompileErrorUnresolvedReference:
		return TokenUnresolved
	default:
		return e.Message
	}
}

// NewSyntaxError creates a syntax compile error.
func NewSyntaxError(message string, line int, cause error) *CompileError {
	return &CompileError{Kind: CompileErrorSyntax, Message: message, Line: line, Cause: cause}
}

// NewUnresolvedReferenceError creates an unresolved reference compile error.
func NewUnresolvedReferenceError(reference string, line int, cause error) *CompileError {
	msg := "reference not found: " + reference
	if cause != nil {
		msg = cause.Error()
	}
	return &CompileError{
		Kind:      CompileErrorUnresolvedReference,
		Message:   msg,
		Reference: reference,
		Line:      line,
		Cause:     cause,
	}
}

// NewOtherCompileError captures any other failure, keeping its message.
func NewOtherCompileError(cause error) *CompileError {
	msg := "unknown compile error"
	if cause != nil {
		msg = cause.Error()
	}
	return &CompileError{Kind: CompileErrorOther, Message: msg, Cause: cause}
}
