package liquid

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned (possibly wrapped) by a Resolver when the
	// referenced template or snippet does not exist.
	ErrNotFound = errors.New("liquid: reference not found")

	// ErrCircularInheritance is returned when a page extends itself, directly
	// or through one of its ancestors.
	ErrCircularInheritance = errors.New("liquid: circular template inheritance")

	// ErrIncludeDepth is returned when snippet includes nest deeper than
	// MaxIncludeDepth.
	ErrIncludeDepth = errors.New("liquid: include depth exceeded")
)

// SyntaxError reports malformed template grammar.
type SyntaxError struct {
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("Liquid syntax error (line %d): %s", e.Line, e.Message)
	}
	return "Liquid syntax error: " + e.Message
}

func syntaxErrorf(line int, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{Line: line, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an {% extends %} or {% include %} whose target could
// not be resolved.
type NotFoundError struct {
	// Kind is "template" or "snippet".
	Kind string
	Name string
	Line int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
}

// Unwrap lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}
