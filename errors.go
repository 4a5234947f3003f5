package talisman

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUndefined is returned when a name has no binding in scope.
var ErrUndefined = errors.New("undefined")

// MalformedTemplateError reports unbalanced or unnamed block markers.
// It is fatal to parsing; a Template holding one renders the error document.
type MalformedTemplateError struct {
	Block  string
	Reason string
	Line   int
	Column int
}

func newMalformedError(text string, offset int, block, reason string) *MalformedTemplateError {
	line, column := position(text, offset)
	return &MalformedTemplateError{
		Block:  block,
		Reason: reason,
		Line:   line,
		Column: column,
	}
}

func (e *MalformedTemplateError) Error() string {
	if e.Block != "" {
		return fmt.Sprintf("malformed template at line %d, column %d: block %q: %s", e.Line, e.Column, e.Block, e.Reason)
	}
	return fmt.Sprintf("malformed template at line %d, column %d: %s", e.Line, e.Column, e.Reason)
}

// ArgumentError is returned for invalid input to a Template mutator.
// The rejected call leaves the Template unchanged.
type ArgumentError struct {
	Op       string
	Argument string
	Reason   string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("talisman: %s: invalid %s: %s", e.Op, e.Argument, e.Reason)
}

// ResolutionError wraps the failure of a single bound value. It is logged and
// replaced by placeholder output; it never aborts a render.
type ResolutionError struct {
	Name string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %q: %v", e.Name, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// MultiError collects the argument errors recorded on a Template.
type MultiError []error

func (m MultiError) Error() string {
	if len(m) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(m))
	for _, err := range m {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (m MultiError) Unwrap() []error {
	return m
}
