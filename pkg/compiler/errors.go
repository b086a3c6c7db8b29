package compiler

import (
	"fmt"

	"github.com/lemonberrylabs/bindc/pkg/binding"
)

// CompilationError reports a binding that failed to tokenize, parse or
// resolve. Node or Tokens locate the failure; Expression is the source text
// and is always set on errors returned by Parse, even when it is empty.
type CompilationError struct {
	Message    string
	Node       binding.Node
	Tokens     []binding.Token
	Expression string

	hasExpression bool
}

// Error implements the error interface.
func (e *CompilationError) Error() string {
	msg := "binding compilation failed: " + e.Message
	if start, length, ok := e.Position(); ok {
		msg += fmt.Sprintf(" (position %d, length %d)", start, length)
	}
	if e.Expression != "" || e.hasExpression {
		msg += fmt.Sprintf(" in expression '%s'", e.Expression)
	}
	return msg
}

// Position returns the source span of the failure: the first offending token
// when present, otherwise the offending node.
func (e *CompilationError) Position() (start, length int, ok bool) {
	if len(e.Tokens) > 0 {
		return e.Tokens[0].Start, e.Tokens[0].Length, true
	}
	if e.Node != nil {
		start, length = e.Node.Span()
		return start, length, true
	}
	return 0, 0, false
}

// newNodeError creates a CompilationError located at node.
func newNodeError(node binding.Node, format string, args ...any) *CompilationError {
	return &CompilationError{Message: fmt.Sprintf(format, args...), Node: node}
}

// EvaluationError is returned when a compiled binding fails at run time,
// e.g. on a nil dereference or division by zero.
type EvaluationError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("binding evaluation failed: %s: %v", e.Message, e.Cause)
	}
	return "binding evaluation failed: " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *EvaluationError) Unwrap() error {
	return e.Cause
}

func newEvaluationError(format string, args ...any) *EvaluationError {
	return &EvaluationError{Message: fmt.Sprintf(format, args...)}
}

// forEachCompilationError visits every CompilationError in err's tree,
// following both Unwrap() error and Unwrap() []error.
func forEachCompilationError(err error, fn func(*CompilationError)) {
	if err == nil {
		return
	}
	if ce, ok := err.(*CompilationError); ok {
		fn(ce)
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			forEachCompilationError(inner, fn)
		}
	case interface{ Unwrap() error }:
		forEachCompilationError(u.Unwrap(), fn)
	}
}

// attachExpression sets the source text on every nested CompilationError
// that does not carry one yet. Other error kinds are left untouched.
func attachExpression(err error, expression string) {
	forEachCompilationError(err, func(ce *CompilationError) {
		if ce.Expression == "" && !ce.hasExpression {
			ce.Expression = expression
			ce.hasExpression = true
		}
	})
}
