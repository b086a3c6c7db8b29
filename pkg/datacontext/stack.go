// Package datacontext describes the nesting of data contexts a binding is
// compiled against. Each level records the Go type bound to _this at that
// depth; the chain is immutable and shared by reference.
package datacontext

import (
	"reflect"
	"strings"
)

// Stack is one level of a data context chain. The zero value is not usable;
// create stacks with New and Push.
type Stack struct {
	dataContextType reflect.Type
	rootControlType reflect.Type
	parent          *Stack
}

// Option configures a stack level.
type Option func(*Stack)

// WithRootControl records the type of the control that owns the markup
// being compiled. It becomes available to bindings as _control.
func WithRootControl(t reflect.Type) Option {
	return func(s *Stack) {
		s.rootControlType = t
	}
}

// New creates a root stack level for the given data context type.
func New(t reflect.Type, opts ...Option) *Stack {
	s := &Stack{dataContextType: t}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push creates a child level whose parent is s. The receiver is not modified.
func (s *Stack) Push(t reflect.Type, opts ...Option) *Stack {
	child := New(t, opts...)
	child.parent = s
	return child
}

// FromTypes builds a chain from outermost to innermost. It returns nil for an
// empty list. Options apply to the innermost level.
func FromTypes(types []reflect.Type, opts ...Option) *Stack {
	var s *Stack
	for i, t := range types {
		var o []Option
		if i == len(types)-1 {
			o = opts
		}
		if s == nil {
			s = New(t, o...)
		} else {
			s = s.Push(t, o...)
		}
	}
	return s
}

// DataContextType returns the type bound to _this at this level.
func (s *Stack) DataContextType() reflect.Type {
	return s.dataContextType
}

// RootControlType returns the control type, or nil when none was declared.
func (s *Stack) RootControlType() reflect.Type {
	return s.rootControlType
}

// Parent returns the enclosing level, or nil at the root.
func (s *Stack) Parent() *Stack {
	return s.parent
}

// Depth returns the number of levels from s to the root, inclusive.
func (s *Stack) Depth() int {
	d := 0
	for cur := s; cur != nil; cur = cur.parent {
		d++
	}
	return d
}

// Root returns the outermost level.
func (s *Stack) Root() *Stack {
	cur := s
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// Types returns the data context types from innermost to outermost.
func (s *Stack) Types() []reflect.Type {
	var out []reflect.Type
	for cur := s; cur != nil; cur = cur.parent {
		out = append(out, cur.dataContextType)
	}
	return out
}

// Equal reports whether two chains have the same types at every level.
func (s *Stack) Equal(other *Stack) bool {
	a, b := s, other
	for a != nil && b != nil {
		if a == b {
			return true
		}
		if a.dataContextType != b.dataContextType || a.rootControlType != b.rootControlType {
			return false
		}
		a, b = a.parent, b.parent
	}
	return a == nil && b == nil
}

// String renders the chain outermost first, e.g. "main.Page > main.Order".
func (s *Stack) String() string {
	types := s.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[len(types)-1-i] = typeName(t)
	}
	out := strings.Join(names, " > ")
	if s != nil && s.rootControlType != nil {
		out += " [control " + typeName(s.rootControlType) + "]"
	}
	return out
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
