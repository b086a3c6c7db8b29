// Package compiler turns binding expressions into typed expression trees
// resolved against a data context stack.
package compiler

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/lemonberrylabs/bindc/pkg/binding"
	"github.com/lemonberrylabs/bindc/pkg/datacontext"
)

// GetParameters synthesizes the placeholders a binding compiled against
// stack can reference, in canonical order: _control (when the stack has a
// root control type), _this, then one entry per ancestor walking outward
// (the first ancestor is also exposed as _parent), and finally _root.
func GetParameters(stack *datacontext.Stack) []*ParameterExpr {
	var params []*ParameterExpr
	if ct := stack.RootControlType(); ct != nil {
		params = append(params, NewParameter("_control", ct, -1))
	}
	params = append(params, NewParameter("_this", stack.DataContextType(), 0))

	cur, depth := stack, 0
	for cur.Parent() != nil {
		cur = cur.Parent()
		depth++
		if depth == 1 {
			params = append(params, NewParameter("_parent", cur.DataContextType(), depth))
		}
		params = append(params, NewParameter(fmt.Sprintf("_parent%d", depth-1), cur.DataContextType(), depth))
	}
	return append(params, NewParameter("_root", cur.DataContextType(), depth))
}

// InitSymbols returns the default registry with the parameters of stack
// layered on top, so stack-derived names always win.
func InitSymbols(stack *datacontext.Stack) TypeRegistry {
	params := GetParameters(stack)
	symbols := make([]Symbol, len(params))
	for i, p := range params {
		symbols[i] = Symbol{Name: p.Name, Expr: p}
	}
	return DefaultRegistry().AddSymbols(symbols)
}

// Parse compiles expression against stack. Every *CompilationError in the
// returned error tree carries expression as its source text.
func Parse(expression string, stack *datacontext.Stack) (_ *CompiledExpression, err error) {
	defer func() {
		if err != nil {
			attachExpression(err, expression)
		}
	}()

	if stack == nil {
		return nil, &CompilationError{Message: "no data context"}
	}

	parser := binding.NewParser(binding.Tokenize(expression))
	root := parser.ReadExpression()
	if !parser.OnEnd() {
		tok := parser.Peek()
		return nil, &CompilationError{
			Message: fmt.Sprintf("unexpected token '%s ---->%s<---- %s'",
				expression[:tok.Start], tok.Text, expression[tok.End():]),
			Tokens: []binding.Token{tok},
		}
	}
	for _, n := range binding.EnumerateNodes(root) {
		if n.HasNodeErrors() {
			return nil, &CompilationError{Message: strings.Join(n.NodeErrors(), ", "), Node: n}
		}
	}

	registry := InitSymbols(stack)
	scope, _ := registry.Parameter("_this")
	e, err := Build(root, registry, scope)
	if err != nil {
		return nil, err
	}

	params := make([]*ParameterExpr, 0, registry.Len())
	for _, s := range registry.Symbols() {
		if p, ok := s.Expr.(*ParameterExpr); ok {
			params = append(params, p)
		}
	}
	return &CompiledExpression{Source: expression, Root: e, Parameters: params, Stack: stack}, nil
}

// CompiledExpression is a binding ready for evaluation.
type CompiledExpression struct {
	Source     string
	Root       Expr
	Parameters []*ParameterExpr
	Stack      *datacontext.Stack
}

// Type returns the static result type.
func (c *CompiledExpression) Type() reflect.Type {
	return c.Root.Type()
}

// Referenced returns the parameters the expression actually uses, in
// canonical order.
func (c *CompiledExpression) Referenced() []*ParameterExpr {
	used := map[*ParameterExpr]bool{}
	Walk(c.Root, func(e Expr) {
		if p, ok := e.(*ParameterExpr); ok {
			used[p] = true
		}
	})
	var out []*ParameterExpr
	for _, p := range c.Parameters {
		if used[p] {
			out = append(out, p)
		}
	}
	return out
}

// ParameterNames returns the names of all synthesized parameters.
func (c *CompiledExpression) ParameterNames() []string {
	names := make([]string, len(c.Parameters))
	for i, p := range c.Parameters {
		names[i] = p.Name
	}
	return names
}

// Evaluate runs the expression. contexts holds the data context values
// innermost first, matching the stack levels; control is bound to _control
// and may be nil when the expression does not use it.
func (c *CompiledExpression) Evaluate(contexts []any, control any) (any, error) {
	env := Env{}
	for _, p := range c.Parameters {
		var raw any
		switch {
		case p.Depth < 0:
			raw = control
		case p.Depth < len(contexts):
			raw = contexts[p.Depth]
		default:
			continue
		}
		v, err := bindValue(p, raw)
		if err != nil {
			return nil, err
		}
		if v.IsValid() {
			env[p] = v
		}
	}

	v, err := c.Root.Eval(env)
	if err != nil {
		return nil, err
	}
	if !v.IsValid() || c.Root.Type() == voidType {
		return nil, nil
	}
	return v.Interface(), nil
}

// bindValue adapts raw to the parameter type. Pointers to the parameter
// type are dereferenced.
func bindValue(p *ParameterExpr, raw any) (reflect.Value, error) {
	if raw == nil {
		if isNullable(p.Type()) {
			return reflect.Zero(p.Type()), nil
		}
		return reflect.Value{}, nil
	}
	v := reflect.ValueOf(raw)
	switch {
	case v.Type() == p.Type():
		return v, nil
	case v.Type().AssignableTo(p.Type()):
		out := reflect.New(p.Type()).Elem()
		out.Set(v)
		return out, nil
	case v.Kind() == reflect.Pointer && v.Type().Elem() == p.Type() && !v.IsNil():
		return v.Elem(), nil
	case v.Type().ConvertibleTo(p.Type()):
		return v.Convert(p.Type()), nil
	}
	return reflect.Value{}, newEvaluationError("cannot bind %s to '%s' of type %s", v.Type(), p.Name, p.Type())
}

// Cache stores compiled expressions keyed by source text and stack.
type Cache interface {
	Get(expression string, stack *datacontext.Stack) (*CompiledExpression, bool)
	Put(expression string, stack *datacontext.Stack, compiled *CompiledExpression)
}

// Recorder receives one call per compilation request.
type Recorder interface {
	RecordCompilation(expression string, stack *datacontext.Stack, elapsed time.Duration, err error)
}

// Compiler wraps Parse with an optional cache and recorder. It is safe for
// concurrent use when its collaborators are.
type Compiler struct {
	cache    Cache
	recorder Recorder
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithCache makes the compiler reuse earlier results from c.
func WithCache(c Cache) Option {
	return func(comp *Compiler) {
		comp.cache = c
	}
}

// WithRecorder reports every compilation to r.
func WithRecorder(r Recorder) Option {
	return func(comp *Compiler) {
		comp.recorder = r
	}
}

// New creates a Compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile returns the compiled form of expression, consulting the cache
// first. Failures are never cached.
func (c *Compiler) Compile(expression string, stack *datacontext.Stack) (*CompiledExpression, error) {
	if c.cache != nil {
		if compiled, ok := c.cache.Get(expression, stack); ok {
			return compiled, nil
		}
	}

	start := time.Now()
	compiled, err := Parse(expression, stack)
	if c.recorder != nil {
		c.recorder.RecordCompilation(expression, stack, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Put(expression, stack, compiled)
	}
	return compiled, nil
}
