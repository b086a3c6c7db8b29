package compiler

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Symbol binds a name to an expression: a parameter placeholder for data
// context names, or a constant for helper functions.
type Symbol struct {
	Name string
	Expr Expr
}

// TypeRegistry is an immutable, ordered symbol table. Lookup returns the
// first symbol with a matching name, so symbols added later shadow the
// ones they were added on top of.
type TypeRegistry struct {
	symbols []Symbol
}

// NewRegistry creates a registry holding symbols in lookup order.
func NewRegistry(symbols ...Symbol) TypeRegistry {
	return TypeRegistry{symbols: append([]Symbol(nil), symbols...)}
}

// AddSymbols returns a new registry in which symbols take priority over the
// receiver's existing entries. The receiver is not modified.
func (r TypeRegistry) AddSymbols(symbols []Symbol) TypeRegistry {
	merged := make([]Symbol, 0, len(symbols)+len(r.symbols))
	merged = append(merged, symbols...)
	merged = append(merged, r.symbols...)
	return TypeRegistry{symbols: merged}
}

// Resolve returns the first symbol registered under name.
func (r TypeRegistry) Resolve(name string) (Expr, bool) {
	for _, s := range r.symbols {
		if s.Name == name {
			return s.Expr, true
		}
	}
	return nil, false
}

// Parameter returns the placeholder registered under name, if the first
// match is a parameter.
func (r TypeRegistry) Parameter(name string) (*ParameterExpr, bool) {
	e, ok := r.Resolve(name)
	if !ok {
		return nil, false
	}
	p, ok := e.(*ParameterExpr)
	return p, ok
}

// Symbols returns a copy of the registry contents in lookup order.
func (r TypeRegistry) Symbols() []Symbol {
	return append([]Symbol(nil), r.symbols...)
}

// Len returns the number of entries, including shadowed ones.
func (r TypeRegistry) Len() int {
	return len(r.symbols)
}

var defaultRegistry = NewRegistry(
	helper("upper", strings.ToUpper),
	helper("lower", strings.ToLower),
	helper("trim", strings.TrimSpace),
	helper("contains", strings.Contains),
	helper("hasPrefix", strings.HasPrefix),
	helper("hasSuffix", strings.HasSuffix),
	helper("replace", strings.ReplaceAll),
	helper("join", strings.Join),
	helper("len", func(s string) int64 { return int64(utf8.RuneCountInString(s)) }),
	helper("formatInt", func(i int64) string { return strconv.FormatInt(i, 10) }),
	helper("formatFloat", func(f float64, prec int64) string { return strconv.FormatFloat(f, 'f', int(prec), 64) }),
	helper("min", math.Min),
	helper("max", math.Max),
	helper("abs", math.Abs),
	helper("now", time.Now),
)

// DefaultRegistry returns the process-wide registry of helper functions
// every binding can call.
func DefaultRegistry() TypeRegistry {
	return defaultRegistry
}

func helper(name string, f any) Symbol {
	v := reflect.ValueOf(f)
	return Symbol{Name: name, Expr: &ConstantExpr{Value: v, typ: v.Type()}}
}
