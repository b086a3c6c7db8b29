package compiler

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/lemonberrylabs/bindc/pkg/binding"
)

// Expr is a node of a compiled, statically typed expression tree.
type Expr interface {
	// Type returns the static Go type the node evaluates to.
	Type() reflect.Type
	// Eval computes the node's value. Values in env are keyed by parameter.
	Eval(env Env) (reflect.Value, error)

	operands() []Expr
}

// Env binds parameter placeholders to concrete values during evaluation.
type Env map[*ParameterExpr]reflect.Value

var (
	anyType    = reflect.TypeOf((*any)(nil)).Elem()
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
	boolType   = reflect.TypeOf(false)
	int64Type  = reflect.TypeOf(int64(0))
	float64Typ = reflect.TypeOf(float64(0))
	stringType = reflect.TypeOf("")
	voidType   = reflect.TypeOf(struct{}{})
)

// ParameterExpr is a named, typed placeholder such as _this or _parent1.
// Depth is 0 for _this, n for the n-th ancestor and -1 for _control.
type ParameterExpr struct {
	Name  string
	Depth int
	typ   reflect.Type
}

// NewParameter creates a placeholder bound to values of type t.
func NewParameter(name string, t reflect.Type, depth int) *ParameterExpr {
	return &ParameterExpr{Name: name, Depth: depth, typ: t}
}

func (p *ParameterExpr) Type() reflect.Type { return p.typ }
func (p *ParameterExpr) operands() []Expr   { return nil }

func (p *ParameterExpr) Eval(env Env) (reflect.Value, error) {
	v, ok := env[p]
	if !ok || !v.IsValid() {
		return reflect.Value{}, newEvaluationError("no value bound to '%s'", p.Name)
	}
	return v, nil
}

func (p *ParameterExpr) String() string {
	return fmt.Sprintf("%s %s", p.Name, p.typ)
}

// ConstantExpr is a literal value. Null marks the untyped null literal.
type ConstantExpr struct {
	Value reflect.Value
	Null  bool
	typ   reflect.Type
}

func constant(v any) *ConstantExpr {
	rv := reflect.ValueOf(v)
	return &ConstantExpr{Value: rv, typ: rv.Type()}
}

func nullConstant() *ConstantExpr {
	return &ConstantExpr{Value: reflect.Zero(anyType), Null: true, typ: anyType}
}

func (c *ConstantExpr) Type() reflect.Type              { return c.typ }
func (c *ConstantExpr) operands() []Expr                { return nil }
func (c *ConstantExpr) Eval(Env) (reflect.Value, error) { return c.Value, nil }

// FieldExpr reads a struct field, dereferencing pointers on the way.
type FieldExpr struct {
	Target Expr
	Field  reflect.StructField
}

func (f *FieldExpr) Type() reflect.Type { return f.Field.Type }
func (f *FieldExpr) operands() []Expr   { return []Expr{f.Target} }

func (f *FieldExpr) Eval(env Env) (reflect.Value, error) {
	v, err := f.Target.Eval(env)
	if err != nil {
		return reflect.Value{}, err
	}
	v, err = indirect(v, f.Field.Name)
	if err != nil {
		return reflect.Value{}, err
	}
	field, err := v.FieldByIndexErr(f.Field.Index)
	if err != nil {
		return reflect.Value{}, newEvaluationError("cannot read '%s': %v", f.Field.Name, err)
	}
	return field, nil
}

// CallExpr invokes a method on Target (when Method is set) or a func value.
type CallExpr struct {
	Target Expr
	Method string // empty for func-valued targets
	ViaPtr bool   // method has a pointer receiver but Target is a value
	Args   []Expr

	returnsError bool
	typ          reflect.Type
}

func (c *CallExpr) Type() reflect.Type { return c.typ }

func (c *CallExpr) operands() []Expr {
	return append([]Expr{c.Target}, c.Args...)
}

func (c *CallExpr) Eval(env Env) (reflect.Value, error) {
	recv, err := c.Target.Eval(env)
	if err != nil {
		return reflect.Value{}, err
	}

	var fn reflect.Value
	if c.Method == "" {
		if recv.IsNil() {
			return reflect.Value{}, newEvaluationError("cannot call a nil function")
		}
		fn = recv
	} else {
		if isNullable(recv.Type()) && recv.IsNil() {
			return reflect.Value{}, newEvaluationError("cannot call '%s' on a nil value", c.Method)
		}
		if c.ViaPtr && recv.Kind() != reflect.Pointer {
			if recv.CanAddr() {
				recv = recv.Addr()
			} else {
				p := reflect.New(recv.Type())
				p.Elem().Set(recv)
				recv = p
			}
		}
		fn = recv.MethodByName(c.Method)
	}

	args := make([]reflect.Value, len(c.Args))
	for i, a := range c.Args {
		if args[i], err = a.Eval(env); err != nil {
			return reflect.Value{}, err
		}
	}

	out := fn.Call(args)
	if c.returnsError {
		if e := out[len(out)-1]; !e.IsNil() {
			return reflect.Value{}, &EvaluationError{Message: fmt.Sprintf("call to '%s' failed", c.name()), Cause: e.Interface().(error)}
		}
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return reflect.ValueOf(struct{}{}), nil
	}
	return out[0], nil
}

func (c *CallExpr) name() string {
	if c.Method != "" {
		return c.Method
	}
	return "function"
}

// IndexExpr indexes a slice, array, string or map.
type IndexExpr struct {
	Target Expr
	Index  Expr
	typ    reflect.Type
}

func (ix *IndexExpr) Type() reflect.Type { return ix.typ }
func (ix *IndexExpr) operands() []Expr   { return []Expr{ix.Target, ix.Index} }

func (ix *IndexExpr) Eval(env Env) (reflect.Value, error) {
	v, err := ix.Target.Eval(env)
	if err != nil {
		return reflect.Value{}, err
	}
	if v, err = indirect(v, "indexer"); err != nil {
		return reflect.Value{}, err
	}
	idx, err := ix.Index.Eval(env)
	if err != nil {
		return reflect.Value{}, err
	}

	switch v.Kind() {
	case reflect.Map:
		val := v.MapIndex(idx)
		if !val.IsValid() {
			return reflect.Value{}, newEvaluationError("key '%v' not found in map", idx.Interface())
		}
		return val, nil
	case reflect.String:
		i := idx.Int()
		if i < 0 || i >= int64(v.Len()) {
			return reflect.Value{}, newEvaluationError("string index %d out of range (length %d)", i, v.Len())
		}
		return reflect.ValueOf(v.String()[i : i+1]), nil
	default:
		i := idx.Int()
		if i < 0 || i >= int64(v.Len()) {
			return reflect.Value{}, newEvaluationError("index %d out of range (length %d)", i, v.Len())
		}
		return v.Index(int(i)), nil
	}
}

// ConvertExpr converts Operand to a wider or assignable type.
type ConvertExpr struct {
	Operand Expr
	typ     reflect.Type
}

func (c *ConvertExpr) Type() reflect.Type { return c.typ }
func (c *ConvertExpr) operands() []Expr   { return []Expr{c.Operand} }

func (c *ConvertExpr) Eval(env Env) (reflect.Value, error) {
	v, err := c.Operand.Eval(env)
	if err != nil {
		return reflect.Value{}, err
	}
	if c.typ.Kind() == reflect.Interface {
		out := reflect.New(c.typ).Elem()
		if v.IsValid() && !(v.Kind() == reflect.Interface && v.IsNil()) {
			out.Set(v)
		}
		return out, nil
	}
	return v.Convert(c.typ), nil
}

// UnaryExpr applies ! or unary - to an already promoted operand.
type UnaryExpr struct {
	Op      binding.TokenKind
	Operand Expr
}

func (u *UnaryExpr) Type() reflect.Type { return u.Operand.Type() }
func (u *UnaryExpr) operands() []Expr   { return []Expr{u.Operand} }

func (u *UnaryExpr) Eval(env Env) (reflect.Value, error) {
	v, err := u.Operand.Eval(env)
	if err != nil {
		return reflect.Value{}, err
	}
	switch {
	case u.Op == binding.TokenNot:
		return reflect.ValueOf(!v.Bool()), nil
	case v.Kind() == reflect.Int64:
		return reflect.ValueOf(-v.Int()), nil
	default:
		return reflect.ValueOf(-v.Float()), nil
	}
}

// BinaryExpr is an arithmetic, comparison or logical operation. Operands are
// already promoted to a common type by the builder.
type BinaryExpr struct {
	Op    binding.TokenKind
	Left  Expr
	Right Expr
	typ   reflect.Type
}

func (b *BinaryExpr) Type() reflect.Type { return b.typ }
func (b *BinaryExpr) operands() []Expr   { return []Expr{b.Left, b.Right} }

func (b *BinaryExpr) Eval(env Env) (reflect.Value, error) {
	left, err := b.Left.Eval(env)
	if err != nil {
		return reflect.Value{}, err
	}

	// Short-circuit for logical operators
	switch b.Op {
	case binding.TokenAnd:
		if !left.Bool() {
			return left, nil
		}
		return b.Right.Eval(env)
	case binding.TokenOr:
		if left.Bool() {
			return left, nil
		}
		return b.Right.Eval(env)
	}

	right, err := b.Right.Eval(env)
	if err != nil {
		return reflect.Value{}, err
	}

	switch b.Op {
	case binding.TokenEq:
		return reflect.ValueOf(valuesEqual(left, right)), nil
	case binding.TokenNeq:
		return reflect.ValueOf(!valuesEqual(left, right)), nil
	case binding.TokenLt, binding.TokenGt, binding.TokenLte, binding.TokenGte:
		return reflect.ValueOf(compareTest(b.Op, compareValues(left, right))), nil
	}

	switch left.Kind() {
	case reflect.String:
		return reflect.ValueOf(left.String() + right.String()), nil
	case reflect.Int64:
		return evalIntArith(b.Op, left.Int(), right.Int())
	default:
		return evalFloatArith(b.Op, left.Float(), right.Float())
	}
}

func evalIntArith(op binding.TokenKind, a, b int64) (reflect.Value, error) {
	switch op {
	case binding.TokenPlus:
		return reflect.ValueOf(a + b), nil
	case binding.TokenMinus:
		return reflect.ValueOf(a - b), nil
	case binding.TokenStar:
		return reflect.ValueOf(a * b), nil
	case binding.TokenSlash:
		if b == 0 {
			return reflect.Value{}, newEvaluationError("division by zero")
		}
		return reflect.ValueOf(a / b), nil
	case binding.TokenPercent:
		if b == 0 {
			return reflect.Value{}, newEvaluationError("division by zero")
		}
		return reflect.ValueOf(a % b), nil
	}
	return reflect.Value{}, newEvaluationError("unsupported operator %s", op)
}

func evalFloatArith(op binding.TokenKind, a, b float64) (reflect.Value, error) {
	switch op {
	case binding.TokenPlus:
		return reflect.ValueOf(a + b), nil
	case binding.TokenMinus:
		return reflect.ValueOf(a - b), nil
	case binding.TokenStar:
		return reflect.ValueOf(a * b), nil
	case binding.TokenSlash:
		if b == 0 {
			return reflect.Value{}, newEvaluationError("division by zero")
		}
		return reflect.ValueOf(a / b), nil
	case binding.TokenPercent:
		if b == 0 {
			return reflect.Value{}, newEvaluationError("division by zero")
		}
		return reflect.ValueOf(math.Mod(a, b)), nil
	}
	return reflect.Value{}, newEvaluationError("unsupported operator %s", op)
}

func valuesEqual(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Int64:
		return a.Int() == b.Int()
	case reflect.Float64:
		return a.Float() == b.Float()
	case reflect.String:
		return a.String() == b.String()
	case reflect.Bool:
		return a.Bool() == b.Bool()
	}
	if a.Comparable() && b.Comparable() {
		return a.Equal(b)
	}
	return false
}

// compareValues orders two numbers or two strings.
func compareValues(a, b reflect.Value) int {
	switch a.Kind() {
	case reflect.String:
		return strings.Compare(a.String(), b.String())
	case reflect.Int64:
		x, y := a.Int(), b.Int()
		if x < y {
			return -1
		} else if x > y {
			return 1
		}
		return 0
	default:
		x, y := a.Float(), b.Float()
		if x < y {
			return -1
		} else if x > y {
			return 1
		}
		return 0
	}
}

func compareTest(op binding.TokenKind, c int) bool {
	switch op {
	case binding.TokenLt:
		return c < 0
	case binding.TokenGt:
		return c > 0
	case binding.TokenLte:
		return c <= 0
	default:
		return c >= 0
	}
}

// NullCheckExpr tests a nullable operand against null (x == null, x != null).
type NullCheckExpr struct {
	Operand Expr
	Negate  bool
}

func (n *NullCheckExpr) Type() reflect.Type { return boolType }
func (n *NullCheckExpr) operands() []Expr   { return []Expr{n.Operand} }

func (n *NullCheckExpr) Eval(env Env) (reflect.Value, error) {
	v, err := n.Operand.Eval(env)
	if err != nil {
		return reflect.Value{}, err
	}
	isNil := !v.IsValid() || v.IsNil()
	return reflect.ValueOf(isNil != n.Negate), nil
}

// CoalesceExpr evaluates Left and falls back to Right when it is nil.
// With Deref set, a non-nil pointer on the left is dereferenced.
type CoalesceExpr struct {
	Left  Expr
	Right Expr
	Deref bool
	typ   reflect.Type
}

func (c *CoalesceExpr) Type() reflect.Type { return c.typ }
func (c *CoalesceExpr) operands() []Expr   { return []Expr{c.Left, c.Right} }

func (c *CoalesceExpr) Eval(env Env) (reflect.Value, error) {
	left, err := c.Left.Eval(env)
	if err != nil {
		return reflect.Value{}, err
	}
	if left.IsValid() && !left.IsNil() {
		if c.Deref {
			return left.Elem(), nil
		}
		return left, nil
	}
	return c.Right.Eval(env)
}

// ConditionalExpr is cond ? then : else.
type ConditionalExpr struct {
	Condition Expr
	Then      Expr
	Else      Expr
}

func (c *ConditionalExpr) Type() reflect.Type { return c.Then.Type() }
func (c *ConditionalExpr) operands() []Expr   { return []Expr{c.Condition, c.Then, c.Else} }

func (c *ConditionalExpr) Eval(env Env) (reflect.Value, error) {
	cond, err := c.Condition.Eval(env)
	if err != nil {
		return reflect.Value{}, err
	}
	if cond.Bool() {
		return c.Then.Eval(env)
	}
	return c.Else.Eval(env)
}

// indirect follows pointers and interfaces down to a concrete value.
func indirect(v reflect.Value, what string) (reflect.Value, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, newEvaluationError("cannot access '%s' on a nil value", what)
		}
		v = v.Elem()
	}
	return v, nil
}

// Walk calls fn for every node of the tree rooted at e, depth-first.
func Walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	for _, o := range e.operands() {
		Walk(o, fn)
	}
}
