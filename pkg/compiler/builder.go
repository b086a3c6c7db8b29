package compiler

import (
	"reflect"

	"github.com/lemonberrylabs/bindc/pkg/binding"
)

// Builder turns a parsed binding into a typed expression tree in a single
// depth-first pass.
type Builder struct {
	registry TypeRegistry

	// Scope is the placeholder that unqualified member names resolve
	// against; normally the _this parameter.
	Scope *ParameterExpr
}

// NewBuilder creates a builder resolving names through registry first and
// then through members of scope.
func NewBuilder(registry TypeRegistry, scope *ParameterExpr) *Builder {
	return &Builder{registry: registry, Scope: scope}
}

// Build is shorthand for NewBuilder(registry, scope).Visit(node).
func Build(node binding.Node, registry TypeRegistry, scope *ParameterExpr) (Expr, error) {
	return NewBuilder(registry, scope).Visit(node)
}

var opSymbols = map[binding.TokenKind]string{
	binding.TokenPlus:     "+",
	binding.TokenMinus:    "-",
	binding.TokenStar:     "*",
	binding.TokenSlash:    "/",
	binding.TokenPercent:  "%",
	binding.TokenEq:       "==",
	binding.TokenNeq:      "!=",
	binding.TokenLt:       "<",
	binding.TokenGt:       ">",
	binding.TokenLte:      "<=",
	binding.TokenGte:      ">=",
	binding.TokenAnd:      "&&",
	binding.TokenOr:       "||",
	binding.TokenNot:      "!",
	binding.TokenCoalesce: "??",
}

// Visit builds the expression for node and its subtree.
func (b *Builder) Visit(node binding.Node) (Expr, error) {
	switch n := node.(type) {
	case *binding.LiteralNode:
		return b.visitLiteral(n)
	case *binding.IdentifierNode:
		return b.visitIdentifier(n)
	case *binding.MemberAccessNode:
		return b.visitMemberAccess(n)
	case *binding.IndexerNode:
		return b.visitIndexer(n)
	case *binding.CallNode:
		return b.visitCall(n)
	case *binding.BinaryNode:
		return b.visitBinary(n)
	case *binding.UnaryNode:
		return b.visitUnary(n)
	case *binding.ConditionalNode:
		return b.visitConditional(n)
	case *binding.ParenthesizedNode:
		return b.Visit(n.Inner)
	default:
		return nil, newNodeError(node, "unsupported expression node %T", node)
	}
}

func (b *Builder) visitLiteral(n *binding.LiteralNode) (Expr, error) {
	switch n.Kind {
	case binding.TokenInt:
		return constant(n.IntVal), nil
	case binding.TokenFloat:
		return constant(n.FloatVal), nil
	case binding.TokenString:
		return constant(n.StrVal), nil
	case binding.TokenTrue, binding.TokenFalse:
		return constant(n.BoolVal), nil
	case binding.TokenNull:
		return nullConstant(), nil
	default:
		return nil, newNodeError(n, "unknown literal kind %s", n.Kind)
	}
}

func (b *Builder) visitIdentifier(n *binding.IdentifierNode) (Expr, error) {
	if e, ok := b.registry.Resolve(n.Name); ok {
		return e, nil
	}
	if b.Scope != nil {
		if f, ok := findField(b.Scope.Type(), n.Name); ok {
			return &FieldExpr{Target: b.Scope, Field: f}, nil
		}
		if _, _, ok := findMethod(b.Scope.Type(), n.Name); ok {
			return nil, newNodeError(n, "'%s' is a method and must be called", n.Name)
		}
	}
	return nil, newNodeError(n, "unknown identifier '%s'", n.Name)
}

func (b *Builder) visitMemberAccess(n *binding.MemberAccessNode) (Expr, error) {
	target, err := b.Visit(n.Target)
	if err != nil {
		return nil, err
	}
	name := n.Member.Name
	if f, ok := findField(target.Type(), name); ok {
		return &FieldExpr{Target: target, Field: f}, nil
	}
	if _, _, ok := findMethod(target.Type(), name); ok {
		return nil, newNodeError(n.Member, "'%s' is a method and must be called", name)
	}
	return nil, newNodeError(n.Member, "type %s has no member '%s'", target.Type(), name)
}

func (b *Builder) visitIndexer(n *binding.IndexerNode) (Expr, error) {
	target, err := b.Visit(n.Target)
	if err != nil {
		return nil, err
	}
	index, err := b.Visit(n.Index)
	if err != nil {
		return nil, err
	}

	t := derefType(target.Type())
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.String:
		if !isIntKind(index.Type().Kind()) {
			return nil, newNodeError(n.Index, "index must be an integer, got %s", index.Type())
		}
		elem := stringType
		if t.Kind() != reflect.String {
			elem = t.Elem()
		}
		return &IndexExpr{Target: target, Index: toType(index, int64Type), typ: elem}, nil
	case reflect.Map:
		key, ok := convertTo(index, t.Key())
		if !ok {
			return nil, newNodeError(n.Index, "cannot use %s as map key of type %s", index.Type(), t.Key())
		}
		return &IndexExpr{Target: target, Index: key, typ: t.Elem()}, nil
	default:
		return nil, newNodeError(n, "cannot index a value of type %s", target.Type())
	}
}

func (b *Builder) visitCall(n *binding.CallNode) (Expr, error) {
	switch t := n.Target.(type) {
	case *binding.MemberAccessNode:
		target, err := b.Visit(t.Target)
		if err != nil {
			return nil, err
		}
		return b.buildMemberCall(n, t.Member, target)

	case *binding.IdentifierNode:
		if e, ok := b.registry.Resolve(t.Name); ok {
			if e.Type().Kind() != reflect.Func {
				return nil, newNodeError(t, "'%s' is not a function", t.Name)
			}
			return b.buildCall(n, &CallExpr{Target: e}, e.Type(), 0)
		}
		if b.Scope != nil {
			return b.buildMemberCall(n, t, b.Scope)
		}
		return nil, newNodeError(t, "unknown function '%s'", t.Name)

	default:
		target, err := b.Visit(n.Target)
		if err != nil {
			return nil, err
		}
		if target.Type().Kind() != reflect.Func {
			return nil, newNodeError(n.Target, "a value of type %s cannot be called", target.Type())
		}
		return b.buildCall(n, &CallExpr{Target: target}, target.Type(), 0)
	}
}

// buildMemberCall resolves name as a method of target, or as a func-typed field.
func (b *Builder) buildMemberCall(n *binding.CallNode, member *binding.IdentifierNode, target Expr) (Expr, error) {
	name := member.Name
	if m, viaPtr, ok := findMethod(target.Type(), name); ok {
		// Interface method types carry no receiver.
		skip := 1
		if target.Type().Kind() == reflect.Interface {
			skip = 0
		}
		return b.buildCall(n, &CallExpr{Target: target, Method: name, ViaPtr: viaPtr}, m.Type, skip)
	}
	if f, ok := findField(target.Type(), name); ok && f.Type.Kind() == reflect.Func {
		return b.buildCall(n, &CallExpr{Target: &FieldExpr{Target: target, Field: f}}, f.Type, 0)
	}
	return nil, newNodeError(member, "type %s has no method '%s'", target.Type(), name)
}

// buildCall type-checks arguments against ft, skipping the first skip
// parameters (the method receiver), and completes call.
func (b *Builder) buildCall(n *binding.CallNode, call *CallExpr, ft reflect.Type, skip int) (Expr, error) {
	numIn := ft.NumIn() - skip
	if ft.IsVariadic() {
		if len(n.Args) < numIn-1 {
			return nil, newNodeError(n, "expected at least %d argument(s), got %d", numIn-1, len(n.Args))
		}
	} else if len(n.Args) != numIn {
		return nil, newNodeError(n, "expected %d argument(s), got %d", numIn, len(n.Args))
	}

	for i, a := range n.Args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= numIn-1 {
			pt = ft.In(ft.NumIn() - 1).Elem()
		} else {
			pt = ft.In(i + skip)
		}
		arg, err := b.Visit(a)
		if err != nil {
			return nil, err
		}
		conv, ok := convertTo(arg, pt)
		if !ok {
			return nil, newNodeError(a, "cannot use %s as %s in argument %d", arg.Type(), pt, i+1)
		}
		call.Args = append(call.Args, conv)
	}

	switch {
	case ft.NumOut() == 0:
		call.typ = voidType
	case ft.NumOut() == 1 && ft.Out(0) == errorType:
		call.typ, call.returnsError = voidType, true
	case ft.NumOut() == 1:
		call.typ = ft.Out(0)
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		call.typ, call.returnsError = ft.Out(0), true
	default:
		return nil, newNodeError(n, "functions returning %d values cannot be used in bindings", ft.NumOut())
	}
	return call, nil
}

func (b *Builder) visitBinary(n *binding.BinaryNode) (Expr, error) {
	left, err := b.Visit(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := b.Visit(n.Right)
	if err != nil {
		return nil, err
	}

	mismatch := func() error {
		return newNodeError(n, "operator '%s' cannot be applied to %s and %s", opSymbols[n.Op], describeType(left), describeType(right))
	}

	switch n.Op {
	case binding.TokenAnd, binding.TokenOr:
		if !isBool(left) || !isBool(right) {
			return nil, mismatch()
		}
		return &BinaryExpr{Op: n.Op, Left: toType(left, boolType), Right: toType(right, boolType), typ: boolType}, nil

	case binding.TokenCoalesce:
		e, ok := buildCoalesce(left, right)
		if !ok {
			return nil, mismatch()
		}
		return e, nil

	case binding.TokenEq, binding.TokenNeq:
		e, ok := buildEquality(n.Op, left, right)
		if !ok {
			return nil, mismatch()
		}
		return e, nil

	case binding.TokenLt, binding.TokenGt, binding.TokenLte, binding.TokenGte:
		l, r, ok := promotePair(left, right)
		if !ok {
			return nil, mismatch()
		}
		return &BinaryExpr{Op: n.Op, Left: l, Right: r, typ: boolType}, nil

	default:
		if n.Op == binding.TokenPlus && isString(left) && isString(right) {
			return &BinaryExpr{Op: n.Op, Left: toType(left, stringType), Right: toType(right, stringType), typ: stringType}, nil
		}
		l, r, ok := promoteNumericPair(left, right)
		if !ok {
			return nil, mismatch()
		}
		return &BinaryExpr{Op: n.Op, Left: l, Right: r, typ: l.Type()}, nil
	}
}

func (b *Builder) visitUnary(n *binding.UnaryNode) (Expr, error) {
	operand, err := b.Visit(n.Operand)
	if err != nil {
		return nil, err
	}
	if n.Op == binding.TokenNot {
		if !isBool(operand) {
			return nil, newNodeError(n, "operator '!' cannot be applied to %s", describeType(operand))
		}
		return &UnaryExpr{Op: n.Op, Operand: toType(operand, boolType)}, nil
	}
	promoted, ok := promoteNumeric(operand)
	if !ok {
		return nil, newNodeError(n, "operator '-' cannot be applied to %s", describeType(operand))
	}
	return &UnaryExpr{Op: n.Op, Operand: promoted}, nil
}

func (b *Builder) visitConditional(n *binding.ConditionalNode) (Expr, error) {
	cond, err := b.Visit(n.Condition)
	if err != nil {
		return nil, err
	}
	if !isBool(cond) {
		return nil, newNodeError(n.Condition, "condition must be bool, got %s", describeType(cond))
	}
	then, err := b.Visit(n.Then)
	if err != nil {
		return nil, err
	}
	els, err := b.Visit(n.Else)
	if err != nil {
		return nil, err
	}
	then, els, ok := unify(then, els)
	if !ok {
		return nil, newNodeError(n, "branches of '?:' have incompatible types %s and %s", describeType(then), describeType(els))
	}
	return &ConditionalExpr{Condition: toType(cond, boolType), Then: then, Else: els}, nil
}

func buildEquality(op binding.TokenKind, left, right Expr) (Expr, bool) {
	negate := op == binding.TokenNeq
	switch {
	case isNull(left) && isNull(right):
		return constant(!negate), true
	case isNull(left):
		if !isNullable(right.Type()) {
			return nil, false
		}
		return &NullCheckExpr{Operand: right, Negate: negate}, true
	case isNull(right):
		if !isNullable(left.Type()) {
			return nil, false
		}
		return &NullCheckExpr{Operand: left, Negate: negate}, true
	}

	if l, r, ok := promotePair(left, right); ok {
		return &BinaryExpr{Op: op, Left: l, Right: r, typ: boolType}, true
	}
	if isBool(left) && isBool(right) {
		return &BinaryExpr{Op: op, Left: toType(left, boolType), Right: toType(right, boolType), typ: boolType}, true
	}
	l, r, ok := unify(left, right)
	if !ok || !l.Type().Comparable() {
		return nil, false
	}
	return &BinaryExpr{Op: op, Left: l, Right: r, typ: boolType}, true
}

func buildCoalesce(left, right Expr) (Expr, bool) {
	if isNull(left) {
		return right, true
	}
	lt := left.Type()
	if !isNullable(lt) {
		return nil, false
	}
	if isNull(right) {
		return left, true
	}
	if lt.Kind() == reflect.Pointer {
		if conv, ok := convertTo(right, lt.Elem()); ok {
			return &CoalesceExpr{Left: left, Right: conv, Deref: true, typ: lt.Elem()}, true
		}
	}
	if conv, ok := convertTo(right, lt); ok {
		return &CoalesceExpr{Left: left, Right: conv, typ: lt}, true
	}
	return nil, false
}

// unify converts two expressions to a common type, as needed for ?: branches.
func unify(a, b Expr) (Expr, Expr, bool) {
	if a.Type() == b.Type() {
		return a, b, true
	}
	if l, r, ok := promoteNumericPair(a, b); ok {
		return l, r, true
	}
	if conv, ok := convertTo(b, a.Type()); ok && !isNull(a) {
		return a, conv, true
	}
	if conv, ok := convertTo(a, b.Type()); ok && !isNull(b) {
		return conv, b, true
	}
	return a, b, false
}

// promotePair brings two operands to a common ordered type: int64, float64
// or string.
func promotePair(a, b Expr) (Expr, Expr, bool) {
	if isString(a) && isString(b) {
		return toType(a, stringType), toType(b, stringType), true
	}
	return promoteNumericPair(a, b)
}

func promoteNumericPair(a, b Expr) (Expr, Expr, bool) {
	if isNull(a) || isNull(b) {
		return nil, nil, false
	}
	ak, bk := a.Type().Kind(), b.Type().Kind()
	switch {
	case isIntKind(ak) && isIntKind(bk):
		return toType(a, int64Type), toType(b, int64Type), true
	case isNumericKind(ak) && isNumericKind(bk):
		return toType(a, float64Typ), toType(b, float64Typ), true
	}
	return nil, nil, false
}

func promoteNumeric(e Expr) (Expr, bool) {
	if isNull(e) {
		return nil, false
	}
	switch k := e.Type().Kind(); {
	case isIntKind(k):
		return toType(e, int64Type), true
	case isFloatKind(k):
		return toType(e, float64Typ), true
	}
	return nil, false
}

// convertTo returns e converted to t when the conversion is implicit:
// identity, assignability, numeric widening, fitting integer constants,
// null to a nillable type, or a named basic type to its underlying kind.
func convertTo(e Expr, t reflect.Type) (Expr, bool) {
	from := e.Type()
	if isNull(e) {
		if !isNullable(t) {
			return nil, false
		}
		return &ConstantExpr{Value: reflect.Zero(t), typ: t}, true
	}
	if from == t {
		return e, true
	}
	if from.AssignableTo(t) {
		return &ConvertExpr{Operand: e, typ: t}, true
	}
	fk, tk := from.Kind(), t.Kind()
	if c, ok := e.(*ConstantExpr); ok && isIntKind(fk) && isIntKind(tk) {
		return foldIntConstant(c, t)
	}
	if isNumericKind(fk) && isNumericKind(tk) && widens(from, t) {
		return &ConvertExpr{Operand: e, typ: t}, true
	}
	if fk == tk && isBasicKind(fk) && from.ConvertibleTo(t) {
		return &ConvertExpr{Operand: e, typ: t}, true
	}
	return nil, false
}

// toType converts e to t, which the caller has already checked is implicit.
func toType(e Expr, t reflect.Type) Expr {
	if e.Type() == t {
		return e
	}
	return &ConvertExpr{Operand: e, typ: t}
}

func foldIntConstant(c *ConstantExpr, t reflect.Type) (Expr, bool) {
	var v int64
	if isUintKind(c.Value.Kind()) {
		u := c.Value.Uint()
		if int64(u) < 0 {
			return nil, false
		}
		v = int64(u)
	} else {
		v = c.Value.Int()
	}
	zero := reflect.Zero(t)
	if isUintKind(t.Kind()) {
		if v < 0 || zero.OverflowUint(uint64(v)) {
			return nil, false
		}
	} else if zero.OverflowInt(v) {
		return nil, false
	}
	return &ConstantExpr{Value: reflect.ValueOf(v).Convert(t), typ: t}, true
}

func widens(from, to reflect.Type) bool {
	fk, tk := from.Kind(), to.Kind()
	switch {
	case isFloatKind(tk):
		return !isFloatKind(fk) || to.Bits() >= from.Bits()
	case isIntKind(fk) && isIntKind(tk):
		if isUintKind(fk) && !isUintKind(tk) {
			return to.Bits() > from.Bits()
		}
		if !isUintKind(fk) && isUintKind(tk) {
			return false
		}
		return to.Bits() >= from.Bits()
	}
	return false
}

// findField returns an exported struct field of t, looking through pointers.
func findField(t reflect.Type, name string) (reflect.StructField, bool) {
	t = derefType(t)
	if t.Kind() != reflect.Struct {
		return reflect.StructField{}, false
	}
	f, ok := t.FieldByName(name)
	if !ok || !f.IsExported() {
		return reflect.StructField{}, false
	}
	return f, true
}

// findMethod returns an exported method of t. viaPtr is set when the method
// has a pointer receiver and t is a value type.
func findMethod(t reflect.Type, name string) (m reflect.Method, viaPtr bool, ok bool) {
	if m, ok := t.MethodByName(name); ok {
		return m, false, true
	}
	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface {
		if m, ok := reflect.PointerTo(t).MethodByName(name); ok {
			return m, true, true
		}
	}
	return reflect.Method{}, false, false
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func isNull(e Expr) bool {
	c, ok := e.(*ConstantExpr)
	return ok && c.Null
}

func isBool(e Expr) bool   { return !isNull(e) && e.Type().Kind() == reflect.Bool }
func isString(e Expr) bool { return !isNull(e) && e.Type().Kind() == reflect.String }

func isNullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func isIntKind(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Int64) || isUintKind(k)
}

func isUintKind(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumericKind(k reflect.Kind) bool {
	return isIntKind(k) || isFloatKind(k)
}

func isBasicKind(k reflect.Kind) bool {
	return k == reflect.Bool || k == reflect.String || isNumericKind(k)
}

func describeType(e Expr) string {
	if isNull(e) {
		return "null"
	}
	return e.Type().String()
}
