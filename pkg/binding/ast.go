package binding

// Node is the interface for all binding expression AST nodes.
type Node interface {
	// Span returns the byte offset and length of the source text the node covers.
	Span() (start, length int)
	// Children returns the direct child nodes in source order.
	Children() []Node
	// NodeErrors returns the syntax errors attached while parsing this node.
	NodeErrors() []string
	// HasNodeErrors reports whether any syntax error is attached to this node.
	HasNodeErrors() bool

	addError(msg string)
	setSpan(start, end int)
}

// nodeBase carries the span and syntax errors shared by every node.
type nodeBase struct {
	start  int
	length int
	errors []string
}

func (n *nodeBase) Span() (int, int)     { return n.start, n.length }
func (n *nodeBase) NodeErrors() []string { return n.errors }
func (n *nodeBase) HasNodeErrors() bool  { return len(n.errors) > 0 }
func (n *nodeBase) addError(msg string)  { n.errors = append(n.errors, msg) }

func (n *nodeBase) setSpan(start, end int) {
	n.start = start
	if end < start {
		end = start
	}
	n.length = end - start
}

// LiteralNode represents a literal value (int, float, string, bool, null).
type LiteralNode struct {
	nodeBase
	Kind     TokenKind
	IntVal   int64
	FloatVal float64
	StrVal   string
	BoolVal  bool
}

func (n *LiteralNode) Children() []Node { return nil }

// IdentifierNode represents a bare name such as _this, _parent1 or Name.
type IdentifierNode struct {
	nodeBase
	Name string
}

func (n *IdentifierNode) Children() []Node { return nil }

// MemberAccessNode represents member access (e.g., Customer.Name).
type MemberAccessNode struct {
	nodeBase
	Target Node
	Member *IdentifierNode
}

func (n *MemberAccessNode) Children() []Node { return []Node{n.Target, n.Member} }

// IndexerNode represents index access (e.g., Items[0], Lookup["key"]).
type IndexerNode struct {
	nodeBase
	Target Node
	Index  Node
}

func (n *IndexerNode) Children() []Node { return []Node{n.Target, n.Index} }

// CallNode represents a method or function call (e.g., upper(Name), Items.Count()).
type CallNode struct {
	nodeBase
	Target Node
	Args   []Node
}

func (n *CallNode) Children() []Node {
	return append([]Node{n.Target}, n.Args...)
}

// BinaryNode represents a binary operation (e.g., a + b, x == y, a && b, a ?? b).
type BinaryNode struct {
	nodeBase
	Op    TokenKind
	Left  Node
	Right Node
}

func (n *BinaryNode) Children() []Node { return []Node{n.Left, n.Right} }

// UnaryNode represents a unary operation (e.g., -x, !x).
type UnaryNode struct {
	nodeBase
	Op      TokenKind
	Operand Node
}

func (n *UnaryNode) Children() []Node { return []Node{n.Operand} }

// ConditionalNode represents cond ? then : else.
type ConditionalNode struct {
	nodeBase
	Condition Node
	Then      Node
	Else      Node
}

func (n *ConditionalNode) Children() []Node { return []Node{n.Condition, n.Then, n.Else} }

// ParenthesizedNode represents (expr). It is kept in the tree so spans and
// error reporting match the source.
type ParenthesizedNode struct {
	nodeBase
	Inner Node
}

func (n *ParenthesizedNode) Children() []Node { return []Node{n.Inner} }

// EnumerateNodes returns every node of the tree rooted at root, depth-first
// in pre-order.
func EnumerateNodes(root Node) []Node {
	var nodes []Node
	var walk func(Node)
	walk = func(n Node) {
		if n == nil {
			return
		}
		nodes = append(nodes, n)
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(root)
	return nodes
}

// SourceText returns the slice of expr covered by node, clamped to expr.
func SourceText(expr string, node Node) string {
	start, length := node.Span()
	if start > len(expr) {
		return ""
	}
	end := start + length
	if end > len(expr) {
		end = len(expr)
	}
	return expr[start:end]
}
