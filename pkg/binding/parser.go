package binding

import (
	"fmt"
	"strconv"
)

// maxDepth bounds the nesting of the syntax tree. Every recursive descent
// and every link of an operator or postfix chain counts as one level.
const maxDepth = 256

// Parser is a recursive descent parser for binding expressions. It does not
// return errors: malformed constructs still produce nodes, with the problem
// attached as a node error, so every diagnostic can be reported with a span.
type Parser struct {
	tokens   []Token
	pos      int
	depth    int
	exceeded bool
}

// NewParser creates a parser over a token stream produced by Tokenize.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// ParseTokens reads a single expression and reports whether the whole token
// stream was consumed.
func ParseTokens(tokens []Token) (Node, bool) {
	p := NewParser(tokens)
	node := p.ReadExpression()
	return node, p.OnEnd()
}

// ReadExpression parses one expression starting at the current token.
//
// Precedence (low to high):
//
//	?:  (right associative)
//	??  (right associative)
//	||
//	&&
//	==, !=
//	<, >, <=, >=
//	+, -
//	*, /, %
//	unary !, unary -
//	member access, indexer, call
func (p *Parser) ReadExpression() Node {
	return p.readConditional()
}

// OnEnd reports whether all tokens up to EOF have been consumed.
func (p *Parser) OnEnd() bool {
	return p.current().Kind == TokenEOF
}

// Peek returns the current token without consuming it.
func (p *Parser) Peek() Token {
	return p.current()
}

// current returns the current token.
func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		end := 0
		if len(p.tokens) > 0 {
			end = p.tokens[len(p.tokens)-1].End()
		}
		return Token{Kind: TokenEOF, Start: end}
	}
	return p.tokens[p.pos]
}

// advance consumes the current token and returns it.
func (p *Parser) advance() Token {
	tok := p.current()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// enter adds a nesting level and reports whether it is within maxDepth.
// Callers undo it with a deferred restore.
func (p *Parser) enter() bool {
	p.depth++
	return p.depth <= maxDepth
}

func (p *Parser) restore(depth int) {
	p.depth = depth
}

// tooDeep reports the nesting error once, on n or on an empty node at the
// current token, and skips the remaining input so that every enclosing level
// unwinds without reading further.
func (p *Parser) tooDeep(n Node) Node {
	if n == nil {
		tok := p.current()
		id := &IdentifierNode{}
		id.setSpan(tok.Start, tok.Start)
		n = id
	}
	if !p.exceeded {
		n.addError(fmt.Sprintf("expression nested too deeply (more than %d levels)", maxDepth))
		p.exceeded = true
	}
	p.pos = len(p.tokens)
	return n
}

// expect consumes a token of the given kind and returns its end offset, or
// attaches an error to node when it is missing and returns fallback. Nothing
// is consumed in the error case.
func (p *Parser) expect(kind TokenKind, text string, node Node, fallback int) int {
	tok := p.current()
	if tok.Kind != kind {
		if !p.exceeded {
			node.addError(fmt.Sprintf("expected '%s' but found %s", text, describe(tok)))
		}
		return fallback
	}
	return p.advance().End()
}

func (p *Parser) readConditional() Node {
	defer p.restore(p.depth)
	if p.exceeded || !p.enter() {
		return p.tooDeep(nil)
	}

	cond := p.readCoalesce()
	if p.current().Kind != TokenQuestion {
		return cond
	}
	p.advance()

	n := &ConditionalNode{Condition: cond}
	n.Then = p.readConditional()
	p.expect(TokenColon, ":", n, end(n.Then))
	n.Else = p.readConditional()
	spanBetween(n, cond, n.Else)
	return n
}

func (p *Parser) readCoalesce() Node {
	left := p.readOr()
	if p.current().Kind != TokenCoalesce {
		return left
	}
	defer p.restore(p.depth)
	if !p.enter() {
		return p.tooDeep(left)
	}
	p.advance()
	right := p.readCoalesce()
	return binary(TokenCoalesce, left, right)
}

func (p *Parser) readOr() Node {
	left := p.readAnd()
	defer p.restore(p.depth)
	for p.current().Kind == TokenOr {
		if !p.enter() {
			return p.tooDeep(left)
		}
		p.advance()
		left = binary(TokenOr, left, p.readAnd())
	}
	return left
}

func (p *Parser) readAnd() Node {
	left := p.readEquality()
	defer p.restore(p.depth)
	for p.current().Kind == TokenAnd {
		if !p.enter() {
			return p.tooDeep(left)
		}
		p.advance()
		left = binary(TokenAnd, left, p.readEquality())
	}
	return left
}

func (p *Parser) readEquality() Node {
	left := p.readRelational()
	defer p.restore(p.depth)
	for p.current().Kind == TokenEq || p.current().Kind == TokenNeq {
		if !p.enter() {
			return p.tooDeep(left)
		}
		op := p.advance().Kind
		left = binary(op, left, p.readRelational())
	}
	return left
}

func (p *Parser) readRelational() Node {
	left := p.readAdditive()
	defer p.restore(p.depth)
	for {
		switch p.current().Kind {
		case TokenLt, TokenGt, TokenLte, TokenGte:
			if !p.enter() {
				return p.tooDeep(left)
			}
			op := p.advance().Kind
			left = binary(op, left, p.readAdditive())
		default:
			return left
		}
	}
}

func (p *Parser) readAdditive() Node {
	left := p.readMultiplicative()
	defer p.restore(p.depth)
	for p.current().Kind == TokenPlus || p.current().Kind == TokenMinus {
		if !p.enter() {
			return p.tooDeep(left)
		}
		op := p.advance().Kind
		left = binary(op, left, p.readMultiplicative())
	}
	return left
}

func (p *Parser) readMultiplicative() Node {
	left := p.readUnary()
	defer p.restore(p.depth)
	for p.current().Kind == TokenStar || p.current().Kind == TokenSlash ||
		p.current().Kind == TokenPercent {
		if !p.enter() {
			return p.tooDeep(left)
		}
		op := p.advance().Kind
		left = binary(op, left, p.readUnary())
	}
	return left
}

func (p *Parser) readUnary() Node {
	tok := p.current()
	if tok.Kind == TokenNot || tok.Kind == TokenMinus {
		defer p.restore(p.depth)
		if !p.enter() {
			return p.tooDeep(nil)
		}
		p.advance()
		operand := p.readUnary()
		n := &UnaryNode{Op: tok.Kind, Operand: operand}
		n.setSpan(tok.Start, end(operand))
		return n
	}
	return p.readPostfix()
}

func (p *Parser) readPostfix() Node {
	node := p.readPrimary()

	defer p.restore(p.depth)
	for {
		switch p.current().Kind {
		case TokenDot, TokenLBracket, TokenLParen:
			if !p.enter() {
				return p.tooDeep(node)
			}
		}
		switch p.current().Kind {
		case TokenDot:
			dot := p.advance()
			n := &MemberAccessNode{Target: node}
			tok := p.current()
			if tok.Kind == TokenIdent {
				p.advance()
				n.Member = identifier(tok)
			} else {
				n.Member = &IdentifierNode{}
				n.Member.setSpan(dot.End(), dot.End())
				n.addError(fmt.Sprintf("expected member name after '.' but found %s", describe(tok)))
			}
			spanBetween(n, node, n.Member)
			node = n
		case TokenLBracket:
			p.advance()
			n := &IndexerNode{Target: node}
			n.Index = p.readConditional()
			n.setSpan(start(node), p.expect(TokenRBracket, "]", n, end(n.Index)))
			node = n
		case TokenLParen:
			p.advance()
			n := &CallNode{Target: node}
			closing := p.readArguments(n)
			n.setSpan(start(node), closing)
			node = n
		default:
			return node
		}
	}
}

// readArguments parses a call's argument list after the opening parenthesis
// and returns the end offset of the call.
func (p *Parser) readArguments(n *CallNode) int {
	if p.current().Kind == TokenRParen {
		return p.advance().End()
	}
	for {
		arg := p.readConditional()
		n.Args = append(n.Args, arg)
		switch p.current().Kind {
		case TokenComma:
			p.advance()
		case TokenRParen:
			return p.advance().End()
		default:
			if !p.exceeded {
				n.addError(fmt.Sprintf("expected ',' or ')' but found %s", describe(p.current())))
			}
			return end(arg)
		}
	}
}

func (p *Parser) readPrimary() Node {
	tok := p.current()

	switch tok.Kind {
	case TokenInt:
		p.advance()
		n := &LiteralNode{Kind: TokenInt}
		n.setSpan(tok.Start, tok.End())
		v, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			n.addError(fmt.Sprintf("invalid integer literal '%s'", tok.Text))
		}
		n.IntVal = v
		return n
	case TokenFloat:
		p.advance()
		n := &LiteralNode{Kind: TokenFloat}
		n.setSpan(tok.Start, tok.End())
		v, err := strconv.ParseFloat(tok.Text, 64)
		if err != nil {
			n.addError(fmt.Sprintf("invalid float literal '%s'", tok.Text))
		}
		n.FloatVal = v
		return n
	case TokenString:
		p.advance()
		n := &LiteralNode{Kind: TokenString, StrVal: tok.Value}
		n.setSpan(tok.Start, tok.End())
		if tok.HasError() {
			n.addError(tok.Error)
		}
		return n
	case TokenTrue, TokenFalse:
		p.advance()
		n := &LiteralNode{Kind: tok.Kind, BoolVal: tok.Kind == TokenTrue}
		n.setSpan(tok.Start, tok.End())
		return n
	case TokenNull:
		p.advance()
		n := &LiteralNode{Kind: TokenNull}
		n.setSpan(tok.Start, tok.End())
		return n
	case TokenIdent:
		p.advance()
		return identifier(tok)
	case TokenLParen:
		p.advance()
		n := &ParenthesizedNode{}
		n.Inner = p.readConditional()
		n.setSpan(tok.Start, p.expect(TokenRParen, ")", n, end(n.Inner)))
		return n
	case TokenUnknown:
		p.advance()
		n := &IdentifierNode{Name: tok.Text}
		n.setSpan(tok.Start, tok.End())
		n.addError(tok.Error)
		return n
	default:
		// Missing operand: leave the token for the caller and report here.
		n := &IdentifierNode{}
		n.setSpan(tok.Start, tok.Start)
		n.addError(fmt.Sprintf("expected an expression but found %s", describe(tok)))
		return n
	}
}

func identifier(tok Token) *IdentifierNode {
	n := &IdentifierNode{Name: tok.Text}
	n.setSpan(tok.Start, tok.End())
	return n
}

func binary(op TokenKind, left, right Node) Node {
	n := &BinaryNode{Op: op, Left: left, Right: right}
	spanBetween(n, left, right)
	return n
}

func spanBetween(n, first, last Node) {
	n.setSpan(start(first), end(last))
}

func start(n Node) int {
	s, _ := n.Span()
	return s
}

func end(n Node) int {
	s, l := n.Span()
	return s + l
}

func describe(tok Token) string {
	if tok.Kind == TokenEOF {
		return "end of expression"
	}
	return fmt.Sprintf("'%s'", tok.Text)
}
