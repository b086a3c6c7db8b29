// Package binding implements the tokenizer and parser for binding expressions,
// the small expression language used inside markup attributes such as
// {value: _parent.Customer.Name}.
package binding

// TokenKind represents the kind of a lexical token.
type TokenKind int

const (
	// Literals
	TokenInt    TokenKind = iota // integer literal
	TokenFloat                   // float literal
	TokenString                  // string literal
	TokenTrue                    // true
	TokenFalse                   // false
	TokenNull                    // null

	TokenIdent // identifier

	// Punctuation
	TokenDot      // .
	TokenComma    // ,
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenQuestion // ?
	TokenColon    // :

	// Arithmetic
	TokenPlus    // +
	TokenMinus   // -
	TokenStar    // *
	TokenSlash   // /
	TokenPercent // %

	// Comparison
	TokenEq  // ==
	TokenNeq // !=
	TokenLt  // <
	TokenGt  // >
	TokenLte // <=
	TokenGte // >=

	// Logical
	TokenAnd      // &&
	TokenOr       // ||
	TokenNot      // !
	TokenCoalesce // ??

	// Special
	TokenUnknown // unclassifiable input
	TokenEOF     // end of expression
)

var tokenKindNames = [...]string{
	TokenInt:      "INT",
	TokenFloat:    "FLOAT",
	TokenString:   "STRING",
	TokenTrue:     "TRUE",
	TokenFalse:    "FALSE",
	TokenNull:     "NULL",
	TokenIdent:    "IDENT",
	TokenDot:      "DOT",
	TokenComma:    "COMMA",
	TokenLParen:   "LPAREN",
	TokenRParen:   "RPAREN",
	TokenLBracket: "LBRACKET",
	TokenRBracket: "RBRACKET",
	TokenQuestion: "QUESTION",
	TokenColon:    "COLON",
	TokenPlus:     "PLUS",
	TokenMinus:    "MINUS",
	TokenStar:     "STAR",
	TokenSlash:    "SLASH",
	TokenPercent:  "PERCENT",
	TokenEq:       "EQ",
	TokenNeq:      "NEQ",
	TokenLt:       "LT",
	TokenGt:       "GT",
	TokenLte:      "LTE",
	TokenGte:      "GTE",
	TokenAnd:      "AND",
	TokenOr:       "OR",
	TokenNot:      "NOT",
	TokenCoalesce: "COALESCE",
	TokenUnknown:  "UNKNOWN",
	TokenEOF:      "EOF",
}

// String returns a debug-friendly representation of the token kind.
func (k TokenKind) String() string {
	if k >= 0 && int(k) < len(tokenKindNames) && tokenKindNames[k] != "" {
		return tokenKindNames[k]
	}
	return "UNKNOWN"
}

// Token is a single lexical token. Start and Length are byte offsets into
// the source expression.
type Token struct {
	Kind   TokenKind
	Text   string // raw source text of the token
	Value  string // decoded string literal value (TokenString only)
	Start  int
	Length int
	Error  string // lexical error, empty when the token is well-formed
}

// End returns the offset just past the token.
func (t Token) End() int {
	return t.Start + t.Length
}

// HasError reports whether the tokenizer flagged this token as malformed.
func (t Token) HasError() bool {
	return t.Error != ""
}
