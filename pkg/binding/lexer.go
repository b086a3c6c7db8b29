package binding

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes a binding expression. It never fails: malformed input is
// reported through Token.Error and left for the parser to escalate.
type Lexer struct {
	input  string
	pos    int
	tokens []Token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize is shorthand for NewLexer(input).Tokenize().
func Tokenize(input string) []Token {
	return NewLexer(input).Tokenize()
}

// Tokenize scans the entire input and returns all tokens. The last token is
// always TokenEOF positioned at len(input).
func (l *Lexer) Tokenize() []Token {
	if l.tokens != nil {
		return l.tokens
	}
	for {
		tok := l.next()
		l.tokens = append(l.tokens, tok)
		if tok.Kind == TokenEOF {
			break
		}
	}
	return l.tokens
}

var twoCharOperators = map[string]TokenKind{
	"==": TokenEq,
	"!=": TokenNeq,
	"<=": TokenLte,
	">=": TokenGte,
	"&&": TokenAnd,
	"||": TokenOr,
	"??": TokenCoalesce,
}

var oneCharOperators = map[byte]TokenKind{
	'+': TokenPlus,
	'-': TokenMinus,
	'*': TokenStar,
	'/': TokenSlash,
	'%': TokenPercent,
	'<': TokenLt,
	'>': TokenGt,
	'!': TokenNot,
	'?': TokenQuestion,
	':': TokenColon,
	'.': TokenDot,
	',': TokenComma,
	'(': TokenLParen,
	')': TokenRParen,
	'[': TokenLBracket,
	']': TokenRBracket,
}

// next returns the next token from the input.
func (l *Lexer) next() Token {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Kind: TokenEOF, Start: l.pos}
	}

	ch := l.input[l.pos]

	if ch == '"' || ch == '\'' {
		return l.readString(ch)
	}

	if isDigit(ch) {
		return l.readNumber()
	}

	if l.pos+1 < len(l.input) {
		if kind, ok := twoCharOperators[l.input[l.pos:l.pos+2]]; ok {
			return l.emit(kind, l.pos, 2)
		}
	}

	if kind, ok := oneCharOperators[ch]; ok {
		return l.emit(kind, l.pos, 1)
	}

	if isIdentStart(ch) {
		return l.readIdentifier()
	}

	// Consume one whole rune so multi-byte input yields a single token.
	_, size := utf8.DecodeRuneInString(l.input[l.pos:])
	tok := l.emit(TokenUnknown, l.pos, size)
	tok.Error = fmt.Sprintf("unexpected character %q at position %d", tok.Text, tok.Start)
	return tok
}

func (l *Lexer) emit(kind TokenKind, start, length int) Token {
	l.pos = start + length
	return Token{Kind: kind, Text: l.input[start : start+length], Start: start, Length: length}
}

// readString reads a quoted string literal. An unterminated literal runs to
// the end of the input and is flagged.
func (l *Lexer) readString(quote byte) Token {
	start := l.pos
	l.pos++ // skip opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '\\' && l.pos+1 < len(l.input) {
			l.pos++
			escaped := l.input[l.pos]
			switch escaped {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\':
				sb.WriteByte('\\')
			case '"':
				sb.WriteByte('"')
			case '\'':
				sb.WriteByte('\'')
			default:
				sb.WriteByte('\\')
				sb.WriteByte(escaped)
			}
			l.pos++
			continue
		}
		if ch == quote {
			l.pos++ // skip closing quote
			return Token{
				Kind:   TokenString,
				Text:   l.input[start:l.pos],
				Value:  sb.String(),
				Start:  start,
				Length: l.pos - start,
			}
		}
		sb.WriteByte(ch)
		l.pos++
	}

	// A trailing lone backslash is kept verbatim.
	l.pos = len(l.input)
	return Token{
		Kind:   TokenString,
		Text:   l.input[start:],
		Value:  sb.String(),
		Start:  start,
		Length: l.pos - start,
		Error:  fmt.Sprintf("unterminated string starting at position %d", start),
	}
}

// readNumber reads an integer or float literal. Value conversion happens in
// the parser so range errors attach to the literal node.
func (l *Lexer) readNumber() Token {
	start := l.pos
	kind := TokenInt

	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	// A dot is a decimal point only when a digit follows; 1.ToString is member access.
	if l.pos+1 < len(l.input) && l.input[l.pos] == '.' && isDigit(l.input[l.pos+1]) {
		kind = TokenFloat
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.input) && (l.input[l.pos] == 'e' || l.input[l.pos] == 'E') {
		exp := l.pos + 1
		if exp < len(l.input) && (l.input[exp] == '+' || l.input[exp] == '-') {
			exp++
		}
		if exp < len(l.input) && isDigit(l.input[exp]) {
			kind = TokenFloat
			l.pos = exp
			for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
				l.pos++
			}
		}
	}

	return Token{Kind: kind, Text: l.input[start:l.pos], Start: start, Length: l.pos - start}
}

// readIdentifier reads an identifier or keyword.
func (l *Lexer) readIdentifier() Token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}

	tok := Token{Kind: TokenIdent, Text: l.input[start:l.pos], Start: start, Length: l.pos - start}
	switch tok.Text {
	case "true":
		tok.Kind = TokenTrue
	case "false":
		tok.Kind = TokenFalse
	case "null":
		tok.Kind = TokenNull
	}
	return tok
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch)
}
