package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenType int

const (
	tEOF tokenType = iota
	tIdent
	tKeyword
	tNumber
	tString
	tSymbol
	tError
)

type token struct {
	Typ tokenType
	Val string
	Pos int // byte offset of the token's first character
}

var keywords = map[string]struct{}{
	"SELECT": {}, "FROM": {}, "WHERE": {}, "GROUP": {}, "ORDER": {},
	"BY": {}, "LIMIT": {}, "AND": {}, "OR": {}, "NOT": {}, "AS": {},
	"ASC": {}, "DESC": {}, "TRUE": {}, "FALSE": {}, "NULL": {},
}

// lexer tokenizes query strings one rune at a time. pos is the byte
// offset of the next rune, chPos the byte offset of the current one,
// so token positions stay byte offsets even through multi-byte input.
type lexer struct {
	input string
	pos   int
	chPos int
	ch    rune
}

func newLexer(input string) *lexer {
	l := &lexer{input: input}
	l.readChar()
	return l
}

func (l *lexer) readChar() {
	l.chPos = l.pos
	if l.pos >= len(l.input) {
		l.ch = 0
		return
	}
	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.ch = r
	l.pos += w
}

func (l *lexer) peekChar() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

func (l *lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *lexer) nextToken() token {
	l.skipWhitespace()
	start := l.chPos

	switch {
	case l.ch == 0:
		return token{Typ: tEOF, Pos: start}

	case l.ch == '\'':
		s, ok := l.readString('\'')
		if !ok {
			return token{Typ: tError, Val: "unterminated string literal", Pos: start}
		}
		return token{Typ: tString, Val: s, Pos: start}

	case unicode.IsDigit(l.ch) || (l.ch == '-' && unicode.IsDigit(l.peekChar())):
		return token{Typ: tNumber, Val: l.readNumber(), Pos: start}

	case unicode.IsLetter(l.ch) || l.ch == '_':
		word := l.readIdent()
		if _, ok := keywords[strings.ToUpper(word)]; ok {
			// keywords are case-insensitive, identifiers are not
			return token{Typ: tKeyword, Val: strings.ToUpper(word), Pos: start}
		}
		return token{Typ: tIdent, Val: word, Pos: start}

	default:
		return l.readSymbol(start)
	}
}

func (l *lexer) readString(quote rune) (string, bool) {
	var result strings.Builder
	l.readChar() // skip opening quote

	for l.ch != quote {
		if l.ch == 0 {
			return "", false
		}
		if l.ch == '\\' {
			l.readChar()
			switch l.ch {
			case 'n':
				result.WriteRune('\n')
			case 't':
				result.WriteRune('\t')
			case '\\':
				result.WriteRune('\\')
			case quote:
				result.WriteRune(quote)
			default:
				result.WriteRune(l.ch)
			}
		} else {
			result.WriteRune(l.ch)
		}
		l.readChar()
	}
	l.readChar() // skip closing quote
	return result.String(), true
}

func (l *lexer) readNumber() string {
	var result strings.Builder
	if l.ch == '-' {
		result.WriteRune(l.ch)
		l.readChar()
	}
	seenDot := false
	for unicode.IsDigit(l.ch) || (l.ch == '.' && !seenDot) {
		if l.ch == '.' {
			seenDot = true
		}
		result.WriteRune(l.ch)
		l.readChar()
	}
	return result.String()
}

func (l *lexer) readIdent() string {
	var result strings.Builder
	for unicode.IsLetter(l.ch) || unicode.IsDigit(l.ch) || l.ch == '_' {
		result.WriteRune(l.ch)
		l.readChar()
	}
	return result.String()
}

func (l *lexer) readSymbol(start int) token {
	two := string(l.ch) + string(l.peekChar())
	switch two {
	case "!=", "<=", ">=":
		l.readChar()
		l.readChar()
		return token{Typ: tSymbol, Val: two, Pos: start}
	case "<>":
		l.readChar()
		l.readChar()
		return token{Typ: tSymbol, Val: "!=", Pos: start}
	}
	switch l.ch {
	case '=', '<', '>', '(', ')', ',', '*', ';':
		s := string(l.ch)
		l.readChar()
		return token{Typ: tSymbol, Val: s, Pos: start}
	}
	bad := string(l.ch)
	l.readChar()
	return token{Typ: tError, Val: "unexpected character " + bad, Pos: start}
}
