package lex

import (
	"strings"
)

type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func New(input string) *Lexer {
	l := &Lexer{
		input:   input,
		pos:     0,
		readPos: 0,
		ch:      0,
	}
	l.readChar()
	return l
}

func (l *Lexer) NextToken() Token {
	l.skipWhiteSpaces()

	switch l.ch {
	case ',':
		return l.single(COMMA)
	case '*':
		return l.single(ASTERISK)
	case '(':
		return l.single(OPENROUNDED)
	case ')':
		return l.single(CLOSEDROUNDED)
	case ';':
		return l.single(SEMICOLON)
	case '=':
		return l.single(EQUAL)
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return Token{Kind: LESSEQUAL, Value: "<="}
		}
		return l.single(LESS)
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return Token{Kind: GREATEREQUAL, Value: ">="}
		}
		return l.single(GREATER)
	case '"', '\'':
		str, ok := l.readString(l.ch)
		if !ok {
			return Token{Kind: INVALID, Value: str}
		}
		return Token{Kind: STRING, Value: str}
	case 0:
		return Token{Kind: END, Value: ""}
	default:
		if isLetter(l.ch) {
			str := l.keyIdentLookup() // str could be a keyword or an identifier
			return Token{Kind: KeyIdentKind(str), Value: str}
		} else if isNumber(l.ch) || ((l.ch == '-' || l.ch == '.') && (isNumber(l.peekChar()) || l.peekChar() == '.')) {
			return Token{Kind: NUMBER, Value: l.readNumber()}
		}
		return l.single(INVALID)
	}
}

func (l *Lexer) single(kind TokenKind) Token {
	tok := Token{Kind: kind, Value: string(l.ch)}
	l.readChar()
	return tok
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) skipWhiteSpaces() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func isLetter(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z') || ch == '_'
}

func isNumber(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func (l *Lexer) keyIdentLookup() string {
	start := l.pos
	for isLetter(l.ch) || isNumber(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads an optionally signed decimal with at most one dot and an optional exponent.
func (l *Lexer) readNumber() string {
	start := l.pos
	if l.ch == '-' {
		l.readChar()
	}
	seenDot := false
	for isNumber(l.ch) || (l.ch == '.' && !seenDot) {
		if l.ch == '.' {
			seenDot = true
		}
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isNumber(next) || next == '-' || next == '+' {
			l.readChar()
			if l.ch == '-' || l.ch == '+' {
				l.readChar()
			}
			for isNumber(l.ch) {
				l.readChar()
			}
		}
	}
	return l.input[start:l.pos]
}

// readString reads a string closed by quote. A doubled quote stands for one quote character.
func (l *Lexer) readString(quote byte) (string, bool) {
	l.readChar() // opening quote
	var sb strings.Builder
	for {
		switch l.ch {
		case 0:
			return sb.String(), false
		case quote:
			l.readChar()
			if l.ch != quote {
				return sb.String(), true
			}
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
}

func KeyIdentKind(str string) TokenKind {
	if kind, ok := keywords[strings.ToUpper(str)]; ok {
		return kind
	}
	return IDENT
}
