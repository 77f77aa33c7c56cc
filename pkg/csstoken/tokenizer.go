package csstoken

import (
	"math"
	"strings"
	"unicode"
)

const replacement = '�'

// Tokenize lexes source into a token stream. The returned slice always ends
// with an EOF token. Tokenize never panics on malformed input.
func Tokenize(source string) []Token {
	t := &tokenizer{input: preprocess(source)}
	var tokens []Token
	for {
		tok := t.next()
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens
		}
	}
}

// preprocess applies the css-syntax input stream rules: newline
// normalization, NUL substitution, and surrogate substitution.
func preprocess(source string) []rune {
	out := make([]rune, 0, len(source))
	runes := []rune(source)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\r':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			out = append(out, '\n')
		case c == '\f':
			out = append(out, '\n')
		case c == 0, c >= 0xD800 && c <= 0xDFFF:
			out = append(out, replacement)
		default:
			out = append(out, c)
		}
	}
	return out
}

type tokenizer struct {
	input []rune
	pos   int
}

func (t *tokenizer) peek(offset int) rune {
	i := t.pos + offset
	if i >= len(t.input) {
		return -1
	}
	return t.input[i]
}

func (t *tokenizer) consume() rune {
	c := t.peek(0)
	if c != -1 {
		t.pos++
	}
	return c
}

func (t *tokenizer) next() Token {
	t.skipComments()

	c := t.consume()
	switch {
	case c == -1:
		return Token{Type: EOF}
	case isWhitespace(c):
		for isWhitespace(t.peek(0)) {
			t.consume()
		}
		return Token{Type: Whitespace}
	case c == '"' || c == '\'':
		return t.consumeString(c)
	case c == '#':
		if isNameRune(t.peek(0)) || t.validEscapeAhead(0) {
			tok := Token{Type: Hash, IDHash: t.wouldStartIdent(0)}
			tok.Value = t.consumeName()
			return tok
		}
		return Token{Type: Delim, Delim: c}
	case c == '(':
		return Token{Type: OpenParen}
	case c == ')':
		return Token{Type: CloseParen}
	case c == '[':
		return Token{Type: OpenBracket}
	case c == ']':
		return Token{Type: CloseBracket}
	case c == '{':
		return Token{Type: OpenBrace}
	case c == '}':
		return Token{Type: CloseBrace}
	case c == ',':
		return Token{Type: Comma}
	case c == ':':
		return Token{Type: Colon}
	case c == ';':
		return Token{Type: Semicolon}
	case c == '+' || c == '.':
		if t.startsNumberAfter(c) {
			t.pos--
			return t.consumeNumeric()
		}
		return Token{Type: Delim, Delim: c}
	case c == '-':
		if t.startsNumberAfter(c) {
			t.pos--
			return t.consumeNumeric()
		}
		if t.peek(0) == '-' && t.peek(1) == '>' {
			t.pos += 2
			return Token{Type: CDC}
		}
		if t.wouldStartIdent(-1) {
			t.pos--
			return t.consumeIdentLike()
		}
		return Token{Type: Delim, Delim: c}
	case c == '<':
		if t.peek(0) == '!' && t.peek(1) == '-' && t.peek(2) == '-' {
			t.pos += 3
			return Token{Type: CDO}
		}
		return Token{Type: Delim, Delim: c}
	case c == '@':
		if t.wouldStartIdent(0) {
			return Token{Type: AtKeyword, Value: t.consumeName()}
		}
		return Token{Type: Delim, Delim: c}
	case c == '\\':
		if t.peek(0) != '\n' && t.peek(0) != -1 {
			t.pos--
			return t.consumeIdentLike()
		}
		return Token{Type: Delim, Delim: c}
	case isDigit(c):
		t.pos--
		return t.consumeNumeric()
	case isNameStart(c):
		t.pos--
		return t.consumeIdentLike()
	default:
		return Token{Type: Delim, Delim: c}
	}
}

// skipComments discards /* ... */ runs, including an unterminated trailing
// comment.
func (t *tokenizer) skipComments() {
	for t.peek(0) == '/' && t.peek(1) == '*' {
		t.pos += 2
		for {
			c := t.consume()
			if c == -1 {
				return
			}
			if c == '*' && t.peek(0) == '/' {
				t.pos++
				break
			}
		}
	}
}

// consumeString lexes a string token; quote is the opening quote already
// consumed. An unescaped newline or EOF before the closing quote yields a
// bad-string token carrying the content read so far.
func (t *tokenizer) consumeString(quote rune) Token {
	var b strings.Builder
	for {
		c := t.peek(0)
		switch {
		case c == -1:
			return Token{Type: BadString, Value: b.String()}
		case c == quote:
			t.pos++
			return Token{Type: String, Value: b.String()}
		case c == '\n':
			// Do not consume the newline: it terminates the bad string.
			return Token{Type: BadString, Value: b.String()}
		case c == '\\':
			t.pos++
			next := t.peek(0)
			if next == -1 {
				return Token{Type: BadString, Value: b.String()}
			}
			if next == '\n' {
				t.pos++ // escaped newline: line continuation
				continue
			}
			b.WriteRune(t.consumeEscape())
		default:
			t.pos++
			b.WriteRune(c)
		}
	}
}

// consumeEscape decodes the codepoint after a backslash. The backslash has
// been consumed and the next rune is known to be a valid escape start.
func (t *tokenizer) consumeEscape() rune {
	c := t.consume()
	if !isHexDigit(c) {
		if c == -1 {
			return replacement
		}
		return c
	}
	value := hexValue(c)
	for i := 0; i < 5 && isHexDigit(t.peek(0)); i++ {
		value = value*16 + hexValue(t.consume())
	}
	// A single whitespace after the hex digits is part of the escape.
	if isWhitespace(t.peek(0)) {
		t.consume()
	}
	if value == 0 || value > unicode.MaxRune || (value >= 0xD800 && value <= 0xDFFF) {
		return replacement
	}
	return rune(value)
}

// validEscapeAhead reports whether the runes at offset start a valid escape.
func (t *tokenizer) validEscapeAhead(offset int) bool {
	return t.peek(offset) == '\\' && t.peek(offset+1) != '\n' && t.peek(offset+1) != -1
}

// wouldStartIdent reports whether the runes at offset begin an identifier.
func (t *tokenizer) wouldStartIdent(offset int) bool {
	switch c := t.peek(offset); {
	case c == '-':
		next := t.peek(offset + 1)
		return isNameStart(next) || next == '-' || t.validEscapeAhead(offset+1)
	case isNameStart(c):
		return true
	case c == '\\':
		return t.validEscapeAhead(offset)
	default:
		return false
	}
}

// startsNumberAfter reports whether first (already consumed) followed by the
// upcoming runes forms a number.
func (t *tokenizer) startsNumberAfter(first rune) bool {
	switch first {
	case '+', '-':
		if isDigit(t.peek(0)) {
			return true
		}
		return t.peek(0) == '.' && isDigit(t.peek(1))
	case '.':
		return isDigit(t.peek(0))
	default:
		return isDigit(first)
	}
}

// consumeName reads a name, resolving escapes.
func (t *tokenizer) consumeName() string {
	var b strings.Builder
	for {
		c := t.peek(0)
		switch {
		case isNameRune(c):
			t.pos++
			b.WriteRune(c)
		case t.validEscapeAhead(0):
			t.pos++
			b.WriteRune(t.consumeEscape())
		default:
			return b.String()
		}
	}
}

// consumeNumeric lexes number, percentage, or dimension tokens.
func (t *tokenizer) consumeNumeric() Token {
	value, isInt := t.consumeNumber()
	switch {
	case t.wouldStartIdent(0):
		return Token{Type: Dimension, Numeric: value, IsInteger: isInt, Unit: t.consumeName()}
	case t.peek(0) == '%':
		t.pos++
		return Token{Type: Percentage, Numeric: value, IsInteger: isInt}
	default:
		return Token{Type: Number, Numeric: value, IsInteger: isInt}
	}
}

// consumeNumber reads the numeric value and reports integer syntax.
func (t *tokenizer) consumeNumber() (float64, bool) {
	isInt := true
	sign := 1.0
	if c := t.peek(0); c == '+' || c == '-' {
		t.pos++
		if c == '-' {
			sign = -1
		}
	}
	var intPart float64
	for isDigit(t.peek(0)) {
		intPart = intPart*10 + float64(t.consume()-'0')
	}
	var fracPart float64
	if t.peek(0) == '.' && isDigit(t.peek(1)) {
		isInt = false
		t.pos++
		scale := 0.1
		for isDigit(t.peek(0)) {
			fracPart += float64(t.consume()-'0') * scale
			scale /= 10
		}
	}
	value := sign * (intPart + fracPart)
	if c := t.peek(0); c == 'e' || c == 'E' {
		offset := 1
		if s := t.peek(1); s == '+' || s == '-' {
			offset = 2
		}
		if isDigit(t.peek(offset)) {
			isInt = false
			t.pos++
			expSign := 1.0
			if s := t.peek(0); s == '+' || s == '-' {
				t.pos++
				if s == '-' {
					expSign = -1
				}
			}
			var exp float64
			for isDigit(t.peek(0)) {
				exp = exp*10 + float64(t.consume()-'0')
			}
			value *= math.Pow(10, expSign*exp)
		}
	}
	return value, isInt
}

// consumeIdentLike lexes ident or function tokens.
func (t *tokenizer) consumeIdentLike() Token {
	name := t.consumeName()
	if t.peek(0) == '(' {
		t.pos++
		return Token{Type: Function, Value: name}
	}
	return Token{Type: Ident, Value: name}
}

func isWhitespace(c rune) bool {
	return c == ' ' || c == '\t' || c == '\n'
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c rune) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexValue(c rune) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return int(c-'A') + 10
	}
}

func isNameStart(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c >= 0x80
}

func isNameRune(c rune) bool {
	return isNameStart(c) || isDigit(c) || c == '-'
}

// StringValues returns the decoded values of all string tokens in source,
// in order. It is the common consumer for `content:` declarations, where the
// rendered generated text is the concatenation of the string components.
func StringValues(source string) []string {
	var values []string
	for _, tok := range Tokenize(source) {
		if tok.Type == String {
			values = append(values, tok.Value)
		}
	}
	return values
}
