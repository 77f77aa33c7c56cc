// Package csstoken lexes CSS `content:` property values into css-syntax
// tokens. It implements the tokenization algorithm from the CSS Syntax
// specification for the subset of inputs that appear in generated-content
// declarations: strings, idents, functions like counter() and attr(),
// url tokens are out of scope and surface as functions.
//
// Tokenization never fails: malformed input produces bad-string or delim
// tokens rather than errors.
package csstoken

import "fmt"

// Type discriminates lexed tokens.
type Type int

const (
	Whitespace Type = iota
	String
	BadString
	Hash
	Delim
	Number
	Percentage
	Dimension
	Ident
	Function
	AtKeyword
	OpenBracket  // [
	CloseBracket // ]
	OpenParen    // (
	CloseParen   // )
	OpenBrace    // {
	CloseBrace   // }
	Comma
	Colon
	Semicolon
	CDO // <!--
	CDC // -->
	EOF
)

func (t Type) String() string {
	switch t {
	case Whitespace:
		return "whitespace"
	case String:
		return "string"
	case BadString:
		return "bad-string"
	case Hash:
		return "hash"
	case Delim:
		return "delim"
	case Number:
		return "number"
	case Percentage:
		return "percentage"
	case Dimension:
		return "dimension"
	case Ident:
		return "ident"
	case Function:
		return "function"
	case AtKeyword:
		return "at-keyword"
	case OpenBracket:
		return "["
	case CloseBracket:
		return "]"
	case OpenParen:
		return "("
	case CloseParen:
		return ")"
	case OpenBrace:
		return "{"
	case CloseBrace:
		return "}"
	case Comma:
		return "comma"
	case Colon:
		return "colon"
	case Semicolon:
		return "semicolon"
	case CDO:
		return "CDO"
	case CDC:
		return "CDC"
	case EOF:
		return "EOF"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Token is one lexed unit. Value holds the decoded text for string, ident,
// function, hash and at-keyword tokens (escapes resolved). Numeric tokens
// carry Numeric and, for dimensions, Unit.
type Token struct {
	Type    Type
	Value   string
	Numeric float64
	// IsInteger reports whether a numeric token had integer syntax.
	IsInteger bool
	// Unit is the dimension unit (e.g. "px") for Dimension tokens.
	Unit string
	// IDHash reports whether a Hash token is a valid id selector hash.
	IDHash bool
	// Delim holds the codepoint for Delim tokens.
	Delim rune
}

func (t Token) String() string {
	switch t.Type {
	case String:
		return fmt.Sprintf("string(%q)", t.Value)
	case Ident:
		return fmt.Sprintf("ident(%s)", t.Value)
	case Function:
		return fmt.Sprintf("function(%s)", t.Value)
	case Number:
		return fmt.Sprintf("number(%v)", t.Numeric)
	case Dimension:
		return fmt.Sprintf("dimension(%v%s)", t.Numeric, t.Unit)
	case Delim:
		return fmt.Sprintf("delim(%c)", t.Delim)
	default:
		return t.Type.String()
	}
}
