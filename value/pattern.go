package value

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Token is one position of a Pattern: a literal byte or a wildcard.
type Token struct {
	Byte byte
	Wild bool
}

// Any is the wildcard token.
var Any = Token{Wild: true}

// Lit returns a literal token.
func Lit(b byte) Token { return Token{Byte: b} }

func (t Token) String() string {
	if t.Wild {
		return "??"
	}
	return fmt.Sprintf("%02X", t.Byte)
}

// Pattern is an ordered array-of-bytes (AOB) with wildcard positions.
//
// A Pattern always contains at least one literal token. It is immutable.
type Pattern struct {
	tokens   []Token
	anchor   int
	literals int
}

// NewPattern builds a pattern from tokens. An empty or all-wildcard token
// list is rejected with ErrInvalidValue.
func NewPattern(tokens []Token) (*Pattern, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidValue)
	}
	p := &Pattern{tokens: make([]Token, len(tokens))}
	for i, t := range tokens {
		if t.Wild {
			t.Byte = 0
		} else {
			p.literals++
		}
		p.tokens[i] = t
	}
	if p.literals == 0 {
		return nil, fmt.Errorf("%w: pattern has no literal byte", ErrInvalidValue)
	}
	p.anchor = chooseAnchor(p.tokens)
	return p, nil
}

// Literal builds a wildcard-free pattern from raw bytes.
func Literal(b []byte) *Pattern {
	tokens := make([]Token, len(b))
	for i, c := range b {
		tokens[i] = Token{Byte: c}
	}
	p, err := NewPattern(tokens)
	if err != nil {
		return nil
	}
	return p
}

// ParsePattern parses a whitespace separated token list such as
// "48 8B ?? 05". Each token is two hex digits or a wildcard ("??" or "?").
func ParsePattern(text string) (*Pattern, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidValue)
	}
	tokens := make([]Token, 0, len(fields))
	for _, f := range fields {
		if f == "??" || f == "?" || f == "**" || f == "*" {
			tokens = append(tokens, Any)
			continue
		}
		if len(f) != 2 {
			return nil, fmt.Errorf("%w: bad pattern token %q", ErrInvalidValue, f)
		}
		b, err := hex.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("%w: bad pattern token %q", ErrInvalidValue, f)
		}
		tokens = append(tokens, Lit(b[0]))
	}
	return NewPattern(tokens)
}

// chooseAnchor picks the most distinctive literal: the first literal outside
// {00, FF, 01}, else the first non-zero literal, else the last literal.
func chooseAnchor(tokens []Token) int {
	first := -1
	for i, t := range tokens {
		if t.Wild {
			continue
		}
		switch t.Byte {
		case 0x00, 0xFF, 0x01:
			if first < 0 && t.Byte != 0x00 {
				first = i
			}
			continue
		}
		return i
	}
	if first >= 0 {
		return first
	}
	for i := len(tokens) - 1; i >= 0; i-- {
		if !tokens[i].Wild {
			return i
		}
	}
	return 0
}

// Len returns the number of tokens.
func (p *Pattern) Len() int { return len(p.tokens) }

// Literals returns the number of literal tokens.
func (p *Pattern) Literals() int { return p.literals }

// Anchor returns the index of the anchor token.
func (p *Pattern) Anchor() int { return p.anchor }

// AnchorByte returns the literal byte at the anchor index.
func (p *Pattern) AnchorByte() byte { return p.tokens[p.anchor].Byte }

// Token returns the token at index i.
func (p *Pattern) Token(i int) Token { return p.tokens[i] }

// Tokens returns a copy of the token list.
func (p *Pattern) Tokens() []Token {
	cp := make([]Token, len(p.tokens))
	copy(cp, p.tokens)
	return cp
}

// Bytes returns the literal bytes with wildcard positions zeroed.
func (p *Pattern) Bytes() []byte {
	b := make([]byte, len(p.tokens))
	for i, t := range p.tokens {
		b[i] = t.Byte
	}
	return b
}

// Match reports whether window starts with the pattern. Wildcards match any
// byte. Windows shorter than the pattern never match.
func (p *Pattern) Match(window []byte) bool {
	if len(window) < len(p.tokens) {
		return false
	}
	if window[p.anchor] != p.tokens[p.anchor].Byte {
		return false
	}
	for i, t := range p.tokens {
		if !t.Wild && window[i] != t.Byte {
			return false
		}
	}
	return true
}

// Equal reports whether both patterns have identical tokens.
func (p *Pattern) Equal(o *Pattern) bool {
	if p == nil || o == nil {
		return p == o
	}
	if len(p.tokens) != len(o.tokens) {
		return false
	}
	for i := range p.tokens {
		if p.tokens[i] != o.tokens[i] {
			return false
		}
	}
	return true
}

// Contains reports whether o occurs as a contiguous token run inside p.
func (p *Pattern) Contains(o *Pattern) bool {
	if p == nil || o == nil || len(o.tokens) > len(p.tokens) {
		return false
	}
outer:
	for start := 0; start+len(o.tokens) <= len(p.tokens); start++ {
		for i, t := range o.tokens {
			if p.tokens[start+i] != t {
				continue outer
			}
		}
		return true
	}
	return false
}

func (p *Pattern) String() string {
	if p == nil {
		return ""
	}
	var sb strings.Builder
	for i, t := range p.tokens {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.String())
	}
	return sb.String()
}
