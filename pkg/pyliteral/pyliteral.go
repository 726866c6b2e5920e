// Package pyliteral parses the textual output of a MicroPython repr() into
// structured values: None, booleans, numbers, strings, bytes, lists, tuples
// and dicts. It is the host-side half of "evaluate an expression on the
// device and use the result".
package pyliteral

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the type of a parsed Value.
type Kind int

const (
	None Kind = iota
	Bool
	Int
	Float
	Str
	Bytes
	List
	Tuple
	Dict
)

func (k Kind) String() string {
	switch k {
	case None:
		return "None"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case Str:
		return "str"
	case Bytes:
		return "bytes"
	case List:
		return "list"
	case Tuple:
		return "tuple"
	case Dict:
		return "dict"
	}
	return "unknown"
}

// Value is one parsed literal.
type Value struct {
	Kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	raw   []byte
	items []Value
	pairs []KV
}

// KV is one dict entry.
type KV struct {
	Key   Value
	Value Value
}

// ParseError reports malformed literal output.
type ParseError struct {
	Input  string
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse literal at offset %d: %s (input %q)", e.Offset, e.Msg, e.Input)
}

// IsNone reports whether the value is None.
func (v Value) IsNone() bool { return v.Kind == None }

// Bool returns the boolean value.
func (v Value) Bool() (bool, error) {
	if v.Kind != Bool {
		return false, fmt.Errorf("literal is %s, not bool", v.Kind)
	}
	return v.b, nil
}

// Int64 returns the integer value. Floats with integral values convert.
func (v Value) Int64() (int64, error) {
	switch v.Kind {
	case Int:
		return v.i, nil
	case Float:
		return int64(v.f), nil
	}
	return 0, fmt.Errorf("literal is %s, not int", v.Kind)
}

// Float64 returns the numeric value as a float.
func (v Value) Float64() (float64, error) {
	switch v.Kind {
	case Int:
		return float64(v.i), nil
	case Float:
		return v.f, nil
	}
	return 0, fmt.Errorf("literal is %s, not float", v.Kind)
}

// Str returns the string value.
func (v Value) Str() (string, error) {
	if v.Kind != Str {
		return "", fmt.Errorf("literal is %s, not str", v.Kind)
	}
	return v.s, nil
}

// Bytes returns the bytes value.
func (v Value) Bytes() ([]byte, error) {
	if v.Kind != Bytes {
		return nil, fmt.Errorf("literal is %s, not bytes", v.Kind)
	}
	return v.raw, nil
}

// Items returns the elements of a list or tuple.
func (v Value) Items() ([]Value, error) {
	if v.Kind != List && v.Kind != Tuple {
		return nil, fmt.Errorf("literal is %s, not list or tuple", v.Kind)
	}
	return v.items, nil
}

// Pairs returns the entries of a dict.
func (v Value) Pairs() ([]KV, error) {
	if v.Kind != Dict {
		return nil, fmt.Errorf("literal is %s, not dict", v.Kind)
	}
	return v.pairs, nil
}

// Parse parses a single literal. Trailing whitespace is permitted; any
// other trailing input is an error.
func Parse(input string) (Value, error) {
	p := &parser{input: input}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return Value{}, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return Value{}, p.errorf("trailing input")
	}
	return v, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Input: p.input, Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() byte {
	if p.pos < len(p.input) {
		return p.input[p.pos]
	}
	return 0
}

func (p *parser) literal(word string) bool {
	if strings.HasPrefix(p.input[p.pos:], word) {
		p.pos += len(word)
		return true
	}
	return false
}

func (p *parser) value() (Value, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == 0:
		return Value{}, p.errorf("unexpected end of input")
	case p.literal("None"):
		return Value{Kind: None}, nil
	case p.literal("True"):
		return Value{Kind: Bool, b: true}, nil
	case p.literal("False"):
		return Value{Kind: Bool, b: false}, nil
	case c == '\'' || c == '"':
		s, err := p.stringBody(c)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: Str, s: s}, nil
	case c == 'b' && p.pos+1 < len(p.input) && (p.input[p.pos+1] == '\'' || p.input[p.pos+1] == '"'):
		p.pos++
		s, err := p.stringBody(p.input[p.pos])
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: Bytes, raw: []byte(s)}, nil
	case c == '[':
		items, err := p.sequence('[', ']')
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: List, items: items}, nil
	case c == '(':
		items, err := p.sequence('(', ')')
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: Tuple, items: items}, nil
	case c == '{':
		return p.dict()
	case c == '-' || c == '+' || (c >= '0' && c <= '9') || c == '.':
		return p.number()
	default:
		return Value{}, p.errorf("unexpected character %q", c)
	}
}

// stringBody parses a quoted string starting at the opening quote.
func (p *parser) stringBody(quote byte) (string, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch c {
		case quote:
			p.pos++
			return sb.String(), nil
		case '\\':
			p.pos++
			if p.pos >= len(p.input) {
				return "", p.errorf("unterminated escape")
			}
			e := p.input[p.pos]
			switch e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '0':
				sb.WriteByte(0)
			case '\\', '\'', '"':
				sb.WriteByte(e)
			case 'x':
				if p.pos+2 >= len(p.input) {
					return "", p.errorf("short \\x escape")
				}
				n, err := strconv.ParseUint(p.input[p.pos+1:p.pos+3], 16, 8)
				if err != nil {
					return "", p.errorf("bad \\x escape: %v", err)
				}
				sb.WriteByte(byte(n))
				p.pos += 2
			default:
				return "", p.errorf("unsupported escape \\%c", e)
			}
			p.pos++
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errorf("unterminated string")
}

func (p *parser) number() (Value, error) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	if strings.HasPrefix(p.input[p.pos:], "0x") || strings.HasPrefix(p.input[p.pos:], "0X") {
		p.pos += 2
		for p.pos < len(p.input) && isHexDigit(p.input[p.pos]) {
			p.pos++
		}
		n, err := strconv.ParseInt(p.input[start:p.pos], 0, 64)
		if err != nil {
			return Value{}, p.errorf("bad hex literal: %v", err)
		}
		return Value{Kind: Int, i: n}, nil
	}
	isFloat := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
		} else if c == '.' || c == 'e' || c == 'E' {
			isFloat = true
			p.pos++
			if c != '.' && p.pos < len(p.input) && (p.input[p.pos] == '-' || p.input[p.pos] == '+') {
				p.pos++
			}
		} else {
			break
		}
	}
	text := p.input[start:p.pos]
	if text == "" || text == "-" || text == "+" {
		return Value{}, p.errorf("bad number")
	}
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, p.errorf("bad float literal: %v", err)
		}
		return Value{Kind: Float, f: f}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Value{}, p.errorf("bad int literal: %v", err)
	}
	return Value{Kind: Int, i: n}, nil
}

func (p *parser) sequence(open, close byte) ([]Value, error) {
	p.pos++ // open
	var items []Value
	for {
		p.skipSpace()
		if p.peek() == close {
			p.pos++
			return items, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case close:
			p.pos++
			return items, nil
		default:
			return nil, p.errorf("expected ',' or %q", close)
		}
	}
}

func (p *parser) dict() (Value, error) {
	p.pos++ // '{'
	var pairs []KV
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return Value{Kind: Dict, pairs: pairs}, nil
		}
		k, err := p.value()
		if err != nil {
			return Value{}, err
		}
		p.skipSpace()
		if p.peek() != ':' {
			return Value{}, p.errorf("expected ':' in dict")
		}
		p.pos++
		v, err := p.value()
		if err != nil {
			return Value{}, err
		}
		pairs = append(pairs, KV{Key: k, Value: v})
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return Value{Kind: Dict, pairs: pairs}, nil
		default:
			return Value{}, p.errorf("expected ',' or '}' in dict")
		}
	}
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
