package jsonstream

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser accumulates a JSON Value one rune at a time. The zero value is
// not usable; construct with New.
type Parser struct {
	object *Value
	st     status
}

// New returns a Parser ready to receive characters, starting from an
// untyped (Null) object in the Ready status.
func New() *Parser {
	return &Parser{object: newNull(), st: readyStatus()}
}

// AddChar feeds one character into the parser, advancing its state.
func (p *Parser) AddChar(c rune) error {
	return addCharIntoObject(p.object, &p.st, c)
}

// Result returns the parser's current (possibly partial) value.
func (p *Parser) Result() *Value { return p.object }

// ParseStream parses a complete string in one call, equivalent to
// feeding every rune through a fresh Parser.
func ParseStream(s string) (*Value, error) {
	p := New()
	for _, c := range s {
		if err := p.AddChar(c); err != nil {
			return nil, err
		}
	}
	return p.Result(), nil
}

func addCharIntoObject(object *Value, st *status, c rune) error {
	switch {
	// --- bare string literal (object is itself a Value::String) ---
	case object.Kind == KindString && st.kind == statusStringQuoteOpen && st.escaped && c == '"':
		object.Str += "\""
		st.escaped = false
		return nil
	case object.Kind == KindString && st.kind == statusStringQuoteOpen && !st.escaped && c == '"':
		st.kind = statusStringQuoteClose
		return nil
	case object.Kind == KindString && st.kind == statusStringQuoteOpen && st.escaped:
		object.Str += "\\" + string(c)
		st.escaped = false
		return nil
	case object.Kind == KindString && st.kind == statusStringQuoteOpen && !st.escaped && c == '\\':
		st.escaped = true
		return nil
	case object.Kind == KindString && st.kind == statusStringQuoteOpen && !st.escaped:
		object.Str += string(c)
		return nil

	// --- object key, inside quotes ---
	case object.Kind == KindObject && st.kind == statusKeyQuoteOpen && st.escaped && c == '"':
		st.key = append(st.key, '"')
		st.escaped = false
		return nil
	case object.Kind == KindObject && st.kind == statusKeyQuoteOpen && !st.escaped && c == '"':
		key := string(st.key)
		object.Obj[key] = newNull()
		st.kind = statusKeyQuoteClose
		return nil
	case object.Kind == KindObject && st.kind == statusKeyQuoteOpen && st.escaped:
		st.key = append(st.key, '\\', c)
		st.escaped = false
		return nil
	case object.Kind == KindObject && st.kind == statusKeyQuoteOpen && !st.escaped && c == '\\':
		st.escaped = true
		return nil
	case object.Kind == KindObject && st.kind == statusKeyQuoteOpen && !st.escaped:
		st.key = append(st.key, c)
		return nil

	// --- object value, inside quotes ---
	case object.Kind == KindObject && st.kind == statusValueQuoteOpen && st.escaped && c == '"':
		keyStr := string(st.key)
		object.Obj[keyStr].Str += "\""
		st.escaped = false
		return nil
	case object.Kind == KindObject && st.kind == statusValueQuoteOpen && !st.escaped && c == '"':
		st.kind = statusValueQuoteClose
		return nil
	case object.Kind == KindObject && st.kind == statusValueQuoteOpen && st.escaped:
		keyStr := string(st.key)
		object.Obj[keyStr].Str += "\\" + string(c)
		st.escaped = false
		return nil
	case object.Kind == KindObject && st.kind == statusValueQuoteOpen && !st.escaped && c == '\\':
		st.escaped = true
		return nil
	case object.Kind == KindObject && st.kind == statusValueQuoteOpen && !st.escaped:
		keyStr := string(st.key)
		v, ok := object.Obj[keyStr]
		if !ok || v.Kind != KindString {
			return fmt.Errorf("invalid value type for key %s", keyStr)
		}
		v.Str += string(c)
		return nil

	// --- scalar literals at the document root ---
	case object.Kind == KindNull && st.kind == statusReady && c == '"':
		*object = *newString("")
		*st = status{kind: statusStringQuoteOpen}
		return nil
	case object.Kind == KindNull && st.kind == statusReady && c == '{':
		*object = *newObject()
		*st = status{kind: statusStartProperty}
		return nil

	case object.Kind == KindNull && st.kind == statusReady && c == 't':
		*object = *newBool(true)
		*st = status{kind: statusScalar, valueSoFar: []rune{'t'}}
		return nil
	case object.Kind == KindBool && object.Bool && st.kind == statusScalar && c == 'r':
		if string(st.valueSoFar) == "t" {
			st.valueSoFar = append(st.valueSoFar, 'r')
		}
		return nil
	case object.Kind == KindBool && object.Bool && st.kind == statusScalar && c == 'u':
		if string(st.valueSoFar) == "tr" {
			st.valueSoFar = append(st.valueSoFar, 'u')
		}
		return nil
	case object.Kind == KindBool && object.Bool && st.kind == statusScalar && c == 'e':
		st.kind = statusClosed
		return nil

	case object.Kind == KindNull && st.kind == statusReady && c == 'f':
		*object = *newBool(false)
		*st = status{kind: statusScalar, valueSoFar: []rune{'f'}}
		return nil
	case object.Kind == KindBool && !object.Bool && st.kind == statusScalar && c == 'a':
		if string(st.valueSoFar) == "f" {
			st.valueSoFar = append(st.valueSoFar, 'a')
		}
		return nil
	case object.Kind == KindBool && !object.Bool && st.kind == statusScalar && c == 'l':
		if string(st.valueSoFar) == "fa" {
			st.valueSoFar = append(st.valueSoFar, 'l')
		}
		return nil
	case object.Kind == KindBool && !object.Bool && st.kind == statusScalar && c == 's':
		if string(st.valueSoFar) == "fal" {
			st.valueSoFar = append(st.valueSoFar, 's')
		}
		return nil
	case object.Kind == KindBool && !object.Bool && st.kind == statusScalar && c == 'e':
		st.kind = statusClosed
		return nil

	case object.Kind == KindNull && st.kind == statusReady && c == 'n':
		*st = status{kind: statusScalar, valueSoFar: []rune{'n'}}
		return nil
	case object.Kind == KindNull && st.kind == statusScalar && c == 'u':
		if string(st.valueSoFar) == "n" {
			st.valueSoFar = append(st.valueSoFar, 'u')
		}
		return nil
	case object.Kind == KindNull && st.kind == statusScalar && c == 'l':
		switch string(st.valueSoFar) {
		case "nu":
			st.valueSoFar = append(st.valueSoFar, 'l')
		case "nul":
			st.kind = statusClosed
		}
		return nil

	case object.Kind == KindNull && st.kind == statusReady && c >= '0' && c <= '9':
		d, _ := strconv.Atoi(string(c))
		*object = *newNumber(float64(d))
		*st = status{kind: statusScalarNumber, valueSoFar: []rune{c}}
		return nil
	case object.Kind == KindNull && st.kind == statusReady && c == '-':
		*object = *newNumber(0)
		*st = status{kind: statusScalarNumber, valueSoFar: []rune{'-'}}
		return nil
	case object.Kind == KindNumber && st.kind == statusScalarNumber && c >= '0' && c <= '9':
		st.valueSoFar = append(st.valueSoFar, c)
		n, err := strconv.ParseFloat(string(st.valueSoFar), 64)
		if err == nil {
			object.Num = n
		}
		return nil
	case object.Kind == KindNumber && st.kind == statusScalarNumber && c == '.':
		st.valueSoFar = append(st.valueSoFar, '.')
		return nil

	// --- object grammar: keys, colons, values ---
	case object.Kind == KindObject && st.kind == statusStartProperty && c == '"':
		*st = status{kind: statusKeyQuoteOpen}
		return nil
	case object.Kind == KindObject && st.kind == statusKeyQuoteClose && c == ':':
		st.kind = statusColon
		return nil
	case object.Kind == KindObject && st.kind == statusColon && (c == ' ' || c == '\n'):
		return nil
	case object.Kind == KindObject && st.kind == statusColon && c == '"':
		keyStr := string(st.key)
		object.Obj[keyStr] = newString("")
		st.kind = statusValueQuoteOpen
		st.escaped = false
		return nil
	case object.Kind == KindObject && st.kind == statusColon:
		st.kind = statusValueScalar
		st.valueSoFar = []rune{c}
		return nil
	case object.Kind == KindObject && st.kind == statusValueScalar && c == ',':
		if err := commitScalarProperty(object, st); err != nil {
			return err
		}
		*st = status{kind: statusStartProperty}
		return nil
	case object.Kind == KindObject && st.kind == statusValueScalar && c == '}':
		if err := commitScalarProperty(object, st); err != nil {
			return err
		}
		st.kind = statusClosed
		return nil
	case object.Kind == KindObject && st.kind == statusValueScalar:
		st.valueSoFar = append(st.valueSoFar, c)
		return nil

	case object.Kind == KindObject && st.kind == statusValueQuoteClose && c == ',':
		*st = status{kind: statusStartProperty}
		return nil
	case object.Kind == KindObject && st.kind == statusValueQuoteClose && c == '}':
		st.kind = statusClosed
		return nil

	case c == ' ' || c == '\n':
		return nil

	default:
		return fmt.Errorf("invalid character %q in status %d", c, st.kind)
	}
}

// commitScalarProperty parses the accumulated unquoted scalar
// (number/bool/null) and inserts it at st.key, mirroring the original's
// value_str.parse::<Value>() call at ',' and '}'.
func commitScalarProperty(object *Value, st *status) error {
	keyStr := string(st.key)
	valueStr := strings.TrimSpace(string(st.valueSoFar))
	value, err := parseScalarLiteral(valueStr)
	if err != nil {
		return fmt.Errorf("invalid value for key %s: %w", keyStr, err)
	}
	object.Obj[keyStr] = value
	return nil
}

func parseScalarLiteral(s string) (*Value, error) {
	switch s {
	case "null":
		return newNull(), nil
	case "true":
		return newBool(true), nil
	case "false":
		return newBool(false), nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("not a valid JSON scalar: %q", s)
	}
	return newNumber(n), nil
}
