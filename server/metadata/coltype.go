package metadata

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/gear6io/ranger-catalog/pkg/errors"
)

// ColumnDef is a top level column written in the compact type syntax:
// primitives such as long or decimal(10,2), list<T>, map<K,V> and
// struct<name:T,...>
type ColumnDef struct {
	Name     string
	Type     string
	Required bool
}

var primitiveTypes = map[string]bool{
	"boolean":     true,
	"int":         true,
	"long":        true,
	"float":       true,
	"double":      true,
	"date":        true,
	"time":        true,
	"timestamp":   true,
	"timestamptz": true,
	"string":      true,
	"uuid":        true,
	"binary":      true,
}

var typeAliases = map[string]string{
	"int32":   "int",
	"integer": "int",
	"int64":   "long",
	"bigint":  "long",
	"float32": "float",
	"float64": "double",
	"bool":    "boolean",
}

var (
	decimalPattern = regexp.MustCompile(`^decimal\(\s*(\d+)\s*,\s*(\d+)\s*\)$`)
	fixedPattern   = regexp.MustCompile(`^fixed\[\s*(\d+)\s*\]$`)
)

const maxDecimalPrecision = 38

type listType struct {
	Type            string          `json:"type"`
	ElementID       int             `json:"element-id"`
	Element         json.RawMessage `json:"element"`
	ElementRequired bool            `json:"element-required"`
}

type mapType struct {
	Type          string          `json:"type"`
	KeyID         int             `json:"key-id"`
	Key           json.RawMessage `json:"key"`
	ValueID       int             `json:"value-id"`
	Value         json.RawMessage `json:"value"`
	ValueRequired bool            `json:"value-required"`
}

type structType struct {
	Type   string  `json:"type"`
	Fields []Field `json:"fields"`
}

// typeParser hands out ids for nested fields
type typeParser struct {
	next int
}

// ParseFields builds schema columns from defs. Top level columns get ids
// 1..len(defs); nested fields are numbered after them in order.
func ParseFields(defs []ColumnDef) ([]Field, error) {
	p := &typeParser{next: len(defs) + 1}
	fields := make([]Field, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, errors.New(ErrInvalidType, "column name cannot be empty", nil).AddContext("position", strconv.Itoa(i+1))
		}
		if seen[name] {
			return nil, errors.New(ErrInvalidType, "duplicate column", nil).AddContext("column", name)
		}
		seen[name] = true

		raw, err := p.parse(def.Type)
		if err != nil {
			return nil, errors.New(ErrInvalidType, "invalid column type", err).AddContext("column", name)
		}
		fields = append(fields, Field{ID: i + 1, Name: name, Required: def.Required, Type: raw})
	}
	return fields, nil
}

func (p *typeParser) id() int {
	id := p.next
	p.next++
	return id
}

func (p *typeParser) parse(s string) (json.RawMessage, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if alias, ok := typeAliases[s]; ok {
		s = alias
	}
	switch {
	case primitiveTypes[s]:
		return json.RawMessage(strconv.Quote(s)), nil
	case strings.HasPrefix(s, "decimal"):
		return parseDecimal(s)
	case strings.HasPrefix(s, "fixed"):
		return parseFixed(s)
	case strings.HasPrefix(s, "list<"):
		return p.parseList(s)
	case strings.HasPrefix(s, "map<"):
		return p.parseMap(s)
	case strings.HasPrefix(s, "struct<"):
		return p.parseStruct(s)
	}
	return nil, errors.Newf(ErrInvalidType, "unsupported type %q", s)
}

func parseDecimal(s string) (json.RawMessage, error) {
	m := decimalPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, errors.Newf(ErrInvalidType, "invalid decimal %q, expected decimal(precision,scale)", s)
	}
	precision, _ := strconv.Atoi(m[1])
	scale, _ := strconv.Atoi(m[2])
	if precision <= 0 || precision > maxDecimalPrecision {
		return nil, errors.Newf(ErrInvalidType, "decimal precision must be between 1 and %d, got %d", maxDecimalPrecision, precision)
	}
	if scale > precision {
		return nil, errors.Newf(ErrInvalidType, "decimal scale %d exceeds precision %d", scale, precision)
	}
	return json.RawMessage(strconv.Quote("decimal(" + m[1] + "," + m[2] + ")")), nil
}

func parseFixed(s string) (json.RawMessage, error) {
	m := fixedPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, errors.Newf(ErrInvalidType, "invalid fixed %q, expected fixed[length]", s)
	}
	if n, _ := strconv.Atoi(m[1]); n <= 0 {
		return nil, errors.Newf(ErrInvalidType, "fixed length must be positive, got %d", n)
	}
	return json.RawMessage(strconv.Quote("fixed[" + m[1] + "]")), nil
}

// body strips prefix and the closing '>'
func body(s, prefix string) (string, error) {
	if !strings.HasSuffix(s, ">") {
		return "", errors.Newf(ErrInvalidType, "unterminated type %q", s)
	}
	inner := strings.TrimSpace(s[len(prefix) : len(s)-1])
	if inner == "" {
		return "", errors.Newf(ErrInvalidType, "empty type parameters in %q", s)
	}
	return inner, nil
}

func (p *typeParser) parseList(s string) (json.RawMessage, error) {
	inner, err := body(s, "list<")
	if err != nil {
		return nil, err
	}
	t := listType{Type: "list", ElementID: p.id()}
	if t.Element, err = p.parse(inner); err != nil {
		return nil, err
	}
	return json.Marshal(t)
}

func (p *typeParser) parseMap(s string) (json.RawMessage, error) {
	inner, err := body(s, "map<")
	if err != nil {
		return nil, err
	}
	parts := splitTopLevel(inner, ',')
	if len(parts) != 2 {
		return nil, errors.Newf(ErrInvalidType, "map needs a key and a value type, got %q", s)
	}
	t := mapType{Type: "map", KeyID: p.id(), ValueID: p.id()}
	if t.Key, err = p.parse(parts[0]); err != nil {
		return nil, err
	}
	if t.Value, err = p.parse(parts[1]); err != nil {
		return nil, err
	}
	return json.Marshal(t)
}

func (p *typeParser) parseStruct(s string) (json.RawMessage, error) {
	inner, err := body(s, "struct<")
	if err != nil {
		return nil, err
	}
	parts := splitTopLevel(inner, ',')
	t := structType{Type: "struct", Fields: make([]Field, 0, len(parts))}
	ids := make([]int, len(parts))
	for i := range parts {
		ids[i] = p.id()
	}
	for i, part := range parts {
		name, typ, ok := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.Newf(ErrInvalidType, "struct field %q must be name:type", strings.TrimSpace(part))
		}
		raw, err := p.parse(typ)
		if err != nil {
			return nil, err
		}
		t.Fields = append(t.Fields, Field{ID: ids[i], Name: name, Type: raw})
	}
	return json.Marshal(t)
}

// splitTopLevel splits on sep outside of <> and () nesting
func splitTopLevel(s string, sep rune) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '<', '(':
			depth++
		case '>', ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
