package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/posvault/internal/catalog"
)

// fields reads a loosely typed hosted record. The first conversion failure
// is kept in err and later reads become no-ops.
type fields struct {
	m   map[string]any
	err error
}

func parseFields(raw json.RawMessage) (*fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: record is not a JSON object", ErrInvalidRecord)
	}
	return &fields{m: m}, nil
}

func (f *fields) fail(key, format string, args ...any) {
	if f.err == nil {
		f.err = fmt.Errorf("%w: %s: %s", ErrInvalidRecord, key, fmt.Sprintf(format, args...))
	}
}

// lookup returns the first present, non-null value among keys.
func (f *fields) lookup(keys ...string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := f.m[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}

// id reads an identifier that may arrive as a string or a number.
func (f *fields) id(keys ...string) string {
	key, v, ok := f.lookup(keys...)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	}
	f.fail(key, "want string or number, got %T", v)
	return ""
}

func (f *fields) text(keys ...string) string {
	key, v, ok := f.lookup(keys...)
	if !ok {
		return ""
	}
	s, isString := v.(string)
	if !isString {
		f.fail(key, "want string, got %T", v)
		return ""
	}
	return catalog.NormalizeText(s)
}

// money reads an amount written as a number or a numeric string. Missing and
// empty values are zero.
func (f *fields) money(keys ...string) decimal.Decimal {
	key, v, ok := f.lookup(keys...)
	if !ok {
		return decimal.Zero
	}
	d, err := toDecimal(v)
	if err != nil {
		f.fail(key, "%v", err)
	}
	return d
}

// optionalInt reads an integer quantity written as a number or a string.
func (f *fields) optionalInt(keys ...string) *int {
	key, v, ok := f.lookup(keys...)
	if !ok {
		return nil
	}
	d, err := toDecimal(v)
	if err != nil {
		f.fail(key, "%v", err)
		return nil
	}
	if !d.IsInteger() {
		f.fail(key, "want integer, got %s", d)
		return nil
	}
	n := int(d.IntPart())
	return &n
}

func (f *fields) optionalFloat(keys ...string) *float64 {
	key, v, ok := f.lookup(keys...)
	if !ok {
		return nil
	}
	d, err := toDecimal(v)
	if err != nil {
		f.fail(key, "%v", err)
		return nil
	}
	x := d.InexactFloat64()
	return &x
}

func (f *fields) timestamp(keys ...string) time.Time {
	key, v, ok := f.lookup(keys...)
	if !ok {
		return time.Time{}
	}
	s, isString := v.(string)
	if !isString || s == "" {
		if !isString {
			f.fail(key, "want timestamp string, got %T", v)
		}
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999Z07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	f.fail(key, "unrecognized timestamp %q", s)
	return time.Time{}
}

// blob decodes a nested value that may arrive either inline or as a
// JSON-encoded string.
func (f *fields) blob(dst any, keys ...string) bool {
	key, v, ok := f.lookup(keys...)
	if !ok {
		return false
	}
	var raw []byte
	if s, isString := v.(string); isString {
		if strings.TrimSpace(s) == "" {
			return false
		}
		raw = []byte(s)
	} else {
		var err error
		if raw, err = json.Marshal(v); err != nil {
			f.fail(key, "%v", err)
			return false
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		f.fail(key, "%v", err)
		return false
	}
	return true
}

// nested reads a nested object, inline or JSON-encoded, as fields.
func (f *fields) nested(key string) *fields {
	var raw json.RawMessage
	if !f.blob(&raw, key) || f.err != nil {
		return nil
	}
	sub, err := parseFields(raw)
	if err != nil {
		f.fail(key, "%v", err)
		return nil
	}
	return sub
}

// list reads an array of objects, inline or JSON-encoded, as fields.
func (f *fields) list(keys ...string) []*fields {
	var raws []json.RawMessage
	if !f.blob(&raws, keys...) || f.err != nil {
		return nil
	}
	out := make([]*fields, 0, len(raws))
	for i, raw := range raws {
		sub, err := parseFields(raw)
		if err != nil {
			f.fail(fmt.Sprintf("%s[%d]", keys[0], i), "%v", err)
			return nil
		}
		out = append(out, sub)
	}
	return out
}

// ids reads a list of identifiers, inline or JSON-encoded.
func (f *fields) ids(key string) []string {
	var raws []any
	if !f.blob(&raws, key) {
		return nil
	}
	out := make([]string, 0, len(raws))
	for _, v := range raws {
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case float64:
			out = append(out, strconv.FormatFloat(val, 'f', -1, 64))
		default:
			f.fail(key, "want list of ids, got element %T", v)
			return nil
		}
	}
	return out
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch val := v.(type) {
	case json.Number:
		return decimal.NewFromString(val.String())
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	case float64:
		return decimal.NewFromFloat(val), nil
	}
	return decimal.Zero, fmt.Errorf("want number, got %T", v)
}
