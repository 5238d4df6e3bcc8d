package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// encodedRecord is a record ready to be written: its key, compact JSON body
// and the index entries derived from it.
type encodedRecord struct {
	key     string
	data    string
	entries map[string][]string // index name -> values
}

// encodeRecord marshals v and extracts its key and index values.
// v may be any JSON-marshalable value, including json.RawMessage.
func encodeRecord(def CollectionDef, v any) (encodedRecord, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return encodedRecord{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	fields, err := decodeFields(data)
	if err != nil {
		return encodedRecord{}, err
	}

	key, ok := fields[def.KeyField].(string)
	if !ok || key == "" {
		return encodedRecord{}, fmt.Errorf("%w: %s record needs a non-empty string %q",
			ErrInvalidRecord, def.Name, def.KeyField)
	}

	rec := encodedRecord{
		key:     key,
		data:    string(data),
		entries: make(map[string][]string, len(def.Indexes)),
	}
	for _, idx := range def.Indexes {
		if values := indexValues(fields[idx.Field]); len(values) > 0 {
			rec.entries[idx.Name] = values
		}
	}
	return rec, nil
}

// decodeFields parses a JSON object, keeping numbers as json.Number so that
// index values are formatted exactly as written.
func decodeFields(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: record is not a JSON object", ErrInvalidRecord)
	}
	return fields, nil
}

// indexValues converts a field value into zero or more index values.
func indexValues(v any) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case json.Number:
		return []string{val.String()}
	case bool:
		return []string{strconv.FormatBool(val)}
	case []any:
		var out []string
		for _, elem := range val {
			if s, ok := elem.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Decode unmarshals a stored record into T.
func Decode[T any](r Record) (T, error) {
	var v T
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", r.Key, err)
	}
	return v, nil
}

// DecodeAll unmarshals every record into T, preserving order.
func DecodeAll[T any](records []Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
