// Package snapshot defines the backup document: every collection of the
// local store plus the time it was taken and the tenant it belongs to.
//
// A snapshot is self-contained. Restoring it needs nothing but the document,
// because every record carries its own key field.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/posvault/internal/model"
	"github.com/roach88/posvault/internal/store"
)

// TimestampLayout is the ISO-8601 form used in documents and file names.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// requiredCollections must be present in every document. The others may be
// absent in documents written by older versions.
var requiredCollections = map[string]bool{
	model.CollectionProducts:  true,
	model.CollectionCustomers: true,
	model.CollectionOrders:    true,
	model.CollectionTables:    true,
}

// Document is a decoded snapshot.
type Document struct {
	Timestamp string
	TenantID  string

	// Collections maps collection name to its records. A collection absent
	// from the map was absent from the document.
	Collections map[string][]json.RawMessage
}

// FromRecords builds a document from a full store read. Every known
// collection is included, empty ones as empty lists.
func FromRecords(all map[string][]store.Record, tenantID string, ts time.Time) *Document {
	doc := &Document{
		Timestamp:   FormatTimestamp(ts),
		TenantID:    tenantID,
		Collections: make(map[string][]json.RawMessage, len(model.Collections)),
	}
	for _, name := range model.Collections {
		records := all[name]
		list := make([]json.RawMessage, 0, len(records))
		for _, r := range records {
			list = append(list, r.Data)
		}
		doc.Collections[name] = list
	}
	return doc
}

// FormatTimestamp renders ts in UTC with millisecond precision.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(TimestampLayout)
}

// FileName returns the local backup file name for a snapshot:
// <app>_backup_<tenant>_<timestamp>.json, with ':' and '.' in the timestamp
// replaced by '-'.
func FileName(app, tenantID string, ts time.Time) string {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(FormatTimestamp(ts))
	return fmt.Sprintf("%s_backup_%s_%s.json", app, tenantID, stamp)
}

// Has reports whether the document carries the collection.
func (d *Document) Has(collection string) bool {
	_, ok := d.Collections[collection]
	return ok
}

// Count returns the total number of records in the document.
func (d *Document) Count() int {
	n := 0
	for _, list := range d.Collections {
		n += len(list)
	}
	return n
}

// MarshalJSON writes collections in a fixed order followed by timestamp and
// tenantId, so equal documents encode to equal bytes.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	field := func(name string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(data)
		return nil
	}

	for _, name := range model.Collections {
		list, ok := d.Collections[name]
		if !ok {
			continue
		}
		if list == nil {
			list = []json.RawMessage{}
		}
		if err := field(name, list); err != nil {
			return nil, err
		}
	}
	if err := field("timestamp", d.Timestamp); err != nil {
		return nil, err
	}
	if err := field("tenantId", d.TenantID); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Encode serializes the document as indented JSON.
func Encode(d *Document) ([]byte, error) {
	compact, err := d.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, fmt.Errorf("indent snapshot: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// Decode validates data against the snapshot schema and checks that keys are
// unique within each collection. Any problem is reported as an error matching
// ErrSnapshotInvalid.
func Decode(data []byte) (*Document, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	doc := &Document{Collections: make(map[string][]json.RawMessage, len(model.Collections))}
	if err := json.Unmarshal(top["timestamp"], &doc.Timestamp); err != nil {
		return nil, &ValidationError{Path: "timestamp", Message: err.Error()}
	}
	if err := json.Unmarshal(top["tenantId"], &doc.TenantID); err != nil {
		return nil, &ValidationError{Path: "tenantId", Message: err.Error()}
	}

	for _, name := range model.Collections {
		raw, ok := top[name]
		if !ok {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, &ValidationError{Path: name, Message: err.Error()}
		}
		if list == nil {
			list = []json.RawMessage{}
		}
		if err := checkKeys(name, list); err != nil {
			return nil, err
		}
		doc.Collections[name] = list
	}
	return doc, nil
}

// checkKeys rejects records that repeat a key within one collection.
func checkKeys(collection string, list []json.RawMessage) error {
	field := KeyField(collection)
	seen := make(map[string]int, len(list))
	for i, raw := range list {
		var rec map[string]any
		if err := json.Unmarshal(raw, &rec); err != nil {
			return &ValidationError{Path: fmt.Sprintf("%s[%d]", collection, i), Message: err.Error()}
		}
		key, _ := rec[field].(string)
		if prev, dup := seen[key]; dup {
			return &ValidationError{
				Path:    fmt.Sprintf("%s[%d].%s", collection, i, field),
				Message: fmt.Sprintf("duplicate key %q (first at index %d)", key, prev),
			}
		}
		seen[key] = i
	}
	return nil
}

// KeyField returns the key field of a collection.
func KeyField(collection string) string {
	for _, def := range store.DefaultCollections {
		if def.Name == collection {
			return def.KeyField
		}
	}
	return "id"
}
