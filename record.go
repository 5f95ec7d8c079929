package xtable

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Record is a row of a table without a prototype: values addressed by
// column name, in column order. Lookups are case-insensitive and the first
// of duplicate column names wins.
type Record struct {
	columns []string
	values  []any
}

// RowToRecord zips values with columns. Missing values read as nil and
// extra values are kept but cannot be addressed by name.
func RowToRecord(values []any, columns []string) Record {
	return Record{
		columns: append([]string(nil), columns...),
		values:  append([]any(nil), values...),
	}
}

// Columns returns the column names in order.
func (r Record) Columns() []string { return append([]string(nil), r.columns...) }

// Values returns the values in column order.
func (r Record) Values() []any { return append([]any(nil), r.values...) }

// Len returns the number of values.
func (r Record) Len() int { return len(r.values) }

// Index returns the i-th value.
func (r Record) Index(i int) any {
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// Get returns the value of the named column.
func (r Record) Get(name string) (any, bool) {
	want := normalizeColAscii(name)
	for i, c := range r.columns {
		if normalizeColAscii(c) == want {
			if i < len(r.values) {
				return r.values[i], true
			}
			return nil, true
		}
	}
	return nil, false
}

// Value is Get without the presence flag.
func (r Record) Value(name string) any {
	v, _ := r.Get(name)
	return v
}

// Map returns the record as a column -> value map.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i := len(r.columns) - 1; i >= 0; i-- {
		m[r.columns[i]] = r.Index(i)
	}
	return m
}

// MarshalJSON encodes the record as an object whose keys keep column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	seen := make(map[string]struct{}, len(r.columns))
	for i, c := range r.columns {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v := r.Index(i)
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		enc, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("xtable: record column %q: %w", c, err)
		}
		buf.Write(enc)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r Record) String() string {
	parts := make([]string, len(r.columns))
	for i, c := range r.columns {
		parts[i] = fmt.Sprintf("%s=%v", c, r.Index(i))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
