package transform

import (
	"encoding/json"
	"sort"
	"strings"
)

// RawRecord is one decoded API row. Numbers are json.Number.
type RawRecord struct {
	Fields map[string]any
}

// Lookup resolves a dotted path such as "source.dateline"
func (r RawRecord) Lookup(path string) (any, bool) {
	return lookup(r.Fields, path)
}

// SideMetadata is page-level data merged into every record of the page
type SideMetadata map[string]any

func lookup(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if path == "" {
		return m, true
	}

	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// LookupMap resolves path in m and returns it when it is an object
func LookupMap(m map[string]any, path string) (map[string]any, bool) {
	v, ok := lookup(m, path)
	if !ok {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

// OutputRecord is a flat record ready for the sink
type OutputRecord struct {
	Columns []string
	Values  map[string]string
}

// Row returns the values in header order, "" for columns the record lacks
func (o OutputRecord) Row(header []string) []string {
	row := make([]string, len(header))
	for i, col := range header {
		row[i] = o.Values[col]
	}
	return row
}

// Extra returns columns present in the record but absent from header
func (o OutputRecord) Extra(header []string) []string {
	known := make(map[string]struct{}, len(header))
	for _, h := range header {
		known[h] = struct{}{}
	}
	var extra []string
	for _, c := range o.Columns {
		if _, ok := known[c]; !ok {
			extra = append(extra, c)
		}
	}
	return extra
}

// MarshalJSON encodes the record as an object in column order
func (o OutputRecord) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, col := range o.Columns {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(o.Values[col])
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func (o *OutputRecord) set(col, val string) {
	if o.Values == nil {
		o.Values = make(map[string]string)
	}
	if _, exists := o.Values[col]; !exists {
		o.Columns = append(o.Columns, col)
	}
	o.Values[col] = val
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
