package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"boardscraper/pkg/config"
	errs "boardscraper/pkg/errors"
)

// TimeLayout is the rendering of converted epoch timestamps
const TimeLayout = "2006-01-02 15:04:05"

// Kind is the value conversion applied to a column
type Kind string

const (
	KindString    Kind = "string"
	KindInt       Kind = "int"
	KindTimestamp Kind = "timestamp"
	KindJSON      Kind = "json"
)

// Column maps a dotted path in the raw row to an output column
type Column struct {
	Name     string
	Path     string
	Kind     Kind
	Required bool
}

// Schema describes how raw rows become output records. With Columns set the
// output is exactly those columns; otherwise every top-level field is copied
// in sorted order and TimestampFields are converted when present. Only
// RequiredFields must be present and non-null.
type Schema struct {
	Columns         []Column
	TimestampFields []string
	RequiredFields  []string
	MetadataPrefix  string
	Location        *time.Location
}

// SchemaFromConfig builds a Schema from configuration
func SchemaFromConfig(cfg config.SchemaConfig) (Schema, error) {
	s := Schema{
		TimestampFields: cfg.TimestampFields,
		RequiredFields:  cfg.RequiredFields,
		MetadataPrefix:  cfg.MetadataPrefix,
		Location:        time.Local,
	}

	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return Schema{}, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		s.Location = loc
	}

	for _, c := range cfg.Columns {
		col := Column{Name: c.Name, Path: c.Path, Kind: Kind(c.Kind), Required: c.Required}
		if col.Path == "" {
			col.Path = col.Name
		}
		if col.Kind == "" {
			col.Kind = KindString
		}
		s.Columns = append(s.Columns, col)
	}

	return s, nil
}

// Header returns the fixed column list, or nil in dynamic mode
func (s Schema) Header() []string {
	if len(s.Columns) == 0 {
		return nil
	}
	header := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		header[i] = c.Name
	}
	return header
}

// Transformer applies a Schema. It holds no state between records.
type Transformer struct {
	schema     Schema
	timestamps map[string]struct{}
}

// New creates a Transformer
func New(schema Schema) *Transformer {
	if schema.Location == nil {
		schema.Location = time.Local
	}
	ts := make(map[string]struct{}, len(schema.TimestampFields))
	for _, f := range schema.TimestampFields {
		ts[f] = struct{}{}
	}
	return &Transformer{schema: schema, timestamps: ts}
}

// Schema returns the schema in use
func (t *Transformer) Schema() Schema {
	return t.schema
}

// Transform converts one raw row. Metadata fields are merged after the
// direct fields under MetadataPrefix and win on name collisions.
func (t *Transformer) Transform(raw RawRecord, meta SideMetadata) (OutputRecord, error) {
	var out OutputRecord
	var err error

	if len(t.schema.Columns) > 0 {
		out, err = t.fixed(raw)
	} else {
		out, err = t.dynamic(raw)
	}
	if err != nil {
		return OutputRecord{}, err
	}

	for _, key := range sortedKeys(meta) {
		val, err := stringify(meta[key])
		if err != nil {
			return OutputRecord{}, &errs.SchemaError{Field: key, Reason: err.Error()}
		}
		out.set(t.schema.MetadataPrefix+key, val)
	}

	return out, nil
}

func (t *Transformer) fixed(raw RawRecord) (OutputRecord, error) {
	out := OutputRecord{
		Columns: make([]string, 0, len(t.schema.Columns)),
		Values:  make(map[string]string, len(t.schema.Columns)),
	}

	for _, col := range t.schema.Columns {
		v, ok := raw.Lookup(col.Path)
		if !ok {
			if col.Required {
				return OutputRecord{}, &errs.SchemaError{Field: col.Path}
			}
			out.set(col.Name, "")
			continue
		}

		val, err := t.convert(col.Kind, v, col.Required)
		if err != nil {
			return OutputRecord{}, &errs.SchemaError{Field: col.Path, Reason: err.Error()}
		}
		out.set(col.Name, val)
	}

	return out, nil
}

func (t *Transformer) dynamic(raw RawRecord) (OutputRecord, error) {
	for _, f := range t.schema.RequiredFields {
		if v, ok := raw.Fields[f]; !ok || v == nil {
			return OutputRecord{}, &errs.SchemaError{Field: f}
		}
	}

	out := OutputRecord{
		Columns: make([]string, 0, len(raw.Fields)),
		Values:  make(map[string]string, len(raw.Fields)),
	}
	for _, key := range sortedKeys(raw.Fields) {
		kind := KindString
		_, isTS := t.timestamps[key]
		if isTS {
			kind = KindTimestamp
		}
		val, err := t.convert(kind, raw.Fields[key], false)
		if err != nil {
			return OutputRecord{}, &errs.SchemaError{Field: key, Reason: err.Error()}
		}
		out.set(key, val)
	}
	return out, nil
}

func (t *Transformer) convert(kind Kind, v any, required bool) (string, error) {
	switch kind {
	case KindTimestamp:
		if v == nil {
			if required {
				return "", fmt.Errorf("timestamp is null")
			}
			return "", nil
		}
		return FormatEpoch(v, t.schema.Location)
	case KindInt:
		if v == nil {
			return "", nil
		}
		n, err := toInt64(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case KindJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return stringify(v)
	}
}

// FormatEpoch renders a Unix-seconds value as "YYYY-MM-DD HH:MM:SS" in loc
func FormatEpoch(v any, loc *time.Location) (string, error) {
	secs, err := toInt64(v)
	if err != nil {
		return "", fmt.Errorf("not an epoch timestamp: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(secs, 0).In(loc).Format(TimeLayout), nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return floatToInt(f)
	case float64:
		return floatToInt(n)
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return floatToInt(f)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not finite", f)
	}
	return int64(f), nil
}

func stringify(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
