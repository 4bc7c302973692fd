package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// SourceField is the reserved record field naming the source a record was
// extracted from.
const SourceField = "__source__"

// Record is one source row: an ordered mapping of field name to raw value.
// A Record is never modified after construction; With returns a copy.
type Record struct {
	fields []string
	values map[string]any
}

// NewRecord builds a record whose field order follows fields. Fields
// missing from values are dropped; values without a listed field are
// appended in sorted order.
func NewRecord(fields []string, values map[string]any) Record {
	r := Record{values: make(map[string]any, len(values))}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		v, ok := values[f]
		if !ok || seen[f] {
			continue
		}
		seen[f] = true
		r.fields = append(r.fields, f)
		r.values[f] = v
	}
	var rest []string
	for f := range values {
		if !seen[f] {
			rest = append(rest, f)
		}
	}
	slices.Sort(rest)
	for _, f := range rest {
		r.fields = append(r.fields, f)
		r.values[f] = values[f]
	}
	return r
}

// RecordFromMap builds a record with fields in sorted order.
func RecordFromMap(values map[string]any) Record {
	return NewRecord(nil, values)
}

// Get returns the raw value of field.
func (r Record) Get(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Fields returns the field names in record order.
func (r Record) Fields() []string {
	return slices.Clone(r.fields)
}

// Len returns the number of fields.
func (r Record) Len() int {
	return len(r.fields)
}

// Source returns the SourceField value, if set.
func (r Record) Source() string {
	if v, ok := r.values[SourceField].(string); ok {
		return v
	}
	return ""
}

// With returns a copy of r with field set to value. An existing field
// keeps its position.
func (r Record) With(field string, value any) Record {
	out := Record{
		fields: slices.Clone(r.fields),
		values: make(map[string]any, len(r.values)+1),
	}
	for k, v := range r.values {
		out.values[k] = v
	}
	if _, ok := out.values[field]; !ok {
		out.fields = append(out.fields, field)
	}
	out.values[field] = value
	return out
}

// Without returns a copy of r lacking field.
func (r Record) Without(field string) Record {
	if _, ok := r.values[field]; !ok {
		return r
	}
	out := Record{values: make(map[string]any, len(r.values))}
	for _, f := range r.fields {
		if f == field {
			continue
		}
		out.fields = append(out.fields, f)
		out.values[f] = r.values[f]
	}
	return out
}

// MarshalJSON writes the record as an object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[f])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object and keeps its key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record must be a JSON object, got %v", tok)
	}

	out := Record{values: make(map[string]any)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected record key %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if _, dup := out.values[key]; !dup {
			out.fields = append(out.fields, key)
		}
		out.values[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}
