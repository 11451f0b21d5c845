package frame

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/c360/semlive/errors"
)

// FieldType names the value type of a column.
type FieldType string

// Field types understood by consumers. Unknown types pass through unchanged.
const (
	FieldTypeTime    FieldType = "time"
	FieldTypeNumber  FieldType = "number"
	FieldTypeString  FieldType = "string"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeOther   FieldType = "other"
)

// Field describes one column.
type Field struct {
	Name   string            `json:"name"`
	Type   FieldType         `json:"type,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Schema is the ordered column layout of a frame.
type Schema struct {
	Name   string  `json:"name,omitempty"`
	RefID  string  `json:"refId,omitempty"`
	Fields []Field `json:"fields"`
}

// Validate checks that every field is named and names are unique.
func (s *Schema) Validate() error {
	seen := make(map[string]struct{}, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return errors.WrapInvalid(fmt.Errorf("field %d: %w", i, errors.ErrInvalidData),
				"Schema", "Validate", "field name check")
		}
		if _, dup := seen[f.Name]; dup {
			return errors.WrapInvalid(fmt.Errorf("duplicate field %q: %w", f.Name, errors.ErrInvalidData),
				"Schema", "Validate", "field name check")
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// sameLayout reports whether two schemas have identical field names and types.
func (s *Schema) sameLayout(o *Schema) bool {
	if s == nil || o == nil {
		return false
	}
	return slices.EqualFunc(s.Fields, o.Fields, func(a, b Field) bool {
		return a.Name == b.Name && a.Type == b.Type
	})
}

func (s *Schema) clone() *Schema {
	if s == nil {
		return nil
	}
	c := *s
	c.Fields = slices.Clone(s.Fields)
	return &c
}

// Data holds column-major values: Values[i] is the column for Schema.Fields[i].
type Data struct {
	Values [][]any `json:"values"`
}

// rows transposes the columns into rows, checking the column count against width.
func (d *Data) rows(width int) ([]Row, error) {
	if len(d.Values) != width {
		return nil, errors.WrapInvalid(
			fmt.Errorf("got %d columns, schema has %d: %w", len(d.Values), width, errors.ErrInvalidData),
			"Data", "rows", "column count check")
	}
	if width == 0 {
		return nil, nil
	}

	n := len(d.Values[0])
	for i, col := range d.Values {
		if len(col) != n {
			return nil, errors.WrapInvalid(
				fmt.Errorf("column %d has %d values, expected %d: %w", i, len(col), n, errors.ErrInvalidData),
				"Data", "rows", "column length check")
		}
	}

	out := make([]Row, n)
	for r := 0; r < n; r++ {
		row := make(Row, width)
		for c := 0; c < width; c++ {
			row[c] = d.Values[c][r]
		}
		out[r] = row
	}
	return out, nil
}

// Action controls how data in a message combines with buffered rows.
type Action string

const (
	// ActionAppend adds rows after the buffered ones. It is the default.
	ActionAppend Action = "append"
	// ActionReplace drops buffered rows before adding the message rows.
	ActionReplace Action = "replace"
)

// Message is one incremental update: a schema, data, or both.
type Message struct {
	Schema *Schema `json:"schema,omitempty"`
	Data   *Data   `json:"data,omitempty"`
	Action Action  `json:"action,omitempty"`
}

// HasSchema reports whether the message defines a column layout.
func (m *Message) HasSchema() bool {
	return m != nil && m.Schema != nil
}

// Decode parses a JSON frame message.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "frame", "Decode", "json unmarshal")
	}
	if m.Schema == nil && m.Data == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "frame", "Decode", "empty message check")
	}
	return &m, nil
}

// Row is one record, values ordered as the schema fields.
type Row []any

// Frame is an immutable snapshot of a Buffer.
type Frame struct {
	schema *Schema
	rows   []Row
}

// Name returns the schema name, if any.
func (f *Frame) Name() string {
	if f.schema == nil {
		return ""
	}
	return f.schema.Name
}

// Fields returns a copy of the visible fields.
func (f *Frame) Fields() []Field {
	if f.schema == nil {
		return nil
	}
	return slices.Clone(f.schema.Fields)
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.rows)
}

// Row returns a copy of row i, oldest first.
func (f *Frame) Row(i int) Row {
	return slices.Clone(f.rows[i])
}

// Column returns the values of the named field, or false if not present.
func (f *Frame) Column(name string) ([]any, bool) {
	if f.schema == nil {
		return nil, false
	}
	idx := slices.IndexFunc(f.schema.Fields, func(fd Field) bool { return fd.Name == name })
	if idx < 0 {
		return nil, false
	}
	col := make([]any, len(f.rows))
	for i, r := range f.rows {
		col[i] = r[idx]
	}
	return col, true
}

// Message converts the snapshot back into a full (schema + data) message.
func (f *Frame) Message() *Message {
	m := &Message{Schema: f.schema.clone()}
	if f.schema == nil {
		return m
	}
	width := len(f.schema.Fields)
	values := make([][]any, width)
	for c := range values {
		values[c] = make([]any, len(f.rows))
		for r, row := range f.rows {
			values[c][r] = row[c]
		}
	}
	m.Data = &Data{Values: values}
	return m
}

// MarshalJSON encodes the snapshot in the wire message shape.
func (f *Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Message())
}
