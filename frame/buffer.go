package frame

import (
	"fmt"
	"slices"
	"sync"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/metric"
	"github.com/c360/semlive/pkg/buffer"
)

// DefaultMaxLength is the row capacity used when none is configured.
const DefaultMaxLength = 1000

// Option configures a Buffer.
type Option func(*options)

type options struct {
	maxLength     int
	filter        []string
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithMaxLength bounds the number of retained rows. Values <= 0 use DefaultMaxLength.
func WithMaxLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLength = n
		}
	}
}

// WithFilter restricts snapshots to the named fields.
func WithFilter(fields ...string) Option {
	return func(o *options) {
		o.filter = slices.Clone(fields)
	}
}

// WithMetrics exports row buffer metrics under the given component prefix.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) Option {
	return func(o *options) {
		o.metricsReg = registry
		o.metricsPrefix = prefix
	}
}

// Buffer accumulates frame messages into a bounded table.
type Buffer struct {
	mu     sync.RWMutex
	schema *Schema
	rows   buffer.Buffer[Row]
	filter []string
	// proj holds the schema indices visible through the filter; nil means all
	proj []int
}

// NewBuffer creates an empty Buffer.
func NewBuffer(opts ...Option) (*Buffer, error) {
	o := &options{maxLength: DefaultMaxLength}
	for _, opt := range opts {
		opt(o)
	}

	rows, err := buffer.NewCircularBuffer[Row](o.maxLength,
		buffer.WithOverflowPolicy[Row](buffer.DropOldest),
		buffer.WithMetrics[Row](o.metricsReg, o.metricsPrefix),
	)
	if err != nil {
		return nil, errors.Wrap(err, "Buffer", "NewBuffer", "row buffer creation")
	}

	return &Buffer{rows: rows, filter: o.filter}, nil
}

// Push applies one message. A schema with a different layout drops all rows;
// data is appended (or replaces the rows for ActionReplace).
func (b *Buffer) Push(msg *Message) error {
	if msg == nil || (msg.Schema == nil && msg.Data == nil) {
		return errors.WrapInvalid(errors.ErrInvalidData, "Buffer", "Push", "empty message check")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	schema := b.schema
	if msg.Schema != nil {
		if err := msg.Schema.Validate(); err != nil {
			return err
		}
		schema = msg.Schema
	}

	var rows []Row
	if msg.Data != nil {
		if schema == nil {
			return errors.WrapInvalid(errors.ErrNoSchema, "Buffer", "Push", "schema check")
		}
		var err error
		if rows, err = msg.Data.rows(len(schema.Fields)); err != nil {
			return err
		}
	}

	// Validation done; mutate.
	if msg.Schema != nil {
		if !schema.sameLayout(b.schema) {
			b.rows.Clear()
		}
		b.schema = schema.clone()
		b.proj = project(b.schema, b.filter)
	}
	if msg.Action == ActionReplace {
		b.rows.Clear()
	}
	for _, r := range rows {
		if err := b.rows.Write(r); err != nil {
			return errors.Wrap(err, "Buffer", "Push", "row write")
		}
	}
	return nil
}

// SetFilter changes the visible fields. An empty list shows all fields.
func (b *Buffer) SetFilter(fields ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = slices.Clone(fields)
	b.proj = project(b.schema, b.filter)
}

// Schema returns a copy of the current (unfiltered) schema, or nil.
func (b *Buffer) Schema() *Schema {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.schema.clone()
}

// Len returns the number of buffered rows.
func (b *Buffer) Len() int {
	return b.rows.Size()
}

// Capacity returns the row limit.
func (b *Buffer) Capacity() int {
	return b.rows.Capacity()
}

// Dropped returns how many rows were evicted by the capacity limit.
func (b *Buffer) Dropped() int64 {
	return b.rows.Stats().Drops()
}

// Snapshot returns an immutable copy of the filtered table.
func (b *Buffer) Snapshot() *Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.schema == nil {
		return &Frame{}
	}

	items := b.rows.Items()
	if b.proj == nil {
		return &Frame{schema: b.schema.clone(), rows: items}
	}

	schema := b.schema.clone()
	schema.Fields = make([]Field, len(b.proj))
	for i, idx := range b.proj {
		schema.Fields[i] = b.schema.Fields[idx]
	}
	rows := make([]Row, len(items))
	for r, item := range items {
		row := make(Row, len(b.proj))
		for i, idx := range b.proj {
			row[i] = item[idx]
		}
		rows[r] = row
	}
	return &Frame{schema: schema, rows: rows}
}

// String returns a short description for logs.
func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	name := ""
	if b.schema != nil {
		name = b.schema.Name
	}
	return fmt.Sprintf("frame.Buffer{name=%q rows=%d/%d}", name, b.rows.Size(), b.rows.Capacity())
}

// project maps filter names to schema indices. Unknown names are ignored.
func project(schema *Schema, filter []string) []int {
	if schema == nil || len(filter) == 0 {
		return nil
	}
	proj := make([]int, 0, len(filter))
	for i, f := range schema.Fields {
		if slices.Contains(filter, f.Name) {
			proj = append(proj, i)
		}
	}
	return proj
}
