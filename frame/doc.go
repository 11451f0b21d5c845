// Package frame holds the tabular data model streamed over live channels and the
// Buffer that merges incremental schema and data messages into a bounded table.
//
// A Message carries an optional Schema (ordered fields) and optional columnar Data:
//
//	{"schema":{"name":"cpu","fields":[{"name":"time","type":"time"},{"name":"value","type":"number"}]},
//	 "data":{"values":[[1700000000000,1700000001000],[0.5,0.7]]}}
//
// A schema resets the column layout (rows are kept when the new schema has the same
// fields). Data-only messages append rows under the current schema; data that
// arrives before any schema is rejected with errors.ErrNoSchema. When the row count
// exceeds the configured maximum the oldest rows are dropped first.
//
// Snapshot returns an immutable Frame. Consumers never see the buffer internals.
package frame
