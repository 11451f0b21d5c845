// Package buffer provides a generic, thread-safe ring buffer.
//
// CircularBuffer holds at most Capacity items. When full, the overflow policy
// decides what happens to a write: DropOldest evicts the oldest item (FIFO
// eviction, the default and what live frame tables use), DropNewest discards the
// incoming item. Items returns the contents oldest-first without consuming them,
// which is what snapshotting a live table needs.
//
// Statistics are always collected. Prometheus metrics are optional:
//
//	buf, err := buffer.NewCircularBuffer[Row](1000,
//	    buffer.WithMetrics[Row](registry, "frame"),
//	    buffer.WithDropCallback[Row](func(r Row) { dropped++ }),
//	)
package buffer
