package live

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/frame"
	"github.com/c360/semlive/metric"
)

// DefaultFrameInterval is the minimum time between two emitted snapshots.
const DefaultFrameInterval = time.Second

// FrameReaderOption configures a FrameReader.
type FrameReaderOption func(*FrameReader)

// WithInterval sets the minimum emission interval. Zero disables throttling.
func WithInterval(d time.Duration) FrameReaderOption {
	return func(r *FrameReader) {
		if d >= 0 {
			r.interval = d
		}
	}
}

// WithRenderReady lets the consumer signal spare capacity. When fn returns
// true a snapshot is emitted immediately regardless of the interval.
func WithRenderReady(fn func() bool) FrameReaderOption {
	return func(r *FrameReader) {
		r.renderReady = fn
	}
}

// WithFrameBuffer uses buf instead of a default frame.Buffer.
func WithFrameBuffer(buf *frame.Buffer) FrameReaderOption {
	return func(r *FrameReader) {
		r.buf = buf
	}
}

// WithReaderLogger sets the logger.
func WithReaderLogger(logger *slog.Logger) FrameReaderOption {
	return func(r *FrameReader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReaderMetrics records emitted and coalesced frames.
func WithReaderMetrics(m *metric.Metrics) FrameReaderOption {
	return func(r *FrameReader) {
		r.metrics = m
	}
}

// FrameReader merges a Stream's messages into a frame.Buffer and emits
// snapshots no more often than the configured interval. When the consumer
// falls behind only the newest snapshot is kept.
type FrameReader struct {
	stream      *Stream
	buf         *frame.Buffer
	interval    time.Duration
	renderReady func() bool
	logger      *slog.Logger
	metrics     *metric.Metrics

	frames   chan *frame.Frame
	statuses chan Event
}

// NewFrameReader creates a reader over stream. Call Run to start it.
func NewFrameReader(stream *Stream, opts ...FrameReaderOption) (*FrameReader, error) {
	r := &FrameReader{
		stream:   stream,
		interval: DefaultFrameInterval,
		logger:   slog.Default(),
		frames:   make(chan *frame.Frame, 1),
		statuses: make(chan Event, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.buf == nil {
		buf, err := frame.NewBuffer()
		if err != nil {
			return nil, errors.Wrap(err, "FrameReader", "NewFrameReader", "buffer creation")
		}
		r.buf = buf
	}
	r.logger = r.logger.With("component", "frame_reader", "channel", stream.ch.addr.String())
	return r, nil
}

// Frames delivers snapshots. It is closed when Run returns.
func (r *FrameReader) Frames() <-chan *frame.Frame {
	return r.frames
}

// Statuses delivers the latest channel status event. It is closed when Run
// returns.
func (r *FrameReader) Statuses() <-chan Event {
	return r.statuses
}

// Run consumes the stream until it ends or ctx is done. It returns the channel's
// terminal error, if any, or ctx.Err().
func (r *FrameReader) Run(ctx context.Context) error {
	defer close(r.frames)
	defer close(r.statuses)
	defer r.stream.Close()

	var limiter *rate.Limiter
	if r.interval > 0 {
		limiter = rate.NewLimiter(rate.Every(r.interval), 1)
	}

	var (
		pending bool
		flush   <-chan time.Time
		timer   *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-flush:
			flush = nil
			if pending {
				pending = false
				r.emit()
			}

		case ev, ok := <-r.events():
			if !ok {
				if pending {
					r.emit()
				}
				return r.stream.ch.LastError()
			}

			if ev.Type == EventStatus {
				sendLatest(r.statuses, ev)
				continue
			}
			if ev.Message == nil {
				continue
			}
			if err := r.buf.Push(ev.Message); err != nil {
				r.logger.Warn("Dropping frame message", "error", err)
				continue
			}

			switch {
			case limiter == nil, r.renderReady != nil && r.renderReady():
				pending = false
				r.emit()
			case flush != nil:
				// a flush is already scheduled
				pending = true
				r.metrics.RecordFrameCoalesced()
			case limiter.Allow():
				r.emit()
			default:
				pending = true
				r.metrics.RecordFrameCoalesced()
				delay := limiter.Reserve().Delay()
				if timer == nil {
					timer = time.NewTimer(delay)
				} else {
					timer.Reset(delay)
				}
				flush = timer.C
			}
		}
	}
}

func (r *FrameReader) events() <-chan Event {
	return r.stream.Events()
}

func (r *FrameReader) emit() {
	r.metrics.RecordFrameEmitted()
	sendLatest(r.frames, r.buf.Snapshot())
}
