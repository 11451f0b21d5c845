package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/frame"
	"github.com/c360/semlive/metric"
	"github.com/c360/semlive/scope"
)

// Status is the lifecycle state of a Channel.
type Status int

const (
	StatusPending Status = iota
	StatusConnected
	StatusDisconnected
	StatusShutdown
	StatusInvalid
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusShutdown:
		return "shutdown"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusShutdown || s == StatusInvalid
}

// MarshalText encodes the status name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventType distinguishes stream events.
type EventType int

const (
	EventStatus EventType = iota
	EventMessage
)

// Event is one item of a channel stream.
type Event struct {
	Type EventType
	Time time.Time

	// Status events
	Status Status
	Err    error

	// Message events. Message is set when Data decodes as a frame message.
	Data    []byte
	Message *frame.Message
}

// Channel is one live subscription. Obtain channels from a Registry.
type Channel struct {
	addr         Address
	sup          *Supervisor
	logger       *slog.Logger
	metrics      *metric.Metrics
	streamBuffer int
	grace        time.Duration
	teardown     func(*Channel)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	status  Status
	err     error
	config  *scope.ChannelConfig
	last    *Event
	streams map[*Stream]struct{}
	holds   int
	idleGen uint64

	ready        chan struct{} // closed when config is known or the channel ended
	readyOnce    sync.Once
	shutdownOnce sync.Once
	finishOnce   sync.Once
	done         chan struct{}
}

func newChannel(addr Address, sup *Supervisor, logger *slog.Logger, m *metric.Metrics,
	streamBuffer int, grace time.Duration, teardown func(*Channel)) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	if streamBuffer < 2 {
		streamBuffer = 2
	}
	return &Channel{
		addr:         addr,
		sup:          sup,
		logger:       logger.With("channel", addr.String()),
		metrics:      m,
		streamBuffer: streamBuffer,
		grace:        grace,
		teardown:     teardown,
		ctx:          ctx,
		cancel:       cancel,
		status:       StatusPending,
		streams:      make(map[*Stream]struct{}),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// newInvalidChannel returns a channel that is already Invalid and owned by no
// registry.
func newInvalidChannel(addr Address, err error, logger *slog.Logger, m *metric.Metrics) *Channel {
	c := newChannel(addr, nil, logger, m, 2, -1, nil)
	c.finish(StatusInvalid, err)
	return c
}

// Address returns the channel address.
func (c *Channel) Address() Address {
	return c.addr
}

// Status returns the current status.
func (c *Channel) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LastError returns the error of the last status transition, if any.
func (c *Channel) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Config returns the resolved channel config, or nil until scope resolution
// succeeds.
func (c *Channel) Config() *scope.ChannelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.config == nil {
		return nil
	}
	cfg := *c.config
	return &cfg
}

// Done is closed when the channel reaches Shutdown or Invalid.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Shutdown ends the channel. It is idempotent and does not wait; use Done.
func (c *Channel) Shutdown() {
	c.shutdownOnce.Do(c.cancel)
}

// Stream attaches a new consumer. The consumer first receives the current
// status and the last message that carried a schema, then live events.
// When the last consumer detaches the channel shuts down after the release
// grace unless another consumer attaches first.
func (c *Channel) Stream() *Stream {
	s := newStream(c, c.streamBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()

	s.events <- c.statusEventLocked()
	if c.last != nil {
		s.events <- *c.last
	}
	if c.status.Terminal() {
		s.end()
		return s
	}
	c.streams[s] = struct{}{}
	c.idleGen++
	return s
}

// Hold keeps the channel alive without consuming events, for one-shot
// requests such as presence or publish. The returned func releases the hold;
// it counts as a detaching consumer.
func (c *Channel) Hold() (release func()) {
	c.mu.Lock()
	held := !c.status.Terminal()
	if held {
		c.holds++
		c.idleGen++
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			if !held {
				return
			}
			c.mu.Lock()
			c.holds--
			c.releaseIfIdleLocked()
			c.mu.Unlock()
		})
	}
}

func (c *Channel) detach(s *Stream) {
	c.mu.Lock()
	if _, ok := c.streams[s]; ok {
		delete(c.streams, s)
		c.releaseIfIdleLocked()
	}
	c.mu.Unlock()
}

// releaseIfIdleLocked arms the release timer when nobody is attached. Any
// attach in between bumps idleGen and disarms it.
func (c *Channel) releaseIfIdleLocked() {
	if c.grace < 0 || c.status.Terminal() || len(c.streams)+c.holds > 0 {
		return
	}
	c.idleGen++
	gen := c.idleGen
	time.AfterFunc(c.grace, func() {
		c.mu.Lock()
		idle := gen == c.idleGen && len(c.streams)+c.holds == 0 && !c.status.Terminal()
		c.mu.Unlock()
		if idle {
			c.logger.Debug("Releasing channel without consumers")
			c.Shutdown()
		}
	})
}

func (c *Channel) statusEventLocked() Event {
	return Event{Type: EventStatus, Time: time.Now(), Status: c.status, Err: c.err}
}

// Presence requests the presence roster. It fails with
// errors.ErrCapabilityUnsupported when the channel has no presence; the channel
// status is never changed by this call.
func (c *Channel) Presence(ctx context.Context) (*PresenceResult, error) {
	cfg, err := c.awaitConfig(ctx, "Presence")
	if err != nil {
		return nil, err
	}
	if !cfg.HasPresence {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: presence on %s", errors.ErrCapabilityUnsupported, c.addr),
			"Channel", "Presence", "capability check")
	}
	return c.sup.Presence(ctx, c.addr.String())
}

// Publish sends data to the channel. It fails with
// errors.ErrCapabilityUnsupported when the channel does not accept publishes.
func (c *Channel) Publish(ctx context.Context, data []byte) error {
	cfg, err := c.awaitConfig(ctx, "Publish")
	if err != nil {
		return err
	}
	if !cfg.CanPublish {
		return errors.WrapInvalid(fmt.Errorf("%w: publish on %s", errors.ErrCapabilityUnsupported, c.addr),
			"Channel", "Publish", "capability check")
	}
	return c.sup.Publish(ctx, c.addr.String(), data)
}

func (c *Channel) awaitConfig(ctx context.Context, method string) (*scope.ChannelConfig, error) {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status.Terminal() {
		return nil, errors.WrapInvalid(errors.ErrChannelClosed, "Channel", method, "status check")
	}
	return c.config, nil
}

func (c *Channel) setConfig(cfg *scope.ChannelConfig) {
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })
}

// emit records ev and fans it out. Only the channel's own goroutine calls it.
func (c *Channel) emit(ev Event, abort <-chan struct{}) {
	c.mu.Lock()
	switch ev.Type {
	case EventStatus:
		c.status = ev.Status
		c.err = ev.Err
	case EventMessage:
		if ev.Message.HasSchema() {
			e := ev
			c.last = &e
		}
	}
	targets := make([]*Stream, 0, len(c.streams))
	for s := range c.streams {
		targets = append(targets, s)
	}
	c.mu.Unlock()

	for _, s := range targets {
		s.send(ev, abort)
	}
}

func (c *Channel) setStatus(status Status, err error) {
	c.mu.RLock()
	same := c.status == status && err == nil
	c.mu.RUnlock()
	if same {
		return
	}

	c.metrics.RecordTransition(status.String())
	c.logger.Debug("Channel status", "status", status.String(), "error", err)
	c.emit(Event{Type: EventStatus, Time: time.Now(), Status: status, Err: err}, c.ctx.Done())
}

// finish moves the channel to a terminal status exactly once. The registry
// entry is removed before consumers see the terminal event, which is handed
// out without blocking.
func (c *Channel) finish(status Status, err error) {
	c.finishOnce.Do(func() {
		c.cancel()
		c.metrics.RecordTransition(status.String())
		if err != nil {
			c.logger.Info("Channel ended", "status", status.String(), "error", err)
		} else {
			c.logger.Debug("Channel ended", "status", status.String())
		}

		ev := Event{Type: EventStatus, Time: time.Now(), Status: status, Err: err}
		c.mu.Lock()
		c.status = status
		c.err = err
		streams := c.streams
		c.streams = nil
		c.mu.Unlock()

		c.readyOnce.Do(func() { close(c.ready) })
		close(c.done)
		if c.teardown != nil {
			c.teardown(c)
		}

		for s := range streams {
			s.terminate(ev)
		}
	})
}

// fail ends a channel whose initialization failed.
func (c *Channel) fail(err error) {
	c.metrics.RecordInitFailure(errors.Kind(err))
	c.finish(StatusInvalid, err)
}

// run consumes the subscription queue until the channel ends.
func (c *Channel) run(sub *Subscription) {
	state, stopWatch := c.sup.WatchState()
	defer stopWatch()

	c.setStatus(StatusConnected, nil)

	for {
		select {
		case <-c.ctx.Done():
			if err := sub.Close(); err != nil {
				c.logger.Warn("Unsubscribe failed", "error", err)
			}
			c.finish(StatusShutdown, nil)
			return

		case <-sub.Done():
			c.finish(StatusShutdown, nil)
			return

		case up := <-state:
			switch {
			case up && c.Status() == StatusDisconnected:
				c.setStatus(StatusConnected, nil)
			case !up && c.Status() == StatusConnected:
				c.setStatus(StatusDisconnected, nil)
			}

		case ev := <-sub.Events():
			if ev.Err != nil {
				if err := sub.Close(); err != nil {
					c.logger.Warn("Unsubscribe failed", "error", err)
				}
				c.finish(StatusShutdown, errors.WrapTransient(streamErr(ev.Err), "Channel", "run", "receive"))
				return
			}
			if c.Status() != StatusConnected {
				c.logger.Debug("Dropping message while disconnected")
				continue
			}
			c.metrics.RecordMessage(c.addr.Scope)
			msg, _ := frame.Decode(ev.Data)
			c.emit(Event{Type: EventMessage, Time: time.Now(), Data: ev.Data, Message: msg}, c.ctx.Done())
		}
	}
}

func streamErr(err error) error {
	if errors.Is(err, errors.ErrStreamError) {
		return err
	}
	return fmt.Errorf("%w: %w", errors.ErrStreamError, err)
}
