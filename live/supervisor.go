package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/metric"
	"github.com/c360/semlive/pkg/retry"
)

const (
	defaultQueueSize     = 64
	defaultPushQueueSize = 16
)

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables core metrics recording.
func WithMetrics(m *metric.Metrics) SupervisorOption {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithConnectRetry sets the backoff used for Transport.Connect.
// Defaults to retry.Forever().
func WithConnectRetry(cfg retry.Config) SupervisorOption {
	return func(s *Supervisor) {
		s.retry = cfg
	}
}

// WithQueueSize sets the per-subscription queue length.
func WithQueueSize(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// Supervisor owns the single transport connection.
type Supervisor struct {
	transport Transport
	logger    *slog.Logger
	metrics   *metric.Metrics
	retry     retry.Config
	resub     retry.Config
	queueSize int

	mu        sync.Mutex
	started   bool
	closed    bool
	connected bool
	everUp    bool
	gate      chan struct{} // closed while connected
	watchers  map[int]chan bool
	pushes    map[int]chan []byte
	nextWatch int
	subs      map[string]*Subscription

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewSupervisor creates a Supervisor for transport. Call Start to connect.
func NewSupervisor(transport Transport, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		transport: transport,
		logger:    slog.Default(),
		retry:     retry.Forever(),
		resub:     resubscribeRetry(),
		queueSize: defaultQueueSize,
		gate:      make(chan struct{}),
		watchers:  make(map[int]chan bool),
		pushes:    make(map[int]chan []byte),
		subs:      make(map[string]*Subscription),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "supervisor")
	return s
}

// Start begins connecting in the background and returns immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WrapFatal(errors.ErrShuttingDown, "Supervisor", "Start", "state check")
	}
	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Supervisor", "Start", "state check")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.dispatch()
	go s.connect(runCtx)
	return nil
}

func (s *Supervisor) connect(ctx context.Context) {
	defer s.wg.Done()

	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		s.logger.Warn("Transport connect failed, retrying",
			"attempt", attempt, "error", err, "backoff", next)
	}

	err := retry.Do(ctx, cfg, func() error {
		return s.transport.Connect(ctx)
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("Transport connect abandoned", "error", err)
	}
}

// dispatch consumes transport events until the event stream closes.
func (s *Supervisor) dispatch() {
	defer s.wg.Done()

	for ev := range s.transport.Events() {
		switch ev.Type {
		case TransportConnected:
			s.setConnected(true)
		case TransportDisconnected:
			s.logger.Warn("Transport disconnected", "error", ev.Err)
			s.setConnected(false)
		case TransportPush:
			s.metrics.RecordPush()
			s.broadcastPush(ev.Data)
		case TransportClosed:
			s.logger.Error("Transport closed", "error", ev.Err)
			s.setConnected(false)
			s.failAll(ev.Err)
		}
	}
}

func (s *Supervisor) setConnected(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected == up {
		return
	}
	s.connected = up
	s.metrics.RecordConnectionState(up)

	if up {
		if s.everUp {
			s.metrics.RecordReconnect()
			s.logger.Info("Transport reconnected")
		} else {
			s.logger.Info("Transport connected")
		}
		s.everUp = true
		close(s.gate)
	} else {
		s.gate = make(chan struct{})
	}

	for _, w := range s.watchers {
		sendLatest(w, up)
	}
}

// sendLatest replaces any unread value in a 1-slot channel. Callers hold the
// lock that makes them the only sender.
func sendLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

func (s *Supervisor) broadcastPush(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.pushes {
		select {
		case w <- data:
		default:
			s.logger.Debug("Push watcher full, dropping message")
		}
	}
}

func (s *Supervisor) failAll(cause error) {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if cause == nil {
		cause = errors.ErrConnectionLost
	}
	err := errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrStreamError, cause),
		"Supervisor", "dispatch", "transport closed")
	for _, sub := range subs {
		// The transport is gone, so this cannot race a transport delivery.
		go sub.deliver(SubscriptionEvent{Err: err})
	}
}

// Connected reports the current connection state.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// WaitConnected blocks until the transport is connected, ctx is done or the
// Supervisor is closed.
func (s *Supervisor) WaitConnected(ctx context.Context) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errors.WrapFatal(errors.ErrShuttingDown, "Supervisor", "WaitConnected", "connected gate")
	}
}

// WatchState returns a channel that receives the current connection state and
// then every change. Intermediate values may be skipped by slow readers; the
// latest value is always delivered. Call cancel to stop watching.
func (s *Supervisor) WatchState() (<-chan bool, func()) {
	ch := make(chan bool, 1)

	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch
	ch <- s.connected
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// WatchPush returns a channel of server-pushed messages. Messages are dropped
// when the reader falls behind.
func (s *Supervisor) WatchPush() (<-chan []byte, func()) {
	ch := make(chan []byte, defaultPushQueueSize)

	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.pushes[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.pushes, id)
		s.mu.Unlock()
	}
}

// Subscribe waits for the connected gate and then subscribes id on the
// transport. Inbound events are queued on the returned Subscription.
// A subscription is never re-created on reconnect.
func (s *Supervisor) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	if err := s.WaitConnected(ctx); err != nil {
		return nil, err
	}

	sub := &Subscription{
		id:     id,
		sup:    s,
		events: make(chan SubscriptionEvent, s.queueSize),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.WrapFatal(errors.ErrShuttingDown, "Supervisor", "Subscribe", "state check")
	}
	if _, exists := s.subs[id]; exists {
		s.mu.Unlock()
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s already subscribed", errors.ErrSubscribeFailed, id),
			"Supervisor", "Subscribe", "duplicate check")
	}
	s.subs[id] = sub
	s.mu.Unlock()

	handle, err := s.subscribe(ctx, id, sub.deliver)
	if err != nil {
		s.remove(sub)
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrSubscribeFailed, err),
			"Supervisor", "Subscribe", "transport subscribe "+id)
	}

	sub.mu.Lock()
	sub.handle = handle
	closed := sub.closed
	sub.mu.Unlock()
	if closed {
		// Close raced the transport call
		_ = handle.Unsubscribe()
	}

	s.logger.Debug("Subscribed", "id", id)
	return sub, nil
}

// resubscribeRetry paces subscribe attempts that lost the connection between
// the gate and the transport call. It gives up only with ctx.
func resubscribeRetry() retry.Config {
	cfg := retry.Quick()
	cfg.MaxAttempts = -1
	return cfg
}

// subscribe calls the transport, waiting out disconnects that happen after the
// gate opened. Any other transport error is final.
func (s *Supervisor) subscribe(ctx context.Context, id string, sink Sink) (Unsubscriber, error) {
	var handle Unsubscriber
	err := retry.Do(ctx, s.resub, func() error {
		if err := s.WaitConnected(ctx); err != nil {
			return retry.NonRetryable(err)
		}
		h, err := s.transport.Subscribe(ctx, id, sink)
		if err != nil {
			if errors.Is(err, errors.ErrNotConnected) {
				s.logger.Debug("Transport not connected, subscribe queued", "id", id)
				return err
			}
			return retry.NonRetryable(err)
		}
		handle = h
		return nil
	})
	var final *retry.NonRetryableError
	if errors.As(err, &final) {
		err = final.Err
	}
	return handle, err
}

func (s *Supervisor) remove(sub *Subscription) {
	s.mu.Lock()
	if s.subs[sub.id] == sub {
		delete(s.subs, sub.id)
	}
	s.mu.Unlock()
}

// Subscriptions returns the ids of live subscriptions.
func (s *Supervisor) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	return ids
}

// Presence requests the presence roster for subscription id.
func (s *Supervisor) Presence(ctx context.Context, id string) (*PresenceResult, error) {
	start := time.Now()
	if err := s.WaitConnected(ctx); err != nil {
		s.metrics.RecordPresence("error", time.Since(start))
		return nil, err
	}

	res, err := s.transport.Presence(ctx, id)
	if err != nil {
		s.metrics.RecordPresence("error", time.Since(start))
		return nil, errors.WrapTransient(err, "Supervisor", "Presence", "presence request "+id)
	}
	s.metrics.RecordPresence("ok", time.Since(start))
	return res, nil
}

// Publish sends data on subscription id.
func (s *Supervisor) Publish(ctx context.Context, id string, data []byte) error {
	if err := s.WaitConnected(ctx); err != nil {
		s.metrics.RecordPublish("error")
		return err
	}
	if err := s.transport.Publish(ctx, id, data); err != nil {
		s.metrics.RecordPublish("error")
		return errors.WrapTransient(err, "Supervisor", "Publish", "publish "+id)
	}
	s.metrics.RecordPublish("ok")
	return nil
}

// Close unsubscribes everything, closes the transport and waits for the
// background goroutines.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	g, _ := errgroup.WithContext(ctx)
	for _, sub := range subs {
		g.Go(sub.Close)
	}
	subErr := g.Wait()

	closeErr := s.transport.Close()

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Supervisor", "Close", "wait for dispatch")
	}

	if subErr != nil {
		return errors.Wrap(subErr, "Supervisor", "Close", "unsubscribe")
	}
	return errors.Wrap(closeErr, "Supervisor", "Close", "transport close")
}

// Subscription is the Supervisor-owned queue of one transport subscription.
type Subscription struct {
	id     string
	sup    *Supervisor
	events chan SubscriptionEvent
	done   chan struct{}

	mu     sync.Mutex
	handle Unsubscriber
	closed bool
	once   sync.Once
}

// ID returns the subscription id.
func (s *Subscription) ID() string {
	return s.id
}

// Events returns the inbound queue. It is never closed; select on Done.
func (s *Subscription) Events() <-chan SubscriptionEvent {
	return s.events
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// deliver is the transport Sink. It blocks while the queue is full.
func (s *Subscription) deliver(ev SubscriptionEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Close unsubscribes from the transport. It is idempotent.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		handle := s.handle
		s.mu.Unlock()

		close(s.done)
		s.sup.remove(s)
		if handle != nil {
			err = handle.Unsubscribe()
		}
	})
	return err
}
