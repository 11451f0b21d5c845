// Package livetest provides an in-memory live.Transport for tests.
package livetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/live"
)

// Option configures a Transport.
type Option func(*Transport)

// WithManualConnect makes Connect return without connecting. Call SetConnected
// to bring the connection up.
func WithManualConnect() Option {
	return func(t *Transport) {
		t.manual = true
	}
}

// WithConnectError makes the first n Connect calls fail.
func WithConnectError(n int, err error) Option {
	return func(t *Transport) {
		t.connectFailures = n
		t.connectErr = err
	}
}

// Published is one recorded client publish.
type Published struct {
	ID   string
	Data []byte
}

// Transport is an in-memory live.Transport. Subscriptions receive data through
// Deliver; connection state is driven by SetConnected.
type Transport struct {
	manual          bool
	connectFailures int
	connectErr      error

	mu             sync.Mutex
	events         chan live.TransportEvent
	closed         bool
	connected      bool
	connectCalls   int
	sinks          map[string]live.Sink
	subscribeCalls map[string]int
	subscribeErrs  map[string]error
	unsubErrs      map[string]error
	presence       map[string]*live.PresenceResult
	published      []Published
}

var _ live.Transport = (*Transport)(nil)

// New creates a Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		events:         make(chan live.TransportEvent, 64),
		sinks:          make(map[string]live.Sink),
		subscribeCalls: make(map[string]int),
		subscribeErrs:  make(map[string]error),
		unsubErrs:      make(map[string]error),
		presence:       make(map[string]*live.PresenceResult),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect implements live.Transport.
func (t *Transport) Connect(_ context.Context) error {
	t.mu.Lock()
	t.connectCalls++
	if t.connectCalls <= t.connectFailures {
		t.mu.Unlock()
		return t.connectErr
	}
	manual := t.manual
	t.mu.Unlock()

	if !manual {
		t.SetConnected(true)
	}
	return nil
}

// ConnectCalls returns how often Connect was called.
func (t *Transport) ConnectCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCalls
}

// SetConnected emits a connected or disconnected event.
func (t *Transport) SetConnected(up bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.connected = up
	typ := live.TransportDisconnected
	if up {
		typ = live.TransportConnected
	}
	t.events <- live.TransportEvent{Type: typ}
}

// Push emits a server push message.
func (t *Transport) Push(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.events <- live.TransportEvent{Type: live.TransportPush, Data: data}
	}
}

// Events implements live.Transport.
func (t *Transport) Events() <-chan live.TransportEvent {
	return t.events
}

// FailSubscribe makes Subscribe(id) fail with err.
func (t *Transport) FailSubscribe(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribeErrs[id] = err
}

// FailUnsubscribe makes unsubscribing id return err. The subscription is
// still removed.
func (t *Transport) FailUnsubscribe(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubErrs[id] = err
}

// Subscribe implements live.Transport.
func (t *Transport) Subscribe(_ context.Context, id string, sink live.Sink) (live.Unsubscriber, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.subscribeCalls[id]++
	if err := t.subscribeErrs[id]; err != nil {
		return nil, err
	}
	if !t.connected {
		return nil, errors.ErrNotConnected
	}
	t.sinks[id] = sink
	return unsubscriber{t: t, id: id}, nil
}

// SubscribeCalls returns how often id was subscribed.
func (t *Transport) SubscribeCalls(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribeCalls[id]
}

// Subscribed reports whether id has an active subscription.
func (t *Transport) Subscribed(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sinks[id]
	return ok
}

// Deliver hands data to the subscription for id. It blocks while the
// subscriber's queue is full.
func (t *Transport) Deliver(id string, data []byte) error {
	return t.deliver(id, live.SubscriptionEvent{Data: data})
}

// Fail ends the subscription for id with err.
func (t *Transport) Fail(id string, err error) error {
	return t.deliver(id, live.SubscriptionEvent{Err: err})
}

func (t *Transport) deliver(id string, ev live.SubscriptionEvent) error {
	t.mu.Lock()
	sink, ok := t.sinks[id]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("livetest: no subscription %q", id)
	}
	sink(ev)
	return nil
}

// SetPresence sets the roster returned for id.
func (t *Transport) SetPresence(id string, res *live.PresenceResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.presence[id] = res
}

// Presence implements live.Transport.
func (t *Transport) Presence(_ context.Context, id string) (*live.PresenceResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil, errors.ErrNotConnected
	}
	res, ok := t.presence[id]
	if !ok {
		return &live.PresenceResult{Clients: map[string]live.PresenceClient{}}, nil
	}
	return res, nil
}

// Publish implements live.Transport.
func (t *Transport) Publish(_ context.Context, id string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return errors.ErrNotConnected
	}
	t.published = append(t.published, Published{ID: id, Data: data})
	return nil
}

// Published returns the recorded publishes.
func (t *Transport) Published() []Published {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Published, len(t.published))
	copy(out, t.published)
	return out
}

// CloseTransport emits TransportClosed, as a transport that gave up would.
func (t *Transport) CloseTransport(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.connected = false
		t.events <- live.TransportEvent{Type: live.TransportClosed, Err: err}
	}
}

// Close implements live.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		t.connected = false
		close(t.events)
	}
	return nil
}

type unsubscriber struct {
	t  *Transport
	id string
}

func (u unsubscriber) Unsubscribe() error {
	u.t.mu.Lock()
	defer u.t.mu.Unlock()
	delete(u.t.sinks, u.id)
	return u.t.unsubErrs[u.id]
}
