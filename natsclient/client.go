package natsclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/live"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is a live.Transport backed by a NATS connection.
type Client struct {
	url    string
	prefix string
	status atomic.Value // stores ConnectionStatus
	logger Logger

	// Connection options
	maxReconnects   int
	reconnectWait   time.Duration
	pingInterval    time.Duration
	timeout         time.Duration
	drainTimeout    time.Duration
	presenceTimeout time.Duration
	pendingMsgs     int
	pendingBytes    int

	// Authentication - sensitive fields cleared on close
	username string
	password string
	token    string

	// TLS
	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	// Client identification
	clientName string
	sessionID  string

	mu   sync.RWMutex
	conn *nats.Conn
	push *nats.Subscription
	subs map[string]*subscription

	events   chan live.TransportEvent
	eventsMu sync.RWMutex
	done     chan struct{}
	closing  atomic.Bool
	closeMu  sync.Mutex
}

var _ live.Transport = (*Client)(nil)

type subscription struct {
	id   string
	sub  *nats.Subscription
	sink live.Sink
}

// NewClient creates a new NATS client. It does not connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:             url,
		prefix:          DefaultPrefix,
		logger:          &defaultLogger{},
		maxReconnects:   -1, // infinite by default
		reconnectWait:   2 * time.Second,
		pingInterval:    30 * time.Second,
		timeout:         5 * time.Second,
		drainTimeout:    30 * time.Second,
		presenceTimeout: 5 * time.Second,
		pendingMsgs:     nats.DefaultSubPendingMsgsLimit,
		pendingBytes:    nats.DefaultSubPendingBytesLimit,
		subs:            make(map[string]*subscription),
		events:          make(chan live.TransportEvent, 64),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.logger.Debugf("Created NATS client for %s", url)
	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Prefix returns the subject prefix
func (m *Client) Prefix() string {
	return m.prefix
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// IsHealthy returns true if the connection is up
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	conn := m.GetConnection()
	if conn == nil || !conn.IsConnected() {
		return 0, errors.ErrNotConnected
	}
	return conn.RTT()
}

// ConnectionOptions returns the NATS connection options
func (m *Client) ConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}

	if m.tlsEnabled {
		if m.tlsCertFile != "" && m.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(m.tlsCertFile, m.tlsKeyFile))
		}
		if m.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(m.tlsCAFile))
		}
	}

	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	return opts
}

// Connect dials NATS and subscribes to server pushes. A successful connect is
// reported as live.TransportConnected.
func (m *Client) Connect(ctx context.Context) error {
	if m.closing.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, "Client", "Connect", "state check")
	}
	if m.GetConnection() != nil {
		return nil
	}

	m.setStatus(StatusConnecting)
	m.logger.Printf("Connecting to NATS at %s", m.url)

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, m.ConnectionOptions()...)
		if err != nil {
			connectDone <- err
			return
		}

		push, err := conn.Subscribe(PushSubject(m.prefix), m.handlePush)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		m.mu.Lock()
		m.conn = conn
		m.push = push
		m.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			m.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		m.setStatus(StatusDisconnected)
		// the dial goroutine may still succeed; close whatever it produces
		go func() {
			if err := <-connectDone; err == nil {
				m.mu.Lock()
				conn := m.conn
				m.conn, m.push = nil, nil
				m.mu.Unlock()
				if conn != nil {
					conn.Close()
				}
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	m.setStatus(StatusConnected)
	m.logger.Printf("Successfully connected to NATS at %s", m.url)
	m.emit(live.TransportEvent{Type: live.TransportConnected})
	return nil
}

// Events implements live.Transport.
func (m *Client) Events() <-chan live.TransportEvent {
	return m.events
}

// emit forwards a connection event unless the client is closed.
func (m *Client) emit(ev live.TransportEvent) {
	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()
	if m.closing.Load() {
		return
	}
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// Subscribe implements live.Transport. Each subscription is delivered on its
// own goroutine in arrival order.
func (m *Client) Subscribe(_ context.Context, id string, sink live.Sink) (live.Unsubscriber, error) {
	subject, err := Subject(m.prefix, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// nats.go queues subscriptions while reconnecting; only a missing or
	// closed connection is refused.
	if m.conn == nil {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "Client", "Subscribe", "connection check")
	}
	if m.conn.IsClosed() {
		return nil, errors.WrapFatal(errors.ErrConnectionLost, "Client", "Subscribe", "connection check")
	}
	if _, exists := m.subs[id]; exists {
		return nil, errors.WrapInvalid(fmt.Errorf("subscription %s already exists", id),
			"Client", "Subscribe", "duplicate check")
	}

	sub, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		sink(live.SubscriptionEvent{Data: msg.Data})
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}
	if err := sub.SetPendingLimits(m.pendingMsgs, m.pendingBytes); err != nil {
		_ = sub.Unsubscribe()
		return nil, errors.WrapInvalid(err, "Client", "Subscribe", "set pending limits")
	}

	s := &subscription{id: id, sub: sub, sink: sink}
	m.subs[id] = s
	m.logger.Debugf("Subscribed %s on %s", id, subject)
	return &unsubscriber{client: m, s: s}, nil
}

type unsubscriber struct {
	client *Client
	s      *subscription
	once   sync.Once
}

func (u *unsubscriber) Unsubscribe() error {
	var err error
	u.once.Do(func() {
		u.client.mu.Lock()
		if cur, ok := u.client.subs[u.s.id]; ok && cur == u.s {
			delete(u.client.subs, u.s.id)
		}
		u.client.mu.Unlock()

		if e := u.s.sub.Unsubscribe(); e != nil && !stderrors.Is(e, nats.ErrConnectionClosed) &&
			!stderrors.Is(e, nats.ErrBadSubscription) {
			err = errors.Wrap(e, "Client", "Unsubscribe", "unsubscribe "+u.s.id)
		}
	})
	return err
}

// Presence implements live.Transport with a NATS request/reply on
// <subject>.$presence. The reply body is a live.PresenceResult.
func (m *Client) Presence(ctx context.Context, id string) (*live.PresenceResult, error) {
	subject, err := PresenceSubject(m.prefix, id)
	if err != nil {
		return nil, err
	}
	conn := m.GetConnection()
	if conn == nil || !conn.IsConnected() {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "Client", "Presence", "connection check")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.presenceTimeout)
		defer cancel()
	}

	req, err := json.Marshal(presenceRequest{Session: m.sessionID})
	if err != nil {
		return nil, errors.Wrap(err, "Client", "Presence", "encode request")
	}

	msg, err := conn.RequestWithContext(ctx, subject, req)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Presence", "request "+subject)
	}
	return decodePresence(msg.Data)
}

type presenceRequest struct {
	Session string `json:"session,omitempty"`
}

func decodePresence(data []byte) (*live.PresenceResult, error) {
	var res live.PresenceResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
			"Client", "Presence", "decode reply")
	}
	if res.Clients == nil {
		res.Clients = map[string]live.PresenceClient{}
	}
	return &res, nil
}

// Publish implements live.Transport on <subject>.$publish.
func (m *Client) Publish(_ context.Context, id string, data []byte) error {
	subject, err := PublishSubject(m.prefix, id)
	if err != nil {
		return err
	}
	conn := m.GetConnection()
	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNotConnected, "Client", "Publish", "connection check")
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// Close drains the connection and closes the event stream.
func (m *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.drainTimeout)
	defer cancel()
	return m.CloseContext(ctx)
}

// CloseContext is Close bounded by ctx.
func (m *Client) CloseContext(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closing.Swap(true) {
		return nil
	}
	close(m.done)

	m.mu.Lock()
	conn := m.conn
	m.conn, m.push = nil, nil
	m.subs = make(map[string]*subscription)
	m.username, m.password, m.token = "", "", ""
	m.mu.Unlock()

	var drainErr error
	if conn != nil {
		drainDone := make(chan error, 1)
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
				m.logger.Errorf("Drain error: %v", err)
			}
		case <-ctx.Done():
			drainErr = errors.WrapTransient(ctx.Err(), "Client", "Close", "drain timeout")
			m.logger.Errorf("Drain did not finish, force closing")
		}
		conn.Close()
	}

	m.eventsMu.Lock()
	close(m.events)
	m.eventsMu.Unlock()

	m.setStatus(StatusClosed)
	return drainErr
}

// Event handlers for the NATS connection

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closing.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	m.logger.Printf("Disconnected from NATS: %v", err)
	m.emit(live.TransportEvent{Type: live.TransportDisconnected, Err: err})
}

func (m *Client) handleReconnect(conn *nats.Conn) {
	m.setStatus(StatusConnected)
	m.logger.Printf("Reconnected to NATS at %s", conn.ConnectedUrl())
	m.emit(live.TransportEvent{Type: live.TransportConnected})
}

func (m *Client) handleClosed(conn *nats.Conn) {
	if m.closing.Load() {
		return
	}
	m.setStatus(StatusClosed)
	err := conn.LastError()
	if err == nil {
		err = errors.ErrConnectionLost
	}
	m.logger.Errorf("NATS connection closed: %v", err)
	m.emit(live.TransportEvent{Type: live.TransportClosed, Err: err})
}

// handleError ends the subscription that hit an async error, typically a slow
// consumer.
func (m *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	m.logger.Errorf("NATS error: %v", err)
	if sub == nil {
		return
	}

	m.mu.RLock()
	var target *subscription
	for _, s := range m.subs {
		if s.sub == sub {
			target = s
			break
		}
	}
	m.mu.RUnlock()

	if target != nil {
		// The handler runs on the connection's async callback goroutine.
		go target.sink(live.SubscriptionEvent{Err: err})
	}
}

func (m *Client) handlePush(msg *nats.Msg) {
	m.emit(live.TransportEvent{Type: live.TransportPush, Data: msg.Data})
}
