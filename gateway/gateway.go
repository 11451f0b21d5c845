package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/frame"
	"github.com/c360/semlive/live"
	"github.com/c360/semlive/metric"
)

const (
	defaultQueueSize      = 256
	defaultPingInterval   = 30 * time.Second
	defaultReadTimeout    = 60 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultRequestTimeout = 5 * time.Second
	maxRequestSize        = 64 << 10
)

// Option configures a Gateway.
type Option func(*Gateway) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// WithMetrics registers gateway metrics on registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(g *Gateway) error {
		m, err := newMetrics(registry)
		if err != nil {
			return err
		}
		g.metrics = m
		return nil
	}
}

// WithAllowedOrigins restricts websocket upgrades to the given Origin values.
// Requests without an Origin header are always accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(g *Gateway) error {
		g.origins = slices.Clone(origins)
		return nil
	}
}

// WithQueueSize sets the per-connection reply queue capacity.
func WithQueueSize(n int) Option {
	return func(g *Gateway) error {
		if n <= 0 {
			return errors.ErrInvalidConfig
		}
		g.queueSize = n
		return nil
	}
}

// WithPingInterval sets how often idle connections are pinged. Connections
// that stay silent for twice the interval are closed.
func WithPingInterval(d time.Duration) Option {
	return func(g *Gateway) error {
		if d <= 0 {
			return errors.ErrInvalidConfig
		}
		g.pingInterval = d
		g.readTimeout = 2 * d
		return nil
	}
}

// WithRequestTimeout bounds presence and publish requests.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gateway) error {
		if d <= 0 {
			return errors.ErrInvalidConfig
		}
		g.requestTimeout = d
		return nil
	}
}

// WithFrameInterval sets the minimum interval between frame snapshots for
// frame subscriptions. Zero sends every update.
func WithFrameInterval(d time.Duration) Option {
	return func(g *Gateway) error {
		if d < 0 {
			return errors.ErrInvalidConfig
		}
		g.frameInterval = d
		return nil
	}
}

// WithMaxFrameLength bounds the rows kept per frame subscription.
func WithMaxFrameLength(n int) Option {
	return func(g *Gateway) error {
		if n <= 0 {
			return errors.ErrInvalidConfig
		}
		g.maxFrameLength = n
		return nil
	}
}

// WithCoreMetrics records frame reader metrics on m.
func WithCoreMetrics(m *metric.Metrics) Option {
	return func(g *Gateway) error {
		g.core = m
		return nil
	}
}

// Gateway serves live channels to websocket viewers.
type Gateway struct {
	source         ChannelSource
	logger         *slog.Logger
	metrics        *Metrics
	core           *metric.Metrics
	origins        []string
	upgrader       websocket.Upgrader
	queueSize      int
	pingInterval   time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	requestTimeout time.Duration
	frameInterval  time.Duration
	maxFrameLength int

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
	wg     sync.WaitGroup
}

var _ HTTPHandler = (*Gateway)(nil)

// New creates a Gateway over source.
func New(source ChannelSource, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		source:         source,
		logger:         slog.Default(),
		queueSize:      defaultQueueSize,
		pingInterval:   defaultPingInterval,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		requestTimeout: defaultRequestTimeout,
		frameInterval:  live.DefaultFrameInterval,
		maxFrameLength: frame.DefaultMaxLength,
		conns:          make(map[string]*conn),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "New", "apply option")
		}
	}
	g.logger = g.logger.With("component", "gateway")
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g, nil
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.origins) == 0 {
		return true
	}
	return slices.Contains(g.origins, origin)
}

// RegisterHTTPHandlers mounts <prefix>ws and <prefix>channels.
func (g *Gateway) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.Handle(prefix+"ws", g)
	mux.HandleFunc(prefix+"channels", g.handleChannels)
}

func (g *Gateway) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(g.source.Channels()); err != nil {
		g.logger.Warn("Failed to write channel listing", "error", err)
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.metrics.error("upgrade")
		g.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}

	c, err := newConn(g, ws)
	if err != nil {
		g.metrics.error("queue")
		_ = ws.Close()
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = ws.Close()
		return
	}
	g.conns[c.id] = c
	count := len(g.conns)
	g.wg.Add(1)
	g.mu.Unlock()

	g.metrics.connected(count)
	g.logger.Debug("Viewer connected", "conn", c.id, "remote", r.RemoteAddr)

	defer g.wg.Done()
	c.serve()
}

func (g *Gateway) remove(c *conn) {
	g.mu.Lock()
	delete(g.conns, c.id)
	count := len(g.conns)
	g.mu.Unlock()

	g.metrics.disconnected(count)
	g.logger.Debug("Viewer disconnected", "conn", c.id)
}

// Clients returns the number of connected viewers.
func (g *Gateway) Clients() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Close disconnects every viewer and waits for their handlers to return.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.goAway()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Gateway", "Close", "wait for viewers")
	}
}

func newConnID() string {
	return uuid.NewString()
}
