package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/c360/semlive/config"
	"github.com/c360/semlive/gateway"
	"github.com/c360/semlive/health"
	"github.com/c360/semlive/live"
	"github.com/c360/semlive/metric"
	"github.com/c360/semlive/natsclient"
	"github.com/c360/semlive/pkg/retry"
	"github.com/c360/semlive/scope"
)

// app wires the transport, live core, gateway and HTTP surface.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry
	monitor *health.Monitor

	transport live.Transport
	sup       *live.Supervisor
	resolver  *scope.Resolver
	reg       *live.Registry
	gw        *gateway.Gateway
	server    *http.Server

	stopTracking context.CancelFunc
	tracking     sync.WaitGroup
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	transport, err := newTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, logger, transport)
}

func newTransport(cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	n := cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(natsclient.SlogLogger(logger)),
		natsclient.WithPrefix(n.Prefix),
		natsclient.WithSessionID(cfg.SessionID),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithTimeout(n.Timeout.Std()),
		natsclient.WithPresenceTimeout(n.PresenceTimeout.Std()),
	}
	if n.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(n.ReconnectWait.Std()))
	}
	if n.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(n.PingInterval.Std()))
	}
	if n.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(n.DrainTimeout.Std()))
	}
	if n.Name != "" {
		opts = append(opts, natsclient.WithName(n.Name))
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	if n.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(n.TLS.CertFile, n.TLS.KeyFile, n.TLS.CAFile))
	}

	client, err := natsclient.NewClient(n.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	return client, nil
}

// assemble builds everything above the transport.
func assemble(cfg *config.Config, logger *slog.Logger, transport live.Transport) (*app, error) {
	metrics := metric.NewMetricsRegistry()
	core := metrics.CoreMetrics()

	connectRetry := retry.Forever()
	connectRetry.OnRetry = func(attempt int, err error, next time.Duration) {
		logger.Warn("Transport connect failed", "attempt", attempt, "error", err, "retry_in", next)
	}

	sup := live.NewSupervisor(transport,
		live.WithLogger(logger),
		live.WithMetrics(core),
		live.WithQueueSize(cfg.Live.QueueSize),
		live.WithConnectRetry(connectRetry),
	)

	resolver := scope.NewDefaultResolver()
	reg := live.NewRegistry(sup, resolver,
		live.WithRegistryLogger(logger),
		live.WithRegistryMetrics(core),
		live.WithStreamBuffer(cfg.Live.StreamBuffer),
		live.WithConfigCache(cfg.Live.ConfigCacheSize, cfg.Live.ConfigCacheTTL.Std()),
	)

	gw, err := gateway.New(reg,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
		gateway.WithCoreMetrics(core),
		gateway.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		gateway.WithFrameInterval(cfg.Live.FrameInterval.Std()),
		gateway.WithMaxFrameLength(cfg.Live.MaxFrameLength),
		gateway.WithRequestTimeout(cfg.NATS.PresenceTimeout.Std()),
	)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	monitor := health.NewMonitor()
	monitor.Register("registry", registryCheck(reg))

	a := &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		monitor:   monitor,
		transport: transport,
		sup:       sup,
		resolver:  resolver,
		reg:       reg,
		gw:        gw,
	}
	a.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Std(),
	}
	return a, nil
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	a.gw.RegisterHTTPHandlers("/", mux)
	mux.Handle("/health", health.Handler(a.monitor, appName))
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

// registryCheck reports channel counts by status. Disconnected channels make
// the registry degraded.
func registryCheck(reg *live.Registry) health.Check {
	return func() health.Status {
		counts := map[string]int{}
		for _, info := range reg.Channels() {
			counts[info.Status.String()]++
		}

		status := health.NewHealthy("registry", fmt.Sprintf("%d channels", reg.Len()))
		if n := counts[live.StatusDisconnected.String()]; n > 0 {
			status = health.NewDegraded("registry", fmt.Sprintf("%d channels disconnected", n))
		}
		return status.WithMetrics(&health.Metrics{ChannelsByKind: counts})
	}
}

// Run starts the live core and serves HTTP until ctx is done or the
// listener fails.
func (a *app) Run(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}
	a.logger.Info("Serving", "addr", ln.Addr().String())

	if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// start connects the supervisor and mirrors its state into the monitor.
func (a *app) start(ctx context.Context) error {
	if err := a.sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	trackCtx, cancel := context.WithCancel(context.Background())
	a.stopTracking = cancel
	states, stopWatch := a.sup.WatchState()
	a.tracking.Add(1)
	go func() {
		defer a.tracking.Done()
		defer stopWatch()
		a.monitor.Track(trackCtx, "transport", states)
	}()

	pushes, stopPush := a.sup.WatchPush()
	a.tracking.Add(1)
	go func() {
		defer a.tracking.Done()
		defer stopPush()
		a.logPushes(trackCtx, pushes)
	}()
	return nil
}

// logPushes records server-initiated messages. They are not addressed to a
// channel, so the binary has no consumer for them beyond the log.
func (a *app) logPushes(ctx context.Context, pushes <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-pushes:
			a.logger.Info("Server push", "bytes", len(data))
			a.logger.Debug("Server push payload", "data", string(data))
		}
	}
}

// Shutdown stops accepting viewers, then closes channels and the transport.
func (a *app) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.gw.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.reg.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.sup.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.stopTracking != nil {
		a.stopTracking()
		a.tracking.Wait()
	}
	return errors.Join(errs...)
}
