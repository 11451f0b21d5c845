package live

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/metric"
	"github.com/c360/semlive/scope"
)

// DefaultReleaseGrace is how long a channel without consumers lingers before
// it shuts down.
const DefaultReleaseGrace = 250 * time.Millisecond

const (
	defaultStreamBuffer   = 32
	defaultConfigCacheTTL = time.Minute
	defaultConfigCacheLen = 1024
)

// Resolver resolves channel configs by scope tag. *scope.Resolver implements it.
type Resolver interface {
	Scope(tag string) (scope.Scope, bool)
	Resolve(ctx context.Context, tag, namespace, path string) (*scope.ChannelConfig, error)
}

// versioned is implemented by resolvers whose answers change at runtime.
// Cached configs from an older generation are discarded.
type versioned interface {
	Generation() uint64
}

type cachedConfig struct {
	cfg *scope.ChannelConfig
	gen uint64
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger. Defaults to slog.Default().
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryMetrics enables channel metrics.
func WithRegistryMetrics(m *metric.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithStreamBuffer sets the per-consumer event buffer.
func WithStreamBuffer(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.streamBuffer = n
		}
	}
}

// WithConfigCache caches resolved configs per address. size <= 0 disables the
// cache; ttl <= 0 keeps entries until evicted by size.
func WithConfigCache(size int, ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.cacheSize = size
		r.cacheTTL = ttl
	}
}

// WithReleaseGrace sets how long a channel whose last consumer detached waits
// for a new one before shutting down. A negative value disables the release.
func WithReleaseGrace(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.grace = d
	}
}

// ChannelInfo describes a registry entry.
type ChannelInfo struct {
	Address Address              `json:"address"`
	Status  Status               `json:"status"`
	Config  *scope.ChannelConfig `json:"config,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// Registry hands out at most one live Channel per Address.
type Registry struct {
	sup          *Supervisor
	resolver     Resolver
	logger       *slog.Logger
	metrics      *metric.Metrics
	streamBuffer int
	grace        time.Duration
	cacheSize    int
	cacheTTL     time.Duration
	configs      *expirable.LRU[Address, cachedConfig]

	mu       sync.Mutex
	channels map[Address]*Channel
	closed   bool
}

// NewRegistry creates a Registry over sup and resolver.
func NewRegistry(sup *Supervisor, resolver Resolver, opts ...RegistryOption) *Registry {
	r := &Registry{
		sup:          sup,
		resolver:     resolver,
		logger:       slog.Default(),
		streamBuffer: defaultStreamBuffer,
		grace:        DefaultReleaseGrace,
		cacheSize:    defaultConfigCacheLen,
		cacheTTL:     defaultConfigCacheTTL,
		channels:     make(map[Address]*Channel),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	if r.cacheSize > 0 {
		r.configs = expirable.NewLRU[Address, cachedConfig](r.cacheSize, nil, r.cacheTTL)
	}
	return r
}

// GetChannel returns the live Channel for addr, creating it if needed. It never
// blocks on I/O: a new channel starts Pending and initializes in the background.
// An unknown scope yields an already Invalid channel that is not retained.
// An entry that already ended but is not yet torn down counts as absent.
func (r *Registry) GetChannel(addr Address) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[addr]; ok && !ch.Status().Terminal() {
		return ch
	}

	if r.closed {
		return newInvalidChannel(addr,
			errors.WrapFatal(errors.ErrShuttingDown, "Registry", "GetChannel", "state check"),
			r.logger, r.metrics)
	}

	if _, ok := r.resolver.Scope(addr.Scope); !ok {
		r.metrics.RecordInitFailure("invalid_scope")
		return newInvalidChannel(addr,
			errors.WrapInvalid(errors.ErrInvalidScope, "Registry", "GetChannel", "scope "+addr.Scope),
			r.logger, r.metrics)
	}

	ch := newChannel(addr, r.sup, r.logger, r.metrics, r.streamBuffer, r.grace, r.remove)
	r.channels[addr] = ch
	r.metrics.RecordActiveChannels(len(r.channels))

	go r.initialize(ch)
	return ch
}

// initialize resolves the config, subscribes and then runs the channel. It is
// the channel's single goroutine.
func (r *Registry) initialize(ch *Channel) {
	addr := ch.addr

	cfg, err := r.resolve(ch.ctx, addr)
	if err != nil {
		if ch.ctx.Err() != nil {
			ch.finish(StatusShutdown, nil)
			return
		}
		ch.fail(err)
		return
	}
	ch.setConfig(cfg)

	sub, err := r.sup.Subscribe(ch.ctx, addr.String())
	if err != nil {
		if ch.ctx.Err() != nil {
			ch.finish(StatusShutdown, nil)
			return
		}
		if !errors.Is(err, errors.ErrSubscribeFailed) {
			err = errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrSubscribeFailed, err),
				"Registry", "initialize", "subscribe")
		}
		ch.fail(err)
		return
	}

	ch.run(sub)
}

func (r *Registry) resolve(ctx context.Context, addr Address) (*scope.ChannelConfig, error) {
	gen := r.generation()
	if r.configs != nil {
		if hit, ok := r.configs.Get(addr); ok {
			if hit.gen == gen {
				return hit.cfg, nil
			}
			r.configs.Remove(addr)
		}
	}

	cfg, err := r.resolver.Resolve(ctx, addr.Scope, addr.Namespace, addr.Path)
	if err != nil {
		return nil, err
	}
	if r.configs != nil {
		r.configs.Add(addr, cachedConfig{cfg: cfg, gen: gen})
	}
	return cfg, nil
}

func (r *Registry) generation() uint64 {
	if v, ok := r.resolver.(versioned); ok {
		return v.Generation()
	}
	return 0
}

// remove is the channel teardown callback. It only deletes the entry if it
// still points at ch.
func (r *Registry) remove(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.channels[ch.addr]; ok && cur == ch {
		delete(r.channels, ch.addr)
		r.metrics.RecordActiveChannels(len(r.channels))
	}
}

// Lookup returns the live channel for addr without creating one.
func (r *Registry) Lookup(addr Address) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[addr]
	if !ok || ch.Status().Terminal() {
		return nil, false
	}
	return ch, true
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Channels lists live channels ordered by address.
func (r *Registry) Channels() []ChannelInfo {
	r.mu.Lock()
	chans := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.mu.Unlock()

	infos := make([]ChannelInfo, 0, len(chans))
	for _, ch := range chans {
		info := ChannelInfo{Address: ch.addr, Status: ch.Status(), Config: ch.Config()}
		if err := ch.LastError(); err != nil {
			info.Error = err.Error()
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b ChannelInfo) int {
		switch {
		case a.Address.String() < b.Address.String():
			return -1
		case a.Address.String() > b.Address.String():
			return 1
		}
		return 0
	})
	return infos
}

// InvalidateConfig drops any cached config for addr.
func (r *Registry) InvalidateConfig(addr Address) {
	if r.configs != nil {
		r.configs.Remove(addr)
	}
}

// Close shuts every channel down and waits for them to end. Later GetChannel
// calls return Invalid channels.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	chans := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range chans {
		g.Go(func() error {
			ch.Shutdown()
			select {
			case <-ch.Done():
				return nil
			case <-gctx.Done():
				return errors.WrapTransient(gctx.Err(), "Registry", "Close", "shutdown "+ch.addr.String())
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.logger.Info("Registry closed", "channels", len(chans))
	return nil
}
