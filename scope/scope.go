package scope

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/semlive/errors"
)

// Scope tags as they appear in channel addresses.
const (
	TagCore       = "grafana"
	TagDataSource = "ds"
	TagPlugin     = "plugin"
	TagStream     = "stream"
)

// ChannelConfig describes what a channel path supports.
type ChannelConfig struct {
	Path           string `json:"path"`
	Description    string `json:"description,omitempty"`
	CanPublish     bool   `json:"canPublish"`
	HasPresence    bool   `json:"hasPresence"`
	HasInitialData bool   `json:"hasInitialData"`
}

// Support yields the config for a path within one namespace.
// It returns nil for unknown paths.
type Support interface {
	ChannelConfig(path string) *ChannelConfig
}

// SupportFunc adapts a function to Support.
type SupportFunc func(path string) *ChannelConfig

// ChannelConfig calls f(path).
func (f SupportFunc) ChannelConfig(path string) *ChannelConfig {
	return f(path)
}

// StaticSupport serves a fixed set of paths.
type StaticSupport map[string]ChannelConfig

// ChannelConfig returns a copy of the configured entry with Path set.
func (s StaticSupport) ChannelConfig(path string) *ChannelConfig {
	cfg, ok := s[path]
	if !ok {
		return nil
	}
	cfg.Path = path
	return &cfg
}

// Scope resolves the Support for a namespace. A nil Support with a nil error
// means the namespace is not supported. Implementations may block (for example
// to load a plugin) and must honor ctx.
type Scope interface {
	ChannelSupport(ctx context.Context, namespace string) (Support, error)
}

// LoaderFunc lazily produces the Support for a namespace not registered yet.
type LoaderFunc func(ctx context.Context, namespace string) (Support, error)

// dynamicScope is a namespace table filled at runtime.
type dynamicScope struct {
	name     string
	mu       sync.RWMutex
	supports map[string]Support
	loader   LoaderFunc
	changed  func()
}

func newDynamicScope(name string, loader LoaderFunc) *dynamicScope {
	return &dynamicScope{name: name, supports: make(map[string]Support), loader: loader}
}

// Register binds a Support to a namespace, replacing any previous one.
func (s *dynamicScope) Register(namespace string, support Support) error {
	if namespace == "" || support == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: empty namespace or nil support", errors.ErrInvalidConfig),
			s.name, "Register", "argument check")
	}
	s.mu.Lock()
	s.supports[namespace] = support
	changed := s.changed
	s.mu.Unlock()
	if changed != nil {
		changed()
	}
	return nil
}

// Unregister removes a namespace. It reports whether it was present.
func (s *dynamicScope) Unregister(namespace string) bool {
	s.mu.Lock()
	_, ok := s.supports[namespace]
	delete(s.supports, namespace)
	changed := s.changed
	s.mu.Unlock()
	if ok && changed != nil {
		changed()
	}
	return ok
}

// onChange sets the hook run after every Register and effective Unregister.
func (s *dynamicScope) onChange(fn func()) {
	s.mu.Lock()
	s.changed = fn
	s.mu.Unlock()
}

// Namespaces lists the registered namespaces.
func (s *dynamicScope) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.supports))
	for ns := range s.supports {
		out = append(out, ns)
	}
	return out
}

func (s *dynamicScope) ChannelSupport(ctx context.Context, namespace string) (Support, error) {
	s.mu.RLock()
	support, ok := s.supports[namespace]
	s.mu.RUnlock()
	if ok {
		return support, nil
	}
	if s.loader == nil {
		return nil, nil
	}

	support, err := s.loader(ctx, namespace)
	if err != nil {
		return nil, errors.WrapTransient(err, s.name, "ChannelSupport", "load namespace "+namespace)
	}
	if support == nil {
		return nil, nil
	}

	s.mu.Lock()
	// a concurrent Register wins over the loaded value
	if existing, ok := s.supports[namespace]; ok {
		support = existing
	} else {
		s.supports[namespace] = support
	}
	s.mu.Unlock()
	return support, nil
}

// DataSourceScope maps datasource uids to their channel support.
type DataSourceScope struct {
	*dynamicScope
}

// NewDataSourceScope creates an empty datasource scope. loader may be nil.
func NewDataSourceScope(loader LoaderFunc) *DataSourceScope {
	return &DataSourceScope{newDynamicScope("DataSourceScope", loader)}
}

// PluginScope maps plugin ids to their channel support.
type PluginScope struct {
	*dynamicScope
}

// NewPluginScope creates an empty plugin scope. loader may be nil.
func NewPluginScope(loader LoaderFunc) *PluginScope {
	return &PluginScope{newDynamicScope("PluginScope", loader)}
}

// StreamScope accepts any namespace. Every non-empty path is a publishable stream.
type StreamScope struct{}

// ChannelSupport always returns the stream support.
func (StreamScope) ChannelSupport(_ context.Context, namespace string) (Support, error) {
	if namespace == "" {
		return nil, nil
	}
	return SupportFunc(func(path string) *ChannelConfig {
		if path == "" {
			return nil
		}
		return &ChannelConfig{
			Path:        path,
			Description: "stream " + namespace,
			CanPublish:  true,
		}
	}), nil
}
