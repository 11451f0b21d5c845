package scope

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/c360/semlive/errors"
)

// Resolver maps scope tags to Scopes.
type Resolver struct {
	scopes map[string]Scope
	gen    atomic.Uint64
}

// NewResolver builds a resolver over the four scopes. A nil scope leaves its
// tag unregistered.
func NewResolver(core *CoreScope, ds *DataSourceScope, plugin *PluginScope, stream Scope) *Resolver {
	r := &Resolver{scopes: make(map[string]Scope, 4)}
	if core != nil {
		r.scopes[TagCore] = core
	}
	if ds != nil {
		r.scopes[TagDataSource] = ds
		ds.onChange(r.bump)
	}
	if plugin != nil {
		r.scopes[TagPlugin] = plugin
		plugin.onChange(r.bump)
	}
	if stream != nil {
		r.scopes[TagStream] = stream
	}
	return r
}

// NewDefaultResolver builds a resolver with the built-in core scope, empty
// datasource and plugin scopes, and the stream scope.
func NewDefaultResolver() *Resolver {
	return NewResolver(NewCoreScope(), NewDataSourceScope(nil), NewPluginScope(nil), StreamScope{})
}

// Generation changes whenever a datasource or plugin namespace is registered
// or unregistered. Configs resolved under an older generation may be stale.
func (r *Resolver) Generation() uint64 {
	return r.gen.Load()
}

func (r *Resolver) bump() {
	r.gen.Add(1)
}

// Scope returns the Scope registered for tag.
func (r *Resolver) Scope(tag string) (Scope, bool) {
	s, ok := r.scopes[tag]
	return s, ok
}

// DataSources returns the datasource scope, or nil.
func (r *Resolver) DataSources() *DataSourceScope {
	s, _ := r.scopes[TagDataSource].(*DataSourceScope)
	return s
}

// Plugins returns the plugin scope, or nil.
func (r *Resolver) Plugins() *PluginScope {
	s, _ := r.scopes[TagPlugin].(*PluginScope)
	return s
}

// Resolve finds the ChannelConfig for a scope, namespace and path.
//
// Errors carry one of errors.ErrInvalidScope, errors.ErrUnsupportedNamespace or
// errors.ErrUnknownPath, or the error returned by the Scope itself.
func (r *Resolver) Resolve(ctx context.Context, tag, namespace, path string) (*ChannelConfig, error) {
	s, ok := r.scopes[tag]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrInvalidScope, tag),
			"Resolver", "Resolve", "scope lookup")
	}

	support, err := s.ChannelSupport(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if support == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s/%s", errors.ErrUnsupportedNamespace, tag, namespace),
			"Resolver", "Resolve", "namespace lookup")
	}

	cfg := support.ChannelConfig(path)
	if cfg == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s/%s/%s", errors.ErrUnknownPath, tag, namespace, path),
			"Resolver", "Resolve", "path lookup")
	}
	return cfg, nil
}
