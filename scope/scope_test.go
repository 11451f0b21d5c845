package scope

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlive/errors"
)

func TestCoreScope(t *testing.T) {
	core := NewCoreScope()
	ctx := context.Background()

	assert.Equal(t, []string{"broadcast", "dashboard", "testdata"}, core.Namespaces())

	tests := []struct {
		namespace   string
		path        string
		found       bool
		hasPresence bool
		canPublish  bool
		initialData bool
	}{
		{"broadcast", "anything/goes", true, true, true, false},
		{"broadcast", "", false, false, false, false},
		{"dashboard", "uid/abc123", true, true, true, false},
		{"dashboard", "abc", false, false, false, false},
		{"dashboard", "uid/", false, false, false, false},
		{"dashboard", "uid/a/b", false, false, false, false},
		{"testdata", "random-2s-stream", true, false, false, true},
		{"testdata", "random-1s-stream", false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.namespace+"/"+tt.path, func(t *testing.T) {
			support, err := core.ChannelSupport(ctx, tt.namespace)
			require.NoError(t, err)
			require.NotNil(t, support)

			cfg := support.ChannelConfig(tt.path)
			if !tt.found {
				assert.Nil(t, cfg)
				return
			}
			require.NotNil(t, cfg)
			assert.Equal(t, tt.path, cfg.Path)
			assert.Equal(t, tt.hasPresence, cfg.HasPresence)
			assert.Equal(t, tt.canPublish, cfg.CanPublish)
			assert.Equal(t, tt.initialData, cfg.HasInitialData)
		})
	}

	support, err := core.ChannelSupport(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, support)
}

func TestDynamicScopeRegister(t *testing.T) {
	ds := NewDataSourceScope(nil)
	ctx := context.Background()

	support, err := ds.ChannelSupport(ctx, "prom-1")
	require.NoError(t, err)
	assert.Nil(t, support)

	require.NoError(t, ds.Register("prom-1", StaticSupport{"metrics": {HasInitialData: true}}))
	assert.Equal(t, []string{"prom-1"}, ds.Namespaces())

	support, err = ds.ChannelSupport(ctx, "prom-1")
	require.NoError(t, err)
	require.NotNil(t, support)
	cfg := support.ChannelConfig("metrics")
	require.NotNil(t, cfg)
	assert.Equal(t, "metrics", cfg.Path)
	assert.True(t, cfg.HasInitialData)

	assert.True(t, ds.Unregister("prom-1"))
	assert.False(t, ds.Unregister("prom-1"))

	err = ds.Register("", StaticSupport{})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	err = ds.Register("x", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestDynamicScopeLoader(t *testing.T) {
	var calls atomic.Int32
	plugins := NewPluginScope(func(_ context.Context, ns string) (Support, error) {
		calls.Add(1)
		switch ns {
		case "loki":
			return StaticSupport{"tail": {HasPresence: false}}, nil
		case "broken":
			return nil, stderrors.New("plugin not installed")
		default:
			return nil, nil
		}
	})
	ctx := context.Background()

	support, err := plugins.ChannelSupport(ctx, "loki")
	require.NoError(t, err)
	require.NotNil(t, support)

	_, err = plugins.ChannelSupport(ctx, "loki")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "loaded support is cached")

	support, err = plugins.ChannelSupport(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, support)

	_, err = plugins.ChannelSupport(ctx, "broken")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestStreamScope(t *testing.T) {
	ctx := context.Background()
	support, err := StreamScope{}.ChannelSupport(ctx, "sensors")
	require.NoError(t, err)
	require.NotNil(t, support)

	cfg := support.ChannelConfig("temp/room1")
	require.NotNil(t, cfg)
	assert.True(t, cfg.CanPublish)
	assert.False(t, cfg.HasPresence)
	assert.Nil(t, support.ChannelConfig(""))

	support, err = StreamScope{}.ChannelSupport(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, support)
}

func TestResolverResolve(t *testing.T) {
	r := NewDefaultResolver()
	ctx := context.Background()

	for _, tag := range []string{TagCore, TagDataSource, TagPlugin, TagStream} {
		_, ok := r.Scope(tag)
		assert.True(t, ok, tag)
	}
	_, ok := r.Scope("bogus")
	assert.False(t, ok)

	cfg, err := r.Resolve(ctx, "grafana", "dashboard", "uid/abc")
	require.NoError(t, err)
	assert.True(t, cfg.HasPresence)

	tests := []struct {
		name      string
		tag, ns   string
		path      string
		want      error
		wantLabel string
	}{
		{"unknown scope", "bogus", "x", "y", errors.ErrInvalidScope, "invalid_scope"},
		{"unknown namespace", "grafana", "nope", "y", errors.ErrUnsupportedNamespace, "unsupported_namespace"},
		{"unregistered datasource", "ds", "uid-1", "y", errors.ErrUnsupportedNamespace, "unsupported_namespace"},
		{"dashboard unknown path", "grafana", "dashboard", "abc", errors.ErrUnknownPath, "unknown_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := r.Resolve(ctx, tt.tag, tt.ns, tt.path)
			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsInvalid(err))
			assert.Equal(t, tt.wantLabel, errors.Kind(err))
		})
	}

	require.NoError(t, r.DataSources().Register("uid-1", StaticSupport{"y": {}}))
	_, err = r.Resolve(ctx, "ds", "uid-1", "y")
	require.NoError(t, err)
	assert.NotNil(t, r.Plugins())
}

func TestResolverPartial(t *testing.T) {
	r := NewResolver(NewCoreScope(), nil, nil, nil)
	_, ok := r.Scope(TagStream)
	assert.False(t, ok)
	assert.Nil(t, r.DataSources())
}

func TestResolverGeneration(t *testing.T) {
	r := NewDefaultResolver()
	start := r.Generation()

	require.NoError(t, r.DataSources().Register("uid-1", StaticSupport{"cpu": {}}))
	assert.Equal(t, start+1, r.Generation())

	assert.False(t, r.Plugins().Unregister("missing"), "no-op unregister")
	assert.Equal(t, start+1, r.Generation())

	assert.True(t, r.DataSources().Unregister("uid-1"))
	assert.Equal(t, start+2, r.Generation())

	require.NoError(t, r.Plugins().Register("clock", StaticSupport{"tick": {}}))
	assert.Equal(t, start+3, r.Generation())
}
