package natsclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/semlive/errors"
	"github.com/c360/semlive/live"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, DefaultPrefix, client.Prefix())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Nil(t, client.GetConnection())

	_, err = client.RTT()
	assert.ErrorIs(t, err, cerrors.ErrNotConnected)
}

func TestClientOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithPrefix("edge.live"),
		WithSessionID("sess-1"),
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithPingInterval(time.Minute),
		WithTimeout(2*time.Second),
		WithDrainTimeout(time.Second),
		WithPresenceTimeout(time.Second),
		WithPendingLimits(100, 1024),
		WithName("semlive"),
		WithCredentials("user", "pass"),
		WithLogger(SlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))),
	)
	require.NoError(t, err)
	assert.Equal(t, "edge.live", client.Prefix())
	assert.Equal(t, 3, client.maxReconnects)
	assert.Equal(t, "sess-1", client.sessionID)
	assert.Len(t, client.ConnectionOptions(), 11)

	tests := []struct {
		name string
		opt  ClientOption
	}{
		{"empty prefix", WithPrefix("")},
		{"wildcard prefix", WithPrefix("live.*")},
		{"trailing dot", WithPrefix("live.")},
		{"zero presence timeout", WithPresenceTimeout(0)},
		{"zero pending", WithPendingLimits(0, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient("nats://localhost:4222", tt.opt)
			require.Error(t, err)
			assert.True(t, cerrors.IsInvalid(err))
		})
	}
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "closed", StatusClosed.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestSubjectMapping(t *testing.T) {
	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"grafana/dashboard/uid/abc", "live.grafana.dashboard.uid.abc", false},
		{"stream/sensors/temp", "live.stream.sensors.temp", false},
		{"ds/uid-1/a/b/c", "live.ds.uid-1.a.b.c", false},
		{"grafana/broadcast", "", true},
		{"grafana/broadcast/a.b", "", true},
		{"grafana/broadcast/*", "", true},
		{"grafana/broadcast/>", "", true},
		{"grafana/broadcast/has space", "", true},
		{"grafana//x", "", true},
		{"grafana/broadcast/$presence", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := Subject(DefaultPrefix, tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, cerrors.ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	p, err := PresenceSubject("live", "grafana/broadcast/chat")
	require.NoError(t, err)
	assert.Equal(t, "live.grafana.broadcast.chat.$presence", p)

	pub, err := PublishSubject("live", "grafana/broadcast/chat")
	require.NoError(t, err)
	assert.Equal(t, "live.grafana.broadcast.chat.$publish", pub)

	assert.Equal(t, "live.$push", PushSubject("live"))
}

func TestDecodePresence(t *testing.T) {
	res, err := decodePresence([]byte(`{"clients":{"c1":{"user":"alice","info":{"tab":2}}}}`))
	require.NoError(t, err)
	require.Contains(t, res.Clients, "c1")
	assert.Equal(t, "alice", res.Clients["c1"].User)
	assert.JSONEq(t, `{"tab":2}`, string(res.Clients["c1"].Info))

	res, err = decodePresence([]byte(`{}`))
	require.NoError(t, err)
	assert.NotNil(t, res.Clients)

	_, err = decodePresence([]byte(`nope`))
	assert.ErrorIs(t, err, cerrors.ErrInvalidData)
}

func TestOperationsRequireConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.Subscribe(ctx, "grafana/broadcast/chat", func(live.SubscriptionEvent) {})
	assert.ErrorIs(t, err, cerrors.ErrNotConnected)
	assert.True(t, cerrors.IsTransient(err))

	_, err = client.Presence(ctx, "grafana/broadcast/chat")
	assert.ErrorIs(t, err, cerrors.ErrNotConnected)

	err = client.Publish(ctx, "grafana/broadcast/chat", []byte("x"))
	assert.ErrorIs(t, err, cerrors.ErrNotConnected)

	_, err = client.Subscribe(ctx, "bad", func(live.SubscriptionEvent) {})
	assert.ErrorIs(t, err, cerrors.ErrInvalidAddress)
}

func TestConnectFailure(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(200*time.Millisecond),
		WithLogger(SlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, cerrors.IsTransient(err))
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestHandlersEmitEvents(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	client.handleDisconnect(nil, errors.New("io timeout"))
	ev := <-client.Events()
	assert.Equal(t, live.TransportDisconnected, ev.Type)
	assert.EqualError(t, ev.Err, "io timeout")
	assert.Equal(t, StatusReconnecting, client.Status())

	require.NoError(t, client.Close())
	_, open := <-client.Events()
	assert.False(t, open, "close ends the event stream")
	assert.Equal(t, StatusClosed, client.Status())

	// handlers after close are ignored
	client.handleDisconnect(nil, errors.New("late"))
	assert.NoError(t, client.Close())

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, cerrors.ErrShuttingDown)
}
