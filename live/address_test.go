package live

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlive/errors"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want Address
		err  bool
	}{
		{"grafana/dashboard/uid/abc", Address{"grafana", "dashboard", "uid/abc"}, false},
		{"stream/sensors/temp", Address{"stream", "sensors", "temp"}, false},
		{"ds/uid-1/a/b/c", Address{"ds", "uid-1", "a/b/c"}, false},
		{"grafana/dashboard", Address{}, true},
		{"grafana//path", Address{}, true},
		{"/ns/path", Address{}, true},
		{"grafana/ns/", Address{}, true},
		{"", Address{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.err {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidAddress)
				assert.True(t, got.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "shutdown", StatusShutdown.String())
	assert.Equal(t, "invalid", StatusInvalid.String())
	assert.Equal(t, "unknown", Status(42).String())

	assert.True(t, StatusShutdown.Terminal())
	assert.True(t, StatusInvalid.Terminal())
	assert.False(t, StatusDisconnected.Terminal())

	b, err := StatusConnected.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "connected", string(b))
}

func TestTransportEventTypeString(t *testing.T) {
	assert.Equal(t, "connected", TransportConnected.String())
	assert.Equal(t, "disconnected", TransportDisconnected.String())
	assert.Equal(t, "push", TransportPush.String())
	assert.Equal(t, "closed", TransportClosed.String())
	assert.Equal(t, "unknown", TransportEventType(9).String())
}
