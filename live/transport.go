package live

import (
	"context"
	"encoding/json"
)

// TransportEventType enumerates connection-level transport events.
type TransportEventType int

const (
	// TransportConnected is sent on the initial connection and on every reconnect.
	TransportConnected TransportEventType = iota
	// TransportDisconnected is sent when the connection drops. The transport keeps
	// reconnecting on its own.
	TransportDisconnected
	// TransportPush carries a server message not bound to any subscription.
	TransportPush
	// TransportClosed means the transport gave up and will not reconnect.
	TransportClosed
)

// String returns the event type name.
func (t TransportEventType) String() string {
	switch t {
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportPush:
		return "push"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportEvent is one connection-level event.
type TransportEvent struct {
	Type TransportEventType
	Data []byte
	Err  error
}

// SubscriptionEvent is one inbound event for a subscription. A non-nil Err ends
// the subscription.
type SubscriptionEvent struct {
	Data []byte
	Err  error
}

// Sink receives the events of one subscription in arrival order. It may block
// until the consumer has room.
type Sink func(SubscriptionEvent)

// Unsubscriber cancels a transport subscription.
type Unsubscriber interface {
	Unsubscribe() error
}

// PresenceClient is one entry of a presence roster.
type PresenceClient struct {
	User string          `json:"user"`
	Info json.RawMessage `json:"info,omitempty"`
}

// PresenceResult is the roster of clients present on a channel, keyed by
// client id.
type PresenceResult struct {
	Clients map[string]PresenceClient `json:"clients"`
}

// Transport is the pub/sub connection a Supervisor drives. Reconnection is the
// transport's job; subscriptions survive reconnects.
type Transport interface {
	// Connect starts connecting. It may return before the connection is up;
	// TransportConnected on Events signals readiness.
	Connect(ctx context.Context) error

	// Events returns the connection event stream. It is closed by Close.
	Events() <-chan TransportEvent

	// Subscribe registers sink for subscription id.
	Subscribe(ctx context.Context, id string, sink Sink) (Unsubscriber, error)

	// Presence requests the roster for subscription id.
	Presence(ctx context.Context, id string) (*PresenceResult, error)

	// Publish sends data on subscription id.
	Publish(ctx context.Context, id string, data []byte) error

	Close() error
}
