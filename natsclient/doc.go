// Package natsclient implements the live transport over NATS core pub/sub.
//
// A Client owns one *nats.Conn and maps live subscription ids onto subjects:
//
//	scope/namespace/path   ->  <prefix>.<scope>.<namespace>.<path tokens>
//	presence request       ->  <subject>.$presence   (request/reply)
//	client publish         ->  <subject>.$publish
//	server push            ->  <prefix>.$push
//
// Path slashes become subject token separators, so "grafana/dashboard/uid/abc"
// under the default prefix "live" is "live.grafana.dashboard.uid.abc".
//
// Connection lifecycle is reported on Events: the NATS disconnect, reconnect and
// closed handlers become live.TransportDisconnected, live.TransportConnected and
// live.TransportClosed. Reconnection itself is left to the NATS client, and
// subscriptions survive it.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("semlive"),
//	    natsclient.WithLogger(natsclient.SlogLogger(logger)),
//	)
//	if err != nil {
//	    return err
//	}
//	sup := live.NewSupervisor(client)
//
// Each subscription gets its own NATS async handler goroutine, so a slow channel
// only delays its own messages. A NATS slow-consumer error on a subscription ends
// that subscription with a stream error.
//
// # Testing
//
// NewTestClient starts a NATS server in a container (testcontainers-go) and
// returns a connected Client. Integration tests are behind the "integration"
// build tag.
package natsclient
