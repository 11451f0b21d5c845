// Package semlive multiplexes many independently addressed live channels over
// one persistent transport connection.
//
// # Architecture
//
// A channel is identified by an address of the form scope/namespace/path. The
// path may itself contain slashes:
//
//	grafana/broadcast/cursors
//	ds/influx-prod/cpu/host-1
//	stream/sensors/temperature
//
// The pieces fit together like this:
//
//	caller ─► live.Registry.GetChannel(addr)
//	              │  (one *live.Channel per address, Pending until ready)
//	              ▼
//	         scope.Resolver ─► Support.ChannelConfig(path)
//	              │
//	              ▼
//	         live.Supervisor.Subscribe (waits for the connected gate)
//	              │
//	              ▼
//	         live.Transport (natsclient.Client over NATS)
//
// Callers consume Channel.Stream(). A new stream first replays the current
// status and the last message that carried a schema, then follows live
// events. live.FrameReader wraps a stream with a frame.Buffer and emits
// throttled, immutable snapshots.
//
// # Packages
//
//   - live: Registry, Channel, Supervisor, FrameReader and the Transport contract
//   - live/livetest: in-memory Transport for tests
//   - scope: the grafana, ds, plugin and stream scopes and their supports
//   - frame: schema/data message merging into a bounded table
//   - natsclient: NATS implementation of live.Transport
//   - gateway: websocket relay of channels to remote viewers
//   - config, health, metric, errors: ambient infrastructure
//   - pkg/buffer, pkg/retry: generic ring buffer and backoff helpers
//
// # NATS subjects
//
// Subscription ids map onto subjects under a configurable prefix:
//
//	live.grafana.broadcast.cursors            channel data
//	live.grafana.broadcast.cursors.$presence  presence request/reply
//	live.grafana.broadcast.cursors.$publish   client publish
//	live.$push                                server pushes
//
// # Running
//
//	./bin/semlive --config configs/semlive.yaml
//
// The binary serves /ws (websocket gateway), /channels, /health and /metrics.
package semlive
