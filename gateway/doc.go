// Package gateway relays live channels to remote viewers over websockets.
//
// Each websocket connection may hold any number of channel subscriptions.
// Requests and replies are JSON objects:
//
//	→ {"type":"subscribe","id":"1","channel":"grafana/broadcast/chat"}
//	← {"type":"ack","id":"1","channel":"grafana/broadcast/chat","timestamp":...}
//	← {"type":"status","channel":"grafana/broadcast/chat","status":"connected","timestamp":...}
//	← {"type":"message","channel":"grafana/broadcast/chat","data":{...},"timestamp":...}
//
//	→ {"type":"subscribe","id":"5","channel":"grafana/testdata/random-20Hz-stream","frames":true,"fields":["time","value"]}
//	← {"type":"frame","channel":"grafana/testdata/random-20Hz-stream","data":{"schema":{...},"data":{...}}}
//
//	→ {"type":"presence","id":"2","channel":"grafana/broadcast/chat"}
//	← {"type":"presence","id":"2","channel":"grafana/broadcast/chat","data":{"clients":{...}}}
//
//	→ {"type":"publish","id":"3","channel":"grafana/broadcast/chat","data":{"text":"hi"}}
//	→ {"type":"unsubscribe","id":"4","channel":"grafana/broadcast/chat"}
//
// Failures answer {"type":"error","id":..,"error":..,"kind":..} where kind is
// the live error kind (invalid_scope, unknown_path, capability_unsupported,
// ...). A subscription ends when its channel ends; the final status reply
// carries the channel's error, if any.
//
// Unsubscribing detaches this viewer only. A channel left without consumers
// is released by the registry after a short grace period. Presence and publish
// requests hold their channel only for the duration of the request.
//
// Outbound replies are queued per connection in a drop-oldest ring, so a slow
// viewer loses old replies instead of holding up the channel it watches.
//
// Frame subscriptions merge messages into a bounded table and send snapshots
// no more often than the frame interval (one second by default).
//
// Gateway also serves GET <prefix>channels, a JSON listing of the registry.
package gateway
