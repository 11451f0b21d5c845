// Package live multiplexes many independently addressed channels over a single
// transport connection.
//
// The moving parts:
//
//   - Supervisor owns the one Transport. It broadcasts connection state, holds a
//     connected gate that subscriptions wait on, and routes inbound publications
//     into a per-subscription queue.
//   - Registry hands out at most one Channel per Address. GetChannel returns
//     immediately with a Pending channel and initializes it in the background:
//     scope resolution, then Supervisor.Subscribe.
//   - Channel is a per-address state machine (Pending, Connected, Disconnected,
//     Shutdown, Invalid) with a multicast event Stream. New consumers first receive
//     the current status and the last message that carried a schema.
//   - FrameReader turns a Stream into throttled frame.Frame snapshots.
//
// Basic usage:
//
//	sup := live.NewSupervisor(transport, live.WithLogger(logger))
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	reg := live.NewRegistry(sup, scope.NewDefaultResolver())
//
//	ch := reg.GetChannel(live.Address{Scope: "grafana", Namespace: "broadcast", Path: "chat"})
//	stream := ch.Stream()
//	defer stream.Close()
//	for ev := range stream.Events() {
//	    ...
//	}
//
// Initialization failures never surface through GetChannel; they arrive as a
// status event on the channel's stream and in Channel.LastError.
package live
