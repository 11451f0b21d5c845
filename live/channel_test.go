package live_test

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/live"
)

func connectedChannel(t *testing.T, h *harness, addr live.Address) (*live.Channel, *live.Stream) {
	t.Helper()
	ch := h.reg.GetChannel(addr)
	s := ch.Stream()
	t.Cleanup(s.Close)

	for {
		ev := nextStatus(t, s)
		if ev.Status == live.StatusConnected {
			return ch, s
		}
		require.Equal(t, live.StatusPending, ev.Status)
	}
}

// awaitConnected returns once ch is connected. The channel is held, not
// streamed, until the test ends.
func awaitConnected(t *testing.T, h *harness, addr live.Address) *live.Channel {
	t.Helper()
	ch, s := connectedChannel(t, h, addr)
	t.Cleanup(ch.Hold())
	s.Close()
	return ch
}

func TestStreamReplaysStatusAndSchema(t *testing.T) {
	h := newHarness(t)
	ch, first := connectedChannel(t, h, broadcast)
	id := broadcast.String()

	require.NoError(t, h.tr.Deliver(id, []byte(schemaMsg)))
	require.NoError(t, h.tr.Deliver(id, dataMsg(1, "hi")))

	ev := next(t, first)
	require.Equal(t, live.EventMessage, ev.Type)
	require.True(t, ev.Message.HasSchema())
	ev = next(t, first)
	require.Equal(t, live.EventMessage, ev.Type)
	require.False(t, ev.Message.HasSchema())

	late := ch.Stream()
	defer late.Close()

	ev = next(t, late)
	assert.Equal(t, live.EventStatus, ev.Type)
	assert.Equal(t, live.StatusConnected, ev.Status)

	ev = next(t, late)
	assert.Equal(t, live.EventMessage, ev.Type)
	assert.JSONEq(t, schemaMsg, string(ev.Data))
	assert.Equal(t, "chat", ev.Message.Schema.Name)

	require.NoError(t, h.tr.Deliver(id, dataMsg(2, "again")))
	ev = next(t, late)
	assert.Equal(t, live.EventMessage, ev.Type)
	assert.Equal(t, []any{"again"}, ev.Message.Data.Values[1])
}

func TestStreamsSeeSameOrder(t *testing.T) {
	h := newHarness(t)
	ch, a := connectedChannel(t, h, broadcast)
	b := ch.Stream()
	defer b.Close()
	require.Equal(t, live.StatusConnected, next(t, b).Status)

	const n = 20
	go func() {
		for i := 0; i < n; i++ {
			_ = h.tr.Deliver(broadcast.String(), []byte(`{"seq":`+strconv.Itoa(i)+`}`))
		}
	}()

	for i := 0; i < n; i++ {
		want := `{"seq":` + strconv.Itoa(i) + `}`
		evA := next(t, a)
		evB := next(t, b)
		assert.Equal(t, want, string(evA.Data))
		assert.Equal(t, want, string(evB.Data))
		assert.Nil(t, evA.Message, "non-frame payloads carry raw data only")
	}
}

func TestLastDetachReleasesChannel(t *testing.T) {
	h := newHarness(t)
	ch, s := connectedChannel(t, h, broadcast)
	other := ch.Stream()
	next(t, other)

	s.Close()
	s.Close()
	assert.Never(t, func() bool { return ch.Status() != live.StatusConnected },
		2*live.DefaultReleaseGrace, tick, "one consumer is still attached")

	other.Close()
	waitDone(t, ch)
	assert.Equal(t, live.StatusShutdown, ch.Status())
	assert.NoError(t, ch.LastError())
	assert.Equal(t, 0, h.reg.Len())
	assert.False(t, h.tr.Subscribed(broadcast.String()))

	again := h.reg.GetChannel(broadcast)
	assert.NotSame(t, ch, again)
}

func TestReattachWithinGraceKeepsChannel(t *testing.T) {
	h := newHarnessWith(t, []live.RegistryOption{live.WithReleaseGrace(300 * time.Millisecond)})
	ch, s := connectedChannel(t, h, broadcast)

	require.NoError(t, h.tr.Deliver(broadcast.String(), []byte(schemaMsg)))
	next(t, s)
	s.Close()

	again := h.reg.GetChannel(broadcast)
	require.Same(t, ch, again)
	st := again.Stream()
	defer st.Close()

	assert.Never(t, func() bool { return ch.Status() != live.StatusConnected }, 500*time.Millisecond, tick)
	assert.Equal(t, live.StatusConnected, next(t, st).Status)
	assert.JSONEq(t, schemaMsg, string(next(t, st).Data))
}

func TestHoldKeepsChannel(t *testing.T) {
	h := newHarnessWith(t, []live.RegistryOption{live.WithReleaseGrace(20 * time.Millisecond)})
	ch, s := connectedChannel(t, h, broadcast)

	release := ch.Hold()
	s.Close()
	assert.Never(t, func() bool { return ch.Status() != live.StatusConnected }, 100*time.Millisecond, tick)

	release()
	release()
	waitDone(t, ch)
	assert.Equal(t, 0, h.reg.Len())
}

func TestReleaseDisabled(t *testing.T) {
	h := newHarnessWith(t, []live.RegistryOption{live.WithReleaseGrace(-1)})
	ch, s := connectedChannel(t, h, broadcast)
	s.Close()

	assert.Never(t, func() bool { return ch.Status() != live.StatusConnected }, 100*time.Millisecond, tick)
	got, ok := h.reg.Lookup(broadcast)
	require.True(t, ok)
	assert.Same(t, ch, got)
}

func TestShutdownWithStalledConsumer(t *testing.T) {
	h := newHarness(t)
	ch := h.reg.GetChannel(broadcast)
	waitStatus(t, ch, live.StatusConnected)

	// never read until the channel has ended
	stalled := ch.Stream()
	for i := 0; i < 6; i++ {
		require.NoError(t, h.tr.Deliver(broadcast.String(), []byte(`{"seq":`+strconv.Itoa(i)+`}`)))
	}

	ch.Shutdown()
	waitDone(t, ch)
	assert.Equal(t, live.StatusShutdown, ch.Status())

	_, ok := h.reg.Lookup(broadcast)
	assert.False(t, ok)
	fresh := h.reg.GetChannel(broadcast)
	assert.NotSame(t, ch, fresh)
	waitStatus(t, fresh, live.StatusConnected)

	var last live.Event
	for ev := range stalled.Events() {
		last = ev
	}
	assert.Equal(t, live.EventStatus, last.Type)
	assert.Equal(t, live.StatusShutdown, last.Status)
}

func TestRegistryCloseWithStalledConsumer(t *testing.T) {
	h := newHarness(t)
	ch := h.reg.GetChannel(broadcast)
	waitStatus(t, ch, live.StatusConnected)

	_ = ch.Stream()
	for i := 0; i < 6; i++ {
		require.NoError(t, h.tr.Deliver(broadcast.String(), []byte(`{"seq":`+strconv.Itoa(i)+`}`)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.reg.Close(ctx))
	assert.Equal(t, live.StatusShutdown, ch.Status())
}

func TestDisconnectAndResume(t *testing.T) {
	h := newHarness(t)
	ch, s := connectedChannel(t, h, broadcast)

	h.tr.SetConnected(false)
	ev := nextStatus(t, s)
	assert.Equal(t, live.StatusDisconnected, ev.Status)
	assert.Equal(t, live.StatusDisconnected, ch.Status())

	h.tr.SetConnected(true)
	ev = nextStatus(t, s)
	assert.Equal(t, live.StatusConnected, ev.Status)

	assert.Equal(t, 1, h.tr.SubscribeCalls(broadcast.String()), "no resubscribe on reconnect")
	assert.Same(t, ch, h.reg.GetChannel(broadcast))
}

func TestStreamErrorEndsChannel(t *testing.T) {
	h := newHarness(t)
	ch, s := connectedChannel(t, h, broadcast)

	require.NoError(t, h.tr.Fail(broadcast.String(), stderrors.New("slow consumer")))

	ev := nextStatus(t, s)
	assert.Equal(t, live.StatusShutdown, ev.Status)
	require.Error(t, ev.Err)
	assert.ErrorIs(t, ev.Err, errors.ErrStreamError)
	assert.Equal(t, "stream_error", errors.Kind(ev.Err))
	requireClosed(t, s)

	waitDone(t, ch)
	assert.ErrorIs(t, ch.LastError(), errors.ErrStreamError)
	assert.Eventually(t, func() bool { return h.reg.Len() == 0 }, waitFor, tick)
	assert.False(t, h.tr.Subscribed(broadcast.String()))

	fresh := h.reg.GetChannel(broadcast)
	assert.NotSame(t, ch, fresh)
	waitStatus(t, fresh, live.StatusConnected)
}

func TestStreamErrorLogsUnsubscribeFailure(t *testing.T) {
	var logs syncBuffer
	h := newHarnessWith(t, []live.RegistryOption{
		live.WithRegistryLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	})
	ch, s := connectedChannel(t, h, broadcast)
	h.tr.FailUnsubscribe(broadcast.String(), stderrors.New("connection draining"))

	require.NoError(t, h.tr.Fail(broadcast.String(), stderrors.New("slow consumer")))

	ev := nextStatus(t, s)
	assert.ErrorIs(t, ev.Err, errors.ErrStreamError)
	waitDone(t, ch)
	assert.Contains(t, logs.String(), "Unsubscribe failed")
	assert.Contains(t, logs.String(), "connection draining")
}

func TestPresence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("unsupported", func(t *testing.T) {
		ch := awaitConnected(t, h, testdata)

		res, err := ch.Presence(ctx)
		assert.Nil(t, res)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrCapabilityUnsupported)
		assert.True(t, errors.IsInvalid(err))
		assert.Equal(t, live.StatusConnected, ch.Status())
		assert.NoError(t, ch.LastError())
	})

	t.Run("roster", func(t *testing.T) {
		h.tr.SetPresence(broadcast.String(), &live.PresenceResult{Clients: map[string]live.PresenceClient{
			"c1": {User: "alice"},
			"c2": {User: "bob", Info: []byte(`{"role":"viewer"}`)},
		}})
		ch := awaitConnected(t, h, broadcast)

		res, err := ch.Presence(ctx)
		require.NoError(t, err)
		require.Len(t, res.Clients, 2)
		assert.Equal(t, "alice", res.Clients["c1"].User)
		assert.JSONEq(t, `{"role":"viewer"}`, string(res.Clients["c2"].Info))
	})

	t.Run("after shutdown", func(t *testing.T) {
		ch := awaitConnected(t, h, broadcast)
		ch.Shutdown()
		waitDone(t, ch)

		_, err := ch.Presence(ctx)
		assert.ErrorIs(t, err, errors.ErrChannelClosed)
	})
}

func TestPresenceWaitsForConfig(t *testing.T) {
	h := newHarness(t)
	ch := h.reg.GetChannel(testdata)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err := ch.Presence(ctx)
	assert.ErrorIs(t, err, errors.ErrCapabilityUnsupported)
}

func TestPublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ch := awaitConnected(t, h, broadcast)
	require.NoError(t, ch.Publish(ctx, []byte(`{"text":"hello"}`)))

	published := h.tr.Published()
	require.Len(t, published, 1)
	assert.Equal(t, broadcast.String(), published[0].ID)
	assert.JSONEq(t, `{"text":"hello"}`, string(published[0].Data))

	td := awaitConnected(t, h, testdata)
	err := td.Publish(ctx, []byte(`{}`))
	assert.ErrorIs(t, err, errors.ErrCapabilityUnsupported)
	assert.Len(t, h.tr.Published(), 1)
}

func TestTerminalStreamAfterShutdown(t *testing.T) {
	h := newHarness(t)
	ch, s := connectedChannel(t, h, broadcast)
	require.NoError(t, h.tr.Deliver(broadcast.String(), []byte(schemaMsg)))
	next(t, s)

	ch.Shutdown()
	ev := nextStatus(t, s)
	assert.Equal(t, live.StatusShutdown, ev.Status)
	assert.NoError(t, ev.Err)
	requireClosed(t, s)

	late := ch.Stream()
	assert.Equal(t, live.StatusShutdown, next(t, late).Status)
	assert.Equal(t, live.EventMessage, next(t, late).Type, "schema replay survives shutdown")
	requireClosed(t, late)
}
