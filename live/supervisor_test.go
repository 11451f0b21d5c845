package live_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/live"
	"github.com/c360/semlive/live/livetest"
	"github.com/c360/semlive/metric"
)

func newSupervisor(t *testing.T, tr *livetest.Transport, opts ...live.SupervisorOption) *live.Supervisor {
	t.Helper()
	opts = append([]live.SupervisorOption{
		live.WithLogger(discardLogger()),
		live.WithConnectRetry(fastRetry()),
	}, opts...)
	sup := live.NewSupervisor(tr, opts...)
	t.Cleanup(func() { _ = sup.Close(context.Background()) })
	return sup
}

func TestSupervisorStateBroadcast(t *testing.T) {
	tr := livetest.New(livetest.WithManualConnect())
	reg := metric.NewMetricsRegistry()
	sup := newSupervisor(t, tr, live.WithMetrics(reg.CoreMetrics()))

	state, cancel := sup.WatchState()
	defer cancel()
	assert.False(t, <-state, "initial state is delivered")

	require.NoError(t, sup.Start(context.Background()))
	assert.False(t, sup.Connected())

	tr.SetConnected(true)
	assert.True(t, <-state)
	assert.True(t, sup.Connected())

	tr.SetConnected(false)
	assert.False(t, <-state)

	tr.SetConnected(true)
	assert.True(t, <-state)

	m := reg.CoreMetrics()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ConnectionState))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Reconnects))
}

func TestSupervisorStartTwice(t *testing.T) {
	sup := newSupervisor(t, livetest.New())
	require.NoError(t, sup.Start(context.Background()))

	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestSupervisorConnectRetries(t *testing.T) {
	tr := livetest.New(livetest.WithConnectError(2, errors.ErrConnectionTimeout))
	sup := newSupervisor(t, tr)
	require.NoError(t, sup.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, sup.WaitConnected(ctx))
	assert.Equal(t, 3, tr.ConnectCalls())
}

func TestSupervisorWaitConnected(t *testing.T) {
	tr := livetest.New(livetest.WithManualConnect())
	sup := newSupervisor(t, tr)
	require.NoError(t, sup.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sup.WaitConnected(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- sup.WaitConnected(context.Background()) }()
	tr.SetConnected(true)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("gate did not open")
	}
}

func TestSupervisorSubscribeQueues(t *testing.T) {
	tr := livetest.New(livetest.WithManualConnect())
	sup := newSupervisor(t, tr)
	require.NoError(t, sup.Start(context.Background()))

	subCh := make(chan *live.Subscription, 1)
	go func() {
		sub, err := sup.Subscribe(context.Background(), "a")
		if err == nil {
			subCh <- sub
		}
	}()

	assert.Never(t, func() bool { return tr.SubscribeCalls("a") > 0 }, 50*time.Millisecond, tick)
	tr.SetConnected(true)

	var sub *live.Subscription
	select {
	case sub = <-subCh:
	case <-time.After(waitFor):
		t.Fatal("subscribe never completed")
	}
	assert.Equal(t, "a", sub.ID())

	_, err := sup.Subscribe(context.Background(), "a")
	assert.ErrorIs(t, err, errors.ErrSubscribeFailed, "duplicate id")

	other, err := sup.Subscribe(context.Background(), "b")
	require.NoError(t, err)

	require.NoError(t, tr.Deliver("b", []byte("to-b")))
	require.NoError(t, tr.Deliver("a", []byte("to-a")))
	assert.Equal(t, "to-a", string((<-sub.Events()).Data))
	assert.Equal(t, "to-b", string((<-other.Events()).Data))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	<-sub.Done()
	assert.False(t, tr.Subscribed("a"))
	assert.ElementsMatch(t, []string{"b"}, sup.Subscriptions())

	tr.SetConnected(false)
	tr.SetConnected(true)
	assert.Never(t, func() bool { return tr.SubscribeCalls("b") > 1 }, 50*time.Millisecond, tick)
}

func TestSupervisorSubscribeTransportError(t *testing.T) {
	tr := livetest.New()
	sup := newSupervisor(t, tr)
	require.NoError(t, sup.Start(context.Background()))
	tr.FailSubscribe("x", stderrors.New("nope"))

	_, err := sup.Subscribe(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSubscribeFailed)
	assert.True(t, errors.IsTransient(err))
	assert.Empty(t, sup.Subscriptions())
}

func TestSupervisorSubscribeWaitsOutDisconnect(t *testing.T) {
	tr := livetest.New()
	sup := newSupervisor(t, tr)
	require.NoError(t, sup.Start(context.Background()))
	require.NoError(t, sup.WaitConnected(context.Background()))

	// the transport dropped after the gate opened
	tr.FailSubscribe("x", errors.ErrNotConnected)

	type result struct {
		sub *live.Subscription
		err error
	}
	done := make(chan result, 1)
	go func() {
		sub, err := sup.Subscribe(context.Background(), "x")
		done <- result{sub, err}
	}()

	require.Eventually(t, func() bool { return tr.SubscribeCalls("x") >= 2 }, waitFor, tick)
	select {
	case r := <-done:
		t.Fatalf("subscribe returned early: %v", r.err)
	default:
	}

	tr.FailSubscribe("x", nil)
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "x", r.sub.ID())
		assert.True(t, tr.Subscribed("x"))
	case <-time.After(waitFor):
		t.Fatal("subscribe never completed")
	}
}

func TestSupervisorSubscribeCancelledWhileQueued(t *testing.T) {
	tr := livetest.New()
	sup := newSupervisor(t, tr)
	require.NoError(t, sup.Start(context.Background()))
	tr.FailSubscribe("x", errors.ErrNotConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := sup.Subscribe(ctx, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, sup.Subscriptions())
}

func TestSupervisorPush(t *testing.T) {
	tr := livetest.New()
	sup := newSupervisor(t, tr)

	pushes, cancel := sup.WatchPush()
	defer cancel()
	require.NoError(t, sup.Start(context.Background()))

	tr.Push([]byte(`{"alert":"maintenance"}`))
	select {
	case msg := <-pushes:
		assert.JSONEq(t, `{"alert":"maintenance"}`, string(msg))
	case <-time.After(waitFor):
		t.Fatal("push not delivered")
	}
}

func TestSupervisorTransportClosedEndsChannels(t *testing.T) {
	h := newHarness(t)
	ch, s := connectedChannel(t, h, broadcast)

	h.tr.CloseTransport(stderrors.New("max reconnects exceeded"))

	ev := nextStatus(t, s)
	if ev.Status == live.StatusDisconnected {
		ev = nextStatus(t, s)
	}
	assert.Equal(t, live.StatusShutdown, ev.Status)
	assert.ErrorIs(t, ev.Err, errors.ErrStreamError)
	waitDone(t, ch)
	assert.False(t, h.sup.Connected())
}

func TestSupervisorClose(t *testing.T) {
	tr := livetest.New()
	sup := live.NewSupervisor(tr, live.WithLogger(discardLogger()))
	require.NoError(t, sup.Start(context.Background()))

	sub, err := sup.Subscribe(context.Background(), "a")
	require.NoError(t, err)

	require.NoError(t, sup.Close(context.Background()))
	require.NoError(t, sup.Close(context.Background()))
	<-sub.Done()

	_, err = sup.Subscribe(context.Background(), "b")
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
	assert.ErrorIs(t, sup.Start(context.Background()), errors.ErrShuttingDown)
}

func TestSupervisorPresenceAndPublishMetrics(t *testing.T) {
	tr := livetest.New()
	reg := metric.NewMetricsRegistry()
	sup := newSupervisor(t, tr, live.WithMetrics(reg.CoreMetrics()))
	require.NoError(t, sup.Start(context.Background()))

	_, err := sup.Presence(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, sup.Publish(context.Background(), "a", []byte("x")))

	m := reg.CoreMetrics()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PresenceRequests.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Publishes.WithLabelValues("ok")))
}
