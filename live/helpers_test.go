package live_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/semlive/live"
	"github.com/c360/semlive/live/livetest"
	"github.com/c360/semlive/pkg/retry"
	"github.com/c360/semlive/scope"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	broadcast = live.Address{Scope: "grafana", Namespace: "broadcast", Path: "chat"}
	testdata  = live.Address{Scope: "grafana", Namespace: "testdata", Path: "random-2s-stream"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type syncBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: -1, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

type harness struct {
	tr       *livetest.Transport
	sup      *live.Supervisor
	reg      *live.Registry
	resolver *scope.Resolver
}

func newHarness(t *testing.T, opts ...livetest.Option) *harness {
	t.Helper()
	return newHarnessWith(t, nil, opts...)
}

func newHarnessWith(t *testing.T, regOpts []live.RegistryOption, opts ...livetest.Option) *harness {
	t.Helper()

	tr := livetest.New(opts...)
	sup := live.NewSupervisor(tr,
		live.WithLogger(discardLogger()),
		live.WithConnectRetry(fastRetry()),
		live.WithQueueSize(4),
	)
	require.NoError(t, sup.Start(context.Background()))

	resolver := scope.NewDefaultResolver()
	reg := live.NewRegistry(sup, resolver, append([]live.RegistryOption{
		live.WithRegistryLogger(discardLogger()),
		live.WithStreamBuffer(4),
	}, regOpts...)...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = reg.Close(ctx)
		_ = sup.Close(ctx)
	})
	return &harness{tr: tr, sup: sup, reg: reg, resolver: resolver}
}

func waitStatus(t *testing.T, ch *live.Channel, want live.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return ch.Status() == want }, waitFor, tick,
		"channel %s never reached %s (now %s)", ch.Address(), want, ch.Status())
}

func waitDone(t *testing.T, ch *live.Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(waitFor):
		t.Fatalf("channel %s did not end", ch.Address())
	}
}

// next reads one event or fails the test.
func next(t *testing.T, s *live.Stream) live.Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		return live.Event{}
	}
}

// nextStatus skips message events until a status event arrives.
func nextStatus(t *testing.T, s *live.Stream) live.Event {
	t.Helper()
	for {
		ev := next(t, s)
		if ev.Type == live.EventStatus {
			return ev
		}
	}
}

func requireClosed(t *testing.T, s *live.Stream) {
	t.Helper()
	select {
	case _, ok := <-s.Events():
		require.False(t, ok, "expected stream to be closed")
	case <-time.After(waitFor):
		t.Fatal("stream not closed")
	}
}

const schemaMsg = `{"schema":{"name":"chat","fields":[{"name":"time","type":"time"},{"name":"text","type":"string"}]}}`

func dataMsg(ts int, text string) []byte {
	return []byte(`{"data":{"values":[[` + strconv.Itoa(ts) + `],["` + text + `"]]}}`)
}
