package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPServer struct {
	listenErr error
	started   chan struct{}
	stopCh    chan struct{}
	shutdowns atomic.Int32
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{started: make(chan struct{}, 1), stopCh: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stopCh)
	return nil
}

type mockLifecycle struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (m *mockLifecycle) Start(context.Context) error {
	m.starts.Add(1)
	return nil
}

func (m *mockLifecycle) Stop(context.Context) error {
	m.stops.Add(1)
	return nil
}

func TestHTTPServerServiceShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	srv := newMockHTTPServer()
	svc := NewHTTPServerService(srv, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	<-srv.started
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.Equal(t, int32(1), srv.shutdowns.Load())
	assert.Equal(t, "http-server", svc.String())
}

func TestHTTPServerServiceReportsListenFailure(t *testing.T) {
	t.Parallel()

	srv := newMockHTTPServer()
	srv.listenErr = errors.New("address already in use")

	err := NewHTTPServerService(srv, time.Second).Serve(context.Background())
	require.ErrorContains(t, err, "address already in use")
}

func TestSchedulerServiceLifecycle(t *testing.T) {
	t.Parallel()

	sched := &mockLifecycle{}
	svc := NewSchedulerService(sched)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, svc.Serve(ctx), context.Canceled)
	assert.Equal(t, int32(1), sched.starts.Load())
	assert.Equal(t, int32(1), sched.stops.Load())
}

func TestDrainServiceWaitsForRunner(t *testing.T) {
	t.Parallel()

	var drained atomic.Bool
	svc := NewDrainService(func() { drained.Store(true) }, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, svc.Serve(ctx), context.Canceled)
	assert.True(t, drained.Load())
}

func TestTreeRunsServices(t *testing.T) {
	t.Parallel()

	tree := NewTree(slog.New(slog.NewTextHandler(io.Discard, nil)), TreeConfig{ShutdownTimeout: time.Second})
	srv := newMockHTTPServer()
	sched := &mockLifecycle{}
	tree.Add(NewHTTPServerService(srv, time.Second))
	tree.Add(NewSchedulerService(sched))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	<-srv.started
	require.Eventually(t, func() bool { return sched.starts.Load() == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	assert.Equal(t, int32(1), srv.shutdowns.Load())
	assert.Equal(t, int32(1), sched.stops.Load())
}
