package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPServer is the subset of *http.Server the service needs.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService adapts an HTTP server to suture.Service.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps server with graceful shutdown.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve runs the server until ctx is cancelled or the listener fails.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string {
	return "http-server"
}

// Lifecycle is a component with explicit start and stop.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// SchedulerService adapts the daily scheduler to suture.Service.
type SchedulerService struct {
	scheduler Lifecycle
}

// NewSchedulerService wraps a scheduler.
func NewSchedulerService(scheduler Lifecycle) *SchedulerService {
	return &SchedulerService{scheduler: scheduler}
}

// Serve starts the scheduler and stops it when ctx is cancelled.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}
	<-ctx.Done()
	if err := s.scheduler.Stop(context.Background()); err != nil {
		return fmt.Errorf("scheduler stop failed: %w", err)
	}
	return ctx.Err()
}

func (s *SchedulerService) String() string {
	return "daily-scheduler"
}

// DrainService waits for an in-flight pipeline cycle on shutdown.
type DrainService struct {
	wait    func()
	timeout time.Duration
}

// NewDrainService builds a service that calls wait when the tree stops.
func NewDrainService(wait func(), timeout time.Duration) *DrainService {
	return &DrainService{wait: wait, timeout: timeout}
}

// Serve blocks until ctx is cancelled, then waits up to the timeout for wait to return.
func (d *DrainService) Serve(ctx context.Context) error {
	<-ctx.Done()
	done := make(chan struct{})
	go func() {
		d.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.timeout):
	}
	return ctx.Err()
}

func (d *DrainService) String() string {
	return "pipeline-drain"
}
