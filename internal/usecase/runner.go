package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"DigestCurator/internal/domain"
)

// ErrAlreadyRunning is returned when a cycle is requested while another is in flight.
var ErrAlreadyRunning = errors.New("pipeline is already running")

// CycleRunner executes one delivery cycle.
type CycleRunner interface {
	Run(ctx context.Context, opts RunOptions) (domain.PipelineRun, error)
}

// Runner guarantees at most one cycle executes at a time within the process.
type Runner struct {
	cycles CycleRunner
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewRunner wraps a pipeline with a single-flight guard.
func NewRunner(cycles CycleRunner, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cycles: cycles, logger: logger}
}

func (r *Runner) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	r.wg.Add(1)
	return true
}

func (r *Runner) release() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.wg.Done()
}

// Running reports whether a cycle is in flight.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RunNow executes a cycle synchronously.
func (r *Runner) RunNow(ctx context.Context, opts RunOptions) (domain.PipelineRun, error) {
	if !r.acquire() {
		return domain.PipelineRun{}, ErrAlreadyRunning
	}
	defer r.release()
	return r.cycles.Run(ctx, opts)
}

// Trigger starts a cycle in the background. The cycle is detached from ctx
// cancellation since runs are not interruptible once started.
func (r *Runner) Trigger(ctx context.Context, opts RunOptions) error {
	if !r.acquire() {
		return ErrAlreadyRunning
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		defer r.release()
		run, err := r.cycles.Run(detached, opts)
		if err != nil {
			r.logger.Error("background pipeline run failed", "run_id", run.ID, "error", err)
			return
		}
		r.logger.Info("background pipeline run finished", "run_id", run.ID, "status", run.Status)
	}()
	return nil
}

// Wait blocks until no cycle is in flight.
func (r *Runner) Wait() {
	r.wg.Wait()
}
