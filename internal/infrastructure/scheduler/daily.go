package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"DigestCurator/internal/ports"
)

// DailyScheduler fires a job once a day at a wall-clock time in a location.
type DailyScheduler struct {
	at     string
	loc    *time.Location
	logger *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu   sync.Mutex
	stop chan struct{}
}

var _ ports.Scheduler = (*DailyScheduler)(nil)

// NewDailyScheduler validates the HH:MM time and builds the scheduler.
func NewDailyScheduler(at string, loc *time.Location, logger *slog.Logger) (*DailyScheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := nextRun(time.Now().In(loc), at); err != nil {
		return nil, err
	}
	return &DailyScheduler{at: at, loc: loc, logger: logger, now: time.Now, after: time.After}, nil
}

// Start runs the job at every occurrence of the daily time until stopped.
func (d *DailyScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil
	}
	stop := make(chan struct{})
	d.stop = stop

	go func() {
		for {
			next, err := nextRun(d.now().In(d.loc), d.at)
			if err != nil {
				d.logger.Error("scheduler stopped", "error", err)
				return
			}
			d.logger.Info("next scheduled run", "at", next)

			select {
			case <-d.after(next.Sub(d.now())):
				job(next)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the scheduling goroutine. A job already running is not interrupted.
func (d *DailyScheduler) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == nil {
		return nil
	}
	close(d.stop)
	d.stop = nil
	return nil
}

// nextRun returns the first HH:MM occurrence strictly after now, in now's location.
func nextRun(now time.Time, hhmm string) (time.Time, error) {
	clock, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("daily time must be HH:MM: %w", err)
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), clock.Hour(), clock.Minute(), 0, 0, now.Location())
	if !t.After(now) {
		t = time.Date(now.Year(), now.Month(), now.Day()+1, clock.Hour(), clock.Minute(), 0, 0, now.Location())
	}
	return t, nil
}
