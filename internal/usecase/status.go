package usecase

import (
	"context"
	"fmt"
	"time"

	"DigestCurator/internal/ports"
)

// StatusIdle is reported when no run has ever been recorded.
const StatusIdle = "IDLE"

// StatusSnapshot is the externally visible view of the latest run.
type StatusSnapshot struct {
	ID             string     `json:"id,omitempty"`
	Status         string     `json:"status"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	LogSummary     string     `json:"log_summary,omitempty"`
	UsersProcessed int        `json:"users_processed"`
}

// LatestStatus reads the most recent run, or IDLE when none exists.
func LatestStatus(ctx context.Context, runs ports.RunRepository) (StatusSnapshot, error) {
	run, ok, err := runs.LatestRun(ctx)
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("latest run: %w", err)
	}
	if !ok {
		return StatusSnapshot{Status: StatusIdle}, nil
	}
	started := run.StartedAt
	return StatusSnapshot{
		ID:             run.ID,
		Status:         string(run.Status),
		StartTime:      &started,
		EndTime:        run.EndedAt,
		LogSummary:     run.LogSummary,
		UsersProcessed: run.UsersProcessed,
	}, nil
}
