package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"DigestCurator/internal/domain"
)

const runStartedLog = "Pipeline started..."

var runColumns = []string{"id", "status", "start_time", "end_time", "log_summary", "users_processed", "result"}

// CreateRun opens a RUNNING PipelineRun.
func (r *Repository) CreateRun(ctx context.Context, startedAt time.Time) (domain.PipelineRun, error) {
	run := domain.PipelineRun{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Status:     domain.RunStatusRunning,
		StartedAt:  startedAt.UTC(),
		LogSummary: runStartedLog,
	}
	_, err := exec(ctx, r.db, r.sb.Insert("pipeline_runs").
		Columns("id", "status", "start_time", "log_summary", "users_processed").
		Values(run.ID, string(run.Status), run.StartedAt, run.LogSummary, 0))
	if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// AppendRunLog appends "\n[HH:MM:SS] entry" to the run log.
func (r *Repository) AppendRunLog(ctx context.Context, runID, entry string, at time.Time) error {
	line := fmt.Sprintf("\n[%s] %s", at.Format("15:04:05"), entry)
	_, err := exec(ctx, r.db, r.sb.Update("pipeline_runs").
		Set("log_summary", sq.Expr("log_summary || ?", line)).
		Where(sq.Eq{"id": runID}))
	if err != nil {
		return fmt.Errorf("append run log: %w", err)
	}
	return nil
}

// SetUsersProcessed updates the running processed-user counter.
func (r *Repository) SetUsersProcessed(ctx context.Context, runID string, count int) error {
	_, err := exec(ctx, r.db, r.sb.Update("pipeline_runs").
		Set("users_processed", count).
		Where(sq.Eq{"id": runID}))
	if err != nil {
		return fmt.Errorf("update users processed: %w", err)
	}
	return nil
}

// FinishRun finalizes status, end time and the result payload.
func (r *Repository) FinishRun(ctx context.Context, runID string, status domain.RunStatus, result domain.RunResult, at time.Time) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	_, err = exec(ctx, r.db, r.sb.Update("pipeline_runs").
		Set("status", string(status)).
		Set("end_time", at.UTC()).
		Set("users_processed", result.UsersProcessed).
		Set("result", string(payload)).
		Where(sq.Eq{"id": runID}))
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run; false when none exist.
func (r *Repository) LatestRun(ctx context.Context) (domain.PipelineRun, bool, error) {
	return r.runBy(ctx, r.sb.Select(runColumns...).From("pipeline_runs").OrderBy("start_time DESC", "id DESC").Limit(1))
}

// GetRun loads one run by id.
func (r *Repository) GetRun(ctx context.Context, id string) (domain.PipelineRun, bool, error) {
	return r.runBy(ctx, r.sb.Select(runColumns...).From("pipeline_runs").Where(sq.Eq{"id": id}))
}

func (r *Repository) runBy(ctx context.Context, q sq.SelectBuilder) (domain.PipelineRun, bool, error) {
	row, err := queryRow(ctx, r.db, q)
	if err != nil {
		return domain.PipelineRun{}, false, err
	}

	var (
		run     domain.PipelineRun
		status  string
		start   sql.NullTime
		end     sql.NullTime
		payload sql.NullString
	)
	if err := row.Scan(&run.ID, &status, &start, &end, &run.LogSummary, &run.UsersProcessed, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PipelineRun{}, false, nil
		}
		return domain.PipelineRun{}, false, fmt.Errorf("scan run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	run.StartedAt = start.Time.UTC()
	run.EndedAt = timePtr(end)

	if payload.Valid && payload.String != "" {
		var result domain.RunResult
		if err := json.Unmarshal([]byte(payload.String), &result); err != nil {
			return domain.PipelineRun{}, false, fmt.Errorf("decode run result: %w", err)
		}
		run.Result = &result
	}
	return run, true, nil
}
