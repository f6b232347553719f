package usecase

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DigestCurator/internal/domain"
	"DigestCurator/internal/infrastructure/storage"
)

type fakeMaintenance struct {
	orphans []domain.Recommendation
	purged  []string
}

func (m *fakeMaintenance) Orphans(context.Context) ([]domain.Recommendation, error) {
	return m.orphans, nil
}

func (m *fakeMaintenance) Purge(_ context.Context, ids []string) (int, error) {
	m.purged = append(m.purged, ids...)
	return len(ids), nil
}

func TestIntegrityCheckReportsWithoutFix(t *testing.T) {
	t.Parallel()

	m := &fakeMaintenance{orphans: []domain.Recommendation{{ID: "r1"}, {ID: "r2"}}}
	report, err := NewIntegrityChecker(m, quietLogger()).Check(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, report.Orphans, 2)
	assert.Zero(t, report.Purged)
	assert.Empty(t, m.purged)
}

func TestIntegrityCheckFixPurges(t *testing.T) {
	t.Parallel()

	m := &fakeMaintenance{orphans: []domain.Recommendation{{ID: "r1"}, {ID: "r2"}}}
	report, err := NewIntegrityChecker(m, quietLogger()).Check(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Purged)
	assert.Equal(t, []string{"r1", "r2"}, m.purged)
}

func TestLatestStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "status.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	snap, err := LatestStatus(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, StatusSnapshot{Status: StatusIdle}, snap)

	start := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	run, err := repo.CreateRun(ctx, start)
	require.NoError(t, err)
	require.NoError(t, repo.SetUsersProcessed(ctx, run.ID, 2))

	snap, err = LatestStatus(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, run.ID, snap.ID)
	assert.Equal(t, "RUNNING", snap.Status)
	assert.Equal(t, 2, snap.UsersProcessed)
	assert.Nil(t, snap.EndTime)
	require.NotNil(t, snap.StartTime)
	assert.True(t, snap.StartTime.Equal(start))
	assert.Equal(t, "Pipeline started...", snap.LogSummary)
}
