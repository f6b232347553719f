package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	t.Parallel()

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	cases := []struct {
		name string
		now  time.Time
		at   string
		want time.Time
	}{
		{"later today", time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC), "07:00", time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)},
		{"exactly now rolls over", time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC), "07:00", time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)},
		{"month end", time.Date(2026, 3, 31, 23, 30, 0, 0, time.UTC), "00:15", time.Date(2026, 4, 1, 0, 15, 0, 0, time.UTC)},
		{"dst change keeps wall clock", time.Date(2026, 3, 28, 8, 0, 0, 0, berlin), "07:00", time.Date(2026, 3, 29, 7, 0, 0, 0, berlin)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := nextRun(tc.now, tc.at)
			require.NoError(t, err)
			assert.True(t, got.Equal(tc.want), "got %s want %s", got, tc.want)
		})
	}
}

func TestNextRunRejectsBadTime(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"7", "25:00", "07:61", "seven"} {
		_, err := nextRun(time.Now(), bad)
		assert.Error(t, err, bad)
	}
	_, err := NewDailyScheduler("nope", time.UTC, nil)
	require.Error(t, err)
}

func TestDailySchedulerFiresJob(t *testing.T) {
	t.Parallel()

	s, err := NewDailyScheduler("07:00", time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 6, 59, 0, 0, time.UTC)
	fire := make(chan time.Time)
	waits := make(chan time.Duration, 4)
	s.now = func() time.Time { return now }
	s.after = func(d time.Duration) <-chan time.Time {
		waits <- d
		return fire
	}

	fired := make(chan time.Time, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx, func(at time.Time) { fired <- at }))

	assert.Equal(t, time.Minute, <-waits)
	fire <- now
	select {
	case at := <-fired:
		assert.True(t, at.Equal(time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)))
	case <-time.After(time.Second):
		t.Fatal("job did not fire")
	}

	<-waits
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
