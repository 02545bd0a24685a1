package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveEvents/internal/clock"
	"liveEvents/internal/service"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fakeRunner struct {
	mu       sync.Mutex
	calls    []time.Time
	deadline bool
	sum      service.Summary
	err      error
}

func (f *fakeRunner) RunTransitions(ctx context.Context, now time.Time) (service.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	_, f.deadline = ctx.Deadline()
	return f.sum, f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNew_InvalidSchedule(t *testing.T) {
	log := zerolog.Nop()
	_, err := New("every now and then", &fakeRunner{}, clock.NewManual(t0), &log, time.Second)
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	log := zerolog.Nop()
	clk := clock.NewManual(t0)

	t.Run("UsesClockAndBoundsTheSweep", func(t *testing.T) {
		runner := &fakeRunner{sum: service.Summary{ToOngoing: 2, ToPast: 1}}
		s, err := New("@every 1m", runner, clk, &log, time.Second)
		require.NoError(t, err)

		sum, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, service.Summary{ToOngoing: 2, ToPast: 1}, sum)
		assert.Equal(t, []time.Time{t0}, runner.calls)
		assert.True(t, runner.deadline)
	})

	t.Run("PropagatesAbort", func(t *testing.T) {
		boom := errors.New("storage unavailable")
		runner := &fakeRunner{err: boom}
		s, err := New("@every 1m", runner, clk, &log, 0)
		require.NoError(t, err)

		_, err = s.RunOnce(context.Background())
		assert.ErrorIs(t, err, boom)
	})
}

func TestSweeper_FiresOnSchedule(t *testing.T) {
	log := zerolog.Nop()
	runner := &fakeRunner{}
	s, err := New("@every 1s", runner, clock.NewManual(t0), &log, time.Second)
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return runner.count() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
