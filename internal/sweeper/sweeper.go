package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"liveEvents/internal/clock"
	"liveEvents/internal/service"
)

const DefaultSweepTimeout = 4 * time.Minute

type Runner interface {
	RunTransitions(ctx context.Context, now time.Time) (service.Summary, error)
}

// Sweeper fires RunTransitions on a cron schedule. Overlapping ticks are
// skipped; overlapping instances across processes are safe anyway.
type Sweeper struct {
	cron    *cron.Cron
	runner  Runner
	clock   clock.Clock
	log     *zerolog.Logger
	timeout time.Duration
}

func New(schedule string, runner Runner, c clock.Clock, log *zerolog.Logger, timeout time.Duration) (*Sweeper, error) {
	if timeout <= 0 {
		timeout = DefaultSweepTimeout
	}
	s := &Sweeper{runner: runner, clock: c, log: log, timeout: timeout}

	cl := cronLogger{log: log}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.log.Info().Msg("lifecycle sweeper started")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("sweeper stop timed out with a sweep still running")
	}
}

// RunOnce performs one bounded sweep at the clock's current time.
func (s *Sweeper) RunOnce(ctx context.Context) (service.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.clock.Now()
	sum, err := s.runner.RunTransitions(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Time("now", now).
			Int("to_ongoing", sum.ToOngoing).Int("to_past", sum.ToPast).
			Msg("lifecycle sweep aborted")
		return sum, err
	}

	ev := s.log.Debug()
	if sum.ToOngoing+sum.ToPast+sum.Failed > 0 {
		ev = s.log.Info()
	}
	ev.Time("now", now).
		Int("to_ongoing", sum.ToOngoing).
		Int("to_past", sum.ToPast).
		Int("failed", sum.Failed).
		Msg("lifecycle sweep finished")
	return sum, nil
}

type cronLogger struct {
	log *zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
