package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"liveEvents/internal/metrics"
	"liveEvents/internal/model"
	"liveEvents/internal/repo"
)

const DefaultEventTimeout = 30 * time.Second

// Summary counts what one sweep did.
type Summary struct {
	ToOngoing int `json:"to_ongoing"`
	ToPast    int `json:"to_past"`
	Failed    int `json:"failed"`
}

type transition struct {
	from, to model.State
	due      func(e *model.Event, now time.Time) bool
	convert  func(ctx context.Context, tx repo.EventTx, now time.Time) (int, error)
}

var (
	toOngoing = transition{
		from: model.StateUpcoming,
		to:   model.StateOngoing,
		due:  (*model.Event).ShouldTransitionToOngoing,
		convert: func(ctx context.Context, tx repo.EventTx, now time.Time) (int, error) {
			e := tx.Event()
			n, err := tx.ConvertRegistrations(ctx, now)
			if err != nil {
				return 0, err
			}
			if err := e.Advance(model.StateOngoing, now); err != nil {
				return 0, err
			}
			e.ParticipationCount = n
			return n, nil
		},
	}
	toPast = transition{
		from: model.StateOngoing,
		to:   model.StatePast,
		due:  (*model.Event).ShouldTransitionToPast,
		convert: func(ctx context.Context, tx repo.EventTx, now time.Time) (int, error) {
			e := tx.Event()
			n, err := tx.ConvertParticipations(ctx, e.EndTime)
			if err != nil {
				return 0, err
			}
			if err := e.Advance(model.StatePast, now); err != nil {
				return 0, err
			}
			e.AttendanceCount = n
			return n, nil
		},
	}
)

// Scheduler advances events through their phases. RunTransitions is safe to
// call at least once per tick from any number of instances: every step
// re-checks its predicate under the event lock.
type Scheduler struct {
	repo         repo.Repository
	log          *zerolog.Logger
	metrics      *metrics.Metrics
	eventTimeout time.Duration
}

func NewScheduler(r repo.Repository, log *zerolog.Logger, m *metrics.Metrics, eventTimeout time.Duration) *Scheduler {
	if eventTimeout <= 0 {
		eventTimeout = DefaultEventTimeout
	}
	return &Scheduler{repo: r, log: log, metrics: m, eventTimeout: eventTimeout}
}

// RunTransitions moves every due upcoming event to ongoing, then every due
// ongoing event to past. A failing event is logged and skipped; storage
// outages and cancellation abort the sweep.
func (s *Scheduler) RunTransitions(ctx context.Context, now time.Time) (Summary, error) {
	started := time.Now()
	defer s.metrics.ObserveSweep(started)

	var sum Summary
	for _, step := range []transition{toOngoing, toPast} {
		ids, err := s.repo.ListDueEvents(ctx, step.from, now)
		if err != nil {
			return sum, fmt.Errorf("failed to list %s events due: %w", step.from, err)
		}

		for _, id := range ids {
			advanced, err := s.advance(ctx, id, step, now)
			if err != nil {
				if s.isInfrastructure(ctx, err) {
					return sum, fmt.Errorf("sweep aborted at event %d: %w", id, err)
				}
				sum.Failed++
				s.metrics.TransitionFailed(string(step.to))
				s.log.Error().
					Err(err).
					Int64("event_id", id).
					Str("to", string(step.to)).
					Msg("event transition failed, will retry next tick")
				continue
			}
			if !advanced {
				continue
			}
			if step.to == model.StateOngoing {
				sum.ToOngoing++
			} else {
				sum.ToPast++
			}
		}
	}

	return sum, nil
}

// TransitionEvent applies whichever transitions are due for a single event and
// reports how many it applied. Calling it for an event that is not due is a no-op.
func (s *Scheduler) TransitionEvent(ctx context.Context, eventID int64, now time.Time) (int, error) {
	applied := 0
	for _, step := range []transition{toOngoing, toPast} {
		advanced, err := s.advance(ctx, eventID, step, now)
		if err != nil {
			if !s.isInfrastructure(ctx, err) {
				s.metrics.TransitionFailed(string(step.to))
			}
			return applied, err
		}
		if advanced {
			applied++
		}
	}
	return applied, nil
}

func (s *Scheduler) advance(ctx context.Context, eventID int64, step transition, now time.Time) (bool, error) {
	ectx, cancel := context.WithTimeout(ctx, s.eventTimeout)
	defer cancel()

	var (
		advanced   bool
		before     int
		converted  int
		lockedFrom model.State
	)
	err := s.repo.WithEventLock(ectx, eventID, func(tx repo.EventTx) error {
		e := tx.Event()
		lockedFrom = e.State
		if !step.due(e, now) {
			return nil
		}
		before = e.ActiveCount()

		n, err := step.convert(ectx, tx, now)
		if err != nil {
			return err
		}
		if err := tx.SaveEvent(ectx); err != nil {
			return err
		}
		advanced, converted = true, n
		return nil
	})
	if errors.Is(err, repo.ErrEventNotFound) {
		// deleted after it was listed
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !advanced {
		s.log.Debug().
			Int64("event_id", eventID).
			Str("state", string(lockedFrom)).
			Msg("event no longer due, skipping")
		return false, nil
	}

	if converted != before {
		s.log.Warn().
			Int64("event_id", eventID).
			Int("counter", before).
			Int("rows", converted).
			Msg("counter drift corrected on transition")
	}
	s.metrics.Transitioned(string(step.to))
	s.log.Info().
		Int64("event_id", eventID).
		Str("from", string(step.from)).
		Str("to", string(step.to)).
		Int("converted", converted).
		Msg("event transitioned")
	return true, nil
}

func (s *Scheduler) isInfrastructure(ctx context.Context, err error) bool {
	return errors.Is(err, repo.ErrUnavailable) || ctx.Err() != nil
}
