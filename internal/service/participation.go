package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"liveEvents/internal/clock"
	"liveEvents/internal/metrics"
	"liveEvents/internal/model"
	"liveEvents/internal/repo"
)

// ParticipationGate admits students who join an event that is already running.
type ParticipationGate struct {
	repo    repo.Repository
	clock   clock.Clock
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

func NewParticipationGate(r repo.Repository, c clock.Clock, log *zerolog.Logger, m *metrics.Metrics) *ParticipationGate {
	return &ParticipationGate{repo: r, clock: c, log: log, metrics: m}
}

func (g *ParticipationGate) Join(ctx context.Context, eventID int64, studentID uuid.UUID) (*model.Participation, error) {
	var p model.Participation

	err := g.repo.WithEventLock(ctx, eventID, func(tx repo.EventTx) error {
		e := tx.Event()
		if !e.IsOngoing() {
			return fmt.Errorf("event %d is %s, not ongoing: %w", e.ID, e.State, ErrInvalidState)
		}

		exists, err := tx.HasParticipation(ctx, studentID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("already participating: %w", ErrDuplicateRelationship)
		}
		if !e.HasCapacity(e.ParticipationCount) {
			return fmt.Errorf("event %d has %d/%d participants: %w", e.ID, e.ParticipationCount, *e.Capacity, ErrCapacityExceeded)
		}

		now := g.clock.Now()
		p = model.Participation{EventID: e.ID, StudentID: studentID, JoinedAt: now}
		if err := tx.InsertParticipation(ctx, p); err != nil {
			return err
		}
		e.ParticipationCount++
		e.UpdatedAt = now
		return tx.SaveEvent(ctx)
	})
	err = fromRepo(err)
	g.metrics.Admission("join", resultLabel(err))
	if err != nil {
		return nil, err
	}

	g.log.Info().
		Int64("event_id", eventID).
		Str("student_id", studentID.String()).
		Msg("student joined")
	return &p, nil
}
