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

// RegistrationGate admits and removes students while an event is upcoming.
type RegistrationGate struct {
	repo    repo.Repository
	clock   clock.Clock
	log     *zerolog.Logger
	metrics *metrics.Metrics
}

func NewRegistrationGate(r repo.Repository, c clock.Clock, log *zerolog.Logger, m *metrics.Metrics) *RegistrationGate {
	return &RegistrationGate{repo: r, clock: c, log: log, metrics: m}
}

// Register admits studentID to an upcoming event. Failures are checked in the
// order not found, invalid state, not eligible, duplicate, capacity exceeded.
func (g *RegistrationGate) Register(ctx context.Context, eventID int64, studentID uuid.UUID, isVerified bool) (*model.Registration, error) {
	var reg model.Registration

	err := g.repo.WithEventLock(ctx, eventID, func(tx repo.EventTx) error {
		e := tx.Event()
		if !e.IsUpcoming() {
			return fmt.Errorf("event %d is %s, not upcoming: %w", e.ID, e.State, ErrInvalidState)
		}
		if !isVerified {
			return ErrNotEligible
		}

		exists, err := tx.HasRegistration(ctx, studentID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("already registered: %w", ErrDuplicateRelationship)
		}
		if !e.HasCapacity(e.RegistrationCount) {
			return fmt.Errorf("event %d has %d/%d registrations: %w", e.ID, e.RegistrationCount, *e.Capacity, ErrCapacityExceeded)
		}

		now := g.clock.Now()
		reg = model.Registration{EventID: e.ID, StudentID: studentID, RegisteredAt: now}
		if err := tx.InsertRegistration(ctx, reg); err != nil {
			return err
		}
		e.RegistrationCount++
		e.UpdatedAt = now
		return tx.SaveEvent(ctx)
	})
	err = fromRepo(err)
	g.metrics.Admission("register", resultLabel(err))
	if err != nil {
		return nil, err
	}

	g.log.Info().
		Int64("event_id", eventID).
		Str("student_id", studentID.String()).
		Msg("student registered")
	return &reg, nil
}

// Unregister removes a registration. Once the event has left the upcoming
// phase the request is rejected even if a registration row is still visible.
func (g *RegistrationGate) Unregister(ctx context.Context, eventID int64, studentID uuid.UUID) error {
	err := g.repo.WithEventLock(ctx, eventID, func(tx repo.EventTx) error {
		e := tx.Event()
		if !e.IsUpcoming() {
			return fmt.Errorf("event %d is %s, not upcoming: %w", e.ID, e.State, ErrInvalidState)
		}

		deleted, err := tx.DeleteRegistration(ctx, studentID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrNotRegistered
		}
		e.RegistrationCount--
		e.UpdatedAt = g.clock.Now()
		return tx.SaveEvent(ctx)
	})
	err = fromRepo(err)
	g.metrics.Admission("unregister", resultLabel(err))
	if err != nil {
		return err
	}

	g.log.Info().
		Int64("event_id", eventID).
		Str("student_id", studentID.String()).
		Msg("student unregistered")
	return nil
}
