package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"liveEvents/internal/model"
	"liveEvents/internal/repo"
)

// Queries is the read side. It never changes state and never advances an
// event; a read taken just before a scheduled transition is simply stale
// until the next tick.
type Queries struct {
	repo repo.Repository
}

func NewQueries(r repo.Repository) *Queries {
	return &Queries{repo: r}
}

// ListUpcomingFor lists upcoming events the student has not registered for.
func (q *Queries) ListUpcomingFor(ctx context.Context, studentID uuid.UUID) ([]model.Event, error) {
	return q.repo.ListUpcomingFor(ctx, studentID)
}

func (q *Queries) ListOngoingFor(ctx context.Context, studentID uuid.UUID) ([]model.Event, error) {
	return q.repo.ListOngoingFor(ctx, studentID)
}

func (q *Queries) ListPastFor(ctx context.Context, studentID uuid.UUID) ([]model.AttendedEvent, error) {
	return q.repo.ListPastFor(ctx, studentID)
}

// StatusFor looks only at the relationship table that matches the event's current phase.
func (q *Queries) StatusFor(ctx context.Context, eventID int64, studentID uuid.UUID) (*model.Status, error) {
	e, err := q.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, fromRepo(err)
	}

	st := &model.Status{EventID: e.ID, StudentID: studentID, State: e.State, Relation: model.RelationNone}
	switch e.State {
	case model.StateUpcoming:
		_, err = q.repo.FindRegistration(ctx, eventID, studentID)
		if err == nil {
			st.Relation = model.RelationRegistered
		}
	case model.StateOngoing:
		_, err = q.repo.FindParticipation(ctx, eventID, studentID)
		if err == nil {
			st.Relation = model.RelationParticipating
		}
	case model.StatePast:
		var a *model.Attendance
		a, err = q.repo.FindAttendance(ctx, eventID, studentID)
		if err == nil {
			st.Relation = model.RelationAttended
			st.Attendance = a
		}
	default:
		return nil, fmt.Errorf("event %d has unknown state %q", e.ID, e.State)
	}

	if err != nil && !errors.Is(err, repo.ErrRelationNotFound) {
		return nil, err
	}
	return st, nil
}
