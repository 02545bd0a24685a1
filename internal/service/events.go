package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"liveEvents/internal/clock"
	"liveEvents/internal/dto"
	"liveEvents/internal/model"
	"liveEvents/internal/repo"
)

// maxTriggerDelay is the longest whole-second delay that fits the delayed
// exchange's int32 millisecond header.
const maxTriggerDelay = 2147483 * time.Second

// Publisher sends a message that becomes visible after delaySeconds.
type Publisher interface {
	Publish(message []byte, delaySeconds int) error
}

type EventInput struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Capacity    *int
}

// EventPatch changes an event's settable fields. Nil fields are left as they are.
type EventPatch struct {
	Title         *string
	Description   *string
	StartTime     *time.Time
	EndTime       *time.Time
	Capacity      *int
	ClearCapacity bool
}

func (p EventPatch) changesWindow() bool { return p.StartTime != nil || p.EndTime != nil }

func (p EventPatch) changesCapacity() bool { return p.Capacity != nil || p.ClearCapacity }

// CounterAudit compares an event's stored counters with its child rows.
type CounterAudit struct {
	EventID    int64               `json:"event_id"`
	State      model.State         `json:"state"`
	Stored     repo.RelationCounts `json:"stored"`
	Actual     repo.RelationCounts `json:"actual"`
	Consistent bool                `json:"consistent"`
}

type EventService struct {
	repo  repo.Repository
	clock clock.Clock
	log   *zerolog.Logger
	pub   Publisher
}

// NewEventService builds the event administration service. pub may be nil,
// in which case only the periodic sweep drives transitions.
func NewEventService(r repo.Repository, c clock.Clock, log *zerolog.Logger, pub Publisher) *EventService {
	return &EventService{repo: r, clock: c, log: log, pub: pub}
}

func (s *EventService) CreateEvent(ctx context.Context, in EventInput) (*model.Event, error) {
	now := s.clock.Now()
	e := model.NewEvent(in.Title, in.Description, in.StartTime.UTC(), in.EndTime.UTC(), in.Capacity, now)
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	id, err := s.repo.CreateEvent(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	e.ID = id

	s.log.Info().Int64("event_id", id).Time("start_time", e.StartTime).Msg("event created successfully")
	s.publishTriggers(e)
	return e, nil
}

func (s *EventService) UpdateEvent(ctx context.Context, id int64, p EventPatch) (*model.Event, error) {
	var updated model.Event

	if p.Capacity != nil && p.ClearCapacity {
		return nil, fmt.Errorf("%w: capacity and clear_capacity are mutually exclusive", ErrValidation)
	}

	err := s.repo.WithEventLock(ctx, id, func(tx repo.EventTx) error {
		e := tx.Event()
		now := s.clock.Now()

		if p.changesWindow() {
			switch {
			case e.IsPast():
				return fmt.Errorf("event %d is past, window is frozen: %w", e.ID, ErrInvalidState)
			case e.IsOngoing() && p.StartTime != nil && !p.StartTime.Equal(e.StartTime):
				return fmt.Errorf("event %d already started: %w", e.ID, ErrInvalidState)
			case e.IsOngoing() && p.EndTime != nil && !p.EndTime.After(now):
				return fmt.Errorf("%w: end_time of a running event must be in the future", ErrValidation)
			}
		}
		if p.changesCapacity() {
			if e.IsPast() {
				return fmt.Errorf("event %d is past, capacity is frozen: %w", e.ID, ErrInvalidState)
			}
			if p.Capacity != nil && *p.Capacity < e.ActiveCount() {
				return fmt.Errorf("capacity %d is below current %d: %w", *p.Capacity, e.ActiveCount(), ErrCapacityExceeded)
			}
		}

		if p.Title != nil {
			e.Title = *p.Title
		}
		if p.Description != nil {
			e.Description = *p.Description
		}
		if p.StartTime != nil {
			e.StartTime = p.StartTime.UTC()
		}
		if p.EndTime != nil {
			e.EndTime = p.EndTime.UTC()
		}
		switch {
		case p.ClearCapacity:
			e.Capacity = nil
		case p.Capacity != nil:
			c := *p.Capacity
			e.Capacity = &c
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}

		e.UpdatedAt = now
		if err := tx.SaveEvent(ctx); err != nil {
			return err
		}
		updated = *e
		return nil
	})
	if err != nil {
		return nil, fromRepo(err)
	}

	s.log.Info().Int64("event_id", id).Msg("event updated")
	if p.changesWindow() {
		s.publishTriggers(&updated)
	}
	return &updated, nil
}

// DeleteEvent removes an event and its child rows unless its attendance is on record.
func (s *EventService) DeleteEvent(ctx context.Context, id int64) error {
	err := s.repo.WithEventLock(ctx, id, func(tx repo.EventTx) error {
		e := tx.Event()
		if e.IsProtected() {
			return fmt.Errorf("event %d has %d attendances: %w", e.ID, e.AttendanceCount, ErrProtectedDeletion)
		}
		return tx.DeleteEvent(ctx)
	})
	if err != nil {
		return fromRepo(err)
	}

	s.log.Info().Int64("event_id", id).Msg("event deleted")
	return nil
}

func (s *EventService) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	e, err := s.repo.GetEventByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err)
	}
	return e, nil
}

func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.repo.ListEvents(ctx)
}

func (s *EventService) AuditCounters(ctx context.Context, id int64) (*CounterAudit, error) {
	e, err := s.repo.GetEventByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err)
	}
	actual, err := s.repo.CountRelations(ctx, id)
	if err != nil {
		return nil, err
	}

	audit := &CounterAudit{
		EventID: e.ID,
		State:   e.State,
		Stored: repo.RelationCounts{
			Registrations:  e.RegistrationCount,
			Participations: e.ParticipationCount,
			Attendances:    e.AttendanceCount,
		},
		Actual: actual,
	}
	audit.Consistent = audit.Stored == audit.Actual
	if !audit.Consistent {
		s.log.Warn().Int64("event_id", id).Interface("stored", audit.Stored).Interface("actual", audit.Actual).
			Msg("event counters drifted from child rows")
	}
	return audit, nil
}

// publishTriggers schedules delayed transition messages at the event's start
// and end. Publishing is best effort; the periodic sweep covers anything lost.
func (s *EventService) publishTriggers(e *model.Event) {
	if s.pub == nil {
		return
	}
	now := s.clock.Now()
	triggers := []dto.TransitionTriggerMessage{
		{EventID: e.ID, Phase: model.StateOngoing, DueAt: e.StartTime},
		{EventID: e.ID, Phase: model.StatePast, DueAt: e.EndTime},
	}

	for _, t := range triggers {
		delay := t.DueAt.Sub(now)
		if delay < 0 {
			delay = 0
		}
		if delay > maxTriggerDelay {
			s.log.Debug().Int64("event_id", e.ID).Str("phase", string(t.Phase)).
				Msg("trigger beyond delayed exchange range, leaving it to the sweep")
			continue
		}

		payload, err := json.Marshal(t)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to marshal transition trigger")
			continue
		}
		// round up so the message never arrives before the boundary
		delaySeconds := int((delay + time.Second - 1) / time.Second)
		if err := s.pub.Publish(payload, delaySeconds); err != nil {
			s.log.Error().Err(err).Int64("event_id", e.ID).Str("phase", string(t.Phase)).
				Msg("failed to publish transition trigger")
		}
	}
}
