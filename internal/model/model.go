package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateUpcoming State = "upcoming"
	StateOngoing  State = "ongoing"
	StatePast     State = "past"
)

var (
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrTitleRequired     = errors.New("title is required")
	ErrInvalidWindow     = errors.New("end_time must be after start_time")
	ErrInvalidCapacity   = errors.New("capacity must be positive")
)

func (s State) Valid() bool {
	switch s {
	case StateUpcoming, StateOngoing, StatePast:
		return true
	}
	return false
}

// CanAdvanceTo reports whether next is the single legal successor of s.
func (s State) CanAdvanceTo(next State) bool {
	switch s {
	case StateUpcoming:
		return next == StateOngoing
	case StateOngoing:
		return next == StatePast
	}
	return false
}

type Event struct {
	ID                 int64     `db:"id" json:"id"`
	Title              string    `db:"title" json:"title"`
	Description        string    `db:"description" json:"description"`
	StartTime          time.Time `db:"start_time" json:"start_time"`
	EndTime            time.Time `db:"end_time" json:"end_time"`
	State              State     `db:"state" json:"state"`
	Capacity           *int      `db:"capacity" json:"capacity,omitempty"`
	RegistrationCount  int       `db:"registration_count" json:"registration_count"`
	ParticipationCount int       `db:"participation_count" json:"participation_count"`
	AttendanceCount    int       `db:"attendance_count" json:"attendance_count"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// NewEvent returns an upcoming event with zeroed counters.
func NewEvent(title, description string, start, end time.Time, capacity *int, now time.Time) *Event {
	return &Event{
		Title:       title,
		Description: description,
		StartTime:   start,
		EndTime:     end,
		State:       StateUpcoming,
		Capacity:    capacity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (e *Event) Validate() error {
	if e.Title == "" {
		return ErrTitleRequired
	}
	if !e.StartTime.Before(e.EndTime) {
		return ErrInvalidWindow
	}
	if e.Capacity != nil && *e.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	return nil
}

func (e *Event) IsUpcoming() bool { return e.State == StateUpcoming }
func (e *Event) IsOngoing() bool  { return e.State == StateOngoing }
func (e *Event) IsPast() bool     { return e.State == StatePast }

// HasCapacity reports whether one more relationship fits next to count existing ones.
func (e *Event) HasCapacity(count int) bool {
	return e.Capacity == nil || count < *e.Capacity
}

// ActiveCount is the counter of the phase the event is currently in.
func (e *Event) ActiveCount() int {
	switch e.State {
	case StateUpcoming:
		return e.RegistrationCount
	case StateOngoing:
		return e.ParticipationCount
	default:
		return e.AttendanceCount
	}
}

func (e *Event) ShouldTransitionToOngoing(now time.Time) bool {
	return e.IsUpcoming() && !now.Before(e.StartTime)
}

func (e *Event) ShouldTransitionToPast(now time.Time) bool {
	return e.IsOngoing() && !now.Before(e.EndTime)
}

// Advance moves the event to next and resets the counter of the phase it leaves.
func (e *Event) Advance(next State, now time.Time) error {
	if !e.State.CanAdvanceTo(next) {
		return ErrIllegalTransition
	}
	switch e.State {
	case StateUpcoming:
		e.RegistrationCount = 0
	case StateOngoing:
		e.ParticipationCount = 0
	}
	e.State = next
	e.UpdatedAt = now
	return nil
}

// IsProtected is true for events whose attendance is part of the historical record.
func (e *Event) IsProtected() bool {
	return e.State != StateUpcoming && e.AttendanceCount > 0
}

type Registration struct {
	EventID      int64     `db:"event_id" json:"event_id"`
	StudentID    uuid.UUID `db:"student_id" json:"student_id"`
	RegisteredAt time.Time `db:"registered_at" json:"registered_at"`
}

type Participation struct {
	EventID   int64     `db:"event_id" json:"event_id"`
	StudentID uuid.UUID `db:"student_id" json:"student_id"`
	JoinedAt  time.Time `db:"joined_at" json:"joined_at"`
}

// Attend converts the participation into its attendance record for an event ending at eventEnd.
func (p Participation) Attend(eventEnd time.Time) Attendance {
	return Attendance{
		EventID:            p.EventID,
		StudentID:          p.StudentID,
		ParticipationStart: p.JoinedAt,
		EventEnd:           eventEnd,
		DurationMinutes:    DurationMinutes(p.JoinedAt, eventEnd),
	}
}

type Attendance struct {
	EventID            int64     `db:"event_id" json:"event_id"`
	StudentID          uuid.UUID `db:"student_id" json:"student_id"`
	ParticipationStart time.Time `db:"participation_start" json:"participation_start"`
	EventEnd           time.Time `db:"event_end" json:"event_end"`
	DurationMinutes    int       `db:"duration_minutes" json:"duration_minutes"`
}

// DurationMinutes returns whole minutes between from and to, never negative.
func DurationMinutes(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// Relation is a student's relationship to an event as seen in the current phase.
type Relation string

const (
	RelationNone          Relation = "none"
	RelationRegistered    Relation = "registered"
	RelationParticipating Relation = "participating"
	RelationAttended      Relation = "attended"
)

type Status struct {
	EventID    int64       `json:"event_id"`
	StudentID  uuid.UUID   `json:"student_id"`
	State      State       `json:"state"`
	Relation   Relation    `json:"relation"`
	Attendance *Attendance `json:"attendance,omitempty"`
}

// AttendedEvent is a past event together with the student's attendance record.
type AttendedEvent struct {
	Event      Event      `json:"event"`
	Attendance Attendance `json:"attendance"`
}
