package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"liveEvents/internal/model"
)

// eventRows is one event and its child rows. Committed rows are never mutated
// in place: a locked transaction works on a clone that replaces them on commit.
type eventRows struct {
	event          model.Event
	registrations  map[uuid.UUID]model.Registration
	participations map[uuid.UUID]model.Participation
	attendances    map[uuid.UUID]model.Attendance
}

func newEventRows(e model.Event) *eventRows {
	return &eventRows{
		event:          e,
		registrations:  map[uuid.UUID]model.Registration{},
		participations: map[uuid.UUID]model.Participation{},
		attendances:    map[uuid.UUID]model.Attendance{},
	}
}

func (r *eventRows) clone() *eventRows {
	c := &eventRows{
		event:          copyEvent(r.event),
		registrations:  make(map[uuid.UUID]model.Registration, len(r.registrations)),
		participations: make(map[uuid.UUID]model.Participation, len(r.participations)),
		attendances:    make(map[uuid.UUID]model.Attendance, len(r.attendances)),
	}
	for k, v := range r.registrations {
		c.registrations[k] = v
	}
	for k, v := range r.participations {
		c.participations[k] = v
	}
	for k, v := range r.attendances {
		c.attendances[k] = v
	}
	return c
}

func copyEvent(e model.Event) model.Event {
	if e.Capacity != nil {
		c := *e.Capacity
		e.Capacity = &c
	}
	return e
}

// eventEntry pairs an event's rows with its row lock. sem has capacity one and
// is held for the length of a WithEventLock call on that event.
type eventEntry struct {
	sem  chan struct{}
	rows *eventRows
}

// memoryRepository keeps everything in process. Locked transactions on one
// event are serialised by that event's lock, the way SELECT ... FOR UPDATE
// serialises them in Postgres; transactions on different events run in
// parallel. mu only guards the index and the swap of committed rows.
type memoryRepository struct {
	mu     sync.RWMutex
	events map[int64]*eventEntry
	nextID int64
}

func NewMemoryRepository() Repository {
	return &memoryRepository{events: map[int64]*eventEntry{}}
}

func (m *memoryRepository) MigrateUp(string) error   { return nil }
func (m *memoryRepository) MigrateDown(string) error { return nil }

func (m *memoryRepository) CreateEvent(ctx context.Context, e *model.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	stored := copyEvent(*e)
	stored.ID = m.nextID
	stored.RegistrationCount, stored.ParticipationCount, stored.AttendanceCount = 0, 0, 0
	m.events[stored.ID] = &eventEntry{sem: make(chan struct{}, 1), rows: newEventRows(stored)}
	return stored.ID, nil
}

func (m *memoryRepository) rowsOf(ctx context.Context, id int64) (*eventRows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	return entry.rows, nil
}

func (m *memoryRepository) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	rows, err := m.rowsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, ErrEventNotFound
	}
	e := copyEvent(rows.event)
	return &e, nil
}

func (m *memoryRepository) ListEvents(ctx context.Context) ([]model.Event, error) {
	return m.filterEvents(ctx, func(*eventRows) bool { return true }, byStart)
}

func (m *memoryRepository) ListDueEvents(ctx context.Context, state model.State, now time.Time) ([]int64, error) {
	var (
		match func(*eventRows) bool
		order func(a, b model.Event) bool
	)
	switch state {
	case model.StateUpcoming:
		match = func(r *eventRows) bool { return r.event.IsUpcoming() && !r.event.StartTime.After(now) }
		order = byStart
	case model.StateOngoing:
		match = func(r *eventRows) bool { return r.event.IsOngoing() && !r.event.EndTime.After(now) }
		order = byEnd
	default:
		return nil, fmt.Errorf("no transition out of state %q", state)
	}

	events, err := m.filterEvents(ctx, match, order)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (m *memoryRepository) ListUpcomingFor(ctx context.Context, studentID uuid.UUID) ([]model.Event, error) {
	return m.filterEvents(ctx, func(r *eventRows) bool {
		_, registered := r.registrations[studentID]
		return r.event.IsUpcoming() && !registered
	}, byStart)
}

func (m *memoryRepository) ListOngoingFor(ctx context.Context, studentID uuid.UUID) ([]model.Event, error) {
	return m.filterEvents(ctx, func(r *eventRows) bool {
		_, joined := r.participations[studentID]
		return r.event.IsOngoing() && joined
	}, byEnd)
}

func (m *memoryRepository) ListPastFor(ctx context.Context, studentID uuid.UUID) ([]model.AttendedEvent, error) {
	rows, err := m.collect(ctx, func(r *eventRows) bool {
		_, attended := r.attendances[studentID]
		return r.event.IsPast() && attended
	}, func(a, b model.Event) bool { return byEnd(b, a) })
	if err != nil {
		return nil, err
	}

	out := make([]model.AttendedEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AttendedEvent{Event: copyEvent(r.event), Attendance: r.attendances[studentID]})
	}
	return out, nil
}

func (m *memoryRepository) FindRegistration(ctx context.Context, eventID int64, studentID uuid.UUID) (*model.Registration, error) {
	rows, err := m.rowsOf(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, fmt.Errorf("registration: %w", ErrRelationNotFound)
	}
	reg, ok := rows.registrations[studentID]
	if !ok {
		return nil, fmt.Errorf("registration: %w", ErrRelationNotFound)
	}
	return &reg, nil
}

func (m *memoryRepository) FindParticipation(ctx context.Context, eventID int64, studentID uuid.UUID) (*model.Participation, error) {
	rows, err := m.rowsOf(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, fmt.Errorf("participation: %w", ErrRelationNotFound)
	}
	p, ok := rows.participations[studentID]
	if !ok {
		return nil, fmt.Errorf("participation: %w", ErrRelationNotFound)
	}
	return &p, nil
}

func (m *memoryRepository) FindAttendance(ctx context.Context, eventID int64, studentID uuid.UUID) (*model.Attendance, error) {
	rows, err := m.rowsOf(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, fmt.Errorf("attendance: %w", ErrRelationNotFound)
	}
	a, ok := rows.attendances[studentID]
	if !ok {
		return nil, fmt.Errorf("attendance: %w", ErrRelationNotFound)
	}
	return &a, nil
}

func (m *memoryRepository) CountRelations(ctx context.Context, eventID int64) (RelationCounts, error) {
	rows, err := m.rowsOf(ctx, eventID)
	if err != nil || rows == nil {
		return RelationCounts{}, err
	}
	return RelationCounts{
		Registrations:  len(rows.registrations),
		Participations: len(rows.participations),
		Attendances:    len(rows.attendances),
	}, nil
}

func (m *memoryRepository) WithEventLock(ctx context.Context, eventID int64, fn func(tx EventTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	entry, ok := m.events[eventID]
	m.mu.RUnlock()
	if !ok {
		return ErrEventNotFound
	}

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-entry.sem }()

	// the event may have been deleted while we waited for its lock
	m.mu.RLock()
	current, ok := m.events[eventID]
	committed := entry.rows
	m.mu.RUnlock()
	if !ok || current != entry {
		return ErrEventNotFound
	}

	work := committed.clone()
	event := copyEvent(work.event)
	tx := &memoryTx{rows: work, event: &event}

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.deleted {
		delete(m.events, eventID)
		return nil
	}
	entry.rows = tx.rows
	return nil
}

func (m *memoryRepository) collect(ctx context.Context, match func(*eventRows) bool, less func(a, b model.Event) bool) ([]*eventRows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*eventRows
	for _, entry := range m.events {
		if match(entry.rows) {
			out = append(out, entry.rows)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].event, out[j].event) })
	return out, nil
}

func (m *memoryRepository) filterEvents(ctx context.Context, match func(*eventRows) bool, less func(a, b model.Event) bool) ([]model.Event, error) {
	rows, err := m.collect(ctx, match, less)
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, copyEvent(r.event))
	}
	return out, nil
}

func byStart(a, b model.Event) bool {
	if !a.StartTime.Equal(b.StartTime) {
		return a.StartTime.Before(b.StartTime)
	}
	return a.ID < b.ID
}

func byEnd(a, b model.Event) bool {
	if !a.EndTime.Equal(b.EndTime) {
		return a.EndTime.Before(b.EndTime)
	}
	return a.ID < b.ID
}

type memoryTx struct {
	rows    *eventRows
	event   *model.Event
	deleted bool
}

func (t *memoryTx) Event() *model.Event { return t.event }

func (t *memoryTx) HasRegistration(_ context.Context, studentID uuid.UUID) (bool, error) {
	_, ok := t.rows.registrations[studentID]
	return ok, nil
}

func (t *memoryTx) InsertRegistration(_ context.Context, reg model.Registration) error {
	if _, ok := t.rows.registrations[reg.StudentID]; ok {
		return fmt.Errorf("registration: %w", ErrDuplicateRow)
	}
	reg.EventID = t.event.ID
	t.rows.registrations[reg.StudentID] = reg
	return nil
}

func (t *memoryTx) DeleteRegistration(_ context.Context, studentID uuid.UUID) (bool, error) {
	if _, ok := t.rows.registrations[studentID]; !ok {
		return false, nil
	}
	delete(t.rows.registrations, studentID)
	return true, nil
}

func (t *memoryTx) HasParticipation(_ context.Context, studentID uuid.UUID) (bool, error) {
	_, ok := t.rows.participations[studentID]
	return ok, nil
}

func (t *memoryTx) InsertParticipation(_ context.Context, p model.Participation) error {
	if _, ok := t.rows.participations[p.StudentID]; ok {
		return fmt.Errorf("participation: %w", ErrDuplicateRow)
	}
	p.EventID = t.event.ID
	t.rows.participations[p.StudentID] = p
	return nil
}

func (t *memoryTx) ConvertRegistrations(_ context.Context, joinedAt time.Time) (int, error) {
	n := 0
	for student, reg := range t.rows.registrations {
		if _, ok := t.rows.participations[student]; ok {
			return 0, fmt.Errorf("participation: %w", ErrDuplicateRow)
		}
		t.rows.participations[student] = model.Participation{EventID: t.event.ID, StudentID: reg.StudentID, JoinedAt: joinedAt}
		delete(t.rows.registrations, student)
		n++
	}
	return n, nil
}

func (t *memoryTx) ConvertParticipations(_ context.Context, eventEnd time.Time) (int, error) {
	n := 0
	for student, p := range t.rows.participations {
		if _, ok := t.rows.attendances[student]; ok {
			return 0, fmt.Errorf("attendance: %w", ErrDuplicateRow)
		}
		t.rows.attendances[student] = p.Attend(eventEnd)
		delete(t.rows.participations, student)
		n++
	}
	return n, nil
}

func (t *memoryTx) SaveEvent(context.Context) error {
	if t.deleted {
		return ErrEventNotFound
	}
	t.rows.event = copyEvent(*t.event)
	return nil
}

func (t *memoryTx) DeleteEvent(context.Context) error {
	t.rows = newEventRows(*t.event)
	t.deleted = true
	return nil
}
