package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"liveEvents/internal/clock"
	"liveEvents/internal/dto"
	"liveEvents/internal/metrics"
	"liveEvents/internal/model"
	"liveEvents/internal/repo"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	repo    repo.Repository
	clock   *clock.Manual
	metrics *metrics.Metrics
	pub     *recordingPublisher

	events         *EventService
	registrations  *RegistrationGate
	participations *ParticipationGate
	scheduler      *Scheduler
	queries        *Queries
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, repo.NewMemoryRepository())
}

func newFixtureWithRepo(t *testing.T, r repo.Repository) *fixture {
	t.Helper()
	log := zerolog.Nop()
	clk := clock.NewManual(t0.Add(-24 * time.Hour))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	pub := &recordingPublisher{}

	return &fixture{
		repo:           r,
		clock:          clk,
		metrics:        m,
		pub:            pub,
		events:         NewEventService(r, clk, &log, pub),
		registrations:  NewRegistrationGate(r, clk, &log, m),
		participations: NewParticipationGate(r, clk, &log, m),
		scheduler:      NewScheduler(r, &log, m, time.Second),
		queries:        NewQueries(r),
	}
}

func (f *fixture) createEvent(t *testing.T, start, end time.Time, capacity *int) *model.Event {
	t.Helper()
	e, err := f.events.CreateEvent(context.Background(), EventInput{
		Title:     "Distributed systems seminar",
		StartTime: start,
		EndTime:   end,
		Capacity:  capacity,
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) register(t *testing.T, eventID int64, students ...uuid.UUID) {
	t.Helper()
	for _, s := range students {
		_, err := f.registrations.Register(context.Background(), eventID, s, true)
		require.NoError(t, err)
	}
}

func (f *fixture) sweep(t *testing.T, now time.Time) Summary {
	t.Helper()
	f.clock.Set(now)
	sum, err := f.scheduler.RunTransitions(context.Background(), now)
	require.NoError(t, err)
	return sum
}

func (f *fixture) event(t *testing.T, id int64) *model.Event {
	t.Helper()
	e, err := f.events.GetEvent(context.Background(), id)
	require.NoError(t, err)
	return e
}

// requireConsistent asserts the stored counters match the child rows.
func (f *fixture) requireConsistent(t *testing.T, id int64) *CounterAudit {
	t.Helper()
	audit, err := f.events.AuditCounters(context.Background(), id)
	require.NoError(t, err)
	require.Truef(t, audit.Consistent, "stored %+v, actual %+v", audit.Stored, audit.Actual)
	return audit
}

func students(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func intPtr(v int) *int { return &v }

type published struct {
	msg          dto.TransitionTriggerMessage
	delaySeconds int
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *recordingPublisher) Publish(message []byte, delaySeconds int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var m dto.TransitionTriggerMessage
	if err := json.Unmarshal(message, &m); err != nil {
		return err
	}
	p.sent = append(p.sent, published{msg: m, delaySeconds: delaySeconds})
	return nil
}

// faultyRepo fails the event lock for selected events.
type faultyRepo struct {
	repo.Repository
	failing map[int64]error
}

func (r *faultyRepo) WithEventLock(ctx context.Context, id int64, fn func(tx repo.EventTx) error) error {
	if err, ok := r.failing[id]; ok {
		return err
	}
	return r.Repository.WithEventLock(ctx, id, fn)
}

// spyRepo counts registration deletions reaching storage.
type spyRepo struct {
	repo.Repository
	mu      sync.Mutex
	deletes int
}

func (r *spyRepo) WithEventLock(ctx context.Context, id int64, fn func(tx repo.EventTx) error) error {
	return r.Repository.WithEventLock(ctx, id, func(tx repo.EventTx) error {
		return fn(&spyTx{EventTx: tx, repo: r})
	})
}

type spyTx struct {
	repo.EventTx
	repo *spyRepo
}

func (t *spyTx) DeleteRegistration(ctx context.Context, studentID uuid.UUID) (bool, error) {
	t.repo.mu.Lock()
	t.repo.deletes++
	t.repo.mu.Unlock()
	return t.EventTx.DeleteRegistration(ctx, studentID)
}
