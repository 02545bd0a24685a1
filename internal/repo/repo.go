package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"liveEvents/internal/model"
)

var (
	ErrEventNotFound    = errors.New("event not found")
	ErrRelationNotFound = errors.New("relation not found")
	ErrDuplicateRow     = errors.New("duplicate row")
	ErrUnavailable      = errors.New("storage unavailable")
)

// RelationCounts are the actual child row counts of one event.
type RelationCounts struct {
	Registrations  int `json:"registrations"`
	Participations int `json:"participations"`
	Attendances    int `json:"attendances"`
}

type Repository interface {
	CreateEvent(ctx context.Context, e *model.Event) (int64, error)
	GetEventByID(ctx context.Context, id int64) (*model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	ListDueEvents(ctx context.Context, state model.State, now time.Time) ([]int64, error)
	ListUpcomingFor(ctx context.Context, studentID uuid.UUID) ([]model.Event, error)
	ListOngoingFor(ctx context.Context, studentID uuid.UUID) ([]model.Event, error)
	ListPastFor(ctx context.Context, studentID uuid.UUID) ([]model.AttendedEvent, error)
	FindRegistration(ctx context.Context, eventID int64, studentID uuid.UUID) (*model.Registration, error)
	FindParticipation(ctx context.Context, eventID int64, studentID uuid.UUID) (*model.Participation, error)
	FindAttendance(ctx context.Context, eventID int64, studentID uuid.UUID) (*model.Attendance, error)
	CountRelations(ctx context.Context, eventID int64) (RelationCounts, error)
	// WithEventLock runs fn in one transaction holding an exclusive lock on the
	// event row. It commits when fn returns nil and rolls back otherwise.
	WithEventLock(ctx context.Context, eventID int64, fn func(tx EventTx) error) error
	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

// EventTx is the write side of a locked event. Child rows are only reachable through it.
type EventTx interface {
	Event() *model.Event
	HasRegistration(ctx context.Context, studentID uuid.UUID) (bool, error)
	InsertRegistration(ctx context.Context, reg model.Registration) error
	DeleteRegistration(ctx context.Context, studentID uuid.UUID) (bool, error)
	HasParticipation(ctx context.Context, studentID uuid.UUID) (bool, error)
	InsertParticipation(ctx context.Context, p model.Participation) error
	// ConvertRegistrations moves every registration into a participation joined at joinedAt.
	ConvertRegistrations(ctx context.Context, joinedAt time.Time) (int, error)
	// ConvertParticipations moves every participation into an attendance ending at eventEnd.
	ConvertParticipations(ctx context.Context, eventEnd time.Time) (int, error)
	SaveEvent(ctx context.Context) error
	DeleteEvent(ctx context.Context) error
}

const eventColumns = `
	e.id, e.title, e.description, e.start_time, e.end_time, e.state, e.capacity,
	e.registration_count, e.participation_count, e.attendance_count, e.created_at, e.updated_at`

type repository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: db, log: log}, nil
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.Master.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}

		if _, err := r.db.Master.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

func (r *repository) CreateEvent(ctx context.Context, e *model.Event) (int64, error) {
	query := `
		INSERT INTO events (title, description, start_time, end_time, state, capacity,
		                    registration_count, participation_count, attendance_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, 0, 0, $7, $8)
		RETURNING id
	`

	row := r.db.Master.QueryRowContext(ctx, query,
		e.Title, e.Description, e.StartTime, e.EndTime, e.State, nullCapacity(e.Capacity), e.CreatedAt, e.UpdatedAt,
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, classify(fmt.Errorf("failed to insert event: %w", err))
	}
	return id, nil
}

func (r *repository) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events e WHERE e.id = $1`
	return scanEvent(r.db.Master.QueryRowContext(ctx, query, id))
}

func (r *repository) ListEvents(ctx context.Context) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events e ORDER BY e.start_time, e.id`
	return r.queryEvents(ctx, query)
}

func (r *repository) ListDueEvents(ctx context.Context, state model.State, now time.Time) ([]int64, error) {
	var query string
	switch state {
	case model.StateUpcoming:
		query = `SELECT id FROM events WHERE state = 'upcoming' AND start_time <= $1 ORDER BY start_time, id`
	case model.StateOngoing:
		query = `SELECT id FROM events WHERE state = 'ongoing' AND end_time <= $1 ORDER BY end_time, id`
	default:
		return nil, fmt.Errorf("no transition out of state %q", state)
	}

	rows, err := r.db.Master.QueryContext(ctx, query, now)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list due events: %w", err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate due events: %w", err))
	}
	return ids, nil
}

func (r *repository) ListUpcomingFor(ctx context.Context, studentID uuid.UUID) ([]model.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events e
		WHERE e.state = 'upcoming'
		  AND NOT EXISTS (
		      SELECT 1 FROM registrations r WHERE r.event_id = e.id AND r.student_id = $1
		  )
		ORDER BY e.start_time, e.id
	`
	return r.queryEvents(ctx, query, studentID)
}

func (r *repository) ListOngoingFor(ctx context.Context, studentID uuid.UUID) ([]model.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events e
		JOIN participations p ON p.event_id = e.id
		WHERE e.state = 'ongoing' AND p.student_id = $1
		ORDER BY e.end_time, e.id
	`
	return r.queryEvents(ctx, query, studentID)
}

func (r *repository) ListPastFor(ctx context.Context, studentID uuid.UUID) ([]model.AttendedEvent, error) {
	query := `
		SELECT ` + eventColumns + `,
		       a.student_id, a.participation_start, a.event_end, a.duration_minutes
		FROM events e
		JOIN attendances a ON a.event_id = e.id
		WHERE e.state = 'past' AND a.student_id = $1
		ORDER BY e.end_time DESC, e.id
	`
	rows, err := r.db.QueryContext(ctx, query, studentID)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get attended events: %w", err))
	}
	defer rows.Close()

	var out []model.AttendedEvent
	for rows.Next() {
		var (
			item     model.AttendedEvent
			capacity sql.NullInt64
		)
		e := &item.Event
		if err := rows.Scan(
			&e.ID, &e.Title, &e.Description, &e.StartTime, &e.EndTime, &e.State, &capacity,
			&e.RegistrationCount, &e.ParticipationCount, &e.AttendanceCount, &e.CreatedAt, &e.UpdatedAt,
			&item.Attendance.StudentID, &item.Attendance.ParticipationStart,
			&item.Attendance.EventEnd, &item.Attendance.DurationMinutes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attended event: %w", err)
		}
		e.Capacity = capacityFromNull(capacity)
		item.Attendance.EventID = e.ID
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate attended events: %w", err))
	}
	return out, nil
}

func (r *repository) FindRegistration(ctx context.Context, eventID int64, studentID uuid.UUID) (*model.Registration, error) {
	query := `
		SELECT event_id, student_id, registered_at
		FROM registrations
		WHERE event_id = $1 AND student_id = $2
	`
	var reg model.Registration
	err := r.db.Master.QueryRowContext(ctx, query, eventID, studentID).
		Scan(&reg.EventID, &reg.StudentID, &reg.RegisteredAt)
	if err != nil {
		return nil, notFound(err, "registration")
	}
	return &reg, nil
}

func (r *repository) FindParticipation(ctx context.Context, eventID int64, studentID uuid.UUID) (*model.Participation, error) {
	query := `
		SELECT event_id, student_id, joined_at
		FROM participations
		WHERE event_id = $1 AND student_id = $2
	`
	var p model.Participation
	err := r.db.Master.QueryRowContext(ctx, query, eventID, studentID).
		Scan(&p.EventID, &p.StudentID, &p.JoinedAt)
	if err != nil {
		return nil, notFound(err, "participation")
	}
	return &p, nil
}

func (r *repository) FindAttendance(ctx context.Context, eventID int64, studentID uuid.UUID) (*model.Attendance, error) {
	query := `
		SELECT event_id, student_id, participation_start, event_end, duration_minutes
		FROM attendances
		WHERE event_id = $1 AND student_id = $2
	`
	var a model.Attendance
	err := r.db.Master.QueryRowContext(ctx, query, eventID, studentID).
		Scan(&a.EventID, &a.StudentID, &a.ParticipationStart, &a.EventEnd, &a.DurationMinutes)
	if err != nil {
		return nil, notFound(err, "attendance")
	}
	return &a, nil
}

func (r *repository) CountRelations(ctx context.Context, eventID int64) (RelationCounts, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM registrations WHERE event_id = $1),
			(SELECT COUNT(*) FROM participations WHERE event_id = $1),
			(SELECT COUNT(*) FROM attendances WHERE event_id = $1)
	`
	var c RelationCounts
	if err := r.db.Master.QueryRowContext(ctx, query, eventID).
		Scan(&c.Registrations, &c.Participations, &c.Attendances); err != nil {
		return RelationCounts{}, classify(fmt.Errorf("failed to count relations: %w", err))
	}
	return c, nil
}

func (r *repository) queryEvents(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get events: %w", err))
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to iterate events: %w", err))
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*model.Event, error) {
	var (
		e        model.Event
		capacity sql.NullInt64
	)
	if err := row.Scan(
		&e.ID, &e.Title, &e.Description, &e.StartTime, &e.EndTime, &e.State, &capacity,
		&e.RegistrationCount, &e.ParticipationCount, &e.AttendanceCount, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, classify(fmt.Errorf("failed to scan event: %w", err))
	}
	e.Capacity = capacityFromNull(capacity)
	return &e, nil
}

func nullCapacity(c *int) sql.NullInt64 {
	if c == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*c), Valid: true}
}

func capacityFromNull(c sql.NullInt64) *int {
	if !c.Valid {
		return nil
	}
	v := int(c.Int64)
	return &v
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrRelationNotFound)
	}
	return classify(fmt.Errorf("failed to get %s: %w", what, err))
}

// classify tags connection-level failures with ErrUnavailable and unique
// violations with ErrDuplicateRow, keeping the original error in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "57":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if pqErr.Code == "23505" {
			return fmt.Errorf("%w: %w", ErrDuplicateRow, err)
		}
	}
	return err
}
