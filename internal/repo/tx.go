package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"liveEvents/internal/model"
)

func (r *repository) WithEventLock(ctx context.Context, eventID int64, fn func(tx EventTx) error) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to start transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	query := `SELECT ` + eventColumns + ` FROM events e WHERE e.id = $1 FOR UPDATE`
	event, err := scanEvent(tx.QueryRowContext(ctx, query, eventID))
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := fn(&eventTx{tx: tx, event: event}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type eventTx struct {
	tx    *sql.Tx
	event *model.Event
}

func (t *eventTx) Event() *model.Event { return t.event }

func (t *eventTx) HasRegistration(ctx context.Context, studentID uuid.UUID) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM registrations WHERE event_id = $1 AND student_id = $2)`, studentID)
}

func (t *eventTx) HasParticipation(ctx context.Context, studentID uuid.UUID) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM participations WHERE event_id = $1 AND student_id = $2)`, studentID)
}

func (t *eventTx) exists(ctx context.Context, query string, studentID uuid.UUID) (bool, error) {
	var ok bool
	if err := t.tx.QueryRowContext(ctx, query, t.event.ID, studentID).Scan(&ok); err != nil {
		return false, classify(fmt.Errorf("failed to check relation: %w", err))
	}
	return ok, nil
}

func (t *eventTx) InsertRegistration(ctx context.Context, reg model.Registration) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO registrations (event_id, student_id, registered_at)
		VALUES ($1, $2, $3)
	`, t.event.ID, reg.StudentID, reg.RegisteredAt)
	if err != nil {
		return classify(fmt.Errorf("failed to create registration: %w", err))
	}
	return nil
}

func (t *eventTx) DeleteRegistration(ctx context.Context, studentID uuid.UUID) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM registrations
		WHERE event_id = $1 AND student_id = $2
	`, t.event.ID, studentID)
	if err != nil {
		return false, classify(fmt.Errorf("failed to delete registration: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (t *eventTx) InsertParticipation(ctx context.Context, p model.Participation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO participations (event_id, student_id, joined_at)
		VALUES ($1, $2, $3)
	`, t.event.ID, p.StudentID, p.JoinedAt)
	if err != nil {
		return classify(fmt.Errorf("failed to create participation: %w", err))
	}
	return nil
}

func (t *eventTx) ConvertRegistrations(ctx context.Context, joinedAt time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		WITH moved AS (
			DELETE FROM registrations WHERE event_id = $1
			RETURNING student_id
		)
		INSERT INTO participations (event_id, student_id, joined_at)
		SELECT $1, student_id, $2 FROM moved
	`, t.event.ID, joinedAt)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to convert registrations: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read converted rows: %w", err)
	}
	return int(n), nil
}

func (t *eventTx) ConvertParticipations(ctx context.Context, eventEnd time.Time) (int, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT event_id, student_id, joined_at
		FROM participations
		WHERE event_id = $1
		ORDER BY joined_at, student_id
	`, t.event.ID)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to load participations: %w", err))
	}

	var participations []model.Participation
	for rows.Next() {
		var p model.Participation
		if err := rows.Scan(&p.EventID, &p.StudentID, &p.JoinedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan participation: %w", err)
		}
		participations = append(participations, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, classify(fmt.Errorf("failed to iterate participations: %w", err))
	}
	rows.Close()

	if len(participations) > 0 {
		stmt, err := t.tx.PrepareContext(ctx, `
			INSERT INTO attendances (event_id, student_id, participation_start, event_end, duration_minutes)
			VALUES ($1, $2, $3, $4, $5)
		`)
		if err != nil {
			return 0, classify(fmt.Errorf("failed to prepare attendance insert: %w", err))
		}
		defer stmt.Close()

		for _, p := range participations {
			a := p.Attend(eventEnd)
			if _, err := stmt.ExecContext(ctx, a.EventID, a.StudentID, a.ParticipationStart, a.EventEnd, a.DurationMinutes); err != nil {
				return 0, classify(fmt.Errorf("failed to create attendance: %w", err))
			}
		}
	}

	res, err := t.tx.ExecContext(ctx, `DELETE FROM participations WHERE event_id = $1`, t.event.ID)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to delete participations: %w", err))
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted rows: %w", err)
	}
	if int(deleted) != len(participations) {
		return 0, fmt.Errorf("participations changed during conversion: loaded %d, deleted %d", len(participations), deleted)
	}
	return len(participations), nil
}

func (t *eventTx) SaveEvent(ctx context.Context) error {
	e := t.event
	_, err := t.tx.ExecContext(ctx, `
		UPDATE events
		SET title = $2, description = $3, start_time = $4, end_time = $5, state = $6, capacity = $7,
		    registration_count = $8, participation_count = $9, attendance_count = $10, updated_at = $11
		WHERE id = $1
	`, e.ID, e.Title, e.Description, e.StartTime, e.EndTime, e.State, nullCapacity(e.Capacity),
		e.RegistrationCount, e.ParticipationCount, e.AttendanceCount, e.UpdatedAt)
	if err != nil {
		return classify(fmt.Errorf("failed to update event: %w", err))
	}
	return nil
}

func (t *eventTx) DeleteEvent(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, t.event.ID); err != nil {
		return classify(fmt.Errorf("failed to delete event: %w", err))
	}
	return nil
}
