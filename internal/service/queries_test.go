package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveEvents/internal/model"
)

func TestQueries_StatusFollowsPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.createEvent(t, t0, t0.Add(30*time.Minute), nil)
	student, stranger := students(1)[0], students(1)[0]

	st, err := f.queries.StatusFor(ctx, e.ID, student)
	require.NoError(t, err)
	assert.Equal(t, model.RelationNone, st.Relation)
	assert.Equal(t, model.StateUpcoming, st.State)

	f.register(t, e.ID, student)
	st, err = f.queries.StatusFor(ctx, e.ID, student)
	require.NoError(t, err)
	assert.Equal(t, model.RelationRegistered, st.Relation)

	f.sweep(t, t0)
	st, err = f.queries.StatusFor(ctx, e.ID, student)
	require.NoError(t, err)
	assert.Equal(t, model.StateOngoing, st.State)
	assert.Equal(t, model.RelationParticipating, st.Relation)

	f.sweep(t, t0.Add(30*time.Minute))
	st, err = f.queries.StatusFor(ctx, e.ID, student)
	require.NoError(t, err)
	assert.Equal(t, model.RelationAttended, st.Relation)
	require.NotNil(t, st.Attendance)
	assert.Equal(t, 30, st.Attendance.DurationMinutes)

	st, err = f.queries.StatusFor(ctx, e.ID, stranger)
	require.NoError(t, err)
	assert.Equal(t, model.RelationNone, st.Relation)
	assert.Nil(t, st.Attendance)

	_, err = f.queries.StatusFor(ctx, 404, student)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueries_StudentListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	student := students(1)[0]

	first := f.createEvent(t, t0, t0.Add(time.Hour), nil)
	second := f.createEvent(t, t0.Add(2*time.Hour), t0.Add(3*time.Hour), nil)
	third := f.createEvent(t, t0.Add(4*time.Hour), t0.Add(5*time.Hour), nil)
	f.register(t, first.ID, student)
	f.register(t, second.ID, student)

	upcoming, err := f.queries.ListUpcomingFor(ctx, student)
	require.NoError(t, err)
	require.Len(t, upcoming, 1, "registered events are not offered again")
	assert.Equal(t, third.ID, upcoming[0].ID)

	f.sweep(t, t0)
	ongoing, err := f.queries.ListOngoingFor(ctx, student)
	require.NoError(t, err)
	require.Len(t, ongoing, 1)
	assert.Equal(t, first.ID, ongoing[0].ID)

	f.sweep(t, t0.Add(3*time.Hour))
	past, err := f.queries.ListPastFor(ctx, student)
	require.NoError(t, err)
	require.Len(t, past, 2)
	assert.Equal(t, second.ID, past[0].Event.ID, "most recent first")
	assert.Equal(t, first.ID, past[1].Event.ID)
	assert.Equal(t, 60, past[1].Attendance.DurationMinutes)

	upcoming, err = f.queries.ListUpcomingFor(ctx, student)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, third.ID, upcoming[0].ID)
}
