package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveEvents/internal/clock"
	"liveEvents/internal/dto"
	"liveEvents/internal/metrics"
	"liveEvents/internal/repo"
	"liveEvents/internal/service"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	clock   *clock.Manual
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zerolog.Nop()
	r := repo.NewMemoryRepository()
	clk := clock.NewManual(t0.Add(-time.Hour))
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	app := NewRouters(&Routers{
		Events:         service.NewEventService(r, clk, &log, nil),
		Registrations:  service.NewRegistrationGate(r, clk, &log, m),
		Participations: service.NewParticipationGate(r, clk, &log, m),
		Scheduler:      service.NewScheduler(r, &log, m, time.Second),
		Queries:        service.NewQueries(r),
		Clock:          clk,
		Log:            &log,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, gin.TestMode)
	return &testServer{handler: app, clock: clk}
}

type envelope struct {
	Status string          `json:"status"`
	Error  *dto.Error      `json:"error"`
	Data   json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func (s *testServer) createEvent(t *testing.T, capacity *int) dto.EventResponse {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/v1/events", map[string]any{
		"title":      "Compilers reading group",
		"start_time": t0,
		"end_time":   t0.Add(time.Hour),
		"capacity":   capacity,
	}, nil)
	require.Equal(t, http.StatusCreated, code)

	var e dto.EventResponse
	require.NoError(t, json.Unmarshal(env.Data, &e))
	return e
}

func student(verified bool) (uuid.UUID, map[string]string) {
	id := uuid.New()
	return id, map[string]string{
		HeaderStudentID:       id.String(),
		HeaderStudentVerified: fmt.Sprint(verified),
	}
}

func TestCreateEventHandler(t *testing.T) {
	s := newTestServer(t)

	t.Run("Created", func(t *testing.T) {
		capacity := 2
		e := s.createEvent(t, &capacity)
		assert.NotZero(t, e.ID)
		assert.Equal(t, "upcoming", string(e.State))
		require.NotNil(t, e.AvailableSeats)
		assert.Equal(t, 2, *e.AvailableSeats)
	})

	t.Run("EndBeforeStart", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/v1/events", map[string]any{
			"title":      "Backwards",
			"start_time": t0,
			"end_time":   t0.Add(-time.Hour),
		}, nil)
		assert.Equal(t, http.StatusBadRequest, code)
		require.NotNil(t, env.Error)
		assert.Equal(t, dto.ValidationFailed, env.Error.Code)
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		code, env := s.do(t, http.MethodPost, "/v1/events", "{", nil)
		assert.Equal(t, http.StatusBadRequest, code)
		require.NotNil(t, env.Error)
		assert.Equal(t, dto.FieldIncorrect, env.Error.Code)
	})
}

func TestUpdateEventHandler_RejectsDerivedFields(t *testing.T) {
	s := newTestServer(t)
	e := s.createEvent(t, nil)
	path := fmt.Sprintf("/v1/events/%d", e.ID)

	for _, field := range []string{"state", "registration_count", "attendance_count"} {
		code, env := s.do(t, http.MethodPatch, path, map[string]any{field: "past"}, nil)
		assert.Equal(t, http.StatusBadRequest, code, field)
		require.NotNil(t, env.Error)
		assert.Equal(t, dto.ReadOnlyFieldRejected, env.Error.Code)
	}

	code, env := s.do(t, http.MethodPatch, path, map[string]any{"capacity": 3, "clear_capacity": true}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, dto.ValidationFailed, env.Error.Code)

	code, env = s.do(t, http.MethodPatch, path, map[string]any{"title": "Renamed"}, nil)
	require.Equal(t, http.StatusOK, code)
	var got dto.EventResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "upcoming", string(got.State))
}

func TestRegistrationFlowHandlers(t *testing.T) {
	s := newTestServer(t)
	capacity := 1
	e := s.createEvent(t, &capacity)
	registerPath := fmt.Sprintf("/v1/events/%d/register", e.ID)

	_, anonymous := student(true)
	delete(anonymous, HeaderStudentID)
	code, env := s.do(t, http.MethodPost, registerPath, nil, anonymous)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, dto.StudentUnidentified, env.Error.Code)

	_, unverified := student(false)
	code, env = s.do(t, http.MethodPost, registerPath, nil, unverified)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, dto.NotEligible, env.Error.Code)

	_, alice := student(true)
	code, _ = s.do(t, http.MethodPost, registerPath, nil, alice)
	assert.Equal(t, http.StatusCreated, code)

	code, env = s.do(t, http.MethodPost, registerPath, nil, alice)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, dto.RelationDuplicate, env.Error.Code)

	_, bob := student(true)
	code, env = s.do(t, http.MethodPost, registerPath, nil, bob)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, dto.CapacityExceeded, env.Error.Code)

	code, env = s.do(t, http.MethodDelete, registerPath, nil, bob)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, dto.RegistrationNotFound, env.Error.Code)

	code, env = s.do(t, http.MethodGet, fmt.Sprintf("/v1/events/%d/status", e.ID), nil, alice)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"relation":"registered"`)

	s.clock.Set(t0)
	code, env = s.do(t, http.MethodPost, "/v1/admin/transitions", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var sum service.Summary
	require.NoError(t, json.Unmarshal(env.Data, &sum))
	assert.Equal(t, service.Summary{ToOngoing: 1}, sum)

	code, env = s.do(t, http.MethodDelete, registerPath, nil, alice)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, dto.InvalidState, env.Error.Code)

	code, env = s.do(t, http.MethodPost, fmt.Sprintf("/v1/events/%d/join", e.ID), nil, alice)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, dto.RelationDuplicate, env.Error.Code)

	code, env = s.do(t, http.MethodGet, "/v1/students/me/events?phase=ongoing", nil, alice)
	require.Equal(t, http.StatusOK, code)
	var ongoing []dto.EventResponse
	require.NoError(t, json.Unmarshal(env.Data, &ongoing))
	require.Len(t, ongoing, 1)
	assert.Equal(t, e.ID, ongoing[0].ID)
}

func TestDeleteEventHandler_Protected(t *testing.T) {
	s := newTestServer(t)
	e := s.createEvent(t, nil)

	s.clock.Set(t0)
	s.do(t, http.MethodPost, "/v1/admin/transitions", nil, nil)
	_, alice := student(true)
	code, _ := s.do(t, http.MethodPost, fmt.Sprintf("/v1/events/%d/join", e.ID), nil, alice)
	require.Equal(t, http.StatusCreated, code)

	s.clock.Set(t0.Add(time.Hour))
	s.do(t, http.MethodPost, "/v1/admin/transitions", nil, nil)

	code, env := s.do(t, http.MethodDelete, fmt.Sprintf("/v1/events/%d", e.ID), nil, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, dto.ProtectedDeletion, env.Error.Code)

	code, env = s.do(t, http.MethodGet, "/v1/students/me/events?phase=past", nil, alice)
	require.Equal(t, http.StatusOK, code)
	var past []dto.AttendedEventResponse
	require.NoError(t, json.Unmarshal(env.Data, &past))
	require.Len(t, past, 1)
	assert.Equal(t, 60, past[0].DurationMinutes)
}

func TestEventNotFoundAndBadID(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/v1/events/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, dto.EventNotFound, env.Error.Code)

	code, env = s.do(t, http.MethodGet, "/v1/events/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, dto.FieldIncorrect, env.Error.Code)

	_, alice := student(true)
	code, _ = s.do(t, http.MethodGet, "/v1/students/me/events?phase=someday", nil, alice)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", env.Status)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
