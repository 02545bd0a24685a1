package api

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/wb-go/wbf/ginext"

	"liveEvents/internal/dto"
	"liveEvents/internal/service"
	"liveEvents/pkg/validator"
)

func (r *Routers) CreateEvent(c *ginext.Context) {
	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		r.Log.Error().Err(err).Msg("failed to parse create event request")
		dto.BadResponseError(c, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	if verr := validator.Validate(c.Request.Context(), req); verr != nil {
		dto.BadResponseError(c, dto.ValidationFailed, verr.Error())
		return
	}

	event, err := r.Events.CreateEvent(c.Request.Context(), service.EventInput{
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Capacity:    req.Capacity,
	})
	if err != nil {
		r.writeError(c, err)
		return
	}

	dto.SuccessCreatedResponse(c, dto.NewEventResponse(*event))
}

func (r *Routers) UpdateEvent(c *ginext.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		dto.BadResponseError(c, dto.FieldIncorrect, "Invalid request body")
		return
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil {
		dto.BadResponseError(c, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	for _, field := range dto.ReadOnlyEventFields {
		if _, found := keys[field]; found {
			dto.BadResponseError(c, dto.ReadOnlyFieldRejected, "Field '"+field+"' is derived and cannot be set")
			return
		}
	}

	var req dto.UpdateEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		dto.BadResponseError(c, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(c.Request.Context(), req); verr != nil {
		dto.BadResponseError(c, dto.ValidationFailed, verr.Error())
		return
	}

	event, err := r.Events.UpdateEvent(c.Request.Context(), eventID, service.EventPatch{
		Title:         req.Title,
		Description:   req.Description,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Capacity:      req.Capacity,
		ClearCapacity: req.ClearCapacity,
	})
	if err != nil {
		r.writeError(c, err)
		return
	}

	dto.SuccessResponse(c, dto.NewEventResponse(*event))
}

func (r *Routers) DeleteEvent(c *ginext.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	if err := r.Events.DeleteEvent(c.Request.Context(), eventID); err != nil {
		r.writeError(c, err)
		return
	}
	dto.SuccessResponse(c, map[string]int64{"deleted": eventID})
}

func (r *Routers) GetEvent(c *ginext.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	event, err := r.Events.GetEvent(c.Request.Context(), eventID)
	if err != nil {
		r.writeError(c, err)
		return
	}
	dto.SuccessResponse(c, dto.NewEventResponse(*event))
}

func (r *Routers) ListEvents(c *ginext.Context) {
	events, err := r.Events.ListEvents(c.Request.Context())
	if err != nil {
		r.writeError(c, err)
		return
	}
	dto.SuccessResponse(c, dto.NewEventResponses(events))
}

func (r *Routers) AuditEvent(c *ginext.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	audit, err := r.Events.AuditCounters(c.Request.Context(), eventID)
	if err != nil {
		r.writeError(c, err)
		return
	}
	dto.SuccessResponse(c, audit)
}

func (r *Routers) Register(c *ginext.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	studentID, ok := studentFrom(c)
	if !ok {
		dto.ErrorResponse(c, 401, dto.StudentUnidentified, "Missing or invalid "+HeaderStudentID)
		return
	}

	reg, err := r.Registrations.Register(c.Request.Context(), eventID, studentID, r.Eligibility.IsEligible(c, studentID))
	if err != nil {
		r.writeError(c, err)
		return
	}
	dto.SuccessCreatedResponse(c, reg)
}

func (r *Routers) Unregister(c *ginext.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	studentID, ok := studentFrom(c)
	if !ok {
		dto.ErrorResponse(c, 401, dto.StudentUnidentified, "Missing or invalid "+HeaderStudentID)
		return
	}

	if err := r.Registrations.Unregister(c.Request.Context(), eventID, studentID); err != nil {
		r.writeError(c, err)
		return
	}
	dto.SuccessResponse(c, map[string]any{"event_id": eventID, "student_id": studentID})
}

func (r *Routers) Join(c *ginext.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	studentID, ok := studentFrom(c)
	if !ok {
		dto.ErrorResponse(c, 401, dto.StudentUnidentified, "Missing or invalid "+HeaderStudentID)
		return
	}

	p, err := r.Participations.Join(c.Request.Context(), eventID, studentID)
	if err != nil {
		r.writeError(c, err)
		return
	}
	dto.SuccessCreatedResponse(c, p)
}

func (r *Routers) Status(c *ginext.Context) {
	eventID, ok := eventIDParam(c)
	if !ok {
		return
	}
	studentID, ok := studentFrom(c)
	if !ok {
		dto.ErrorResponse(c, 401, dto.StudentUnidentified, "Missing or invalid "+HeaderStudentID)
		return
	}

	st, err := r.Queries.StatusFor(c.Request.Context(), eventID, studentID)
	if err != nil {
		r.writeError(c, err)
		return
	}
	dto.SuccessResponse(c, st)
}

func (r *Routers) StudentEvents(c *ginext.Context) {
	studentID, ok := studentFrom(c)
	if !ok {
		dto.ErrorResponse(c, 401, dto.StudentUnidentified, "Missing or invalid "+HeaderStudentID)
		return
	}

	ctx := c.Request.Context()
	switch phase := c.DefaultQuery("phase", "upcoming"); phase {
	case "upcoming":
		events, err := r.Queries.ListUpcomingFor(ctx, studentID)
		if err != nil {
			r.writeError(c, err)
			return
		}
		dto.SuccessResponse(c, dto.NewEventResponses(events))
	case "ongoing":
		events, err := r.Queries.ListOngoingFor(ctx, studentID)
		if err != nil {
			r.writeError(c, err)
			return
		}
		dto.SuccessResponse(c, dto.NewEventResponses(events))
	case "past":
		items, err := r.Queries.ListPastFor(ctx, studentID)
		if err != nil {
			r.writeError(c, err)
			return
		}
		dto.SuccessResponse(c, dto.NewAttendedEventResponses(items))
	default:
		dto.FieldIncorrectError(c, "phase")
	}
}

func (r *Routers) RunTransitions(c *ginext.Context) {
	now := r.Clock.Now()
	sum, err := r.Scheduler.RunTransitions(c.Request.Context(), now)
	if err != nil {
		r.writeError(c, err)
		return
	}
	r.Log.Info().Int("to_ongoing", sum.ToOngoing).Int("to_past", sum.ToPast).Int("failed", sum.Failed).
		Msg("manual sweep finished")
	dto.SuccessResponse(c, sum)
}

func eventIDParam(c *ginext.Context) (int64, bool) {
	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || eventID <= 0 {
		dto.BadResponseError(c, dto.FieldIncorrect, "Invalid event ID")
		return 0, false
	}
	return eventID, true
}

func (r *Routers) writeError(c *ginext.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotRegistered):
		dto.RegistrationNotFoundError(c)
	case errors.Is(err, service.ErrNotFound):
		dto.EventNotFoundError(c)
	case errors.Is(err, service.ErrValidation):
		dto.BadResponseError(c, dto.ValidationFailed, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		dto.ErrorResponse(c, 409, dto.InvalidState, err.Error())
	case errors.Is(err, service.ErrNotEligible):
		dto.ErrorResponse(c, 403, dto.NotEligible, "Student is not eligible to register")
	case errors.Is(err, service.ErrDuplicateRelationship):
		dto.ErrorResponse(c, 409, dto.RelationDuplicate, "Student is already on this event")
	case errors.Is(err, service.ErrCapacityExceeded):
		dto.ErrorResponse(c, 409, dto.CapacityExceeded, "Event is full")
	case errors.Is(err, service.ErrProtectedDeletion):
		dto.ErrorResponse(c, 409, dto.ProtectedDeletion, err.Error())
	default:
		r.Log.Error().Err(err).Str("path", c.FullPath()).Msgf("request failed: %s %s", c.Request.Method, c.Request.URL.Path)
		dto.InternalServerError(c)
	}
}
