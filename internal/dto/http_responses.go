package dto

import (
	"time"

	"github.com/wb-go/wbf/ginext"

	"liveEvents/internal/model"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	EventNotFound         = "EVENT_NOT_FOUND"
	RegistrationNotFound  = "REGISTRATION_NOT_FOUND"
	RelationDuplicate     = "RELATION_DUPLICATE"
	InvalidState          = "INVALID_STATE"
	NotEligible           = "NOT_ELIGIBLE"
	CapacityExceeded      = "CAPACITY_EXCEEDED"
	ProtectedDeletion     = "PROTECTED_DELETION"
	StudentUnidentified   = "STUDENT_UNIDENTIFIED"
	ValidationFailed      = "VALIDATION_FAILED"
	ReadOnlyFieldRejected = "READ_ONLY_FIELD"
)

type CreateEventRequest struct {
	Title       string    `json:"title" validate:"required,max=255"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	Capacity    *int      `json:"capacity" validate:"omitempty,positive"`
}

// UpdateEventRequest carries only settable fields. State and counters are
// derived; the handler rejects bodies that mention them.
type UpdateEventRequest struct {
	Title         *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Description   *string    `json:"description"`
	StartTime     *time.Time `json:"start_time"`
	EndTime       *time.Time `json:"end_time"`
	Capacity      *int       `json:"capacity" validate:"omitempty,positive"`
	ClearCapacity bool       `json:"clear_capacity"`
}

// ReadOnlyEventFields are the JSON keys an update body may not contain.
var ReadOnlyEventFields = []string{
	"id", "state", "registration_count", "participation_count", "attendance_count", "created_at", "updated_at",
}

// TransitionTriggerMessage asks the consumer to apply whatever transition is
// due for EventID. DueAt is informational; the consumer reads its own clock.
type TransitionTriggerMessage struct {
	EventID int64       `json:"event_id"`
	Phase   model.State `json:"phase"`
	DueAt   time.Time   `json:"due_at"`
}

type EventResponse struct {
	ID                 int64       `json:"id"`
	Title              string      `json:"title"`
	Description        string      `json:"description"`
	StartTime          time.Time   `json:"start_time"`
	EndTime            time.Time   `json:"end_time"`
	State              model.State `json:"state"`
	Capacity           *int        `json:"capacity,omitempty"`
	AvailableSeats     *int        `json:"available_seats,omitempty"`
	RegistrationCount  int         `json:"registration_count"`
	ParticipationCount int         `json:"participation_count"`
	AttendanceCount    int         `json:"attendance_count"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

func NewEventResponse(e model.Event) EventResponse {
	resp := EventResponse{
		ID:                 e.ID,
		Title:              e.Title,
		Description:        e.Description,
		StartTime:          e.StartTime,
		EndTime:            e.EndTime,
		State:              e.State,
		Capacity:           e.Capacity,
		RegistrationCount:  e.RegistrationCount,
		ParticipationCount: e.ParticipationCount,
		AttendanceCount:    e.AttendanceCount,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
	if e.Capacity != nil && !e.IsPast() {
		seats := *e.Capacity - e.ActiveCount()
		if seats < 0 {
			seats = 0
		}
		resp.AvailableSeats = &seats
	}
	return resp
}

func NewEventResponses(events []model.Event) []EventResponse {
	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, NewEventResponse(e))
	}
	return resp
}

type AttendedEventResponse struct {
	EventResponse
	ParticipationStart time.Time `json:"participation_start"`
	DurationMinutes    int       `json:"duration_minutes"`
}

func NewAttendedEventResponses(items []model.AttendedEvent) []AttendedEventResponse {
	resp := make([]AttendedEventResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, AttendedEventResponse{
			EventResponse:      NewEventResponse(it.Event),
			ParticipationStart: it.Attendance.ParticipationStart,
			DurationMinutes:    it.Attendance.DurationMinutes,
		})
	}
	return resp
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func ErrorResponse(c *ginext.Context, httpStatus int, code, desc string) {
	c.JSON(httpStatus, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func BadResponseError(c *ginext.Context, code, desc string) {
	ErrorResponse(c, 400, code, desc)
}

func InternalServerError(c *ginext.Context) {
	ErrorResponse(c, 500, ServiceUnavailable, InternalError)
}

func FieldBadFormatError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldBadFormat, "Field '"+fieldName+"' has bad format")
}

func FieldIncorrectError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldIncorrect, "Field '"+fieldName+"' is incorrect")
}

func EventNotFoundError(c *ginext.Context) {
	ErrorResponse(c, 404, EventNotFound, "Event not found")
}

func RegistrationNotFoundError(c *ginext.Context) {
	ErrorResponse(c, 404, RegistrationNotFound, "Registration not found")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{
		Status: "ok",
		Data:   data,
	})
}
