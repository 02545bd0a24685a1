package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"liveEvents/cmd/middleware"
	"liveEvents/internal/clock"
	"liveEvents/internal/dto"
	"liveEvents/internal/service"
)

type Routers struct {
	Events         *service.EventService
	Registrations  *service.RegistrationGate
	Participations *service.ParticipationGate
	Scheduler      *service.Scheduler
	Queries        *service.Queries
	Eligibility    EligibilityChecker
	Clock          clock.Clock
	Log            *zerolog.Logger
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

func NewRouters(r *Routers, mode string) *ginext.Engine {
	if r.Eligibility == nil {
		r.Eligibility = HeaderEligibility{}
	}

	app := ginext.New(mode)

	app.Use(middleware.LoggingMiddleware(r.Log))
	app.Use(cors.Default())
	apiGroup := app.Group("/v1")

	apiGroup.POST("/events", r.CreateEvent)
	apiGroup.GET("/events", r.ListEvents)
	apiGroup.GET("/events/:id", r.GetEvent)
	apiGroup.PATCH("/events/:id", r.UpdateEvent)
	apiGroup.DELETE("/events/:id", r.DeleteEvent)
	apiGroup.GET("/events/:id/audit", r.AuditEvent)

	apiGroup.POST("/events/:id/register", r.Register)
	apiGroup.DELETE("/events/:id/register", r.Unregister)
	apiGroup.POST("/events/:id/join", r.Join)
	apiGroup.GET("/events/:id/status", r.Status)
	apiGroup.GET("/students/me/events", r.StudentEvents)

	apiGroup.POST("/admin/transitions", r.RunTransitions)

	if r.Metrics != nil {
		app.GET("/metrics", gin.WrapH(r.Metrics))
	}
	app.GET("/healthz", func(c *ginext.Context) {
		dto.SuccessResponse(c, "alive")
	})

	return app
}
