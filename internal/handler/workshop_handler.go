package handler

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/1zbbxzak1/EventHubBot/internal/dto"
	"github.com/1zbbxzak1/EventHubBot/internal/service"
	"github.com/1zbbxzak1/EventHubBot/pkg/middleware"
	"github.com/1zbbxzak1/EventHubBot/pkg/response"
	"github.com/1zbbxzak1/EventHubBot/pkg/telemetry"
)

// WorkshopHandler serves the participant-facing workshop routes
type WorkshopHandler struct {
	workshops service.WorkshopService
	engine    service.WaitlistEngine
}

// NewWorkshopHandler creates a new workshop handler
func NewWorkshopHandler(workshops service.WorkshopService, engine service.WaitlistEngine) *WorkshopHandler {
	return &WorkshopHandler{
		workshops: workshops,
		engine:    engine,
	}
}

// List handles GET /workshops
func (h *WorkshopHandler) List(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.workshop.list")
	defer span.End()

	list, err := h.workshops.ListActiveWorkshops(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	response.Success(c, dto.FromSummaries(list))
}

// Upcoming handles GET /workshops/upcoming
func (h *WorkshopHandler) Upcoming(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.workshop.upcoming")
	defer span.End()

	list, err := h.workshops.ListUpcomingWorkshops(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	response.Success(c, dto.FromSummaries(list))
}

// Get handles GET /workshops/:id
func (h *WorkshopHandler) Get(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.workshop.get")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("workshop_id", id))

	summary, err := h.workshops.GetWorkshop(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	response.Success(c, dto.FromSummary(summary))
}

// Register handles POST /workshops/:id/register
func (h *WorkshopHandler) Register(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.workshop.register")
	defer span.End()

	id := c.Param("id")
	userID, _ := middleware.GetUserID(c)
	span.SetAttributes(
		attribute.String("workshop_id", id),
		attribute.String("user_id", userID),
	)

	if err := h.workshops.EnsureOpen(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	reg, err := h.engine.Register(ctx, id, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("status", reg.Status.String()))
	span.SetStatus(codes.Ok, "")
	response.Created(c, dto.FromRegistration(reg))
}

// Cancel handles POST /workshops/:id/cancel
func (h *WorkshopHandler) Cancel(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.workshop.cancel")
	defer span.End()

	id := c.Param("id")
	userID, _ := middleware.GetUserID(c)
	span.SetAttributes(
		attribute.String("workshop_id", id),
		attribute.String("user_id", userID),
	)

	cancelled, err := h.engine.Cancel(ctx, id, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	response.Success(c, &dto.CancelResponse{WorkshopID: id, Cancelled: cancelled})
}

// Confirm handles POST /workshops/:id/confirm
func (h *WorkshopHandler) Confirm(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.workshop.confirm")
	defer span.End()

	id := c.Param("id")
	userID, _ := middleware.GetUserID(c)
	span.SetAttributes(
		attribute.String("workshop_id", id),
		attribute.String("user_id", userID),
	)

	result, err := h.engine.Confirm(ctx, id, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	resp := &dto.ConfirmResponse{
		Outcome: string(result.Outcome),
		Message: confirmMessage(result.Outcome),
	}
	if result.Registration != nil {
		resp.Registration = dto.FromRegistration(result.Registration)
	}
	response.Success(c, resp)
}

func confirmMessage(outcome service.ConfirmOutcome) string {
	switch outcome {
	case service.OutcomeConfirmed:
		return "Your seat is confirmed."
	case service.OutcomeRaceLost:
		return "Someone else confirmed first. You keep your place in the waitlist."
	case service.OutcomeExpired:
		return "The confirmation window has closed."
	default:
		return "There is no open seat offer for you right now."
	}
}

// MyRegistrations handles GET /me/registrations
func (h *WorkshopHandler) MyRegistrations(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.workshop.my_registrations")
	defer span.End()

	userID, _ := middleware.GetUserID(c)

	regs, err := h.workshops.UserRegistrations(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	out := make([]*dto.UserRegistrationResponse, 0, len(regs))
	for _, r := range regs {
		out = append(out, &dto.UserRegistrationResponse{
			Registration: dto.FromRegistration(r.Registration),
			Workshop:     dto.FromSummary(r.Workshop),
		})
	}
	response.Success(c, out)
}
