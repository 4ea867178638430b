package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/1zbbxzak1/EventHubBot/internal/dto"
	"github.com/1zbbxzak1/EventHubBot/internal/service"
	"github.com/1zbbxzak1/EventHubBot/pkg/middleware"
	"github.com/1zbbxzak1/EventHubBot/pkg/response"
	"github.com/1zbbxzak1/EventHubBot/pkg/telemetry"
)

// AdminHandler serves workshop administration routes
type AdminHandler struct {
	workshops service.WorkshopService
	engine    service.WaitlistEngine
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(workshops service.WorkshopService, engine service.WaitlistEngine) *AdminHandler {
	return &AdminHandler{
		workshops: workshops,
		engine:    engine,
	}
}

// Create handles POST /admin/workshops
func (h *AdminHandler) Create(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.create")
	defer span.End()

	var req dto.CreateWorkshopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		bindError(c, err)
		return
	}

	summary, err := h.workshops.CreateWorkshop(ctx, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("workshop_id", summary.ID))
	response.Created(c, dto.FromSummary(summary))
}

// Update handles PUT /admin/workshops/:id
func (h *AdminHandler) Update(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.update")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("workshop_id", id))

	var req dto.UpdateWorkshopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		bindError(c, err)
		return
	}

	summary, err := h.workshops.UpdateWorkshop(ctx, id, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	response.Success(c, dto.FromSummary(summary))
}

// Delete handles DELETE /admin/workshops/:id
func (h *AdminHandler) Delete(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.delete")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("workshop_id", id))

	if err := h.workshops.DeleteWorkshop(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Participants handles GET /admin/workshops/:id/participants
func (h *AdminHandler) Participants(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.participants")
	defer span.End()

	id := c.Param("id")
	if _, err := h.workshops.GetWorkshop(ctx, id); err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}

	regs, err := h.workshops.Participants(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	response.Success(c, dto.FromRegistrations(regs))
}

// AddParticipant handles POST /admin/workshops/:id/participants
func (h *AdminHandler) AddParticipant(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.add_participant")
	defer span.End()

	id := c.Param("id")

	var req dto.ManualAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		bindError(c, err)
		return
	}
	span.SetAttributes(
		attribute.String("workshop_id", id),
		attribute.String("user_id", req.UserID),
		attribute.Bool("as_waitlist", req.AsWaitlist),
	)

	reg, err := h.engine.ManuallyAdd(ctx, id, req.UserID, req.AsWaitlist)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	response.Created(c, dto.FromRegistration(reg))
}

// RemoveParticipant handles DELETE /admin/workshops/:id/participants/:userId
func (h *AdminHandler) RemoveParticipant(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.remove_participant")
	defer span.End()

	id := c.Param("id")
	userID := c.Param("userId")
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
	if !cancelled {
		response.Fail(c, http.StatusNotFound, "REGISTRATION_NOT_FOUND", "user is not registered for this workshop")
		return
	}

	response.Success(c, &dto.CancelResponse{WorkshopID: id, Cancelled: true})
}

// Waitlist handles GET /admin/workshops/:id/waitlist
func (h *AdminHandler) Waitlist(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.waitlist")
	defer span.End()

	id := c.Param("id")
	if _, err := h.workshops.GetWorkshop(ctx, id); err != nil {
		span.RecordError(err)
		handleError(c, err)
		return
	}

	regs, err := h.workshops.Waitlist(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	response.Success(c, dto.FromRegistrations(regs))
}

// Attendance handles GET /admin/workshops/:id/attendance
func (h *AdminHandler) Attendance(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.attendance")
	defer span.End()

	report, err := h.engine.ListAttendance(ctx, c.Param("id"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}

	response.Success(c, dto.FromAttendance(report))
}

// MarkAttendance handles POST /admin/workshops/:id/attendance
func (h *AdminHandler) MarkAttendance(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.mark_attendance")
	defer span.End()

	id := c.Param("id")
	adminID, _ := middleware.GetUserID(c)

	var req dto.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		bindError(c, err)
		return
	}
	span.SetAttributes(
		attribute.String("workshop_id", id),
		attribute.String("user_id", req.UserID),
		attribute.Bool("present", *req.Present),
	)

	marked, err := h.engine.MarkAttendance(ctx, id, req.UserID, *req.Present, adminID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	if !marked {
		response.Fail(c, http.StatusNotFound, "REGISTRATION_NOT_FOUND", "user is not registered for this workshop")
		return
	}

	response.Success(c, gin.H{"workshop_id": id, "user_id": req.UserID, "present": *req.Present})
}
