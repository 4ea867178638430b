package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/1zbbxzak1/EventHubBot/internal/domain"
	"github.com/1zbbxzak1/EventHubBot/pkg/response"
)

// handleError maps domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	_ = c.Error(err)

	switch {
	case errors.Is(err, domain.ErrWorkshopNotFound):
		response.Fail(c, http.StatusNotFound, "WORKSHOP_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrRegistrationNotFound):
		response.Fail(c, http.StatusNotFound, "REGISTRATION_NOT_FOUND", err.Error())
	case domain.IsValidationError(err):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrAlreadyRegistered):
		response.Conflict(c, "ALREADY_REGISTERED", err.Error())
	case errors.Is(err, domain.ErrWorkshopFull):
		response.Conflict(c, "WORKSHOP_FULL", err.Error())
	case errors.Is(err, domain.ErrCapacityBelowConfirmed):
		response.Conflict(c, "CAPACITY_BELOW_CONFIRMED", err.Error())
	case errors.Is(err, domain.ErrWorkshopInactive):
		response.Fail(c, http.StatusUnprocessableEntity, "WORKSHOP_INACTIVE", err.Error())
	default:
		response.InternalError(c)
	}
}

func bindError(c *gin.Context, err error) {
	_ = c.Error(err)
	response.Fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}
