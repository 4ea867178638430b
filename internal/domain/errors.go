package domain

import "errors"

// Domain errors
var (
	// Workshop errors
	ErrWorkshopNotFound       = errors.New("workshop not found")
	ErrWorkshopInactive       = errors.New("workshop is not open for registration")
	ErrWorkshopFull           = errors.New("workshop has no free seats")
	ErrCapacityBelowConfirmed = errors.New("capacity cannot be lower than the confirmed participant count")

	// Registration errors
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrAlreadyRegistered    = errors.New("user is already registered for this workshop")

	// Raised when a stored workshop breaks capacity or waitlist ordering rules
	ErrInvariantViolation = errors.New("workshop invariant violated")

	// Validation errors
	ErrInvalidWorkshopID = errors.New("invalid workshop id")
	ErrInvalidUserID     = errors.New("invalid user id")
	ErrInvalidTitle      = errors.New("workshop title is required")
	ErrInvalidCapacity   = errors.New("capacity must be greater than zero")
	ErrInvalidSchedule   = errors.New("workshop end time must not be before its start time")
	ErrInvalidStatus     = errors.New("invalid registration status")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkshopNotFound) ||
		errors.Is(err, ErrRegistrationNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidWorkshopID) ||
		errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidTitle) ||
		errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrInvalidStatus)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyRegistered) ||
		errors.Is(err, ErrWorkshopFull) ||
		errors.Is(err, ErrCapacityBelowConfirmed)
}
