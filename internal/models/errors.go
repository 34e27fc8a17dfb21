package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes surfaced to callers. HTTP status mapping lives in StatusFor.
const (
	CodeNotFound                 = "NOT_FOUND"
	CodeValidation               = "VALIDATION_ERROR"
	CodeUnauthorized             = "UNAUTHORIZED"
	CodeForbidden                = "FORBIDDEN"
	CodeInvalidTransition        = "INVALID_TRANSITION"
	CodeSlotFull                 = "SLOT_FULL"
	CodeReservationLimitExceeded = "RESERVATION_LIMIT_EXCEEDED"
	CodeTooManyRequests          = "TOO_MANY_REQUESTS"
	CodeNotOnAir                 = "NOT_ON_AIR"
	CodeStoppedByAdmin           = "BROADCAST_STOPPED_BY_ADMIN"
	CodeViewerSanctioned         = "VIEWER_SANCTIONED"
	CodeProductSoldOut           = "PRODUCT_SOLD_OUT"
	CodeProviderError            = "PROVIDER_ERROR"
	CodeStorageError             = "STORAGE_ERROR"
	CodeInternal                 = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewInvalidTransitionError(from, to BroadcastStatus) *AppError {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("broadcast cannot move from %s to %s", from, to),
	}
}

func NewSlotFullError(slot string) *AppError {
	return &AppError{
		Code:    CodeSlotFull,
		Message: fmt.Sprintf("reservation slot %s is full", slot),
	}
}

func NewReservationLimitError(limit int) *AppError {
	return &AppError{
		Code:    CodeReservationLimitExceeded,
		Message: fmt.Sprintf("seller already holds %d reserved broadcasts", limit),
	}
}

func NewTooManyRequestsError(resource string) *AppError {
	return &AppError{
		Code:    CodeTooManyRequests,
		Message: fmt.Sprintf("%s is busy, try again shortly", resource),
	}
}

func NewNotOnAirError(status BroadcastStatus) *AppError {
	return &AppError{
		Code:    CodeNotOnAir,
		Message: fmt.Sprintf("broadcast is not live (status %s)", status),
	}
}

func NewStoppedByAdminError() *AppError {
	return &AppError{
		Code:    CodeStoppedByAdmin,
		Message: "broadcast was stopped by an administrator",
	}
}

func NewViewerSanctionedError() *AppError {
	return &AppError{
		Code:    CodeViewerSanctioned,
		Message: "viewer is barred from this broadcast",
	}
}

func NewProductSoldOutError(productID uint) *AppError {
	return &AppError{
		Code:    CodeProductSoldOut,
		Message: fmt.Sprintf("product %d does not have enough sellable stock", productID),
	}
}

func NewProviderError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeProviderError,
		Message: message,
		Err:     err,
	}
}

func NewStorageError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeStorageError,
		Message: message,
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// ErrorCode returns the AppError code anywhere in err's chain, or "".
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given AppError code.
func IsCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// StatusFor maps an error to the HTTP status the API responds with.
func StatusFor(err error) int {
	switch ErrorCode(err) {
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeUnauthorized:
		return fiber.StatusUnauthorized
	case CodeForbidden, CodeStoppedByAdmin, CodeViewerSanctioned:
		return fiber.StatusForbidden
	case CodeValidation, CodeInvalidTransition, CodeNotOnAir, CodeProductSoldOut:
		return fiber.StatusBadRequest
	case CodeSlotFull, CodeReservationLimitExceeded:
		return fiber.StatusConflict
	case CodeTooManyRequests:
		return fiber.StatusTooManyRequests
	case CodeProviderError, CodeStorageError:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil && appErr.Code != CodeInternal {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
