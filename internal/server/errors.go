package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/cooprin/fleetbill/internal/billing/domain"
	catalogdomain "github.com/cooprin/fleetbill/internal/catalog/domain"
	clientdomain "github.com/cooprin/fleetbill/internal/client/domain"
	tariffdomain "github.com/cooprin/fleetbill/internal/tariff/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, billingdomain.ErrInvalidMonth),
		errors.Is(err, billingdomain.ErrInvalidYear),
		errors.Is(err, billingdomain.ErrInvalidClientID),
		errors.Is(err, billingdomain.ErrInvalidInvoiceID),
		errors.Is(err, billingdomain.ErrInvalidPageToken),
		errors.Is(err, clientdomain.ErrInvalidClientID),
		errors.Is(err, catalogdomain.ErrInvalidAssignmentID),
		errors.Is(err, catalogdomain.ErrInvalidServiceID),
		errors.Is(err, catalogdomain.ErrMissingFixedPrice),
		errors.Is(err, tariffdomain.ErrInvalidEffectiveFrom):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, billingdomain.ErrGenerationInProgress),
		errors.Is(err, billingdomain.ErrInvoiceNotIssued),
		errors.Is(err, catalogdomain.ErrDuplicateAssignment),
		errors.Is(err, catalogdomain.ErrAssignmentNotActive),
		errors.Is(err, catalogdomain.ErrServiceStillInvoiced),
		errors.Is(err, catalogdomain.ErrServiceStillAssigned),
		errors.Is(err, tariffdomain.ErrOverlappingAssignment):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, billingdomain.ErrInvoiceNotFound),
		errors.Is(err, clientdomain.ErrClientNotFound),
		errors.Is(err, catalogdomain.ErrServiceNotFound),
		errors.Is(err, catalogdomain.ErrAssignmentNotFound),
		errors.Is(err, tariffdomain.ErrTariffNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
