package api

import (
	"errors"
	"net/http"

	"marketplace-service/internal/apperr"

	"github.com/gin-gonic/gin"
)

// httpStatus maps the business error taxonomy to HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrInvalidState),
		errors.Is(err, apperr.ErrConflictingTransition),
		errors.Is(err, apperr.ErrOrderNotEligible):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, apperr.ErrInsufficientStock),
		errors.Is(err, apperr.ErrInsufficientFunds),
		errors.Is(err, apperr.ErrVoucherExhausted),
		errors.Is(err, apperr.ErrVoucherExpired),
		errors.Is(err, apperr.ErrVoucherNotApplicable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the standard error envelope.
func respondError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{
		"error":   apperr.Code(err),
		"details": err.Error(),
	})
}
