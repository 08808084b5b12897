// Package apperr defines the business error taxonomy shared by the store,
// service and API layers. Callers match with errors.Is and map to stable
// codes at the boundary.
package apperr

import "errors"

var (
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = errors.New("not found")
	ErrUnauthorized          = errors.New("caller is not the required party")
	ErrInvalidState          = errors.New("invalid state for this transition")
	ErrPreconditionFailed    = errors.New("precondition failed")
	ErrConflictingTransition = errors.New("state already changed concurrently")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInsufficientFunds     = errors.New("insufficient wallet balance")
	ErrVoucherExhausted      = errors.New("voucher quantity exhausted")
	ErrVoucherExpired        = errors.New("voucher expired or not yet active")
	ErrVoucherNotApplicable  = errors.New("voucher not applicable to this order")
	ErrOrderNotEligible      = errors.New("order not eligible for refund")
	ErrInvalidSignature      = errors.New("invalid gateway signature")
	ErrExternalService       = errors.New("external service failure")
)

// Code returns the stable error code exposed to API clients. Unrecognized
// errors map to INTERNAL.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrPreconditionFailed):
		return "PRECONDITION_FAILED"
	case errors.Is(err, ErrConflictingTransition):
		return "CONFLICTING_TRANSITION"
	case errors.Is(err, ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrVoucherExhausted):
		return "VOUCHER_EXHAUSTED"
	case errors.Is(err, ErrVoucherExpired):
		return "VOUCHER_EXPIRED"
	case errors.Is(err, ErrVoucherNotApplicable):
		return "VOUCHER_NOT_APPLICABLE"
	case errors.Is(err, ErrOrderNotEligible):
		return "ORDER_NOT_ELIGIBLE"
	case errors.Is(err, ErrInvalidSignature):
		return "INVALID_SIGNATURE"
	case errors.Is(err, ErrExternalService):
		return "EXTERNAL_SERVICE_FAILURE"
	default:
		return "INTERNAL"
	}
}
