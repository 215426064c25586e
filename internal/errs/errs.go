package errs

import "errors"

// Sentinel errors shared across services. Handlers map these to HTTP
// responses; anything not in this list is treated as an internal error.
var (
	ErrValidation       = errors.New("validation failed")
	ErrDuplicate        = errors.New("already registered")
	ErrCapacityExceeded = errors.New("capacity limit reached")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrGateway          = errors.New("payment gateway error")
	ErrNotFound         = errors.New("not found")
	ErrNotPaid          = errors.New("payment not completed")
	ErrIssuance         = errors.New("ticket issuance failed")
)

// Code returns the machine-readable error code for an error, suitable for
// JSON error bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrDuplicate):
		return "DUPLICATE"
	case errors.Is(err, ErrCapacityExceeded):
		return "CAPACITY_EXCEEDED"
	case errors.Is(err, ErrSignatureInvalid):
		return "SIGNATURE_INVALID"
	case errors.Is(err, ErrGateway):
		return "GATEWAY_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrNotPaid):
		return "NOT_PAID"
	case errors.Is(err, ErrIssuance):
		return "ISSUANCE_FAILED"
	default:
		return "INTERNAL"
	}
}
