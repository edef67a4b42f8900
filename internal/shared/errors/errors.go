package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error classes
var (
	ErrConfig             = errors.New("invalid configuration")
	ErrResourceInvariant  = errors.New("resource invariant violation")
	ErrStaleState         = errors.New("stale hospital state")
	ErrDerivationRejected = errors.New("derivation rejected")
	ErrTransport          = errors.New("transport failure")
	ErrNotFound           = errors.New("resource not found")
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal error")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
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

// Config creates a configuration error. Configuration errors are raised
// before the simulation starts; a rejected parameter leaves no partial state.
func Config(message string) *AppError {
	return &AppError{
		Err:        ErrConfig,
		Message:    message,
		Code:       "CONFIG_ERROR",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Configf creates a configuration error with formatting
func Configf(format string, args ...any) *AppError {
	return Config(fmt.Sprintf(format, args...))
}

// Invariant creates a resource invariant violation. This is an internal bug
// class: the simulation halts and surfaces the diagnostic details instead of
// clamping the counters.
func Invariant(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrResourceInvariant,
		Message:    message,
		Code:       "RESOURCE_INVARIANT_VIOLATION",
		HTTPStatus: http.StatusInternalServerError,
		Details:    details,
	}
}

// Stale creates a stale state warning for a hospital whose snapshot is
// overdue. Recovered locally, never fatal.
func Stale(hospital string, cyclesMissed int) *AppError {
	return &AppError{
		Err:        ErrStaleState,
		Message:    fmt.Sprintf("no recent snapshot from %s", hospital),
		Code:       "STALE_STATE",
		HTTPStatus: http.StatusServiceUnavailable,
		Details: map[string]string{
			"hospital":      hospital,
			"cycles_missed": fmt.Sprintf("%d", cyclesMissed),
		},
	}
}

// DerivationRejected creates a rejected derivation decision error. The
// decision is discarded with no state change.
func DerivationRejected(reason string) *AppError {
	return &AppError{
		Err:        ErrDerivationRejected,
		Message:    reason,
		Code:       "DERIVATION_REJECTED",
		HTTPStatus: http.StatusConflict,
	}
}

// Transport creates a transport error for publish/subscribe failures.
// Telemetry is best effort; the simulation keeps advancing.
func Transport(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %v", ErrTransport, err),
		Message:    "event delivery failed",
		Code:       "TRANSPORT_ERROR",
		HTTPStatus: http.StatusBadGateway,
	}
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Message:    message,
		Code:       "BAD_REQUEST",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}
