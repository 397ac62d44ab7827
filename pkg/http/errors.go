package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"QuantSim/internal/domain/errs"
)

// AppError is an error with an HTTP status and a stable code.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// WithParam sets a single error param.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NewAppError("ERR_NOT_FOUND", fmt.Sprintf(format, a...), http.StatusNotFound)
}

func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return NewAppError("ERR_BAD_REQUEST", fmt.Sprintf(format, a...), http.StatusBadRequest)
}

func TooManyRequestsError() *AppError {
	return NewAppError("ERR_RATE_LIMITED", "too many requests", http.StatusTooManyRequests)
}

func InternalErrorf(format string, a ...interface{}) *AppError {
	return NewAppError("ERR_INTERNAL", fmt.Sprintf(format, a...), http.StatusInternalServerError)
}

// FromError maps a domain error onto an AppError.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewAppError("ERR_TIMEOUT", "request timed out", http.StatusGatewayTimeout).WithError(err)
	case errors.Is(err, context.Canceled):
		return NewAppError("ERR_CANCELLED", "request cancelled", http.StatusServiceUnavailable).WithError(err)
	}
	switch errs.KindOf(err) {
	case errs.KindSetup:
		return NewAppError("ERR_SETUP_FAILURE", err.Error(), http.StatusUnprocessableEntity).WithError(err)
	case errs.KindDataQuality:
		return NewAppError("ERR_DATA_QUALITY", err.Error(), http.StatusUnprocessableEntity).WithError(err)
	case errs.KindPersistence:
		return NewAppError("ERR_PERSISTENCE", err.Error(), http.StatusServiceUnavailable).WithError(err)
	}
	return InternalErrorf("internal error").WithError(err)
}
