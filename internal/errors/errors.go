// Package errors defines the router's HTTP-aware error type.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes carried in ServiceError.Code.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeBadGateway        = "BAD_GATEWAY"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeInternal          = "INTERNAL"
)

// ServiceError is an error that knows which HTTP status it maps to.
type ServiceError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail field and returns e.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError.
func New(code, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

// Wrap creates a ServiceError around err.
func Wrap(err error, code, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// NotFound is the router's own 404, rendered as {"detail": message}.
func NotFound(message string) *ServiceError {
	return New(CodeNotFound, message, http.StatusNotFound)
}

func BadGateway(app string, err error) *ServiceError {
	return Wrap(err, CodeBadGateway, "Bad Gateway", http.StatusBadGateway).WithDetails("app", app)
}

// RateLimitExceeded reports a rejected request; limit is requests per window.
func RateLimitExceeded(limit float64, window string) *ServiceError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(err, CodeInternal, message, http.StatusInternalServerError)
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}
