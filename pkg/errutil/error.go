package errutil

import (
	"errors"
	"fmt"
)

type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BaseError is the transport-neutral error of the service layer. The code
// decides the HTTP and gRPC status; Err stays internal to logs.
type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details,omitempty"`
	Err     error      `json:"-"`
}

func (e BaseError) Status() CoreStatus { return e.Code }

func (e BaseError) Unwrap() error { return e.Err }

// Is matches another BaseError by code, so errors.Is(err, NotFound("", nil))
// holds for any not-found error.
func (e BaseError) Is(target error) bool {
	var t BaseError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// JSON is the response body shape shared by every HTTP error. The wrapped
// cause is not exposed to clients.
func (e BaseError) JSON() any {
	return map[string]any{
		"error": map[string]any{
			"code":    e.Code,
			"message": e.Message,
			"details": e.Details,
		},
	}
}

type Option func(*BaseError)

func WithDetails(details ...Detail) Option {
	return func(be *BaseError) { be.Details = append(be.Details, details...) }
}

func New(code CoreStatus, message string, err error, opts ...Option) error {
	be := BaseError{Code: code, Message: message, Err: err}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

func BadRequest(msg string, err error, opts ...Option) error {
	return New(StatusBadRequest, msg, err, opts...)
}

func NotFound(msg string, err error, opts ...Option) error {
	return New(StatusNotFound, msg, err, opts...)
}

func UnprocessableEntity(msg string, err error, opts ...Option) error {
	return New(StatusUnprocessableEntity, msg, err, opts...)
}

func TooManyRequest(msg string, err error, opts ...Option) error {
	return New(StatusTooManyRequests, msg, err, opts...)
}

func Internal(msg string, err error, opts ...Option) error {
	return New(StatusInternal, msg, err, opts...)
}

// StatusOf returns the CoreStatus carried by err, or StatusInternal when err
// does not carry one.
func StatusOf(err error) CoreStatus {
	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return coder.Status()
	}
	return StatusInternal
}
