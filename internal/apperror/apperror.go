// Package apperror defines the error taxonomy shared by the ticker client,
// the resilience layer, the conversion router and the HTTP boundary.
//
// Every error carries a machine readable Kind, a human message and a detail
// map. The HTTP layer maps the kind to a fixed status code.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindInvalidAmount
	KindSameCurrency
	KindNotFound
	KindConversion
	KindUpstream
	KindTimeout
	KindCircuitOpen
	KindCanceled
)

var kindNames = map[Kind]string{
	KindInternal:      "internal_error",
	KindValidation:    "validation_error",
	KindInvalidAmount: "invalid_amount",
	KindSameCurrency:  "same_currency",
	KindNotFound:      "not_found",
	KindConversion:    "conversion_error",
	KindUpstream:      "upstream_error",
	KindTimeout:       "upstream_timeout",
	KindCircuitOpen:   "circuit_open",
	KindCanceled:      "request_canceled",
}

func (kind Kind) String() string {
	if name, ok := kindNames[kind]; ok {
		return name
	}
	return "unknown_error"
}

// StatusCode returns the HTTP status the boundary layer uses for the kind
func (kind Kind) StatusCode() int {
	switch kind {
	case KindValidation, KindInvalidAmount, KindSameCurrency:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConversion:
		return http.StatusUnprocessableEntity
	case KindUpstream, KindTimeout, KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsUpstream reports whether the kind means the exchange could not serve the call
func (kind Kind) IsUpstream() bool {
	return kind == KindUpstream || kind == KindTimeout || kind == KindCircuitOpen
}

// IsCallerFault reports whether the kind is caused by the input rather than by
// the availability of the exchange.
func (kind Kind) IsCallerFault() bool {
	switch kind {
	case KindValidation, KindInvalidAmount, KindSameCurrency, KindNotFound, KindCanceled:
		return true
	default:
		return false
	}
}

// Error is the domain error type
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrCircuitOpen) works
// regardless of message or details.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// WithDetail returns a copy of the error with an extra detail entry
func (e *Error) WithDetail(key string, value interface{}) *Error {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	copied := *e
	copied.Details = details
	return &copied
}

// Sentinels usable with errors.Is; only the kind is compared.
var (
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrUpstream    = &Error{Kind: KindUpstream}
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrCircuitOpen = &Error{Kind: KindCircuitOpen}
	ErrConversion  = &Error{Kind: KindConversion}
	ErrCanceled    = &Error{Kind: KindCanceled}
)

func New(kind Kind, message string, details map[string]interface{}) *Error {
	if details == nil {
		details = map[string]interface{}{}
	}
	return &Error{Kind: kind, Message: message, Details: details}
}

func Wrap(kind Kind, message string, cause error, details map[string]interface{}) *Error {
	wrapped := New(kind, message, details)
	wrapped.Cause = cause
	return wrapped
}

func Validation(message string, details map[string]interface{}) *Error {
	return New(KindValidation, message, details)
}

func InvalidAmount(message string, details map[string]interface{}) *Error {
	return New(KindInvalidAmount, message, details)
}

func SameCurrency(message string, details map[string]interface{}) *Error {
	return New(KindSameCurrency, message, details)
}

func NotFound(message string, details map[string]interface{}) *Error {
	return New(KindNotFound, message, details)
}

func Conversion(message string, details map[string]interface{}) *Error {
	return New(KindConversion, message, details)
}

func Upstream(message string, cause error, details map[string]interface{}) *Error {
	return Wrap(KindUpstream, message, cause, details)
}

func Timeout(message string, cause error, details map[string]interface{}) *Error {
	return Wrap(KindTimeout, message, cause, details)
}

func CircuitOpen(message string, cause error, details map[string]interface{}) *Error {
	return Wrap(KindCircuitOpen, message, cause, details)
}

func Canceled(message string, cause error, details map[string]interface{}) *Error {
	return Wrap(KindCanceled, message, cause, details)
}

// KindOf extracts the kind of err, KindInternal when err is not an *Error
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// As is a shorthand for errors.As with *Error
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
