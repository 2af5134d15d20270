// Package apperror defines the error taxonomy shared by the gateway. Every
// failure that reaches a caller is an *Error whose Kind decides the HTTP
// status (before a stream is opened) and whose Message is safe to display.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and display.
type Kind string

const (
	KindAuth              Kind = "auth"
	KindQuota             Kind = "quota"
	KindPolicy            Kind = "policy"
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindUpstreamTransient Kind = "upstream_transient"
	KindUpstreamFatal     Kind = "upstream_fatal"
	KindExtraction        Kind = "extraction"
	KindInfrastructure    Kind = "infrastructure"
)

// Error is an application error with a display message, optional
// programmatic data, and the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindQuota:
		return http.StatusTooManyRequests
	case KindPolicy, KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstreamTransient:
		return http.StatusServiceUnavailable
	case KindUpstreamFatal, KindExtraction:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithData attaches a programmatic payload and returns the same error.
func (e *Error) WithData(data map[string]any) *Error {
	e.Data = data
	return e
}

func newErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// Auth reports an unknown or revoked secret.
func Auth(msg string) *Error { return newErr(KindAuth, msg, nil) }

// Quota reports an exhausted plan limit.
func Quota(msg string) *Error { return newErr(KindQuota, msg, nil) }

// Policy reports a model that the plan may not use, or a missing caller credential.
func Policy(msg string) *Error { return newErr(KindPolicy, msg, nil) }

// Validation reports a malformed request.
func Validation(msg string) *Error { return newErr(KindValidation, msg, nil) }

// NotFound reports a missing record.
func NotFound(msg string) *Error { return newErr(KindNotFound, msg, nil) }

// UpstreamTransient reports exhausted rate-limit failover.
func UpstreamTransient(msg string, cause error) *Error {
	return newErr(KindUpstreamTransient, msg, cause)
}

// UpstreamFatal reports a provider failure that switching keys cannot fix.
func UpstreamFatal(msg string, cause error) *Error {
	return newErr(KindUpstreamFatal, msg, cause)
}

// Extraction reports provider text that could not be coerced into JSON.
func Extraction(msg string, cause error) *Error {
	return newErr(KindExtraction, msg, cause)
}

// Infrastructure reports a store or broker failure. The message shown to
// callers is always generic; the cause is only logged.
func Infrastructure(cause error) *Error {
	return newErr(KindInfrastructure, "internal server error", cause)
}

// As returns the *Error in err's chain, wrapping unknown errors as
// infrastructure failures.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Infrastructure(err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// Body renders the JSON error payload. Details carry the internal chain and
// are only included in development mode.
func Body(err error, devMode bool) map[string]any {
	ae := As(err)
	body := map[string]any{"error": ae.Message, "type": string(ae.Kind)}
	if ae.Data != nil {
		body["data"] = ae.Data
	}
	if devMode && ae.Err != nil {
		body["details"] = ae.Err.Error()
	}
	return body
}
