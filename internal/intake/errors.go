package intake

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a rejected submission. The string value doubles as the
// public error code.
type Kind string

const (
	KindValidation           Kind = "invalid_request"
	KindTooFast              Kind = "too_fast"
	KindRateLimited          Kind = "rate_limited"
	KindChallengeFailed      Kind = "challenge_failed"
	KindChallengeUnavailable Kind = "challenge_unavailable"
	KindUpstream             Kind = "internal_error"
)

// HTTPStatus maps a kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindTooFast, KindRateLimited:
		return http.StatusTooManyRequests
	case KindChallengeFailed:
		return http.StatusForbidden
	case KindChallengeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error is returned by Pipeline.Submit for every rejection.
type Error struct {
	Kind              Kind
	Message           string
	RetryAfterSeconds int // rate_limited only
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func invalid(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

// KindOf returns the kind carried by err, or KindUpstream for foreign errors.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindUpstream
}
