package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalid         = errors.New("invalid")
	ErrConflict        = errors.New("conflict")
	ErrTooMany         = errors.New("too many requests")
	ErrInternal        = errors.New("internal")
	ErrExpired         = errors.New("expired")
	ErrCaptchaRequired = errors.New("captcha required")
	ErrCaptchaFailed   = errors.New("captcha verification failed")
	ErrQuotaExceeded   = errors.New("daily quota exceeded")
	ErrUpstream        = errors.New("upstream failure")
)

// RateLimitedError is returned when a rate limit denies a request.
// RetryAfter is zero when no recovery hint is available.
type RateLimitedError struct {
	RetryAfter int
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("too many requests, retry after %ds", e.RetryAfter)
	}
	return ErrTooMany.Error()
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrTooMany
}

func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func Upstreamf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUpstream, fmt.Sprintf(format, args...))
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}
