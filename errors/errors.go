package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kinds surfaced to callers. Wrap them with fmt.Errorf("%w: ...", ErrX).
var (
	ErrValidation    = fmt.Errorf("validation error")
	ErrAuthorization = fmt.Errorf("authorization error")
	ErrNotFound      = fmt.Errorf("not found")
	ErrConflict      = fmt.Errorf("conflict")
)

var (
	ErrUnauthenticated   = fmt.Errorf("unauthenticated")
	ErrRateLimited       = fmt.Errorf("rate limited")
	ErrSlowConsumer      = fmt.Errorf("slow consumer")
	ErrSinkClosed        = fmt.Errorf("sink closed")
	ErrNotAttached       = fmt.Errorf("connection not attached")
	ErrWorkerPanic       = fmt.Errorf("worker panic")
	ErrOnlyCensoredFiles = fmt.Errorf("censored directory has no word list")
	ErrEmptyWords        = fmt.Errorf("no words have been found")
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuthorization   Kind = "authorization"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindUnauthenticated Kind = "unauthenticated"
	KindRateLimited     Kind = "rate_limited"
	KindInternal        Kind = "internal"
)

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrValidation):
		return KindValidation
	case stderrors.Is(err, ErrAuthorization):
		return KindAuthorization
	case stderrors.Is(err, ErrNotFound):
		return KindNotFound
	case stderrors.Is(err, ErrConflict):
		return KindConflict
	case stderrors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case stderrors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}

func MapToHTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
