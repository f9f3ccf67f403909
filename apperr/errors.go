// Package apperr is the error taxonomy shared by the store layer, the
// attachment pipeline and the HTTP controllers.
package apperr

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindAccessDenied
	KindForbidden
	KindNotFound
	KindValidation
	KindPayloadTooLarge
	KindTooManyRequests
	KindUpstream
)

var kindNames = map[Kind]string{
	KindInternal:        "internal",
	KindUnauthorized:    "unauthorized",
	KindAccessDenied:    "access_denied",
	KindForbidden:       "forbidden",
	KindNotFound:        "not_found",
	KindValidation:      "validation",
	KindPayloadTooLarge: "payload_too_large",
	KindTooManyRequests: "too_many_requests",
	KindUpstream:        "upstream_failure",
}

func (k Kind) String() string {
	return kindNames[k]
}

type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is set for KindTooManyRequests.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Unauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func AccessDenied(msg string) error {
	return &Error{Kind: KindAccessDenied, Message: msg}
}

func Forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func NotFound(entity string) error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func PayloadTooLarge(size, limit int64) error {
	return &Error{Kind: KindPayloadTooLarge, Message: fmt.Sprintf("file size %d exceeds limit of %d bytes", size, limit)}
}

func TooManyRequests(retryAfter time.Duration) error {
	return &Error{Kind: KindTooManyRequests, Message: "rate limit exceeded", RetryAfter: retryAfter}
}

func Upstream(service string, err error) error {
	return &Error{Kind: KindUpstream, Message: service + " unavailable", Err: err}
}

// KindOf returns KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsValidation covers both malformed input and oversized files.
func IsValidation(err error) bool {
	k := KindOf(err)
	return k == KindValidation || k == KindPayloadTooLarge
}

func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

func Status(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return fiber.StatusUnauthorized
	case KindAccessDenied, KindForbidden:
		return fiber.StatusForbidden
	case KindNotFound:
		return fiber.StatusNotFound
	case KindValidation:
		return fiber.StatusBadRequest
	case KindPayloadTooLarge:
		return fiber.StatusRequestEntityTooLarge
	case KindTooManyRequests:
		return fiber.StatusTooManyRequests
	case KindUpstream:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// Message is safe to show to callers; internal errors are not described.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "Internal server error"
}
