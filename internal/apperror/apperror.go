// Package apperror defines the closed set of error kinds surfaced to
// clients. Each kind has a fixed status code and a fixed message; the
// wrapped cause is for server-side logs only.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	Unauthenticated
	Forbidden
	NotFound
	Conflict
	RateLimited
)

var kindInfo = map[Kind]struct {
	status  int
	message string
	name    string
}{
	Internal:        {http.StatusInternalServerError, "Internal server error", "internal"},
	Validation:      {http.StatusBadRequest, "Invalid request", "validation"},
	Unauthenticated: {http.StatusUnauthorized, "Authentication failed", "unauthenticated"},
	Forbidden:       {http.StatusForbidden, "Forbidden", "forbidden"},
	NotFound:        {http.StatusNotFound, "Not found", "not_found"},
	Conflict:        {http.StatusConflict, "Conflict", "conflict"},
	RateLimited:     {http.StatusTooManyRequests, "Too many requests. Please try again later.", "rate_limited"},
}

func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return "internal"
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Error is a classified error. Public is a message safe to show to the
// caller; when empty the kind's default message is used.
type Error struct {
	Kind   Kind
	Public string
	Field  string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message()
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Message returns the text that may be shown to end users.
func (e *Error) Message() string {
	if e.Public != "" {
		return e.Public
	}
	return kindInfo[e.Kind].message
}

// New returns an error of kind k with a public message.
func New(k Kind, public string) *Error {
	return &Error{Kind: k, Public: public}
}

// Wrap classifies cause under kind k. The cause is never shown to users.
func Wrap(k Kind, public string, cause error) *Error {
	return &Error{Kind: k, Public: public, Err: cause}
}

// KindOf returns the kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// PublicMessage returns the user-facing message for err. Unclassified
// errors get the generic internal message.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return kindInfo[Internal].message
}

// Is reports whether err is classified as kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
