package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Kind string

const (
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindLink                 Kind = "link"
	KindConflict             Kind = "conflict"
	KindSubscriptionRequired Kind = "subscription_required"
	KindPersistence          Kind = "persistence"
)

// Error is the domain error returned by the scheduling core.
// Occurrence is set on conflicts to name the timestamp that collided.
type Error struct {
	Kind       Kind
	Message    string
	Occurrence *time.Time
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Occurrence != nil {
		msg += " at " + e.Occurrence.Format(time.RFC3339)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can write errors.Is(err, apperr.ErrConflict).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrLink                 = &Error{Kind: KindLink}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrSubscriptionRequired = &Error{Kind: KindSubscriptionRequired}
	ErrPersistence          = &Error{Kind: KindPersistence}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func Link(patientID string) *Error {
	return &Error{Kind: KindLink, Message: "patient " + patientID + " is not linked to professional"}
}

func Conflict(at time.Time) *Error {
	at = at.UTC()
	return &Error{Kind: KindConflict, Message: "time slot already booked", Occurrence: &at}
}

func SubscriptionRequired() *Error {
	return &Error{Kind: KindSubscriptionRequired, Message: "active subscription required"}
}

func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: op, Err: err}
}

// KindOf returns the kind of err, or KindPersistence for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindLink:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindSubscriptionRequired:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
