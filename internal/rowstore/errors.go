package rowstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRows is returned when a single-row request matched nothing.
	ErrNoRows = &Error{Status: 406, Code: "PGRST116", Message: "JSON object requested, multiple (or no) rows returned", Details: "The result contains 0 rows"}

	// ErrMultipleRows is returned when a single-row request matched more than one row.
	ErrMultipleRows = &Error{Status: 406, Code: "PGRST116", Message: "JSON object requested, multiple (or no) rows returned", Details: "The result contains more than one row"}
)

// Error is a failure reported by the store, shaped like a PostgREST error body.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// Is matches errors with the same code and details, so a decoded store
// response compares equal to the sentinels above.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Details == t.Details
}

// IsNoRows reports whether err means a single-row request found nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}

// IsConflict reports whether err is a unique or foreign key violation.
func IsConflict(err error) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == 409 || se.Code == "23505" || se.Code == "23503"
}
