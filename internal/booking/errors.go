package booking

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

var (
	// ErrNotFound is returned when a booking id is unknown to the backend.
	ErrNotFound = errors.New("booking not found")

	// ErrInFlight is returned when a mutation is already pending for a booking.
	ErrInFlight = errors.New("booking has a request in flight")
)

// Kind classifies an operation failure.
type Kind string

const (
	KindNone       Kind = ""
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindTransition Kind = "transition"
	KindNetwork    Kind = "network"
	KindBusy       Kind = "busy"
	KindUnknown    Kind = "unknown"
)

// ValidationError reports a malformed or incomplete candidate. Not retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "booking: " + e.Reason
	}
	return fmt.Sprintf("booking: %s %s", e.Field, e.Reason)
}

// ConflictError reports an overlap with an existing booking on the same
// resource. The user has to pick another time.
type ConflictError struct {
	Conflict Conflict
	Message  string
}

func (e *ConflictError) Error() string {
	subject := e.Conflict.Subject
	if subject == "" {
		subject = "another booking"
	}
	return fmt.Sprintf("booking: schedule conflict with %s at %s", subject, e.Conflict.Start.Format(time.RFC3339))
}

// TransitionError reports an illegal status change or an edit of a closed
// booking. It usually means the client view is stale.
type TransitionError struct {
	BookingID string
	From      Status
	To        Status
	Reason    string
	Err       error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("booking %s: cannot move from %q", e.BookingID, e.From)
	if e.To != "" {
		msg += fmt.Sprintf(" to %q", e.To)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.Err }

// NetworkError reports a transport failure, timeout, or server-side error.
// It is safe to retry once optimistic state has been reverted.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("booking: %s: backend returned %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("booking: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable is always true for network failures.
func (e *NetworkError) Retryable() bool { return true }

// Timeout reports whether the failure was a deadline.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		validation *ValidationError
		conflict   *ConflictError
		transition *TransitionError
		network    *NetworkError
	)
	switch {
	case errors.As(err, &conflict):
		return KindConflict
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &transition):
		return KindTransition
	case errors.As(err, &network):
		return KindNetwork
	case errors.Is(err, ErrInFlight):
		return KindBusy
	case errors.Is(err, ErrNotFound):
		return KindTransition
	}
	return KindUnknown
}

// CheckTransition returns a TransitionError when b cannot move to status to.
func CheckTransition(b Booking, to Status) error {
	if CanTransition(b.Status, to) {
		return nil
	}
	return &TransitionError{BookingID: b.ID, From: b.Status, To: to, Reason: "booking is closed"}
}

// CheckEditable returns a TransitionError when the times or fields of b may no
// longer change.
func CheckEditable(b Booking) error {
	if b.Status == StatusScheduled {
		return nil
	}
	return &TransitionError{BookingID: b.ID, From: b.Status, Reason: "only scheduled bookings can be edited"}
}
