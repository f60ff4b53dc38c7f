// Package booking holds the scheduling data model shared by the booking
// client and the reference scheduling backend.
package booking

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// DefaultCancelReason replaces an empty cancellation reason. The backend does
// not accept a missing reason.
const DefaultCancelReason = "not specified"

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Occupies reports whether a booking in status s blocks its time slot.
// Completed bookings keep their slot; cancelled ones release it.
func (s Status) Occupies() bool {
	return s == StatusScheduled || s == StatusCompleted
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	return from == StatusScheduled && (to == StatusCompleted || to == StatusCancelled)
}

// CancelReason normalizes a user supplied reason, substituting DefaultCancelReason
// for blank input.
func CancelReason(reason string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return DefaultCancelReason
}

// Booking is a time-bounded reservation of a resource for a subject.
// ID is empty for a candidate that has not been accepted by the backend.
type Booking struct {
	ID                 string     `json:"id"`
	ResourceID         string     `json:"resource_id"`
	SubjectID          string     `json:"subject_id"`
	SubjectName        string     `json:"subject_name,omitempty"`
	ServiceID          string     `json:"service_id,omitempty"`
	Start              time.Time  `json:"start"`
	End                time.Time  `json:"end"`
	Status             Status     `json:"status"`
	Notes              string     `json:"notes,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	// Eligibility flags computed by the backend at read time. Clients use them
	// to gate actions and never re-derive them.
	CanComplete bool `json:"can_complete"`
	CanCancel   bool `json:"can_cancel"`
	CanEdit     bool `json:"can_edit"`
}

// Interval returns the half-open [Start, End) span of the booking.
func (b Booking) Interval() Interval {
	return Interval{Start: b.Start, End: b.End}
}

// Fields extracts the replaceable fields of b.
func (b Booking) Fields() Fields {
	return Fields{
		ResourceID: b.ResourceID,
		SubjectID:  b.SubjectID,
		ServiceID:  b.ServiceID,
		Start:      b.Start,
		End:        b.End,
		Notes:      b.Notes,
	}
}

// WithFields returns a copy of b with every replaceable field taken from f.
func (b Booking) WithFields(f Fields) Booking {
	out := b.Clone()
	out.ResourceID = f.ResourceID
	out.SubjectID = f.SubjectID
	out.ServiceID = f.ServiceID
	out.Start = f.Start
	out.End = f.End
	out.Notes = f.Notes
	return out
}

// Clone returns a deep copy of b.
func (b Booking) Clone() Booking {
	out := b
	if b.CancelledAt != nil {
		at := *b.CancelledAt
		out.CancelledAt = &at
	}
	return out
}

// Fields is the full set of client-controlled booking attributes. It is both
// the create candidate and the full-replacement update body; partial updates
// are not supported.
type Fields struct {
	ResourceID string    `json:"resource_id"`
	SubjectID  string    `json:"subject_id"`
	ServiceID  string    `json:"service_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Notes      string    `json:"notes,omitempty"`
}

// Interval returns the requested [Start, End) span.
func (f Fields) Interval() Interval {
	return Interval{Start: f.Start, End: f.End}
}

// Validate performs the advisory checks a client may run before sending a
// candidate. The backend remains authoritative.
func (f Fields) Validate() error {
	if f.Start.IsZero() {
		return &ValidationError{Field: "start", Reason: "is required"}
	}
	if f.End.IsZero() {
		return &ValidationError{Field: "end", Reason: "is required"}
	}
	if !f.End.After(f.Start) {
		return &ValidationError{Field: "end", Reason: "must be after start"}
	}
	if strings.TrimSpace(f.SubjectID) == "" {
		return &ValidationError{Field: "subject_id", Reason: "is required"}
	}
	if strings.TrimSpace(f.ServiceID) == "" {
		return &ValidationError{Field: "service_id", Reason: "is required"}
	}
	return nil
}

// Conflict describes the existing booking that blocked a write.
type Conflict struct {
	BookingID string    `json:"id,omitempty"`
	Subject   string    `json:"subject"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Slot is a free span returned by availability queries.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Availability lists the free slots of one resource on one day.
type Availability struct {
	ResourceID      string `json:"resource_id"`
	Date            string `json:"date"`
	DurationMinutes int    `json:"duration_minutes"`
	Slots           []Slot `json:"available_slots"`
	TotalAvailable  int    `json:"total_available"`
}
