package booking

import "time"

// ChangeType names a booking lifecycle event.
type ChangeType string

const (
	ChangeCreated   ChangeType = "booking.created"
	ChangeUpdated   ChangeType = "booking.updated"
	ChangeCompleted ChangeType = "booking.completed"
	ChangeCancelled ChangeType = "booking.cancelled"
)

// ChangeEvent announces that the authoritative calendar changed. Previous*
// carry the span before an update so that windows the booking left are
// invalidated too.
type ChangeEvent struct {
	ID            string     `json:"event_id"`
	Type          ChangeType `json:"type"`
	BookingID     string     `json:"booking_id"`
	ResourceID    string     `json:"resource_id"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	PreviousStart *time.Time `json:"previous_start,omitempty"`
	PreviousEnd   *time.Time `json:"previous_end,omitempty"`
	Status        Status     `json:"status"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Affects reports whether the change touches anything visible in w.
func (e ChangeEvent) Affects(w Window) bool {
	if w.IsZero() {
		return false
	}
	if w.ResourceID != "" && e.ResourceID != w.ResourceID {
		return false
	}
	if w.Interval().Overlaps(Interval{Start: e.Start, End: e.End}) {
		return true
	}
	if e.PreviousStart != nil && e.PreviousEnd != nil {
		return w.Interval().Overlaps(Interval{Start: *e.PreviousStart, End: *e.PreviousEnd})
	}
	return false
}
