package booking

import (
	"errors"
	"time"
)

// Interval is a half-open time span [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether End is strictly after Start.
func (i Interval) Valid() bool {
	return i.End.After(i.Start)
}

// Overlaps reports whether i and o share any instant. Touching boundaries do
// not overlap: [09:00, 09:30) and [09:30, 10:00) are disjoint.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Duration is End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Window selects the bookings a client currently displays.
type Window struct {
	Start            time.Time
	End              time.Time
	ResourceID       string
	IncludeCancelled bool
	// Status, when set, keeps only bookings in that status.
	Status Status
}

// Validate checks that the window has a positive span.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return errors.New("booking: window start and end are required")
	}
	if !w.End.After(w.Start) {
		return errors.New("booking: window end must be after start")
	}
	if w.Status != "" && !w.Status.Valid() {
		return errors.New("booking: window status is not a known status")
	}
	return nil
}

// IsZero reports whether no window has been set.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Interval returns the window span.
func (w Window) Interval() Interval {
	return Interval{Start: w.Start, End: w.End}
}

// Contains reports whether b belongs in the window.
func (w Window) Contains(b Booking) bool {
	if w.ResourceID != "" && b.ResourceID != w.ResourceID {
		return false
	}
	if w.Status != "" {
		if b.Status != w.Status {
			return false
		}
	} else if b.Status == StatusCancelled && !w.IncludeCancelled {
		return false
	}
	return w.Interval().Overlaps(b.Interval())
}
