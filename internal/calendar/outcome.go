package calendar

import (
	"errors"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

// Op names a client operation.
type Op string

const (
	OpCreate   Op = "create"
	OpUpdate   Op = "update"
	OpMove     Op = "move"
	OpComplete Op = "complete"
	OpCancel   Op = "cancel"
)

// Outcome is the typed result of a proposal. Kind is booking.KindNone on
// success.
type Outcome struct {
	Op        Op
	Kind      booking.Kind
	BookingID string
	Booking   *booking.Booking
	Conflict  *booking.Conflict
	Gesture   *Gesture
	Err       error
}

// OK reports success.
func (o Outcome) OK() bool { return o.Kind == booking.KindNone }

// Retryable reports whether offering a retry makes sense.
func (o Outcome) Retryable() bool { return o.Kind == booking.KindNetwork }

func success(op Op, b booking.Booking, g *Gesture) Outcome {
	out := b.Clone()
	return Outcome{Op: op, Kind: booking.KindNone, BookingID: b.ID, Booking: &out, Gesture: g}
}

func failure(op Op, id string, err error, g *Gesture) Outcome {
	o := Outcome{Op: op, Kind: booking.KindOf(err), BookingID: id, Gesture: g, Err: err}
	var conflict *booking.ConflictError
	if errors.As(err, &conflict) {
		c := conflict.Conflict
		o.Conflict = &c
	}
	return o
}

// Actions are the controls a display surface may offer for a booking.
type Actions struct {
	CanEdit     bool
	CanComplete bool
	CanCancel   bool
}
