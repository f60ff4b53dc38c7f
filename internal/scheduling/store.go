package scheduling

import (
	"context"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

// Store persists bookings. Insert and Update must check for overlap and write
// in one atomic step so that two concurrent writers cannot both claim a slot.
// Bookings whose status does not occupy the resource skip the overlap check.
//
// Update only applies while the stored status still equals expected; a
// booking that moved on in between yields a *booking.TransitionError.
//
// evt is the change event describing the write; stores that keep an outbox
// record it in the same transaction.
type Store interface {
	Insert(ctx context.Context, b booking.Booking, evt booking.ChangeEvent) (booking.Booking, error)
	Update(ctx context.Context, b booking.Booking, expected booking.Status, evt booking.ChangeEvent) (booking.Booking, error)
	Get(ctx context.Context, id string) (booking.Booking, error)
	List(ctx context.Context, w booking.Window) ([]booking.Booking, error)
}

// staleStatus reports a write whose expected prior status no longer holds.
func staleStatus(b booking.Booking, current booking.Status) *booking.TransitionError {
	return &booking.TransitionError{
		BookingID: b.ID,
		From:      current,
		To:        b.Status,
		Reason:    "booking was changed by another request",
	}
}

// conflictFor builds the conflict described to the caller from the booking
// that blocked the write.
func conflictFor(b booking.Booking) *booking.ConflictError {
	subject := b.SubjectName
	if subject == "" {
		subject = b.SubjectID
	}
	return &booking.ConflictError{
		Conflict: booking.Conflict{
			BookingID: b.ID,
			Subject:   subject,
			Start:     b.Start,
			End:       b.End,
		},
		Message: "the resource is already booked for part of that time",
	}
}
