package bookingclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

// decodeAPIError maps a non-2xx response onto the booking error taxonomy.
// A 409 carrying conflicting_booking is the only schedule conflict; every other
// 4xx is either a transition problem (stale view) or a validation problem.
func decodeAPIError(req request, status int, data []byte) error {
	var env booking.ErrorResponse
	if len(data) > 0 {
		_ = json.Unmarshal(data, &env)
	}
	msg := strings.TrimSpace(env.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(data))
		if len(msg) > 300 {
			msg = msg[:300]
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusConflict && env.ConflictingBooking != nil:
		return &booking.ConflictError{Conflict: *env.ConflictingBooking, Message: msg}
	case status == http.StatusConflict && env.Code == booking.CodeConflict:
		return &booking.ConflictError{Message: msg}
	case status == http.StatusNotFound:
		return &booking.TransitionError{BookingID: req.bookingID, To: req.to, Reason: msg, Err: booking.ErrNotFound}
	case status == http.StatusUnprocessableEntity || env.Code == booking.CodeInvalidTransition:
		return &booking.TransitionError{BookingID: req.bookingID, From: env.Status, To: req.to, Reason: msg}
	case status == http.StatusTooManyRequests || status >= 500:
		return &booking.NetworkError{Op: req.op, StatusCode: status, Err: errors.New(msg)}
	case status >= 400:
		return &booking.ValidationError{Field: env.Field, Reason: msg}
	}
	return &booking.NetworkError{Op: req.op, StatusCode: status, Err: errors.New(msg)}
}
