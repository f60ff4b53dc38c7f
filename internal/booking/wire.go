package booking

// Error codes carried in ErrorResponse.Code.
const (
	CodeValidation        = "validation"
	CodeConflict          = "conflict"
	CodeInvalidTransition = "invalid_transition"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal"
)

// ErrorResponse is the JSON error envelope exchanged with the scheduling
// backend. ConflictingBooking is present only on 409 responses.
type ErrorResponse struct {
	Code               string    `json:"error"`
	Message            string    `json:"message"`
	Field              string    `json:"field,omitempty"`
	Status             Status    `json:"status,omitempty"`
	ConflictingBooking *Conflict `json:"conflicting_booking,omitempty"`
}

// ListResponse wraps a window listing.
type ListResponse struct {
	Bookings []Booking `json:"bookings"`
	Count    int       `json:"count"`
}

// CancelRequest is the body of a cancel call.
type CancelRequest struct {
	Reason string `json:"reason"`
}
