package scheduling

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

const maxBodyBytes = 1 << 20

// Handler exposes the Service over JSON/HTTP.
type Handler struct {
	svc    *Service
	hub    *Hub
	logger *logging.Logger
}

// NewHandler creates a booking API handler. hub may be nil, in which case the
// stream route is not mounted.
func NewHandler(svc *Service, hub *Hub, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("scheduling: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, hub: hub, logger: logger}
}

// Routes mounts the booking API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/bookings", func(r chi.Router) {
		r.Get("/", h.ListBookings)
		r.Post("/", h.CreateBooking)
		if h.hub != nil {
			r.Get("/stream", h.hub.HandleStream)
		}
		r.Get("/{bookingID}", h.GetBooking)
		r.Put("/{bookingID}", h.UpdateBooking)
		r.Post("/{bookingID}/complete", h.CompleteBooking)
		r.Post("/{bookingID}/cancel", h.CancelBooking)
	})
	r.Get("/availability", h.GetAvailability)
}

// ListBookings handles GET /bookings?start&end[&resource_id][&include_cancelled][&status].
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("start"), "start")
	if err != nil {
		h.writeError(w, err)
		return
	}
	end, err := parseTimeParam(q.Get("end"), "end")
	if err != nil {
		h.writeError(w, err)
		return
	}
	includeCancelled, _ := strconv.ParseBool(q.Get("include_cancelled"))
	window := booking.Window{
		Start:            start,
		End:              end,
		ResourceID:       strings.TrimSpace(q.Get("resource_id")),
		IncludeCancelled: includeCancelled,
		Status:           booking.Status(strings.TrimSpace(q.Get("status"))),
	}
	if window.Status != "" && !window.Status.Valid() {
		h.writeError(w, &booking.ValidationError{Field: "status", Reason: "must be scheduled, completed or cancelled"})
		return
	}
	items, err := h.svc.List(r.Context(), window)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking.ListResponse{Bookings: items, Count: len(items)})
}

// GetBooking handles GET /bookings/{bookingID}.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Get(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CreateBooking handles POST /bookings.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var f booking.Fields
	if err := decodeBody(r, &f); err != nil {
		h.writeError(w, err)
		return
	}
	b, err := h.svc.Create(r.Context(), f, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("booking created", "booking_id", b.ID, "resource_id", b.ResourceID)
	writeJSON(w, http.StatusCreated, b)
}

// UpdateBooking handles PUT /bookings/{bookingID}.
func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	var f booking.Fields
	if err := decodeBody(r, &f); err != nil {
		h.writeError(w, err)
		return
	}
	b, err := h.svc.Update(r.Context(), chi.URLParam(r, "bookingID"), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CompleteBooking handles POST /bookings/{bookingID}/complete.
func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Complete(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CancelBooking handles POST /bookings/{bookingID}/cancel. The body is optional.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.CancelRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, err)
		return
	}
	b, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "bookingID"), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetAvailability handles GET /availability?resource_id&date&duration.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day := time.Now().In(h.svc.Location())
	if raw := strings.TrimSpace(q.Get("date")); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.svc.Location())
		if err != nil {
			h.writeError(w, &booking.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	duration := defaultSlotDuration
	if raw := strings.TrimSpace(q.Get("duration")); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			h.writeError(w, &booking.ValidationError{Field: "duration", Reason: "must be a positive number of minutes"})
			return
		}
		duration = time.Duration(minutes) * time.Minute
	}
	avail, err := h.svc.Availability(r.Context(), q.Get("resource_id"), day, duration)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

func parseTimeParam(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &booking.ValidationError{Field: field, Reason: "is required"}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &booking.ValidationError{Field: field, Reason: "must be RFC3339"}
	}
	return t, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return &booking.ValidationError{Reason: "invalid request body"}
	}
	return nil
}

// writeError renders err as the JSON error envelope.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		validation *booking.ValidationError
		conflict   *booking.ConflictError
		transition *booking.TransitionError
	)
	switch {
	case errors.Is(err, io.EOF):
		writeJSON(w, http.StatusBadRequest, booking.ErrorResponse{Code: booking.CodeValidation, Message: "request body is required"})
	case errors.As(err, &conflict):
		c := conflict.Conflict
		writeJSON(w, http.StatusConflict, booking.ErrorResponse{
			Code:               booking.CodeConflict,
			Message:            conflict.Message,
			ConflictingBooking: &c,
		})
	case errors.Is(err, booking.ErrNotFound):
		writeJSON(w, http.StatusNotFound, booking.ErrorResponse{Code: booking.CodeNotFound, Message: "booking not found"})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusUnprocessableEntity, booking.ErrorResponse{
			Code:    booking.CodeInvalidTransition,
			Message: firstNonEmpty(transition.Reason, transition.Error()),
			Status:  transition.From,
		})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, booking.ErrorResponse{
			Code:    booking.CodeValidation,
			Message: firstNonEmpty(validation.Reason, validation.Error()),
			Field:   validation.Field,
		})
	default:
		h.logger.Error("booking request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, booking.ErrorResponse{Code: booking.CodeInternal, Message: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
