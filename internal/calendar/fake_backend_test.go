package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

// fakeBackend is a scriptable in-memory Backend.
type fakeBackend struct {
	mu       sync.Mutex
	bookings map[string]booking.Booking
	seq      int

	listErr     error
	createErr   error
	updateErr   error
	completeErr error
	cancelErr   error

	// onUpdate runs inside UpdateBooking before it returns.
	onUpdate func()

	calls         map[string]int
	cancelReasons []string
	keys          []string
}

func newFakeBackend(seed ...booking.Booking) *fakeBackend {
	f := &fakeBackend{bookings: make(map[string]booking.Booking), calls: make(map[string]int)}
	for _, b := range seed {
		f.bookings[b.ID] = b
	}
	return f
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) hit(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeBackend) ListBookings(ctx context.Context, w booking.Window) ([]booking.Booking, error) {
	f.hit("list")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]booking.Booking, 0, len(f.bookings))
	for _, b := range f.bookings {
		if w.Contains(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (f *fakeBackend) CreateBooking(ctx context.Context, fl booking.Fields, key string) (*booking.Booking, error) {
	f.hit("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	b := booking.Booking{ID: fmt.Sprintf("new-%d", f.seq), Status: booking.StatusScheduled, CanEdit: true, CanCancel: true}.WithFields(fl)
	f.bookings[b.ID] = b
	return &b, nil
}

func (f *fakeBackend) UpdateBooking(ctx context.Context, id string, fl booking.Fields) (*booking.Booking, error) {
	f.hit("update")
	if f.onUpdate != nil {
		f.onUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	b, ok := f.bookings[id]
	if !ok {
		return nil, &booking.TransitionError{BookingID: id, Err: booking.ErrNotFound}
	}
	b = b.WithFields(fl)
	f.bookings[id] = b
	return &b, nil
}

func (f *fakeBackend) CompleteBooking(ctx context.Context, id string) (*booking.Booking, error) {
	f.hit("complete")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	b := f.bookings[id]
	b.Status = booking.StatusCompleted
	b.CanComplete, b.CanCancel, b.CanEdit = false, false, false
	f.bookings[id] = b
	return &b, nil
}

func (f *fakeBackend) CancelBooking(ctx context.Context, id, reason string) (*booking.Booking, error) {
	f.hit("cancel")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelReasons = append(f.cancelReasons, reason)
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	b := f.bookings[id]
	b.Status = booking.StatusCancelled
	b.CancellationReason = reason
	b.CanComplete, b.CanCancel, b.CanEdit = false, false, false
	f.bookings[id] = b
	return &b, nil
}

func (f *fakeBackend) Availability(ctx context.Context, resourceID string, day time.Time, duration time.Duration) (*booking.Availability, error) {
	f.hit("availability")
	return &booking.Availability{ResourceID: resourceID, Date: day.Format("2006-01-02"), DurationMinutes: int(duration / time.Minute)}, nil
}
