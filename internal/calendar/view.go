package calendar

import (
	"sort"
	"sync"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

// View is the read-through cache of the visible window. It is never treated as
// ground truth beyond an in-progress gesture; every mutation is followed by a
// refetch that replaces it.
type View struct {
	mu     sync.RWMutex
	window booking.Window
	items  map[string]booking.Booking
}

// NewView returns an empty view with no window.
func NewView() *View {
	return &View{items: make(map[string]booking.Booking)}
}

// Replace swaps the cached window and its contents.
func (v *View) Replace(w booking.Window, items []booking.Booking) {
	next := make(map[string]booking.Booking, len(items))
	for _, b := range items {
		next[b.ID] = b.Clone()
	}
	v.mu.Lock()
	v.window = w
	v.items = next
	v.mu.Unlock()
}

// Window returns the currently visible window.
func (v *View) Window() booking.Window {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.window
}

// Get returns a copy of the cached booking.
func (v *View) Get(id string) (booking.Booking, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	b, ok := v.items[id]
	if !ok {
		return booking.Booking{}, false
	}
	return b.Clone(), true
}

// Put inserts or overwrites a booking.
func (v *View) Put(b booking.Booking) {
	v.mu.Lock()
	v.items[b.ID] = b.Clone()
	v.mu.Unlock()
}

// Settle records a booking confirmed by the backend and drops it instead when
// it no longer belongs in the visible window.
func (v *View) Settle(b booking.Booking) {
	if w := v.Window(); !w.IsZero() && !w.Contains(b) {
		v.Remove(b.ID)
		return
	}
	v.Put(b)
}

// Remove drops a booking from the cache.
func (v *View) Remove(id string) {
	v.mu.Lock()
	delete(v.items, id)
	v.mu.Unlock()
}

// Len reports the number of cached bookings.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.items)
}

// Snapshot returns the cached bookings ordered by start, then id.
func (v *View) Snapshot() []booking.Booking {
	v.mu.RLock()
	out := make([]booking.Booking, 0, len(v.items))
	for _, b := range v.items {
		out = append(out, b.Clone())
	}
	v.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
