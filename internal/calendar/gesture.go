package calendar

import (
	"fmt"
	"sync"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

// GestureState is the lifecycle of one optimistic edit.
type GestureState int

const (
	GesturePending GestureState = iota
	GestureCommitted
	GestureRolledBack
)

func (s GestureState) String() string {
	switch s {
	case GesturePending:
		return "pending"
	case GestureCommitted:
		return "committed"
	case GestureRolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("GestureState(%d)", int(s))
}

// Gesture carries the original and proposed state of a single drag or resize.
// Each gesture owns its own pair so concurrent edits never share state.
type Gesture struct {
	Original booking.Booking
	Proposed booking.Booking

	mu        sync.Mutex
	state     GestureState
	confirmed booking.Booking
}

func newGesture(original, proposed booking.Booking) *Gesture {
	return &Gesture{Original: original.Clone(), Proposed: proposed.Clone(), state: GesturePending}
}

// State reports where the gesture is.
func (g *Gesture) State() GestureState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Confirmed returns the booking the backend accepted. Only meaningful once
// committed.
func (g *Gesture) Confirmed() (booking.Booking, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.confirmed, g.state == GestureCommitted
}

// apply writes the proposed state into v.
func (g *Gesture) apply(v *View) {
	v.Put(g.Proposed)
}

func (g *Gesture) commit(v *View, confirmed booking.Booking) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != GesturePending {
		return fmt.Errorf("calendar: commit gesture in state %s", g.state)
	}
	g.state = GestureCommitted
	g.confirmed = confirmed.Clone()
	v.Settle(confirmed)
	return nil
}

// rollback restores the exact original booking.
func (g *Gesture) rollback(v *View) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != GesturePending {
		return fmt.Errorf("calendar: roll back gesture in state %s", g.state)
	}
	g.state = GestureRolledBack
	v.Put(g.Original)
	return nil
}
