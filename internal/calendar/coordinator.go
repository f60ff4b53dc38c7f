// Package calendar is the client side of booking conflict resolution: it
// applies optimistic edits to a cached window, reverts them exactly when the
// backend refuses, and reconciles with the authoritative calendar after every
// mutation.
package calendar

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.calendar")

// Backend is the scheduling API the coordinator talks to.
// *bookingclient.Client satisfies it.
type Backend interface {
	ListBookings(ctx context.Context, w booking.Window) ([]booking.Booking, error)
	CreateBooking(ctx context.Context, f booking.Fields, idempotencyKey string) (*booking.Booking, error)
	UpdateBooking(ctx context.Context, id string, f booking.Fields) (*booking.Booking, error)
	CompleteBooking(ctx context.Context, id string) (*booking.Booking, error)
	CancelBooking(ctx context.Context, id, reason string) (*booking.Booking, error)
	Availability(ctx context.Context, resourceID string, day time.Time, duration time.Duration) (*booking.Availability, error)
}

// Config wires a Coordinator.
type Config struct {
	Backend Backend
	Logger  *logging.Logger
	Metrics *metrics.ClientMetrics
	// NewKey generates create idempotency keys. Defaults to random UUIDs.
	NewKey func() string
}

// Coordinator runs proposals against the backend and keeps the View in step.
type Coordinator struct {
	backend  Backend
	view     *View
	inflight *inflight
	logger   *logging.Logger
	metrics  *metrics.ClientMetrics
	newKey   func() string

	subsMu sync.RWMutex
	subs   map[int]func(Outcome)
	nextID int
}

// New builds a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Backend == nil {
		return nil, errors.New("calendar: backend required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	newKey := cfg.NewKey
	if newKey == nil {
		newKey = uuid.NewString
	}
	return &Coordinator{
		backend:  cfg.Backend,
		view:     NewView(),
		inflight: newInflight(),
		logger:   logger.Component("calendar"),
		metrics:  cfg.Metrics,
		newKey:   newKey,
		subs:     make(map[int]func(Outcome)),
	}, nil
}

// View exposes the cached window.
func (c *Coordinator) View() *View { return c.view }

// Subscribe registers fn for every settled outcome. The returned func removes
// the subscription.
func (c *Coordinator) Subscribe(fn func(Outcome)) func() {
	c.subsMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subsMu.Unlock()
	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// InFlight reports whether a mutation on id is pending. Display surfaces use it
// to disable the triggering control.
func (c *Coordinator) InFlight(id string) bool {
	return c.inflight.busy(bookingKey(id))
}

// Actions returns the controls to offer for a cached booking, taken from the
// backend's eligibility flags. Nothing is offered while a request is pending.
func (c *Coordinator) Actions(id string) (Actions, bool) {
	b, ok := c.view.Get(id)
	if !ok {
		return Actions{}, false
	}
	if c.InFlight(id) {
		return Actions{}, true
	}
	return Actions{CanEdit: b.CanEdit, CanComplete: b.CanComplete, CanCancel: b.CanCancel}, true
}

// FetchWindow loads every booking intersecting w and makes w the visible window.
func (c *Coordinator) FetchWindow(ctx context.Context, w booking.Window) ([]booking.Booking, error) {
	if err := w.Validate(); err != nil {
		return nil, &booking.ValidationError{Field: "window", Reason: err.Error()}
	}
	items, err := c.backend.ListBookings(ctx, w)
	if err != nil {
		return nil, err
	}
	c.view.Replace(w, items)
	return c.view.Snapshot(), nil
}

// FetchAvailability lists free slots; it does not touch the view.
func (c *Coordinator) FetchAvailability(ctx context.Context, resourceID string, day time.Time, duration time.Duration) (*booking.Availability, error) {
	return c.backend.Availability(ctx, resourceID, day, duration)
}

// ProposeCreate submits a candidate. On conflict the candidate is discarded and
// the view is left untouched.
func (c *Coordinator) ProposeCreate(ctx context.Context, f booking.Fields) Outcome {
	ctx, span := tracer.Start(ctx, "calendar.propose_create")
	defer span.End()
	span.SetAttributes(attribute.String("resource.id", f.ResourceID))

	if err := validateCandidate(f); err != nil {
		return c.settle(ctx, span, failure(OpCreate, "", err, nil), false)
	}
	key := candidateKey(f)
	if !c.inflight.acquire(key) {
		return c.settle(ctx, span, failure(OpCreate, "", booking.ErrInFlight, nil), false)
	}
	defer c.inflight.release(key)

	created, err := c.backend.CreateBooking(ctx, f, c.newKey())
	if err != nil {
		return c.settle(ctx, span, failure(OpCreate, "", err, nil), true)
	}
	c.view.Settle(*created)
	span.SetAttributes(attribute.String("booking.id", created.ID))
	return c.settle(ctx, span, success(OpCreate, *created, nil), true)
}

// ProposeUpdate sends a full replacement of the booking's fields. The view
// changes only once the backend accepts.
func (c *Coordinator) ProposeUpdate(ctx context.Context, id string, f booking.Fields) Outcome {
	ctx, span := tracer.Start(ctx, "calendar.propose_update")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id))
	return c.update(ctx, span, OpUpdate, id, func(booking.Booking) booking.Fields { return f }, false)
}

// ProposeMove is a drag or resize: the new times are shown immediately and
// reverted to the exact original if the backend refuses for any reason.
func (c *Coordinator) ProposeMove(ctx context.Context, id string, start, end time.Time) Outcome {
	ctx, span := tracer.Start(ctx, "calendar.propose_move")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id))

	return c.update(ctx, span, OpMove, id, func(cached booking.Booking) booking.Fields {
		f := cached.Fields()
		f.Start = start
		f.End = end
		return f
	}, true)
}

// update holds the booking's guard before reading the cached copy, so a
// gesture's Original is never older than the last confirmed write.
func (c *Coordinator) update(ctx context.Context, span trace.Span, op Op, id string, fields func(cached booking.Booking) booking.Fields, optimistic bool) Outcome {
	if !c.inflight.acquire(bookingKey(id)) {
		return c.settle(ctx, span, failure(op, id, booking.ErrInFlight, nil), false)
	}
	defer c.inflight.release(bookingKey(id))

	cached, cachedOK := c.view.Get(id)
	if cachedOK {
		if err := booking.CheckEditable(cached); err != nil {
			return c.settle(ctx, span, failure(op, id, err, nil), false)
		}
	} else if optimistic {
		err := &booking.TransitionError{BookingID: id, Reason: "booking is not in the visible window", Err: booking.ErrNotFound}
		return c.settle(ctx, span, failure(op, id, err, nil), false)
	}
	f := fields(cached)
	if err := validateCandidate(f); err != nil {
		return c.settle(ctx, span, failure(op, id, err, nil), false)
	}

	var g *Gesture
	if optimistic {
		g = newGesture(cached, cached.WithFields(f))
		g.apply(c.view)
	}

	updated, err := c.backend.UpdateBooking(ctx, id, f)
	if err != nil {
		if g != nil {
			if rbErr := g.rollback(c.view); rbErr != nil {
				c.logger.Error("gesture rollback failed", "booking_id", id, "error", rbErr)
			}
			c.metrics.ObserveRollback(string(booking.KindOf(err)))
		}
		return c.settle(ctx, span, failure(op, id, err, g), true)
	}
	if g != nil {
		if cmErr := g.commit(c.view, *updated); cmErr != nil {
			c.logger.Error("gesture commit failed", "booking_id", id, "error", cmErr)
		}
	} else {
		c.view.Settle(*updated)
	}
	return c.settle(ctx, span, success(op, *updated, g), true)
}

// ProposeComplete marks a booking completed. A cached booking that is closed or
// whose can_complete flag is unset is refused without a request.
func (c *Coordinator) ProposeComplete(ctx context.Context, id string) Outcome {
	ctx, span := tracer.Start(ctx, "calendar.propose_complete")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id))

	if cached, ok := c.view.Get(id); ok {
		if err := booking.CheckTransition(cached, booking.StatusCompleted); err != nil {
			return c.settle(ctx, span, failure(OpComplete, id, err, nil), false)
		}
		if !cached.CanComplete {
			err := &booking.TransitionError{BookingID: id, From: cached.Status, To: booking.StatusCompleted, Reason: "booking is not eligible for completion yet"}
			return c.settle(ctx, span, failure(OpComplete, id, err, nil), false)
		}
	}
	return c.transition(ctx, span, OpComplete, id, func(ctx context.Context) (*booking.Booking, error) {
		return c.backend.CompleteBooking(ctx, id)
	})
}

// ProposeCancel cancels a booking. A blank reason is replaced with
// booking.DefaultCancelReason.
func (c *Coordinator) ProposeCancel(ctx context.Context, id, reason string) Outcome {
	ctx, span := tracer.Start(ctx, "calendar.propose_cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id))

	if cached, ok := c.view.Get(id); ok {
		if err := booking.CheckTransition(cached, booking.StatusCancelled); err != nil {
			return c.settle(ctx, span, failure(OpCancel, id, err, nil), false)
		}
	}
	reason = booking.CancelReason(reason)
	return c.transition(ctx, span, OpCancel, id, func(ctx context.Context) (*booking.Booking, error) {
		return c.backend.CancelBooking(ctx, id, reason)
	})
}

func (c *Coordinator) transition(ctx context.Context, span trace.Span, op Op, id string, call func(context.Context) (*booking.Booking, error)) Outcome {
	if !c.inflight.acquire(bookingKey(id)) {
		return c.settle(ctx, span, failure(op, id, booking.ErrInFlight, nil), false)
	}
	defer c.inflight.release(bookingKey(id))

	updated, err := call(ctx)
	if err != nil {
		return c.settle(ctx, span, failure(op, id, err, nil), true)
	}
	c.view.Settle(*updated)
	return c.settle(ctx, span, success(op, *updated, nil), true)
}

// Watch refetches the visible window whenever a change event touches it. It
// returns when ctx is done or events is closed.
func (c *Coordinator) Watch(ctx context.Context, events <-chan booking.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if !evt.Affects(c.view.Window()) {
				continue
			}
			c.logger.Debug("visible window changed remotely", "event_id", evt.ID, "booking_id", evt.BookingID)
			c.refresh(ctx)
		}
	}
}

// settle records the outcome, refetches when a request was made, and notifies
// subscribers.
func (c *Coordinator) settle(ctx context.Context, span trace.Span, o Outcome, sent bool) Outcome {
	span.SetAttributes(attribute.String("outcome.kind", kindLabel(o.Kind)))
	if o.Err != nil && (o.Kind == booking.KindNetwork || o.Kind == booking.KindUnknown) {
		span.RecordError(o.Err)
	}
	c.metrics.ObserveOutcome(string(o.Op), string(o.Kind))
	if o.Err != nil {
		c.logger.Info("booking proposal refused", "op", o.Op, "booking_id", o.BookingID, "kind", o.Kind, "error", o.Err)
	}
	if sent {
		c.refresh(ctx)
	}
	c.notify(o)
	return o
}

func (c *Coordinator) refresh(ctx context.Context) {
	w := c.view.Window()
	if w.IsZero() {
		return
	}
	if _, err := c.FetchWindow(ctx, w); err != nil {
		c.logger.Warn("window refetch failed", "error", err, "resource_id", w.ResourceID)
	}
}

func (c *Coordinator) notify(o Outcome) {
	c.subsMu.RLock()
	subs := make([]func(Outcome), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subsMu.RUnlock()
	for _, fn := range subs {
		fn(o)
	}
}

func validateCandidate(f booking.Fields) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(f.ResourceID) == "" {
		return &booking.ValidationError{Field: "resource_id", Reason: "is required"}
	}
	return nil
}

func kindLabel(k booking.Kind) string {
	if k == booking.KindNone {
		return "ok"
	}
	return string(k)
}
