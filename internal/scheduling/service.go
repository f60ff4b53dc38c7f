// Package scheduling is the authoritative booking backend: it validates writes,
// rejects overlaps on a resource, enforces the status lifecycle, and announces
// every accepted change.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/events"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.scheduling")

const (
	defaultSlotStep     = 30 * time.Minute
	defaultSlotDuration = 30 * time.Minute
)

// Options wires a Service.
type Options struct {
	Store        Store
	Publisher    events.Publisher
	Idempotency  Idempotency
	Metrics      *metrics.SchedulingMetrics
	Logger       *logging.Logger
	Clock        func() time.Time
	Location     *time.Location
	WorkdayStart string
	WorkdayEnd   string
	SlotStep     time.Duration
}

// Service applies booking operations against a Store.
type Service struct {
	store        Store
	publisher    events.Publisher
	idem         Idempotency
	metrics      *metrics.SchedulingMetrics
	logger       *logging.Logger
	now          func() time.Time
	loc          *time.Location
	workdayStart time.Duration
	workdayEnd   time.Duration
	slotStep     time.Duration
}

// NewService validates opts and builds a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("scheduling: store required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	start, err := parseClock(opts.WorkdayStart, 8*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("scheduling: workday start: %w", err)
	}
	end, err := parseClock(opts.WorkdayEnd, 20*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("scheduling: workday end: %w", err)
	}
	if end <= start {
		return nil, errors.New("scheduling: workday end must be after start")
	}
	step := opts.SlotStep
	if step <= 0 {
		step = defaultSlotStep
	}
	idem := opts.Idempotency
	if idem == nil {
		idem = NewMemoryIdempotency(0)
	}
	return &Service{
		store:        opts.Store,
		publisher:    opts.Publisher,
		idem:         idem,
		metrics:      opts.Metrics,
		logger:       logger,
		now:          now,
		loc:          loc,
		workdayStart: start,
		workdayEnd:   end,
		slotStep:     step,
	}, nil
}

func parseClock(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Location returns the zone used for day boundaries.
func (s *Service) Location() *time.Location { return s.loc }

// Get returns one booking with eligibility flags.
func (s *Service) Get(ctx context.Context, id string) (booking.Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return booking.Booking{}, err
	}
	return s.decorate(b), nil
}

// List returns bookings intersecting the window.
func (s *Service) List(ctx context.Context, w booking.Window) ([]booking.Booking, error) {
	if err := w.Validate(); err != nil {
		return nil, &booking.ValidationError{Field: "window", Reason: err.Error()}
	}
	items, err := s.store.List(ctx, w)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = s.decorate(items[i])
	}
	return items, nil
}

// Create inserts a new scheduled booking. A repeated idempotency key returns
// the booking created by the first submission, waiting for it when the two
// arrive together.
func (s *Service) Create(ctx context.Context, f booking.Fields, idempotencyKey string) (booking.Booking, error) {
	ctx, span := tracer.Start(ctx, "scheduling.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("resource.id", f.ResourceID),
		attribute.String("subject.id", f.SubjectID),
	)

	if err := validateFields(f); err != nil {
		return booking.Booking{}, s.fail(span, "create", err)
	}
	key := strings.TrimSpace(idempotencyKey)
	reserved := false
	if key != "" {
		id, ok, err := s.idem.Reserve(ctx, key)
		var verr *booking.ValidationError
		switch {
		case errors.As(err, &verr):
			return booking.Booking{}, s.fail(span, "create", err)
		case err != nil:
			s.logger.Warn("idempotency reserve failed", "error", err)
		case ok:
			reserved = true
		default:
			existing, err := s.store.Get(ctx, id)
			if err == nil {
				s.metrics.ObserveWrite("create", "replayed")
				return s.decorate(existing), nil
			}
			s.logger.Warn("idempotent booking missing", "booking_id", id, "error", err)
		}
	}

	now := s.now().UTC()
	b := booking.Booking{
		ID:        uuid.NewString(),
		Status:    booking.StatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}.WithFields(f)
	evt := s.changeEvent(booking.ChangeCreated, b, nil)

	saved, err := s.store.Insert(ctx, b, evt)
	if err != nil {
		if reserved {
			if rerr := s.idem.Release(ctx, key); rerr != nil {
				s.logger.Warn("idempotency release failed", "error", rerr)
			}
		}
		return booking.Booking{}, s.fail(span, "create", err)
	}
	if reserved {
		if err := s.idem.Remember(ctx, key, saved.ID); err != nil {
			s.logger.Warn("idempotency remember failed", "error", err, "booking_id", saved.ID)
		}
	}
	span.SetAttributes(attribute.String("booking.id", saved.ID))
	s.metrics.ObserveWrite("create", "ok")
	s.publish(ctx, evt)
	return s.decorate(saved), nil
}

// Update replaces every client-controlled field of a scheduled booking.
func (s *Service) Update(ctx context.Context, id string, f booking.Fields) (booking.Booking, error) {
	ctx, span := tracer.Start(ctx, "scheduling.update")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id))

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return booking.Booking{}, s.fail(span, "update", err)
	}
	if err := booking.CheckEditable(current); err != nil {
		return booking.Booking{}, s.fail(span, "update", err)
	}
	if err := validateFields(f); err != nil {
		return booking.Booking{}, s.fail(span, "update", err)
	}
	next := current.WithFields(f)
	next.UpdatedAt = s.now().UTC()
	evt := s.changeEvent(booking.ChangeUpdated, next, &current)

	saved, err := s.store.Update(ctx, next, current.Status, evt)
	if err != nil {
		return booking.Booking{}, s.fail(span, "update", err)
	}
	s.metrics.ObserveWrite("update", "ok")
	s.publish(ctx, evt)
	return s.decorate(saved), nil
}

// Complete marks a started, scheduled booking completed.
func (s *Service) Complete(ctx context.Context, id string) (booking.Booking, error) {
	ctx, span := tracer.Start(ctx, "scheduling.complete")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id))

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return booking.Booking{}, s.fail(span, "complete", err)
	}
	if err := booking.CheckTransition(current, booking.StatusCompleted); err != nil {
		return booking.Booking{}, s.fail(span, "complete", err)
	}
	now := s.now().UTC()
	if current.Start.After(now) {
		return booking.Booking{}, s.fail(span, "complete", &booking.TransitionError{
			BookingID: id, From: current.Status, To: booking.StatusCompleted, Reason: "booking has not started",
		})
	}
	next := current.Clone()
	next.Status = booking.StatusCompleted
	next.UpdatedAt = now
	evt := s.changeEvent(booking.ChangeCompleted, next, nil)

	saved, err := s.store.Update(ctx, next, current.Status, evt)
	if err != nil {
		return booking.Booking{}, s.fail(span, "complete", err)
	}
	s.metrics.ObserveWrite("complete", "ok")
	s.metrics.ObserveTransition(string(booking.StatusCompleted))
	s.publish(ctx, evt)
	return s.decorate(saved), nil
}

// Cancel closes a scheduled booking and frees its slot. A blank reason is
// stored as booking.DefaultCancelReason.
func (s *Service) Cancel(ctx context.Context, id, reason string) (booking.Booking, error) {
	ctx, span := tracer.Start(ctx, "scheduling.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id))

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return booking.Booking{}, s.fail(span, "cancel", err)
	}
	if err := booking.CheckTransition(current, booking.StatusCancelled); err != nil {
		return booking.Booking{}, s.fail(span, "cancel", err)
	}
	now := s.now().UTC()
	next := current.Clone()
	next.Status = booking.StatusCancelled
	next.CancellationReason = booking.CancelReason(reason)
	next.CancelledAt = &now
	next.UpdatedAt = now
	evt := s.changeEvent(booking.ChangeCancelled, next, nil)

	saved, err := s.store.Update(ctx, next, current.Status, evt)
	if err != nil {
		return booking.Booking{}, s.fail(span, "cancel", err)
	}
	s.metrics.ObserveWrite("cancel", "ok")
	s.metrics.ObserveTransition(string(booking.StatusCancelled))
	s.publish(ctx, evt)
	return s.decorate(saved), nil
}

// Availability lists the free slots of duration on resourceID during the
// working hours of day. Past slots are omitted.
func (s *Service) Availability(ctx context.Context, resourceID string, day time.Time, duration time.Duration) (booking.Availability, error) {
	if strings.TrimSpace(resourceID) == "" {
		return booking.Availability{}, &booking.ValidationError{Field: "resource_id", Reason: "is required"}
	}
	if duration <= 0 {
		duration = defaultSlotDuration
	}
	local := day.In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	open := midnight.Add(s.workdayStart)
	closeAt := midnight.Add(s.workdayEnd)

	taken, err := s.store.List(ctx, booking.Window{Start: open, End: closeAt, ResourceID: resourceID})
	if err != nil {
		return booking.Availability{}, err
	}
	now := s.now()
	slots := make([]booking.Slot, 0)
	for cursor := open; !cursor.Add(duration).After(closeAt); cursor = cursor.Add(s.slotStep) {
		if cursor.Before(now) {
			continue
		}
		span := booking.Interval{Start: cursor, End: cursor.Add(duration)}
		free := true
		for _, b := range taken {
			if b.Status.Occupies() && b.Interval().Overlaps(span) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, booking.Slot{Start: span.Start, End: span.End})
		}
	}
	return booking.Availability{
		ResourceID:      resourceID,
		Date:            midnight.Format("2006-01-02"),
		DurationMinutes: int(duration / time.Minute),
		Slots:           slots,
		TotalAvailable:  len(slots),
	}, nil
}

// decorate fills the read-time eligibility flags.
func (s *Service) decorate(b booking.Booking) booking.Booking {
	scheduled := b.Status == booking.StatusScheduled
	b.CanEdit = scheduled
	b.CanCancel = scheduled
	b.CanComplete = scheduled && !b.Start.After(s.now())
	return b
}

func validateFields(f booking.Fields) error {
	if strings.TrimSpace(f.ResourceID) == "" {
		return &booking.ValidationError{Field: "resource_id", Reason: "is required"}
	}
	return f.Validate()
}

func (s *Service) changeEvent(kind booking.ChangeType, b booking.Booking, previous *booking.Booking) booking.ChangeEvent {
	evt := booking.ChangeEvent{
		ID:         uuid.NewString(),
		Type:       kind,
		BookingID:  b.ID,
		ResourceID: b.ResourceID,
		Start:      b.Start,
		End:        b.End,
		Status:     b.Status,
		OccurredAt: b.UpdatedAt,
	}
	if previous != nil && (!previous.Start.Equal(b.Start) || !previous.End.Equal(b.End) || previous.ResourceID != b.ResourceID) {
		ps, pe := previous.Start, previous.End
		evt.PreviousStart = &ps
		evt.PreviousEnd = &pe
	}
	return evt
}

func (s *Service) publish(ctx context.Context, evt booking.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("change event publish failed", "error", err, "event_id", evt.ID, "booking_id", evt.BookingID)
	}
}

func (s *Service) fail(span trace.Span, op string, err error) error {
	kind := booking.KindOf(err)
	switch kind {
	case booking.KindConflict:
		s.metrics.ObserveConflict(op)
	case booking.KindUnknown, booking.KindNetwork:
		span.RecordError(err)
	}
	s.metrics.ObserveWrite(op, string(kind))
	return err
}
