// Package events fans booking change events out to live subscribers, the
// outbox, and durable queues.
package events

import (
	"context"
	"errors"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Publisher delivers a change event somewhere.
type Publisher interface {
	Publish(ctx context.Context, evt booking.ChangeEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt booking.ChangeEvent) error

func (f PublisherFunc) Publish(ctx context.Context, evt booking.ChangeEvent) error {
	return f(ctx, evt)
}

// Multi publishes to every target and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt booking.ChangeEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to the log. Used when no queue is configured.
type LogPublisher struct {
	logger *logging.Logger
}

func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, evt booking.ChangeEvent) error {
	p.logger.Info("booking changed",
		"event_id", evt.ID,
		"type", evt.Type,
		"booking_id", evt.BookingID,
		"resource_id", evt.ResourceID,
		"status", evt.Status,
	)
	return nil
}
