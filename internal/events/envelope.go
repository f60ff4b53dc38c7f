package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

// Envelope captures transport metadata for booking change events.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	Payload         json.RawMessage `json:"payload"`
}

var (
	errMissingAggregate = errors.New("events: booking id is required")
	nowFunc             = time.Now
)

// NewEnvelope wraps evt. The event id is reused when it is a UUID so that
// downstream consumers can dedupe on it.
func NewEnvelope(evt booking.ChangeEvent) (Envelope, error) {
	aggregate := strings.TrimSpace(evt.BookingID)
	if aggregate == "" {
		return Envelope{}, errMissingAggregate
	}
	if strings.TrimSpace(string(evt.Type)) == "" {
		return Envelope{}, fmt.Errorf("events: event type missing")
	}
	id, err := uuid.Parse(evt.ID)
	if err != nil {
		id = uuid.New()
		evt.ID = id.String()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal change event: %w", err)
	}
	ts := evt.OccurredAt
	if ts.IsZero() {
		ts = nowFunc()
	}
	return Envelope{
		EventID:         id,
		EventType:       string(evt.Type),
		Aggregate:       "booking:" + aggregate,
		TimestampMicros: ts.UTC().UnixMicro(),
		Payload:         payload,
	}, nil
}

// Decode unpacks the change event carried by the envelope.
func (e Envelope) Decode() (booking.ChangeEvent, error) {
	var evt booking.ChangeEvent
	if err := json.Unmarshal(e.Payload, &evt); err != nil {
		return booking.ChangeEvent{}, fmt.Errorf("events: decode change event: %w", err)
	}
	return evt, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AppendChangeEvent writes evt to the outbox using exec, which is normally the
// transaction that performed the booking write.
func AppendChangeEvent(ctx context.Context, exec execer, evt booking.ChangeEvent) (Envelope, error) {
	if exec == nil {
		return Envelope{}, fmt.Errorf("events: exec required")
	}
	env, err := NewEnvelope(evt)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	query := `
		INSERT INTO booking_outbox (id, aggregate, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := exec.Exec(ctx, query, env.EventID, env.Aggregate, env.EventType, data); err != nil {
		return Envelope{}, fmt.Errorf("events: append change event: %w", err)
	}
	return env, nil
}
