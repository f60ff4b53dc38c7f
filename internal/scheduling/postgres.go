package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/events"
)

type dbtx interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists bookings in Postgres. Writes to one resource are
// serialized with a transaction-scoped advisory lock keyed on the resource id.
type PostgresStore struct {
	db     dbtx
	outbox bool
}

// PostgresOption customizes the store.
type PostgresOption func(*PostgresStore)

// WithOutbox records every change event in booking_outbox inside the write
// transaction.
func WithOutbox() PostgresOption {
	return func(s *PostgresStore) { s.outbox = true }
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return newPostgresStoreWithDB(pool, opts...)
}

func newPostgresStoreWithDB(db dbtx, opts ...PostgresOption) *PostgresStore {
	if db == nil {
		panic("scheduling: db required")
	}
	s := &PostgresStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const bookingColumns = `
	b.id, b.resource_id, b.subject_id, COALESCE(s.name, ''), COALESCE(b.service_id, ''),
	b.start_at, b.end_at, b.status, COALESCE(b.notes, ''), COALESCE(b.cancellation_reason, ''),
	b.cancelled_at IS NOT NULL, COALESCE(b.cancelled_at, to_timestamp(0)), b.created_at, b.updated_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(row scanner) (booking.Booking, error) {
	var (
		b            booking.Booking
		status       string
		hasCancelled bool
		cancelledAt  time.Time
	)
	if err := row.Scan(
		&b.ID, &b.ResourceID, &b.SubjectID, &b.SubjectName, &b.ServiceID,
		&b.Start, &b.End, &status, &b.Notes, &b.CancellationReason,
		&hasCancelled, &cancelledAt, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return booking.Booking{}, err
	}
	b.Status = booking.Status(status)
	if hasCancelled {
		at := cancelledAt.UTC()
		b.CancelledAt = &at
	}
	return b, nil
}

func (s *PostgresStore) Insert(ctx context.Context, b booking.Booking, evt booking.ChangeEvent) (booking.Booking, error) {
	return s.write(ctx, b, evt, func(tx pgx.Tx) error {
		query := `
			INSERT INTO bookings (id, resource_id, subject_id, service_id, start_at, end_at, status, notes,
				cancellation_reason, cancelled_at, created_at, updated_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12)
		`
		if _, err := tx.Exec(ctx, query, b.ID, b.ResourceID, b.SubjectID, b.ServiceID, b.Start, b.End,
			string(b.Status), b.Notes, b.CancellationReason, b.CancelledAt, b.CreatedAt, b.UpdatedAt); err != nil {
			return fmt.Errorf("scheduling: insert booking: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Update(ctx context.Context, b booking.Booking, expected booking.Status, evt booking.ChangeEvent) (booking.Booking, error) {
	return s.write(ctx, b, evt, func(tx pgx.Tx) error {
		query := `
			UPDATE bookings
			SET resource_id = $2, subject_id = $3, service_id = NULLIF($4, ''), start_at = $5, end_at = $6,
				status = $7, notes = NULLIF($8, ''), cancellation_reason = NULLIF($9, ''), cancelled_at = $10,
				updated_at = $11
			WHERE id = $1 AND status = $12
		`
		ct, err := tx.Exec(ctx, query, b.ID, b.ResourceID, b.SubjectID, b.ServiceID, b.Start, b.End,
			string(b.Status), b.Notes, b.CancellationReason, b.CancelledAt, b.UpdatedAt, string(expected))
		if err != nil {
			return fmt.Errorf("scheduling: update booking: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return currentStatusError(ctx, tx, b)
		}
		return nil
	})
}

func (s *PostgresStore) write(ctx context.Context, b booking.Booking, evt booking.ChangeEvent, apply func(pgx.Tx) error) (booking.Booking, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return booking.Booking{}, fmt.Errorf("scheduling: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, b.ResourceID); err != nil {
		return booking.Booking{}, fmt.Errorf("scheduling: lock resource: %w", err)
	}
	if b.Status.Occupies() {
		if err := checkOverlap(ctx, tx, b); err != nil {
			return booking.Booking{}, err
		}
	}
	if err := apply(tx); err != nil {
		return booking.Booking{}, err
	}
	if s.outbox {
		if _, err := events.AppendChangeEvent(ctx, tx, evt); err != nil {
			return booking.Booking{}, err
		}
	}
	saved, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+`
		FROM bookings b LEFT JOIN subjects s ON s.id = b.subject_id
		WHERE b.id = $1`, b.ID))
	if err != nil {
		return booking.Booking{}, fmt.Errorf("scheduling: reload booking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return booking.Booking{}, fmt.Errorf("scheduling: commit: %w", err)
	}
	return saved, nil
}

// currentStatusError explains an update that matched no row: the booking is
// gone, or its status moved on.
func currentStatusError(ctx context.Context, tx pgx.Tx, b booking.Booking) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, b.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("scheduling: read booking status: %w", err)
	}
	return staleStatus(b, booking.Status(status))
}

func checkOverlap(ctx context.Context, tx pgx.Tx, b booking.Booking) error {
	query := `
		SELECT b.id, COALESCE(s.name, b.subject_id), b.start_at, b.end_at
		FROM bookings b LEFT JOIN subjects s ON s.id = b.subject_id
		WHERE b.resource_id = $1
		  AND b.id <> $2
		  AND b.status IN ('scheduled', 'completed')
		  AND b.start_at < $4
		  AND b.end_at > $3
		ORDER BY b.start_at
		LIMIT 1
	`
	var blocker booking.Booking
	err := tx.QueryRow(ctx, query, b.ResourceID, b.ID, b.Start, b.End).
		Scan(&blocker.ID, &blocker.SubjectName, &blocker.Start, &blocker.End)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scheduling: check overlap: %w", err)
	}
	return conflictFor(blocker)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (booking.Booking, error) {
	b, err := scanBooking(s.db.QueryRow(ctx, `SELECT `+bookingColumns+`
		FROM bookings b LEFT JOIN subjects s ON s.id = b.subject_id
		WHERE b.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Booking{}, booking.ErrNotFound
	}
	if err != nil {
		return booking.Booking{}, fmt.Errorf("scheduling: get booking: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) List(ctx context.Context, w booking.Window) ([]booking.Booking, error) {
	query := `SELECT ` + bookingColumns + `
		FROM bookings b LEFT JOIN subjects s ON s.id = b.subject_id
		WHERE b.start_at < $2
		  AND b.end_at > $1
		  AND ($3 = '' OR b.resource_id = $3)
		  AND (CASE WHEN $5 = '' THEN ($4 OR b.status <> 'cancelled') ELSE b.status = $5 END)
		ORDER BY b.start_at, b.id
	`
	rows, err := s.db.Query(ctx, query, w.Start, w.End, w.ResourceID, w.IncludeCancelled, string(w.Status))
	if err != nil {
		return nil, fmt.Errorf("scheduling: list bookings: %w", err)
	}
	defer rows.Close()

	out := make([]booking.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduling: scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
