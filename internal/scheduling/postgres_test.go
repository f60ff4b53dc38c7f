package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

var bookingRowColumns = []string{
	"id", "resource_id", "subject_id", "subject_name", "service_id",
	"start_at", "end_at", "status", "notes", "cancellation_reason",
	"has_cancelled", "cancelled_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T, opts ...PostgresOption) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return newPostgresStoreWithDB(mock, opts...), mock
}

func pgBooking() booking.Booking {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return booking.Booking{
		ID:         "b1",
		ResourceID: "room-1",
		SubjectID:  "pat-ana",
		ServiceID:  "svc-consult",
		Start:      time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		End:        time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		Status:     booking.StatusScheduled,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func rowFor(b booking.Booking, name string) *pgxmock.Rows {
	return pgxmock.NewRows(bookingRowColumns).AddRow(
		b.ID, b.ResourceID, b.SubjectID, name, b.ServiceID,
		b.Start, b.End, string(b.Status), b.Notes, b.CancellationReason,
		false, time.Unix(0, 0).UTC(), b.CreatedAt, b.UpdatedAt,
	)
}

func TestPostgresInsert(t *testing.T) {
	store, mock := newMockStore(t)
	b := pgBooking()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("room-1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT b.id, COALESCE").WithArgs("room-1", "b1", b.Start, b.End).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO bookings").
		WithArgs("b1", "room-1", "pat-ana", "svc-consult", b.Start, b.End, "scheduled", "", "", pgxmock.AnyArg(), b.CreatedAt, b.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM bookings b LEFT JOIN subjects").WithArgs("b1").WillReturnRows(rowFor(b, "Ana Torres"))
	mock.ExpectCommit()

	saved, err := store.Insert(context.Background(), b, booking.ChangeEvent{})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if saved.SubjectName != "Ana Torres" || saved.CancelledAt != nil {
		t.Fatalf("unexpected booking %#v", saved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresInsertConflict(t *testing.T) {
	store, mock := newMockStore(t)
	b := pgBooking()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("room-1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT b.id, COALESCE").WithArgs("room-1", "b1", b.Start, b.End).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "start_at", "end_at"}).
			AddRow("b0", "Luis Vega", b.Start.Add(-30*time.Minute), b.Start.Add(30*time.Minute)))
	mock.ExpectRollback()

	_, err := store.Insert(context.Background(), b, booking.ChangeEvent{})
	var conflict *booking.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if conflict.Conflict.BookingID != "b0" || conflict.Conflict.Subject != "Luis Vega" {
		t.Fatalf("unexpected conflict %#v", conflict.Conflict)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresCancelSkipsOverlapAndWritesOutbox(t *testing.T) {
	store, mock := newMockStore(t, WithOutbox())
	b := pgBooking()
	cancelledAt := b.UpdatedAt.Add(time.Hour)
	b.Status = booking.StatusCancelled
	b.CancellationReason = booking.DefaultCancelReason
	b.CancelledAt = &cancelledAt
	b.UpdatedAt = cancelledAt
	evt := booking.ChangeEvent{
		ID:         "1b7c1a0e-3f43-4bb6-8d61-0f5ad3a2a9c1",
		Type:       booking.ChangeCancelled,
		BookingID:  "b1",
		ResourceID: "room-1",
		Start:      b.Start,
		End:        b.End,
		Status:     booking.StatusCancelled,
	}

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("room-1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("UPDATE bookings").
		WithArgs("b1", "room-1", "pat-ana", "svc-consult", b.Start, b.End, "cancelled", "", booking.DefaultCancelReason, pgxmock.AnyArg(), cancelledAt, "scheduled").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO booking_outbox").
		WithArgs(pgxmock.AnyArg(), "booking:b1", "booking.cancelled", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	rows := pgxmock.NewRows(bookingRowColumns).AddRow(
		b.ID, b.ResourceID, b.SubjectID, "", b.ServiceID,
		b.Start, b.End, "cancelled", "", booking.DefaultCancelReason,
		true, cancelledAt, b.CreatedAt, b.UpdatedAt,
	)
	mock.ExpectQuery("FROM bookings b LEFT JOIN subjects").WithArgs("b1").WillReturnRows(rows)
	mock.ExpectCommit()

	saved, err := store.Update(context.Background(), b, booking.StatusScheduled, evt)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if saved.Status != booking.StatusCancelled || saved.CancelledAt == nil || !saved.CancelledAt.Equal(cancelledAt) {
		t.Fatalf("unexpected booking %#v", saved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateMissing(t *testing.T) {
	store, mock := newMockStore(t)
	b := pgBooking()
	b.Status = booking.StatusCancelled

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("room-1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("UPDATE bookings").WithArgs(
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
	).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM bookings").WithArgs("b1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.Update(context.Background(), b, booking.StatusScheduled, booking.ChangeEvent{})
	if !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresUpdateRefusesStaleStatus(t *testing.T) {
	store, mock := newMockStore(t)
	b := pgBooking()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("room-1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT b.id, COALESCE").WithArgs("room-1", "b1", b.Start, b.End).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("UPDATE bookings").
		WithArgs("b1", "room-1", "pat-ana", "svc-consult", b.Start, b.End, "scheduled", "", "", pgxmock.AnyArg(), b.UpdatedAt, "scheduled").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM bookings").WithArgs("b1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("cancelled"))
	mock.ExpectRollback()

	_, err := store.Update(context.Background(), b, booking.StatusScheduled, booking.ChangeEvent{})
	var transition *booking.TransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if transition.From != booking.StatusCancelled {
		t.Fatalf("expected current status cancelled, got %q", transition.From)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetAndList(t *testing.T) {
	store, mock := newMockStore(t)
	b := pgBooking()

	mock.ExpectQuery("FROM bookings b LEFT JOIN subjects").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	w := booking.Window{Start: b.Start.Add(-time.Hour), End: b.End.Add(time.Hour), ResourceID: "room-1"}
	mock.ExpectQuery("WHERE b.start_at < \\$2").WithArgs(w.Start, w.End, "room-1", false, "").WillReturnRows(rowFor(b, "Ana Torres"))
	items, err := store.List(context.Background(), w)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != "b1" {
		t.Fatalf("unexpected bookings %#v", items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresListFiltersByStatus(t *testing.T) {
	store, mock := newMockStore(t)
	b := pgBooking()
	w := booking.Window{Start: b.Start.Add(-time.Hour), End: b.End.Add(time.Hour), Status: booking.StatusScheduled}

	mock.ExpectQuery("ELSE b.status = \\$5").WithArgs(w.Start, w.End, "", false, "scheduled").WillReturnRows(rowFor(b, "Ana Torres"))
	items, err := store.List(context.Background(), w)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].Status != booking.StatusScheduled {
		t.Fatalf("unexpected bookings %#v", items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
