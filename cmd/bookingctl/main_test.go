package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/scheduling"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

func newBackend(t *testing.T) string {
	t.Helper()
	logger := logging.New("error")
	store := scheduling.NewMemoryStore()
	store.RegisterSubject("S1", "Ana Torres")
	svc, err := scheduling.NewService(scheduling.Options{
		Store:  store,
		Logger: logger,
		Clock:  func() time.Time { return time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	scheduling.NewHandler(svc, scheduling.NewHub(logger, nil), logger).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, baseURL string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--base-url", baseURL, "--retries", "0"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func create(t *testing.T, baseURL, start, end string) outcomeReport {
	t.Helper()
	out, err := run(t, baseURL, "create",
		"--resource", "R1", "--subject", "S1", "--service", "facial",
		"--start", start, "--end", end)
	require.NoError(t, err, out)
	var r outcomeReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	return r
}

func TestCreateAndList(t *testing.T) {
	baseURL := newBackend(t)

	r := create(t, baseURL, "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z")
	require.True(t, r.OK)
	require.NotNil(t, r.Booking)
	assert.Equal(t, "Ana Torres", r.Booking.SubjectName)

	out, err := run(t, baseURL, "list", "--start", "2026-03-02T00:00:00Z", "--end", "2026-03-03T00:00:00Z")
	require.NoError(t, err)
	var list booking.ListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, r.Booking.ID, list.Bookings[0].ID)
}

func TestListFiltersByStatus(t *testing.T) {
	baseURL := newBackend(t)
	create(t, baseURL, "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z")
	gone := create(t, baseURL, "2026-03-02T12:00:00Z", "2026-03-02T13:00:00Z")
	_, err := run(t, baseURL, "cancel", "--id", gone.Booking.ID, "--reason", "moved away")
	require.NoError(t, err)

	out, err := run(t, baseURL, "list", "--start", "2026-03-02T00:00:00Z", "--end", "2026-03-03T00:00:00Z", "--status", "cancelled")
	require.NoError(t, err, out)
	var list booking.ListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, gone.Booking.ID, list.Bookings[0].ID)
}

func TestMoveConflictReportsBlocker(t *testing.T) {
	baseURL := newBackend(t)
	first := create(t, baseURL, "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z")
	second := create(t, baseURL, "2026-03-02T12:00:00Z", "2026-03-02T13:00:00Z")

	out, err := run(t, baseURL, "move", "--id", second.Booking.ID,
		"--start", "2026-03-02T10:30:00Z", "--end", "2026-03-02T11:30:00Z")
	require.Error(t, err)

	var r outcomeReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.False(t, r.OK)
	assert.Equal(t, booking.KindConflict, r.Kind)
	require.NotNil(t, r.Conflict)
	assert.Equal(t, first.Booking.ID, r.Conflict.BookingID)
}

func TestCancelUsesDefaultReason(t *testing.T) {
	baseURL := newBackend(t)
	created := create(t, baseURL, "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z")

	out, err := run(t, baseURL, "cancel", "--id", created.Booking.ID)
	require.NoError(t, err, out)
	var r outcomeReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.NotNil(t, r.Booking)
	assert.Equal(t, booking.StatusCancelled, r.Booking.Status)
	assert.Equal(t, booking.DefaultCancelReason, r.Booking.CancellationReason)

	// A second cancel is refused from the cached state.
	_, err = run(t, baseURL, "cancel", "--id", created.Booking.ID)
	assert.Error(t, err)
}

func TestCompleteBeforeStartIsRefused(t *testing.T) {
	baseURL := newBackend(t)
	created := create(t, baseURL, "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z")

	out, err := run(t, baseURL, "complete", "--id", created.Booking.ID)
	require.Error(t, err)
	var r outcomeReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, booking.KindTransition, r.Kind)
}

func TestAvailability(t *testing.T) {
	baseURL := newBackend(t)
	create(t, baseURL, "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z")

	out, err := run(t, baseURL, "availability", "--resource", "R1", "--date", "2026-03-02", "--duration", "1h")
	require.NoError(t, err, out)
	var avail booking.Availability
	require.NoError(t, json.Unmarshal([]byte(out), &avail))
	assert.Equal(t, 60, avail.DurationMinutes)
	for _, slot := range avail.Slots {
		assert.False(t, slot.Start.Before(time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)) &&
			slot.End.After(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)), "slot %v overlaps booking", slot.Start)
	}
}

func TestListRejectsBadTime(t *testing.T) {
	_, err := run(t, "http://127.0.0.1:1", "list", "--start", "yesterday", "--end", "2026-03-03T00:00:00Z")
	assert.ErrorContains(t, err, "--start must be RFC3339")
}
