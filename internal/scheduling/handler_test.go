package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/events"
)

func newTestServer(t *testing.T) (*httptest.Server, *fixture, *Hub) {
	t.Helper()
	fx := newFixture(t)
	hub := NewHub(nil, nil)
	fx.svc.publisher = events.Multi{fx.pub, hub}
	r := chi.NewRouter()
	NewHandler(fx.svc, hub, nil).Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts, fx, hub
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandlerCreateAndConflict(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/bookings", fields("room-1", "pat-ana", at(9, 0), at(10, 0)), map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[booking.Booking](t, resp)
	assert.Equal(t, booking.StatusScheduled, created.Status)

	resp = postJSON(t, ts.URL+"/bookings", fields("room-1", "pat-luis", at(9, 30), at(10, 30)), nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	env := decode[booking.ErrorResponse](t, resp)
	assert.Equal(t, booking.CodeConflict, env.Code)
	require.NotNil(t, env.ConflictingBooking)
	assert.Equal(t, created.ID, env.ConflictingBooking.BookingID)
	assert.Equal(t, "Ana Torres", env.ConflictingBooking.Subject)
	assert.True(t, env.ConflictingBooking.Start.Equal(at(9, 0)))
}

func TestHandlerValidationEnvelope(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/bookings", fields("room-1", "pat-ana", at(10, 0), at(9, 0)), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decode[booking.ErrorResponse](t, resp)
	assert.Equal(t, booking.CodeValidation, env.Code)
	assert.Equal(t, "end", env.Field)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/bookings", strings.NewReader("{not json"))
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestHandlerLifecycle(t *testing.T) {
	ts, fx, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/bookings", fields("room-1", "pat-ana", at(9, 0), at(10, 0)), nil)
	created := decode[booking.Booking](t, resp)

	resp = postJSON(t, ts.URL+"/bookings/"+created.ID+"/complete", nil, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "not started yet")

	fx.clock.Set(at(9, 5))
	resp = postJSON(t, ts.URL+"/bookings/"+created.ID+"/complete", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/bookings/"+created.ID+"/cancel", booking.CancelRequest{}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	env := decode[booking.ErrorResponse](t, resp)
	assert.Equal(t, booking.CodeInvalidTransition, env.Code)
	assert.Equal(t, booking.StatusCompleted, env.Status)

	resp = postJSON(t, ts.URL+"/bookings/missing/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerCancelWithoutBody(t *testing.T) {
	ts, _, _ := newTestServer(t)
	created := decode[booking.Booking](t, postJSON(t, ts.URL+"/bookings", fields("room-1", "pat-ana", at(9, 0), at(10, 0)), nil))

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/bookings/"+created.ID+"/cancel", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[booking.Booking](t, resp)
	assert.Equal(t, booking.DefaultCancelReason, got.CancellationReason)
}

func TestHandlerUpdateAndList(t *testing.T) {
	ts, _, _ := newTestServer(t)
	created := decode[booking.Booking](t, postJSON(t, ts.URL+"/bookings", fields("room-1", "pat-ana", at(9, 0), at(10, 0)), nil))

	body, _ := json.Marshal(fields("room-1", "pat-ana", at(11, 0), at(12, 0)))
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/bookings/"+created.ID, bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	q := "?start=" + at(0, 0).Format(time.RFC3339) + "&end=" + at(23, 0).Format(time.RFC3339) + "&resource_id=room-1"
	listResp, err := http.Get(ts.URL + "/bookings" + strings.ReplaceAll(q, "+", "%2B"))
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	list := decode[booking.ListResponse](t, listResp)
	require.Len(t, list.Bookings, 1)
	assert.True(t, list.Bookings[0].Start.Equal(at(11, 0)))

	missing, err := http.Get(ts.URL + "/bookings?end=" + at(23, 0).UTC().Format(time.RFC3339))
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusBadRequest, missing.StatusCode)
}

func TestHandlerListStatusFilter(t *testing.T) {
	ts, fx, _ := newTestServer(t)
	ctx := context.Background()
	kept, err := fx.svc.Create(ctx, fields("room-1", "pat-ana", at(9, 0), at(10, 0)), "")
	require.NoError(t, err)
	dropped, err := fx.svc.Create(ctx, fields("room-1", "pat-luis", at(11, 0), at(12, 0)), "")
	require.NoError(t, err)
	_, err = fx.svc.Cancel(ctx, dropped.ID, "")
	require.NoError(t, err)

	list := func(extra string) *http.Response {
		q := "?start=" + at(0, 0).Format(time.RFC3339Nano) + "&end=" + at(23, 0).Add(500*time.Millisecond).Format(time.RFC3339Nano) + extra
		resp, err := http.Get(ts.URL + "/bookings" + strings.ReplaceAll(q, "+", "%2B"))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := list("&status=cancelled")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[booking.ListResponse](t, resp)
	require.Len(t, got.Bookings, 1)
	assert.Equal(t, dropped.ID, got.Bookings[0].ID)

	resp = list("&status=scheduled&include_cancelled=true")
	got = decode[booking.ListResponse](t, resp)
	require.Len(t, got.Bookings, 1)
	assert.Equal(t, kept.ID, got.Bookings[0].ID)

	resp = list("&status=archived")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerAvailability(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/availability?resource_id=room-1&date=2026-03-02&duration=60")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	avail := decode[booking.Availability](t, resp)
	assert.Equal(t, 60, avail.DurationMinutes)
	assert.Equal(t, 23, avail.TotalAvailable)

	bad, err := http.Get(ts.URL + "/availability?resource_id=room-1&date=03/02/2026")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHubStreamsChanges(t *testing.T) {
	ts, _, hub := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/bookings/stream?resource_id=room-1"
	conn, err := websocket.Dial(wsURL, "", ts.URL)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	postJSON(t, ts.URL+"/bookings", fields("room-2", "pat-luis", at(9, 0), at(10, 0)), nil)
	created := decode[booking.Booking](t, postJSON(t, ts.URL+"/bookings", fields("room-1", "pat-ana", at(9, 0), at(10, 0)), nil))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt booking.ChangeEvent
	require.NoError(t, websocket.JSON.Receive(conn, &evt))
	assert.Equal(t, created.ID, evt.BookingID, "room-2 events are filtered out")
	assert.Equal(t, booking.ChangeCreated, evt.Type)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
