// Package bookingclient talks JSON/HTTP to the scheduling backend and maps its
// responses onto the booking error taxonomy.
package bookingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultBackoff   = 250 * time.Millisecond
	defaultUserAgent = "clinic-booking-client/0.1"

	// IdempotencyHeader carries the per-submission key of a create request.
	IdempotencyHeader = "Idempotency-Key"
)

// Config controls how the client behaves.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.ClientMetrics
	UserAgent  string
}

// Client wraps the scheduling backend REST endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
	metrics    *metrics.ClientMetrics
	userAgent  string
}

// New creates a configured Client. MaxRetries applies to idempotent reads only;
// mutations are sent exactly once.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("bookingclient: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("bookingclient: parse base URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		metrics:    cfg.Metrics,
		userAgent:  userAgent,
	}, nil
}

// BaseURL returns the normalized backend URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ListBookings returns every booking intersecting the window.
func (c *Client) ListBookings(ctx context.Context, w booking.Window) ([]booking.Booking, error) {
	if err := w.Validate(); err != nil {
		return nil, &booking.ValidationError{Field: "window", Reason: err.Error()}
	}
	q := url.Values{}
	q.Set("start", w.Start.Format(time.RFC3339Nano))
	q.Set("end", w.End.Format(time.RFC3339Nano))
	if w.ResourceID != "" {
		q.Set("resource_id", w.ResourceID)
	}
	if w.IncludeCancelled {
		q.Set("include_cancelled", "true")
	}
	if w.Status != "" {
		q.Set("status", string(w.Status))
	}
	var out booking.ListResponse
	if err := c.invoke(ctx, request{op: "list", method: http.MethodGet, path: "/bookings", query: q, idempotent: true}, &out); err != nil {
		return nil, err
	}
	return out.Bookings, nil
}

// GetBooking loads one booking.
func (c *Client) GetBooking(ctx context.Context, id string) (*booking.Booking, error) {
	var out booking.Booking
	if err := c.invoke(ctx, request{op: "get", method: http.MethodGet, path: "/bookings/" + url.PathEscape(id), bookingID: id, idempotent: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBooking submits a candidate. idempotencyKey identifies this submission
// so the backend can return the original booking for a duplicate delivery.
func (c *Client) CreateBooking(ctx context.Context, f booking.Fields, idempotencyKey string) (*booking.Booking, error) {
	headers := http.Header{}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		headers.Set(IdempotencyHeader, key)
	}
	var out booking.Booking
	if err := c.invoke(ctx, request{op: "create", method: http.MethodPost, path: "/bookings", body: f, headers: headers}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateBooking replaces every client-controlled field of a booking.
func (c *Client) UpdateBooking(ctx context.Context, id string, f booking.Fields) (*booking.Booking, error) {
	var out booking.Booking
	if err := c.invoke(ctx, request{op: "update", method: http.MethodPut, path: "/bookings/" + url.PathEscape(id), bookingID: id, body: f}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteBooking marks a booking completed.
func (c *Client) CompleteBooking(ctx context.Context, id string) (*booking.Booking, error) {
	var out booking.Booking
	if err := c.invoke(ctx, request{op: "complete", method: http.MethodPost, path: "/bookings/" + url.PathEscape(id) + "/complete", bookingID: id, to: booking.StatusCompleted}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelBooking cancels a booking. A blank reason is sent as
// booking.DefaultCancelReason.
func (c *Client) CancelBooking(ctx context.Context, id, reason string) (*booking.Booking, error) {
	body := booking.CancelRequest{Reason: booking.CancelReason(reason)}
	var out booking.Booking
	if err := c.invoke(ctx, request{op: "cancel", method: http.MethodPost, path: "/bookings/" + url.PathEscape(id) + "/cancel", bookingID: id, body: body, to: booking.StatusCancelled}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Availability lists free slots of a resource on the given day.
func (c *Client) Availability(ctx context.Context, resourceID string, day time.Time, duration time.Duration) (*booking.Availability, error) {
	if strings.TrimSpace(resourceID) == "" {
		return nil, &booking.ValidationError{Field: "resource_id", Reason: "is required"}
	}
	q := url.Values{}
	q.Set("resource_id", resourceID)
	q.Set("date", day.Format("2006-01-02"))
	if duration > 0 {
		q.Set("duration", strconv.Itoa(int(duration/time.Minute)))
	}
	var out booking.Availability
	if err := c.invoke(ctx, request{op: "availability", method: http.MethodGet, path: "/availability", query: q, idempotent: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type request struct {
	op         string
	method     string
	path       string
	query      url.Values
	body       any
	headers    http.Header
	bookingID  string
	to         booking.Status
	idempotent bool
}

func (c *Client) invoke(ctx context.Context, req request, out any) error {
	var payload []byte
	if req.body != nil {
		var err error
		payload, err = json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("bookingclient: marshal %s body: %w", req.op, err)
		}
	}
	fullURL := c.buildURL(req.path, req.query)

	attempts := 0
	if req.idempotent {
		attempts = c.maxRetries
	}
	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		status, data, err := c.do(ctx, req, fullURL, payload)
		if err != nil {
			netErr := &booking.NetworkError{Op: req.op, Err: err}
			if ctx.Err() != nil || attempt == attempts {
				return netErr
			}
			lastErr = netErr
			c.logRetry(req, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return &booking.NetworkError{Op: req.op, Err: sleepErr}
			}
			continue
		}
		if status >= 200 && status < 300 {
			if out == nil || len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("bookingclient: decode %s response: %w", req.op, err)
			}
			return nil
		}
		apiErr := decodeAPIError(req, status, data)
		if attempt < attempts && shouldRetry(status) {
			lastErr = apiErr
			c.logRetry(req, attempt, status, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return &booking.NetworkError{Op: req.op, Err: sleepErr}
			}
			continue
		}
		c.logRejection(req, status, data)
		return apiErr
	}
	if lastErr != nil {
		return lastErr
	}
	return &booking.NetworkError{Op: req.op, Err: errors.New("request failed without response")}
}

func (c *Client) do(ctx context.Context, req request, fullURL string, payload []byte) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, fullURL, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, values := range req.headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRequest(req.op, "error", time.Since(start).Seconds())
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	c.metrics.ObserveRequest(req.op, strconv.Itoa(resp.StatusCode), time.Since(start).Seconds())
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(req request, attempt int, status int, err error) {
	c.metrics.ObserveRetry(req.op)
	c.logger.Warn("scheduling backend retry",
		"op", req.op,
		"path", req.path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func (c *Client) logRejection(req request, status int, data []byte) {
	msg := string(data)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	c.logger.Warn("scheduling backend non-2xx response", "op", req.op, "status", status, "path", req.path, "body", msg)
}

func shouldRetry(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}
