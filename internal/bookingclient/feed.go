package bookingclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Feed subscribes to the backend change stream.
type Feed struct {
	url    string
	origin string
	dialer *websocket.Dialer
	logger *logging.Logger
}

// NewFeed derives the websocket endpoint from the client's base URL.
func (c *Client) NewFeed() (*Feed, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("bookingclient: parse base URL: %w", err)
	}
	origin := u.Scheme + "://" + u.Host
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/bookings/stream"
	return &Feed{url: u.String(), origin: origin, dialer: websocket.DefaultDialer, logger: c.logger}, nil
}

// Subscribe opens the stream and delivers change events until ctx is cancelled
// or the connection drops. The returned channel is closed on exit.
func (f *Feed) Subscribe(ctx context.Context, resourceID string) (<-chan booking.ChangeEvent, error) {
	target := f.url
	if resourceID != "" {
		target += "?" + url.Values{"resource_id": {resourceID}}.Encode()
	}
	header := http.Header{}
	header.Set("User-Agent", defaultUserAgent)
	header.Set("Origin", f.origin)
	conn, resp, err := f.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, &booking.NetworkError{Op: "subscribe", StatusCode: resp.StatusCode, Err: err}
		}
		return nil, &booking.NetworkError{Op: "subscribe", Err: err}
	}

	events := make(chan booking.ChangeEvent, 16)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()
	go func() {
		defer close(events)
		defer close(done)
		for {
			var evt booking.ChangeEvent
			if err := conn.ReadJSON(&evt); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					f.logger.Warn("booking feed closed", "error", err)
				}
				return
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
