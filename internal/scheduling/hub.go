package scheduling

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

const subscriberBuffer = 32

// Hub pushes change events to websocket subscribers. It implements
// events.Publisher.
type Hub struct {
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	resourceID string
	events     chan booking.ChangeEvent
}

func NewHub(logger *logging.Logger, m *metrics.SchedulingMetrics) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{logger: logger, metrics: m, subs: make(map[*subscriber]struct{})}
}

// Publish fans evt out. Slow subscribers drop events rather than block writers.
func (h *Hub) Publish(ctx context.Context, evt booking.ChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.resourceID != "" && sub.resourceID != evt.ResourceID {
			continue
		}
		select {
		case sub.events <- evt:
		default:
			h.logger.Warn("booking feed subscriber lagging, event dropped", "event_id", evt.ID, "resource_id", sub.resourceID)
		}
	}
	return nil
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add(resourceID string) *subscriber {
	sub := &subscriber{resourceID: resourceID, events: make(chan booking.ChangeEvent, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.FeedClientDelta(1)
	return sub
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	h.metrics.FeedClientDelta(-1)
}

// HandleStream upgrades to a websocket and streams events, optionally
// filtered by the resource_id query parameter.
func (h *Hub) HandleStream(w http.ResponseWriter, r *http.Request) {
	server := websocket.Server{
		// Non-browser clients send no Origin; CORS is enforced by middleware.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			h.serveWS(conn, r)
		},
	}
	server.ServeHTTP(w, r)
}

func (h *Hub) serveWS(conn *websocket.Conn, r *http.Request) {
	defer conn.Close()
	sub := h.add(r.URL.Query().Get("resource_id"))
	defer h.remove(sub)

	// The client never sends anything meaningful; a failed read means it left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		var discard []byte
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case evt := <-sub.events:
			if err := websocket.JSON.Send(conn, evt); err != nil {
				h.logger.Debug("booking feed send failed", "error", err)
				return
			}
		}
	}
}
