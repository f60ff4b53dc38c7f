package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-booking/cmd/mainconfig"
	appconfig "github.com/wolfman30/clinic-booking/internal/config"
	"github.com/wolfman30/clinic-booking/internal/events"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// EventWiring is what the API needs to fan out booking lifecycle events.
type EventWiring struct {
	// Publisher is handed to the scheduling service.
	Publisher events.Publisher
	// Deliverer drains the outbox; nil without Postgres.
	Deliverer *events.Deliverer
}

// BuildEvents wires lifecycle fan-out. Live subscribers always get events
// directly. The external sink (SQS when a queue is configured, the log
// otherwise) is fed from the outbox when Postgres is in use and
// synchronously when it is not.
func BuildEvents(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, live events.Publisher, logger *logging.Logger) (EventWiring, error) {
	if cfg == nil {
		return EventWiring{}, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var sink events.Publisher = events.NewLogPublisher(logger)
	if queueURL := strings.TrimSpace(cfg.BookingEventsQueueURL); queueURL != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return EventWiring{}, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		sink = events.NewSQSPublisher(mainconfig.NewSQSClient(awsCfg, cfg), queueURL)
		logger.Info("booking events routed to sqs", "queue_url", queueURL)
	}

	if pool != nil {
		return EventWiring{
			Publisher: live,
			Deliverer: events.NewDeliverer(events.NewOutboxStore(pool), sink, logger),
		}, nil
	}
	return EventWiring{Publisher: events.Multi{live, sink}}, nil
}
