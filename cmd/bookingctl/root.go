package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/bookingclient"
	"github.com/wolfman30/clinic-booking/internal/calendar"
	appconfig "github.com/wolfman30/clinic-booking/internal/config"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

type globalOptions struct {
	baseURL  string
	timeout  time.Duration
	retries  int
	logLevel string
}

// session holds the per-invocation client stack.
type session struct {
	client *bookingclient.Client
	coord  *calendar.Coordinator
	logger *logging.Logger
	out    io.Writer
}

func newRootCommand(out io.Writer) *cobra.Command {
	cfg := appconfig.Load()
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Inspect and change clinic bookings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", cfg.BookingAPIBaseURL, "booking API base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", cfg.BookingRequestTimeout, "per-request timeout")
	root.PersistentFlags().IntVar(&opts.retries, "retries", cfg.BookingListMaxRetries, "retries for read requests")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	connect := func() (*session, error) {
		logger := logging.NewWithWriter(root.ErrOrStderr(), opts.logLevel)
		client, err := bookingclient.New(bookingclient.Config{
			BaseURL:    opts.baseURL,
			Timeout:    opts.timeout,
			MaxRetries: opts.retries,
			Backoff:    cfg.BookingRetryBackoff,
			Logger:     logger,
			UserAgent:  "bookingctl",
		})
		if err != nil {
			return nil, err
		}
		coord, err := calendar.New(calendar.Config{Backend: client, Logger: logger})
		if err != nil {
			return nil, err
		}
		return &session{client: client, coord: coord, logger: logger, out: root.OutOrStdout()}, nil
	}

	root.AddCommand(
		newListCommand(connect),
		newAvailabilityCommand(connect),
		newCreateCommand(connect),
		newMoveCommand(connect),
		newCompleteCommand(connect),
		newCancelCommand(connect),
		newWatchCommand(connect),
	)
	return root
}

type connectFunc func() (*session, error)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type outcomeReport struct {
	Op        calendar.Op       `json:"op"`
	OK        bool              `json:"ok"`
	Kind      booking.Kind      `json:"kind,omitempty"`
	BookingID string            `json:"booking_id,omitempty"`
	Booking   *booking.Booking  `json:"booking,omitempty"`
	Conflict  *booking.Conflict `json:"conflicting_booking,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// report prints o and turns a refusal into a command error.
func (s *session) report(o calendar.Outcome) error {
	r := outcomeReport{
		Op:        o.Op,
		OK:        o.OK(),
		Kind:      o.Kind,
		BookingID: o.BookingID,
		Booking:   o.Booking,
		Conflict:  o.Conflict,
		Retryable: o.Retryable(),
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	if err := writeJSON(s.out, r); err != nil {
		return err
	}
	if !o.OK() {
		return fmt.Errorf("%s refused: %s", o.Op, o.Kind)
	}
	return nil
}

func parseTime(flag, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be RFC3339: %w", flag, err)
	}
	return t, nil
}

// dayWindow covers the UTC day b starts on, including cancelled bookings so
// closed ones are refused locally.
func dayWindow(b booking.Booking) booking.Window {
	start := b.Start.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	if b.End.After(end) {
		end = b.End.UTC()
	}
	return booking.Window{Start: start, End: end, ResourceID: b.ResourceID, IncludeCancelled: true}
}

// load caches the day around booking id so proposals act on fresh state.
func (s *session) load(cmd *cobra.Command, id string) error {
	b, err := s.client.GetBooking(cmd.Context(), id)
	if err != nil {
		return err
	}
	_, err = s.coord.FetchWindow(cmd.Context(), dayWindow(*b))
	return err
}
