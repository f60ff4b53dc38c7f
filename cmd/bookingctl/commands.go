package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

func newListCommand(connect connectFunc) *cobra.Command {
	var start, end, resource, status string
	var includeCancelled bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bookings overlapping a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect()
			if err != nil {
				return err
			}
			from, err := parseTime("start", start)
			if err != nil {
				return err
			}
			to, err := parseTime("end", end)
			if err != nil {
				return err
			}
			items, err := s.coord.FetchWindow(cmd.Context(), booking.Window{
				Start:            from,
				End:              to,
				ResourceID:       resource,
				IncludeCancelled: includeCancelled,
				Status:           booking.Status(status),
			})
			if err != nil {
				return err
			}
			return writeJSON(s.out, booking.ListResponse{Bookings: items, Count: len(items)})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC3339)")
	cmd.Flags().StringVar(&resource, "resource", "", "resource id filter")
	cmd.Flags().BoolVar(&includeCancelled, "include-cancelled", false, "include cancelled bookings")
	cmd.Flags().StringVar(&status, "status", "", "only bookings in this status")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newAvailabilityCommand(connect connectFunc) *cobra.Command {
	var resource, date string
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Show free slots for a resource on one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect()
			if err != nil {
				return err
			}
			day, err := time.Parse("2006-01-02", date)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}
			avail, err := s.coord.FetchAvailability(cmd.Context(), resource, day, duration)
			if err != nil {
				return err
			}
			return writeJSON(s.out, avail)
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "resource id")
	cmd.Flags().StringVar(&date, "date", "", "day (YYYY-MM-DD)")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Minute, "slot length")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func bindFields(cmd *cobra.Command, f *fieldFlags) {
	cmd.Flags().StringVar(&f.resource, "resource", "", "resource id")
	cmd.Flags().StringVar(&f.subject, "subject", "", "subject id")
	cmd.Flags().StringVar(&f.service, "service", "", "service id")
	cmd.Flags().StringVar(&f.start, "start", "", "start (RFC3339)")
	cmd.Flags().StringVar(&f.end, "end", "", "end (RFC3339)")
	cmd.Flags().StringVar(&f.notes, "notes", "", "free-form notes")
}

type fieldFlags struct {
	resource, subject, service, start, end, notes string
}

func (f fieldFlags) fields() (booking.Fields, error) {
	start, err := parseTime("start", f.start)
	if err != nil {
		return booking.Fields{}, err
	}
	end, err := parseTime("end", f.end)
	if err != nil {
		return booking.Fields{}, err
	}
	return booking.Fields{
		ResourceID: f.resource,
		SubjectID:  f.subject,
		ServiceID:  f.service,
		Start:      start,
		End:        end,
		Notes:      f.notes,
	}, nil
}

func newCreateCommand(connect connectFunc) *cobra.Command {
	var f fieldFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect()
			if err != nil {
				return err
			}
			fields, err := f.fields()
			if err != nil {
				return err
			}
			return s.report(s.coord.ProposeCreate(cmd.Context(), fields))
		},
	}
	bindFields(cmd, &f)
	return cmd
}

func newMoveCommand(connect connectFunc) *cobra.Command {
	var id, start, end string

	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move a booking to a new start and end",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect()
			if err != nil {
				return err
			}
			from, err := parseTime("start", start)
			if err != nil {
				return err
			}
			to, err := parseTime("end", end)
			if err != nil {
				return err
			}
			if err := s.load(cmd, id); err != nil {
				return err
			}
			return s.report(s.coord.ProposeMove(cmd.Context(), id, from, to))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "booking id")
	cmd.Flags().StringVar(&start, "start", "", "new start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "new end (RFC3339)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newCompleteCommand(connect connectFunc) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark a started booking as completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect()
			if err != nil {
				return err
			}
			if err := s.load(cmd, id); err != nil {
				return err
			}
			return s.report(s.coord.ProposeComplete(cmd.Context(), id))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "booking id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newCancelCommand(connect connectFunc) *cobra.Command {
	var id, reason string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a scheduled booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect()
			if err != nil {
				return err
			}
			if err := s.load(cmd, id); err != nil {
				return err
			}
			return s.report(s.coord.ProposeCancel(cmd.Context(), id, reason))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "booking id")
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newWatchCommand(connect connectFunc) *cobra.Command {
	var resource, start, end string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream booking changes for a window until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect()
			if err != nil {
				return err
			}
			from, err := parseTime("start", start)
			if err != nil {
				return err
			}
			to, err := parseTime("end", end)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if _, err := s.coord.FetchWindow(ctx, booking.Window{Start: from, End: to, ResourceID: resource}); err != nil {
				return err
			}
			feed, err := s.client.NewFeed()
			if err != nil {
				return err
			}
			incoming, err := feed.Subscribe(ctx, resource)
			if err != nil {
				return err
			}

			forward := make(chan booking.ChangeEvent)
			done := make(chan struct{})
			go func() {
				defer close(done)
				s.coord.Watch(ctx, forward)
			}()
			for evt := range incoming {
				if err := writeJSON(s.out, evt); err != nil {
					close(forward)
					<-done
					return err
				}
				select {
				case forward <- evt:
				case <-ctx.Done():
				}
			}
			close(forward)
			<-done

			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return writeJSON(s.out, booking.ListResponse{Bookings: s.coord.View().Snapshot(), Count: s.coord.View().Len()})
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "resource id filter")
	cmd.Flags().StringVar(&start, "start", "", "window start (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "window end (RFC3339)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}
