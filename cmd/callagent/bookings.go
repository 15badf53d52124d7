package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/chriscow/livekit-call-agent/pkg/finalize"
)

var bookingsCmd = &cobra.Command{
	Use:   "bookings",
	Short: "Manage calendar bookings",
}

var bookingsCancelCmd = &cobra.Command{
	Use:   "cancel <uid>",
	Short: "Cancel a booking and notify the owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Logging)
		reason, _ := cmd.Flags().GetString("reason")
		phone, _ := cmd.Flags().GetString("phone")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		svc, err := openServices(ctx, cfg, false, logger)
		if err != nil {
			return err
		}
		defer svc.Close()
		if svc.calendar == nil {
			return errors.New("calendar.api_key (CAL_API_KEY) is required")
		}

		uid := args[0]
		if err := svc.calendar.CancelBooking(ctx, uid, reason); err != nil {
			return fmt.Errorf("cancel booking %s: %w", uid, err)
		}
		logger.Info("Booking cancelled", slog.String("booking_id", uid))

		if svc.notifier != nil {
			err := svc.notifier.Notify(ctx, finalize.Notification{
				Kind:      finalize.BookingCancelled,
				Phone:     phone,
				BookingID: uid,
				Reason:    reason,
			})
			if err != nil {
				logger.Warn("Failed to send cancellation notice", slog.String("error", err.Error()))
			}
		}
		fmt.Printf("Cancelled %s\n", uid)
		return nil
	},
}

func init() {
	bookingsCancelCmd.Flags().String("reason", "", "Cancellation reason sent to Cal.com")
	bookingsCancelCmd.Flags().String("phone", "", "Caller number, included in the notification")
	bookingsCancelCmd.Flags().Duration("timeout", 30*time.Second, "Overall timeout")

	bookingsCmd.AddCommand(bookingsCancelCmd)
}
