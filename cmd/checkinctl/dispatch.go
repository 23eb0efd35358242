package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"checkin_messenger/internal/app"
	"checkin_messenger/internal/bootstrap"
	"checkin_messenger/internal/domain"
)

func newDispatchCmd() *cobra.Command {
	var (
		date         string
		onlyAutoSend bool
	)
	c := &cobra.Command{
		Use:   "dispatch",
		Short: "Send check-in messages for every room with a check-in on the date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *bootstrap.App) error {
				d := date
				if d == "" {
					d = app.Today(time.Now(), a.Loc)
				}
				sum, err := a.Dispatch.RunDispatch(ctx, d, app.DispatchOptions{OnlyAutoSend: onlyAutoSend})
				if sum.Sent > 0 {
					invalidate(ctx, a)
				}
				if sum.RunID != "" {
					if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	c.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (default: today in TIMEZONE)")
	c.Flags().BoolVar(&onlyAutoSend, "only-auto-send", false, "skip rooms with auto_send disabled")
	return c
}

func newSendCmd() *cobra.Command {
	var req app.ManualRequest
	c := &cobra.Command{
		Use:   "send",
		Short: "Send the check-in message for one room",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *bootstrap.App) error {
				if req.Date == "" {
					req.Date = app.Today(time.Now(), a.Loc)
				}
				rec, err := a.Dispatch.SendManual(ctx, req)
				if err != nil {
					return err
				}
				if rec.Status == domain.StatusSent {
					invalidate(ctx, a)
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	c.Flags().Int64Var(&req.RoomID, "room-id", 0, "room id")
	c.Flags().StringVar(&req.ReservationID, "reservation-id", "", "reservation id (empty: first check-in from the room calendar)")
	c.Flags().StringVar(&req.GuestName, "guest", "", "guest name")
	c.Flags().StringVar(&req.Phone, "phone", "", "destination phone")
	c.Flags().StringVar(&req.TemplateName, "template", "", "template override")
	c.Flags().StringVar(&req.Date, "date", "", "date YYYY-MM-DD (default: today in TIMEZONE)")
	_ = c.MarkFlagRequired("room-id")
	return c
}

// invalidate drops the API's cached message history so new sends show up.
func invalidate(ctx context.Context, a *bootstrap.App) {
	if err := a.Messages.Invalidate(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("message cache invalidation failed")
	}
}
