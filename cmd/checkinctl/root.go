package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"checkin_messenger/internal/adapters/observability"
	"checkin_messenger/internal/bootstrap"
	"checkin_messenger/internal/shared"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "checkinctl",
		Short:         "Operator tool for check-in messaging: run dispatch, send one message, broadcast",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newDispatchCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newBulkCmd())

	return root
}

// withApp loads config, opens the adapters and runs fn with a context that
// is canceled on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, a *bootstrap.App) error) error {
	cfg := shared.Load()
	log.Logger = observability.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
