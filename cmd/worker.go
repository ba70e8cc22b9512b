package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deltadrift/internal/bootstrap"
	"deltadrift/internal/bootstrap/logging"
	"deltadrift/internal/errs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker runtime commands",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the drift analysis worker pool",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svcs bootstrap.Services) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))
		logging.Info(ctx, "starting analysis workers")

		if err := svcs.Runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error(ctx, "worker pool failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "run workers")
		}

		logging.Info(ctx, "analysis workers stopped")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerRunCmd)
}
