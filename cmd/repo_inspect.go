package cmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"deltadrift/internal/bootstrap"
	"deltadrift/internal/bootstrap/logging"
	"deltadrift/internal/domain/drift"
	"deltadrift/internal/errs"
)

// repoInspectCmd fetches live repository metadata through an installation's
// credentials, mainly to verify app configuration against a real account.
var repoInspectCmd = &cobra.Command{
	Use:   "repo-inspect <installation-id> <owner/name>",
	Short: "Fetch repository metadata via an app installation",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svcs bootstrap.Services) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		installationID, err := strconv.ParseInt(cmd.Flags().Args()[0], 10, 64)
		if err != nil {
			return errs.Wrap(err, "parse installation id")
		}

		owner, name, err := drift.SplitFullName(cmd.Flags().Args()[1])
		if err != nil {
			return err
		}

		summary, err := svcs.GitHub.FetchRepoSummary(ctx, installationID, owner, name)
		if err != nil {
			logging.Error(ctx, "repository fetch failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "fetch repository")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "name:        %s\n", summary.Name)
		fmt.Fprintf(out, "description: %s\n", summary.Description)
		fmt.Fprintf(out, "language:    %s\n", summary.Language)
		fmt.Fprintf(out, "stars:       %d\n", summary.Stars)
		fmt.Fprintf(out, "forks:       %d\n", summary.Forks)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(repoInspectCmd)
}
