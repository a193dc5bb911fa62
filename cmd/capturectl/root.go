package main

import (
	"os"

	"github.com/david/govcapture/internal/app"
	"github.com/david/govcapture/internal/config"
	"github.com/spf13/cobra"
)

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "capturectl",
		Short:        "Operate the capture engine: audit ledger, follow-ups and autonomy policy",
		SilenceUsage: true,
	}

	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newFollowUpsCmd())
	cmd.AddCommand(newAutonomyCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.Version = version
	if cmd.Version == "" {
		cmd.Version = "dev"
	}
	return cmd
}

// openApp connects to the database named by DATABASE_URL. The CLI never
// falls back to in-memory state.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, true)
}
