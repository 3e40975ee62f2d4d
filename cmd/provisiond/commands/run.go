package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the auto-provisioning engine and metrics endpoint",
	Long: `Run polls the scheduled domains for new external accounts and serves
/healthz, /readyz and /metrics until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctx, d, err := setup(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		return d.Run(ctx)
	},
}
