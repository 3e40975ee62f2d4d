package commands

import (
	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll every scheduled domain once and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, d, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer d.Close()

		return d.Engine().RunOnce(ctx)
	},
}
