package cmd

import (
	"os"
	"os/signal"

	"github.com/killallgit/chatstream/pkg/config"
	"github.com/killallgit/chatstream/pkg/headless"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Show a recorded response stream",
	Long: `Replay a recorded response, one JSON event per line, with the same
reveal pacing as a live response. Use "-" to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return headless.ReplayFile(ctx, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr(), headless.OptionsFromConfig(config.Get()))
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
