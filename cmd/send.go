package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/killallgit/chatstream/pkg/chat"
	"github.com/killallgit/chatstream/pkg/config"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send [prompt]",
	Short: "Send a prompt and stream the response",
	Long: `Send a prompt to the configured backend and print the response as it
streams. Ctrl-C stops the generation.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, _ := cmd.Flags().GetString("prompt")
		if prompt == "" {
			prompt = strings.Join(args, " ")
		}
		if strings.TrimSpace(prompt) == "" {
			return fmt.Errorf("a prompt is required, pass it as an argument or with --prompt")
		}

		cfg := config.Get()
		client, err := chat.NewClientFromConfig(cfg.Backend)
		if err != nil {
			return err
		}

		appCfg := &AppConfig{Config: cfg, Prompt: prompt}
		appCfg.SessionID, _ = cmd.Flags().GetString("session")
		appCfg.Model, _ = cmd.Flags().GetString("model")
		appCfg.ForceToolID, _ = cmd.Flags().GetInt("tool")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return RunApplication(ctx, appCfg, client, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	sendCmd.Flags().StringP("prompt", "p", "", "prompt to send")
	sendCmd.Flags().StringP("session", "s", "", "chat session id (a new one is created when empty)")
	sendCmd.Flags().StringP("model", "m", "", "override the model version for this prompt")
	sendCmd.Flags().Int("tool", 0, "force the tool with this id")
	rootCmd.AddCommand(sendCmd)
}
