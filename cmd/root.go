package cmd

import (
	"fmt"
	"os"

	"github.com/killallgit/chatstream/pkg/config"
	"github.com/killallgit/chatstream/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "chatstream",
	Short: "Terminal client for streaming chat backends",
	Long: `Send prompts to a chat backend and follow the streamed answer,
tool calls and parallel branches included, as it unfolds in the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.chatstream/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("backend-url", "", "chat backend base URL")
	viper.BindPFlag("backend.url", rootCmd.PersistentFlags().Lookup("backend-url"))

	rootCmd.PersistentFlags().Bool("animate", true, "reveal responses progressively")
	viper.BindPFlag("stream.animate", rootCmd.PersistentFlags().Lookup("animate"))

	rootCmd.PersistentFlags().Bool("color", true, "colorize output")
	viper.BindPFlag("render.color", rootCmd.PersistentFlags().Lookup("color"))
}

func initConfig() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Init(); err != nil {
		return err
	}
	if used := config.GetConfigFileUsed(); used != "" {
		logger.Debug("Using config file: %s", used)
	}
	logger.Debug("Backend: %s", cfg.Backend.URL)
	return nil
}
