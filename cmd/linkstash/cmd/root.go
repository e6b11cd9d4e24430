package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"linkstash/internal/config"
)

var (
	configPath string
	cfg        config.Config
	log        = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "linkstash",
	Short: "Save links and enrich them with page metadata",
	Long: `linkstash captures URLs from free-form text, stores them as bookmarks and fetches
each page's title, description and preview image in the background.

Run "linkstash serve" for the Telegram bot and background enrichment, or use the
other commands to manage the store directly. The store can only be opened by one
process at a time.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("error loading configuration: %w", err)
		}

		log.SetFormatter(&logrus.JSONFormatter{})
		log.SetOutput(os.Stderr)
		log.SetLevel(cfg.Level())
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs", "directory containing config.yaml")
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}
