package cli

import (
	"github.com/spf13/cobra"

	"cdpwatch/internal/config"
	"cdpwatch/internal/logger"
)

var (
	flagConfig   string
	flagLogLevel string

	cfg *config.Config
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cdpwatch",
	Short: "cdpwatch - observe browser responses over the DevTools protocol",
	Long: `cdpwatch drives a Chrome/Chromium page, subscribes to network responses
by URL pattern, status and content-type, and decodes gRPC-Web trailers.

Quick start:
  cdpwatch watch --url https://example.com --domain example.com --path /api --content-type application/json
  cdpwatch watch --url https://example.com --rule-file rules.yaml --db captures.sqlite3
  cdpwatch find --url https://example.com --selector ".item"
  cdpwatch decode body.txt`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagLogLevel != "" {
			c.Log.Level = flagLogLevel
		}
		cfg = c
		log = newLogger(c)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(decodeCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

func SetVersion(v string) {
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("cdpwatch version {{.Version}}\n")
}

func newLogger(c *config.Config) logger.Logger {
	return logger.New(logger.Options{
		Level:  c.Log.Level,
		Writer: c.Log.Writer,
		File:   c.Log.File,
	})
}
