package cli

import (
	"os"

	"github.com/spf13/cobra"

	"cronhost/internal/config"
	logx "cronhost/pkg/logx"
)

var (
	flagConfig   string
	flagLogLevel string

	logger logx.Logger
)

// defaultConfig returns the config path, checking CRONHOST_CONFIG first.
func defaultConfig() string {
	if s := os.Getenv("CRONHOST_CONFIG"); s != "" {
		return s
	}
	return "./cronhost.yaml"
}

// NewRootCmd creates the root cobra command for the cronhost CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cronhost",
		Short: "cronhost runs scheduled and long-lived jobs",
		Long:  "cronhost hosts recurring jobs on cron schedules and basic jobs started once at boot.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logx.NewConsole(flagLogLevel)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfig(), "config file, JSON or YAML (or CRONHOST_CONFIG env)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "CLI log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newNextCmd(),
		newRunsCmd(),
	)

	return root
}

func loadConfig() (*config.Config, error) {
	m := config.NewConfigManager(flagConfig)
	m.SetLogger(logger)
	return m.Load()
}
