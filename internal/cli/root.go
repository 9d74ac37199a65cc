package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/PeerHerholz/neuroscout/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking NEUROSCOUT_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("NEUROSCOUT_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the neuroscout CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "neuroscout",
		Short: "neuroscout job queue client",
		Long:  "Enqueue, inspect and cancel neuroscout jobs: analysis bundles, design matrix reports and NeuroVault uploads.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "neuroscout server URL (or NEUROSCOUT_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newSubmitCmd(),
		newStatusCmd(),
		newResultCmd(),
		newListCmd(),
		newCancelCmd(),
		newWorkersCmd(),
	)

	return root
}
