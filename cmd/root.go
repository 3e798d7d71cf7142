// Package cmd implements the flowbridge CLI using the cobra framework.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"flowbridge.dev/flowbridge/internal/engine"

	// Adapter packages register themselves into the broker registry via
	// init(); importing for side effect is what makes "type: kafka" or
	// "type: mock" in config resolvable without the core depending on any
	// concrete broker client.
	_ "flowbridge.dev/flowbridge/internal/broker/kafka"
	_ "flowbridge.dev/flowbridge/internal/broker/mock"
)

var (
	configFile string
	logLevel   string

	// exitCode carries the Failed-flow-but-clean-shutdown case, which
	// RunE's error return can't express: the process must still exit
	// non-zero even though nothing went wrong at the cobra level.
	exitCode int
)

// rootCmd is flowbridge's only command: it loads configuration, builds the
// configured topology, and runs it until a shutdown signal arrives. There is
// no subcommand tree because a flow is a single long-lived process, not a
// daemon with a separate control surface.
var rootCmd = &cobra.Command{
	Use:   "flowbridge",
	Short: "flowbridge - a pipelined pub-sub bridge between message brokers",
	Long: `flowbridge consumes messages from one or more upstream brokers,
optionally transforms each message, and publishes the result to one or more
downstream brokers.

It supports three topologies, selected by the config file's mode field:
  funnel      many sources -> one fixed destination topic
  fan         one source -> destinations resolved per-message at runtime
  one_to_one  one source -> a configured source-topic/destination-topic map`,
	Version:      "0.1.0",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := engine.New(configFile, logLevel)
		if err != nil {
			exitCode = 1
			return err
		}
		exitCode = r.Run(context.Background())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (required)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "",
		"override the config file's log level (debug|info|warn|error)")
	_ = rootCmd.MarkPersistentFlagRequired("config")
}

// Execute runs the root command and returns the process exit code: 0 on a
// clean Stopped shutdown, non-zero on a Failed flow or an unrecoverable
// setup error (malformed config, unknown adapter, a broker that refused to
// open).
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flowbridge: %v\n", err)
		return 1
	}
	return exitCode
}
