// Command pardatabase maintains a content-addressed parity vault over a
// directory tree: scanning it, hashing and parity-protecting its contents,
// and verifying/repairing them later.
package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/pardatabase/pardatabase/internal/logging"
)

// Process exit codes: 0 success, 1 bad arguments or a missing parity tool,
// higher values for operational failures.
const (
	exitSuccess        = 0
	exitUsage          = 1
	exitVerifyFailures = 2
	exitRepairFailure  = 3
	exitOperational    = 4
)

var logLevelName string

var rootCommand = &cobra.Command{
	Use:   "pardatabase",
	Short: "pardatabase maintains a content-addressed Reed-Solomon parity vault over a directory tree",
	PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
		level, err := logging.ParseLevel(logLevelName)
		if err != nil {
			return err
		}
		logging.SetLevel(level)
		return nil
	},
}

func init() {
	cobra.EnableCommandSorting = false
	rootCommand.PersistentFlags().StringVar(&logLevelName, "log-level", "info", "logging verbosity: disabled, info, debug, trace")
	rootCommand.AddCommand(
		scanCommand,
		verifyCommand,
		repairCommand,
		cleanCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		var opErr *operationalError
		if errors.As(err, &opErr) {
			os.Exit(exitOperational)
		}
		os.Exit(exitUsage)
	}
}
