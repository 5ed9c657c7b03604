// Package commands wires the treadline-runner CLI: the run command that
// drives a full production run and the status command that reports on
// the last one.
package commands

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/treadline-ai/treadline/internal/config"
	"github.com/treadline-ai/treadline/internal/observability"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:     "treadline-runner",
	Version: "1.0.0",
	Short:   "Treadline Runner - batch tyre recommendation runs",
	Long: `The runner drives full production runs against a treadline deployment:
it loads the priority runlist, submits CAM batches to the recommendation
engine, retries failures once, prices token usage, and writes the result
artifacts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Env files are optional and never override variables already set.
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the CLI logger. Verbose switches to debug level, and
// console format keeps log lines readable next to the progress bar.
func newLogger(cfg *config.Config) *observability.Logger {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		Output:      os.Stderr,
		ServiceName: "treadline-runner",
	})
}
