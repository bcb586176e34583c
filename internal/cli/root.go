package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/load/engine"
)

var version = "0.1.0"

// errVerdict is returned when a run finished but did not pass. The verdict has
// already been printed, so Execute does not print it again.
var errVerdict = errors.New("simulation failed")

// NewRootCmd builds the surge command tree.
func NewRootCmd() *cobra.Command {
	var historyPath string

	root := &cobra.Command{
		Use:     "surge",
		Short:   "Open-model HTTP load generator",
		Version: version,
		Long: `Surge injects virtual users into HTTP scenarios following an open workload
model: users arrive on a schedule regardless of how the system under test
responds, run their scenario once and leave.

Simulations are described in YAML or JSON files:
  surge validate examples/basic.yaml
  surge run examples/basic.yaml --json summary.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&historyPath, "history-file", "", "Run history database (default $SURGE_HISTORY_PATH or ~/.surge/history.db)")

	root.AddCommand(newRunCmd(&historyPath))
	root.AddCommand(newValidateCmd())
	root.AddCommand(newHistoryCmd(&historyPath))
	return root
}

// Exit codes returned by ExitCode.
const (
	ExitOK      = 0
	ExitFailed  = 1 // the simulation ran but did not pass
	ExitInvalid = 2 // the command or simulation could not be run
	ExitAborted = 3 // the run was interrupted or timed out
)

// ExitCode maps the error returned by Execute to a process exit code.
func ExitCode(err error) int {
	var fatal *engine.FatalError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errVerdict):
		return ExitFailed
	case errors.As(err, &fatal):
		return ExitAborted
	default:
		return ExitInvalid
	}
}

// Execute runs the root command with os.Args. It is called by main.main().
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil && !errors.Is(err, errVerdict) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// environment loads the SURGE_* settings and applies an explicit history path.
func environment(historyPath string) (config.Specification, error) {
	env, err := config.Load()
	if err != nil {
		return env, err
	}
	if historyPath != "" {
		env.HistoryPath = historyPath
	}
	return env, nil
}

// newLogger writes human-readable logs to w. The engine, its virtual users
// and the metrics server log concurrently, so writes to w are serialised.
func newLogger(w io.Writer, level zerolog.Level, verbose bool) zerolog.Logger {
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: zerolog.SyncWriter(w), TimeFormat: "15:04:05"}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
