package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/history"
	simconfig "github.com/wesleyorama2/surge/internal/load/config"
	"github.com/wesleyorama2/surge/internal/load/engine"
	"github.com/wesleyorama2/surge/internal/load/metrics"
	"github.com/wesleyorama2/surge/internal/output"
	"github.com/wesleyorama2/surge/internal/telemetry"
)

type runOptions struct {
	jsonPath       string
	metricsAddr    string
	vars           []string
	verbose        bool
	noHistory      bool
	workers        int
	timeout        time.Duration
	requestTimeout time.Duration
	historyPath    *string
}

func newRunCmd(historyPath *string) *cobra.Command {
	opts := &runOptions{historyPath: historyPath}

	cmd := &cobra.Command{
		Use:   "run <simulation-file>",
		Short: "Run a simulation",
		Long: `Run the simulation described in a YAML or JSON file and print its summary.

Settings are taken from SURGE_* environment variables, then from the file's
settings block, then from the flags below. The command exits non-zero when any
virtual user failed or was cancelled.

Examples:
  surge run examples/basic.yaml
  surge run shop.json --var baseUrl=http://localhost:8080 --workers 200
  surge run examples/basic.yaml --metrics-addr :9090 --json summary.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.jsonPath, "json", "", "Write the run summary as JSON to this file")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().StringArrayVar(&opts.vars, "var", nil, "Set a simulation variable (key=value, repeatable)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.noHistory, "no-history", false, "Do not record the run in the history database")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Maximum concurrently running virtual users (0 = unbounded)")
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", 0, "Stop the whole run after this long (0 = no limit)")
	cmd.Flags().DurationVar(&opts.requestTimeout, "request-timeout", 0, "Default per-request timeout")
	return cmd
}

func runSimulation(cmd *cobra.Command, opts *runOptions, path string) error {
	env, err := environment(*opts.historyPath)
	if err != nil {
		return err
	}
	level, err := env.Level()
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr(), level, opts.verbose)

	file, err := simconfig.LoadFile(path)
	if err != nil {
		return err
	}
	overrides, err := parseVars(opts.vars)
	if err != nil {
		return err
	}
	sim, err := file.Build(overrides)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	settings := env.EngineSettings()
	file.ApplySettings(&settings)
	applyFlags(cmd, opts, &settings)
	settings.Logger = log
	settings.Progress = func(s *metrics.RunSummary) {
		log.Debug().
			Int64("dispatched", s.Dispatched).
			Int64("completed", s.Completed).
			Int64("failed", s.Failed).
			Int64("requests", s.Requests).
			Dur("elapsed", s.Duration).
			Msg("progress")
	}

	collector := telemetry.NewCollector()
	settings.Metrics.Observers = append(settings.Metrics.Observers, collector)

	eng, err := engine.New(settings)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := opts.metricsAddr
	if addr == "" {
		addr = env.MetricsAddr
	}
	if addr != "" {
		srv, err := telemetry.Listen(addr, collector, log)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		serveCtx, stopServing := context.WithCancel(context.Background())
		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := srv.Serve(serveCtx); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			stopServing()
			<-served
		}()
	}

	summary, runErr := eng.Run(ctx, sim)
	if summary == nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	output.PrintSummary(out, summary, output.SchemeFor(out))

	if opts.jsonPath != "" {
		if err := writeSummary(opts.jsonPath, summary); err != nil {
			return err
		}
		log.Info().Str("path", opts.jsonPath).Msg("summary written")
	}
	if !opts.noHistory {
		record(log, env.HistoryPath, summary)
	}

	if runErr != nil {
		return runErr
	}
	if !summary.Passed() {
		return errVerdict
	}
	return nil
}

// applyFlags overrides settings with the flags the user actually set.
func applyFlags(cmd *cobra.Command, opts *runOptions, s *engine.Settings) {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		s.Workers = opts.workers
	}
	if flags.Changed("timeout") {
		s.Timeout = opts.timeout
	}
	if flags.Changed("request-timeout") {
		s.RequestTimeout = opts.requestTimeout
	}
}

// parseVars turns key=value pairs into a variable map.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

func writeSummary(path string, summary *metrics.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// record saves the summary to the history database. Failures are logged; they
// never change the outcome of the run.
func record(log zerolog.Logger, path string, summary *metrics.RunSummary) {
	store, err := history.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("run not recorded in history")
		return
	}
	defer store.Close()

	if err := store.Save(summary); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("run not recorded in history")
		return
	}
	log.Debug().Str("id", summary.ID).Str("path", store.Path()).Msg("run recorded in history")
}
