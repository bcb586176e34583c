package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/load/metrics"
)

// Settings controls how a simulation is executed.
type Settings struct {
	// Workers bounds the number of concurrently running virtual users (0 = unbounded)
	Workers int

	// Timeout bounds the whole run (0 = no limit)
	Timeout time.Duration

	// RequestTimeout is the default per-request timeout (0 = client default)
	RequestTimeout time.Duration

	// GracePeriod is how long in-flight runs get to wind down after a fatal stop
	GracePeriod time.Duration

	// Client configures the shared HTTP client
	Client http.ClientConfig

	// Metrics configures aggregation; its Observers receive every run
	Metrics metrics.Config

	// Logger receives engine and virtual user logs
	Logger zerolog.Logger

	// Progress, if set, receives a snapshot of the running summary every
	// ProgressInterval. It is called from a single goroutine.
	Progress func(*metrics.RunSummary)

	// ProgressInterval is how often Progress is called (0 = one second)
	ProgressInterval time.Duration
}

// DefaultSettings returns settings suitable for most runs.
func DefaultSettings() Settings {
	return Settings{
		Workers:          1000,
		RequestTimeout:   30 * time.Second,
		GracePeriod:      5 * time.Second,
		Client:           http.DefaultClientConfig(),
		Metrics:          metrics.DefaultConfig(),
		Logger:           zerolog.Nop(),
		ProgressInterval: time.Second,
	}
}

// Validate checks settings for values that cannot be honoured.
func (s Settings) Validate() error {
	var errs []error
	if s.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", s.Workers))
	}
	if s.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", s.Timeout))
	}
	if s.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request timeout must not be negative, got %s", s.RequestTimeout))
	}
	if s.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("grace period must not be negative, got %s", s.GracePeriod))
	}
	if s.ProgressInterval < 0 {
		errs = append(errs, fmt.Errorf("progress interval must not be negative, got %s", s.ProgressInterval))
	}
	if s.Client.Timeout < 0 {
		errs = append(errs, fmt.Errorf("client timeout must not be negative, got %s", s.Client.Timeout))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
