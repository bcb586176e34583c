// Package config reads process-wide defaults from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/surge/internal/load/engine"
)

// Prefix is the environment variable prefix, e.g. SURGE_WORKERS.
const Prefix = "surge"

// Specification is the configuration read from the environment. Values can be
// overridden by a simulation file and then by command line flags.
// https://github.com/kelseyhightower/envconfig
type Specification struct {
	Workers            int           `json:"workers" default:"1000"`
	Timeout            time.Duration `json:"timeout" default:"0s"`
	RequestTimeout     time.Duration `json:"requestTimeout" split_words:"true" default:"30s"`
	GracePeriod        time.Duration `json:"gracePeriod" split_words:"true" default:"5s"`
	InsecureSkipVerify bool          `json:"insecureSkipVerify" split_words:"true" default:"false"`
	HistoryPath        string        `json:"historyPath" split_words:"true"`
	LogLevel           string        `json:"logLevel" split_words:"true" default:"info"`
	MetricsAddr        string        `json:"metricsAddr" split_words:"true"`
}

// Load processes the SURGE_* environment variables.
func Load() (Specification, error) {
	var spec Specification
	if err := envconfig.Process(Prefix, &spec); err != nil {
		return Specification{}, fmt.Errorf("failed to parse configuration from environment: %w", err)
	}
	if spec.HistoryPath == "" {
		spec.HistoryPath = DefaultHistoryPath()
	}
	return spec, spec.Validate()
}

// Validate rejects values the engine cannot use.
func (s Specification) Validate() error {
	if _, err := s.Level(); err != nil {
		return err
	}
	return s.EngineSettings().Validate()
}

// Level parses LogLevel.
func (s Specification) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s.LogLevel)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	return level, nil
}

// EngineSettings returns engine settings seeded from the environment.
func (s Specification) EngineSettings() engine.Settings {
	settings := engine.DefaultSettings()
	settings.Workers = s.Workers
	settings.Timeout = s.Timeout
	settings.RequestTimeout = s.RequestTimeout
	settings.GracePeriod = s.GracePeriod
	settings.Client.InsecureSkipVerify = s.InsecureSkipVerify
	if s.RequestTimeout > 0 {
		settings.Client.Timeout = s.RequestTimeout
	}
	return settings
}

// DefaultHistoryPath returns ~/.surge/history.db, or a file in the working
// directory when the home directory is unknown.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "surge-history.db"
	}
	return filepath.Join(home, ".surge", "history.db")
}
