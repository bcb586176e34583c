// Package config loads simulation files: scenarios, their injection profiles
// and run settings described in YAML or JSON.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SimulationConfig is the root of a simulation file.
//
// Example YAML:
//
//	name: Basic Example
//	variables:
//	  host: https://raw.githubusercontent.com
//	populations:
//	  - scenario:
//	      name: Basic Example
//	      steps:
//	        - request: { name: Get README.md, method: GET, url: "{{host}}/README.md" }
//	        - check: { status: 200 }
//	    injection:
//	      - atOnce: 1
type SimulationConfig struct {
	// Name of the simulation (for reporting and history)
	Name string `json:"name" yaml:"name"`

	// Description of the simulation (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Variables are substituted for {{name}} placeholders when the simulation is built
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Settings override the engine defaults
	Settings SettingsConfig `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Populations pair a scenario with its injection profile
	Populations []PopulationConfig `json:"populations" yaml:"populations"`
}

// SettingsConfig contains run settings. Zero values keep the engine defaults.
type SettingsConfig struct {
	// BaseURL is prepended to request URLs that start with "/"
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Workers bounds concurrently running virtual users
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Timeout bounds the whole run
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RequestTimeout is the default per-request timeout
	RequestTimeout Duration `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"`

	// GracePeriod is how long in-flight users may wind down after a stop
	GracePeriod Duration `json:"gracePeriod,omitempty" yaml:"gracePeriod,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// PopulationConfig is one scenario and the profile injecting its users.
type PopulationConfig struct {
	Scenario  ScenarioConfig    `json:"scenario" yaml:"scenario"`
	Injection []InjectionConfig `json:"injection" yaml:"injection"`
}

// ScenarioConfig is a named, ordered list of steps.
type ScenarioConfig struct {
	Name  string       `json:"name" yaml:"name"`
	Steps []StepConfig `json:"steps" yaml:"steps"`
}

// StepConfig holds exactly one of Request, Check or Pause.
type StepConfig struct {
	Request *RequestConfig `json:"request,omitempty" yaml:"request,omitempty"`
	Check   *CheckConfig   `json:"check,omitempty" yaml:"check,omitempty"`
	Pause   *Duration      `json:"pause,omitempty" yaml:"pause,omitempty"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in results)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Method is the HTTP method (default GET)
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// URL is the request URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body (supports variable substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout overrides the default request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// CheckConfig asserts on the response of the preceding request. Every field
// that is set becomes its own check.
type CheckConfig struct {
	Status          *int                 `json:"status,omitempty" yaml:"status,omitempty"`
	StatusIn        []int                `json:"statusIn,omitempty" yaml:"statusIn,omitempty"`
	BodyContains    *string              `json:"bodyContains,omitempty" yaml:"bodyContains,omitempty"`
	Header          *HeaderCheckConfig   `json:"header,omitempty" yaml:"header,omitempty"`
	MaxResponseTime *Duration            `json:"maxResponseTime,omitempty" yaml:"maxResponseTime,omitempty"`
	JSONPath        *JSONPathCheckConfig `json:"jsonPath,omitempty" yaml:"jsonPath,omitempty"`

	// Schema is an inline JSON Schema the body must validate against
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// HeaderCheckConfig checks a response header value.
type HeaderCheckConfig struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// JSONPathCheckConfig checks a value in a JSON body.
type JSONPathCheckConfig struct {
	Path  string `json:"path" yaml:"path"`
	Value string `json:"value" yaml:"value"`
}

// InjectionConfig holds exactly one injection step.
type InjectionConfig struct {
	AtOnce       *int64              `json:"atOnce,omitempty" yaml:"atOnce,omitempty"`
	RampUsers    *RampUsersConfig    `json:"rampUsers,omitempty" yaml:"rampUsers,omitempty"`
	ConstantRate *ConstantRateConfig `json:"constantRate,omitempty" yaml:"constantRate,omitempty"`
}

// RampUsersConfig ramps Users over During.
type RampUsersConfig struct {
	Users  int64    `json:"users" yaml:"users"`
	During Duration `json:"during" yaml:"during"`
}

// ConstantRateConfig injects Rate users per second for During.
type ConstantRateConfig struct {
	Rate       float64  `json:"rate" yaml:"rate"`
	During     Duration `json:"during" yaml:"during"`
	Randomized bool     `json:"randomized,omitempty" yaml:"randomized,omitempty"`
	Seed       uint64   `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Duration is a time.Duration that unmarshals from "30s"-style strings or
// from a plain number of seconds.
type Duration time.Duration

// ParseDuration parses "1m30s", "500ms" or a bare number of seconds ("30", "0.5").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// Or returns the duration, or def if it is zero.
func (d Duration) Or(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	dur, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
