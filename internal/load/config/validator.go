package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a simulation file validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return "invalid simulation: " + e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "invalid simulation: %d errors:", len(e.Errors))
	for _, err := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, format string, args ...any) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationErrors) err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

var validMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "OPTIONS": true, "TRACE": true, "CONNECT": true,
}

// Validate checks the structure of the simulation.
//
// Returns nil if valid, or a *ValidationErrors listing every problem with
// its field path.
func (c *SimulationConfig) Validate() error {
	errs := &ValidationErrors{}
	c.validate(errs)
	return errs.err()
}

func (c *SimulationConfig) validate(errs *ValidationErrors) {
	if strings.TrimSpace(c.Name) == "" {
		errs.Add("name", "simulation name is required")
	}

	validateSettings(&c.Settings, errs)

	if len(c.Populations) == 0 {
		errs.Add("populations", "at least one population is required")
	}

	seen := make(map[string]int)
	for i := range c.Populations {
		prefix := fmt.Sprintf("populations[%d]", i)
		p := &c.Populations[i]

		name := strings.TrimSpace(p.Scenario.Name)
		if name == "" {
			errs.Add(prefix+".scenario.name", "scenario name is required")
		} else if j, dup := seen[name]; dup {
			errs.Add(prefix+".scenario.name", "scenario %q is already defined by populations[%d]", name, j)
		} else {
			seen[name] = i
		}

		validateSteps(prefix+".scenario", p.Scenario.Steps, errs)
		validateInjection(prefix+".injection", p.Injection, errs)
	}
}

func validateSettings(s *SettingsConfig, errs *ValidationErrors) {
	if s.Workers < 0 {
		errs.Add("settings.workers", "must not be negative")
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "must not be negative")
	}
	if s.RequestTimeout < 0 {
		errs.Add("settings.requestTimeout", "must not be negative")
	}
	if s.GracePeriod < 0 {
		errs.Add("settings.gracePeriod", "must not be negative")
	}
	if s.BaseURL != "" && !strings.Contains(s.BaseURL, "{{") {
		u, err := url.Parse(s.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.Add("settings.baseUrl", "must be an absolute http(s) URL, got %q", s.BaseURL)
		}
	}
}

func validateSteps(prefix string, steps []StepConfig, errs *ValidationErrors) {
	if len(steps) == 0 {
		errs.Add(prefix+".steps", "at least one step is required")
		return
	}

	sawRequest := false
	for i, st := range steps {
		field := fmt.Sprintf("%s.steps[%d]", prefix, i)

		set := 0
		for _, ok := range []bool{st.Request != nil, st.Check != nil, st.Pause != nil} {
			if ok {
				set++
			}
		}
		if set != 1 {
			errs.Add(field, "exactly one of request, check or pause is required")
			continue
		}

		switch {
		case st.Request != nil:
			sawRequest = true
			validateRequest(field+".request", st.Request, errs)
		case st.Check != nil:
			if !sawRequest {
				errs.Add(field+".check", "check has no preceding request")
			}
			validateCheck(field+".check", st.Check, errs)
		case st.Pause != nil:
			if *st.Pause < 0 {
				errs.Add(field+".pause", "must not be negative")
			}
		}
	}
}

func validateRequest(prefix string, r *RequestConfig, errs *ValidationErrors) {
	if strings.TrimSpace(r.URL) == "" {
		errs.Add(prefix+".url", "url is required")
	}
	if r.Method != "" && !validMethods[strings.ToUpper(r.Method)] {
		errs.Add(prefix+".method", "unknown HTTP method %q", r.Method)
	}
	if r.Timeout < 0 {
		errs.Add(prefix+".timeout", "must not be negative")
	}
}

func validateCheck(prefix string, c *CheckConfig, errs *ValidationErrors) {
	if c.Status == nil && c.StatusIn == nil && c.BodyContains == nil && c.Header == nil &&
		c.MaxResponseTime == nil && c.JSONPath == nil && c.Schema == "" {
		errs.Add(prefix, "check defines no assertion")
	}
	if c.Status != nil && !validStatus(*c.Status) {
		errs.Add(prefix+".status", "invalid status code %d", *c.Status)
	}
	if c.StatusIn != nil {
		if len(c.StatusIn) == 0 {
			errs.Add(prefix+".statusIn", "at least one status code is required")
		}
		for i, code := range c.StatusIn {
			if !validStatus(code) {
				errs.Add(fmt.Sprintf("%s.statusIn[%d]", prefix, i), "invalid status code %d", code)
			}
		}
	}
	if c.Header != nil && strings.TrimSpace(c.Header.Name) == "" {
		errs.Add(prefix+".header.name", "header name is required")
	}
	if c.MaxResponseTime != nil && *c.MaxResponseTime <= 0 {
		errs.Add(prefix+".maxResponseTime", "must be positive")
	}
	if c.JSONPath != nil && strings.TrimSpace(c.JSONPath.Path) == "" {
		errs.Add(prefix+".jsonPath.path", "path is required")
	}
}

func validStatus(code int) bool {
	return code >= 100 && code <= 599
}

func validateInjection(prefix string, steps []InjectionConfig, errs *ValidationErrors) {
	if len(steps) == 0 {
		errs.Add(prefix, "at least one injection step is required")
		return
	}

	for i, st := range steps {
		field := fmt.Sprintf("%s[%d]", prefix, i)

		set := 0
		for _, ok := range []bool{st.AtOnce != nil, st.RampUsers != nil, st.ConstantRate != nil} {
			if ok {
				set++
			}
		}
		if set != 1 {
			errs.Add(field, "exactly one of atOnce, rampUsers or constantRate is required")
			continue
		}

		switch {
		case st.AtOnce != nil:
			if *st.AtOnce < 0 {
				errs.Add(field+".atOnce", "must not be negative")
			}
		case st.RampUsers != nil:
			if st.RampUsers.Users < 0 {
				errs.Add(field+".rampUsers.users", "must not be negative")
			}
			if st.RampUsers.During < 0 {
				errs.Add(field+".rampUsers.during", "must not be negative")
			}
		case st.ConstantRate != nil:
			if st.ConstantRate.Rate < 0 {
				errs.Add(field+".constantRate.rate", "must not be negative")
			}
			if st.ConstantRate.During < 0 {
				errs.Add(field+".constantRate.during", "must not be negative")
			}
		}
	}
}
