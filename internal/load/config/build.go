package config

import (
	"fmt"
	"maps"
	"strings"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/load"
	"github.com/wesleyorama2/surge/internal/load/check"
	"github.com/wesleyorama2/surge/internal/load/engine"
	"github.com/wesleyorama2/surge/internal/load/injection"
)

// ResolvedVariables returns the variables in effect for the simulation: baseUrl
// from settings, then the file's own variables, then overrides.
func (c *SimulationConfig) ResolvedVariables(overrides map[string]string) map[string]string {
	builtin := map[string]string{}
	if c.Settings.BaseURL != "" {
		builtin["baseUrl"] = c.Settings.BaseURL
		builtin["baseURL"] = c.Settings.BaseURL
	}
	return MergeVariables(builtin, c.Variables, overrides)
}

// Build validates the simulation, substitutes variables and returns the
// simulation the engine runs. overrides take precedence over the file's
// variables. All problems are reported together as *ValidationErrors.
func (c *SimulationConfig) Build(overrides map[string]string) (engine.Simulation, error) {
	errs := &ValidationErrors{}
	c.validate(errs)
	if errs.HasErrors() {
		return engine.Simulation{}, errs
	}

	vars := c.ResolvedVariables(overrides)
	b := &builder{
		vars:    vars,
		baseURL: strings.TrimRight(Resolve(c.Settings.BaseURL, vars), "/"),
		errs:    errs,
	}

	sim := engine.Simulation{Name: b.resolve("name", c.Name)}
	for i := range c.Populations {
		p := &c.Populations[i]
		prefix := fmt.Sprintf("populations[%d]", i)

		scn, ok := b.scenario(prefix+".scenario", &p.Scenario)
		profile, pok := b.profile(prefix+".injection", p.Injection)
		if ok && pok {
			sim.Populations = append(sim.Populations, engine.Population{Scenario: scn, Profile: profile})
		}
	}

	if errs.HasErrors() {
		return engine.Simulation{}, errs
	}
	return sim, nil
}

// ApplySettings overlays the file settings on s. Zero values leave s unchanged.
func (c *SimulationConfig) ApplySettings(s *engine.Settings) {
	fs := c.Settings
	if fs.Workers > 0 {
		s.Workers = fs.Workers
	}
	s.Timeout = fs.Timeout.Or(s.Timeout)
	s.RequestTimeout = fs.RequestTimeout.Or(s.RequestTimeout)
	s.GracePeriod = fs.GracePeriod.Or(s.GracePeriod)
	if fs.InsecureSkipVerify {
		s.Client.InsecureSkipVerify = true
	}

	if len(fs.Headers) > 0 || fs.UserAgent != "" {
		headers := maps.Clone(s.Client.DefaultHeaders)
		if headers == nil {
			headers = make(map[string]string)
		}
		vars := c.ResolvedVariables(nil)
		for k, v := range fs.Headers {
			headers[k] = Resolve(v, vars)
		}
		if fs.UserAgent != "" {
			headers["User-Agent"] = fs.UserAgent
		}
		s.Client.DefaultHeaders = headers
	}
}

type builder struct {
	vars    map[string]string
	baseURL string
	errs    *ValidationErrors
}

// resolve substitutes variables and reports any left undefined.
func (b *builder) resolve(field, s string) string {
	out := Resolve(s, b.vars)
	for _, name := range Unresolved(out, b.vars) {
		b.errs.Add(field, "undefined variable %q", name)
	}
	return out
}

func (b *builder) scenario(prefix string, sc *ScenarioConfig) (load.Scenario, bool) {
	before := len(b.errs.Errors)
	scn := load.NewScenario(b.resolve(prefix+".name", sc.Name))

	for i, st := range sc.Steps {
		field := fmt.Sprintf("%s.steps[%d]", prefix, i)
		switch {
		case st.Request != nil:
			scn.Exec(b.request(field+".request", st.Request))
		case st.Check != nil:
			scn.Check(b.predicates(field+".check", st.Check)...)
		case st.Pause != nil:
			scn.Pause(st.Pause.Or(0))
		}
	}

	built, err := scn.Build()
	if err != nil {
		b.errs.Add(prefix, "%v", err)
	}
	return built, len(b.errs.Errors) == before
}

func (b *builder) request(field string, r *RequestConfig) http.Request {
	url := b.resolve(field+".url", strings.TrimSpace(r.URL))
	if strings.HasPrefix(url, "/") && b.baseURL != "" {
		url = b.baseURL + url
	}

	req := http.NewRequest(strings.ToUpper(r.Method), url).
		WithName(b.resolve(field+".name", r.Name)).
		WithBody(b.resolve(field+".body", r.Body))
	for k, v := range r.Headers {
		req = req.WithHeader(k, b.resolve(field+".headers."+k, v))
	}
	req.Timeout = r.Timeout.Or(0)
	return req
}

func (b *builder) predicates(field string, c *CheckConfig) []check.Predicate {
	var out []check.Predicate
	if c.Status != nil {
		out = append(out, check.StatusEquals{Code: *c.Status})
	}
	if len(c.StatusIn) > 0 {
		out = append(out, check.StatusIn{Codes: append([]int(nil), c.StatusIn...)})
	}
	if c.BodyContains != nil {
		out = append(out, check.BodyContains{Substring: b.resolve(field+".bodyContains", *c.BodyContains)})
	}
	if c.Header != nil {
		out = append(out, check.HeaderEquals{Header: c.Header.Name, Value: b.resolve(field+".header.value", c.Header.Value)})
	}
	if c.MaxResponseTime != nil {
		out = append(out, check.ResponseTimeBelow{Max: c.MaxResponseTime.Or(0)})
	}
	if c.JSONPath != nil {
		out = append(out, check.JSONPathEquals{Path: c.JSONPath.Path, Value: b.resolve(field+".jsonPath.value", c.JSONPath.Value)})
	}
	if c.Schema != "" {
		p, err := check.NewBodyMatchesSchema(c.Schema)
		if err != nil {
			b.errs.Add(field+".schema", "%v", err)
		} else {
			out = append(out, p)
		}
	}
	return out
}

func (b *builder) profile(field string, steps []InjectionConfig) (injection.Profile, bool) {
	out := make([]injection.Step, 0, len(steps))
	for _, st := range steps {
		switch {
		case st.AtOnce != nil:
			out = append(out, injection.AtOnce{Users: *st.AtOnce})
		case st.RampUsers != nil:
			out = append(out, injection.RampUsers{Users: st.RampUsers.Users, Duration: st.RampUsers.During.Or(0)})
		case st.ConstantRate != nil:
			cr := st.ConstantRate
			out = append(out, injection.ConstantRate{Rate: cr.Rate, Duration: cr.During.Or(0), Randomized: cr.Randomized, Seed: cr.Seed})
		}
	}

	profile, err := injection.NewProfile(out...)
	if err != nil {
		b.errs.Add(field, "%v", err)
		return injection.Profile{}, false
	}
	return profile, true
}
