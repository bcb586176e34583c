// Package load contains the scenario model and the virtual user that executes it.
package load

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/load/check"
)

// Step is one element of a scenario: a RequestStep, CheckStep or PauseStep.
type Step interface {
	step()
}

// RequestStep sends a request; its response becomes the subject of the
// CheckSteps that follow it.
type RequestStep struct {
	Request http.Request
}

// CheckStep asserts on the response of the closest preceding RequestStep.
type CheckStep struct {
	Predicate check.Predicate
}

// PauseStep waits before the next step (think time).
type PauseStep struct {
	Duration time.Duration
}

func (RequestStep) step() {}
func (CheckStep) step()   {}
func (PauseStep) step()   {}

// Scenario is the ordered script one virtual user follows.
//
// A Scenario is immutable: it is only produced by Builder.Build and its
// steps cannot be modified afterwards, so it can be shared by any number
// of concurrently running virtual users.
type Scenario struct {
	name  string
	steps []Step
}

// Name returns the scenario name.
func (s Scenario) Name() string {
	return s.name
}

// Len returns the number of steps.
func (s Scenario) Len() int {
	return len(s.steps)
}

// Step returns the i-th step.
func (s Scenario) Step(i int) Step {
	return s.steps[i]
}

// Steps returns a copy of the steps.
func (s Scenario) Steps() []Step {
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// Requests returns the number of request steps.
func (s Scenario) Requests() int {
	n := 0
	for _, st := range s.steps {
		if _, ok := st.(RequestStep); ok {
			n++
		}
	}
	return n
}

// Builder assembles a Scenario step by step.
//
//	scn, err := load.NewScenario("Basic Example").
//	    Exec(http.NewRequest("GET", "https://example.com/README.md"),
//	        check.StatusEquals{Code: 200}).
//	    Build()
type Builder struct {
	name  string
	steps []Step
	errs  []error
}

// NewScenario starts a scenario builder.
func NewScenario(name string) *Builder {
	return &Builder{name: strings.TrimSpace(name)}
}

// Exec appends a request followed by checks on its response.
func (b *Builder) Exec(req http.Request, checks ...check.Predicate) *Builder {
	if req.URL == "" {
		b.errs = append(b.errs, fmt.Errorf("step %d: request url is required", len(b.steps)))
	}
	if req.Timeout < 0 {
		b.errs = append(b.errs, fmt.Errorf("step %d: request timeout must not be negative", len(b.steps)))
	}
	b.steps = append(b.steps, RequestStep{Request: req})
	return b.Check(checks...)
}

// Check appends checks on the response of the last request.
func (b *Builder) Check(checks ...check.Predicate) *Builder {
	for _, p := range checks {
		if p == nil {
			b.errs = append(b.errs, fmt.Errorf("step %d: check predicate is nil", len(b.steps)))
			continue
		}
		if !b.hasRequest() {
			b.errs = append(b.errs, fmt.Errorf("step %d: check %q has no preceding request", len(b.steps), p.Name()))
		}
		b.steps = append(b.steps, CheckStep{Predicate: p})
	}
	return b
}

// Pause appends a think-time step.
func (b *Builder) Pause(d time.Duration) *Builder {
	if d < 0 {
		b.errs = append(b.errs, fmt.Errorf("step %d: pause must not be negative", len(b.steps)))
	}
	b.steps = append(b.steps, PauseStep{Duration: d})
	return b
}

func (b *Builder) hasRequest() bool {
	for _, st := range b.steps {
		if _, ok := st.(RequestStep); ok {
			return true
		}
	}
	return false
}

// Build validates and freezes the scenario.
func (b *Builder) Build() (Scenario, error) {
	errs := append([]error(nil), b.errs...)
	if b.name == "" {
		errs = append(errs, errors.New("scenario name is required"))
	}
	if len(b.steps) == 0 {
		errs = append(errs, errors.New("scenario has no steps"))
	}
	if len(errs) > 0 {
		return Scenario{}, fmt.Errorf("scenario %q: %w", b.name, errors.Join(errs...))
	}

	steps := make([]Step, len(b.steps))
	for i, st := range b.steps {
		switch st := st.(type) {
		case RequestStep:
			st.Request.Headers = maps.Clone(st.Request.Headers)
			steps[i] = st
		case CheckStep:
			st.Predicate = clonePredicate(st.Predicate)
			steps[i] = st
		default:
			steps[i] = st
		}
	}
	return Scenario{name: b.name, steps: steps}, nil
}

// clonePredicate copies the mutable parts of the built-in predicates so a
// built scenario does not share them with the caller.
func clonePredicate(p check.Predicate) check.Predicate {
	switch p := p.(type) {
	case check.StatusIn:
		return check.StatusIn{Codes: slices.Clone(p.Codes)}
	case *check.StatusIn:
		return &check.StatusIn{Codes: slices.Clone(p.Codes)}
	}
	return p
}

// MustBuild is like Build but panics on error. Intended for tests and
// statically known scenarios.
func (b *Builder) MustBuild() Scenario {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}
