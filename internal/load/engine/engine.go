// Package engine drives load simulations: it fires virtual users at their
// scheduled times, bounds how many run at once and aggregates the outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/load"
	"github.com/wesleyorama2/surge/internal/load/injection"
	"github.com/wesleyorama2/surge/internal/load/metrics"
)

// Population pairs a scenario with the profile that injects its users.
type Population struct {
	Scenario load.Scenario
	Profile  injection.Profile
}

// Simulation is a named set of populations run side by side.
type Simulation struct {
	Name        string
	Populations []Population
}

// Validate checks that the simulation can be run.
func (s Simulation) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("simulation name is required"))
	}
	if len(s.Populations) == 0 {
		errs = append(errs, errors.New("simulation has no populations"))
	}
	seen := make(map[string]int, len(s.Populations))
	var total int64
	for i, p := range s.Populations {
		name := p.Scenario.Name()
		if name == "" || p.Scenario.Len() == 0 {
			errs = append(errs, fmt.Errorf("population %d: scenario was not built", i))
			continue
		}
		if j, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("population %d: scenario %q already used by population %d", i, name, j))
			continue
		}
		seen[name] = i
		if n := p.Profile.TotalUsers(); total > math.MaxInt64-n {
			errs = append(errs, fmt.Errorf("population %d: %d users overflow the simulation total", i, n))
		} else {
			total += n
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid simulation %q: %w", s.Name, err)
	}
	return nil
}

// Engine runs simulations. An Engine may run several simulations, one after
// the other or concurrently; runs share only the executor and its connections.
//
// Example usage:
//
//	scn := load.NewScenario("Basic Example").
//	    Exec(http.NewRequest("GET", url), check.StatusEquals{Code: 200}).
//	    MustBuild()
//	eng, _ := engine.New(engine.DefaultSettings())
//	summary, err := eng.RunScenario(ctx, scn, injection.MustProfile(injection.AtOnce{Users: 1}))
type Engine struct {
	settings Settings
	executor load.Executor
}

// New creates an engine that sends requests with a shared HTTP client built
// from settings.Client.
func New(settings Settings) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		settings: settings,
		executor: http.NewClient(settings.Client),
	}, nil
}

// NewWithExecutor creates an engine that sends requests through exec.
func NewWithExecutor(settings Settings, exec load.Executor) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	return &Engine{settings: settings, executor: exec}, nil
}

// Settings returns the engine settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// RunScenario runs a single scenario injected with profile.
func (e *Engine) RunScenario(ctx context.Context, scn load.Scenario, profile injection.Profile) (*metrics.RunSummary, error) {
	return e.Run(ctx, Simulation{
		Name:        scn.Name(),
		Populations: []Population{{Scenario: scn, Profile: profile}},
	})
}

// Run executes sim and blocks until every scheduled virtual user has
// finished, the overall timeout elapses or ctx is done.
//
// Failing virtual users never stop the run. If ctx is cancelled or the
// timeout elapses, dispatching stops, in-flight users are cancelled and given
// the grace period to report, and Run returns a *FatalError together with the
// partial summary. Invalid simulations are rejected before any user starts.
func (e *Engine) Run(ctx context.Context, sim Simulation) (*metrics.RunSummary, error) {
	if err := sim.Validate(); err != nil {
		return nil, err
	}
	log := e.settings.Logger.With().Str("simulation", sim.Name).Logger()

	plan := metrics.Plan{Simulation: sim.Name, Scheduled: make(map[string]int64, len(sim.Populations))}
	schedules := make([]iter.Seq[injection.StartEvent], len(sim.Populations))
	for i, p := range sim.Populations {
		plan.Scheduled[p.Scenario.Name()] = p.Profile.TotalUsers()
		schedules[i] = p.Profile.Schedule()
		log.Info().
			Str("scenario", p.Scenario.Name()).
			Str("injection", p.Profile.String()).
			Int64("users", p.Profile.TotalUsers()).
			Msg("population scheduled")
	}

	agg := metrics.NewAggregator(plan, e.settings.Metrics)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if e.settings.Timeout > 0 {
		stop := time.AfterFunc(e.settings.Timeout, func() { cancel(errTimeout) })
		defer stop.Stop()
	}

	d := &dispatcher{
		engine:      e,
		populations: sim.Populations,
		agg:         agg,
		log:         log,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.run(runCtx, injection.Merge(schedules...))
	}()
	stopProgress := e.reportProgress(agg)

	select {
	case <-done:
	case <-runCtx.Done():
		log.Warn().Err(context.Cause(runCtx)).Dur("grace", e.settings.GracePeriod).Msg("stopping simulation")
		grace := time.NewTimer(e.settings.GracePeriod)
		select {
		case <-done:
		case <-grace.C:
			log.Warn().Msg("grace period elapsed with virtual users still running")
		}
		grace.Stop()
	}

	stopProgress()
	if c, ok := e.executor.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}

	var fatal error
	if runCtx.Err() != nil {
		fatal = fatalFrom(runCtx)
	}
	summary := agg.Finalize(fatal)

	log.Info().
		Int64("dispatched", summary.Dispatched).
		Int64("completed", summary.Completed).
		Int64("failed", summary.Failed).
		Int64("cancelled", summary.Cancelled).
		Int64("notStarted", summary.NotStarted).
		Dur("duration", summary.Duration).
		Msg("simulation finished")

	if fatal != nil {
		return summary, fatal
	}
	return summary, nil
}

// reportProgress hands a snapshot of agg to Settings.Progress on every tick
// until the returned stop function is called.
func (e *Engine) reportProgress(agg *metrics.Aggregator) (stop func()) {
	progress := e.settings.Progress
	if progress == nil {
		return func() {}
	}
	interval := e.settings.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}

	quit := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				progress(agg.Snapshot())
			}
		}
	}()
	return func() {
		close(quit)
		<-stopped
	}
}

func fatalFrom(ctx context.Context) *FatalError {
	cause := context.Cause(ctx)
	if errors.Is(cause, errTimeout) {
		return &FatalError{Kind: TimeoutExceeded, Err: cause}
	}
	return &FatalError{Kind: Interrupted, Err: cause}
}

// dispatcher fires start events in schedule order. It is the only goroutine
// that admits virtual users, so when every worker is busy queued starts are
// admitted strictly in the order they were scheduled.
type dispatcher struct {
	engine      *Engine
	populations []Population
	agg         *metrics.Aggregator
	log         zerolog.Logger
}

func (d *dispatcher) run(ctx context.Context, events iter.Seq[injection.Event]) {
	s := d.engine.settings

	var g errgroup.Group
	if s.Workers > 0 {
		g.SetLimit(s.Workers)
	}

	start := time.Now()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for ev := range events {
		if wait := time.Until(start.Add(ev.At)); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			break
		}

		pop := d.populations[ev.Population]
		vu := &load.VirtualUser{
			ID:             ev.UserID,
			Scenario:       pop.Scenario,
			Executor:       d.engine.executor,
			RequestTimeout: s.RequestTimeout,
			Logger:         s.Logger,
		}
		at := ev.At

		// Blocks while all workers are busy.
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if !d.agg.Dispatched(vu.Scenario.Name(), vu.ID, at) {
				return nil
			}
			d.log.Debug().Str("scenario", vu.Scenario.Name()).Int64("vu", vu.ID).Dur("at", at).Msg("virtual user started")
			d.agg.Record(vu.Run(ctx, at))
			return nil
		})
	}

	_ = g.Wait()
}
