// Package metrics aggregates virtual user runs into a RunSummary.
package metrics

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"

	"github.com/wesleyorama2/surge/internal/load"
)

// MessageNotReported is recorded for runs that were dispatched but had not
// reported by the time the aggregator was finalized.
const MessageNotReported = "run did not report before shutdown"

// Observer is notified of every dispatch and recorded run. Observers are
// called from the aggregator goroutine and must not block.
type Observer interface {
	Dispatched(scenario string)
	Recorded(run *RunRecord)
}

// Config contains configuration for the aggregator.
type Config struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// Buffer is the capacity of the record queue (default: 1024)
	Buffer int

	// Observers receive dispatches and runs as they are applied
	Observers []Observer
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
		Buffer:           1024,
	}
}

// Plan describes what a run is expected to do.
type Plan struct {
	Simulation string
	// Scheduled holds the number of scheduled start events per scenario.
	Scheduled map[string]int64
}

type runKey struct {
	scenario string
	userID   int64
}

type message struct {
	dispatch *RunRecord
	run      *RunRecord
}

// Aggregator owns a RunSummary. Dispatch and Record may be called from any
// goroutine; the summary itself is only ever mutated by the aggregator's own
// goroutine, which applies records in the order they were queued.
//
// Once Finalize has been called, further records are dropped and runs that
// were dispatched but never recorded are counted as cancelled.
type Aggregator struct {
	in   chan message
	stop chan struct{}
	done chan struct{}

	mu        sync.Mutex
	summary   *RunSummary
	hist      *hdrhistogram.Histogram
	scnHists  map[string]*hdrhistogram.Histogram
	pending   map[runKey]*RunRecord
	recorded  map[runKey]struct{}
	finalized *RunSummary

	finalizeOnce sync.Once
	config       Config
}

// NewAggregator starts an aggregator for plan.
func NewAggregator(plan Plan, config Config) *Aggregator {
	def := DefaultConfig()
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}
	if config.Buffer <= 0 {
		config.Buffer = def.Buffer
	}

	summary := &RunSummary{
		ID:              uuid.NewString(),
		Simulation:      plan.Simulation,
		StartTime:       time.Now(),
		TransportErrors: make(map[string]int64),
		Scenarios:       make(map[string]*ScenarioSummary, len(plan.Scheduled)),
	}
	for name, n := range plan.Scheduled {
		summary.Scheduled += n
		summary.Scenarios[name] = &ScenarioSummary{Scheduled: n}
	}

	a := &Aggregator{
		in:       make(chan message, config.Buffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		summary:  summary,
		hist:     config.newHistogram(),
		scnHists: make(map[string]*hdrhistogram.Histogram),
		pending:  make(map[runKey]*RunRecord),
		recorded: make(map[runKey]struct{}),
		config:   config,
	}
	go a.loop()
	return a
}

func (c Config) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(c.HistogramMin, c.HistogramMax, c.HistogramSigFigs)
}

// Dispatched notes that a virtual user has been handed to a worker. It
// reports false if the aggregator is already finalized.
func (a *Aggregator) Dispatched(scenario string, userID int64, scheduledAt time.Duration) bool {
	return a.send(message{dispatch: &RunRecord{
		UserID:      userID,
		Scenario:    scenario,
		ScheduledAt: scheduledAt,
		StartedAt:   time.Now(),
	}})
}

// Record queues a finished run. It reports false if the aggregator was
// already finalized, in which case the run is dropped.
func (a *Aggregator) Record(run *load.VirtualUserRun) bool {
	if run == nil {
		return false
	}
	rec := cloneRun(*run)
	return a.send(message{run: &rec})
}

func (a *Aggregator) send(m message) bool {
	select {
	case <-a.stop:
		return false
	default:
	}
	select {
	case a.in <- m:
		return true
	case <-a.stop:
		return false
	}
}

func (a *Aggregator) loop() {
	defer close(a.done)
	for {
		select {
		case m := <-a.in:
			a.apply(m)
		case <-a.stop:
			// Everything queued before Finalize still counts.
			for {
				select {
				case m := <-a.in:
					a.apply(m)
				default:
					return
				}
			}
		}
	}
}

func (a *Aggregator) apply(m message) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case m.dispatch != nil:
		a.applyDispatch(m.dispatch)
	case m.run != nil:
		a.applyRun(m.run)
	}
}

func (a *Aggregator) scenario(name string) *ScenarioSummary {
	sc, ok := a.summary.Scenarios[name]
	if !ok {
		sc = &ScenarioSummary{}
		a.summary.Scenarios[name] = sc
	}
	return sc
}

func (a *Aggregator) applyDispatch(d *RunRecord) bool {
	key := runKey{d.Scenario, d.UserID}
	if _, ok := a.pending[key]; ok {
		return false
	}
	if _, ok := a.recorded[key]; ok {
		return false
	}
	a.pending[key] = d
	a.summary.Dispatched++
	a.scenario(d.Scenario).Dispatched++
	for _, o := range a.config.Observers {
		o.Dispatched(d.Scenario)
	}
	return true
}

func (a *Aggregator) applyRun(run *RunRecord) {
	key := runKey{run.Scenario, run.UserID}
	if _, ok := a.recorded[key]; ok {
		return
	}
	if _, ok := a.pending[key]; !ok {
		a.applyDispatch(run)
	}
	delete(a.pending, key)
	a.recorded[key] = struct{}{}

	s := a.summary
	sc := a.scenario(run.Scenario)

	switch run.Status {
	case load.StatusCompleted:
		s.Completed++
		sc.Completed++
	case load.StatusFailed:
		s.Failed++
		sc.Failed++
	default:
		s.Cancelled++
		sc.Cancelled++
	}

	for _, r := range run.Requests {
		s.Requests++
		sc.Requests++
		if r.Failed() {
			s.FailedRequests++
			sc.FailedRequests++
			s.TransportErrors[string(r.ErrorKind)]++
			continue
		}
		s.BytesReceived += r.Bytes
		a.recordLatency(run.Scenario, r.Duration)
	}

	for _, c := range run.Checks {
		if c.Passed {
			s.PassedChecks++
			sc.PassedChecks++
			continue
		}
		s.FailedChecks++
		sc.FailedChecks++
		if sc.CheckFailures == nil {
			sc.CheckFailures = make(map[string]int64)
		}
		sc.CheckFailures[c.Message]++
	}

	s.Runs = append(s.Runs, *run)

	for _, o := range a.config.Observers {
		o.Recorded(run)
	}
}

func (a *Aggregator) recordLatency(scenario string, d time.Duration) {
	// Convert to microseconds for HDR histogram and clamp to its range
	micros := d.Microseconds()
	if micros < a.config.HistogramMin {
		micros = a.config.HistogramMin
	}
	if micros > a.config.HistogramMax {
		micros = a.config.HistogramMax
	}

	_ = a.hist.RecordValue(micros)
	h, ok := a.scnHists[scenario]
	if !ok {
		h = a.config.newHistogram()
		a.scnHists[scenario] = h
	}
	_ = h.RecordValue(micros)
}

// Snapshot returns a deep copy of the current summary.
func (a *Aggregator) Snapshot() *RunSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized != nil {
		return a.finalized.Clone()
	}
	a.refreshLatency()
	out := a.summary.Clone()
	out.Duration = time.Since(out.StartTime)
	return out
}

// Finalize stops the aggregator and returns the final summary. Runs that were
// dispatched but not recorded are counted as cancelled and start events that
// were never dispatched as not started. err, if set, is stored as the summary
// error. Subsequent calls return the same summary.
func (a *Aggregator) Finalize(err error) *RunSummary {
	a.finalizeOnce.Do(func() {
		close(a.stop)
		<-a.done

		a.mu.Lock()
		defer a.mu.Unlock()

		for _, d := range a.pending {
			d.Status = load.StatusCancelled
			d.Error = MessageNotReported
			a.applyRun(d)
		}

		s := a.summary
		s.EndTime = time.Now()
		s.Duration = s.EndTime.Sub(s.StartTime)
		if s.Scheduled > s.Dispatched {
			s.NotStarted = s.Scheduled - s.Dispatched
		}
		for _, sc := range s.Scenarios {
			if sc.Scheduled > sc.Dispatched {
				sc.NotStarted = sc.Scheduled - sc.Dispatched
			}
		}
		if err != nil {
			s.Error = err.Error()
		}
		slices.SortStableFunc(s.Runs, func(x, y RunRecord) int {
			return cmp.Or(
				cmp.Compare(x.ScheduledAt, y.ScheduledAt),
				cmp.Compare(x.Scenario, y.Scenario),
				cmp.Compare(x.UserID, y.UserID),
			)
		})
		a.refreshLatency()
		a.finalized = s.Clone()
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalized.Clone()
}

func (a *Aggregator) refreshLatency() {
	a.summary.ResponseTime = statsOf(a.hist)
	for name, h := range a.scnHists {
		a.scenario(name).ResponseTime = statsOf(h)
	}
}

func statsOf(h *hdrhistogram.Histogram) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{}
	}
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean()) * time.Microsecond,
		StdDev: time.Duration(h.StdDev()) * time.Microsecond,
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}
