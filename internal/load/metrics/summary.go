package metrics

import (
	"maps"
	"slices"
	"time"

	"github.com/wesleyorama2/surge/internal/load"
)

// RunSummary is the aggregate outcome of a load run.
//
// It is produced by an Aggregator; callers only ever receive copies, so a
// RunSummary can be read and retained freely.
type RunSummary struct {
	ID         string        `json:"id"`
	Simulation string        `json:"simulation"`
	StartTime  time.Time     `json:"startTime"`
	EndTime    time.Time     `json:"endTime"`
	Duration   time.Duration `json:"duration"`

	// Scheduled start events, how many were dispatched and how many never started.
	Scheduled  int64 `json:"scheduled"`
	Dispatched int64 `json:"dispatched"`
	NotStarted int64 `json:"notStarted"`

	// Final run states. Completed + Failed + Cancelled == Dispatched once finalized.
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`

	Requests        int64            `json:"requests"`
	FailedRequests  int64            `json:"failedRequests"`
	BytesReceived   int64            `json:"bytesReceived"`
	TransportErrors map[string]int64 `json:"transportErrors,omitempty"`
	PassedChecks    int64            `json:"passedChecks"`
	FailedChecks    int64            `json:"failedChecks"`
	ResponseTime    LatencyStats     `json:"responseTime"`

	Scenarios map[string]*ScenarioSummary `json:"scenarios"`
	Runs      []RunRecord                 `json:"runs"`

	// Error is the fatal error that ended the run early, if any.
	Error string `json:"error,omitempty"`
}

// ScenarioSummary holds the per-scenario breakdown.
type ScenarioSummary struct {
	Scheduled      int64        `json:"scheduled"`
	Dispatched     int64        `json:"dispatched"`
	NotStarted     int64        `json:"notStarted"`
	Completed      int64        `json:"completed"`
	Failed         int64        `json:"failed"`
	Cancelled      int64        `json:"cancelled"`
	Requests       int64        `json:"requests"`
	FailedRequests int64        `json:"failedRequests"`
	PassedChecks   int64        `json:"passedChecks"`
	FailedChecks   int64        `json:"failedChecks"`
	ResponseTime   LatencyStats `json:"responseTime"`

	// CheckFailures counts failed checks by message.
	CheckFailures map[string]int64 `json:"checkFailures,omitempty"`
}

// RunRecord is the recorded outcome of one dispatched virtual user.
type RunRecord = load.VirtualUserRun

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// TotalRuns returns the number of runs with a final status.
func (s *RunSummary) TotalRuns() int64 {
	return s.Completed + s.Failed + s.Cancelled
}

// Passed reports whether every dispatched run completed without failures and
// the run was not cut short.
func (s *RunSummary) Passed() bool {
	return s.Error == "" && s.Failed == 0 && s.Cancelled == 0 && s.NotStarted == 0
}

// Clone returns a deep copy of s.
func (s *RunSummary) Clone() *RunSummary {
	if s == nil {
		return nil
	}
	out := *s
	out.TransportErrors = maps.Clone(s.TransportErrors)
	out.Scenarios = make(map[string]*ScenarioSummary, len(s.Scenarios))
	for name, sc := range s.Scenarios {
		c := *sc
		c.CheckFailures = maps.Clone(sc.CheckFailures)
		out.Scenarios[name] = &c
	}
	out.Runs = make([]RunRecord, len(s.Runs))
	for i, r := range s.Runs {
		out.Runs[i] = cloneRun(r)
	}
	return &out
}

func cloneRun(r RunRecord) RunRecord {
	r.Requests = slices.Clone(r.Requests)
	r.Checks = slices.Clone(r.Checks)
	return r
}
