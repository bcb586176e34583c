package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/load"
	"github.com/wesleyorama2/surge/internal/load/check"
)

func completedRun(scenario string, id int64, latency time.Duration) *load.VirtualUserRun {
	return &load.VirtualUserRun{
		UserID:   id,
		Scenario: scenario,
		Status:   load.StatusCompleted,
		Requests: []load.StepResult{{Index: 0, Name: "GET /", StatusCode: 200, Bytes: 100, Duration: latency}},
		Checks:   []check.Result{{StepIndex: 1, Check: "status == 200", Passed: true, Actual: "200", Expected: "200"}},
	}
}

func newTestAggregator(scheduled map[string]int64) *Aggregator {
	return NewAggregator(Plan{Simulation: "sim", Scheduled: scheduled}, DefaultConfig())
}

func TestAggregator_CountsAndLatency(t *testing.T) {
	a := newTestAggregator(map[string]int64{"s": 10})

	for i := int64(1); i <= 10; i++ {
		a.Dispatched("s", i, 0)
		a.Record(completedRun("s", i, time.Duration(i)*10*time.Millisecond))
	}
	summary := a.Finalize(nil)

	if summary.Scheduled != 10 || summary.Dispatched != 10 || summary.Completed != 10 {
		t.Fatalf("counts = scheduled %d dispatched %d completed %d, want 10/10/10",
			summary.Scheduled, summary.Dispatched, summary.Completed)
	}
	if summary.Requests != 10 || summary.PassedChecks != 10 || summary.BytesReceived != 1000 {
		t.Errorf("requests %d passed %d bytes %d", summary.Requests, summary.PassedChecks, summary.BytesReceived)
	}
	if summary.ID == "" {
		t.Error("summary has no ID")
	}
	if !summary.Passed() {
		t.Error("Passed() = false, want true")
	}

	rt := summary.ResponseTime
	if rt.Count != 10 {
		t.Errorf("ResponseTime.Count = %d, want 10", rt.Count)
	}
	if rt.P50 < 40*time.Millisecond || rt.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms (±10ms)", rt.P50)
	}
	if rt.Max < 95*time.Millisecond || rt.Max > 105*time.Millisecond {
		t.Errorf("Max = %v, want ~100ms", rt.Max)
	}
	if summary.Scenarios["s"].ResponseTime.Count != 10 {
		t.Errorf("scenario latency count = %d, want 10", summary.Scenarios["s"].ResponseTime.Count)
	}
}

func TestAggregator_FailuresAndTransportErrors(t *testing.T) {
	a := newTestAggregator(map[string]int64{"s": 2})

	a.Dispatched("s", 1, 0)
	a.Record(&load.VirtualUserRun{
		UserID:   1,
		Scenario: "s",
		Status:   load.StatusFailed,
		Requests: []load.StepResult{{Name: "GET /", ErrorKind: http.ErrConnectionRefused, Error: "refused"}},
		Checks:   []check.Result{{Check: "status == 200", Message: check.MessageNoResponse}},
	})
	a.Dispatched("s", 2, 0)
	a.Record(&load.VirtualUserRun{
		UserID:   2,
		Scenario: "s",
		Status:   load.StatusFailed,
		Requests: []load.StepResult{{Name: "GET /", StatusCode: 404}},
		Checks:   []check.Result{{Check: "status == 200", Message: "status is 404, expected 200"}},
	})
	summary := a.Finalize(nil)

	if summary.Failed != 2 || summary.FailedChecks != 2 || summary.FailedRequests != 1 {
		t.Errorf("failed %d failedChecks %d failedRequests %d", summary.Failed, summary.FailedChecks, summary.FailedRequests)
	}
	if got := summary.TransportErrors["connection_refused"]; got != 1 {
		t.Errorf("TransportErrors[connection_refused] = %d, want 1", got)
	}
	failures := summary.Scenarios["s"].CheckFailures
	if failures[check.MessageNoResponse] != 1 || failures["status is 404, expected 200"] != 1 {
		t.Errorf("CheckFailures = %v", failures)
	}
	if summary.Passed() {
		t.Error("Passed() = true, want false")
	}
}

func TestAggregator_PendingRunsAreCancelled(t *testing.T) {
	a := newTestAggregator(map[string]int64{"s": 5})

	a.Dispatched("s", 1, 0)
	a.Record(completedRun("s", 1, time.Millisecond))
	a.Dispatched("s", 2, time.Second)
	a.Dispatched("s", 3, 2*time.Second)

	summary := a.Finalize(errors.New("interrupted"))

	if summary.Dispatched != 3 || summary.NotStarted != 2 {
		t.Errorf("dispatched %d notStarted %d, want 3/2", summary.Dispatched, summary.NotStarted)
	}
	if summary.Completed != 1 || summary.Cancelled != 2 {
		t.Errorf("completed %d cancelled %d, want 1/2", summary.Completed, summary.Cancelled)
	}
	if summary.TotalRuns() != summary.Dispatched {
		t.Errorf("TotalRuns() = %d, want %d", summary.TotalRuns(), summary.Dispatched)
	}
	if len(summary.Runs) != 3 {
		t.Fatalf("len(Runs) = %d, want 3", len(summary.Runs))
	}
	for i, want := range []int64{1, 2, 3} {
		if summary.Runs[i].UserID != want {
			t.Errorf("Runs[%d].UserID = %d, want %d", i, summary.Runs[i].UserID, want)
		}
	}
	if summary.Runs[1].Error != MessageNotReported {
		t.Errorf("Runs[1].Error = %q", summary.Runs[1].Error)
	}
	if summary.Error != "interrupted" {
		t.Errorf("Error = %q, want interrupted", summary.Error)
	}
	if sc := summary.Scenarios["s"]; sc.NotStarted != 2 || sc.Cancelled != 2 {
		t.Errorf("scenario notStarted %d cancelled %d", sc.NotStarted, sc.Cancelled)
	}
}

func TestAggregator_LateRecordsDropped(t *testing.T) {
	a := newTestAggregator(map[string]int64{"s": 2})
	a.Dispatched("s", 1, 0)
	first := a.Finalize(nil)

	if a.Record(completedRun("s", 1, time.Millisecond)) {
		t.Error("Record after Finalize reported true")
	}
	if a.Dispatched("s", 2, 0) {
		t.Error("Dispatched after Finalize reported true")
	}

	second := a.Finalize(nil)
	if second.Cancelled != 1 || second.Completed != 0 || second.Dispatched != 1 {
		t.Errorf("after late record: cancelled %d completed %d dispatched %d", second.Cancelled, second.Completed, second.Dispatched)
	}
	if first.ID != second.ID {
		t.Error("Finalize returned different summaries")
	}
}

func TestAggregator_DuplicateRecordsIgnored(t *testing.T) {
	a := newTestAggregator(nil)
	run := completedRun("s", 1, time.Millisecond)
	a.Record(run)
	a.Record(run)
	summary := a.Finalize(nil)

	if summary.Dispatched != 1 || summary.Completed != 1 || len(summary.Runs) != 1 {
		t.Errorf("dispatched %d completed %d runs %d, want 1/1/1", summary.Dispatched, summary.Completed, len(summary.Runs))
	}
}

func TestAggregator_ConcurrentRecords(t *testing.T) {
	const workers, perWorker = 16, 200
	a := newTestAggregator(map[string]int64{"s": workers * perWorker})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := int64(w*perWorker + i + 1)
				a.Dispatched("s", id, 0)
				a.Record(completedRun("s", id, time.Millisecond))
				_ = a.Snapshot()
			}
		}(w)
	}
	wg.Wait()
	summary := a.Finalize(nil)

	if summary.Completed != workers*perWorker || summary.Requests != workers*perWorker {
		t.Errorf("completed %d requests %d, want %d", summary.Completed, summary.Requests, workers*perWorker)
	}
}

func TestAggregator_SnapshotIsDeepCopy(t *testing.T) {
	a := newTestAggregator(map[string]int64{"s": 1})
	a.Dispatched("s", 1, 0)
	a.Record(completedRun("s", 1, time.Millisecond))
	summary := a.Finalize(nil)

	summary.Scenarios["s"].Completed = 99
	summary.Runs[0].Checks[0].Passed = false
	summary.TransportErrors["x"] = 1

	again := a.Snapshot()
	if again.Scenarios["s"].Completed != 1 {
		t.Error("scenario summary shared between snapshots")
	}
	if !again.Runs[0].Checks[0].Passed {
		t.Error("check results shared between snapshots")
	}
	if _, ok := again.TransportErrors["x"]; ok {
		t.Error("transport errors shared between snapshots")
	}
}

type countingObserver struct {
	dispatched, recorded int
}

func (o *countingObserver) Dispatched(string)   { o.dispatched++ }
func (o *countingObserver) Recorded(*RunRecord) { o.recorded++ }

func TestAggregator_Observers(t *testing.T) {
	obs := &countingObserver{}
	config := DefaultConfig()
	config.Observers = []Observer{obs}
	a := NewAggregator(Plan{Simulation: "sim"}, config)

	a.Dispatched("s", 1, 0)
	a.Record(completedRun("s", 1, time.Millisecond))
	a.Dispatched("s", 2, 0)
	a.Finalize(nil)

	// Finalize has joined the aggregator goroutine, so reading is safe.
	if obs.dispatched != 2 || obs.recorded != 2 {
		t.Errorf("observer saw %d dispatches and %d records, want 2/2", obs.dispatched, obs.recorded)
	}
}
