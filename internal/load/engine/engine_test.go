package engine

import (
	"context"
	"errors"
	"math"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/load"
	"github.com/wesleyorama2/surge/internal/load/check"
	"github.com/wesleyorama2/surge/internal/load/injection"
	"github.com/wesleyorama2/surge/internal/load/metrics"
)

// fakeExecutor answers every request with status after delay and tracks
// how many requests are in flight.
type fakeExecutor struct {
	status      int
	delay       time.Duration
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	calls       atomic.Int64
}

func (f *fakeExecutor) Execute(ctx context.Context, req http.Request, _ time.Duration) (*http.Response, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.delay > 0 {
		timer := time.NewTimer(f.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, &http.TransportError{Kind: http.ErrCancelled, Op: req.Method, URL: req.URL, Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return &http.Response{StatusCode: f.status, Duration: f.delay}, nil
}

func basicScenario(url string) load.Scenario {
	return load.NewScenario("Basic Example").
		Exec(http.NewRequest("GET", url+"/steadybit/extension-gatling/refs/heads/main/README.md").WithName("Get README.md"),
			check.StatusEquals{Code: 200}).
		MustBuild()
}

func testSettings() Settings {
	s := DefaultSettings()
	s.RequestTimeout = 5 * time.Second
	s.GracePeriod = time.Second
	return s
}

func assertAccounted(t *testing.T, s *metrics.RunSummary) {
	t.Helper()
	assert.Equal(t, s.Dispatched, s.Completed+s.Failed+s.Cancelled, "every dispatched run has a final status")
	assert.Equal(t, s.Dispatched, int64(len(s.Runs)), "one run record per dispatched user")
	assert.Equal(t, s.Scheduled, s.Dispatched+s.NotStarted)
}

func TestEngine_BasicExamplePasses(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
		_, _ = w.Write([]byte("# Steadybit extension-gatling"))
	}))
	defer server.Close()

	eng, err := New(testSettings())
	require.NoError(t, err)

	summary, err := eng.RunScenario(context.Background(), basicScenario(server.URL), injection.MustProfile(injection.AtOnce{Users: 1}))
	require.NoError(t, err)

	assert.Equal(t, "Basic Example", summary.Simulation)
	assert.Equal(t, int64(1), summary.TotalRuns())
	assert.Equal(t, int64(1), summary.Completed)
	assert.Equal(t, int64(1), summary.PassedChecks)
	assert.Equal(t, int64(0), summary.FailedChecks)
	assert.Equal(t, int64(1), summary.ResponseTime.Count)
	assert.True(t, summary.Passed())
	assert.Empty(t, summary.Error)
	assertAccounted(t, summary)
}

func TestEngine_BasicExampleNotFound(t *testing.T) {
	server := httptest.NewServer(nethttp.NotFoundHandler())
	defer server.Close()

	eng, err := New(testSettings())
	require.NoError(t, err)

	summary, err := eng.RunScenario(context.Background(), basicScenario(server.URL), injection.MustProfile(injection.AtOnce{Users: 1}))
	require.NoError(t, err, "failed checks are not engine errors")

	assert.Equal(t, int64(1), summary.TotalRuns())
	assert.Equal(t, int64(1), summary.Failed)
	assert.Equal(t, int64(1), summary.FailedChecks)
	require.Len(t, summary.Runs, 1)
	require.Len(t, summary.Runs[0].Checks, 1)
	assert.Contains(t, summary.Runs[0].Checks[0].Message, "404")
	assert.Equal(t, int64(1), summary.Scenarios["Basic Example"].CheckFailures["status is 404, expected 200"])
	assert.False(t, summary.Passed())
}

func TestEngine_TransportErrorsDoNotAbort(t *testing.T) {
	server := httptest.NewServer(nethttp.NotFoundHandler())
	url := server.URL
	server.Close()

	eng, err := New(testSettings())
	require.NoError(t, err)

	summary, err := eng.RunScenario(context.Background(), basicScenario(url), injection.MustProfile(injection.AtOnce{Users: 3}))
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Failed)
	assert.Equal(t, int64(3), summary.FailedRequests)
	assert.Equal(t, int64(3), summary.TransportErrors[string(http.ErrConnectionRefused)])
	assert.Equal(t, int64(3), summary.Scenarios["Basic Example"].CheckFailures[check.MessageNoResponse])
	assertAccounted(t, summary)
}

func TestEngine_InvalidSettings(t *testing.T) {
	s := DefaultSettings()
	s.Workers = -1
	s.Timeout = -time.Second

	_, err := New(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers must not be negative")
	assert.Contains(t, err.Error(), "timeout must not be negative")

	_, err = NewWithExecutor(DefaultSettings(), nil)
	assert.Error(t, err)
}

func TestEngine_InvalidSimulation(t *testing.T) {
	exec := &fakeExecutor{status: 200}
	eng, err := NewWithExecutor(testSettings(), exec)
	require.NoError(t, err)

	scn := basicScenario("http://x")
	profile := injection.MustProfile(injection.AtOnce{Users: 1})
	other := load.NewScenario("other").Exec(http.NewRequest("GET", "http://x/"), check.StatusEquals{Code: 200}).MustBuild()
	huge := injection.MustProfile(injection.AtOnce{Users: math.MaxInt64})

	tests := []struct {
		name string
		sim  Simulation
	}{
		{"no name", Simulation{Populations: []Population{{scn, profile}}}},
		{"no populations", Simulation{Name: "sim"}},
		{"unbuilt scenario", Simulation{Name: "sim", Populations: []Population{{load.Scenario{}, profile}}}},
		{"duplicate scenario", Simulation{Name: "sim", Populations: []Population{{scn, profile}, {scn, profile}}}},
		{"users overflow", Simulation{Name: "sim", Populations: []Population{{scn, huge}, {other, huge}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, err := eng.Run(context.Background(), tt.sim)
			require.Error(t, err)
			assert.Nil(t, summary)
		})
	}
	assert.Zero(t, exec.calls.Load(), "nothing is dispatched for invalid simulations")
}

func TestEngine_BoundedWorkers(t *testing.T) {
	exec := &fakeExecutor{status: 200, delay: 20 * time.Millisecond}
	s := testSettings()
	s.Workers = 3

	eng, err := NewWithExecutor(s, exec)
	require.NoError(t, err)

	summary, err := eng.RunScenario(context.Background(), basicScenario("http://x"), injection.MustProfile(injection.AtOnce{Users: 12}))
	require.NoError(t, err)

	assert.Equal(t, int64(12), summary.Completed)
	assert.LessOrEqual(t, exec.maxInFlight.Load(), int64(3))
	assertAccounted(t, summary)
}

func TestEngine_QueuedStartsKeepScheduleOrder(t *testing.T) {
	exec := &fakeExecutor{status: 200, delay: 5 * time.Millisecond}
	s := testSettings()
	s.Workers = 1

	eng, err := NewWithExecutor(s, exec)
	require.NoError(t, err)

	summary, err := eng.RunScenario(context.Background(), basicScenario("http://x"), injection.MustProfile(injection.AtOnce{Users: 8}))
	require.NoError(t, err)
	require.Len(t, summary.Runs, 8)

	for i := 1; i < len(summary.Runs); i++ {
		prev, cur := summary.Runs[i-1], summary.Runs[i]
		assert.Less(t, prev.UserID, cur.UserID)
		assert.False(t, cur.StartedAt.Before(prev.StartedAt.Add(prev.Duration)),
			"user %d started before user %d finished", cur.UserID, prev.UserID)
	}
}

func TestEngine_StartsFollowSchedule(t *testing.T) {
	exec := &fakeExecutor{status: 200}
	eng, err := NewWithExecutor(testSettings(), exec)
	require.NoError(t, err)

	start := time.Now()
	summary, err := eng.RunScenario(context.Background(), basicScenario("http://x"),
		injection.MustProfile(injection.RampUsers{Users: 3, Duration: 200 * time.Millisecond}))
	require.NoError(t, err)
	require.Len(t, summary.Runs, 3)

	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	for _, run := range summary.Runs {
		assert.False(t, run.StartedAt.Before(start.Add(run.ScheduledAt)),
			"user %d started before its scheduled time", run.UserID)
	}
}

func TestEngine_ForcedCancellation(t *testing.T) {
	exec := &fakeExecutor{status: 200, delay: time.Minute}
	s := testSettings()
	s.Workers = 4

	eng, err := NewWithExecutor(s, exec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	profile := injection.MustProfile(
		injection.AtOnce{Users: 10},
		injection.RampUsers{Users: 10, Duration: time.Minute},
	)
	summary, err := eng.RunScenario(ctx, basicScenario("http://x"), profile)

	require.Error(t, err)
	assert.True(t, IsFatal(err, Interrupted))
	var fe *FatalError
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, context.Canceled)

	require.NotNil(t, summary)
	assert.Equal(t, int64(20), summary.Scheduled)
	assert.Greater(t, summary.Dispatched, int64(0))
	assert.Greater(t, summary.NotStarted, int64(0))
	assert.Equal(t, summary.Dispatched, summary.Cancelled)
	assert.NotEmpty(t, summary.Error)
	assertAccounted(t, summary)
}

func TestEngine_TimeoutExceeded(t *testing.T) {
	exec := &fakeExecutor{status: 200}
	s := testSettings()
	s.Timeout = 150 * time.Millisecond

	eng, err := NewWithExecutor(s, exec)
	require.NoError(t, err)

	summary, err := eng.RunScenario(context.Background(), basicScenario("http://x"),
		injection.MustProfile(injection.ConstantRate{Rate: 20, Duration: 10 * time.Second}))

	require.Error(t, err)
	assert.True(t, IsFatal(err, TimeoutExceeded))
	require.NotNil(t, summary)
	assert.Equal(t, int64(200), summary.Scheduled)
	assert.Greater(t, summary.NotStarted, int64(0))
	assert.Greater(t, summary.Completed, int64(0))
	assertAccounted(t, summary)
}

// stubbornExecutor ignores cancellation until released.
type stubbornExecutor struct {
	release chan struct{}
}

func (s *stubbornExecutor) Execute(context.Context, http.Request, time.Duration) (*http.Response, error) {
	<-s.release
	return &http.Response{StatusCode: 200}, nil
}

func TestEngine_GracePeriodBoundsShutdown(t *testing.T) {
	exec := &stubbornExecutor{release: make(chan struct{})}
	t.Cleanup(func() { close(exec.release) })

	s := testSettings()
	s.GracePeriod = 50 * time.Millisecond
	eng, err := NewWithExecutor(s, exec)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	summary, err := eng.RunScenario(ctx, basicScenario("http://x"), injection.MustProfile(injection.AtOnce{Users: 5}))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, IsFatal(err, Interrupted))
	require.NotNil(t, summary)
	assert.Equal(t, int64(5), summary.Dispatched)
	assert.Equal(t, int64(5), summary.Cancelled)
	for _, run := range summary.Runs {
		assert.Equal(t, metrics.MessageNotReported, run.Error)
	}
	assertAccounted(t, summary)
}

func TestEngine_MultiplePopulations(t *testing.T) {
	exec := &fakeExecutor{status: 200}
	eng, err := NewWithExecutor(testSettings(), exec)
	require.NoError(t, err)

	browse := load.NewScenario("browse").Exec(http.NewRequest("GET", "http://x/"), check.StatusEquals{Code: 200}).MustBuild()
	buy := load.NewScenario("buy").
		Exec(http.NewRequest("POST", "http://x/cart").WithBody(`{"sku":1}`), check.StatusIn{Codes: []int{200, 201}}).
		Exec(http.NewRequest("POST", "http://x/checkout"), check.StatusEquals{Code: 200}).
		MustBuild()

	summary, err := eng.Run(context.Background(), Simulation{
		Name: "shop",
		Populations: []Population{
			{Scenario: browse, Profile: injection.MustProfile(injection.AtOnce{Users: 4})},
			{Scenario: buy, Profile: injection.MustProfile(injection.RampUsers{Users: 2, Duration: 50 * time.Millisecond})},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "shop", summary.Simulation)
	assert.Equal(t, int64(6), summary.Completed)
	assert.Equal(t, int64(8), summary.Requests)
	assert.Equal(t, int64(4), summary.Scenarios["browse"].Completed)
	assert.Equal(t, int64(2), summary.Scenarios["buy"].Completed)
	assert.Equal(t, int64(4), summary.Scenarios["buy"].Requests)
	assertAccounted(t, summary)
}

func TestEngine_EmptyProfile(t *testing.T) {
	eng, err := NewWithExecutor(testSettings(), &fakeExecutor{status: 200})
	require.NoError(t, err)

	summary, err := eng.RunScenario(context.Background(), basicScenario("http://x"), injection.MustProfile(injection.AtOnce{Users: 0}))
	require.NoError(t, err)
	assert.Zero(t, summary.Dispatched)
	assert.Empty(t, summary.Runs)
}

func TestEngine_ReportsProgress(t *testing.T) {
	exec := &fakeExecutor{status: 200, delay: 100 * time.Millisecond}
	s := testSettings()
	s.ProgressInterval = 10 * time.Millisecond

	var (
		calls    atomic.Int64
		lastSeen atomic.Int64
	)
	s.Progress = func(snap *metrics.RunSummary) {
		calls.Add(1)
		lastSeen.Store(snap.Scheduled)
	}

	eng, err := NewWithExecutor(s, exec)
	require.NoError(t, err)

	summary, err := eng.RunScenario(context.Background(), basicScenario("http://x"), injection.MustProfile(injection.AtOnce{Users: 3}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Completed)

	n := calls.Load()
	assert.Greater(t, n, int64(0))
	assert.Equal(t, int64(3), lastSeen.Load())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no progress is reported once Run returns")
}

func TestEngine_InvalidProgressInterval(t *testing.T) {
	s := DefaultSettings()
	s.ProgressInterval = -time.Second
	_, err := New(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "progress interval must not be negative")
}

type closingExecutor struct {
	*fakeExecutor
	closed atomic.Int64
}

func (c *closingExecutor) CloseIdleConnections() { c.closed.Add(1) }

func TestEngine_ClosesIdleConnectionsAfterRun(t *testing.T) {
	exec := &closingExecutor{fakeExecutor: &fakeExecutor{status: 200}}
	eng, err := NewWithExecutor(testSettings(), exec)
	require.NoError(t, err)

	_, err = eng.RunScenario(context.Background(), basicScenario("http://x"), injection.MustProfile(injection.AtOnce{Users: 2}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), exec.closed.Load())
}
