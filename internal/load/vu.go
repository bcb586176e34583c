package load

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/surge/internal/http"
	"github.com/wesleyorama2/surge/internal/load/check"
)

// RunStatus is the final state of a virtual user run.
type RunStatus int

const (
	// StatusCompleted means every request got a response and every check passed.
	StatusCompleted RunStatus = iota
	// StatusFailed means the journey finished but a request or a check failed.
	StatusFailed
	// StatusCancelled means the run was stopped before its journey finished.
	StatusCancelled
)

func (s RunStatus) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RunStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RunStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "completed":
		*s = StatusCompleted
	case "failed":
		*s = StatusFailed
	case "cancelled":
		*s = StatusCancelled
	default:
		return fmt.Errorf("unknown run status %q", b)
	}
	return nil
}

// Executor sends a single request. *http.Client implements it.
type Executor interface {
	Execute(ctx context.Context, req http.Request, timeout time.Duration) (*http.Response, error)
}

// StepResult records the outcome of a request step.
type StepResult struct {
	Index      int            `json:"index"`
	Name       string         `json:"name"`
	StartedAt  time.Time      `json:"startedAt"`
	Duration   time.Duration  `json:"duration"`
	StatusCode int            `json:"statusCode,omitempty"`
	Bytes      int64          `json:"bytes,omitempty"`
	ErrorKind  http.ErrorKind `json:"errorKind,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Failed reports whether the step did not produce a response.
func (r StepResult) Failed() bool {
	return r.Error != ""
}

// VirtualUserRun is the record of one virtual user executing a scenario.
type VirtualUserRun struct {
	UserID      int64          `json:"userId"`
	Scenario    string         `json:"scenario"`
	ScheduledAt time.Duration  `json:"scheduledAt"`
	StartedAt   time.Time      `json:"startedAt"`
	Duration    time.Duration  `json:"duration"`
	Status      RunStatus      `json:"status"`
	Requests    []StepResult   `json:"requests,omitempty"`
	Checks      []check.Result `json:"checks,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// PassedChecks returns the number of passed checks.
func (r *VirtualUserRun) PassedChecks() int {
	n := 0
	for _, c := range r.Checks {
		if c.Passed {
			n++
		}
	}
	return n
}

// FailedChecks returns the number of failed checks.
func (r *VirtualUserRun) FailedChecks() int {
	return len(r.Checks) - r.PassedChecks()
}

// VirtualUser executes a scenario once, strictly step by step.
//
// Each VirtualUser is independent: its suspension on network I/O or pauses
// never blocks any other user.
type VirtualUser struct {
	// ID is the 1-based user identifier from the schedule
	ID int64

	// Scenario to execute
	Scenario Scenario

	// Executor used for request steps
	Executor Executor

	// RequestTimeout bounds each request unless the request sets its own (0 = executor default)
	RequestTimeout time.Duration

	// Logger receives per-step debug output
	Logger zerolog.Logger
}

// Run executes the scenario and always returns a record with a final status.
//
// A request that fails marks the checks depending on it as failed with
// "no response" and execution continues with the next step. If ctx is
// cancelled the run stops and is marked StatusCancelled.
func (vu *VirtualUser) Run(ctx context.Context, scheduledAt time.Duration) (run *VirtualUserRun) {
	run = &VirtualUserRun{
		UserID:      vu.ID,
		Scenario:    vu.Scenario.Name(),
		ScheduledAt: scheduledAt,
		StartedAt:   time.Now(),
		Status:      StatusCompleted,
	}
	log := vu.Logger.With().Int64("vu", vu.ID).Str("scenario", run.Scenario).Logger()

	defer func() {
		if r := recover(); r != nil {
			run.Status = StatusFailed
			run.Error = fmt.Sprintf("virtual user panicked: %v", r)
			log.Error().Interface("panic", r).Msg("virtual user panicked")
		}
		run.Duration = time.Since(run.StartedAt)
		log.Debug().
			Stringer("status", run.Status).
			Int("passedChecks", run.PassedChecks()).
			Int("failedChecks", run.FailedChecks()).
			Dur("duration", run.Duration).
			Msg("virtual user finished")
	}()

	var (
		last     *http.Response
		failed   bool
		finished = true
	)

steps:
	for i := 0; i < vu.Scenario.Len(); i++ {
		if ctx.Err() != nil {
			finished = false
			break
		}

		switch st := vu.Scenario.Step(i).(type) {
		case RequestStep:
			resp, result := vu.execute(ctx, i, st.Request)
			run.Requests = append(run.Requests, result)
			last = resp
			if result.Failed() {
				if result.ErrorKind == http.ErrCancelled || ctx.Err() != nil {
					finished = false
					break steps
				}
				failed = true
				log.Debug().Str("request", result.Name).Str("kind", string(result.ErrorKind)).Msg(result.Error)
			}

		case CheckStep:
			var result check.Result
			if last == nil {
				result = check.Failed(i, st.Predicate, check.MessageNoResponse)
			} else {
				result = check.Evaluate(i, st.Predicate, last)
			}
			run.Checks = append(run.Checks, result)
			if !result.Passed {
				failed = true
				log.Debug().Str("check", result.Check).Msg(result.Message)
			}

		case PauseStep:
			if !pause(ctx, st.Duration) {
				finished = false
				break steps
			}
		}
	}

	switch {
	case !finished:
		run.Status = StatusCancelled
		if cause := context.Cause(ctx); cause != nil {
			run.Error = cause.Error()
		}
	case failed:
		run.Status = StatusFailed
	}
	return run
}

func (vu *VirtualUser) execute(ctx context.Context, index int, req http.Request) (*http.Response, StepResult) {
	result := StepResult{
		Index:     index,
		Name:      req.Label(),
		StartedAt: time.Now(),
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = vu.RequestTimeout
	}

	resp, err := vu.Executor.Execute(ctx, req, timeout)
	result.Duration = time.Since(result.StartedAt)
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = http.KindOf(err)
		return nil, result
	}
	if resp == nil {
		result.Error = "executor returned no response"
		result.ErrorKind = http.ErrOther
		return nil, result
	}

	result.StatusCode = resp.StatusCode
	result.Bytes = resp.BytesReceived()
	result.Duration = resp.Duration
	return resp, result
}

// pause waits for d or until ctx is done; it reports whether the full pause elapsed.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
