package injection

import "fmt"

// SchedulingError reports an invalid injection step.
type SchedulingError struct {
	Step   int
	Kind   string
	Field  string
	Reason string
}

func newSchedulingError(index int, s Step, field, format string, args ...any) *SchedulingError {
	return &SchedulingError{Step: index, Kind: s.String(), Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *SchedulingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("injection step %d: %s", e.Step, e.Reason)
	}
	return fmt.Sprintf("injection step %d (%s): %s %s", e.Step, e.Kind, e.Field, e.Reason)
}
