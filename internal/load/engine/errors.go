package engine

import (
	"errors"
	"fmt"
)

// FatalKind classifies why a run ended early.
type FatalKind string

const (
	// Interrupted means the caller's context was cancelled.
	Interrupted FatalKind = "interrupted"
	// TimeoutExceeded means the overall run timeout elapsed with work outstanding.
	TimeoutExceeded FatalKind = "timeout_exceeded"
)

// FatalError ends a run early. Run returns it together with the partial
// summary of everything that was attempted.
type FatalError struct {
	Kind FatalKind
	Err  error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("load run %s", e.Kind)
	}
	return fmt.Sprintf("load run %s: %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a *FatalError of the given kind.
func IsFatal(err error, kind FatalKind) bool {
	var fe *FatalError
	return errors.As(err, &fe) && fe.Kind == kind
}

var errTimeout = errors.New("overall timeout elapsed")
