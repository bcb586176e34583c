// Package injection describes open-model arrival profiles and turns them into
// schedules of virtual user start events.
package injection

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Step is one phase of an injection profile: AtOnce, RampUsers or ConstantRate.
type Step interface {
	fmt.Stringer

	users() int64
	span() time.Duration
	validate(index int) error
	emit(offset time.Duration, yield func(time.Duration) bool) bool
}

// AtOnce starts Users virtual users at the step offset.
type AtOnce struct {
	Users int64
}

// RampUsers starts Users virtual users evenly spread over Duration. The first
// starts at the step offset and the last one Duration later.
type RampUsers struct {
	Users    int64
	Duration time.Duration
}

// ConstantRate starts Rate users per second for Duration.
//
// Arrivals are evenly spaced unless Randomized is set, in which case they
// follow a Poisson process drawn from a generator seeded with Seed.
type ConstantRate struct {
	Rate       float64
	Duration   time.Duration
	Randomized bool
	Seed       uint64
}

func (s AtOnce) String() string { return fmt.Sprintf("atOnceUsers(%d)", s.Users) }

func (s RampUsers) String() string {
	return fmt.Sprintf("rampUsers(%d) during %s", s.Users, s.Duration)
}

func (s ConstantRate) String() string {
	str := fmt.Sprintf("constantUsersPerSec(%g) during %s", s.Rate, s.Duration)
	if s.Randomized {
		str += " randomized"
	}
	return str
}

func (s AtOnce) users() int64 { return s.Users }

func (s RampUsers) users() int64 {
	if s.Duration <= 0 {
		return 0
	}
	return s.Users
}

func (s ConstantRate) users() int64 {
	if s.Rate <= 0 || s.Duration <= 0 {
		return 0
	}
	if n := s.Rate * s.Duration.Seconds(); n >= math.MaxInt64 {
		return math.MaxInt64
	}
	// Tolerate float noise such as 0.7*10 = 7.000000000000001 or 6.9999999.
	return int64(math.Floor(s.Rate*s.Duration.Seconds() + 1e-9))
}

func (s AtOnce) span() time.Duration       { return 0 }
func (s RampUsers) span() time.Duration    { return s.Duration }
func (s ConstantRate) span() time.Duration { return s.Duration }

func (s AtOnce) validate(index int) error {
	if s.Users < 0 {
		return newSchedulingError(index, s, "users", "must not be negative, got %d", s.Users)
	}
	return nil
}

func (s RampUsers) validate(index int) error {
	var errs []error
	if s.Users < 0 {
		errs = append(errs, newSchedulingError(index, s, "users", "must not be negative, got %d", s.Users))
	}
	if s.Duration < 0 {
		errs = append(errs, newSchedulingError(index, s, "duration", "must not be negative, got %s", s.Duration))
	}
	return errors.Join(errs...)
}

func (s ConstantRate) validate(index int) error {
	var errs []error
	if s.Rate < 0 || math.IsNaN(s.Rate) || math.IsInf(s.Rate, 0) {
		errs = append(errs, newSchedulingError(index, s, "rate", "must be a finite non-negative number, got %g", s.Rate))
	}
	if s.Duration < 0 {
		errs = append(errs, newSchedulingError(index, s, "duration", "must not be negative, got %s", s.Duration))
	}
	if len(errs) == 0 && s.Rate*s.Duration.Seconds() >= math.MaxInt64 {
		errs = append(errs, newSchedulingError(index, s, "rate", "schedules more than %d users over %s", int64(math.MaxInt64), s.Duration))
	}
	return errors.Join(errs...)
}

func (s AtOnce) emit(offset time.Duration, yield func(time.Duration) bool) bool {
	for i := int64(0); i < s.Users; i++ {
		if !yield(offset) {
			return false
		}
	}
	return true
}

func (s RampUsers) emit(offset time.Duration, yield func(time.Duration) bool) bool {
	n := s.users()
	if n == 1 {
		return yield(offset)
	}
	for i := int64(0); i < n; i++ {
		if !yield(offset + scale(s.Duration, i, n-1)) {
			return false
		}
	}
	return true
}

func (s ConstantRate) emit(offset time.Duration, yield func(time.Duration) bool) bool {
	n := s.users()
	if n == 0 {
		return true
	}
	if !s.Randomized {
		interval := float64(time.Second) / s.Rate
		for k := int64(0); k < n; k++ {
			if !yield(offset + time.Duration(float64(k)*interval)) {
				return false
			}
		}
		return true
	}

	// Conditioned on n arrivals, a Poisson process places them like sorted
	// uniform samples over the window. Those are the normalised partial sums
	// of n+1 exponential gaps, so one pass computes the total and a second
	// pass over the same seed yields the arrivals in order.
	var total float64
	rng := s.rng()
	for k := int64(0); k <= n; k++ {
		total += rng.ExpFloat64()
	}
	rng = s.rng()
	var sum float64
	for k := int64(0); k < n; k++ {
		sum += rng.ExpFloat64()
		if !yield(offset + time.Duration(sum/total*float64(s.Duration))) {
			return false
		}
	}
	return true
}

func (s ConstantRate) rng() *rand.Rand {
	return rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
}

// scale returns d*i/n without overflowing for long durations.
func scale(d time.Duration, i, n int64) time.Duration {
	q, r := int64(d)/n, int64(d)%n
	return time.Duration(q*i + r*i/n)
}

// StartEvent asks the engine to start virtual user UserID at offset At from
// the beginning of the run.
type StartEvent struct {
	UserID int64
	At     time.Duration
}

// Profile is an ordered, validated list of injection steps laid out back to
// back: each step starts when the previous one ends.
type Profile struct {
	steps []Step
}

// NewProfile validates steps and returns a Profile. Any negative count,
// duration or rate yields a *SchedulingError, as does a profile whose total
// user count does not fit in an int64.
func NewProfile(steps ...Step) (Profile, error) {
	var (
		errs  []error
		total int64
	)
	for i, s := range steps {
		if s == nil {
			errs = append(errs, &SchedulingError{Step: i, Reason: "step is nil"})
			continue
		}
		if err := s.validate(i); err != nil {
			errs = append(errs, err)
			continue
		}
		n := s.users()
		if total > math.MaxInt64-n {
			errs = append(errs, newSchedulingError(i, s, "users", "overflow the profile total of %d users", total))
			continue
		}
		total += n
	}
	if err := errors.Join(errs...); err != nil {
		return Profile{}, err
	}
	return Profile{steps: append([]Step(nil), steps...)}, nil
}

// MustProfile is like NewProfile but panics on error.
func MustProfile(steps ...Step) Profile {
	p, err := NewProfile(steps...)
	if err != nil {
		panic(err)
	}
	return p
}

// Steps returns a copy of the profile steps.
func (p Profile) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// TotalUsers returns the number of start events the schedule produces.
func (p Profile) TotalUsers() int64 {
	var n int64
	for _, s := range p.steps {
		n += s.users()
	}
	return n
}

// Duration returns the offset at which the last step ends.
func (p Profile) Duration() time.Duration {
	var d time.Duration
	for _, s := range p.steps {
		d += s.span()
	}
	return d
}

func (p Profile) String() string {
	parts := make([]string, len(p.steps))
	for i, s := range p.steps {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}

// Schedule returns the start events of the profile in non-decreasing time
// order. The sequence is computed lazily from the profile alone, so it can be
// iterated any number of times with identical results.
func (p Profile) Schedule() iter.Seq[StartEvent] {
	return func(yield func(StartEvent) bool) {
		var (
			id     int64
			offset time.Duration
		)
		for _, s := range p.steps {
			ok := s.emit(offset, func(at time.Duration) bool {
				id++
				return yield(StartEvent{UserID: id, At: at})
			})
			if !ok {
				return
			}
			offset += s.span()
		}
	}
}
