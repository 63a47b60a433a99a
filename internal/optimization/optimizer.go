package optimization

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Evaluator is the build-and-run oracle. It returns the best-of-N measured
// duration for value, or an error classified as a build or run failure.
// Results are noisy and failures may be transient.
type Evaluator interface {
	Evaluate(ctx context.Context, value int64) (time.Duration, error)
}

// StateStore persists the resumable search state.
type StateStore interface {
	// Load never fails: missing or malformed storage yields defaults.
	Load(ctx context.Context) State
	// Save overwrites the previous snapshot.
	Save(ctx context.Context, state State) error
}

// Bounds is the inclusive admissible range for the tuned parameter.
type Bounds struct {
	Low  int64
	High int64
}

// Validate checks Low <= High.
func (b Bounds) Validate() error {
	if b.Low > b.High {
		return fmt.Errorf("invalid bounds: low %d > high %d", b.Low, b.High)
	}
	if b.High-b.Low < 0 {
		return fmt.Errorf("invalid bounds: span of %s overflows int64", b)
	}
	return nil
}

// Contains reports whether v lies in [Low, High].
func (b Bounds) Contains(v int64) bool {
	return v >= b.Low && v <= b.High
}

// Clamp returns v limited to [Low, High].
func (b Bounds) Clamp(v int64) int64 {
	if v < b.Low {
		return b.Low
	}
	if v > b.High {
		return b.High
	}
	return v
}

// Mid returns the integer midpoint of the bounds.
func (b Bounds) Mid() int64 {
	// Overflow-safe (low+high)/2 for non-negative spans.
	return b.Low + (b.High-b.Low)/2
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%d, %d]", b.Low, b.High)
}

// State is the resumable search state: bounds plus the best known result.
type State struct {
	Bounds Bounds
	// BestVal is nil until a measurement succeeds.
	BestVal *int64
	// BestTime is +Inf until a measurement succeeds, in seconds.
	BestTime float64
}

// DefaultState returns a fresh state over bounds with no best value.
func DefaultState(bounds Bounds) State {
	return State{
		Bounds:   bounds,
		BestTime: math.Inf(1),
	}
}

// HasBest reports whether a best value has been recorded.
func (s State) HasBest() bool {
	return s.BestVal != nil
}

// Best returns the best value, or false when none exists.
func (s State) Best() (int64, bool) {
	if s.BestVal == nil {
		return 0, false
	}
	return *s.BestVal, true
}

// WithBest returns a copy of s with value/seconds committed as the best.
func (s State) WithBest(value int64, seconds float64) State {
	v := value
	s.BestVal = &v
	s.BestTime = seconds
	return s
}

// Measurement is a successful evaluation of a candidate.
type Measurement struct {
	Value int64
	// Time is the measured duration in seconds.
	Time float64
}

// Result summarises one search-and-sweep cycle.
type Result struct {
	// BestVal is nil when no measurement has ever succeeded.
	BestVal     *int64
	BestTime    float64
	Bounds      Bounds
	Iterations  int
	Evaluations int
}

// Phase names the part of a cycle that produced an observation.
type Phase string

const (
	PhaseSearch Phase = "search"
	PhaseSweep  Phase = "sweep"
)

// Progress is a point-in-time view of a running cycle.
type Progress struct {
	Phase       Phase
	Bounds      Bounds
	Current     int64
	Step        int64
	BestVal     *int64
	BestTime    float64
	Iteration   int
	Evaluations int
}

// Observer receives evaluation outcomes and progress updates. It is called
// synchronously from the search loop and must not block.
type Observer interface {
	ObserveEvaluation(phase Phase, value int64, elapsed time.Duration, err error)
	ObserveProgress(p Progress)
}

// NopObserver discards all observations.
type NopObserver struct{}

func (NopObserver) ObserveEvaluation(Phase, int64, time.Duration, error) {}
func (NopObserver) ObserveProgress(Progress)                             {}

// Observers fans observations out to several observers.
type Observers []Observer

func (o Observers) ObserveEvaluation(phase Phase, value int64, elapsed time.Duration, err error) {
	for _, obs := range o {
		obs.ObserveEvaluation(phase, value, elapsed, err)
	}
}

func (o Observers) ObserveProgress(p Progress) {
	for _, obs := range o {
		obs.ObserveProgress(p)
	}
}
