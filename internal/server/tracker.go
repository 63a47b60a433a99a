package server

import (
	"math"
	"sync"
	"time"

	"github.com/copyleftdev/steptune/internal/optimization"
)

// Status is a point-in-time view of the tuning session.
type Status struct {
	Session         string    `json:"session"`
	Attempt         int       `json:"attempt"`
	Phase           string    `json:"phase,omitempty"`
	Low             int64     `json:"low"`
	High            int64     `json:"high"`
	Current         int64     `json:"current"`
	Step            int64     `json:"step"`
	BestValue       *int64    `json:"best_value"`
	BestTime        *float64  `json:"best_time"`
	Iteration       int       `json:"iteration"`
	Evaluations     int       `json:"evaluations"`
	CyclesCompleted int       `json:"cycles_completed"`
	CyclesFailed    int       `json:"cycles_failed"`
	Restarts        int       `json:"restarts"`
	LastError       string    `json:"last_error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Tracker keeps the latest Status from search and supervisor observations.
// It is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

// NewTracker creates a Tracker for the given session.
func NewTracker(session string) *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{
			Session:   session,
			StartedAt: now,
			UpdatedAt: now,
		},
		now: time.Now,
	}
}

// Snapshot returns a copy of the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.status
	if s.BestValue != nil {
		v := *s.BestValue
		s.BestValue = &v
	}
	if s.BestTime != nil {
		v := *s.BestTime
		s.BestTime = &v
	}
	return s
}

func (t *Tracker) ObserveEvaluation(optimization.Phase, int64, time.Duration, error) {}

func (t *Tracker) ObserveProgress(p optimization.Progress) {
	t.update(func(s *Status) {
		s.Phase = string(p.Phase)
		s.Low = p.Bounds.Low
		s.High = p.Bounds.High
		s.Current = p.Current
		s.Step = p.Step
		s.Iteration = p.Iteration
		s.Evaluations = p.Evaluations
		s.BestValue = nil
		s.BestTime = nil
		if p.BestVal != nil && !math.IsInf(p.BestTime, 0) {
			v, secs := *p.BestVal, p.BestTime
			s.BestValue = &v
			s.BestTime = &secs
		}
	})
}

func (t *Tracker) ObserveAttempt(attempt int) {
	t.update(func(s *Status) { s.Attempt = attempt })
}

func (t *Tracker) ObserveCycle(_ int, err error) {
	t.update(func(s *Status) {
		if err != nil {
			s.CyclesFailed++
			s.LastError = err.Error()
			return
		}
		s.CyclesCompleted++
	})
}

func (t *Tracker) ObserveRestart(int, int) {
	t.update(func(s *Status) { s.Restarts++ })
}

func (t *Tracker) update(fn func(*Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.status)
	t.status.UpdatedAt = t.now()
}
