package stepwise

import (
	"math"

	"github.com/copyleftdev/steptune/internal/optimization"
)

// outcome is what one search iteration decided.
type outcome string

const (
	outcomeNoData      outcome = "no_data"
	outcomePlateau     outcome = "plateau"
	outcomeImprovement outcome = "improvement"
	outcomeStagnation  outcome = "stagnation"
)

// search is the mutable state of one stepwise phase.
type search struct {
	state       optimization.State
	current     int64
	step        int64
	iteration   int
	evaluations int
}

func newSearch(st optimization.State) *search {
	s := &search{state: st}
	if best, ok := st.Best(); ok {
		// A plateau may have narrowed the bounds past the recorded best.
		s.current = st.Bounds.Clamp(best)
	} else {
		s.current = st.Bounds.Mid()
		s.state.BestTime = math.Inf(1)
	}
	s.step = max(1, (st.Bounds.High-st.Bounds.Low)/4)
	return s
}

// candidates returns {current-step, current, current+step} clipped to
// bounds, ascending.
func candidates(current, step int64, b optimization.Bounds) []int64 {
	out := make([]int64, 0, 3)
	for _, v := range []int64{current - step, current, current + step} {
		if !b.Contains(v) {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

// argmin returns the fastest measurement; ties go to the earliest.
func argmin(times []optimization.Measurement) optimization.Measurement {
	best := times[0]
	for _, m := range times[1:] {
		if m.Time < best.Time {
			best = m
		}
	}
	return best
}

// closeValues returns the values whose time is within threshold relative
// difference of minTime.
func closeValues(times []optimization.Measurement, minTime, threshold float64) []int64 {
	var out []int64
	for _, m := range times {
		if minTime == 0 {
			if m.Time == 0 {
				out = append(out, m.Value)
			}
			continue
		}
		if math.Abs(m.Time-minTime)/minTime < threshold {
			out = append(out, m.Value)
		}
	}
	return out
}

// apply folds one iteration's measurements into the search.
func (s *search) apply(times []optimization.Measurement, threshold float64) outcome {
	if len(times) == 0 {
		s.step /= 2
		return outcomeNoData
	}

	fastest := argmin(times)
	closeVals := closeValues(times, fastest.Time, threshold)

	if len(closeVals) > 1 {
		lo, hi := closeVals[0], closeVals[0]
		for _, v := range closeVals[1:] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		s.state.Bounds = optimization.Bounds{
			Low:  max(s.state.Bounds.Low, lo),
			High: min(s.state.Bounds.High, hi),
		}
		s.current = s.state.Bounds.Mid()
		s.step /= 2
		return outcomePlateau
	}

	if fastest.Time < s.state.BestTime {
		s.state = s.state.WithBest(fastest.Value, fastest.Time)
		s.current = fastest.Value
		return outcomeImprovement
	}

	s.step /= 2
	return outcomeStagnation
}

func (s *search) progress(phase optimization.Phase) optimization.Progress {
	return optimization.Progress{
		Phase:       phase,
		Bounds:      s.state.Bounds,
		Current:     s.current,
		Step:        s.step,
		BestVal:     s.state.BestVal,
		BestTime:    s.state.BestTime,
		Iteration:   s.iteration,
		Evaluations: s.evaluations,
	}
}
