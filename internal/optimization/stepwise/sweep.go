package stepwise

import (
	"context"

	"go.uber.org/zap"

	"github.com/copyleftdev/steptune/internal/logging"
	"github.com/copyleftdev/steptune/internal/optimization"
)

// sweep evaluates every integer within SweepRadius of the best value, in
// ascending order, committing and persisting any strictly faster result.
// Without a best value it sweeps around the current position, so the first
// success becomes the best.
func (e *Engine) sweep(ctx context.Context, s *search) (*optimization.Result, error) {
	logger := logging.FromContext(ctx)

	center, ok := s.state.Best()
	if !ok {
		center = s.state.Bounds.Clamp(s.current)
		logger.Warn("No successful measurement after stepwise phase; sweeping around current value",
			zap.Int64("current", center))
	}

	lo := max(s.state.Bounds.Low, center-e.cfg.SweepRadius)
	hi := min(s.state.Bounds.High, center+e.cfg.SweepRadius)
	logger.Info("Local sweep started", zap.Int64("from", lo), zap.Int64("to", hi))

	for v := lo; v <= hi; v++ {
		s.current = v
		m, ok, err := e.evaluate(ctx, s, optimization.PhaseSweep, v)
		if err != nil {
			return nil, err
		}
		if ok && m.Time < s.state.BestTime {
			s.state = s.state.WithBest(m.Value, m.Time)
			logger.Info("Local sweep new best", zap.Int64("value", m.Value), zap.Float64("time_s", m.Time))
			if err := e.save(ctx, s.state); err != nil {
				return nil, err
			}
		}
		e.observer.ObserveProgress(s.progress(optimization.PhaseSweep))
	}

	result := &optimization.Result{
		BestTime:    s.state.BestTime,
		Bounds:      s.state.Bounds,
		Iterations:  s.iteration,
		Evaluations: s.evaluations,
	}
	if best, ok := s.state.Best(); ok {
		result.BestVal = &best
		logger.Info("Search complete",
			zap.Int64("best_value", best),
			zap.Float64("best_time_s", s.state.BestTime),
			zap.Int("evaluations", s.evaluations),
		)
	} else {
		logger.Warn("Search complete without a successful measurement",
			zap.Int("evaluations", s.evaluations))
	}
	return result, nil
}
