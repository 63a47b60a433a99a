// Package stepwise implements the stepwise neighbour search with plateau
// detection and the exhaustive local sweep that follows it.
//
// Each search iteration evaluates {current-step, current, current+step}.
// Candidates whose times lie within the plateau threshold of the fastest
// are treated as indistinguishable: the bounds shrink to them and the step
// halves. A clear improvement keeps the step so the search can keep moving
// in the same direction. Anything else halves the step. Once the step
// reaches zero, every value within the sweep radius of the best is tried.
package stepwise

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/steptune/internal/errors"
	"github.com/copyleftdev/steptune/internal/logging"
	"github.com/copyleftdev/steptune/internal/optimization"
)

const component = "stepwise"

// Config tunes the search rules.
type Config struct {
	// PlateauThreshold is the relative time difference under which two
	// candidates count as equally fast.
	PlateauThreshold float64
	// SweepRadius is how far either side of the best the sweep reaches.
	SweepRadius int64
}

// DefaultConfig returns a 2% plateau threshold and a sweep radius of 2.
func DefaultConfig() Config {
	return Config{
		PlateauThreshold: 0.02,
		SweepRadius:      2,
	}
}

// Engine runs search-and-sweep cycles against an Evaluator, checkpointing
// to a StateStore after every state change.
type Engine struct {
	cfg       Config
	evaluator optimization.Evaluator
	store     optimization.StateStore
	observer  optimization.Observer
}

// New creates an Engine. A nil observer discards observations.
func New(cfg Config, evaluator optimization.Evaluator, store optimization.StateStore, observer optimization.Observer) *Engine {
	if cfg.PlateauThreshold <= 0 {
		cfg.PlateauThreshold = DefaultConfig().PlateauThreshold
	}
	if cfg.SweepRadius < 0 {
		cfg.SweepRadius = 0
	}
	if observer == nil {
		observer = optimization.NopObserver{}
	}
	return &Engine{
		cfg:       cfg,
		evaluator: evaluator,
		store:     store,
		observer:  observer,
	}
}

// Run resumes from the stored state, searches until the step is exhausted and
// finishes with the local sweep. The logger is taken from ctx.
func (e *Engine) Run(ctx context.Context) (*optimization.Result, error) {
	logger := logging.FromContext(ctx)

	s := newSearch(e.store.Load(ctx))
	logger.Info("Search started",
		zap.Stringer("bounds", s.state.Bounds),
		zap.Int64("current", s.current),
		zap.Int64("step", s.step),
		zap.Float64("best_time_s", s.state.BestTime),
	)
	e.observer.ObserveProgress(s.progress(optimization.PhaseSearch))

	for s.step >= 1 {
		s.iteration++

		var times []optimization.Measurement
		for _, v := range candidates(s.current, s.step, s.state.Bounds) {
			m, ok, err := e.evaluate(ctx, s, optimization.PhaseSearch, v)
			if err != nil {
				return nil, err
			}
			if ok {
				times = append(times, m)
			}
		}

		prevStep := s.step
		switch s.apply(times, e.cfg.PlateauThreshold) {
		case outcomeNoData:
			logger.Warn("No successful runs in this step. Halving step size.", zap.Int64("step", s.step))
		case outcomePlateau:
			logger.Info("Plateau detected, narrowing bounds and reducing step",
				zap.Stringer("bounds", s.state.Bounds),
				zap.Int64("current", s.current),
				zap.Int64("step", s.step),
			)
		case outcomeImprovement:
			logger.Info("New best",
				zap.Int64("value", s.current),
				zap.Float64("time_s", s.state.BestTime),
				zap.Int64("step", s.step),
			)
		case outcomeStagnation:
			logger.Info("No improvement, halving step",
				zap.Int64("previous_step", prevStep),
				zap.Int64("step", s.step),
			)
		}

		if err := e.save(ctx, s.state); err != nil {
			return nil, err
		}
		e.observer.ObserveProgress(s.progress(optimization.PhaseSearch))
	}

	logger.Info("Stepwise phase converged",
		zap.Int("iterations", s.iteration),
		zap.Stringer("bounds", s.state.Bounds),
	)
	return e.sweep(ctx, s)
}

// evaluate runs the oracle for one value. Evaluation failures are logged
// and reported as ok=false; only cancellation is returned as an error.
func (e *Engine) evaluate(ctx context.Context, s *search, phase optimization.Phase, value int64) (optimization.Measurement, bool, error) {
	if err := ctx.Err(); err != nil {
		return optimization.Measurement{}, false, err
	}

	logger := logging.FromContext(ctx).With(zap.String("phase", string(phase)), zap.Int64("value", value))
	logger.Info("Testing candidate")

	d, err := e.evaluator.Evaluate(ctx, value)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return optimization.Measurement{}, false, ctxErr
	}
	s.evaluations++
	e.observer.ObserveEvaluation(phase, value, d, err)

	if err != nil {
		switch errors.KindOf(err) {
		case errors.KindBuild:
			logger.Warn("Build failed. Skipping value.", zap.Error(err))
		case errors.KindRun:
			logger.Warn("Execution failed. Skipping value.", zap.Error(err))
		default:
			logger.Warn("Evaluation failed. Skipping value.", zap.Error(err))
		}
		return optimization.Measurement{}, false, nil
	}

	m := optimization.Measurement{Value: value, Time: d.Seconds()}
	logger.Info("Success", zap.Float64("time_s", m.Time), zap.Duration("time", d.Round(time.Millisecond)))
	return m, true, nil
}

func (e *Engine) save(ctx context.Context, st optimization.State) error {
	if err := e.store.Save(ctx, st); err != nil {
		return errors.Wrap(err, "persist state").
			WithKind(errors.KindFatal).
			WithComponent(component)
	}
	return nil
}
