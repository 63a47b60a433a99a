// Package supervisor runs search cycles forever, restarting failed cycles
// after a fixed delay.
//
// Attempts are numbered from 1 and each gets its own log file. A failed
// cycle is retried within the same attempt, keeping its log, until the
// restart budget for that attempt is spent. A completed cycle moves on to
// the next attempt with a fresh budget.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/steptune/internal/config"
	"github.com/copyleftdev/steptune/internal/errors"
	"github.com/copyleftdev/steptune/internal/logging"
	"github.com/copyleftdev/steptune/internal/optimization"
)

const component = "supervisor"

// ErrRestartsExhausted is returned once a single attempt has failed more
// times than the restart budget allows.
var ErrRestartsExhausted = errors.New("maximum restarts reached").
	WithKind(errors.KindFatal).
	WithComponent(component)

// Policy bounds how long the supervisor keeps going.
type Policy struct {
	// MaxRestarts is the number of retries allowed per attempt.
	MaxRestarts int
	// RestartDelay is the fixed pause before each retry.
	RestartDelay time.Duration
	// MaxCycles stops after this many completed cycles. Zero means never.
	MaxCycles int
	// StableCycles stops after this many consecutive completed cycles
	// that leave the best value unchanged. Zero disables it.
	StableCycles int
}

// DefaultPolicy allows 5 restarts, 5s apart, and never stops on its own.
func DefaultPolicy() Policy {
	return Policy{
		MaxRestarts:  5,
		RestartDelay: 5 * time.Second,
	}
}

// PolicyFromConfig reads the supervisor section of cfg.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxRestarts:  cfg.Supervisor.MaxRestarts,
		RestartDelay: cfg.Supervisor.RestartDelay,
		MaxCycles:    cfg.Supervisor.MaxCycles,
		StableCycles: cfg.Supervisor.StableCycles,
	}
}

// Cycle is one complete search-and-sweep run.
type Cycle interface {
	Run(ctx context.Context) (*optimization.Result, error)
}

// LogOpener opens the per-attempt logger. The returned function closes it.
type LogOpener interface {
	Attempt(attempt int, fields ...zap.Field) (*zap.Logger, func() error, error)
}

// Observer is notified of attempt, cycle and restart events.
type Observer interface {
	ObserveAttempt(attempt int)
	ObserveCycle(attempt int, err error)
	ObserveRestart(attempt, restarts int)
}

// Supervisor drives Cycles under a Policy.
type Supervisor struct {
	policy    Policy
	cycle     Cycle
	logs      LogOpener
	logger    *zap.Logger
	observers []Observer
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a Supervisor. logger receives the messages that do not
// belong to a single attempt.
func New(policy Policy, cycle Cycle, logs LogOpener, logger *zap.Logger, observers ...Observer) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		policy:    policy,
		cycle:     cycle,
		logs:      logs,
		logger:    logger,
		observers: observers,
		sleep:     sleepContext,
	}
}

// Run loops over attempts until a cycle limit is reached (nil), ctx is
// cancelled (ctx.Err()) or an attempt exhausts its restarts.
func (s *Supervisor) Run(ctx context.Context) error {
	var (
		completed int
		stable    int
		lastBest  *int64
	)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := s.runAttempt(ctx, attempt)
		if err != nil {
			return err
		}

		completed++
		if lastBest != nil && result.BestVal != nil && *lastBest == *result.BestVal {
			stable++
		} else {
			stable = 0
		}
		lastBest = result.BestVal

		if s.policy.MaxCycles > 0 && completed >= s.policy.MaxCycles {
			s.logger.Info("Cycle limit reached. Stopping.", zap.Int("cycles", completed))
			return nil
		}
		if s.policy.StableCycles > 0 && stable >= s.policy.StableCycles {
			s.logger.Info("Best value stable. Stopping.",
				zap.Int64("best_value", *lastBest),
				zap.Int("stable_cycles", stable),
			)
			return nil
		}
	}
}

// runAttempt runs cycles under one attempt's log until one completes or the
// restart budget is spent.
func (s *Supervisor) runAttempt(ctx context.Context, attempt int) (*optimization.Result, error) {
	logger, closeLog, err := s.logs.Attempt(attempt)
	if err != nil {
		return nil, errors.Wrap(err, "open attempt log").
			WithKind(errors.KindFatal).
			WithComponent(component)
	}
	defer func() {
		if err := closeLog(); err != nil {
			s.logger.Warn("Failed to close attempt log", zap.Int("attempt", attempt), zap.Error(err))
		}
	}()

	ctx = logging.WithContext(ctx, logger)
	for _, o := range s.observers {
		o.ObserveAttempt(attempt)
	}

	restarts := 0
	for {
		logger.Info("Starting stepwise search")

		var result *optimization.Result
		err := errors.Recover(component, func() error {
			var runErr error
			result, runErr = s.cycle.Run(ctx)
			return runErr
		})

		if err == nil {
			if result.BestVal != nil {
				logger.Info("Search completed successfully",
					zap.Int64("best_value", *result.BestVal),
					zap.Float64("best_time_s", result.BestTime),
				)
			} else {
				logger.Warn("Search completed without a best value")
			}
			s.observeCycle(attempt, nil)
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Info("Search interrupted", zap.Error(err))
			return nil, ctxErr
		}

		s.observeCycle(attempt, err)
		fields := []zap.Field{zap.Error(err)}
		var e *errors.Error
		if errors.As(err, &e) && e.Kind == errors.KindFatal && len(e.Stack) > 0 {
			fields = append(fields, zap.Strings("stack", e.Stack))
		}
		logger.Error("Search failed", fields...)

		if restarts >= s.policy.MaxRestarts {
			logger.Error("Maximum restarts reached. Exiting.", zap.Int("restarts", restarts))
			return nil, fmt.Errorf("%w: %w", ErrRestartsExhausted, err)
		}

		restarts++
		for _, o := range s.observers {
			o.ObserveRestart(attempt, restarts)
		}
		logger.Warn("Restarting search",
			zap.Int("restart", restarts),
			zap.Int("max_restarts", s.policy.MaxRestarts),
			zap.Duration("delay", s.policy.RestartDelay),
		)
		if err := s.sleep(ctx, s.policy.RestartDelay); err != nil {
			return nil, err
		}
	}
}

func (s *Supervisor) observeCycle(attempt int, err error) {
	for _, o := range s.observers {
		o.ObserveCycle(attempt, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
