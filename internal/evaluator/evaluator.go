// Package evaluator implements the build-and-run oracle: it injects a
// candidate value, rebuilds the artifact and times several executions.
package evaluator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/steptune/internal/config"
	"github.com/copyleftdev/steptune/internal/errors"
	"github.com/copyleftdev/steptune/internal/logging"
)

const component = "evaluator"

// Config describes how to build and run the artifact.
type Config struct {
	BuildCommand string
	BuildDir     string
	BuildTimeout time.Duration
	RunCommand   string
	RunAttempts  int
	RunTimeout   time.Duration
}

// Evaluator builds and times the artifact for a candidate value.
type Evaluator struct {
	cfg      Config
	injector Injector
}

// New creates an Evaluator.
func New(cfg Config, injector Injector) *Evaluator {
	if cfg.RunAttempts < 1 {
		cfg.RunAttempts = 1
	}
	return &Evaluator{cfg: cfg, injector: injector}
}

// FromConfig builds an Evaluator and its Injector from the application config.
func FromConfig(cfg *config.Config) (*Evaluator, error) {
	var injector Injector
	switch cfg.Param.Inject {
	case config.InjectSource:
		path := cfg.Param.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Build.Dir, path)
		}
		injector = NewSourcePatcher(path, cfg.Param.Name, cfg.Param.Type)
	case config.InjectEnv:
		injector = EnvInjector{Name: cfg.Param.Name}
	default:
		return nil, fmt.Errorf("unknown injection mode %q", cfg.Param.Inject)
	}

	return New(Config{
		BuildCommand: cfg.Build.Command,
		BuildDir:     cfg.Build.Dir,
		BuildTimeout: cfg.Build.Timeout,
		RunCommand:   cfg.Run.Command,
		RunAttempts:  cfg.Run.Attempts,
		RunTimeout:   cfg.Run.Timeout,
	}, injector), nil
}

// Evaluate returns the fastest successful run for value. Failures are
// classified as errors.KindBuild or errors.KindRun; context cancellation is
// returned unclassified.
func (e *Evaluator) Evaluate(ctx context.Context, value int64) (time.Duration, error) {
	logger := logging.FromContext(ctx).With(zap.Int64("value", value))

	env, err := e.injector.Inject(value)
	if err != nil {
		return 0, errors.Wrap(err, "inject value").
			WithKind(errors.KindBuild).WithComponent(component).WithOperation("build")
	}

	if err := e.build(ctx, logger, value, env); err != nil {
		return 0, err
	}

	times := make([]float64, 0, e.cfg.RunAttempts)
	for attempt := 1; attempt <= e.cfg.RunAttempts; attempt++ {
		res, err := runCommand(ctx, Command{
			Line:    expand(e.cfg.RunCommand, value),
			Dir:     e.cfg.BuildDir,
			Timeout: e.cfg.RunTimeout,
		})
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		switch {
		case err != nil:
			logger.Warn("Run attempt failed", zap.Int("run_attempt", attempt), zap.Error(err))
		case res.ExitCode != 0:
			logger.Warn("Run attempt failed",
				zap.Int("run_attempt", attempt),
				zap.Int("exit_code", res.ExitCode),
				zap.String("stderr", strings.TrimSpace(string(res.Stderr))),
			)
		default:
			times = append(times, res.Elapsed.Seconds())
		}
	}

	if len(times) == 0 {
		return 0, errors.Errorf("all %d run attempts failed", e.cfg.RunAttempts).
			WithKind(errors.KindRun).WithComponent(component).WithOperation("run")
	}

	best := floats.Min(times)
	if len(times) > 1 {
		mean, std := stat.MeanStdDev(times, nil)
		logger.Debug("Run attempts summary",
			zap.Int("successful", len(times)),
			zap.Float64("min_s", best),
			zap.Float64("mean_s", mean),
			zap.Float64("stddev_s", std),
		)
	}

	return time.Duration(best * float64(time.Second)), nil
}

func (e *Evaluator) build(ctx context.Context, logger *zap.Logger, value int64, env []string) error {
	res, err := runCommand(ctx, Command{
		Line:    expand(e.cfg.BuildCommand, value),
		Dir:     e.cfg.BuildDir,
		Env:     env,
		Timeout: e.cfg.BuildTimeout,
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return errors.Wrap(err, "build did not complete").
			WithKind(errors.KindBuild).WithComponent(component).WithOperation("build")
	}
	if res.ExitCode != 0 {
		logger.Warn("Build failed",
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", strings.TrimSpace(string(res.Stderr))),
		)
		return errors.Errorf("build exited with status %d", res.ExitCode).
			WithKind(errors.KindBuild).WithComponent(component).WithOperation("build")
	}
	return nil
}
