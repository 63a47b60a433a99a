// Command steptune tunes one integer build parameter for the fastest run
// time, resuming from its last checkpoint and restarting after failures.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/steptune/internal/config"
	"github.com/copyleftdev/steptune/internal/evaluator"
	"github.com/copyleftdev/steptune/internal/logging"
	"github.com/copyleftdev/steptune/internal/metrics"
	"github.com/copyleftdev/steptune/internal/optimization"
	"github.com/copyleftdev/steptune/internal/optimization/stepwise"
	"github.com/copyleftdev/steptune/internal/server"
	"github.com/copyleftdev/steptune/internal/state"
	"github.com/copyleftdev/steptune/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	sink, err := logging.NewSink(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Dir:         cfg.Logging.Dir,
		FilePattern: cfg.Logging.FilePattern,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer sink.Close()

	session := uuid.NewString()
	logger := sink.Logger(zap.String("session", session))

	store, err := state.FromConfig(cfg)
	if err != nil {
		logger.Error("Failed to initialize state store", zap.Error(err))
		return 1
	}
	eval, err := evaluator.FromConfig(cfg)
	if err != nil {
		logger.Error("Failed to initialize evaluator", zap.Error(err))
		return 1
	}

	collector := metrics.New()
	tracker := server.NewTracker(session)

	engine := stepwise.New(stepwise.Config{
		PlateauThreshold: cfg.Search.PlateauThreshold,
		SweepRadius:      cfg.Search.SweepRadius,
	}, eval, store, optimization.Observers{collector, tracker})

	sup := supervisor.New(
		supervisor.PolicyFromConfig(cfg),
		engine,
		attemptLogs{sink: sink, session: session},
		logger,
		collector, tracker,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting steptune",
		zap.String("param", cfg.Param.Name),
		zap.Int64("low", cfg.Search.LowerBound),
		zap.Int64("high", cfg.Search.UpperBound),
		zap.String("state", cfg.State.Path),
	)

	g, gctx := errgroup.WithContext(ctx)
	// The status server has no natural end; it stops with the supervisor.
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		defer stopServer()
		return sup.Run(gctx)
	})
	if cfg.HTTP.Addr != "" {
		srv := server.NewServer(cfg, logger, tracker, collector.Registry())
		g.Go(func() error {
			return srv.Run(srvCtx)
		})
	}

	err = g.Wait()
	switch {
	case err == nil:
		logger.Info("steptune finished")
		return 0
	case stderrors.Is(err, context.Canceled) && ctx.Err() != nil:
		logger.Info("Interrupted by user. Exiting gracefully.")
		return 0
	case stderrors.Is(err, supervisor.ErrRestartsExhausted):
		logger.Error("Giving up after repeated failures", zap.Error(err))
		return 1
	default:
		logger.Error("steptune failed", zap.Error(err))
		return 1
	}
}

// attemptLogs tags every attempt logger with the session.
type attemptLogs struct {
	sink    *logging.Sink
	session string
}

func (a attemptLogs) Attempt(attempt int, fields ...zap.Field) (*zap.Logger, func() error, error) {
	return a.sink.Attempt(attempt, append(fields, zap.String("session", a.session))...)
}
