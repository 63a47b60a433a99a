// Package metrics exports search progress as prometheus metrics.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/copyleftdev/steptune/internal/errors"
	"github.com/copyleftdev/steptune/internal/optimization"
)

const namespace = "steptune"

// Collector implements optimization.Observer and the supervisor's observer
// on a private registry.
type Collector struct {
	registry *prometheus.Registry

	evaluations *prometheus.CounterVec
	evalSeconds *prometheus.HistogramVec
	bestSeconds prometheus.Gauge
	bestValue   prometheus.Gauge
	step        prometheus.Gauge
	bound       *prometheus.GaugeVec
	iteration   prometheus.Gauge
	attempt     prometheus.Gauge
	cycles      *prometheus.CounterVec
	restarts    prometheus.Counter
}

// New creates a Collector with its metrics and the Go runtime and process
// collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Candidate evaluations by phase and outcome.",
		}, []string{"phase", "outcome"}),
		evalSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_seconds",
			Help:      "Best-of-N measured run time of successful evaluations.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"phase"}),
		bestSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_seconds",
			Help:      "Fastest run time recorded so far.",
		}),
		bestValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_value",
			Help:      "Parameter value that produced the fastest run time.",
		}),
		step: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step",
			Help:      "Current step size of the stepwise search.",
		}),
		bound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bound",
			Help:      "Current search bounds.",
		}, []string{"side"}),
		iteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iteration",
			Help:      "Search iteration within the current cycle.",
		}),
		attempt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attempt",
			Help:      "Current supervisor attempt number.",
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Finished search cycles by outcome.",
		}, []string{"outcome"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Restarts scheduled after failed cycles.",
		}),
	}

	c.registry.MustRegister(
		c.evaluations,
		c.evalSeconds,
		c.bestSeconds,
		c.bestValue,
		c.step,
		c.bound,
		c.iteration,
		c.attempt,
		c.cycles,
		c.restarts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveEvaluation(phase optimization.Phase, _ int64, elapsed time.Duration, err error) {
	if err != nil {
		c.evaluations.WithLabelValues(string(phase), outcome(err)).Inc()
		return
	}
	c.evaluations.WithLabelValues(string(phase), "success").Inc()
	c.evalSeconds.WithLabelValues(string(phase)).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveProgress(p optimization.Progress) {
	c.step.Set(float64(p.Step))
	c.bound.WithLabelValues("low").Set(float64(p.Bounds.Low))
	c.bound.WithLabelValues("high").Set(float64(p.Bounds.High))
	c.iteration.Set(float64(p.Iteration))
	if p.BestVal != nil && !math.IsInf(p.BestTime, 0) {
		c.bestValue.Set(float64(*p.BestVal))
		c.bestSeconds.Set(p.BestTime)
	}
}

func (c *Collector) ObserveAttempt(attempt int) {
	c.attempt.Set(float64(attempt))
}

func (c *Collector) ObserveCycle(_ int, err error) {
	if err != nil {
		c.cycles.WithLabelValues("failed").Inc()
		return
	}
	c.cycles.WithLabelValues("completed").Inc()
}

func (c *Collector) ObserveRestart(int, int) {
	c.restarts.Inc()
}

func outcome(err error) string {
	switch kind := errors.KindOf(err); kind {
	case errors.KindBuild, errors.KindRun:
		return string(kind)
	default:
		return "error"
	}
}
