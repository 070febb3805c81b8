package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmorgan81/promptmint/internal/failure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do"
)

const namespace = "promptmint"

// PrometheusObserver exports per-stage latency and failure counts of the
// generation pipeline.
type PrometheusObserver struct {
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
}

func NewObserver(i *do.Injector) (*PrometheusObserver, error) {
	return NewPrometheusObserver(do.MustInvoke[prometheus.Registerer](i))
}

func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	stageDuration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Latency of each generation pipeline stage.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
	}, []string{"stage"}))
	if err != nil {
		return nil, err
	}
	stageErrors, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_errors_total",
		Help:      "Pipeline stage failures by error kind.",
	}, []string{"stage", "kind"}))
	if err != nil {
		return nil, err
	}
	runs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Completed pipeline runs by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}
	runDuration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "End to end latency of a pipeline run.",
		Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120},
	}))
	if err != nil {
		return nil, err
	}

	return &PrometheusObserver{
		stageDuration: stageDuration,
		stageErrors:   stageErrors,
		runs:          runs,
		runDuration:   runDuration,
	}, nil
}

// register adds c to reg, handing back the collector already registered
// under the same name if there is one.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register pipeline metric: %w", err)
	}
	return c, nil
}

func (o *PrometheusObserver) ObserveStage(stage failure.Stage, elapsed time.Duration, err error) {
	o.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	if err != nil {
		o.stageErrors.WithLabelValues(string(stage), string(failure.KindOf(err))).Inc()
	}
}

func (o *PrometheusObserver) ObserveRun(elapsed time.Duration, err error, recorded bool) {
	o.runDuration.Observe(elapsed.Seconds())
	switch {
	case err != nil:
		o.runs.WithLabelValues("failed").Inc()
	case !recorded:
		o.runs.WithLabelValues("succeeded_unrecorded").Inc()
	default:
		o.runs.WithLabelValues("succeeded").Inc()
	}
}
