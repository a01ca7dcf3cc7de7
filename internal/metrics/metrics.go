// Package metrics records per-operation outcomes and pushes them to a
// Prometheus Pushgateway. The tool exits after each operation, so nothing
// is served for scraping.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type Recorder struct {
	Registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	upgraded   *prometheus.GaugeVec
}

func New() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nlo_operations_total",
				Help: "Operations run, by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nlo_operation_duration_seconds",
				Help:    "Operation wall time in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"operation"},
		),
		upgraded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nlo_services_upgraded",
				Help: "Services moved to the new image by the last image upgrade",
			},
			[]string{"namespace"},
		),
	}
	r.Registry.MustRegister(r.operations, r.duration, r.upgraded)
	return r
}

// Observe records one finished operation.
func (r *Recorder) Observe(operation string, start time.Time, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (r *Recorder) SetUpgraded(namespace string, n int) {
	r.upgraded.WithLabelValues(namespace).Set(float64(n))
}

// Push sends the registry to the gateway. An empty url is a no-op.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	slog.Debug("Pushed metrics", "gateway", url, "job", job)
	return nil
}
