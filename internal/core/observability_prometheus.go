package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"partnercore/pkg/domain"
)

// PrometheusRecorder exports operation latencies and transition outcomes.
type PrometheusRecorder struct {
	operations  *prometheus.HistogramVec
	transitions *prometheus.CounterVec
}

// NewPrometheusRecorder registers the service collectors with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "partnercore",
			Name:      "operation_duration_seconds",
			Help:      "Latency of service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partnercore",
			Name:      "transitions_total",
			Help:      "Workflow transitions by kind, name and outcome.",
		}, []string{"kind", "transition", "outcome"}),
	}
	for _, c := range []prometheus.Collector{r.operations, r.transitions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "error"
	}
	r.operations.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// ObserveTransition implements TransitionRecorder. An empty outcome is a commit.
func (r *PrometheusRecorder) ObserveTransition(kind domain.Kind, transition string, outcome domain.ErrorKind) {
	label := string(outcome)
	if label == "" {
		label = "committed"
	}
	r.transitions.WithLabelValues(string(kind), transition, label).Inc()
}

// Transitions exposes the transition counter for scraping in tests.
func (r *PrometheusRecorder) Transitions() *prometheus.CounterVec { return r.transitions }
