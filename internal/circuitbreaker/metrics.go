package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics shared by every circuit breaker that uses
// it; the series carry no per-breaker label, so breakers are not told apart.
type Metrics struct {
	State            prometheus.Gauge
	Failures         prometheus.Counter
	Successes        prometheus.Counter
	StateChanges     *prometheus.CounterVec
	RequestsBlocked  prometheus.Counter
	HalfOpenRequests prometheus.Counter
	SlowCalls        prometheus.Counter
	CallDuration     *prometheus.HistogramVec
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide singleton metrics instance,
// registered once under the query_circuit_breaker subsystem.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetricsWithNamespace("etl_signal_loader", "query_circuit_breaker")
	})
	return defaultMetrics
}

// NewMetricsWithNamespace creates metrics under a custom namespace/subsystem.
// Callers MUST only call this once per namespace/subsystem pair.
func NewMetricsWithNamespace(namespace, subsystem string) *Metrics {
	return &Metrics{
		State: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half_open)",
		}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "failures_total",
			Help: "Total number of failed calls (includes slow calls)",
		}),
		Successes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "successes_total",
			Help: "Total number of successful calls",
		}),
		StateChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "state_changes_total",
			Help: "Total number of circuit breaker state changes",
		}, []string{"from", "to"}),
		RequestsBlocked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "requests_blocked_total",
			Help: "Total number of requests blocked by the circuit breaker",
		}),
		HalfOpenRequests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "half_open_requests_total",
			Help: "Total number of test requests in half-open state",
		}),
		SlowCalls: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "slow_calls_total",
			Help: "Total number of slow calls exceeding the configured threshold",
		}),
		CallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "call_duration_seconds",
			Help:    "Duration of calls guarded by the circuit breaker",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 10.0, 30.0},
		}, []string{"result"}),
	}
}
