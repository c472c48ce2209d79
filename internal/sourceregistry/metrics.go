package sourceregistry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the health of the source database pool set.
type Metrics struct {
	PoolsActive prometheus.Gauge
	OpenErrors  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

func defaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = &Metrics{
			PoolsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "etl_signal_loader", Subsystem: "source_registry", Name: "pools_active",
				Help: "Number of source database connection pools currently open",
			}),
			OpenErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "etl_signal_loader", Subsystem: "source_registry", Name: "open_errors_total",
				Help: "Total number of failures opening or pinging a source database pool",
			}, []string{"kind"}),
		}
	})
	return metrics
}
