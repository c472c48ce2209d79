package metrics

// TechnicalMetrics aggregates all technical-level metrics for the service.
//
// Technical metrics track system internals:
//   - HTTP requests (via existing HTTPMetrics)
//
// This is an aggregator struct that groups existing metrics under the technical category.
//
// Example:
//
//	tm := NewTechnicalMetrics("etl_signal_loader")
//	tm.HTTP.RecordRequest("GET", "/ops/v1/res/loaders", 200, 0.123)
type TechnicalMetrics struct {
	namespace string

	// HTTP subsystem - existing metrics from prometheus.go
	HTTP *HTTPMetrics
}

// NewTechnicalMetrics creates a new TechnicalMetrics aggregator.
//
// Parameters:
//   - namespace: The Prometheus namespace
//
// Returns:
//   - *TechnicalMetrics: Initialized technical metrics aggregator
func NewTechnicalMetrics(namespace string) *TechnicalMetrics {
	return &TechnicalMetrics{
		namespace: namespace,
		HTTP:      NewHTTPMetrics(),
	}
}
