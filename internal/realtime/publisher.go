package realtime

import (
	"log/slog"
	"time"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
)

// EventPublisher publishes events to EventBus from various sources.
type EventPublisher struct {
	eventBus *DefaultEventBus
	logger   *slog.Logger
	metrics  *RealtimeMetrics
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(eventBus *DefaultEventBus, logger *slog.Logger, metrics *RealtimeMetrics) *EventPublisher {
	return &EventPublisher{
		eventBus: eventBus,
		logger:   logger.With("component", "event_publisher"),
		metrics:  metrics,
	}
}

// PublishRunStarted publishes a run_started event when the scheduler
// claims a loader's lock and begins a run.
func (p *EventPublisher) PublishRunStarted(loaderCode, replicaName string, from, to time.Time) error {
	if p.eventBus == nil {
		return nil
	}
	data := map[string]interface{}{
		"loaderCode": loaderCode,
		"replica":    replicaName,
		"fromTime":   from.Format(time.RFC3339),
		"toTime":     to.Format(time.RFC3339),
	}
	return p.eventBus.Publish(*NewEvent(EventTypeRunStarted, data, EventSourceScheduler))
}

// PublishRunFinished publishes a run_finished event with the outcome the
// Loader Executor reported.
func (p *EventPublisher) PublishRunFinished(loaderCode string, outcome string, recordsIngested int64) error {
	if p.eventBus == nil {
		return nil
	}
	data := map[string]interface{}{
		"loaderCode":      loaderCode,
		"outcome":         outcome,
		"recordsIngested": recordsIngested,
	}
	eventType := EventTypeRunFinished
	if outcome == "FAILED" {
		eventType = EventTypeRunFailed
	}
	return p.eventBus.Publish(*NewEvent(eventType, data, EventSourceExecutor))
}

// PublishBackfillFinished publishes a backfill_finished event once a
// backfill job has been finalized, successfully or not.
func (p *EventPublisher) PublishBackfillFinished(jobID, loaderCode string, status domain.BackfillStatus, recordsIngested int) error {
	if p.eventBus == nil {
		return nil
	}
	data := map[string]interface{}{
		"jobId":           jobID,
		"loaderCode":      loaderCode,
		"status":          string(status),
		"recordsIngested": recordsIngested,
	}
	return p.eventBus.Publish(*NewEvent(EventTypeBackfillFinished, data, EventSourceExecutor))
}

// PublishLoaderApprovalEvent publishes loader_submitted/approved/rejected
// events as a draft moves through the approval workflow.
func (p *EventPublisher) PublishLoaderApprovalEvent(eventType, loaderCode, actor string) error {
	if p.eventBus == nil {
		return nil
	}
	data := map[string]interface{}{
		"loaderCode": loaderCode,
		"actor":      actor,
	}
	return p.eventBus.Publish(*NewEvent(eventType, data, EventSourceConfigVersions))
}

// PublishLoaderToggled publishes a loader_toggled event when an operator
// flips a loader's enabled flag.
func (p *EventPublisher) PublishLoaderToggled(loaderCode string, enabled bool, actor string) error {
	if p.eventBus == nil {
		return nil
	}
	data := map[string]interface{}{
		"loaderCode": loaderCode,
		"enabled":    enabled,
		"actor":      actor,
	}
	return p.eventBus.Publish(*NewEvent(EventTypeLoaderToggled, data, EventSourceConfigVersions))
}

// PublishSystemNotification publishes a system notification event.
func (p *EventPublisher) PublishSystemNotification(level string, message string) error {
	if p.eventBus == nil {
		return nil
	}
	data := map[string]interface{}{
		"level":   level, // info, warning, error
		"message": message,
	}
	return p.eventBus.Publish(*NewEvent(EventTypeSystemNotification, data, EventSourceSystem))
}
