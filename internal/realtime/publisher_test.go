package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
)

func TestEventPublisher_PublishRunStarted(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := eventBus.Start(ctx)
	require.NoError(t, err)
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	now := time.Now()
	err = publisher.PublishRunStarted("ORDERS_HOURLY_VOLUME", "replica-1", now.Add(-time.Hour), now)
	assert.NoError(t, err)
}

func TestEventPublisher_PublishRunFinished(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := eventBus.Start(ctx)
	require.NoError(t, err)
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	err = publisher.PublishRunFinished("ORDERS_HOURLY_VOLUME", "SUCCESS", 1200)
	assert.NoError(t, err)

	err = publisher.PublishRunFinished("ORDERS_HOURLY_VOLUME", "FAILED", 0)
	assert.NoError(t, err)
}

func TestEventPublisher_PublishBackfillFinished(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := eventBus.Start(ctx)
	require.NoError(t, err)
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	err = publisher.PublishBackfillFinished("job-1", "ORDERS_HOURLY_VOLUME", domain.BackfillSuccess, 500)
	assert.NoError(t, err)
}

func TestEventPublisher_PublishLoaderApprovalEvent(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := eventBus.Start(ctx)
	require.NoError(t, err)
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	err = publisher.PublishLoaderApprovalEvent(EventTypeLoaderApproved, "ORDERS_HOURLY_VOLUME", "alice")
	assert.NoError(t, err)
}

func TestEventPublisher_PublishLoaderToggled(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := eventBus.Start(ctx)
	require.NoError(t, err)
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	err = publisher.PublishLoaderToggled("ORDERS_HOURLY_VOLUME", false, "bob")
	assert.NoError(t, err)
}

func TestEventPublisher_PublishSystemNotification(t *testing.T) {
	eventBus := NewEventBus(slog.Default(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := eventBus.Start(ctx)
	require.NoError(t, err)
	defer eventBus.Stop(context.Background())

	publisher := NewEventPublisher(eventBus, slog.Default(), nil)

	err = publisher.PublishSystemNotification("info", "scheduler paused for maintenance")
	assert.NoError(t, err)
}

func TestEventPublisher_NilEventBus(t *testing.T) {
	publisher := NewEventPublisher(nil, slog.Default(), nil)

	assert.NoError(t, publisher.PublishRunStarted("L", "r", time.Now(), time.Now()))
	assert.NoError(t, publisher.PublishRunFinished("L", "SUCCESS", 0))
	assert.NoError(t, publisher.PublishBackfillFinished("j", "L", domain.BackfillSuccess, 0))
	assert.NoError(t, publisher.PublishLoaderApprovalEvent(EventTypeLoaderSubmitted, "L", "a"))
	assert.NoError(t, publisher.PublishLoaderToggled("L", true, "a"))
	assert.NoError(t, publisher.PublishSystemNotification("info", "msg"))
}
