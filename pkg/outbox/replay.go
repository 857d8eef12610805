package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailwatch/pkg/metrics"
)

// FailedEventStore is the part of Repository the replayer needs.
type FailedEventStore interface {
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
}

// Replayer republishes events the dispatcher gave up on. Events that fail
// again stay failed.
type Replayer struct {
	repo      FailedEventStore
	publisher Publisher
	logger    *zap.Logger
}

func NewReplayer(repo FailedEventStore, publisher Publisher, logger *zap.Logger) *Replayer {
	return &Replayer{repo: repo, publisher: publisher, logger: logger}
}

// ReplayFailed returns how many of up to limit failed events were published.
func (r *Replayer) ReplayFailed(ctx context.Context, limit int) (int, error) {
	events, err := r.repo.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	// the dispatcher's publish path restores the trace id from the payload
	d := &Dispatcher{publisher: r.publisher}

	replayed := 0
	for _, event := range events {
		if err := d.publishEvent(ctx, event); err != nil {
			metrics.IncrementOutboxPublished(event.RoutingKey, "failed")
			r.logger.Warn("Replay failed",
				zap.Int64("event_id", event.ID),
				zap.String("routing_key", event.RoutingKey),
				zap.Error(err),
			)
			continue
		}
		metrics.IncrementOutboxPublished(event.RoutingKey, "replayed")
		if err := r.repo.MarkAsSent(ctx, event.ID); err != nil {
			r.logger.Error("Failed to mark replayed event as sent", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}
		replayed++
	}
	return replayed, nil
}
