package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var errNoRoutingKey = errors.New("outbox event has no routing key")

// EventWriter stores an event inside the caller's transaction. *Repository
// is the production implementation.
type EventWriter interface {
	InsertEvent(ctx context.Context, tx pgx.Tx, event *Event) error
}

// EnqueueInTx records payload as a pending event about one aggregate, such as
// a processed email. The dispatcher only sees it once tx commits, so a
// rolled back upsert never announces an email that was not stored.
func EnqueueInTx(
	ctx context.Context,
	tx pgx.Tx,
	w EventWriter,
	aggregateType string,
	aggregateID int64,
	routingKey string,
	payload any,
) error {
	if routingKey == "" {
		return errNoRoutingKey
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload for %s %d: %w", routingKey, aggregateType, aggregateID, err)
	}

	return w.InsertEvent(ctx, tx, &Event{
		AggregateType: aggregateType,
		AggregateID:   &aggregateID,
		RoutingKey:    routingKey,
		Payload:       body,
		Status:        StatusPending,
	})
}
