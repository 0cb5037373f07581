package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hangarshare/backend-hangar/internal/events"
)

// Events is the pgx-backed domain event store.
type Events struct {
	Pool *pgxpool.Pool
}

// InsertDomainEvent appends a domain event row.
func (r Events) InsertDomainEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	var ev events.Event
	err := r.Pool.QueryRow(ctx, `
		INSERT INTO domain_events (topic, aggregate_id, payload)
		VALUES ($1, $2, $3)
		RETURNING id, topic, aggregate_id, payload, occurred_at`,
		topic, aggregateID, payload,
	).Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	if err != nil {
		return events.Event{}, fmt.Errorf("insert domain event: %w", err)
	}
	return ev, nil
}
