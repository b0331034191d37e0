// Package event defines the outbound domain event contract. Events are
// written to the outbox inside the transaction that produced them and
// relayed to downstream systems by the worker.
package event

import (
	"context"

	"wmsledger/internal/core/id"
)

// Event types published by the ledger.
const (
	TypeAllocationCompleted = "allocation.completed"
	TypePicksReady          = "backorder.picks_ready"
	TypeCountRequested      = "count_task.requested"
)

// Event is a domain event addressed to an aggregate.
type Event struct {
	AggregateType string
	AggregateID   id.ID
	EventType     string
	Payload       any
}

// Publisher stores events for delivery. Publish joins the transaction in ctx
// when there is one.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
