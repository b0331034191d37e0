// Package notify turns domain callbacks into outbox events for the order
// workflow, work assignment and the counting floor.
package notify

import (
	"context"
	"fmt"

	"wmsledger/internal/core/event"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/allocation"
	"wmsledger/internal/domain/backorder"
	"wmsledger/internal/domain/counttask"
)

// Notifier publishes allocation results, pick tasks and count requests.
type Notifier struct {
	pub event.Publisher
}

var (
	_ allocation.Observer    = (*Notifier)(nil)
	_ backorder.WorkAssigner = (*Notifier)(nil)
	_ counttask.Notifier     = (*Notifier)(nil)
)

// New creates a notifier over pub.
func New(pub event.Publisher) *Notifier {
	return &Notifier{pub: pub}
}

// AllocationCompleted hands the result to the order workflow, which owns the
// order status.
func (n *Notifier) AllocationCompleted(ctx context.Context, r allocation.Result) error {
	return n.pub.Publish(ctx, event.Event{
		AggregateType: "order",
		AggregateID:   r.OrderID,
		EventType:     event.TypeAllocationCompleted,
		Payload:       r,
	})
}

// AssignPicks publishes one event per backordered order with its new picks.
func (n *Notifier) AssignPicks(ctx context.Context, tasks []backorder.PickTask) error {
	byBackorder := make(map[id.ID][]backorder.PickTask)
	var order []id.ID
	for _, t := range tasks {
		if _, ok := byBackorder[t.BackorderID]; !ok {
			order = append(order, t.BackorderID)
		}
		byBackorder[t.BackorderID] = append(byBackorder[t.BackorderID], t)
	}
	for _, bid := range order {
		if err := n.pub.Publish(ctx, event.Event{
			AggregateType: "backorder",
			AggregateID:   bid,
			EventType:     event.TypePicksReady,
			Payload:       byBackorder[bid],
		}); err != nil {
			return fmt.Errorf("publish picks for backorder %s: %w", bid, err)
		}
	}
	return nil
}

// CountRequested announces a new count task.
func (n *Notifier) CountRequested(ctx context.Context, t counttask.Task) error {
	return n.pub.Publish(ctx, event.Event{
		AggregateType: "count_task",
		AggregateID:   t.ID,
		EventType:     event.TypeCountRequested,
		Payload:       t,
	})
}
