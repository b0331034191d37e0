package backorder

import (
	"context"
	"fmt"
	"time"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/core/tx"
	"wmsledger/pkg/logger"
)

// Manager owns backorder creation, FIFO fulfillment and the lifecycle.
type Manager struct {
	txm      tx.Manager
	repo     Repository
	reserver Reserver
	assigner WorkAssigner
	now      func() time.Time
}

// NewManager creates a backorder manager.
func NewManager(txm tx.Manager, repo Repository, reserver Reserver, assigner WorkAssigner) *Manager {
	return &Manager{
		txm:      txm,
		repo:     repo,
		reserver: reserver,
		assigner: assigner,
		now:      time.Now,
	}
}

// CreateOrUpdate records quantityShort as owed to an order line. An open
// backorder for the line absorbs the quantity; otherwise a PENDING one is
// created.
func (m *Manager) CreateOrUpdate(ctx context.Context, orderID, productID id.ID, quantityShort int64, reason string) (Backorder, error) {
	if quantityShort <= 0 {
		return Backorder{}, apperror.NewValidation("backorder quantity must be positive").
			WithDetail("quantity", quantityShort)
	}

	var out Backorder
	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		// A concurrent creator can win the insert; the second pass then finds
		// its row and increments it.
		for attempt := 0; attempt < 2; attempt++ {
			existing, err := m.repo.FindOpenForUpdate(ctx, orderID, productID)
			if err != nil {
				return fmt.Errorf("find open backorder: %w", err)
			}
			now := m.now().UTC()

			if existing != nil {
				existing.QuantityBackOrdered += quantityShort
				existing.UpdatedAt = now
				if err := existing.Validate(); err != nil {
					return err
				}
				if err := m.repo.Update(ctx, existing); err != nil {
					return fmt.Errorf("update backorder: %w", err)
				}
				out = *existing
				return nil
			}

			b := Backorder{
				ID:                  id.New(),
				OrderID:             orderID,
				ProductID:           productID,
				QuantityBackOrdered: quantityShort,
				Status:              StatusPending,
				Reason:              reason,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			created, err := m.repo.Create(ctx, &b)
			if err != nil {
				return fmt.Errorf("create backorder: %w", err)
			}
			if created {
				out = b
				return nil
			}
		}
		return apperror.NewContention("backorders")
	})
	if err != nil {
		return Backorder{}, err
	}

	logger.Info(ctx, "backorder recorded",
		"backorder_id", out.ID,
		"order_id", orderID,
		"product_id", productID,
		"quantity_back_ordered", out.QuantityBackOrdered,
	)
	return out, nil
}

// Allocation is stock handed to one backorder by AttemptFulfillment.
type Allocation struct {
	Backorder Backorder  `json:"backorder"`
	Quantity  int64      `json:"quantity"`
	PickTasks []PickTask `json:"pick_tasks"`
}

// Report summarizes one AttemptFulfillment pass.
type Report struct {
	ProductID   id.ID        `json:"product_variant_id"`
	Allocations []Allocation `json:"allocations"`
}

// Quantity is the total handed out in the pass.
func (r Report) Quantity() int64 {
	var n int64
	for _, a := range r.Allocations {
		n += a.Quantity
	}
	return n
}

// AttemptFulfillment hands newly available stock of a product to its open
// backorders, oldest first. The pass stops at the first backorder it cannot
// satisfy completely, so a younger backorder never overtakes an older one.
func (m *Manager) AttemptFulfillment(ctx context.Context, productID id.ID, actorID string) (Report, error) {
	report := Report{ProductID: productID}

	candidates, err := m.repo.ListFulfillable(ctx, productID)
	if err != nil {
		return report, fmt.Errorf("list fulfillable backorders: %w", err)
	}

	for _, c := range candidates {
		alloc, exhausted, err := m.fulfillOne(ctx, c.ID, actorID)
		if err != nil {
			return report, err
		}
		if alloc != nil {
			report.Allocations = append(report.Allocations, *alloc)
		}
		if exhausted {
			break
		}
	}

	if len(report.Allocations) > 0 {
		logger.Info(ctx, "backorders allocated",
			"product_id", productID,
			"backorders", len(report.Allocations),
			"quantity", report.Quantity(),
		)
	}
	return report, nil
}

// fulfillOne reserves stock for one backorder in a single transaction with
// the backorder row locked. A backorder already in picking keeps its status
// and gets pick tasks for the added quantity. exhausted reports that no
// stock is left for younger backorders.
func (m *Manager) fulfillOne(ctx context.Context, backorderID id.ID, actorID string) (*Allocation, bool, error) {
	var (
		alloc     *Allocation
		exhausted bool
	)
	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := m.repo.GetForUpdate(ctx, backorderID)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() || b.Outstanding() <= 0 {
			return nil
		}

		outstanding := b.Outstanding()
		reservations, err := m.reserver.ReserveAvailable(ctx, b.OrderID, b.ProductID, outstanding, actorID)
		if err != nil {
			return fmt.Errorf("reserve for backorder %s: %w", b.ID, err)
		}

		var reserved int64
		tasks := make([]PickTask, 0, len(reservations))
		for _, r := range reservations {
			reserved += r.Quantity
			tasks = append(tasks, PickTask{
				BackorderID: b.ID,
				OrderID:     b.OrderID,
				ProductID:   r.ProductID,
				LocationID:  r.LocationID,
				Quantity:    r.Quantity,
			})
		}
		exhausted = reserved < outstanding
		if reserved == 0 {
			return nil
		}

		b.QuantityFulfilled += reserved
		if b.Status == StatusPending {
			b.Status = StatusAllocated
		}
		b.UpdatedAt = m.now().UTC()
		if err := b.Validate(); err != nil {
			return err
		}
		if err := m.repo.Update(ctx, b); err != nil {
			return fmt.Errorf("update backorder: %w", err)
		}
		if m.assigner != nil {
			if err := m.assigner.AssignPicks(ctx, tasks); err != nil {
				return fmt.Errorf("assign picks: %w", err)
			}
		}
		alloc = &Allocation{Backorder: *b, Quantity: reserved, PickTasks: tasks}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return alloc, exhausted, nil
}

// Advance moves a backorder along its pick/pack/ship lifecycle. FULFILLED is
// only reachable once the whole back-ordered quantity has been allocated.
func (m *Manager) Advance(ctx context.Context, backorderID id.ID, to Status) (Backorder, error) {
	var out Backorder
	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := m.repo.GetForUpdate(ctx, backorderID)
		if err != nil {
			return err
		}
		if !CanTransition(b.Status, to) {
			return apperror.NewInvalidTransition("backorder", string(b.Status), string(to))
		}
		now := m.now().UTC()
		if to == StatusFulfilled {
			if b.QuantityFulfilled != b.QuantityBackOrdered {
				return apperror.NewInvariantViolation("backorder is not fully allocated").
					WithDetail("backorder_id", b.ID).
					WithDetail("quantity_back_ordered", b.QuantityBackOrdered).
					WithDetail("quantity_fulfilled", b.QuantityFulfilled)
			}
			b.FulfilledAt = &now
		}
		b.Status = to
		b.UpdatedAt = now
		if err := m.repo.Update(ctx, b); err != nil {
			return fmt.Errorf("update backorder: %w", err)
		}
		out = *b
		return nil
	})
	if err != nil {
		return Backorder{}, err
	}

	logger.Info(ctx, "backorder advanced", "backorder_id", backorderID, "status", to)
	return out, nil
}

// Cancel closes a non-terminal backorder. Stock already reserved for it stays
// with the order until the order workflow releases it.
func (m *Manager) Cancel(ctx context.Context, backorderID id.ID, reason string) (Backorder, error) {
	var out Backorder
	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := m.repo.GetForUpdate(ctx, backorderID)
		if err != nil {
			return err
		}
		if b.Status.IsTerminal() {
			return apperror.NewInvalidTransition("backorder", string(b.Status), string(StatusCancelled))
		}
		b.Status = StatusCancelled
		if reason != "" {
			b.Reason = reason
		}
		b.UpdatedAt = m.now().UTC()
		if err := m.repo.Update(ctx, b); err != nil {
			return fmt.Errorf("update backorder: %w", err)
		}
		out = *b
		return nil
	})
	if err != nil {
		return Backorder{}, err
	}
	return out, nil
}

// Get returns one backorder.
func (m *Manager) Get(ctx context.Context, backorderID id.ID) (Backorder, error) {
	b, err := m.repo.Get(ctx, backorderID)
	if err != nil {
		return Backorder{}, err
	}
	return *b, nil
}

// List returns backorders matching filter.
func (m *Manager) List(ctx context.Context, filter Filter) ([]Backorder, error) {
	return m.repo.List(ctx, filter)
}
