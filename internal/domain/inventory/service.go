// Package inventory is the in-process entry point the order and
// warehouse-operations workflows call. It sequences the ledger, allocation,
// backorder and count task components; it holds no rules of its own beyond
// that sequencing.
package inventory

import (
	"context"
	"fmt"
	"slices"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/core/tx"
	"wmsledger/internal/domain/allocation"
	"wmsledger/internal/domain/backorder"
	"wmsledger/internal/domain/counttask"
	"wmsledger/internal/domain/ledger"
	"wmsledger/pkg/logger"
)

// AuditEntry is one business action written to the audit trail.
type AuditEntry struct {
	EntityType string
	EntityID   id.ID
	Action     string
	ActorID    string
	Payload    any
}

// Auditor persists audit entries and reads them back.
type Auditor interface {
	Record(ctx context.Context, e AuditEntry) error

	// History returns the newest entries of one entity first.
	History(ctx context.Context, entityType string, entityID id.ID, limit int) ([]AuditRecord, error)
}

// LocationAdmin activates and retires locations.
type LocationAdmin interface {
	SetActive(ctx context.Context, locationID id.ID, active bool) error
}

// Service exposes the ledger operations.
type Service struct {
	txm        tx.Manager
	stock      ledger.Repository
	mutator    *ledger.Mutator
	recorder   *ledger.Recorder
	engine     *allocation.Engine
	backorders *backorder.Manager
	counts     *counttask.Service
	auditor    Auditor
	locations  LocationAdmin
}

// NewService creates the inventory service. auditor may be nil.
func NewService(
	txm tx.Manager,
	stock ledger.Repository,
	mutator *ledger.Mutator,
	recorder *ledger.Recorder,
	engine *allocation.Engine,
	backorders *backorder.Manager,
	counts *counttask.Service,
	auditor Auditor,
) *Service {
	return &Service{
		txm:        txm,
		stock:      stock,
		mutator:    mutator,
		recorder:   recorder,
		engine:     engine,
		backorders: backorders,
		counts:     counts,
		auditor:    auditor,
	}
}

// Allocate reserves an order's lines under the given strategy.
func (s *Service) Allocate(ctx context.Context, orderID id.ID, lines []allocation.Line, strategy allocation.Strategy, actorID string) (allocation.Result, error) {
	res, err := s.engine.Allocate(ctx, allocation.Request{
		OrderID:  orderID,
		Lines:    lines,
		Strategy: strategy,
		ActorID:  actorID,
	})
	if err == nil || apperror.IsInsufficientStock(err) {
		s.audit(ctx, AuditEntry{EntityType: EntityOrder, EntityID: orderID, Action: "allocate", ActorID: actorID, Payload: res})
	}
	return res, err
}

// FulfillLine ships a quantity of a product for an order. A nil LocationID
// ships from wherever the order holds reservations, largest holding first.
type FulfillLine struct {
	ProductID  id.ID  `json:"product_variant_id"`
	LocationID *id.ID `json:"location_id,omitempty"`
	Quantity   int64  `json:"quantity"`
}

// Fulfill consumes the order's reservations. All lines ship in one
// transaction with rows locked in key order, so a shipment is never half
// recorded.
func (s *Service) Fulfill(ctx context.Context, orderID id.ID, lines []FulfillLine, actorID, shipmentRef string) ([]ledger.Applied, error) {
	if len(lines) == 0 {
		return nil, apperror.NewValidation("at least one line is required")
	}

	var out []ledger.Applied
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		held, err := s.stock.OrderReservations(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load order reservations: %w", err)
		}
		plan, err := planFulfillment(orderID, held, lines)
		if err != nil {
			return err
		}

		keys := make(map[ledger.Key]bool, len(plan))
		for _, p := range plan {
			keys[p.Key()] = false
		}
		if err := s.mutator.LockRows(ctx, keys); err != nil {
			return err
		}

		for _, p := range plan {
			a, err := s.mutator.Fulfill(ctx, p.Key(), p.Quantity, orderID, actorID, shipmentRef)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, AuditEntry{EntityType: EntityOrder, EntityID: orderID, Action: "fulfill", ActorID: actorID, Payload: out})
	return out, nil
}

// planFulfillment maps fulfill lines onto the order's reservations.
func planFulfillment(orderID id.ID, held []ledger.OrderReservation, lines []FulfillLine) ([]ledger.OrderReservation, error) {
	remaining := make(map[ledger.Key]int64, len(held))
	for _, h := range held {
		remaining[h.Key()] += h.Quantity
	}

	planned := make(map[ledger.Key]int64)
	for i, l := range lines {
		if l.Quantity <= 0 {
			return nil, apperror.NewValidation(fmt.Sprintf("line %d: quantity must be positive", i))
		}

		var candidates []ledger.Key
		if l.LocationID != nil {
			candidates = []ledger.Key{{ProductID: l.ProductID, LocationID: *l.LocationID}}
		} else {
			for k := range remaining {
				if k.ProductID == l.ProductID {
					candidates = append(candidates, k)
				}
			}
			slices.SortFunc(candidates, func(a, b ledger.Key) int {
				if remaining[a] != remaining[b] {
					if remaining[a] > remaining[b] {
						return -1
					}
					return 1
				}
				return a.Compare(b)
			})
		}

		need := l.Quantity
		for _, k := range candidates {
			take := min(need, remaining[k])
			if take <= 0 {
				continue
			}
			remaining[k] -= take
			planned[k] += take
			need -= take
			if need == 0 {
				break
			}
		}
		if need > 0 {
			loc := ""
			if l.LocationID != nil {
				loc = l.LocationID.String()
			}
			return nil, apperror.NewInsufficientStock(l.ProductID.String(), loc, l.Quantity, l.Quantity-need).
				WithDetail("order_id", orderID).
				WithDetail("reason", "order does not hold enough reserved stock")
		}
	}

	plan := make([]ledger.OrderReservation, 0, len(planned))
	for k, q := range planned {
		plan = append(plan, ledger.OrderReservation{ProductID: k.ProductID, LocationID: k.LocationID, Quantity: q})
	}
	slices.SortFunc(plan, func(a, b ledger.OrderReservation) int {
		return a.Key().Compare(b.Key())
	})
	return plan, nil
}

// Release returns everything an order still holds to availability. A
// non-nil productID limits the release to that product.
func (s *Service) Release(ctx context.Context, orderID id.ID, productID *id.ID, actorID string) ([]ledger.Applied, error) {
	held, err := s.stock.OrderReservations(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order reservations: %w", err)
	}

	var (
		out      []ledger.Applied
		products []id.ID
	)
	for _, h := range held {
		if productID != nil && h.ProductID != *productID {
			continue
		}
		a, err := s.mutator.Release(ctx, h.Key(), h.Quantity, orderID, actorID, false)
		if err != nil {
			return out, err
		}
		out = append(out, a)
		if !slices.Contains(products, h.ProductID) {
			products = append(products, h.ProductID)
		}
	}
	for _, p := range products {
		s.afterStockAvailable(ctx, p, actorID)
	}

	logger.Info(ctx, "order reservations released", "order_id", orderID, "rows", len(out))
	return out, nil
}

// ReceiveResult is a receipt plus the backorders it served.
type ReceiveResult struct {
	ledger.Applied
	Backorders backorder.Report `json:"backorders"`
}

// Receive books inbound stock and offers it to waiting backorders.
func (s *Service) Receive(ctx context.Context, req ledger.ReceiveRequest) (ReceiveResult, error) {
	a, err := s.mutator.Receive(ctx, req)
	if err != nil {
		return ReceiveResult{}, err
	}
	s.audit(ctx, AuditEntry{EntityType: EntityMovement, EntityID: a.Movement.ID, Action: "receive", ActorID: req.ActorID, Payload: a})
	return ReceiveResult{Applied: a, Backorders: s.afterStockAvailable(ctx, req.ProductID, req.ActorID)}, nil
}

// TransferOutcome is a transfer plus the backorders it served.
type TransferOutcome struct {
	ledger.TransferResult
	Backorders backorder.Report `json:"backorders"`
}

// Transfer moves stock between locations and offers the transferred-in
// stock to waiting backorders.
func (s *Service) Transfer(ctx context.Context, req ledger.TransferRequest) (TransferOutcome, error) {
	res, err := s.mutator.Transfer(ctx, req)
	if err != nil {
		return TransferOutcome{}, err
	}
	s.audit(ctx, AuditEntry{EntityType: EntityTransfer, EntityID: res.TransferID, Action: "transfer", ActorID: req.ActorID, Payload: res})
	return TransferOutcome{TransferResult: res, Backorders: s.afterStockAvailable(ctx, req.ProductID, req.ActorID)}, nil
}

// Adjust applies a manual correction. Upward corrections are offered to
// waiting backorders.
func (s *Service) Adjust(ctx context.Context, req ledger.AdjustRequest) (ledger.Applied, error) {
	a, err := s.mutator.Adjust(ctx, req)
	if err != nil {
		return ledger.Applied{}, err
	}
	s.audit(ctx, AuditEntry{EntityType: EntityMovement, EntityID: a.Movement.ID, Action: "adjust", ActorID: req.ActorID, Payload: a})
	if req.Quantity > 0 {
		s.afterStockAvailable(ctx, req.ProductID, req.ActorID)
	}
	return a, nil
}

// CompleteCount closes a count task and books the count. A count above the
// recorded quantity is offered to waiting backorders.
func (s *Service) CompleteCount(ctx context.Context, req counttask.CompleteRequest) (counttask.Completion, error) {
	c, err := s.counts.Complete(ctx, req)
	if err != nil {
		return counttask.Completion{}, err
	}
	s.audit(ctx, AuditEntry{EntityType: EntityCountTask, EntityID: c.Task.ID, Action: "count", ActorID: req.ActorID, Payload: c})
	if c.Movement != nil && c.Movement.Movement.OnHandDelta > 0 {
		s.afterStockAvailable(ctx, c.Task.ProductID, req.ActorID)
	}
	return c, nil
}

// afterStockAvailable runs backorder fulfillment after stock was committed.
// The stock operation has already succeeded, so failures here are logged
// and never reported as a failure of that operation.
func (s *Service) afterStockAvailable(ctx context.Context, productID id.ID, actorID string) backorder.Report {
	report, err := s.backorders.AttemptFulfillment(ctx, productID, actorID)
	if err != nil {
		logger.Error(ctx, "backorder fulfillment failed",
			"product_id", productID,
			"retryable", apperror.IsRetryable(err),
			"error", err,
		)
	}
	return report
}

// Stock lists stock records.
func (s *Service) Stock(ctx context.Context, filter ledger.StockFilter) ([]ledger.StockRecord, error) {
	return s.stock.List(ctx, filter)
}

// Movements lists movements in insertion order.
func (s *Service) Movements(ctx context.Context, filter ledger.MovementFilter) ([]ledger.Movement, error) {
	return s.stock.ListMovements(ctx, filter)
}

// Reconcile replays the movement log of one record.
func (s *Service) Reconcile(ctx context.Context, key ledger.Key) (ledger.Reconciliation, error) {
	r, err := s.recorder.Reconcile(ctx, key)
	if err != nil {
		return r, err
	}
	if !r.Balanced {
		logger.Error(ctx, "ledger out of balance",
			"key", key.String(),
			"on_hand", r.OnHand,
			"replay_on_hand", r.ReplayOnHand,
			"reserved", r.Reserved,
			"replay_reserved", r.ReplayReserved,
		)
	}
	return r, nil
}

// Backorders lists backorders.
func (s *Service) Backorders(ctx context.Context, filter backorder.Filter) ([]backorder.Backorder, error) {
	return s.backorders.List(ctx, filter)
}

// AdvanceBackorder moves a backorder along its lifecycle.
func (s *Service) AdvanceBackorder(ctx context.Context, backorderID id.ID, to backorder.Status) (backorder.Backorder, error) {
	return s.backorders.Advance(ctx, backorderID, to)
}

// CancelBackorder cancels a backorder.
func (s *Service) CancelBackorder(ctx context.Context, backorderID id.ID, reason string) (backorder.Backorder, error) {
	return s.backorders.Cancel(ctx, backorderID, reason)
}

// CountTasks lists count tasks.
func (s *Service) CountTasks(ctx context.Context, filter counttask.Filter) ([]counttask.Task, error) {
	return s.counts.List(ctx, filter)
}

func (s *Service) audit(ctx context.Context, e AuditEntry) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, e); err != nil {
		logger.Warn(ctx, "audit write failed", "entity_type", e.EntityType, "action", e.Action, "error", err)
	}
}
