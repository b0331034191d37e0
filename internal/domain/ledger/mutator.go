package ledger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"wmsledger/internal/core/apperror"
	appctx "wmsledger/internal/core/context"
	"wmsledger/internal/core/id"
	"wmsledger/internal/core/tx"
	"wmsledger/internal/core/types"
	"wmsledger/pkg/logger"
)

// Mutator applies bounded deltas to one stock record at a time. Each call
// locks the row, checks the result against the counter invariants, writes
// the counters and records exactly one movement in the same transaction.
type Mutator struct {
	txm       tx.Manager
	repo      Repository
	recorder  *Recorder
	locations LocationDirectory
	now       func() time.Time
}

// NewMutator creates a stock mutator. A nil directory accepts all locations.
func NewMutator(txm tx.Manager, repo Repository, recorder *Recorder, locations LocationDirectory) *Mutator {
	if locations == nil {
		locations = NopDirectory{}
	}
	return &Mutator{
		txm:       txm,
		repo:      repo,
		recorder:  recorder,
		locations: locations,
		now:       time.Now,
	}
}

// Delta is one counter change plus the movement describing it.
// Movement fields derived from the delta are filled in by the mutator.
type Delta struct {
	Key
	OnHandDelta   int64
	ReservedDelta int64
	Movement      Movement
}

// Applied is the state after a successful delta.
type Applied struct {
	Record   StockRecord `json:"record"`
	Movement Movement    `json:"movement"`
}

// Quantity is the absolute size of the applied movement.
func (a Applied) Quantity() int64 {
	if a.Movement.QuantityChange < 0 {
		return -a.Movement.QuantityChange
	}
	return a.Movement.QuantityChange
}

// ApplyDelta is the primitive every stock operation is built on. It joins the
// transaction in ctx or starts one; on error nothing is applied.
func (m *Mutator) ApplyDelta(ctx context.Context, d Delta) (Applied, error) {
	var out Applied
	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		out, err = m.apply(ctx, d)
		return err
	})
	if err != nil {
		return Applied{}, err
	}
	return out, nil
}

func (m *Mutator) apply(ctx context.Context, d Delta) (Applied, error) {
	if d.OnHandDelta > 0 {
		if err := m.locations.CheckLocation(ctx, d.LocationID); err != nil {
			return Applied{}, err
		}
	}

	rec, err := m.repo.GetForUpdate(ctx, d.Key, d.OnHandDelta > 0)
	if err != nil {
		return Applied{}, err
	}
	if err := checkSufficient(*rec, d); err != nil {
		return Applied{}, err
	}

	next := *rec
	next.OnHand += d.OnHandDelta
	next.Reserved += d.ReservedDelta
	if err := next.Validate(); err != nil {
		return Applied{}, err
	}
	next.Version++
	next.UpdatedAt = m.now().UTC()
	if err := m.repo.Upsert(ctx, &next); err != nil {
		return Applied{}, fmt.Errorf("upsert stock record %s: %w", d.Key, err)
	}

	mv := d.Movement
	mv.ProductID = d.ProductID
	mv.LocationID = id.Ptr(d.LocationID)
	mv.OnHandDelta = d.OnHandDelta
	mv.ReservedDelta = d.ReservedDelta
	if mv.ActorID == "" {
		mv.ActorID = appctx.ActorID(ctx)
	}
	recorded, err := m.recorder.Record(ctx, mv)
	if err != nil {
		return Applied{}, err
	}

	logger.Debug(ctx, "stock delta applied",
		"key", d.Key.String(),
		"movement_type", mv.Type,
		"on_hand", next.OnHand,
		"reserved", next.Reserved,
	)
	return Applied{Record: next, Movement: recorded}, nil
}

// checkSufficient enforces the per-operation stock bounds. Violations here are
// ordinary shortages; anything else that breaks the counters is caught by
// StockRecord.Validate as an invariant violation.
func checkSufficient(rec StockRecord, d Delta) error {
	var requested, available int64
	switch d.Movement.Type {
	case MovementAllocation:
		requested, available = d.ReservedDelta, rec.Available()
	case MovementSale:
		requested, available = -d.OnHandDelta, min(rec.Reserved, rec.OnHand)
	case MovementTransfer:
		if d.OnHandDelta >= 0 {
			return nil
		}
		requested, available = -d.OnHandDelta, rec.Available()
	default:
		return nil
	}
	if requested > available {
		return apperror.NewInsufficientStock(d.ProductID.String(), d.LocationID.String(), requested, available)
	}
	return nil
}

func requirePositive(qty int64) error {
	if qty <= 0 {
		return apperror.NewValidation("quantity must be positive").WithDetail("quantity", qty)
	}
	return nil
}

// ReceiveRequest describes inbound stock at one location.
type ReceiveRequest struct {
	ProductID       id.ID
	LocationID      id.ID
	Quantity        int64
	PurchaseOrderID *id.ID
	UnitCost        *types.Money
	ActorID         string
	Notes           string
}

// Receive adds on-hand stock, creating the record on first receipt.
func (m *Mutator) Receive(ctx context.Context, req ReceiveRequest) (Applied, error) {
	if err := requirePositive(req.Quantity); err != nil {
		return Applied{}, err
	}
	ref := Reference{Type: RefReceipt, ID: id.New()}
	if req.PurchaseOrderID != nil {
		ref = Reference{Type: RefPurchaseOrder, ID: *req.PurchaseOrderID}
	}
	return m.ApplyDelta(ctx, Delta{
		Key:         Key{ProductID: req.ProductID, LocationID: req.LocationID},
		OnHandDelta: req.Quantity,
		Movement: Movement{
			Type:           MovementReceipt,
			QuantityChange: req.Quantity,
			Reference:      ref,
			ActorID:        req.ActorID,
			Notes:          req.Notes,
			Detail:         NewReceiptDetail(req.PurchaseOrderID, req.UnitCost, req.Quantity),
		},
	})
}

// Reserve earmarks qty units at key for an order. Fails with
// InsufficientStock when fewer than qty units are available.
func (m *Mutator) Reserve(ctx context.Context, key Key, qty int64, orderID id.ID, actorID string) (Applied, error) {
	if err := requirePositive(qty); err != nil {
		return Applied{}, err
	}
	return m.ApplyDelta(ctx, reserveDelta(key, qty, orderID, actorID))
}

func reserveDelta(key Key, qty int64, orderID id.ID, actorID string) Delta {
	return Delta{
		Key:           key,
		ReservedDelta: qty,
		Movement: Movement{
			Type:           MovementAllocation,
			QuantityChange: -qty,
			Reference:      Reference{Type: RefOrder, ID: orderID},
			ActorID:        actorID,
			Detail:         AllocationDetail{},
		},
	}
}

// ReserveUpTo reserves min(want, available) under the row lock. It returns a
// zero Applied when nothing is available.
func (m *Mutator) ReserveUpTo(ctx context.Context, key Key, want int64, orderID id.ID, actorID string) (Applied, error) {
	if err := requirePositive(want); err != nil {
		return Applied{}, err
	}
	var out Applied
	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		rec, err := m.repo.GetForUpdate(ctx, key, false)
		if err != nil {
			return err
		}
		take := min(want, rec.Available())
		if take <= 0 {
			return nil
		}
		out, err = m.apply(ctx, reserveDelta(key, take, orderID, actorID))
		return err
	})
	if err != nil {
		return Applied{}, err
	}
	return out, nil
}

// Fulfill ships qty reserved units: on hand and reserved both drop by qty.
func (m *Mutator) Fulfill(ctx context.Context, key Key, qty int64, orderID id.ID, actorID, shipmentRef string) (Applied, error) {
	if err := requirePositive(qty); err != nil {
		return Applied{}, err
	}
	return m.ApplyDelta(ctx, Delta{
		Key:           key,
		OnHandDelta:   -qty,
		ReservedDelta: -qty,
		Movement: Movement{
			Type:           MovementSale,
			QuantityChange: -qty,
			Reference:      Reference{Type: RefOrder, ID: orderID},
			ActorID:        actorID,
			Detail:         SaleDetail{ShipmentRef: shipmentRef},
		},
	})
}

// Release returns qty reserved units to availability without shipping them.
// compensation marks releases made to undo an all-or-nothing allocation.
func (m *Mutator) Release(ctx context.Context, key Key, qty int64, orderID id.ID, actorID string, compensation bool) (Applied, error) {
	if err := requirePositive(qty); err != nil {
		return Applied{}, err
	}
	return m.ApplyDelta(ctx, Delta{
		Key:           key,
		ReservedDelta: -qty,
		Movement: Movement{
			Type:           MovementDeallocation,
			QuantityChange: qty,
			Reference:      Reference{Type: RefOrder, ID: orderID},
			ActorID:        actorID,
			Detail:         DeallocationDetail{Compensation: compensation},
		},
	})
}

// AdjustRequest is a manual on-hand correction. Quantity is signed.
type AdjustRequest struct {
	Key
	Quantity   int64
	ReasonCode string
	ActorID    string
	Notes      string
}

// Adjust corrects on-hand stock. It never drives on hand below zero or below
// what is already reserved.
func (m *Mutator) Adjust(ctx context.Context, req AdjustRequest) (Applied, error) {
	if req.Quantity == 0 {
		return Applied{}, apperror.NewValidation("adjustment quantity must not be zero")
	}
	return m.ApplyDelta(ctx, Delta{
		Key:         req.Key,
		OnHandDelta: req.Quantity,
		Movement: Movement{
			Type:           MovementAdjustment,
			QuantityChange: req.Quantity,
			Reference:      Reference{Type: RefAdjustment, ID: id.New()},
			ActorID:        req.ActorID,
			Notes:          req.Notes,
			Detail:         AdjustmentDetail{ReasonCode: req.ReasonCode},
		},
	})
}

// CountRequest sets on hand to a physically counted quantity.
type CountRequest struct {
	Key
	Counted     int64
	CountTaskID *id.ID
	ActorID     string
	Notes       string
}

// Count records a physical count as a COUNT movement whose change is the
// difference between the counted and the recorded quantity.
func (m *Mutator) Count(ctx context.Context, req CountRequest) (Applied, error) {
	if req.Counted < 0 {
		return Applied{}, apperror.NewValidation("counted quantity must not be negative")
	}
	ref := Reference{Type: RefAdjustment, ID: id.New()}
	if req.CountTaskID != nil {
		ref = Reference{Type: RefCountTask, ID: *req.CountTaskID}
	}

	var out Applied
	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if req.Counted > 0 {
			if err := m.locations.CheckLocation(ctx, req.LocationID); err != nil {
				return err
			}
		}
		rec, err := m.repo.GetForUpdate(ctx, req.Key, req.Counted > 0)
		if err != nil {
			return err
		}
		delta := req.Counted - rec.OnHand
		out, err = m.apply(ctx, Delta{
			Key:         req.Key,
			OnHandDelta: delta,
			Movement: Movement{
				Type:           MovementCount,
				QuantityChange: delta,
				Reference:      ref,
				ActorID:        req.ActorID,
				Notes:          req.Notes,
				Detail: CountDetail{
					CountTaskID:     req.CountTaskID,
					CountedQuantity: req.Counted,
					PreviousOnHand:  rec.OnHand,
				},
			},
		})
		return err
	})
	if err != nil {
		return Applied{}, err
	}
	return out, nil
}

// TransferRequest moves on-hand stock between two locations.
type TransferRequest struct {
	ProductID id.ID
	From      id.ID
	To        id.ID
	Quantity  int64
	ActorID   string
	Notes     string
}

// TransferResult reports both legs of a transfer.
type TransferResult struct {
	TransferID  id.ID       `json:"transfer_id"`
	Source      StockRecord `json:"source"`
	Destination StockRecord `json:"destination"`
	OutMovement Movement    `json:"out_movement"`
	InMovement  Movement    `json:"in_movement"`
}

// Transfer applies the out leg and the in leg in one transaction. Each leg's
// movement references the other; if either leg fails neither is applied.
func (m *Mutator) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if err := requirePositive(req.Quantity); err != nil {
		return TransferResult{}, err
	}
	if req.From == req.To {
		return TransferResult{}, apperror.NewValidation("transfer source and destination must differ")
	}

	src := Key{ProductID: req.ProductID, LocationID: req.From}
	dst := Key{ProductID: req.ProductID, LocationID: req.To}
	transferID, outID, inID := id.New(), id.New(), id.New()

	leg := func(key Key, qty int64, self, counterpart id.ID, dir TransferDirection) Delta {
		return Delta{
			Key:         key,
			OnHandDelta: qty,
			Movement: Movement{
				ID:             self,
				Type:           MovementTransfer,
				QuantityChange: qty,
				Reference:      Reference{Type: RefTransfer, ID: transferID},
				ActorID:        req.ActorID,
				Notes:          req.Notes,
				Detail: TransferDetail{
					TransferID:            transferID,
					CounterpartMovementID: counterpart,
					Direction:             dir,
				},
			},
		}
	}

	var out TransferResult
	err := m.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := m.lockInOrder(ctx, map[Key]bool{src: false, dst: true}); err != nil {
			return err
		}
		outLeg, err := m.apply(ctx, leg(src, -req.Quantity, outID, inID, TransferOut))
		if err != nil {
			return err
		}
		inLeg, err := m.apply(ctx, leg(dst, req.Quantity, inID, outID, TransferIn))
		if err != nil {
			return err
		}
		out = TransferResult{
			TransferID:  transferID,
			Source:      outLeg.Record,
			Destination: inLeg.Record,
			OutMovement: outLeg.Movement,
			InMovement:  inLeg.Movement,
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	logger.Info(ctx, "stock transferred",
		"transfer_id", transferID,
		"product_id", req.ProductID,
		"from", req.From,
		"to", req.To,
		"quantity", req.Quantity,
	)
	return out, nil
}

// LockRows locks several records in key order inside the ctx transaction.
// create tells, per key, whether a missing record may be inserted.
func (m *Mutator) LockRows(ctx context.Context, keys map[Key]bool) error {
	return m.lockInOrder(ctx, keys)
}

func (m *Mutator) lockInOrder(ctx context.Context, keys map[Key]bool) error {
	ordered := make([]Key, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	slices.SortFunc(ordered, Key.Compare)
	for _, k := range ordered {
		if keys[k] {
			if err := m.locations.CheckLocation(ctx, k.LocationID); err != nil {
				return err
			}
		}
		if _, err := m.repo.GetForUpdate(ctx, k, keys[k]); err != nil {
			return err
		}
	}
	return nil
}
