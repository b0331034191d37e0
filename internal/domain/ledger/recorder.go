package ledger

import (
	"context"
	"fmt"
	"time"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/core/tx"
)

// Recorder is the only writer of movements. It validates and stamps each
// movement and appends it; nothing in the package can change one afterwards.
type Recorder struct {
	repo Repository
	txm  tx.Manager
	now  func() time.Time
}

// NewRecorder creates a movement recorder.
func NewRecorder(repo Repository, txm tx.Manager) *Recorder {
	return &Recorder{
		repo: repo,
		txm:  txm,
		now:  time.Now,
	}
}

// Record validates m, assigns its id and timestamp when missing and appends it
// to the log. It must run inside the transaction that changed the counters.
func (r *Recorder) Record(ctx context.Context, m Movement) (Movement, error) {
	if m.Detail == nil {
		m.Detail = emptyDetail(m.Type)
	}
	if err := validateMovement(m); err != nil {
		return Movement{}, err
	}
	if id.IsNil(m.ID) {
		m.ID = id.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now().UTC()
	}
	if err := r.repo.AppendMovement(ctx, &m); err != nil {
		return Movement{}, fmt.Errorf("append movement: %w", err)
	}
	return m, nil
}

func emptyDetail(t MovementType) Detail {
	switch t {
	case MovementReceipt:
		return ReceiptDetail{}
	case MovementSale:
		return SaleDetail{}
	case MovementAllocation:
		return AllocationDetail{}
	case MovementDeallocation:
		return DeallocationDetail{}
	case MovementAdjustment:
		return AdjustmentDetail{}
	}
	// TRANSFER and COUNT carry required fields.
	return nil
}

func validateMovement(m Movement) error {
	if !m.Type.IsValid() {
		return apperror.NewValidation(fmt.Sprintf("unknown movement type %q", m.Type))
	}
	if id.IsNil(m.ProductID) {
		return apperror.NewValidation("movement product is required")
	}
	if m.Detail == nil {
		return apperror.NewValidation(fmt.Sprintf("%s movement requires detail", m.Type))
	}
	if m.Detail.MovementType() != m.Type {
		return apperror.NewInvariantViolation(
			fmt.Sprintf("%s movement carries %s detail", m.Type, m.Detail.MovementType()))
	}

	bad := func(rule string) error {
		return apperror.NewInvariantViolation(fmt.Sprintf("%s movement: %s", m.Type, rule)).
			WithDetail("quantity_change", m.QuantityChange).
			WithDetail("on_hand_delta", m.OnHandDelta).
			WithDetail("reserved_delta", m.ReservedDelta)
	}

	switch m.Type {
	case MovementReceipt:
		if m.OnHandDelta <= 0 || m.ReservedDelta != 0 || m.QuantityChange != m.OnHandDelta {
			return bad("must add on-hand stock only")
		}
	case MovementSale:
		if m.OnHandDelta >= 0 || m.ReservedDelta != m.OnHandDelta || m.QuantityChange != m.OnHandDelta {
			return bad("must consume equal on-hand and reserved stock")
		}
	case MovementAllocation:
		if m.OnHandDelta != 0 || m.ReservedDelta <= 0 || m.QuantityChange != -m.ReservedDelta {
			return bad("must reserve stock only")
		}
	case MovementDeallocation:
		if m.OnHandDelta != 0 || m.ReservedDelta >= 0 || m.QuantityChange != -m.ReservedDelta {
			return bad("must release reserved stock only")
		}
	case MovementTransfer:
		if m.OnHandDelta == 0 || m.ReservedDelta != 0 || m.QuantityChange != m.OnHandDelta {
			return bad("must move on-hand stock only")
		}
		d := m.Detail.(TransferDetail)
		if (d.Direction == TransferOut) != (m.OnHandDelta < 0) {
			return bad("direction does not match quantity sign")
		}
		if id.IsNil(d.CounterpartMovementID) {
			return bad("counterpart movement is required")
		}
	case MovementAdjustment:
		if m.OnHandDelta == 0 || m.ReservedDelta != 0 || m.QuantityChange != m.OnHandDelta {
			return bad("must change on-hand stock only")
		}
	case MovementCount:
		if m.ReservedDelta != 0 || m.QuantityChange != m.OnHandDelta {
			return bad("must change on-hand stock only")
		}
	}
	return nil
}

// Reconciliation compares a record with the replay of its movements.
type Reconciliation struct {
	Key            Key   `json:"key"`
	OnHand         int64 `json:"quantity_on_hand"`
	Reserved       int64 `json:"quantity_reserved"`
	ReplayOnHand   int64 `json:"replay_on_hand"`
	ReplayReserved int64 `json:"replay_reserved"`
	Movements      int   `json:"movements"`
	Balanced       bool  `json:"balanced"`
}

// ReplayMovements sums movements by category. On-hand comes from the
// quantity change of RECEIPT, SALE, ADJUSTMENT, TRANSFER and COUNT rows;
// reserved comes from ALLOCATION, DEALLOCATION and SALE rows.
func ReplayMovements(movements []Movement) (onHand, reserved int64) {
	for _, m := range movements {
		switch m.Type {
		case MovementReceipt, MovementAdjustment, MovementTransfer, MovementCount:
			onHand += m.QuantityChange
		case MovementSale:
			onHand += m.QuantityChange
			reserved += m.ReservedDelta
		case MovementAllocation, MovementDeallocation:
			reserved += m.ReservedDelta
		}
	}
	return onHand, reserved
}

// Reconcile replays the log for key under the row lock and reports whether it
// reproduces the stored counters.
func (r *Recorder) Reconcile(ctx context.Context, key Key) (Reconciliation, error) {
	var out Reconciliation
	err := r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		rec, err := r.repo.GetForUpdate(ctx, key, false)
		if err != nil {
			return err
		}
		movements, err := r.repo.ListMovements(ctx, MovementFilter{
			ProductID:  &key.ProductID,
			LocationID: &key.LocationID,
		})
		if err != nil {
			return fmt.Errorf("list movements: %w", err)
		}
		onHand, reserved := ReplayMovements(movements)
		out = Reconciliation{
			Key:            key,
			OnHand:         rec.OnHand,
			Reserved:       rec.Reserved,
			ReplayOnHand:   onHand,
			ReplayReserved: reserved,
			Movements:      len(movements),
			Balanced:       onHand == rec.OnHand && reserved == rec.Reserved,
		}
		return nil
	})
	return out, err
}
