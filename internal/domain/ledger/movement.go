package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"wmsledger/internal/core/id"
	"wmsledger/internal/core/types"
)

// MovementType classifies a stock-affecting event.
type MovementType string

const (
	MovementReceipt      MovementType = "RECEIPT"
	MovementSale         MovementType = "SALE"
	MovementAllocation   MovementType = "ALLOCATION"
	MovementDeallocation MovementType = "DEALLOCATION"
	MovementTransfer     MovementType = "TRANSFER"
	MovementAdjustment   MovementType = "ADJUSTMENT"
	MovementCount        MovementType = "COUNT"
)

// IsValid reports whether t is a known movement type.
func (t MovementType) IsValid() bool {
	switch t {
	case MovementReceipt, MovementSale, MovementAllocation, MovementDeallocation,
		MovementTransfer, MovementAdjustment, MovementCount:
		return true
	}
	return false
}

// ReferenceType names what a movement was caused by.
type ReferenceType string

const (
	RefOrder         ReferenceType = "order"
	RefPurchaseOrder ReferenceType = "purchase_order"
	RefReceipt       ReferenceType = "receipt"
	RefTransfer      ReferenceType = "transfer"
	RefAdjustment    ReferenceType = "adjustment"
	RefCountTask     ReferenceType = "count_task"
)

// Reference links a movement to its business source.
type Reference struct {
	Type ReferenceType `json:"reference_type"`
	ID   id.ID         `json:"reference_id"`
}

// Movement is one immutable entry of the stock log.
//
// QuantityChange is signed relative to availability: negative when stock
// leaves availability. OnHandDelta and ReservedDelta are the exact counter
// changes the movement caused.
type Movement struct {
	ID             id.ID        `json:"id"`
	Seq            int64        `json:"seq"`
	ProductID      id.ID        `json:"product_variant_id"`
	LocationID     *id.ID       `json:"location_id,omitempty"`
	Type           MovementType `json:"movement_type"`
	QuantityChange int64        `json:"quantity_change"`
	OnHandDelta    int64        `json:"on_hand_delta"`
	ReservedDelta  int64        `json:"reserved_delta"`
	Reference      Reference    `json:"reference"`
	ActorID        string       `json:"actor_id"`
	Notes          string       `json:"notes,omitempty"`
	Detail         Detail       `json:"detail"`
	CreatedAt      time.Time    `json:"created_at"`
}

// MovementFilter narrows movement listings. Results come in insertion order.
type MovementFilter struct {
	ProductID  *id.ID
	LocationID *id.ID
	Reference  *Reference
	Types      []MovementType
	AfterSeq   int64
	Limit      int
}

// Detail carries the fields specific to one movement type.
// Each type has exactly one detail struct.
type Detail interface {
	MovementType() MovementType
	isDetail()
}

// ReceiptDetail describes inbound stock.
type ReceiptDetail struct {
	PurchaseOrderID *id.ID       `json:"purchase_order_id,omitempty"`
	UnitCost        *types.Money `json:"unit_cost,omitempty"`
	ExtendedCost    *types.Money `json:"extended_cost,omitempty"`
}

// NewReceiptDetail fills in the extended cost of a costed receipt.
func NewReceiptDetail(purchaseOrderID *id.ID, unitCost *types.Money, quantity int64) ReceiptDetail {
	d := ReceiptDetail{PurchaseOrderID: purchaseOrderID, UnitCost: unitCost}
	if unitCost != nil {
		total := types.ExtendedCost(*unitCost, quantity)
		d.ExtendedCost = &total
	}
	return d
}

// SaleDetail describes a shipment leaving the warehouse.
type SaleDetail struct {
	ShipmentRef string `json:"shipment_ref,omitempty"`
}

// AllocationDetail describes a reservation against an order.
type AllocationDetail struct{}

// DeallocationDetail describes a released reservation.
type DeallocationDetail struct {
	// Compensation is set when an all-or-nothing allocation is rolled back.
	Compensation bool `json:"compensation,omitempty"`
}

// TransferDirection tells which leg of a transfer a movement is.
type TransferDirection string

const (
	TransferOut TransferDirection = "OUT"
	TransferIn  TransferDirection = "IN"
)

// TransferDetail links the two legs of a transfer.
type TransferDetail struct {
	TransferID            id.ID             `json:"transfer_id"`
	CounterpartMovementID id.ID             `json:"counterpart_movement_id"`
	Direction             TransferDirection `json:"direction"`
}

// AdjustmentDetail describes a manual correction.
type AdjustmentDetail struct {
	ReasonCode string `json:"reason_code,omitempty"`
}

// CountDetail records the outcome of a physical count.
type CountDetail struct {
	CountTaskID     *id.ID `json:"count_task_id,omitempty"`
	CountedQuantity int64  `json:"counted_quantity"`
	PreviousOnHand  int64  `json:"previous_on_hand"`
}

func (ReceiptDetail) MovementType() MovementType      { return MovementReceipt }
func (SaleDetail) MovementType() MovementType         { return MovementSale }
func (AllocationDetail) MovementType() MovementType   { return MovementAllocation }
func (DeallocationDetail) MovementType() MovementType { return MovementDeallocation }
func (TransferDetail) MovementType() MovementType     { return MovementTransfer }
func (AdjustmentDetail) MovementType() MovementType   { return MovementAdjustment }
func (CountDetail) MovementType() MovementType        { return MovementCount }

func (ReceiptDetail) isDetail()      {}
func (SaleDetail) isDetail()         {}
func (AllocationDetail) isDetail()   {}
func (DeallocationDetail) isDetail() {}
func (TransferDetail) isDetail()     {}
func (AdjustmentDetail) isDetail()   {}
func (CountDetail) isDetail()        {}

// EncodeDetail serializes a detail for storage.
func EncodeDetail(d Detail) ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// DecodeDetail restores the detail struct belonging to t.
func DecodeDetail(t MovementType, raw []byte) (Detail, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var (
		d   Detail
		err error
	)
	switch t {
	case MovementReceipt:
		var v ReceiptDetail
		err = json.Unmarshal(raw, &v)
		d = v
	case MovementSale:
		var v SaleDetail
		err = json.Unmarshal(raw, &v)
		d = v
	case MovementAllocation:
		d = AllocationDetail{}
	case MovementDeallocation:
		var v DeallocationDetail
		err = json.Unmarshal(raw, &v)
		d = v
	case MovementTransfer:
		var v TransferDetail
		err = json.Unmarshal(raw, &v)
		d = v
	case MovementAdjustment:
		var v AdjustmentDetail
		err = json.Unmarshal(raw, &v)
		d = v
	case MovementCount:
		var v CountDetail
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("unknown movement type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s detail: %w", t, err)
	}
	return d, nil
}

// UnmarshalJSON restores Detail from its type-tagged form.
func (m *Movement) UnmarshalJSON(data []byte) error {
	type plain Movement
	aux := struct {
		*plain
		Detail json.RawMessage `json:"detail"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d, err := DecodeDetail(m.Type, aux.Detail)
	if err != nil {
		return err
	}
	m.Detail = d
	return nil
}
