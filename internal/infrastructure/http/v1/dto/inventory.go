package dto

import (
	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/core/types"
	"wmsledger/internal/domain/allocation"
	"wmsledger/internal/domain/backorder"
	"wmsledger/internal/domain/inventory"
	"wmsledger/internal/domain/ledger"
)

// --- Orders ---

// AllocationLine is one requested order line.
type AllocationLine struct {
	ProductID string `json:"product_variant_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required,gt=0"`
}

// AllocateRequest is the body of POST /orders/:orderId/allocations.
type AllocateRequest struct {
	Strategy string           `json:"strategy" binding:"required,oneof=THROW BACKORDER COUNT"`
	Lines    []AllocationLine `json:"lines" binding:"required,min=1,dive"`
}

// ToLines converts the request lines.
func (r AllocateRequest) ToLines() ([]allocation.Line, error) {
	lines := make([]allocation.Line, 0, len(r.Lines))
	for _, l := range r.Lines {
		productID, err := ParseID("product_variant_id", l.ProductID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, allocation.Line{ProductID: productID, Quantity: l.Quantity})
	}
	return lines, nil
}

// FulfillLine is one shipped line. LocationID restricts the shipment to
// one location.
type FulfillLine struct {
	ProductID  string `json:"product_variant_id" binding:"required"`
	LocationID string `json:"location_id"`
	Quantity   int64  `json:"quantity" binding:"required,gt=0"`
}

// FulfillRequest is the body of POST /orders/:orderId/fulfillments.
type FulfillRequest struct {
	ShipmentRef string        `json:"shipment_ref"`
	Lines       []FulfillLine `json:"lines" binding:"required,min=1,dive"`
}

// ToLines converts the request lines.
func (r FulfillRequest) ToLines() ([]inventory.FulfillLine, error) {
	lines := make([]inventory.FulfillLine, 0, len(r.Lines))
	for _, l := range r.Lines {
		productID, err := ParseID("product_variant_id", l.ProductID)
		if err != nil {
			return nil, err
		}
		locationID, err := ParseOptionalID("location_id", l.LocationID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, inventory.FulfillLine{ProductID: productID, LocationID: locationID, Quantity: l.Quantity})
	}
	return lines, nil
}

// ReleaseRequest is the body of POST /orders/:orderId/releases. An empty
// product releases every reservation of the order.
type ReleaseRequest struct {
	ProductID string `json:"product_variant_id"`
}

// --- Stock ---

// ReceiveRequest is the body of POST /stock/receipts.
type ReceiveRequest struct {
	ProductID       string  `json:"product_variant_id" binding:"required"`
	LocationID      string  `json:"location_id" binding:"required"`
	Quantity        int64   `json:"quantity" binding:"required,gt=0"`
	PurchaseOrderID string  `json:"purchase_order_id"`
	UnitCost        *string `json:"unit_cost"`
	Notes           string  `json:"notes"`
}

// ToDomain converts the request.
func (r ReceiveRequest) ToDomain(actorID string) (ledger.ReceiveRequest, error) {
	key, err := parseKey(r.ProductID, r.LocationID)
	if err != nil {
		return ledger.ReceiveRequest{}, err
	}
	po, err := ParseOptionalID("purchase_order_id", r.PurchaseOrderID)
	if err != nil {
		return ledger.ReceiveRequest{}, err
	}
	req := ledger.ReceiveRequest{
		ProductID:       key.ProductID,
		LocationID:      key.LocationID,
		Quantity:        r.Quantity,
		PurchaseOrderID: po,
		ActorID:         actorID,
		Notes:           r.Notes,
	}
	if r.UnitCost != nil {
		cost, err := types.NewMoneyFromString(*r.UnitCost)
		if err != nil {
			return ledger.ReceiveRequest{}, apperror.NewValidation("invalid unit_cost").WithDetail("field", "unit_cost")
		}
		req.UnitCost = &cost
	}
	return req, nil
}

// TransferRequest is the body of POST /stock/transfers.
type TransferRequest struct {
	ProductID      string `json:"product_variant_id" binding:"required"`
	FromLocationID string `json:"from_location_id" binding:"required"`
	ToLocationID   string `json:"to_location_id" binding:"required"`
	Quantity       int64  `json:"quantity" binding:"required,gt=0"`
	Notes          string `json:"notes"`
}

// ToDomain converts the request.
func (r TransferRequest) ToDomain(actorID string) (ledger.TransferRequest, error) {
	productID, err := ParseID("product_variant_id", r.ProductID)
	if err != nil {
		return ledger.TransferRequest{}, err
	}
	from, err := ParseID("from_location_id", r.FromLocationID)
	if err != nil {
		return ledger.TransferRequest{}, err
	}
	to, err := ParseID("to_location_id", r.ToLocationID)
	if err != nil {
		return ledger.TransferRequest{}, err
	}
	return ledger.TransferRequest{
		ProductID: productID,
		From:      from,
		To:        to,
		Quantity:  r.Quantity,
		ActorID:   actorID,
		Notes:     r.Notes,
	}, nil
}

// AdjustRequest is the body of POST /stock/adjustments. Quantity is signed.
type AdjustRequest struct {
	ProductID  string `json:"product_variant_id" binding:"required"`
	LocationID string `json:"location_id" binding:"required"`
	Quantity   int64  `json:"quantity" binding:"required"`
	ReasonCode string `json:"reason_code" binding:"required"`
	Notes      string `json:"notes"`
}

// ToDomain converts the request.
func (r AdjustRequest) ToDomain(actorID string) (ledger.AdjustRequest, error) {
	key, err := parseKey(r.ProductID, r.LocationID)
	if err != nil {
		return ledger.AdjustRequest{}, err
	}
	return ledger.AdjustRequest{
		Key:        key,
		Quantity:   r.Quantity,
		ReasonCode: r.ReasonCode,
		ActorID:    actorID,
		Notes:      r.Notes,
	}, nil
}

// StockQuery holds GET /stock filters.
type StockQuery struct {
	ProductID  string `form:"productId"`
	LocationID string `form:"locationId"`
	MaxOnHand  *int64 `form:"maxOnHand" binding:"omitempty,min=0"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// ToFilter converts the query.
func (q StockQuery) ToFilter() (ledger.StockFilter, error) {
	productID, err := ParseOptionalID("productId", q.ProductID)
	if err != nil {
		return ledger.StockFilter{}, err
	}
	locationID, err := ParseOptionalID("locationId", q.LocationID)
	if err != nil {
		return ledger.StockFilter{}, err
	}
	return ledger.StockFilter{ProductID: productID, LocationID: locationID, MaxOnHand: q.MaxOnHand, Limit: q.Limit}, nil
}

// MovementQuery holds GET /stock/movements filters.
type MovementQuery struct {
	ProductID     string   `form:"productId"`
	LocationID    string   `form:"locationId"`
	ReferenceType string   `form:"referenceType"`
	ReferenceID   string   `form:"referenceId"`
	Types         []string `form:"type"`
	AfterSeq      int64    `form:"afterSeq" binding:"omitempty,min=0"`
	Limit         int      `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// ToFilter converts the query. Listings are capped at 100 rows by default.
func (q MovementQuery) ToFilter() (ledger.MovementFilter, error) {
	productID, err := ParseOptionalID("productId", q.ProductID)
	if err != nil {
		return ledger.MovementFilter{}, err
	}
	locationID, err := ParseOptionalID("locationId", q.LocationID)
	if err != nil {
		return ledger.MovementFilter{}, err
	}
	f := ledger.MovementFilter{ProductID: productID, LocationID: locationID, AfterSeq: q.AfterSeq, Limit: q.Limit}
	if f.Limit == 0 {
		f.Limit = 100
	}
	if q.ReferenceType != "" || q.ReferenceID != "" {
		refID, err := ParseID("referenceId", q.ReferenceID)
		if err != nil {
			return ledger.MovementFilter{}, err
		}
		f.Reference = &ledger.Reference{Type: ledger.ReferenceType(q.ReferenceType), ID: refID}
	}
	for _, t := range q.Types {
		mt := ledger.MovementType(t)
		if !mt.IsValid() {
			return ledger.MovementFilter{}, apperror.NewValidation("unknown movement type").WithDetail("type", t)
		}
		f.Types = append(f.Types, mt)
	}
	return f, nil
}

// KeyQuery identifies one stock record.
type KeyQuery struct {
	ProductID  string `form:"productId" binding:"required"`
	LocationID string `form:"locationId" binding:"required"`
}

// ToKey converts the query.
func (q KeyQuery) ToKey() (ledger.Key, error) {
	return parseKey(q.ProductID, q.LocationID)
}

func parseKey(productRaw, locationRaw string) (ledger.Key, error) {
	productID, err := ParseID("product_variant_id", productRaw)
	if err != nil {
		return ledger.Key{}, err
	}
	locationID, err := ParseID("location_id", locationRaw)
	if err != nil {
		return ledger.Key{}, err
	}
	return ledger.Key{ProductID: productID, LocationID: locationID}, nil
}

// --- Backorders ---

// BackorderQuery holds GET /backorders filters.
type BackorderQuery struct {
	OrderID   string   `form:"orderId"`
	ProductID string   `form:"productId"`
	Status    []string `form:"status"`
	Limit     int      `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// ToFilter converts the query.
func (q BackorderQuery) ToFilter() (backorder.Filter, error) {
	orderID, err := ParseOptionalID("orderId", q.OrderID)
	if err != nil {
		return backorder.Filter{}, err
	}
	productID, err := ParseOptionalID("productId", q.ProductID)
	if err != nil {
		return backorder.Filter{}, err
	}
	f := backorder.Filter{OrderID: orderID, ProductID: productID, Limit: q.Limit}
	for _, s := range q.Status {
		st := backorder.Status(s)
		if !st.IsValid() {
			return backorder.Filter{}, apperror.NewValidation("unknown backorder status").WithDetail("status", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	return f, nil
}

// AdvanceBackorderRequest is the body of POST /backorders/:id/advance.
type AdvanceBackorderRequest struct {
	Status string `json:"status" binding:"required"`
}

// CancelBackorderRequest is the body of POST /backorders/:id/cancel.
type CancelBackorderRequest struct {
	Reason string `json:"reason"`
}

// --- Count tasks ---

// CountTaskQuery holds GET /count-tasks filters.
type CountTaskQuery struct {
	ProductID  string `form:"productId"`
	LocationID string `form:"locationId"`
	Status     string `form:"status" binding:"omitempty,oneof=OPEN COMPLETED CANCELLED"`
	Limit      int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// CompleteCountRequest is the body of POST /count-tasks/:id/complete.
// LocationID is required for product-wide tasks.
type CompleteCountRequest struct {
	Counted    *int64 `json:"counted_quantity" binding:"required,min=0"`
	LocationID string `json:"location_id"`
}

// OptionalLocation parses LocationID.
func (r CompleteCountRequest) OptionalLocation() (*id.ID, error) {
	return ParseOptionalID("location_id", r.LocationID)
}

// --- Administration ---

// AuditQuery holds GET /audit/:entityType/:id parameters.
type AuditQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}
