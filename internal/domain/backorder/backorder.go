// Package backorder tracks quantities owed to orders when allocation could
// not reserve enough stock, and hands them stock as it arrives.
package backorder

import (
	"context"
	"time"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/ledger"
)

// Status is the backorder lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAllocated Status = "ALLOCATED"
	StatusPicking   Status = "PICKING"
	StatusPicked    Status = "PICKED"
	StatusPacked    Status = "PACKED"
	StatusFulfilled Status = "FULFILLED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFulfilled || s == StatusCancelled
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusAllocated, StatusCancelled},
	StatusAllocated: {StatusPicking, StatusCancelled},
	StatusPicking:   {StatusPicked, StatusCancelled},
	StatusPicked:    {StatusPacked, StatusCancelled},
	StatusPacked:    {StatusFulfilled, StatusCancelled},
	StatusFulfilled: nil,
	StatusCancelled: nil,
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Backorder is a tracked shortfall of one product on one order.
type Backorder struct {
	ID                  id.ID      `json:"id" db:"id"`
	OrderID             id.ID      `json:"order_id" db:"order_id"`
	ProductID           id.ID      `json:"product_variant_id" db:"product_variant_id"`
	QuantityBackOrdered int64      `json:"quantity_back_ordered" db:"quantity_back_ordered"`
	QuantityFulfilled   int64      `json:"quantity_fulfilled" db:"quantity_fulfilled"`
	Status              Status     `json:"status" db:"status"`
	Reason              string     `json:"reason" db:"reason"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
	FulfilledAt         *time.Time `json:"fulfilled_at,omitempty" db:"fulfilled_at"`
}

// Outstanding is the quantity still to be allocated.
func (b Backorder) Outstanding() int64 {
	return b.QuantityBackOrdered - b.QuantityFulfilled
}

// Validate checks 0 <= fulfilled <= back-ordered.
func (b Backorder) Validate() error {
	if b.QuantityBackOrdered <= 0 {
		return apperror.NewInvariantViolation("back-ordered quantity must be positive").
			WithDetail("backorder_id", b.ID)
	}
	if b.QuantityFulfilled < 0 || b.QuantityFulfilled > b.QuantityBackOrdered {
		return apperror.NewInvariantViolation("fulfilled quantity out of range").
			WithDetail("backorder_id", b.ID).
			WithDetail("quantity_back_ordered", b.QuantityBackOrdered).
			WithDetail("quantity_fulfilled", b.QuantityFulfilled)
	}
	if !b.Status.IsValid() {
		return apperror.NewValidation("unknown backorder status").WithDetail("status", b.Status)
	}
	return nil
}

// Filter narrows backorder listings.
type Filter struct {
	OrderID   *id.ID
	ProductID *id.ID
	Statuses  []Status
	Limit     int
}

// Repository is the backorder store port. Methods ending in ForUpdate lock
// rows and need a transaction in ctx.
type Repository interface {
	// FindOpenForUpdate locks the non-terminal backorder of an order line.
	// It returns nil, nil when there is none.
	FindOpenForUpdate(ctx context.Context, orderID, productID id.ID) (*Backorder, error)

	GetForUpdate(ctx context.Context, backorderID id.ID) (*Backorder, error)
	Get(ctx context.Context, backorderID id.ID) (*Backorder, error)

	// Create inserts b unless an open backorder for the same order line
	// already exists, in which case it returns false.
	Create(ctx context.Context, b *Backorder) (bool, error)

	Update(ctx context.Context, b *Backorder) error

	// ListFulfillable returns non-terminal backorders of a product with an
	// outstanding quantity, oldest first.
	ListFulfillable(ctx context.Context, productID id.ID) ([]Backorder, error)

	List(ctx context.Context, filter Filter) ([]Backorder, error)
}

// Reserver reserves available stock of a product for an order, across
// locations, up to qty. It reserves nothing when no stock is available.
type Reserver interface {
	ReserveAvailable(ctx context.Context, orderID, productID id.ID, qty int64, actorID string) ([]ledger.Reservation, error)
}

// PickTask is newly pickable stock for a backordered order.
type PickTask struct {
	BackorderID id.ID `json:"backorder_id"`
	OrderID     id.ID `json:"order_id"`
	ProductID   id.ID `json:"product_variant_id"`
	LocationID  id.ID `json:"location_id"`
	Quantity    int64 `json:"quantity"`
}

// WorkAssigner receives pick tasks for the work-assignment system.
type WorkAssigner interface {
	AssignPicks(ctx context.Context, tasks []PickTask) error
}
