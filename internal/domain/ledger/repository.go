package ledger

import (
	"context"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
)

// Repository is the ledger store port.
//
// Write methods must be called with a ctx that carries a transaction from
// tx.Manager; that ctx is the unit of work. Movements have no update or
// delete.
type Repository interface {
	// GetForUpdate locks and returns the record for key. When the record is
	// missing and create is true a zeroed record is inserted and locked,
	// otherwise a NotFound error is returned.
	GetForUpdate(ctx context.Context, key Key, create bool) (*StockRecord, error)

	// Upsert writes the counters of a record locked by GetForUpdate.
	Upsert(ctx context.Context, rec *StockRecord) error

	// AppendMovement inserts a movement and sets its Seq.
	AppendMovement(ctx context.Context, m *Movement) error

	// Get returns the record for key without locking.
	Get(ctx context.Context, key Key) (*StockRecord, error)

	// ListByProduct returns every record of a product, any availability.
	ListByProduct(ctx context.Context, productID id.ID) ([]StockRecord, error)

	List(ctx context.Context, filter StockFilter) ([]StockRecord, error)

	// ListMovements returns movements in insertion order.
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)

	// OrderReservations sums what an order still holds per product and
	// location. Only positive holdings are returned.
	OrderReservations(ctx context.Context, orderID id.ID) ([]OrderReservation, error)
}

// LocationDirectory resolves whether stock may be held at a location.
type LocationDirectory interface {
	// CheckLocation returns a NotFound error for unknown or inactive locations.
	CheckLocation(ctx context.Context, locationID id.ID) error
}

// NopDirectory accepts every location.
type NopDirectory struct{}

func (NopDirectory) CheckLocation(context.Context, id.ID) error { return nil }

// StaticDirectory is a fixed set of active locations.
type StaticDirectory map[id.ID]bool

func (d StaticDirectory) CheckLocation(_ context.Context, locationID id.ID) error {
	if !d[locationID] {
		return apperror.NewNotFound("location", locationID)
	}
	return nil
}
