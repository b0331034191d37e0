// Package ledger owns the per-location stock counters and the append-only
// movement log. Counters change only through Mutator, movements are written
// only through Recorder, and both happen inside one transaction per row.
package ledger

import (
	"fmt"
	"time"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
)

// Key identifies one stock record: a product variant at a location.
type Key struct {
	ProductID  id.ID `json:"product_variant_id"`
	LocationID id.ID `json:"location_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s", k.ProductID, k.LocationID)
}

// Compare orders keys by product, then location. Multi-row operations lock
// rows in this order.
func (k Key) Compare(o Key) int {
	if c := id.Compare(k.ProductID, o.ProductID); c != 0 {
		return c
	}
	return id.Compare(k.LocationID, o.LocationID)
}

// StockRecord holds the counters for one Key.
// Records are created on the first receipt into a location and never deleted.
type StockRecord struct {
	ProductID  id.ID     `json:"product_variant_id" db:"product_variant_id"`
	LocationID id.ID     `json:"location_id" db:"location_id"`
	OnHand     int64     `json:"quantity_on_hand" db:"quantity_on_hand"`
	Reserved   int64     `json:"quantity_reserved" db:"quantity_reserved"`
	Version    int64     `json:"version" db:"version"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Key returns the record's identity.
func (r StockRecord) Key() Key {
	return Key{ProductID: r.ProductID, LocationID: r.LocationID}
}

// Available is on hand minus reserved. It is never stored.
func (r StockRecord) Available() int64 {
	return r.OnHand - r.Reserved
}

// Validate checks 0 <= reserved <= on hand.
func (r StockRecord) Validate() error {
	switch {
	case r.OnHand < 0:
		return apperror.NewInvariantViolation("quantity on hand would become negative").
			WithDetail("key", r.Key().String()).
			WithDetail("on_hand", r.OnHand)
	case r.Reserved < 0:
		return apperror.NewInvariantViolation("quantity reserved would become negative").
			WithDetail("key", r.Key().String()).
			WithDetail("reserved", r.Reserved)
	case r.Reserved > r.OnHand:
		return apperror.NewInvariantViolation("quantity reserved would exceed quantity on hand").
			WithDetail("key", r.Key().String()).
			WithDetail("on_hand", r.OnHand).
			WithDetail("reserved", r.Reserved)
	}
	return nil
}

// Location is a storage place stock can be held at.
type Location struct {
	ID     id.ID  `json:"id" db:"id"`
	Code   string `json:"code" db:"code"`
	Name   string `json:"name" db:"name"`
	Active bool   `json:"active" db:"active"`
}

// StockFilter narrows stock record listings.
type StockFilter struct {
	ProductID  *id.ID
	LocationID *id.ID
	// MaxOnHand keeps records at or below a reorder threshold.
	MaxOnHand *int64
	Limit     int
}

// OrderReservation is what an order still holds at one location.
type OrderReservation struct {
	ProductID  id.ID `json:"product_variant_id" db:"product_variant_id"`
	LocationID id.ID `json:"location_id" db:"location_id"`
	Quantity   int64 `json:"quantity" db:"quantity"`
}

// Key returns the record the holding lives on.
func (r OrderReservation) Key() Key {
	return Key{ProductID: r.ProductID, LocationID: r.LocationID}
}

// Reservation is stock earmarked for an order at one location.
type Reservation struct {
	ProductID  id.ID `json:"product_variant_id"`
	LocationID id.ID `json:"location_id"`
	Quantity   int64 `json:"quantity_reserved"`
	MovementID id.ID `json:"movement_id"`
}

// Key returns the record the reservation lives on.
func (r Reservation) Key() Key {
	return Key{ProductID: r.ProductID, LocationID: r.LocationID}
}
