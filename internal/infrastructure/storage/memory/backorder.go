package memory

import (
	"context"
	"slices"
	"time"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/backorder"
)

// BackorderRepo implements backorder.Repository.
type BackorderRepo struct {
	db *DB
}

var _ backorder.Repository = (*BackorderRepo)(nil)

// Backorders returns the backorder repository.
func (db *DB) Backorders() *BackorderRepo {
	return &BackorderRepo{db: db}
}

func (db *DB) backordersView(t *memTx) []backorder.Backorder {
	db.mu.RLock()
	merged := make(map[id.ID]backorder.Backorder, len(db.backorders))
	for k, b := range db.backorders {
		merged[k] = b
	}
	db.mu.RUnlock()
	if t != nil {
		for k, b := range t.backorders {
			merged[k] = b
		}
	}

	out := make([]backorder.Backorder, 0, len(merged))
	for _, b := range merged {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b backorder.Backorder) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return id.Compare(a.ID, b.ID)
	})
	return out
}

func openBackorderLock(orderID, productID id.ID) string {
	return "backorder-open:" + orderID.String() + ":" + productID.String()
}

func backorderLock(backorderID id.ID) string {
	return "backorder:" + backorderID.String()
}

func (r *BackorderRepo) FindOpenForUpdate(ctx context.Context, orderID, productID id.ID) (*backorder.Backorder, error) {
	t, err := r.db.requireTx(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.db.lock(ctx, t, openBackorderLock(orderID, productID)); err != nil {
		return nil, err
	}
	for _, b := range r.db.backordersView(t) {
		if b.OrderID == orderID && b.ProductID == productID && !b.Status.IsTerminal() {
			if err := r.db.lock(ctx, t, backorderLock(b.ID)); err != nil {
				return nil, err
			}
			return r.reload(t, b.ID)
		}
	}
	return nil, nil
}

// reload reads a backorder again after its lock was taken.
func (r *BackorderRepo) reload(t *memTx, backorderID id.ID) (*backorder.Backorder, error) {
	for _, b := range r.db.backordersView(t) {
		if b.ID == backorderID {
			return &b, nil
		}
	}
	return nil, apperror.NewNotFound("backorder", backorderID)
}

func (r *BackorderRepo) GetForUpdate(ctx context.Context, backorderID id.ID) (*backorder.Backorder, error) {
	t, err := r.db.requireTx(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.db.lock(ctx, t, backorderLock(backorderID)); err != nil {
		return nil, err
	}
	return r.reload(t, backorderID)
}

func (r *BackorderRepo) Get(ctx context.Context, backorderID id.ID) (*backorder.Backorder, error) {
	return r.reload(r.db.txFrom(ctx), backorderID)
}

func (r *BackorderRepo) Create(ctx context.Context, b *backorder.Backorder) (bool, error) {
	t, err := r.db.requireTx(ctx)
	if err != nil {
		return false, err
	}
	if err := r.db.lock(ctx, t, openBackorderLock(b.OrderID, b.ProductID)); err != nil {
		return false, err
	}
	for _, existing := range r.db.backordersView(t) {
		if existing.OrderID == b.OrderID && existing.ProductID == b.ProductID && !existing.Status.IsTerminal() {
			return false, nil
		}
	}
	if err := r.db.lock(ctx, t, backorderLock(b.ID)); err != nil {
		return false, err
	}
	t.backorders[b.ID] = *b
	return true, nil
}

func (r *BackorderRepo) Update(ctx context.Context, b *backorder.Backorder) error {
	t, err := r.db.requireTx(ctx)
	if err != nil {
		return err
	}
	if !t.holds(backorderLock(b.ID)) {
		return apperror.NewConflict("backorder must be locked before update")
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	t.backorders[b.ID] = *b
	return nil
}

func (r *BackorderRepo) ListFulfillable(ctx context.Context, productID id.ID) ([]backorder.Backorder, error) {
	var out []backorder.Backorder
	for _, b := range r.db.backordersView(r.db.txFrom(ctx)) {
		if b.ProductID != productID || b.Outstanding() <= 0 {
			continue
		}
		if !b.Status.IsTerminal() {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *BackorderRepo) List(ctx context.Context, f backorder.Filter) ([]backorder.Backorder, error) {
	var out []backorder.Backorder
	for _, b := range r.db.backordersView(r.db.txFrom(ctx)) {
		if f.OrderID != nil && b.OrderID != *f.OrderID {
			continue
		}
		if f.ProductID != nil && b.ProductID != *f.ProductID {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, b.Status) {
			continue
		}
		out = append(out, b)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
