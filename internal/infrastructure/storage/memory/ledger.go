package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/ledger"
)

var errNoTx = errors.New("memory: operation requires a transaction")

// LedgerRepo implements ledger.Repository.
type LedgerRepo struct {
	db *DB
}

var _ ledger.Repository = (*LedgerRepo)(nil)

// Ledger returns the stock record and movement repository.
func (db *DB) Ledger() *LedgerRepo {
	return &LedgerRepo{db: db}
}

func stockLock(k ledger.Key) string {
	return "stock:" + k.String()
}

// recordsView merges committed records with the writes of t.
func (db *DB) recordsView(t *memTx) map[ledger.Key]ledger.StockRecord {
	db.mu.RLock()
	out := make(map[ledger.Key]ledger.StockRecord, len(db.records))
	for k, r := range db.records {
		out[k] = r
	}
	db.mu.RUnlock()
	if t != nil {
		for k, r := range t.records {
			out[k] = r
		}
	}
	return out
}

// movementsView returns committed movements followed by those of t, by Seq.
func (db *DB) movementsView(t *memTx) []ledger.Movement {
	db.mu.RLock()
	out := slices.Clone(db.movements)
	db.mu.RUnlock()
	if t != nil {
		out = append(out, t.movements...)
	}
	slices.SortFunc(out, func(a, b ledger.Movement) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out
}

func (r *LedgerRepo) GetForUpdate(ctx context.Context, key ledger.Key, create bool) (*ledger.StockRecord, error) {
	t, err := r.db.requireTx(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.db.lock(ctx, t, stockLock(key)); err != nil {
		return nil, err
	}

	rec, ok := r.db.recordsView(t)[key]
	if !ok {
		if !create {
			return nil, apperror.NewNotFound("stock record", key.String())
		}
		now := time.Now().UTC()
		rec = ledger.StockRecord{
			ProductID:  key.ProductID,
			LocationID: key.LocationID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		t.records[key] = rec
	}
	return &rec, nil
}

func (r *LedgerRepo) Upsert(ctx context.Context, rec *ledger.StockRecord) error {
	t, err := r.db.requireTx(ctx)
	if err != nil {
		return err
	}
	if !t.holds(stockLock(rec.Key())) {
		return apperror.NewInternal(errors.New("memory: upsert of an unlocked stock record"))
	}
	t.records[rec.Key()] = *rec
	return nil
}

func (r *LedgerRepo) AppendMovement(ctx context.Context, m *ledger.Movement) error {
	t, err := r.db.requireTx(ctx)
	if err != nil {
		return err
	}
	if r.db.FailAppend != nil {
		if err := r.db.FailAppend(*m); err != nil {
			return err
		}
	}
	m.Seq = r.db.seq.Add(1)
	t.movements = append(t.movements, *m)
	return nil
}

func (r *LedgerRepo) Get(ctx context.Context, key ledger.Key) (*ledger.StockRecord, error) {
	rec, ok := r.db.recordsView(r.db.txFrom(ctx))[key]
	if !ok {
		return nil, apperror.NewNotFound("stock record", key.String())
	}
	return &rec, nil
}

func (r *LedgerRepo) ListByProduct(ctx context.Context, productID id.ID) ([]ledger.StockRecord, error) {
	return r.List(ctx, ledger.StockFilter{ProductID: &productID})
}

func (r *LedgerRepo) List(ctx context.Context, f ledger.StockFilter) ([]ledger.StockRecord, error) {
	var out []ledger.StockRecord
	for _, rec := range r.db.recordsView(r.db.txFrom(ctx)) {
		if f.ProductID != nil && rec.ProductID != *f.ProductID {
			continue
		}
		if f.LocationID != nil && rec.LocationID != *f.LocationID {
			continue
		}
		if f.MaxOnHand != nil && rec.OnHand > *f.MaxOnHand {
			continue
		}
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b ledger.StockRecord) int {
		return a.Key().Compare(b.Key())
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *LedgerRepo) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]ledger.Movement, error) {
	var out []ledger.Movement
	for _, m := range r.db.movementsView(r.db.txFrom(ctx)) {
		if m.Seq <= f.AfterSeq {
			continue
		}
		if f.ProductID != nil && m.ProductID != *f.ProductID {
			continue
		}
		if f.LocationID != nil && (m.LocationID == nil || *m.LocationID != *f.LocationID) {
			continue
		}
		if f.Reference != nil && m.Reference != *f.Reference {
			continue
		}
		if len(f.Types) > 0 && !slices.Contains(f.Types, m.Type) {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *LedgerRepo) OrderReservations(ctx context.Context, orderID id.ID) ([]ledger.OrderReservation, error) {
	held := make(map[ledger.Key]int64)
	ref := ledger.Reference{Type: ledger.RefOrder, ID: orderID}
	for _, m := range r.db.movementsView(r.db.txFrom(ctx)) {
		if m.Reference != ref || m.LocationID == nil {
			continue
		}
		held[ledger.Key{ProductID: m.ProductID, LocationID: *m.LocationID}] += m.ReservedDelta
	}

	var out []ledger.OrderReservation
	for k, q := range held {
		if q > 0 {
			out = append(out, ledger.OrderReservation{ProductID: k.ProductID, LocationID: k.LocationID, Quantity: q})
		}
	}
	slices.SortFunc(out, func(a, b ledger.OrderReservation) int {
		return a.Key().Compare(b.Key())
	})
	return out, nil
}
