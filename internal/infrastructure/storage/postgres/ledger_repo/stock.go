// Package ledger_repo provides the PostgreSQL implementation of the stock
// ledger: counters in stock_records, the append-only stock_movements log and
// the locations directory.
package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/ledger"
	"wmsledger/internal/infrastructure/storage/postgres"
)

const (
	stockRecordsTable   = "stock_records"
	stockMovementsTable = "stock_movements"
)

var recordCols = postgres.ExtractDBColumns[ledger.StockRecord]()

// StockRepo implements ledger.Repository.
type StockRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ ledger.Repository = (*StockRepo)(nil)

// NewStockRepo creates a new stock ledger repository.
func NewStockRepo(txm *postgres.TxManager) *StockRepo {
	return &StockRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *StockRepo) requireTx(ctx context.Context, op string) (postgres.Querier, error) {
	tx := r.txm.GetTx(ctx)
	if tx == nil {
		return nil, apperror.NewInternal(fmt.Errorf("%s requires transaction context", op))
	}
	return tx.Tx, nil
}

// GetForUpdate locks the record row. A missing row is inserted first with
// ON CONFLICT DO NOTHING so concurrent creators converge on one row, then
// locked like any other.
func (r *StockRepo) GetForUpdate(ctx context.Context, key ledger.Key, create bool) (*ledger.StockRecord, error) {
	q, err := r.requireTx(ctx, "GetForUpdate")
	if err != nil {
		return nil, err
	}

	if create {
		now := time.Now().UTC()
		_, err := q.Exec(ctx, `
			INSERT INTO stock_records (product_variant_id, location_id, quantity_on_hand, quantity_reserved, version, created_at, updated_at)
			VALUES ($1, $2, 0, 0, 0, $3, $3)
			ON CONFLICT (product_variant_id, location_id) DO NOTHING
		`, key.ProductID, key.LocationID, now)
		if err != nil {
			return nil, postgres.Classify(fmt.Errorf("insert stock record: %w", err), stockRecordsTable)
		}
	}

	sql, args, err := r.builder.Select(recordCols...).
		From(stockRecordsTable).
		Where(squirrel.Eq{"product_variant_id": key.ProductID, "location_id": key.LocationID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rec ledger.StockRecord
	if err := pgxscan.Get(ctx, q, &rec, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock record", key.String())
		}
		return nil, postgres.Classify(fmt.Errorf("lock stock record: %w", err), stockRecordsTable)
	}
	return &rec, nil
}

// Upsert writes the counters of a locked record. The CHECK constraints on
// stock_records back the in-process validation.
func (r *StockRepo) Upsert(ctx context.Context, rec *ledger.StockRecord) error {
	q, err := r.requireTx(ctx, "Upsert")
	if err != nil {
		return err
	}

	sql, args, err := r.builder.Update(stockRecordsTable).
		Set("quantity_on_hand", rec.OnHand).
		Set("quantity_reserved", rec.Reserved).
		Set("version", rec.Version).
		Set("updated_at", rec.UpdatedAt).
		Where(squirrel.Eq{"product_variant_id": rec.ProductID, "location_id": rec.LocationID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return postgres.Classify(fmt.Errorf("update stock record: %w", err), stockRecordsTable)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("stock record", rec.Key().String())
	}
	return nil
}

func (r *StockRepo) Get(ctx context.Context, key ledger.Key) (*ledger.StockRecord, error) {
	sql, args, err := r.builder.Select(recordCols...).
		From(stockRecordsTable).
		Where(squirrel.Eq{"product_variant_id": key.ProductID, "location_id": key.LocationID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rec ledger.StockRecord
	if err := pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &rec, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("stock record", key.String())
		}
		return nil, postgres.Classify(fmt.Errorf("get stock record: %w", err), stockRecordsTable)
	}
	return &rec, nil
}

func (r *StockRepo) ListByProduct(ctx context.Context, productID id.ID) ([]ledger.StockRecord, error) {
	return r.List(ctx, ledger.StockFilter{ProductID: &productID})
}

func (r *StockRepo) List(ctx context.Context, f ledger.StockFilter) ([]ledger.StockRecord, error) {
	q := r.builder.Select(recordCols...).
		From(stockRecordsTable).
		OrderBy("product_variant_id", "location_id")

	if f.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_variant_id": *f.ProductID})
	}
	if f.LocationID != nil {
		q = q.Where(squirrel.Eq{"location_id": *f.LocationID})
	}
	if f.MaxOnHand != nil {
		q = q.Where(squirrel.LtOrEq{"quantity_on_hand": *f.MaxOnHand})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []ledger.StockRecord
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, postgres.Classify(fmt.Errorf("list stock records: %w", err), stockRecordsTable)
	}
	return out, nil
}
