// Package backorder_repo provides the PostgreSQL implementation of
// backorder.Repository.
package backorder_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/backorder"
	"wmsledger/internal/infrastructure/storage/postgres"
)

const backordersTable = "backorders"

var selectCols = postgres.ExtractDBColumns[backorder.Backorder]()

// terminal lists statuses excluded by the partial unique index on
// (order_id, product_variant_id).
var terminal = []string{string(backorder.StatusFulfilled), string(backorder.StatusCancelled)}

// BackorderRepo implements backorder.Repository.
type BackorderRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ backorder.Repository = (*BackorderRepo)(nil)

// NewBackorderRepo creates a new backorder repository.
func NewBackorderRepo(txm *postgres.TxManager) *BackorderRepo {
	return &BackorderRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *BackorderRepo) requireTx(ctx context.Context, op string) (postgres.Querier, error) {
	tx := r.txm.GetTx(ctx)
	if tx == nil {
		return nil, apperror.NewInternal(fmt.Errorf("%s requires transaction context", op))
	}
	return tx.Tx, nil
}

func (r *BackorderRepo) getOne(ctx context.Context, q postgres.Querier, sb squirrel.SelectBuilder) (*backorder.Backorder, error) {
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var b backorder.Backorder
	if err := pgxscan.Get(ctx, q, &b, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, postgres.Classify(fmt.Errorf("get backorder: %w", err), backordersTable)
	}
	return &b, nil
}

func (r *BackorderRepo) FindOpenForUpdate(ctx context.Context, orderID, productID id.ID) (*backorder.Backorder, error) {
	q, err := r.requireTx(ctx, "FindOpenForUpdate")
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, q, r.builder.Select(selectCols...).
		From(backordersTable).
		Where(squirrel.Eq{"order_id": orderID, "product_variant_id": productID}).
		Where(squirrel.NotEq{"status": terminal}).
		Suffix("FOR UPDATE"))
}

func (r *BackorderRepo) GetForUpdate(ctx context.Context, backorderID id.ID) (*backorder.Backorder, error) {
	q, err := r.requireTx(ctx, "GetForUpdate")
	if err != nil {
		return nil, err
	}
	b, err := r.getOne(ctx, q, r.builder.Select(selectCols...).
		From(backordersTable).
		Where(squirrel.Eq{"id": backorderID}).
		Suffix("FOR UPDATE"))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperror.NewNotFound("backorder", backorderID)
	}
	return b, nil
}

func (r *BackorderRepo) Get(ctx context.Context, backorderID id.ID) (*backorder.Backorder, error) {
	b, err := r.getOne(ctx, r.txm.GetQuerier(ctx), r.builder.Select(selectCols...).
		From(backordersTable).
		Where(squirrel.Eq{"id": backorderID}))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperror.NewNotFound("backorder", backorderID)
	}
	return b, nil
}

// Create relies on the partial unique index: a concurrent open backorder for
// the same order line makes the insert a no-op and Create returns false.
func (r *BackorderRepo) Create(ctx context.Context, b *backorder.Backorder) (bool, error) {
	q, err := r.requireTx(ctx, "Create")
	if err != nil {
		return false, err
	}
	sql, args, err := r.builder.Insert(backordersTable).
		SetMap(postgres.StructToMap(b)).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return false, postgres.Classify(fmt.Errorf("insert backorder: %w", err), backordersTable)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BackorderRepo) Update(ctx context.Context, b *backorder.Backorder) error {
	q, err := r.requireTx(ctx, "Update")
	if err != nil {
		return err
	}
	sql, args, err := r.builder.Update(backordersTable).
		Set("quantity_back_ordered", b.QuantityBackOrdered).
		Set("quantity_fulfilled", b.QuantityFulfilled).
		Set("status", b.Status).
		Set("reason", b.Reason).
		Set("updated_at", b.UpdatedAt).
		Set("fulfilled_at", b.FulfilledAt).
		Where(squirrel.Eq{"id": b.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return postgres.Classify(fmt.Errorf("update backorder: %w", err), backordersTable)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("backorder", b.ID)
	}
	return nil
}

func (r *BackorderRepo) ListFulfillable(ctx context.Context, productID id.ID) ([]backorder.Backorder, error) {
	return r.list(ctx, r.builder.Select(selectCols...).
		From(backordersTable).
		Where(squirrel.Eq{"product_variant_id": productID}).
		Where(squirrel.NotEq{"status": terminal}).
		Where("quantity_back_ordered > quantity_fulfilled").
		OrderBy("created_at", "id"))
}

func (r *BackorderRepo) List(ctx context.Context, f backorder.Filter) ([]backorder.Backorder, error) {
	q := r.builder.Select(selectCols...).
		From(backordersTable).
		OrderBy("created_at", "id")
	if f.OrderID != nil {
		q = q.Where(squirrel.Eq{"order_id": *f.OrderID})
	}
	if f.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_variant_id": *f.ProductID})
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return r.list(ctx, q)
}

func (r *BackorderRepo) list(ctx context.Context, sb squirrel.SelectBuilder) ([]backorder.Backorder, error) {
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []backorder.Backorder
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, postgres.Classify(fmt.Errorf("list backorders: %w", err), backordersTable)
	}
	return out, nil
}
