// Package counttask_repo provides the PostgreSQL implementation of
// counttask.Repository.
package counttask_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/counttask"
	"wmsledger/internal/infrastructure/storage/postgres"
)

const tasksTable = "stock_count_tasks"

var selectCols = postgres.ExtractDBColumns[counttask.Task]()

// CountTaskRepo implements counttask.Repository.
type CountTaskRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ counttask.Repository = (*CountTaskRepo)(nil)

// NewCountTaskRepo creates a new count task repository.
func NewCountTaskRepo(txm *postgres.TxManager) *CountTaskRepo {
	return &CountTaskRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *CountTaskRepo) requireTx(ctx context.Context, op string) (postgres.Querier, error) {
	tx := r.txm.GetTx(ctx)
	if tx == nil {
		return nil, apperror.NewInternal(fmt.Errorf("%s requires transaction context", op))
	}
	return tx.Tx, nil
}

func (r *CountTaskRepo) getOne(ctx context.Context, q postgres.Querier, sb squirrel.SelectBuilder) (*counttask.Task, error) {
	sql, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var t counttask.Task
	if err := pgxscan.Get(ctx, q, &t, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, postgres.Classify(fmt.Errorf("get count task: %w", err), tasksTable)
	}
	return &t, nil
}

// FindOpenForUpdate locks the open task of a product at a location, or the
// product-wide task when locationID is nil.
func (r *CountTaskRepo) FindOpenForUpdate(ctx context.Context, productID id.ID, locationID *id.ID) (*counttask.Task, error) {
	q, err := r.requireTx(ctx, "FindOpenForUpdate")
	if err != nil {
		return nil, err
	}
	sb := r.builder.Select(selectCols...).
		From(tasksTable).
		Where(squirrel.Eq{"product_variant_id": productID, "status": counttask.StatusOpen}).
		Suffix("FOR UPDATE")
	if locationID != nil {
		sb = sb.Where(squirrel.Eq{"location_id": *locationID})
	} else {
		sb = sb.Where(squirrel.Eq{"location_id": nil})
	}
	return r.getOne(ctx, q, sb)
}

func (r *CountTaskRepo) GetForUpdate(ctx context.Context, taskID id.ID) (*counttask.Task, error) {
	q, err := r.requireTx(ctx, "GetForUpdate")
	if err != nil {
		return nil, err
	}
	t, err := r.getOne(ctx, q, r.builder.Select(selectCols...).
		From(tasksTable).
		Where(squirrel.Eq{"id": taskID}).
		Suffix("FOR UPDATE"))
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperror.NewNotFound("count task", taskID)
	}
	return t, nil
}

// Create inserts t. The partial unique index over open tasks, with NULLS NOT
// DISTINCT on location_id, turns a concurrent duplicate into a no-op.
func (r *CountTaskRepo) Create(ctx context.Context, t *counttask.Task) (bool, error) {
	q, err := r.requireTx(ctx, "Create")
	if err != nil {
		return false, err
	}
	sql, args, err := r.builder.Insert(tasksTable).
		SetMap(postgres.StructToMap(t)).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return false, postgres.Classify(fmt.Errorf("insert count task: %w", err), tasksTable)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CountTaskRepo) Update(ctx context.Context, t *counttask.Task) error {
	q, err := r.requireTx(ctx, "Update")
	if err != nil {
		return err
	}
	sql, args, err := r.builder.Update(tasksTable).
		Set("location_id", t.LocationID).
		Set("status", t.Status).
		Set("counted_quantity", t.CountedQuantity).
		Set("completed_at", t.CompletedAt).
		Where(squirrel.Eq{"id": t.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return postgres.Classify(fmt.Errorf("update count task: %w", err), tasksTable)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("count task", t.ID)
	}
	return nil
}

func (r *CountTaskRepo) List(ctx context.Context, f counttask.Filter) ([]counttask.Task, error) {
	q := r.builder.Select(selectCols...).
		From(tasksTable).
		OrderBy("created_at", "id")
	if f.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_variant_id": *f.ProductID})
	}
	if f.LocationID != nil {
		q = q.Where(squirrel.Eq{"location_id": *f.LocationID})
	}
	if f.Status != nil {
		q = q.Where(squirrel.Eq{"status": *f.Status})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []counttask.Task
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, postgres.Classify(fmt.Errorf("list count tasks: %w", err), tasksTable)
	}
	return out, nil
}
