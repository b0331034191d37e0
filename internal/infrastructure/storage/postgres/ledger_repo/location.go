package ledger_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/ledger"
	"wmsledger/internal/infrastructure/storage/postgres"
)

const locationsTable = "locations"

var locationCols = postgres.ExtractDBColumns[ledger.Location]()

// LocationRepo reads the locations table and implements
// ledger.LocationDirectory.
type LocationRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

var _ ledger.LocationDirectory = (*LocationRepo)(nil)

// NewLocationRepo creates a new location repository.
func NewLocationRepo(txm *postgres.TxManager) *LocationRepo {
	return &LocationRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CheckLocation fails with NotFound unless the location exists and is active.
func (r *LocationRepo) CheckLocation(ctx context.Context, locationID id.ID) error {
	sql, args, err := r.builder.Select("active").
		From(locationsTable).
		Where(squirrel.Eq{"id": locationID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	var active bool
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&active); err != nil {
		if pgxscan.NotFound(err) {
			return apperror.NewNotFound("location", locationID)
		}
		return postgres.Classify(fmt.Errorf("check location: %w", err), locationsTable)
	}
	if !active {
		return apperror.NewNotFound("location", locationID).WithDetail("reason", "inactive")
	}
	return nil
}

// List returns locations ordered by code.
func (r *LocationRepo) List(ctx context.Context, activeOnly bool) ([]ledger.Location, error) {
	q := r.builder.Select(locationCols...).From(locationsTable).OrderBy("code")
	if activeOnly {
		q = q.Where(squirrel.Eq{"active": true})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []ledger.Location
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, postgres.Classify(fmt.Errorf("list locations: %w", err), locationsTable)
	}
	return out, nil
}

// Import bulk-loads locations with COPY. It needs a transaction in ctx and
// fails with Conflict when a code or id already exists.
func (r *LocationRepo) Import(ctx context.Context, locations []ledger.Location) (int64, error) {
	rows := make([][]any, 0, len(locations))
	for _, l := range locations {
		if l.Code == "" {
			return 0, apperror.NewValidation("location code is required")
		}
		if id.IsNil(l.ID) {
			l.ID = id.New()
		}
		rows = append(rows, []any{l.ID, l.Code, l.Name, l.Active})
	}
	return postgres.NewBatchInserter(r.txm).CopyFromSlice(ctx, locationsTable, locationCols, rows)
}

// SetActive activates or retires a location. Stock records that reference
// it stay; the mutator stops accepting new movements there.
func (r *LocationRepo) SetActive(ctx context.Context, locationID id.ID, active bool) error {
	sql, args, err := r.builder.Update(locationsTable).
		Set("active", active).
		Where(squirrel.Eq{"id": locationID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return postgres.Classify(fmt.Errorf("update location: %w", err), locationsTable)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("location", locationID)
	}
	return nil
}
