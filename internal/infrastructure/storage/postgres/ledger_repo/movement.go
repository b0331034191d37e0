package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/ledger"
	"wmsledger/internal/infrastructure/storage/postgres"
)

// movementRow is the stock_movements row shape. The detail column holds the
// type-specific JSON.
type movementRow struct {
	ID             id.ID               `db:"id"`
	Seq            int64               `db:"seq"`
	ProductID      id.ID               `db:"product_variant_id"`
	LocationID     *id.ID              `db:"location_id"`
	Type           ledger.MovementType `db:"movement_type"`
	QuantityChange int64               `db:"quantity_change"`
	OnHandDelta    int64               `db:"on_hand_delta"`
	ReservedDelta  int64               `db:"reserved_delta"`
	ReferenceType  string              `db:"reference_type"`
	ReferenceID    id.ID               `db:"reference_id"`
	ActorID        string              `db:"actor_id"`
	Notes          string              `db:"notes"`
	Detail         []byte              `db:"detail"`
	CreatedAt      time.Time           `db:"created_at"`
}

var movementCols = postgres.ExtractDBColumns[movementRow]()

func toMovement(row movementRow) (ledger.Movement, error) {
	detail, err := ledger.DecodeDetail(row.Type, row.Detail)
	if err != nil {
		return ledger.Movement{}, fmt.Errorf("decode detail of movement %s: %w", row.ID, err)
	}
	return ledger.Movement{
		ID:             row.ID,
		Seq:            row.Seq,
		ProductID:      row.ProductID,
		LocationID:     row.LocationID,
		Type:           row.Type,
		QuantityChange: row.QuantityChange,
		OnHandDelta:    row.OnHandDelta,
		ReservedDelta:  row.ReservedDelta,
		Reference:      ledger.Reference{Type: ledger.ReferenceType(row.ReferenceType), ID: row.ReferenceID},
		ActorID:        row.ActorID,
		Notes:          row.Notes,
		Detail:         detail,
		CreatedAt:      row.CreatedAt,
	}, nil
}

// AppendMovement inserts m and sets its Seq from the sequence.
func (r *StockRepo) AppendMovement(ctx context.Context, m *ledger.Movement) error {
	q, err := r.requireTx(ctx, "AppendMovement")
	if err != nil {
		return err
	}

	detail, err := ledger.EncodeDetail(m.Detail)
	if err != nil {
		return fmt.Errorf("encode detail: %w", err)
	}

	sql, args, err := r.builder.Insert(stockMovementsTable).
		Columns(
			"id", "product_variant_id", "location_id", "movement_type",
			"quantity_change", "on_hand_delta", "reserved_delta",
			"reference_type", "reference_id", "actor_id", "notes", "detail", "created_at",
		).
		Values(
			m.ID, m.ProductID, m.LocationID, m.Type,
			m.QuantityChange, m.OnHandDelta, m.ReservedDelta,
			m.Reference.Type, m.Reference.ID, m.ActorID, m.Notes, detail, m.CreatedAt,
		).
		Suffix("RETURNING seq").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if err := q.QueryRow(ctx, sql, args...).Scan(&m.Seq); err != nil {
		return postgres.Classify(fmt.Errorf("insert movement: %w", err), stockMovementsTable)
	}
	return nil
}

func (r *StockRepo) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]ledger.Movement, error) {
	q := r.builder.Select(movementCols...).
		From(stockMovementsTable).
		Where(squirrel.Gt{"seq": f.AfterSeq}).
		OrderBy("seq")

	if f.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_variant_id": *f.ProductID})
	}
	if f.LocationID != nil {
		q = q.Where(squirrel.Eq{"location_id": *f.LocationID})
	}
	if f.Reference != nil {
		q = q.Where(squirrel.Eq{"reference_type": f.Reference.Type, "reference_id": f.Reference.ID})
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		q = q.Where(squirrel.Eq{"movement_type": types})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []movementRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, postgres.Classify(fmt.Errorf("list movements: %w", err), stockMovementsTable)
	}

	out := make([]ledger.Movement, 0, len(rows))
	for _, row := range rows {
		m, err := toMovement(row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// OrderReservations sums the reserved deltas an order's movements left at
// each location.
func (r *StockRepo) OrderReservations(ctx context.Context, orderID id.ID) ([]ledger.OrderReservation, error) {
	sql, args, err := r.builder.
		Select("product_variant_id", "location_id", "SUM(reserved_delta)::bigint AS quantity").
		From(stockMovementsTable).
		Where(squirrel.Eq{"reference_type": ledger.RefOrder, "reference_id": orderID}).
		Where("location_id IS NOT NULL").
		GroupBy("product_variant_id", "location_id").
		Having("SUM(reserved_delta) > 0").
		OrderBy("product_variant_id", "location_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var out []ledger.OrderReservation
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, postgres.Classify(fmt.Errorf("sum order reservations: %w", err), stockMovementsTable)
	}
	return out, nil
}
