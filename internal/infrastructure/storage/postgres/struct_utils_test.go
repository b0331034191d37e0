package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/backorder"
	"wmsledger/internal/domain/ledger"
)

func TestExtractDBColumnsBackorder(t *testing.T) {
	cols := ExtractDBColumns[backorder.Backorder]()

	assert.Equal(t, []string{
		"id", "order_id", "product_variant_id", "quantity_back_ordered", "quantity_fulfilled",
		"status", "reason", "created_at", "updated_at", "fulfilled_at",
	}, cols)
}

type auditedRecord struct {
	ledger.StockRecord
	Note   string `db:"note"`
	Ignore string `db:"-"`
}

func TestStructToMapDescendsIntoEmbedded(t *testing.T) {
	now := time.Now().UTC()
	rec := auditedRecord{
		StockRecord: ledger.StockRecord{
			ProductID:  id.New(),
			LocationID: id.New(),
			OnHand:     7,
			Reserved:   2,
			Version:    3,
			UpdatedAt:  now,
		},
		Note:   "cycle count",
		Ignore: "x",
	}

	m := StructToMap(&rec)

	assert.Equal(t, rec.ProductID, m["product_variant_id"])
	assert.Equal(t, int64(7), m["quantity_on_hand"])
	assert.Equal(t, int64(2), m["quantity_reserved"])
	assert.Equal(t, now, m["updated_at"])
	assert.Equal(t, "cycle count", m["note"])
	assert.NotContains(t, m, "-")
	assert.Len(t, m, 8)
}
