package ledger_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/ledger"
)

func TestRecorderRejectsMalformedMovements(t *testing.T) {
	f := newFixture(t, nil)
	product := id.New()

	cases := map[string]ledger.Movement{
		"detail of another type": {
			ProductID: product, Type: ledger.MovementReceipt,
			QuantityChange: 3, OnHandDelta: 3, Detail: ledger.SaleDetail{},
		},
		"sale without reserved change": {
			ProductID: product, Type: ledger.MovementSale,
			QuantityChange: -2, OnHandDelta: -2,
		},
		"allocation touching on hand": {
			ProductID: product, Type: ledger.MovementAllocation,
			QuantityChange: -2, OnHandDelta: -2, ReservedDelta: 2,
		},
		"transfer without counterpart": {
			ProductID: product, Type: ledger.MovementTransfer,
			QuantityChange: -1, OnHandDelta: -1,
			Detail: ledger.TransferDetail{TransferID: id.New(), Direction: ledger.TransferOut},
		},
		"transfer direction mismatch": {
			ProductID: product, Type: ledger.MovementTransfer,
			QuantityChange: 1, OnHandDelta: 1,
			Detail: ledger.TransferDetail{TransferID: id.New(), CounterpartMovementID: id.New(), Direction: ledger.TransferOut},
		},
	}

	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			err := f.db.RunInTransaction(context.Background(), func(ctx context.Context) error {
				_, err := f.recorder.Record(ctx, m)
				return err
			})
			require.Error(t, err)
			assert.True(t, apperror.IsInvariantViolation(err), err.Error())
		})
	}

	err := f.db.RunInTransaction(context.Background(), func(ctx context.Context) error {
		_, err := f.recorder.Record(ctx, ledger.Movement{ProductID: product, Type: "SHRINK"})
		return err
	})
	assert.True(t, apperror.IsValidation(err))
}

func TestReplayMovements(t *testing.T) {
	movements := []ledger.Movement{
		{Type: ledger.MovementReceipt, QuantityChange: 10, OnHandDelta: 10},
		{Type: ledger.MovementAllocation, QuantityChange: -4, ReservedDelta: 4},
		{Type: ledger.MovementSale, QuantityChange: -3, OnHandDelta: -3, ReservedDelta: -3},
		{Type: ledger.MovementDeallocation, QuantityChange: 1, ReservedDelta: -1},
		{Type: ledger.MovementTransfer, QuantityChange: -2, OnHandDelta: -2},
		{Type: ledger.MovementAdjustment, QuantityChange: 1, OnHandDelta: 1},
		{Type: ledger.MovementCount, QuantityChange: -1, OnHandDelta: -1},
	}
	onHand, reserved := ledger.ReplayMovements(movements)
	assert.Equal(t, int64(5), onHand)
	assert.Equal(t, int64(0), reserved)
}

func TestMovementJSONKeepsDetailType(t *testing.T) {
	task := id.New()
	in := ledger.Movement{
		ID:             id.New(),
		ProductID:      id.New(),
		Type:           ledger.MovementCount,
		QuantityChange: -2,
		OnHandDelta:    -2,
		Detail:         ledger.CountDetail{CountTaskID: &task, CountedQuantity: 3, PreviousOnHand: 5},
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out ledger.Movement
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in.Detail, out.Detail)

	_, err = ledger.DecodeDetail("SHRINK", []byte("{}"))
	assert.Error(t, err)
}
