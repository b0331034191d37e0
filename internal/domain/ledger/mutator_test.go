package ledger_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/core/types"
	"wmsledger/internal/domain/ledger"
	"wmsledger/internal/infrastructure/storage/memory"
)

type fixture struct {
	db       *memory.DB
	repo     *memory.LedgerRepo
	recorder *ledger.Recorder
	mutator  *ledger.Mutator
}

func newFixture(t *testing.T, dir ledger.LocationDirectory) *fixture {
	t.Helper()
	db := memory.New(0)
	repo := db.Ledger()
	recorder := ledger.NewRecorder(repo, db)
	return &fixture{
		db:       db,
		repo:     repo,
		recorder: recorder,
		mutator:  ledger.NewMutator(db, repo, recorder, dir),
	}
}

func (f *fixture) receive(t *testing.T, key ledger.Key, qty int64) {
	t.Helper()
	_, err := f.mutator.Receive(context.Background(), ledger.ReceiveRequest{
		ProductID:  key.ProductID,
		LocationID: key.LocationID,
		Quantity:   qty,
	})
	require.NoError(t, err)
}

func (f *fixture) record(t *testing.T, key ledger.Key) ledger.StockRecord {
	t.Helper()
	rec, err := f.repo.Get(context.Background(), key)
	require.NoError(t, err)
	return *rec
}

func (f *fixture) assertBalanced(t *testing.T, key ledger.Key) {
	t.Helper()
	r, err := f.recorder.Reconcile(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, r.Balanced, "replay %d/%d, stored %d/%d",
		r.ReplayOnHand, r.ReplayReserved, r.OnHand, r.Reserved)
}

func newKey() ledger.Key {
	return ledger.Key{ProductID: id.New(), LocationID: id.New()}
}

func TestReceiveCreatesRecord(t *testing.T) {
	f := newFixture(t, nil)
	key := newKey()
	po := id.New()

	a, err := f.mutator.Receive(context.Background(), ledger.ReceiveRequest{
		ProductID:       key.ProductID,
		LocationID:      key.LocationID,
		Quantity:        12,
		PurchaseOrderID: &po,
		ActorID:         "receiver-1",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(12), a.Record.OnHand)
	assert.Equal(t, int64(0), a.Record.Reserved)
	assert.Equal(t, int64(1), a.Record.Version)
	assert.Equal(t, ledger.MovementReceipt, a.Movement.Type)
	assert.Equal(t, int64(12), a.Movement.QuantityChange)
	assert.Equal(t, ledger.Reference{Type: ledger.RefPurchaseOrder, ID: po}, a.Movement.Reference)
	assert.Equal(t, "receiver-1", a.Movement.ActorID)
	assert.NotZero(t, a.Movement.Seq)
	f.assertBalanced(t, key)
}

func TestReceiveRecordsExtendedCost(t *testing.T) {
	f := newFixture(t, nil)
	key := newKey()
	cost := types.MustMoney("2.35")

	a, err := f.mutator.Receive(context.Background(), ledger.ReceiveRequest{
		ProductID:  key.ProductID,
		LocationID: key.LocationID,
		Quantity:   4,
		UnitCost:   &cost,
	})
	require.NoError(t, err)

	d, ok := a.Movement.Detail.(ledger.ReceiptDetail)
	require.True(t, ok)
	require.NotNil(t, d.ExtendedCost)
	assert.True(t, types.MustMoney("9.40").Equal(*d.ExtendedCost), d.ExtendedCost.String())

	uncosted := ledger.NewReceiptDetail(nil, nil, 4)
	assert.Nil(t, uncosted.ExtendedCost)
}

func TestReceiveRejectsNonPositive(t *testing.T) {
	f := newFixture(t, nil)
	key := newKey()

	_, err := f.mutator.Receive(context.Background(), ledger.ReceiveRequest{
		ProductID: key.ProductID, LocationID: key.LocationID, Quantity: 0,
	})
	assert.True(t, apperror.IsValidation(err))
}

func TestReceiveUnknownLocation(t *testing.T) {
	f := newFixture(t, ledger.StaticDirectory{})
	key := newKey()

	_, err := f.mutator.Receive(context.Background(), ledger.ReceiveRequest{
		ProductID: key.ProductID, LocationID: key.LocationID, Quantity: 3,
	})
	assert.True(t, apperror.IsNotFound(err))
	_, err = f.repo.Get(context.Background(), key)
	assert.True(t, apperror.IsNotFound(err))
}

func TestReserveRespectsAvailable(t *testing.T) {
	f := newFixture(t, nil)
	key := newKey()
	order := id.New()
	f.receive(t, key, 5)

	a, err := f.mutator.Reserve(context.Background(), key, 3, order, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), a.Record.Reserved)
	assert.Equal(t, int64(2), a.Record.Available())
	assert.Equal(t, int64(-3), a.Movement.QuantityChange)
	assert.Equal(t, "system", a.Movement.ActorID)

	_, err = f.mutator.Reserve(context.Background(), key, 3, order, "")
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))

	rec := f.record(t, key)
	assert.Equal(t, int64(3), rec.Reserved)
	f.assertBalanced(t, key)
}

func TestReserveMissingRecord(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.mutator.Reserve(context.Background(), newKey(), 1, id.New(), "")
	assert.True(t, apperror.IsNotFound(err))
}

func TestReserveUpToTakesWhatIsThere(t *testing.T) {
	f := newFixture(t, nil)
	key := newKey()
	f.receive(t, key, 4)

	a, err := f.mutator.ReserveUpTo(context.Background(), key, 10, id.New(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), a.Quantity())

	a, err = f.mutator.ReserveUpTo(context.Background(), key, 10, id.New(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.Quantity())
	f.assertBalanced(t, key)
}

func TestFulfillConsumesReservation(t *testing.T) {
	f := newFixture(t, nil)
	key := newKey()
	order := id.New()
	f.receive(t, key, 10)
	_, err := f.mutator.Reserve(context.Background(), key, 4, order, "")
	require.NoError(t, err)

	a, err := f.mutator.Fulfill(context.Background(), key, 4, order, "", "SHP-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), a.Record.OnHand)
	assert.Equal(t, int64(0), a.Record.Reserved)
	assert.Equal(t, ledger.SaleDetail{ShipmentRef: "SHP-1"}, a.Movement.Detail)

	_, err = f.mutator.Fulfill(context.Background(), key, 1, order, "", "")
	assert.True(t, apperror.IsInsufficientStock(err))
	f.assertBalanced(t, key)
}

func TestReleaseRestoresAvailability(t *testing.T) {
	f := newFixture(t, nil)
	key := newKey()
	order := id.New()
	f.receive(t, key, 10)
	_, err := f.mutator.Reserve(context.Background(), key, 6, order, "")
	require.NoError(t, err)

	a, err := f.mutator.Release(context.Background(), key, 6, order, "", false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), a.Record.Available())
	assert.Equal(t, int64(6), a.Movement.QuantityChange)

	_, err = f.mutator.Release(context.Background(), key, 1, order, "", false)
	assert.True(t, apperror.IsInvariantViolation(err))
	f.assertBalanced(t, key)
}

func TestAdjustBounds(t *testing.T) {
	f := newFixture(t, nil)
	key := newKey()
	f.receive(t, key, 10)
	_, err := f.mutator.Reserve(context.Background(), key, 8, id.New(), "")
	require.NoError(t, err)

	_, err = f.mutator.Adjust(context.Background(), ledger.AdjustRequest{Key: key, Quantity: -3, ReasonCode: "DAMAGED"})
	require.Error(t, err)
	assert.True(t, apperror.IsInvariantViolation(err))

	a, err := f.mutator.Adjust(context.Background(), ledger.AdjustRequest{Key: key, Quantity: -2, ReasonCode: "DAMAGED"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), a.Record.OnHand)
	assert.Equal(t, ledger.AdjustmentDetail{ReasonCode: "DAMAGED"}, a.Movement.Detail)

	_, err = f.mutator.Adjust(context.Background(), ledger.AdjustRequest{Key: key})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.mutator.Adjust(context.Background(), ledger.AdjustRequest{Key: newKey(), Quantity: -1})
	assert.True(t, apperror.IsNotFound(err))
	f.assertBalanced(t, key)
}

func TestCountSetsOnHand(t *testing.T) {
	f := newFixture(t, nil)
	key := newKey()
	f.receive(t, key, 10)
	task := id.New()

	a, err := f.mutator.Count(context.Background(), ledger.CountRequest{Key: key, Counted: 7, CountTaskID: &task})
	require.NoError(t, err)
	assert.Equal(t, int64(7), a.Record.OnHand)
	assert.Equal(t, int64(-3), a.Movement.QuantityChange)
	assert.Equal(t, ledger.Reference{Type: ledger.RefCountTask, ID: task}, a.Movement.Reference)
	d, ok := a.Movement.Detail.(ledger.CountDetail)
	require.True(t, ok)
	assert.Equal(t, int64(10), d.PreviousOnHand)
	assert.Equal(t, int64(7), d.CountedQuantity)

	fresh := newKey()
	a, err = f.mutator.Count(context.Background(), ledger.CountRequest{Key: fresh, Counted: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.Record.OnHand)

	f.assertBalanced(t, key)
	f.assertBalanced(t, fresh)
}

func TestTransferMovesStock(t *testing.T) {
	f := newFixture(t, nil)
	product := id.New()
	src := ledger.Key{ProductID: product, LocationID: id.New()}
	dst := ledger.Key{ProductID: product, LocationID: id.New()}
	f.receive(t, src, 10)

	res, err := f.mutator.Transfer(context.Background(), ledger.TransferRequest{
		ProductID: product, From: src.LocationID, To: dst.LocationID, Quantity: 4,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(6), f.record(t, src).OnHand)
	assert.Equal(t, int64(4), f.record(t, dst).OnHand)
	assert.Equal(t, int64(-4), res.OutMovement.QuantityChange)
	assert.Equal(t, int64(4), res.InMovement.QuantityChange)

	out := res.OutMovement.Detail.(ledger.TransferDetail)
	in := res.InMovement.Detail.(ledger.TransferDetail)
	assert.Equal(t, res.InMovement.ID, out.CounterpartMovementID)
	assert.Equal(t, res.OutMovement.ID, in.CounterpartMovementID)
	assert.Equal(t, res.TransferID, out.TransferID)
	assert.Equal(t, ledger.TransferOut, out.Direction)
	assert.Equal(t, ledger.TransferIn, in.Direction)

	f.assertBalanced(t, src)
	f.assertBalanced(t, dst)
}

func TestTransferCannotMoveReservedStock(t *testing.T) {
	f := newFixture(t, nil)
	product := id.New()
	src := ledger.Key{ProductID: product, LocationID: id.New()}
	f.receive(t, src, 5)
	_, err := f.mutator.Reserve(context.Background(), src, 3, id.New(), "")
	require.NoError(t, err)

	_, err = f.mutator.Transfer(context.Background(), ledger.TransferRequest{
		ProductID: product, From: src.LocationID, To: id.New(), Quantity: 3,
	})
	assert.True(t, apperror.IsInsufficientStock(err))
	assert.Equal(t, int64(5), f.record(t, src).OnHand)
}

func TestTransferToUnknownLocationChangesNothing(t *testing.T) {
	product := id.New()
	from := id.New()
	f := newFixture(t, ledger.StaticDirectory{from: true})
	src := ledger.Key{ProductID: product, LocationID: from}
	f.receive(t, src, 10)

	_, err := f.mutator.Transfer(context.Background(), ledger.TransferRequest{
		ProductID: product, From: from, To: id.New(), Quantity: 4,
	})
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))

	assert.Equal(t, int64(10), f.record(t, src).OnHand)
	movements, err := f.repo.ListMovements(context.Background(), ledger.MovementFilter{Types: []ledger.MovementType{ledger.MovementTransfer}})
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestTransferInLegFailureRollsBackOutLeg(t *testing.T) {
	f := newFixture(t, nil)
	product := id.New()
	src := ledger.Key{ProductID: product, LocationID: id.New()}
	dst := ledger.Key{ProductID: product, LocationID: id.New()}
	f.receive(t, src, 10)

	injected := errors.New("append failed")
	f.db.FailAppend = func(m ledger.Movement) error {
		if d, ok := m.Detail.(ledger.TransferDetail); ok && d.Direction == ledger.TransferIn {
			return injected
		}
		return nil
	}

	_, err := f.mutator.Transfer(context.Background(), ledger.TransferRequest{
		ProductID: product, From: src.LocationID, To: dst.LocationID, Quantity: 4,
	})
	require.ErrorIs(t, err, injected)
	f.db.FailAppend = nil

	assert.Equal(t, int64(10), f.record(t, src).OnHand)
	_, err = f.repo.Get(context.Background(), dst)
	assert.True(t, apperror.IsNotFound(err))
	f.assertBalanced(t, src)
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t, nil)
	loc := id.New()
	_, err := f.mutator.Transfer(context.Background(), ledger.TransferRequest{
		ProductID: id.New(), From: loc, To: loc, Quantity: 1,
	})
	assert.True(t, apperror.IsValidation(err))
}

// Any sequence of operations, successful or not, leaves every record within
// its bounds and equal to the replay of its movements.
func TestRandomOperationsKeepLedgerBalanced(t *testing.T) {
	f := newFixture(t, nil)
	product := id.New()
	keys := []ledger.Key{
		{ProductID: product, LocationID: id.New()},
		{ProductID: product, LocationID: id.New()},
	}
	orders := []id.ID{id.New(), id.New(), id.New()}
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for i := 0; i < 400; i++ {
		key := keys[rng.Intn(len(keys))]
		order := orders[rng.Intn(len(orders))]
		qty := int64(rng.Intn(6) + 1)

		var err error
		switch rng.Intn(7) {
		case 0:
			_, err = f.mutator.Receive(ctx, ledger.ReceiveRequest{ProductID: key.ProductID, LocationID: key.LocationID, Quantity: qty})
		case 1:
			_, err = f.mutator.Reserve(ctx, key, qty, order, "")
		case 2:
			_, err = f.mutator.Fulfill(ctx, key, qty, order, "", "")
		case 3:
			_, err = f.mutator.Release(ctx, key, qty, order, "", false)
		case 4:
			if rng.Intn(2) == 0 {
				qty = -qty
			}
			_, err = f.mutator.Adjust(ctx, ledger.AdjustRequest{Key: key, Quantity: qty})
		case 5:
			other := keys[0]
			if other == key {
				other = keys[1]
			}
			_, err = f.mutator.Transfer(ctx, ledger.TransferRequest{ProductID: product, From: key.LocationID, To: other.LocationID, Quantity: qty})
		case 6:
			_, err = f.mutator.Count(ctx, ledger.CountRequest{Key: key, Counted: int64(rng.Intn(20))})
		}
		if err != nil {
			ok := apperror.IsInsufficientStock(err) || apperror.IsInvariantViolation(err) || apperror.IsNotFound(err)
			require.True(t, ok, "unexpected error at step %d: %v", i, err)
		}

		for _, k := range keys {
			rec, err := f.repo.Get(ctx, k)
			if apperror.IsNotFound(err) {
				continue
			}
			require.NoError(t, err)
			require.NoError(t, rec.Validate())
		}
	}

	for _, k := range keys {
		if _, err := f.repo.Get(ctx, k); err == nil {
			f.assertBalanced(t, k)
		}
	}
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	f := newFixture(t, nil)
	key := newKey()
	f.receive(t, key, 10)

	const workers = 40
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mutator.Reserve(context.Background(), key, 1, id.New(), "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperror.IsInsufficientStock(err):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, workers-10, short)
	rec := f.record(t, key)
	assert.Equal(t, int64(10), rec.Reserved)
	assert.Equal(t, int64(0), rec.Available())
	f.assertBalanced(t, key)
}
