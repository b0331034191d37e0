//go:build integration

package ledger_repo_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/backorder"
	"wmsledger/internal/domain/counttask"
	"wmsledger/internal/domain/ledger"
	"wmsledger/internal/infrastructure/migration"
	"wmsledger/internal/infrastructure/storage/postgres"
	"wmsledger/internal/infrastructure/storage/postgres/backorder_repo"
	"wmsledger/internal/infrastructure/storage/postgres/counttask_repo"
	"wmsledger/internal/infrastructure/storage/postgres/ledger_repo"
	"wmsledger/pkg/logger"
)

var testPool *postgres.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("wms_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		fmt.Printf("start postgres container: %v\n", err)
		os.Exit(1)
	}

	code := func() int {
		defer func() { _ = container.Terminate(ctx) }()

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("connection string: %v\n", err)
			return 1
		}

		mig, err := migration.New(dsn, logger.Nop())
		if err != nil {
			fmt.Printf("open migrator: %v\n", err)
			return 1
		}
		if err := mig.Up(); err != nil {
			fmt.Printf("migrate up: %v\n", err)
			return 1
		}
		_ = mig.Close()

		testPool, err = postgres.NewPool(ctx, postgres.DefaultPoolConfig(dsn))
		if err != nil {
			fmt.Printf("open pool: %v\n", err)
			return 1
		}
		defer testPool.Close()

		return m.Run()
	}()
	os.Exit(code)
}

type pgFixture struct {
	txm       *postgres.TxManager
	stock     *ledger_repo.StockRepo
	locations *ledger_repo.LocationRepo
	mutator   *ledger.Mutator
	recorder  *ledger.Recorder
}

func newPG(t *testing.T) *pgFixture {
	t.Helper()
	opts := postgres.DefaultTxOptions()
	opts.LockTimeout = 500 * time.Millisecond
	txm := postgres.NewTxManager(testPool, opts)
	stock := ledger_repo.NewStockRepo(txm)
	locations := ledger_repo.NewLocationRepo(txm)
	recorder := ledger.NewRecorder(stock, txm)
	return &pgFixture{
		txm:       txm,
		stock:     stock,
		locations: locations,
		mutator:   ledger.NewMutator(txm, stock, recorder, locations),
		recorder:  recorder,
	}
}

func (f *pgFixture) location(t *testing.T, active bool) id.ID {
	t.Helper()
	loc := ledger.Location{ID: id.New(), Code: "LOC-" + id.New().String()[:8], Name: "test", Active: active}
	err := f.txm.RunInTransaction(context.Background(), func(ctx context.Context) error {
		_, err := f.locations.Import(ctx, []ledger.Location{loc})
		return err
	})
	require.NoError(t, err)
	return loc.ID
}

func (f *pgFixture) receive(t *testing.T, key ledger.Key, qty int64) {
	t.Helper()
	_, err := f.mutator.Receive(context.Background(), ledger.ReceiveRequest{
		ProductID: key.ProductID, LocationID: key.LocationID, Quantity: qty, ActorID: "test",
	})
	require.NoError(t, err)
}

func TestReceiveAndReserveRoundTrip(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	key := ledger.Key{ProductID: id.New(), LocationID: f.location(t, true)}
	order := id.New()

	f.receive(t, key, 10)
	applied, err := f.mutator.Reserve(ctx, key, 4, order, "test")
	require.NoError(t, err)
	assert.Equal(t, int64(4), applied.Record.Reserved)
	assert.Positive(t, applied.Movement.Seq)

	rec, err := f.stock.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.OnHand)
	assert.Equal(t, int64(4), rec.Reserved)
	assert.Equal(t, int64(6), rec.Available())

	movements, err := f.stock.ListMovements(ctx, ledger.MovementFilter{ProductID: &key.ProductID})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, ledger.MovementReceipt, movements[0].Type)
	assert.Equal(t, ledger.MovementAllocation, movements[1].Type)
	assert.Less(t, movements[0].Seq, movements[1].Seq)

	held, err := f.stock.OrderReservations(ctx, order)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, int64(4), held[0].Quantity)

	rc, err := f.recorder.Reconcile(ctx, key)
	require.NoError(t, err)
	assert.True(t, rc.Balanced)
}

func TestReserveBeyondAvailableLeavesNoTrace(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	key := ledger.Key{ProductID: id.New(), LocationID: f.location(t, true)}
	f.receive(t, key, 3)

	_, err := f.mutator.Reserve(ctx, key, 5, id.New(), "test")
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))

	rec, err := f.stock.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Reserved)

	movements, err := f.stock.ListMovements(ctx, ledger.MovementFilter{ProductID: &key.ProductID})
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	key := ledger.Key{ProductID: id.New(), LocationID: f.location(t, true)}
	f.receive(t, key, 5)

	var wg sync.WaitGroup
	var ok, short atomic.Int64
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := f.mutator.Reserve(ctx, key, 1, id.New(), "test")
				switch {
				case err == nil:
					ok.Add(1)
				case apperror.IsInsufficientStock(err):
					short.Add(1)
				case apperror.IsContention(err):
					continue
				default:
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), ok.Load())
	assert.Equal(t, int64(7), short.Load())

	rec, err := f.stock.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Reserved)
	assert.Equal(t, int64(5), rec.OnHand)
}

func TestMovementsAreAppendOnly(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	key := ledger.Key{ProductID: id.New(), LocationID: f.location(t, true)}
	f.receive(t, key, 1)

	_, err := testPool.Exec(ctx, `UPDATE stock_movements SET quantity_change = 99 WHERE product_variant_id = $1`, key.ProductID)
	require.Error(t, err)

	_, err = testPool.Exec(ctx, `DELETE FROM stock_movements WHERE product_variant_id = $1`, key.ProductID)
	require.Error(t, err)
}

func TestCheckConstraintIsInvariantViolation(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	key := ledger.Key{ProductID: id.New(), LocationID: f.location(t, true)}
	f.receive(t, key, 2)

	err := f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		rec, err := f.stock.GetForUpdate(ctx, key, false)
		if err != nil {
			return err
		}
		rec.Reserved = 3
		return f.stock.Upsert(ctx, rec)
	})
	require.Error(t, err)
	assert.True(t, apperror.IsInvariantViolation(err), "got %v", err)
}

func TestInactiveLocationIsRejected(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	inactive := f.location(t, false)

	_, err := f.mutator.Receive(ctx, ledger.ReceiveRequest{
		ProductID: id.New(), LocationID: inactive, Quantity: 1, ActorID: "test",
	})
	require.Error(t, err)
	assert.True(t, apperror.IsNotFound(err))

	err = f.locations.CheckLocation(ctx, id.New())
	assert.True(t, apperror.IsNotFound(err))

	require.NoError(t, f.locations.SetActive(ctx, inactive, true))
	_, err = f.mutator.Receive(ctx, ledger.ReceiveRequest{
		ProductID: id.New(), LocationID: inactive, Quantity: 1, ActorID: "test",
	})
	require.NoError(t, err)

	err = f.locations.SetActive(ctx, id.New(), false)
	assert.True(t, apperror.IsNotFound(err))
}

func TestOneOpenBackorderPerLine(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	repo := backorder_repo.NewBackorderRepo(f.txm)
	order, product := id.New(), id.New()

	newBO := func() *backorder.Backorder {
		now := time.Now().UTC()
		return &backorder.Backorder{
			ID: id.New(), OrderID: order, ProductID: product,
			QuantityBackOrdered: 2, Status: backorder.StatusPending,
			Reason: "test", CreatedAt: now, UpdatedAt: now,
		}
	}

	var first, second bool
	err := f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if first, err = repo.Create(ctx, newBO()); err != nil {
			return err
		}
		second, err = repo.Create(ctx, newBO())
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	list, err := repo.ListFulfillable(ctx, product)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOneOpenProductWideCountTask(t *testing.T) {
	f := newPG(t)
	ctx := context.Background()
	repo := counttask_repo.NewCountTaskRepo(f.txm)
	product := id.New()

	newTask := func() *counttask.Task {
		return &counttask.Task{
			ID: id.New(), ProductID: product, QuantityShort: 1,
			Reason: "test", Status: counttask.StatusOpen, CreatedAt: time.Now().UTC(),
		}
	}

	var first, second bool
	err := f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if first, err = repo.Create(ctx, newTask()); err != nil {
			return err
		}
		second, err = repo.Create(ctx, newTask())
		return err
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	err = f.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		open, err := repo.FindOpenForUpdate(ctx, product, nil)
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.Nil(t, open.LocationID)
		return nil
	})
	require.NoError(t, err)
}
