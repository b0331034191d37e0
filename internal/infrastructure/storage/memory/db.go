// Package memory is an in-process implementation of the ledger, backorder,
// count task and outbox ports plus tx.Manager. It backs the domain tests and
// local runs without Postgres.
//
// Transactions buffer their writes and apply them on commit. Row locks are
// keyed channels held until the transaction ends; a lock that cannot be
// taken within the lock timeout fails with a Contention error, the way a
// Postgres lock_timeout does.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/event"
	"wmsledger/internal/core/id"
	"wmsledger/internal/core/tx"
	"wmsledger/internal/domain/backorder"
	"wmsledger/internal/domain/counttask"
	"wmsledger/internal/domain/ledger"
)

// DefaultLockTimeout bounds every row lock wait.
const DefaultLockTimeout = 2 * time.Second

var _ tx.Manager = (*DB)(nil)

// DB holds committed state.
type DB struct {
	mu         sync.RWMutex
	records    map[ledger.Key]ledger.StockRecord
	movements  []ledger.Movement
	backorders map[id.ID]backorder.Backorder
	tasks      map[id.ID]counttask.Task
	events     []event.Event
	seq        atomic.Int64

	lockMu      sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration

	// FailAppend, when set, is called before each movement append and
	// aborts the append with its error.
	FailAppend func(m ledger.Movement) error
}

// New creates an empty database. A zero lockTimeout uses DefaultLockTimeout.
func New(lockTimeout time.Duration) *DB {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &DB{
		records:     make(map[ledger.Key]ledger.StockRecord),
		backorders:  make(map[id.ID]backorder.Backorder),
		tasks:       make(map[id.ID]counttask.Task),
		locks:       make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

type txKey struct{}

type memTx struct {
	db         *DB
	held       map[string]struct{}
	records    map[ledger.Key]ledger.StockRecord
	movements  []ledger.Movement
	backorders map[id.ID]backorder.Backorder
	tasks      map[id.ID]counttask.Task
	events     []event.Event
}

// RunInTransaction runs fn in a transaction. Nested calls join the
// transaction already in ctx.
func (db *DB) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.txFrom(ctx) != nil {
		return fn(ctx)
	}

	t := &memTx{
		db:         db,
		held:       make(map[string]struct{}),
		records:    make(map[ledger.Key]ledger.StockRecord),
		backorders: make(map[id.ID]backorder.Backorder),
		tasks:      make(map[id.ID]counttask.Task),
	}
	defer db.releaseAll(t)

	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	db.commit(t)
	return nil
}

func (db *DB) txFrom(ctx context.Context) *memTx {
	if t, ok := ctx.Value(txKey{}).(*memTx); ok && t.db == db {
		return t
	}
	return nil
}

func (db *DB) requireTx(ctx context.Context) (*memTx, error) {
	t := db.txFrom(ctx)
	if t == nil {
		return nil, apperror.NewInternal(errNoTx)
	}
	return t, nil
}

func (db *DB) commit(t *memTx) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for k, r := range t.records {
		db.records[k] = r
	}
	db.movements = append(db.movements, t.movements...)
	for k, b := range t.backorders {
		db.backorders[k] = b
	}
	for k, task := range t.tasks {
		db.tasks[k] = task
	}
	db.events = append(db.events, t.events...)
}

// lock takes the named row lock for t, waiting at most the lock timeout.
func (db *DB) lock(ctx context.Context, t *memTx, name string) error {
	if _, ok := t.held[name]; ok {
		return nil
	}

	db.lockMu.Lock()
	ch, ok := db.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		db.locks[name] = ch
	}
	db.lockMu.Unlock()

	timer := time.NewTimer(db.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		t.held[name] = struct{}{}
		return nil
	case <-timer.C:
		return apperror.NewContention(name)
	case <-ctx.Done():
		return apperror.NewContention(name).WithCause(ctx.Err())
	}
}

func (db *DB) releaseAll(t *memTx) {
	db.lockMu.Lock()
	defer db.lockMu.Unlock()
	for name := range t.held {
		<-db.locks[name]
	}
	t.held = nil
}

// holds reports whether t owns the named lock.
func (t *memTx) holds(name string) bool {
	_, ok := t.held[name]
	return ok
}
