// Package tx provides transaction management abstractions.
// Domain services depend on Manager; the postgres and memory stores implement it.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
//
// The ctx passed to fn is the unit-of-work handle: repositories called with
// it take part in the transaction and hold their row locks until fn returns.
// Nested calls reuse the existing transaction from context.
type Manager interface {
	// RunInTransaction executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
