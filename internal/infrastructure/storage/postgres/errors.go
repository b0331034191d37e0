package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"wmsledger/internal/core/apperror"
)

// SQLSTATE codes the ledger reacts to.
const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeQueryCanceled        = "57014"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// Classify maps driver errors onto the application taxonomy. Lock waits,
// serialization failures and deadlocks become retryable Contention errors;
// CHECK violations on the counter columns become invariant violations.
// Errors that already carry an application code pass through.
func Classify(err error, resource string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperror.AsAppError(err); ok {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NewNotFound(resource, "").WithCause(err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected:
		return apperror.NewContention(resource).WithCause(err).
			WithDetail("sqlstate", pgErr.Code)
	case codeQueryCanceled:
		// lock_timeout is reported as 55P03, statement_timeout as 57014.
		return apperror.NewContention(resource).WithCause(err).
			WithDetail("sqlstate", pgErr.Code)
	case codeCheckViolation:
		return apperror.NewInvariantViolation("database constraint rejected counters").WithCause(err).
			WithDetail("constraint", pgErr.ConstraintName)
	case codeUniqueViolation:
		return apperror.NewConflict("duplicate row").WithCause(err).
			WithDetail("constraint", pgErr.ConstraintName)
	}
	return err
}
