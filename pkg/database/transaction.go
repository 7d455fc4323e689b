package database

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/printmesh/printmesh/pkg/logger"
)

// Postgres error codes that make a transaction worth retrying.
// See https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	SerializationFailureCode = "40001"
	DeadlockDetectedCode     = "40P01"
)

// ErrConflictExhausted is returned when a transaction kept hitting
// serialization conflicts until the retry budget ran out.
var ErrConflictExhausted = errors.New("transaction retries exhausted")

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx. Repositories
// take it explicitly so that the same method works inside and outside a
// coordinated transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner opens transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// IsRetryableTxError reports whether err is a storage conflict that a fresh
// transaction attempt may resolve. Generic timeouts are deliberately not
// retryable to avoid amplifying overload.
func IsRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == SerializationFailureCode || pgErr.Code == DeadlockDetectedCode
	}
	return false
}

type afterCommitHook struct {
	onSuccessOnly bool
	fn            func(context.Context)
}

// ambientTx is the transaction-context value threaded through a coordinated
// call chain. Nested Run calls attach to it instead of opening a second
// physical transaction.
type ambientTx struct {
	tx    pgx.Tx
	hooks []afterCommitHook
}

type ambientTxKey struct{}

func ambientFromContext(ctx context.Context) (*ambientTx, bool) {
	amb, ok := ctx.Value(ambientTxKey{}).(*ambientTx)
	return amb, ok
}

// Querier returns the ambient transaction when ctx is inside a coordinated
// call chain, and fallback otherwise. Injected predicates (policy lookups)
// use this so they observe uncommitted writes of the surrounding transaction.
func Querier(ctx context.Context, fallback DBTX) DBTX {
	if amb, ok := ambientFromContext(ctx); ok {
		return amb.tx
	}
	return fallback
}

// Coordinator wraps units of work in database transactions and retries
// storage conflicts with bounded, jittered exponential backoff.
type Coordinator struct {
	db          Beginner
	logger      *logger.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// NewCoordinator creates a transaction coordinator with the default retry
// policy of 5 attempts starting at a 10ms backoff.
func NewCoordinator(db Beginner, log *logger.Logger) *Coordinator {
	return &Coordinator{
		db:          db,
		logger:      log,
		maxAttempts: 5,
		baseDelay:   10 * time.Millisecond,
	}
}

// WithRetryPolicy overrides the retry budget. Used by tests and by callers
// that cannot afford long tail latencies.
func (c *Coordinator) WithRetryPolicy(maxAttempts int, baseDelay time.Duration) *Coordinator {
	c.maxAttempts = maxAttempts
	c.baseDelay = baseDelay
	return c
}

// Run executes fn inside a transaction. When ctx already carries one, fn
// joins it: at most one physical transaction exists per logical call chain.
// Conflict errors trigger a rollback and a fresh attempt; every other error
// rolls back and surfaces as-is. Partial writes are undone by the storage
// engine, never manually.
func (c *Coordinator) Run(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	if amb, ok := ambientFromContext(ctx); ok {
		return fn(ctx, amb.tx)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			if c.logger != nil {
				c.logger.Infof("Transaction attempt #%d failed with a conflict, retrying in %s", attempt-1, delay)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		amb := &ambientTx{}
		err := c.runOnce(ctx, amb, fn)
		if err == nil {
			amb.runHooks(ctx, true)
			return nil
		}

		lastErr = err
		if !IsRetryableTxError(err) {
			amb.runHooks(ctx, false)
			return err
		}
	}

	if c.logger != nil {
		c.logger.Errorf("Failed to execute transaction after %d attempts, giving up: %v", c.maxAttempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConflictExhausted, c.maxAttempts, lastErr)
}

func (c *Coordinator) runOnce(ctx context.Context, amb *ambientTx, fn func(ctx context.Context, tx DBTX) error) error {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	amb.tx = tx
	txCtx := context.WithValue(ctx, ambientTxKey{}, amb)

	if err := fn(txCtx, tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return nil
}

// AfterCommit registers fn to run after the enclosing top-level transaction
// finishes. With onSuccessOnly, fn runs only if the transaction committed.
// Outside of a transaction fn runs immediately. Hooks registered during an
// attempt that is rolled back and retried are discarded with the attempt, so
// each hook fires at most once per logical transaction.
func (c *Coordinator) AfterCommit(ctx context.Context, fn func(context.Context), onSuccessOnly bool) {
	amb, ok := ambientFromContext(ctx)
	if !ok {
		fn(ctx)
		return
	}
	amb.hooks = append(amb.hooks, afterCommitHook{onSuccessOnly: onSuccessOnly, fn: fn})
}

func (amb *ambientTx) runHooks(ctx context.Context, committed bool) {
	for _, hook := range amb.hooks {
		if hook.onSuccessOnly && !committed {
			continue
		}
		hook.fn(ctx)
	}
}

func (c *Coordinator) backoff(failedAttempts int) time.Duration {
	window := c.baseDelay << (failedAttempts - 1)
	// Full jitter over the exponential window
	return time.Duration(rand.Int63n(int64(window) + 1))
}
