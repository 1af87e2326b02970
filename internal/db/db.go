package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

type TxRunner interface {
	WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error
}

type SQLXTxRunner struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewTxRunner returns a runner whose transactions give up waiting for row
// locks after lockTimeout. Zero keeps the server default.
func NewTxRunner(db *sqlx.DB, lockTimeout time.Duration) SQLXTxRunner {
	return SQLXTxRunner{db: db, lockTimeout: lockTimeout}
}

func (r SQLXTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return WithTxTimeout(ctx, r.db, r.lockTimeout, fn)
}

func Connect(databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	return WithTxTimeout(ctx, db, 0, fn)
}

// ErrRetryLimit wraps the last serialization failure or deadlock once every
// attempt has been used.
var ErrRetryLimit = errors.New("transaction retry limit exceeded")

// WithTxTimeout runs fn in a serializable transaction, retrying on
// serialization failures and deadlocks. Lock timeouts are not retried here;
// callers surface them as retryable to their own clients.
func WithTxTimeout(ctx context.Context, db *sqlx.DB, lockTimeout time.Duration, fn func(*sqlx.Tx) error) error {
	const maxAttempts = 5
	for attempt := 1; ; attempt++ {
		err := runTx(ctx, db, lockTimeout, fn)
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
		if attempt == maxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryLimit, attempt, err)
		}
		sleepWithBackoff(attempt)
	}
}

func runTx(ctx context.Context, db *sqlx.DB, lockTimeout time.Duration, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	if lockTimeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", lockTimeout.Milliseconds())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// IsLockTimeout reports whether err is Postgres giving up on a lock wait.
func IsLockTimeout(err error) bool {
	return hasPGCode(err, codeLockNotAvailable)
}

func IsUniqueViolation(err error) bool {
	return hasPGCode(err, codeUniqueViolation)
}

// IsSerializationFailure reports a serialization failure or a deadlock, the
// two outcomes a transaction may simply be run again for.
func IsSerializationFailure(err error) bool {
	return hasPGCode(err, codeSerializationFailure) || hasPGCode(err, codeDeadlockDetected)
}

func hasPGCode(err error, code string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == code
}

func sleepWithBackoff(attempt int) {
	base := 20 * time.Millisecond
	backoff := time.Duration(attempt*attempt) * base
	jitter := time.Duration(rand.Int63n(int64(10 * time.Millisecond)))
	time.Sleep(backoff + jitter)
}
