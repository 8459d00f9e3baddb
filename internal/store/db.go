package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/soundspan/soundspan/internal/constants"
)

type DB struct {
	*sqlx.DB

	// OnTxRetry fires once per serialization-conflict retry, before the
	// backoff sleep. Optional; wired to a counter by the caller.
	OnTxRetry func()

	maxTxRetries int
	txRetryBase  time.Duration
}

func NewSQLiteDB(dsn string) (*DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Set pragmas for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", constants.DefaultBusyTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{
		DB:           db,
		maxTxRetries: constants.DefaultTxMaxRetries,
		txRetryBase:  constants.DefaultTxRetryBase,
	}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx so the same job
// queries run inside and outside a transaction.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Queries exposes the job operations bound to either the pool or an open
// transaction.
type Queries struct {
	q queryer
}

// Q returns the job queries bound to the connection pool, outside any
// transaction.
func (db *DB) Q() *Queries {
	return &Queries{q: db.DB}
}

// Transaction runs fn inside a serializable transaction. Serialization
// conflicts and lock contention are retried with exponential backoff up to
// the configured maximum; any other error aborts immediately. The
// transaction is rolled back whenever fn returns an error.
func (db *DB) Transaction(ctx context.Context, fn func(q *Queries) error) error {
	var lastErr error
	for attempt := 0; attempt <= db.maxTxRetries; attempt++ {
		if attempt > 0 {
			if db.OnTxRetry != nil {
				db.OnTxRetry()
			}
			backoff := db.txRetryBase * (1 << (attempt - 1))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := db.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsSerializationConflict(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

func (db *DB) runTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Queries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsSerializationConflict reports whether err is the store signalling that
// a concurrent transaction won the row, which is safe to retry.
func IsSerializationConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrTxDone) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "deadlock")
}
