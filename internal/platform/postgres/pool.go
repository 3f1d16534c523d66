// Package postgres provides the relational-store layer: a bounded,
// lazily-initialized connection pool with transaction-scoped acquisition,
// and the passage / processed-file stores built on top of it.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anhdng/ielts-pipeline/internal/config"
	"github.com/anhdng/ielts-pipeline/internal/platform/logger"
)

// ErrPoolUnavailable indicates the connection pool could not be
// initialized. It is distinguishable from query errors so callers can
// retry initialization later without restarting the process.
var ErrPoolUnavailable = errors.New("database pool unavailable")

// TxFn is a function that executes within a database transaction.
// The transaction is committed if the function returns nil and rolled
// back otherwise.
type TxFn func(ctx context.Context, tx pgx.Tx) error

// Pool manages a bounded [MinConns, MaxConns] pgx connection pool.
// The underlying pool is created on first use, guarded against
// concurrent double-initialization; a failed initialization leaves the
// Pool usable so a later call can retry.
type Pool struct {
	cfg config.DatabaseConfig

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewPool creates a Pool. No connections are opened until first use.
func NewPool(cfg config.DatabaseConfig) *Pool {
	return &Pool{cfg: cfg}
}

// get returns the underlying pool, initializing it if needed.
func (p *Pool) get(ctx context.Context) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return p.pool, nil
	}

	log := logger.FromContext(ctx)
	log.Info("initializing database connection pool",
		"min_conns", p.cfg.MinConns,
		"max_conns", p.cfg.MaxConns)

	poolCfg, err := pgxpool.ParseConfig(p.cfg.URL)
	if err != nil {
		log.Error("failed to parse database config", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPoolUnavailable, err)
	}
	poolCfg.MinConns = p.cfg.MinConns
	poolCfg.MaxConns = p.cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("failed to initialize database pool", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPoolUnavailable, err)
	}

	p.pool = pool
	return pool, nil
}

// WithTx acquires a connection, begins a transaction and executes fn
// within it. On a nil return the transaction is committed; on error or
// panic it is rolled back, a rollback failure is logged without masking
// the original error, and the connection is always returned to the pool.
func (p *Pool) WithTx(ctx context.Context, fn TxFn) error {
	log := logger.FromContext(ctx)

	pool, err := p.get(ctx)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Error("failed to begin transaction", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error("failed to roll back transaction after panic",
					"error", rbErr, "panic", r)
			} else {
				log.Error("rolled back transaction after panic", "panic", r)
			}
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Error("failed to roll back transaction",
				"rollback_error", rbErr,
				"original_error", err)
			return fmt.Errorf("error rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		log.Debug("rolled back transaction due to error", slog.Any("error", err))
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error("failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Querier returns a Querier for non-transactional reads. Every call
// goes through lazy initialization, so a Querier obtained before the
// database was reachable starts working once a later operation manages
// to initialize the pool; until then operations fail with
// ErrPoolUnavailable.
func (p *Pool) Querier() Querier {
	return poolQuerier{p: p}
}

// poolQuerier defers pool initialization to each operation.
type poolQuerier struct {
	p *Pool
}

func (q poolQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	pool, err := q.p.get(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return pool.Exec(ctx, sql, args...)
}

func (q poolQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	pool, err := q.p.get(ctx)
	if err != nil {
		return nil, err
	}
	return pool.Query(ctx, sql, args...)
}

func (q poolQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	pool, err := q.p.get(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return pool.QueryRow(ctx, sql, args...)
}

func (q poolQuerier) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	pool, err := q.p.get(ctx)
	if err != nil {
		return 0, err
	}
	return pool.CopyFrom(ctx, tableName, columnNames, rowSrc)
}

// errRow carries an acquisition failure through the pgx.Row contract.
type errRow struct {
	err error
}

func (r errRow) Scan(...any) error { return r.err }

// Close tears down the pool. Closing an uninitialized pool is a no-op
// with a warning, not an error; Close is idempotent.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := logger.FromContext(ctx)
	if p.pool == nil {
		log.Warn("attempted to close database pool, but it was not initialized")
		return
	}

	p.pool.Close()
	p.pool = nil
	log.Info("database connection pool closed")
}
