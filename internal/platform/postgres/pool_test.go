package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anhdng/ielts-pipeline/internal/config"
)

func badPool() *Pool {
	// No '=' and no scheme, so the DSN parser rejects it without
	// touching the network.
	return NewPool(config.DatabaseConfig{URL: "not a dsn", MaxConns: 1})
}

func TestQuerier_SurfacesPoolUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := badPool().Querier()

	_, err := db.Exec(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrPoolUnavailable)

	_, err = db.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrPoolUnavailable)

	var n int
	err = db.QueryRow(ctx, "SELECT 1").Scan(&n)
	assert.ErrorIs(t, err, ErrPoolUnavailable)

	_, err = db.CopyFrom(ctx, []string{"passages"}, nil, nil)
	assert.ErrorIs(t, err, ErrPoolUnavailable)
}

func TestQuerier_FailedInitializationCanBeRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := badPool().Querier()

	_, err := db.Exec(ctx, "SELECT 1")
	require.ErrorIs(t, err, ErrPoolUnavailable)

	// The Pool stays usable after a failed initialization; the next
	// operation attempts initialization again instead of wedging.
	_, err = db.Exec(ctx, "SELECT 1")
	assert.ErrorIs(t, err, ErrPoolUnavailable)
}

func TestWithTx_SurfacesPoolUnavailable(t *testing.T) {
	t.Parallel()

	err := badPool().WithTx(context.Background(), func(context.Context, pgx.Tx) error {
		t.Fatal("transaction body must not run when the pool is unavailable")
		return nil
	})
	assert.ErrorIs(t, err, ErrPoolUnavailable)
}

func TestClose_UninitializedPoolIsNoOp(t *testing.T) {
	t.Parallel()

	p := badPool()
	p.Close(context.Background())
	p.Close(context.Background())
}
