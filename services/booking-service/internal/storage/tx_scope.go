package storage

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is what the pool and an open transaction have in common.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txScope struct {
	mu sync.Mutex
	tx pgx.Tx
}

type txScopeKey struct{}

// WithTx makes the commitment and calendar lookups issued under ctx run on tx
// instead of taking pool connections. A slot re-check then needs no
// connection beyond the one its transaction already holds. A pgx transaction
// runs one statement at a time, so concurrent lookups take turns on it.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txScopeKey{}, &txScope{tx: tx})
}

// querier picks the transaction bound to ctx, or fallback. release must run
// once the statement's rows are fully read.
func querier(ctx context.Context, fallback Querier) (q Querier, release func()) {
	if s, ok := ctx.Value(txScopeKey{}).(*txScope); ok {
		s.mu.Lock()
		return s.tx, s.mu.Unlock
	}
	return fallback, func() {}
}
