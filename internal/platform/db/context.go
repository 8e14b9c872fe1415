package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	projectIDKey contextKey = "project_id"
	connKey      contextKey = "db_conn"
	txKey        contextKey = "db_tx"
)

// AcquireProjectConn acquires a pooled connection and binds it, along
// with projectID, to a derived context. Unlike the teacher's tenant
// middleware, which switches `search_path` to a per-tenant schema, rows
// here are scoped by a `projectId` column on every table family
// (spec.md §3 Main/History row invariants), so no session-level
// `SET search_path` is needed — the Repository filters by projectID
// explicitly in every statement.
func AcquireProjectConn(ctx context.Context, pool *pgxpool.Pool, projectID string) (context.Context, *pgxpool.Conn, error) {
	if projectID == "" {
		return ctx, nil, fmt.Errorf("project id is required")
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("acquire connection: %w", err)
	}
	ctx = context.WithValue(ctx, projectIDKey, projectID)
	ctx = context.WithValue(ctx, connKey, conn)
	return ctx, conn, nil
}

// ProjectFromContext retrieves the active project id bound by
// AcquireProjectConn.
func ProjectFromContext(ctx context.Context) string {
	id, _ := ctx.Value(projectIDKey).(string)
	return id
}

// ConnFromContext retrieves the pooled connection bound by
// AcquireProjectConn.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(connKey).(*pgxpool.Conn)
	return conn
}

// WithTx starts a transaction on the context's connection and returns a
// derived context carrying it. The caller must commit or roll back the
// returned pgx.Tx.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, fmt.Errorf("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, txKey, tx), tx, nil
}

// TxFromContext retrieves the active transaction from context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// Querier is satisfied by pgx.Tx, *pgxpool.Conn, and *pgxpool.Pool,
// letting repository code write one statement path regardless of
// whether a transaction is open.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Conn picks the active transaction if one is open, falling back to the
// bare pooled connection, and finally to pool itself — the same
// tx-over-pool preference the teacher's per-domain repositories apply
// (spec.md §4.3 atomicity).
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}
