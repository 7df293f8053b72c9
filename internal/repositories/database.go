package repositories

import (
	"context"
	"errors"
	"fmt"

	"stockledger/internal/common"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Database is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type Database interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxManager runs fn inside a single store transaction. Nested calls join the
// outer transaction.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

type pgTxManager struct {
	db Database
}

func NewPgTxManager(db Database) TxManager {
	return &pgTxManager{db: db}
}

func (m *pgTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return mapPgError(fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// WithoutTx returns a context that keeps ctx's values but neither its
// cancellation nor any transaction open on it.
func WithoutTx(ctx context.Context) context.Context {
	ctx = context.WithoutCancel(ctx)
	ctx = context.WithValue(ctx, txKey{}, nil)
	return context.WithValue(ctx, memTxKey{}, nil)
}

// conn returns the transaction on ctx, or db when none is open.
func conn(ctx context.Context, db Database) Database {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db
}

// mapPgError turns serialization failures and deadlocks into common.ErrConflict.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", common.ErrConflict, pgErr.Message)
		}
	}
	return err
}

// notFound maps pgx.ErrNoRows to a typed NotFoundError.
func notFound(err error, resource string, id interface{}) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.NewNotFound(resource, id)
	}
	return mapPgError(err)
}
