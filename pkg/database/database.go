// Package database provides the connection pool, transaction manager and
// schema initializer behind the request pipeline.
//
// A Pool hands out at most MaxOpen connections and validates every
// connection it takes back before it is reused. A TxManager binds one
// checked-out connection to one unit of work; every statement runs inside an
// Open Tx and any execution failure rolls the unit back.
//
// Example usage:
//
//	connect, err := database.PgxConnector(cfg.JDBC, cfg.Pool.ConnectTimeout)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pool, err := database.NewPool(ctx, connect, cfg.Pool)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close(ctx)
//
//	txm := database.NewTxManager(pool)
//	err = txm.WithTransaction(ctx, func(ctx context.Context, tx *database.Tx) error {
//	    _, err := tx.Exec(ctx, "INSERT INTO users (name) VALUES ($1)", "Alice")
//	    return err
//	})
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrPoolExhausted is returned, wrapped in a Temporary error, when no
	// connection became available within the acquire timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.NewPermanent("connection pool closed", nil)

	// ErrConnReleased is returned when a connection is released twice.
	ErrConnReleased = errors.NewPermanent("connection already released", nil)

	// ErrTransactionAlreadyOpen is returned by Begin when the context already
	// carries an open transaction.
	ErrTransactionAlreadyOpen = errors.NewPermanent("transaction already open in this unit of work", nil)

	// ErrTransactionClosed is returned by Commit or Rollback on a transaction
	// that already committed or rolled back.
	ErrTransactionClosed = errors.NewPermanent("transaction already closed", nil)

	// ErrTransactionNotOpen is returned when a statement is executed without
	// an open transaction.
	ErrTransactionNotOpen = errors.NewPermanent("transaction not open", nil)
)

// Conn is a single live database connection. *pgx.Conn satisfies it, as do
// the pgxmock connections used in tests.
type Conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

var _ Conn = (*pgx.Conn)(nil)

// Connector opens a new connection.
type Connector func(ctx context.Context) (Conn, error)

// PgxConnector returns a Connector dialing the database named by the jdbc.*
// keys.
func PgxConnector(jdbc config.JDBCConfig, connectTimeout time.Duration) (Connector, error) {
	if !config.IsSupportedDriver(jdbc.DriverClassName) {
		return nil, fmt.Errorf("unsupported driver %q", jdbc.DriverClassName)
	}
	connStr, err := jdbc.ConnString()
	if err != nil {
		return nil, err
	}

	connConfig, err := pgx.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	if connectTimeout > 0 {
		connConfig.ConnectTimeout = connectTimeout
	}

	return func(ctx context.Context) (Conn, error) {
		conn, err := pgx.ConnectConfig(ctx, connConfig)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, nil
}
