package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Combine-Capital/cqweb/pkg/errors"
	"github.com/Combine-Capital/cqweb/pkg/logging"
	"github.com/Combine-Capital/cqweb/pkg/retry"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rollbackTimeout bounds a rollback issued after the caller's context is gone.
const rollbackTimeout = 5 * time.Second

// TxState is the lifecycle state of a Tx.
type TxState int

const (
	TxOpen TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxOpen:
		return "open"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

type txContextKey struct{}

// WithTx returns a context carrying tx.
func WithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, or nil.
func TxFromContext(ctx context.Context) *Tx {
	tx, _ := ctx.Value(txContextKey{}).(*Tx)
	return tx
}

// TxManager starts units of work on connections from a Pool.
type TxManager struct {
	pool       *Pool
	logger     *logging.Logger
	beginRetry *retry.Config
}

// TxOption configures a TxManager.
type TxOption func(*TxManager)

// WithTxLogger sets the logger used for transaction lifecycle events.
func WithTxLogger(logger *logging.Logger) TxOption {
	return func(m *TxManager) {
		m.logger = logger.WithComponent("tx")
	}
}

// WithBeginRetry retries acquiring a connection when the pool is exhausted.
// Only temporary errors are retried regardless of cfg.Policy.
func WithBeginRetry(cfg retry.Config) TxOption {
	return func(m *TxManager) {
		cfg.Policy = retry.Temporary
		m.beginRetry = &cfg
	}
}

// NewTxManager creates a transaction manager over pool.
func NewTxManager(pool *Pool, opts ...TxOption) *TxManager {
	m := &TxManager{
		pool:   pool,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Pool returns the pool transactions draw from.
func (m *TxManager) Pool() *Pool {
	return m.pool
}

// Begin checks out a connection and starts a transaction on it. It fails
// with ErrTransactionAlreadyOpen when ctx already carries an open Tx.
func (m *TxManager) Begin(ctx context.Context) (*Tx, error) {
	if existing := TxFromContext(ctx); existing != nil && existing.State() == TxOpen {
		return nil, ErrTransactionAlreadyOpen
	}

	pc, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}

	ptx, err := pc.Conn().Begin(ctx)
	if err != nil {
		if ctx.Err() == nil {
			pc.markBroken()
		}
		_ = m.pool.Release(pc)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{
		id:      uuid.NewString(),
		pool:    m.pool,
		pc:      pc,
		tx:      ptx,
		started: time.Now(),
	}
	tx.logger = m.logger.With(logging.TxID, tx.id)
	tx.logger.Debug().Msg("transaction started")
	return tx, nil
}

func (m *TxManager) acquire(ctx context.Context) (*PooledConn, error) {
	if m.beginRetry == nil {
		return m.pool.Acquire(ctx)
	}
	return retry.DoWithData(ctx, *m.beginRetry, func() (*PooledConn, error) {
		return m.pool.Acquire(ctx)
	})
}

// WithTransaction runs fn as one unit of work. The transaction is placed in
// the context passed to fn. It commits when fn returns nil and rolls back
// when fn returns an error or panics; a panic is re-raised after rollback.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	txCtx := WithTx(ctx, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(txCtx, tx); err != nil {
		if tx.State() == TxOpen {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				return fmt.Errorf("failed to rollback transaction (original error: %w): %v", err, rbErr)
			}
		}
		return err
	}

	switch tx.State() {
	case TxCommitted:
		return nil
	case TxRolledBack:
		return errors.NewPermanent("unit of work rolled back before commit", ErrTransactionClosed)
	}
	return tx.Commit(ctx)
}

// Tx is a transaction bound to one checked-out connection. It is owned by a
// single goroutine; the mutex only guards state transitions.
type Tx struct {
	id      string
	pool    *Pool
	pc      *PooledConn
	tx      pgx.Tx
	logger  *logging.Logger
	started time.Time

	mu    sync.Mutex
	state TxState
}

// ID returns the unit of work identifier used in logs.
func (t *Tx) ID() string {
	return t.id
}

// State returns the current state.
func (t *Tx) State() TxState {
	if t == nil {
		return TxRolledBack
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Exec runs a statement that returns no rows. Any failure rolls the
// transaction back before the error is returned.
func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t == nil {
		return pgconn.CommandTag{}, ErrTransactionNotOpen
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxOpen {
		return pgconn.CommandTag{}, ErrTransactionNotOpen
	}

	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		t.abortLocked(ctx, err)
		return tag, err
	}
	return tag, nil
}

// Query runs a statement and hands the rows to fn. The rows are closed when
// fn returns. A failure of the query, of fn or of row iteration rolls the
// transaction back before the error is returned. fn must not use t.
func (t *Tx) Query(ctx context.Context, sql string, args []any, fn func(pgx.Rows) error) error {
	if t == nil {
		return ErrTransactionNotOpen
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxOpen {
		return ErrTransactionNotOpen
	}

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		t.abortLocked(ctx, err)
		return err
	}

	err = fn(rows)
	rows.Close()
	if err == nil {
		err = rows.Err()
	}
	if err != nil {
		t.abortLocked(ctx, err)
		return err
	}
	return nil
}

// Commit commits and releases the connection. A failed commit leaves the
// transaction rolled back.
func (t *Tx) Commit(ctx context.Context) error {
	if t == nil {
		return ErrTransactionNotOpen
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxOpen {
		return ErrTransactionClosed
	}

	if err := t.tx.Commit(ctx); err != nil {
		// The connection state is unknown after a failed commit.
		t.pc.markBroken()
		t.finishLocked(TxRolledBack)
		t.logger.Warn().Err(err).Msg("commit failed")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.finishLocked(TxCommitted)
	return nil
}

// Rollback rolls back and releases the connection. When ctx is already done
// the rollback runs on a fresh bounded context.
func (t *Tx) Rollback(ctx context.Context) error {
	if t == nil {
		return ErrTransactionNotOpen
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxOpen {
		return ErrTransactionClosed
	}

	err := t.rollbackLocked(ctx)
	if err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// abortLocked rolls back after an execution failure.
func (t *Tx) abortLocked(ctx context.Context, cause error) {
	t.logger.Debug().Err(cause).Msg("statement failed, rolling back")
	if err := t.rollbackLocked(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("rollback after failure did not complete")
	}
}

func (t *Tx) rollbackLocked(ctx context.Context) error {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), rollbackTimeout)
		defer cancel()
	}

	err := t.tx.Rollback(ctx)
	if err != nil {
		t.pc.markBroken()
	}
	t.finishLocked(TxRolledBack)
	return err
}

// finishLocked moves to a terminal state and releases the connection once.
func (t *Tx) finishLocked(state TxState) {
	t.state = state
	if t.pc != nil {
		if err := t.pool.Release(t.pc); err != nil {
			t.logger.Error().Err(err).Msg("failed to release connection")
		}
		t.pc = nil
	}
	t.logger.Debug().
		Str("state", state.String()).
		Int64(logging.Duration, time.Since(t.started).Milliseconds()).
		Msg("transaction finished")
}
