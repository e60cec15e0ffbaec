package database

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Combine-Capital/cqweb/pkg/config"
	"github.com/Combine-Capital/cqweb/pkg/errors"
	"github.com/Combine-Capital/cqweb/pkg/logging"
	"github.com/Combine-Capital/cqweb/pkg/retry"
	"golang.org/x/sync/semaphore"
)

// validationTimeout bounds the round trip used to validate a connection.
const validationTimeout = 5 * time.Second

// DefaultAcquireTimeout bounds Acquire when PoolConfig.AcquireTimeout is unset.
const DefaultAcquireTimeout = 30 * time.Second

// Pool is a bounded pool of database connections. Outstanding checkouts never
// exceed MaxOpen. Every returned connection is validated before it becomes
// idle again; connections that fail validation are closed and replaced
// lazily by the next checkout.
type Pool struct {
	connect Connector
	cfg     config.PoolConfig
	borrow  bool
	retry   retry.Config
	logger  *logging.Logger
	now     func() time.Time

	// sem holds one token per checked-out connection.
	sem *semaphore.Weighted

	mu     sync.Mutex
	idle   []*entry // LIFO
	open   int
	closed bool

	acquired  atomic.Uint64
	opened    atomic.Uint64
	discarded atomic.Uint64
	timeouts  atomic.Uint64
}

// entry is a pooled connection with its bookkeeping.
type entry struct {
	conn      Conn
	createdAt time.Time
}

// PooledConn is a connection checked out of a Pool. It must be returned with
// Pool.Release exactly once.
type PooledConn struct {
	pool     *Pool
	entry    *entry
	released atomic.Bool
	broken   atomic.Bool
}

// Conn returns the underlying connection.
func (pc *PooledConn) Conn() Conn {
	return pc.entry.conn
}

// markBroken makes Release close the connection instead of validating it.
func (pc *PooledConn) markBroken() {
	pc.broken.Store(true)
}

// Stats is a snapshot of pool state and lifetime counters.
type Stats struct {
	MaxOpen int
	Open    int
	Idle    int
	InUse   int

	Acquired  uint64 // successful checkouts
	Opened    uint64 // connections dialed
	Discarded uint64 // connections closed after failing validation or outliving MaxConnLifetime
	Timeouts  uint64 // checkouts that hit the acquire timeout
}

// PoolOption configures optional pool behaviour.
type PoolOption func(*Pool)

// WithPoolLogger sets the logger used for discard and lifecycle events.
func WithPoolLogger(logger *logging.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger.WithComponent("pool")
	}
}

// WithConnectRetry retries opening the MinIdle connections at startup.
func WithConnectRetry(cfg retry.Config) PoolOption {
	return func(p *Pool) {
		p.retry = cfg
	}
}

func withClock(now func() time.Time) PoolOption {
	return func(p *Pool) {
		p.now = now
	}
}

// NewPool creates a pool and pre-opens cfg.MinIdle connections. Defaults
// mirror config.applyDefaults so a zero PoolConfig is usable in tests.
func NewPool(ctx context.Context, connect Connector, cfg config.PoolConfig, opts ...PoolOption) (*Pool, error) {
	if connect == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 8
	}
	if cfg.MaxIdle <= 0 || cfg.MaxIdle > cfg.MaxOpen {
		cfg.MaxIdle = cfg.MaxOpen
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.MinIdle > cfg.MaxIdle {
		return nil, fmt.Errorf("min idle (%d) exceeds max idle (%d)", cfg.MinIdle, cfg.MaxIdle)
	}

	p := &Pool{
		connect: connect,
		cfg:     cfg,
		borrow:  config.BoolValue(cfg.TestOnBorrow, true),
		retry:   retry.Once(),
		logger:  logging.Nop(),
		now:     time.Now,
		sem:     semaphore.NewWeighted(int64(cfg.MaxOpen)),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < cfg.MinIdle; i++ {
		conn, err := retry.DoWithData(ctx, p.retry, func() (Conn, error) {
			c, err := p.connect(ctx)
			if err != nil {
				return nil, errors.NewTemporary("open connection", err)
			}
			return c, nil
		})
		if err != nil {
			_ = p.Close(ctx)
			return nil, fmt.Errorf("failed to open initial connections: %w", err)
		}
		p.opened.Add(1)
		p.mu.Lock()
		p.open++
		p.idle = append(p.idle, &entry{conn: conn, createdAt: p.now()})
		p.mu.Unlock()
	}

	p.logger.Info().
		Int("max_open", cfg.MaxOpen).
		Int("max_idle", cfg.MaxIdle).
		Int("min_idle", cfg.MinIdle).
		Msg("connection pool ready")

	return p, nil
}

// Acquire checks out a connection. It blocks until one is available, the
// acquire timeout elapses (a Temporary error wrapping ErrPoolExhausted) or
// ctx is done (ctx.Err()).
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	err := p.sem.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.timeouts.Add(1)
		return nil, errors.NewTemporary(
			fmt.Sprintf("no connection available within %s", p.cfg.AcquireTimeout), ErrPoolExhausted)
	}

	e, err := p.checkout(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.acquired.Add(1)
	return &PooledConn{pool: p, entry: e}, nil
}

// checkout pops a usable idle connection or opens a new one. The caller
// holds a semaphore token.
func (p *Pool) checkout(ctx context.Context) (*entry, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		n := len(p.idle)
		if n == 0 {
			// Reserve the slot before dialing so Stats never under-reports.
			p.open++
			p.mu.Unlock()
			break
		}
		e := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		if p.expired(e) {
			p.discard(e, "max lifetime exceeded")
			continue
		}
		if p.borrow {
			if err := p.validate(ctx, e); err != nil {
				p.discard(e, err.Error())
				continue
			}
		}
		return e, nil
	}

	conn, err := p.connect(ctx)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewTemporary("open connection", err)
	}
	p.opened.Add(1)
	return &entry{conn: conn, createdAt: p.now()}, nil
}

// Release returns a checked-out connection. The connection is validated
// first; a connection that fails validation, is marked broken or outlived
// MaxConnLifetime is closed. Valid connections go back on the idle stack
// unless it already holds MaxIdle connections.
func (p *Pool) Release(pc *PooledConn) error {
	if pc == nil || pc.pool != p {
		return errors.NewPermanent("release connection", fmt.Errorf("connection does not belong to this pool"))
	}
	if !pc.released.CompareAndSwap(false, true) {
		return ErrConnReleased
	}
	defer p.sem.Release(1)

	e := pc.entry
	if pc.broken.Load() {
		p.discard(e, "connection broken")
		return nil
	}
	if p.expired(e) {
		p.discard(e, "max lifetime exceeded")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), validationTimeout)
	defer cancel()
	if err := p.validate(ctx, e); err != nil {
		p.discard(e, err.Error())
		return nil
	}

	p.mu.Lock()
	if p.closed || len(p.idle) >= p.cfg.MaxIdle {
		p.open--
		p.mu.Unlock()
		closeConn(e)
		return nil
	}
	p.idle = append(p.idle, e)
	p.mu.Unlock()
	return nil
}

// validate runs the validation query, or a ping when none is configured.
func (p *Pool) validate(ctx context.Context, e *entry) error {
	if p.cfg.ValidationQuery == "" {
		return e.conn.Ping(ctx)
	}
	_, err := e.conn.Exec(ctx, p.cfg.ValidationQuery)
	return err
}

func (p *Pool) expired(e *entry) bool {
	return p.cfg.MaxConnLifetime > 0 && p.now().Sub(e.createdAt) > p.cfg.MaxConnLifetime
}

// discard closes a connection that must not be served again.
func (p *Pool) discard(e *entry, reason string) {
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
	p.discarded.Add(1)
	closeConn(e)

	p.logger.Warn().Str("reason", reason).Msg("discarded pooled connection")
}

func closeConn(e *entry) {
	ctx, cancel := context.WithTimeout(context.Background(), validationTimeout)
	defer cancel()
	_ = e.conn.Close(ctx)
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	open, idle := p.open, len(p.idle)
	p.mu.Unlock()

	return Stats{
		MaxOpen:   p.cfg.MaxOpen,
		Open:      open,
		Idle:      idle,
		InUse:     open - idle,
		Acquired:  p.acquired.Load(),
		Opened:    p.opened.Load(),
		Discarded: p.discarded.Load(),
		Timeouts:  p.timeouts.Load(),
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close closes all idle connections. Checked-out connections are closed as
// they are released. Acquire fails with ErrPoolClosed afterwards.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.open -= len(idle)
	p.mu.Unlock()

	var firstErr error
	for _, e := range idle {
		if err := e.conn.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	p.logger.Info().Int("closed", len(idle)).Msg("connection pool closed")
	return firstErr
}
