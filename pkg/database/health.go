package database

import (
	"context"
	"fmt"
	"time"
)

// Check implements health.Checker. It checks out a connection, runs a
// trivial query and releases it. A pool whose every connection is in use is
// reported as unhealthy so readiness reflects saturation.
//
// The default timeout is 5 seconds unless the context has a shorter deadline.
func (p *Pool) Check(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	if stats := p.Stats(); stats.Acquired > 0 && stats.Idle == 0 && stats.InUse >= stats.MaxOpen {
		return fmt.Errorf("connection pool exhausted: %d/%d connections in use", stats.InUse, stats.MaxOpen)
	}

	pc, err := p.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = p.Release(pc) }()

	var result int
	if err := pc.Conn().QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		pc.markBroken()
		return fmt.Errorf("health check failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("health check returned unexpected result: %d", result)
	}

	return nil
}
