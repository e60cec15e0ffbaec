// Package health provides liveness and readiness probes for a cqweb
// application. Readiness runs every registered Checker, typically the
// connection pool and the session store, concurrently and caches the
// aggregate briefly so probes cannot stampede the database.
//
// Example usage:
//
//	h := health.New(health.WithLogger(logger))
//	h.RegisterChecker("database", pool)
//	h.RegisterChecker("sessions", sessionStore)
//	h.Mount(mux)
//
// Liveness never touches dependencies; readiness fails with 503 while any
// checker fails.
package health

import (
	"context"
)

// Checker is implemented by components that can report their health. Check
// must respect the context deadline and return nil when healthy.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc is a function adapter that implements the Checker interface.
type CheckerFunc func(ctx context.Context) error

// Check implements the Checker interface by calling the function.
func (f CheckerFunc) Check(ctx context.Context) error {
	return f(ctx)
}
