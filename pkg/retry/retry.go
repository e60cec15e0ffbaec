// Package retry repeats operations that fail transiently, such as checking
// out a connection from an exhausted pool or dialing a database that is
// still starting. Backoff is delegated to github.com/cenkalti/backoff/v5.
//
// Example usage:
//
//	conn, err := retry.DoWithData(ctx, retry.Startup(10*time.Second), func() (Conn, error) {
//		return connect(ctx)
//	})
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Combine-Capital/cqweb/pkg/errors"
)

// Policy reports whether a failed attempt is worth repeating.
type Policy func(error) bool

var (
	// Temporary repeats errors classified as temporary by pkg/errors.
	Temporary Policy = errors.IsTemporary
	// Always repeats every error.
	Always Policy = func(error) bool { return true }
	// Never runs the operation once.
	Never Policy = func(error) bool { return false }
)

// Config bounds a retry loop. Zero fields take the defaults noted below.
type Config struct {
	MaxAttempts  uint          // including the first; default 10
	InitialDelay time.Duration // default 100ms
	MaxDelay     time.Duration // default 5s
	Multiplier   float64       // default 2
	Jitter       float64       // randomization factor in [0, 1]; default 0.25

	// MaxElapsedTime caps the total time spent retrying. 0 means no cap.
	MaxElapsedTime time.Duration

	// Policy defaults to Temporary.
	Policy Policy

	// OnRetry runs before each sleep with the failed attempt's error.
	OnRetry func(err error, delay time.Duration)
}

// Startup bounds work done while the application is being assembled: a
// handful of quick attempts, so a misconfigured database fails startup
// instead of hanging it.
func Startup(maxElapsed time.Duration) Config {
	return Config{
		MaxAttempts:    5,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		MaxElapsedTime: maxElapsed,
		Policy:         Temporary,
	}
}

// Once runs an operation a single time.
func Once() Config {
	return Config{MaxAttempts: 1, Policy: Never}
}

func (c Config) normalized() Config {
	def := func(v *time.Duration, d time.Duration) {
		if *v == 0 {
			*v = d
		}
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	def(&c.InitialDelay, 100*time.Millisecond)
	def(&c.MaxDelay, 5*time.Second)
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	if c.Jitter == 0 {
		c.Jitter = 0.25
	}
	if c.Policy == nil {
		c.Policy = Temporary
	}
	return c
}

// Do runs fn until it succeeds, the policy declines the error, attempts or
// elapsed time run out, or ctx is done. The last attempt's error is
// returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithData(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithData is Do for functions that produce a value.
func DoWithData[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	cfg = cfg.normalized()

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !cfg.Policy(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, cfg.options()...)
}

func (c Config) options() []backoff.RetryOption {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialDelay
	exp.MaxInterval = c.MaxDelay
	exp.Multiplier = c.Multiplier
	exp.RandomizationFactor = c.Jitter

	opts := []backoff.RetryOption{
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(c.MaxAttempts),
	}
	if c.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(c.MaxElapsedTime))
	}
	if c.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(c.OnRetry))
	}
	return opts
}
