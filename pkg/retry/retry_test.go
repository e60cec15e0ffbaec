package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	cqerrors "github.com/Combine-Capital/cqweb/pkg/errors"
)

var errExhausted = errors.New("connection pool exhausted")

func fast(policy Policy, attempts uint) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Policy:       policy,
	}
}

// TestDoSuccess verifies a successful call runs once
func TestDoSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(Temporary, 3), func() error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

// TestDoRetriesPoolExhaustion verifies temporary failures are retried until success
func TestDoRetriesPoolExhaustion(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(Temporary, 5), func() error {
		attempts++
		if attempts < 3 {
			return cqerrors.NewTemporary("acquire connection", errExhausted)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

// TestDoPolicies verifies which errors each policy retries
func TestDoPolicies(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		err      error
		attempts int
	}{
		{"temporary policy stops on permanent", fast(Temporary, 5), cqerrors.NewPermanent("unknown statement", nil), 1},
		{"temporary policy stops on plain error", fast(Temporary, 5), errors.New("syntax error"), 1},
		{"all policy retries plain error", fast(Always, 3), errors.New("syntax error"), 3},
		{"none policy runs once", fast(Never, 5), cqerrors.NewTemporary("t", nil), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Do(context.Background(), tt.cfg, func() error {
				attempts++
				return tt.err
			})
			if err == nil {
				t.Fatal("Do() expected error")
			}
			if attempts != tt.attempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.attempts)
			}
		})
	}
}

// TestDoCustomPolicy verifies a caller-supplied policy decides what repeats
func TestDoCustomPolicy(t *testing.T) {
	cfg := fast(func(err error) bool { return errors.Is(err, errExhausted) }, 4)

	attempts := 0
	_ = Do(context.Background(), cfg, func() error {
		attempts++
		return errExhausted
	})
	if attempts != 4 {
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

// TestDoContextCancellation verifies cancellation stops retrying
func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 10, InitialDelay: 20 * time.Millisecond, Policy: Always}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("Do() expected error")
	}
	if attempts > 3 {
		t.Errorf("attempts = %d, want <= 3", attempts)
	}
}

// TestDoOnRetry verifies the notify hook sees every failed attempt but the last
func TestDoOnRetry(t *testing.T) {
	cfg := fast(Always, 3)
	var notified int
	cfg.OnRetry = func(err error, delay time.Duration) {
		notified++
	}

	_ = Do(context.Background(), cfg, func() error { return errExhausted })
	if notified != 2 {
		t.Errorf("OnRetry called %d times, want 2", notified)
	}
}

// TestDoWithData verifies values are returned from the succeeding attempt
func TestDoWithData(t *testing.T) {
	attempts := 0
	got, err := DoWithData(context.Background(), fast(Always, 3), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errExhausted
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("DoWithData() error = %v", err)
	}
	if got != 42 {
		t.Errorf("DoWithData() = %d, want 42", got)
	}
}

// TestMaxElapsedTime verifies retrying stops when the time budget is spent
func TestMaxElapsedTime(t *testing.T) {
	cfg := Config{
		MaxAttempts:    100,
		InitialDelay:   10 * time.Millisecond,
		MaxElapsedTime: 50 * time.Millisecond,
		Policy:         Always,
	}

	start := time.Now()
	_ = Do(context.Background(), cfg, func() error { return errExhausted })

	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("took %v, want about 50ms", elapsed)
	}
}

// TestConfigDefaults verifies default values
func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.normalized()
	if cfg.MaxAttempts != 10 || cfg.InitialDelay != 100*time.Millisecond || cfg.MaxDelay != 5*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Multiplier != 2.0 || cfg.Jitter != 0.25 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	if cfg.Policy(cqerrors.NewPermanent("p", nil)) || !cfg.Policy(cqerrors.NewTemporary("t", nil)) {
		t.Error("default policy should repeat only temporary errors")
	}

	s := Startup(3 * time.Second)
	if s.MaxAttempts != 5 || s.MaxElapsedTime != 3*time.Second {
		t.Errorf("Startup() = %+v", s)
	}
	if o := Once(); o.MaxAttempts != 1 || o.Policy(errExhausted) {
		t.Errorf("Once() = %+v", o)
	}
}
