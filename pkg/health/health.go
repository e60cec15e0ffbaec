package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Combine-Capital/cqweb/pkg/logging"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Health manages the registered checkers and caches their aggregate result.
type Health struct {
	mu       sync.RWMutex
	checkers map[string]Checker

	// Result caching to prevent stampede
	cacheMu      sync.RWMutex
	cachedResult *HealthResult
	cacheExpiry  time.Time
	cacheTTL     time.Duration

	checkTimeout time.Duration
	logger       *logging.Logger
	now          func() time.Time
}

// HealthResult is the aggregated readiness result.
type HealthResult struct {
	Status    string                 `json:"status"`
	CheckedAt time.Time              `json:"checked_at"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of one checker.
type CheckResult struct {
	Status     string  `json:"status"`            // "ok" or "error"
	Message    string  `json:"message,omitempty"` // error message if status is "error"
	DurationMS float64 `json:"duration_ms"`
}

// Option configures a Health.
type Option func(*Health)

// WithCheckTimeout bounds every checker that runs without a caller deadline.
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Health) { h.checkTimeout = d }
}

// WithCacheTTL sets how long an aggregate result is reused. 0 disables caching.
func WithCacheTTL(d time.Duration) Option {
	return func(h *Health) { h.cacheTTL = d }
}

// WithLogger logs failing checks.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Health) {
		if logger != nil {
			h.logger = logger.WithComponent("health")
		}
	}
}

// New creates a Health. Checks time out after 5 seconds and results are
// cached for 1 second unless configured otherwise.
func New(opts ...Option) *Health {
	h := &Health{
		checkers:     make(map[string]Checker),
		checkTimeout: 5 * time.Second,
		cacheTTL:     1 * time.Second,
		logger:       logging.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterChecker registers a checker under name, replacing any previous one.
func (h *Health) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checkers[name] = checker
	h.ClearCache()
}

// UnregisterChecker removes a checker. It reports whether one was registered.
func (h *Health) UnregisterChecker(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.checkers[name]; !exists {
		return false
	}
	delete(h.checkers, name)
	h.ClearCache()
	return true
}

// Check runs all checkers and returns the aggregated result, served from
// cache while it is fresh.
func (h *Health) Check(ctx context.Context) *HealthResult {
	h.cacheMu.RLock()
	if h.cachedResult != nil && h.now().Before(h.cacheExpiry) {
		result := h.cachedResult
		h.cacheMu.RUnlock()
		return result
	}
	h.cacheMu.RUnlock()

	result := h.executeChecks(ctx)

	h.cacheMu.Lock()
	h.cachedResult = result
	h.cacheExpiry = h.now().Add(h.cacheTTL)
	h.cacheMu.Unlock()

	return result
}

// executeChecks runs all registered checkers concurrently and aggregates results.
func (h *Health) executeChecks(ctx context.Context) *HealthResult {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	h.mu.RUnlock()

	type checkResponse struct {
		name   string
		result CheckResult
	}

	responses := make(chan checkResponse, len(checkers))
	var wg sync.WaitGroup
	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			start := time.Now()
			err := h.run(ctx, checker)
			result := CheckResult{Status: "ok", DurationMS: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				result.Status = "error"
				result.Message = err.Error()
				h.logger.Warn().Err(err).Str("checker", name).Msg("health check failed")
			}
			responses <- checkResponse{name: name, result: result}
		}(name, checker)
	}
	wg.Wait()
	close(responses)

	result := &HealthResult{
		Status:    StatusHealthy,
		CheckedAt: h.now().UTC(),
		Checks:    make(map[string]CheckResult, len(checkers)),
	}
	for resp := range responses {
		result.Checks[resp.name] = resp.result
		if resp.result.Status != "ok" {
			result.Status = StatusUnhealthy
		}
	}
	return result
}

func (h *Health) run(ctx context.Context, checker Checker) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && h.checkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.checkTimeout)
		defer cancel()
	}
	return checker.Check(ctx)
}

// CheckComponent runs one checker by name, bypassing the cache.
func (h *Health) CheckComponent(ctx context.Context, name string) error {
	h.mu.RLock()
	checker, exists := h.checkers[name]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("health checker %q not registered", name)
	}
	return h.run(ctx, checker)
}

// IsHealthy reports whether every registered checker passes.
func (h *Health) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Status == StatusHealthy
}

// ClearCache forces the next Check to run the checkers.
func (h *Health) ClearCache() {
	h.cacheMu.Lock()
	defer h.cacheMu.Unlock()

	h.cachedResult = nil
	h.cacheExpiry = time.Time{}
}
