package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate validates the configuration and returns an error if any required fields are missing
// or have invalid values.
func Validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port is required")
	}

	// Validate JDBC config (if used)
	if cfg.JDBC.URL != "" {
		if !IsSupportedDriver(cfg.JDBC.DriverClassName) {
			return fmt.Errorf("jdbc.driverClassName %q is not supported", cfg.JDBC.DriverClassName)
		}
		if _, err := cfg.JDBC.ConnString(); err != nil {
			return err
		}
	}

	// Validate pool bounds
	if cfg.Pool.MaxOpen < 1 {
		return fmt.Errorf("pool.max_open must be at least 1")
	}
	if cfg.Pool.MinIdle > cfg.Pool.MaxOpen {
		return fmt.Errorf("pool.min_idle (%d) must not exceed pool.max_open (%d)", cfg.Pool.MinIdle, cfg.Pool.MaxOpen)
	}
	if cfg.Pool.MaxIdle > cfg.Pool.MaxOpen {
		return fmt.Errorf("pool.max_idle (%d) must not exceed pool.max_open (%d)", cfg.Pool.MaxIdle, cfg.Pool.MaxOpen)
	}

	// Validate session store
	switch cfg.Session.Backend {
	case "memory":
	case "redis":
		if cfg.Session.RedisAddr == "" {
			return fmt.Errorf("session.redis_addr is required when session.backend is redis")
		}
	default:
		return fmt.Errorf("session.backend must be memory or redis, got %q", cfg.Session.Backend)
	}
	for _, p := range cfg.Session.Paths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("session path %q must start with /", p)
		}
	}

	// Validate static mapping
	if !strings.HasPrefix(cfg.Static.URLPrefix, "/") || !strings.HasSuffix(cfg.Static.URLPrefix, "/") {
		return fmt.Errorf("static.url_prefix must start and end with /")
	}

	// Validate Tracing config (if enabled)
	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
		}
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0")
		}
	}

	// Validate Metrics config (if enabled)
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port == 0 {
			return fmt.Errorf("metrics.port is required when metrics are enabled")
		}
	}

	return nil
}

// applyDefaults applies default values to the configuration where values are not set.
func applyDefaults(cfg *Config) {
	// Service defaults
	if cfg.Service.Name == "" {
		cfg.Service.Name = "cqweb"
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "development"
	}

	// Server defaults
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = 1 << 20 // 1 MB
	}

	// JDBC defaults
	if cfg.JDBC.DriverClassName == "" {
		cfg.JDBC.DriverClassName = "org.postgresql.Driver"
	}

	// Pool defaults (DBCP-like)
	if cfg.Pool.MaxOpen == 0 {
		cfg.Pool.MaxOpen = 8
	}
	if cfg.Pool.MaxIdle == 0 {
		cfg.Pool.MaxIdle = cfg.Pool.MaxOpen
	}
	if cfg.Pool.AcquireTimeout == 0 {
		cfg.Pool.AcquireTimeout = 30 * time.Second
	}
	if cfg.Pool.ValidationQuery == "" {
		cfg.Pool.ValidationQuery = "SELECT 1"
	}
	if cfg.Pool.TestOnBorrow == nil {
		t := true
		cfg.Pool.TestOnBorrow = &t
	}
	if cfg.Pool.ConnectTimeout == 0 {
		cfg.Pool.ConnectTimeout = 10 * time.Second
	}

	// Mapper and schema defaults
	if len(cfg.Mapper.Locations) == 0 {
		cfg.Mapper.Locations = []string{"sql/mapper/**/*.yaml"}
	}
	if len(cfg.Schema.Locations) == 0 {
		cfg.Schema.Locations = []string{"db/*.sql"}
	}
	if cfg.Schema.Enabled == nil {
		t := true
		cfg.Schema.Enabled = &t
	}
	if cfg.Resources.Root == "" {
		cfg.Resources.Root = "."
	}

	// Message source defaults
	if len(cfg.Messages.Basenames) == 0 {
		cfg.Messages.Basenames = []string{"messages/message", "messages/validation"}
	}
	if cfg.Messages.UseCodeAsDefault == nil {
		t := true
		cfg.Messages.UseCodeAsDefault = &t
	}

	// Locale defaults
	if cfg.Locale.Default == "" {
		cfg.Locale.Default = "ko"
	}
	if cfg.Locale.ParamName == "" {
		cfg.Locale.ParamName = "lang"
	}
	if cfg.Locale.CookieName == "" {
		cfg.Locale.CookieName = "CQWEB_LOCALE"
	}

	// Session defaults
	if cfg.Session.Paths == nil {
		cfg.Session.Paths = []string{"/work"}
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "CQWEB_SESSION"
	}
	if cfg.Session.Attribute == "" {
		cfg.Session.Attribute = "user"
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 30 * time.Minute
	}
	if cfg.Session.Backend == "" {
		if cfg.Session.RedisAddr != "" {
			cfg.Session.Backend = "redis"
		} else {
			cfg.Session.Backend = "memory"
		}
	}

	// Static and view defaults
	if cfg.Static.URLPrefix == "" {
		cfg.Static.URLPrefix = "/resources/"
	}
	if cfg.Static.Root == "" {
		cfg.Static.Root = "resources"
	}
	if cfg.View.Prefix == "" {
		cfg.View.Prefix = "views/"
	}
	if cfg.View.Suffix == "" {
		cfg.View.Suffix = ".html"
	}

	// Log defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	// Metrics defaults
	if cfg.Metrics.Port == 0 && cfg.Metrics.Enabled {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = cfg.Service.Name
	}

	// Tracing defaults
	if cfg.Tracing.SampleRate == 0 && cfg.Tracing.Enabled {
		cfg.Tracing.SampleRate = 0.1 // 10% sampling by default
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = cfg.Service.Name
	}
	if cfg.Tracing.Environment == "" {
		cfg.Tracing.Environment = cfg.Service.Env
	}
	if cfg.Tracing.ExportMode == "" {
		cfg.Tracing.ExportMode = "grpc"
	}
	if cfg.Tracing.BatchTimeout == 0 {
		cfg.Tracing.BatchTimeout = 5 * time.Second
	}
}
