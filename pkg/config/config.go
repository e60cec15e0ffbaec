// Package config provides configuration management for cqweb applications.
// Configuration is read from a YAML or JSON file, merged with Java-style
// .properties files (the jdbc.* and path keys), and finally overridden by
// environment variables. Defaults are applied and the result is validated.
//
// Example usage:
//
//	cfg, err := config.Load("config.yaml", "CQWEB",
//	    "configuration/db.properties", "configuration/path.properties")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Or panic on error:
//	cfg := config.MustLoad("config.yaml", "CQWEB")
package config

import (
	"time"
)

// Config represents the complete configuration for a cqweb application.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Server    ServerConfig    `mapstructure:"server"`
	JDBC      JDBCConfig      `mapstructure:"jdbc"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Mapper    MapperConfig    `mapstructure:"mapper"`
	Schema    SchemaConfig    `mapstructure:"schema"`
	Resources ResourcesConfig `mapstructure:"resources"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Locale    LocaleConfig    `mapstructure:"locale"`
	Session   SessionConfig   `mapstructure:"session"`
	Static    StaticConfig    `mapstructure:"static"`
	View      ViewConfig      `mapstructure:"view"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServiceConfig contains general service information.
type ServiceConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env"` // development, staging, production
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`

	// RequestTimeout bounds a single dispatch. When it elapses the in-flight
	// statement is cancelled and its transaction rolled back. 0 disables it.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// JDBCConfig carries the connection keys of the db.properties file.
// The names are kept as they appear there (jdbc.driverClassName, jdbc.url, ...).
type JDBCConfig struct {
	DriverClassName string `mapstructure:"driverClassName"`
	URL             string `mapstructure:"url"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
}

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxOpen         int           `mapstructure:"max_open"`
	MaxIdle         int           `mapstructure:"max_idle"`
	MinIdle         int           `mapstructure:"min_idle"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	ValidationQuery string        `mapstructure:"validation_query"`
	TestOnBorrow    *bool         `mapstructure:"test_on_borrow"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// MapperConfig lists the statement mapper file patterns.
type MapperConfig struct {
	Locations []string `mapstructure:"locations"`
}

// SchemaConfig controls the startup schema initializer.
type SchemaConfig struct {
	Enabled           *bool    `mapstructure:"enabled"`
	Locations         []string `mapstructure:"locations"`
	IgnoreFailedDrops bool     `mapstructure:"ignore_failed_drops"`
	ContinueOnError   bool     `mapstructure:"continue_on_error"`
}

// ResourcesConfig points at the directory all resource patterns are relative to.
type ResourcesConfig struct {
	Root string `mapstructure:"root"`
}

// MessagesConfig configures the message source.
type MessagesConfig struct {
	Basenames        []string `mapstructure:"basenames"`
	UseCodeAsDefault *bool    `mapstructure:"use_code_as_default"`
	Watch            bool     `mapstructure:"watch"` // reload bundles when files change
}

// LocaleConfig configures locale resolution.
type LocaleConfig struct {
	Default      string        `mapstructure:"default"`
	ParamName    string        `mapstructure:"param_name"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieMaxAge time.Duration `mapstructure:"cookie_max_age"` // 0 means a browser-session cookie
}

// SessionConfig configures session-gated paths and the session store.
type SessionConfig struct {
	Paths      []string      `mapstructure:"paths"`
	CookieName string        `mapstructure:"cookie_name"`
	Attribute  string        `mapstructure:"attribute"` // marker attribute that must be present
	LoginPath  string        `mapstructure:"login_path"`
	TTL        time.Duration `mapstructure:"ttl"`

	// Backend is the session store: "memory" or "redis".
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// StaticConfig maps a URL prefix to a directory of static assets.
type StaticConfig struct {
	URLPrefix string `mapstructure:"url_prefix"`
	Root      string `mapstructure:"root"`
}

// ViewConfig configures template view resolution (prefix + name + suffix).
type ViewConfig struct {
	Prefix string `mapstructure:"prefix"`
	Suffix string `mapstructure:"suffix"`
}

// LogConfig contains structured logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, stderr
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"` // Metric prefix
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Endpoint     string        `mapstructure:"endpoint"`      // OTLP endpoint (e.g., "localhost:4317")
	SampleRate   float64       `mapstructure:"sample_rate"`   // 0.0 to 1.0
	ServiceName  string        `mapstructure:"service_name"`  // Override service name for traces
	Environment  string        `mapstructure:"environment"`   // Environment tag
	ExportMode   string        `mapstructure:"export_mode"`   // "grpc" or "http"
	Insecure     bool          `mapstructure:"insecure"`      // Use insecure connection
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // Batch export timeout
}

// BoolValue dereferences an optional flag, returning def when it is unset.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
