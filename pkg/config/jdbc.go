package config

import (
	"fmt"
	"net/url"
	"strings"
)

// supportedDrivers are the driver class names accepted in jdbc.driverClassName.
// All of them resolve to the pgx PostgreSQL driver.
var supportedDrivers = map[string]bool{
	"org.postgresql.Driver": true,
	"postgres":              true,
	"postgresql":            true,
	"pgx":                   true,
}

// IsSupportedDriver reports whether the driver class name can be served.
func IsSupportedDriver(name string) bool {
	return supportedDrivers[name]
}

// ConnString converts the JDBC settings into a pgx connection URL.
// Both "jdbc:postgresql://host:port/db" and plain "postgres://..." URLs are
// accepted. Username and password override credentials embedded in the URL.
func (c JDBCConfig) ConnString() (string, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(c.URL), "jdbc:")
	if raw == "" {
		return "", fmt.Errorf("jdbc.url is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid jdbc.url: %w", err)
	}
	if u.Scheme != "postgresql" && u.Scheme != "postgres" {
		return "", fmt.Errorf("unsupported jdbc.url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("jdbc.url has no host")
	}

	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}

	return u.String(), nil
}
