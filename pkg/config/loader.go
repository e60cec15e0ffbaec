package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// secretKeys usually live only in .properties files or the environment. They
// are bound explicitly so CQWEB_JDBC_PASSWORD and friends apply even when no
// file mentions the key.
var secretKeys = []string{
	"jdbc.driverClassName",
	"jdbc.url",
	"jdbc.username",
	"jdbc.password",
	"session.redis_addr",
	"session.redis_password",
}

// Load assembles a Config from, in increasing precedence: configPath (YAML
// or JSON, optional), each property file in order, and environment
// variables named <envPrefix>_<KEY> with dots replaced by underscores.
// Defaults are applied before validation. A missing property file is an
// error.
func Load(configPath, envPrefix string, propertyFiles ...string) (*Config, error) {
	v, err := newViper(envPrefix)
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	for _, path := range propertyFiles {
		props, err := readPropertiesFile(path)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(props); err != nil {
			return nil, fmt.Errorf("merge properties %s: %w", path, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newViper(envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return v, nil
}

// MustLoad is Load for main packages; it panics on error.
func MustLoad(configPath, envPrefix string, propertyFiles ...string) *Config {
	cfg, err := Load(configPath, envPrefix, propertyFiles...)
	if err != nil {
		panic("config: " + err.Error())
	}
	return cfg
}

// LoadFromEnv reads configuration from the environment alone.
func LoadFromEnv(envPrefix string) (*Config, error) {
	return Load("", envPrefix)
}
