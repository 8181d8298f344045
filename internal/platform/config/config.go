// Package config loads daemon configuration from defaults layered under
// AUDITD_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "AUDITD_"

type Config struct {
	HTTPAddr    string `koanf:"http_addr"`
	MetricsAddr string `koanf:"metrics_addr"`
	Version     string `koanf:"version"`
	LogLevel    string `koanf:"log_level"`

	// DatabaseURL empty means the in-memory store, for local runs and tests.
	DatabaseURL string `koanf:"database_url"`

	// RedisAddr empty disables the report cache.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	CacheTTLSecs  int    `koanf:"cache_ttl_secs"`

	JWTSecret string `koanf:"jwt_secret"`
	// ServiceCredHash is a bcrypt hash accepted as HTTP basic-auth fallback
	// for append-only service accounts (generate with cmd/credhash).
	ServiceCredHash string `koanf:"service_cred_hash"`
	ServiceCredUser string `koanf:"service_cred_user"`

	TrustedCIDRs string `koanf:"trusted_cidrs"`

	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`

	TLSEnabled           bool   `koanf:"tls_enabled"`
	TLSCertFile          string `koanf:"tls_cert_file"`
	TLSKeyFile           string `koanf:"tls_key_file"`
	TLSClientCAFile      string `koanf:"tls_client_ca_file"`
	TLSRequireClientCert bool   `koanf:"tls_require_client_cert"`
}

func defaults() Config {
	return Config{
		HTTPAddr:           ":8080",
		MetricsAddr:        ":9090",
		Version:            "dev",
		LogLevel:           "info",
		CacheTTLSecs:       300,
		ServiceCredUser:    "auditd-service",
		TrustedCIDRs:       "127.0.0.1/32,::1/128",
		RateLimitPerMinute: 600,
	}
}

// Load resolves configuration with environment variables taking precedence
// over built-in defaults: AUDITD_HTTP_ADDR -> http_addr.
func Load() (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load config defaults: %w", err)
	}

	envProvider := env.Provider(envPrefix, ".", func(key string) string {
		return strings.ToLower(strings.TrimPrefix(key, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("config: http_addr must not be empty")
	}
	if c.TLSEnabled && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return fmt.Errorf("config: tls enabled but cert/key not configured")
	}
	if c.CacheTTLSecs < 0 {
		return fmt.Errorf("config: cache_ttl_secs must not be negative")
	}
	return nil
}

// TrustedCIDRList splits the comma-separated trusted networks.
func (c Config) TrustedCIDRList() []string {
	parts := strings.Split(c.TrustedCIDRs, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
