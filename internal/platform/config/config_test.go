package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Fatalf("metrics addr = %q", cfg.MetricsAddr)
	}
	if cfg.CacheTTLSecs != 300 {
		t.Fatalf("cache ttl = %d", cfg.CacheTTLSecs)
	}
	if cfg.RateLimitPerMinute != 600 {
		t.Fatalf("rate limit = %d", cfg.RateLimitPerMinute)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUDITD_HTTP_ADDR", ":9999")
	t.Setenv("AUDITD_LOG_LEVEL", "debug")
	t.Setenv("AUDITD_DATABASE_URL", "postgres://localhost/audit")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
	if cfg.DatabaseURL != "postgres://localhost/audit" {
		t.Fatalf("database url = %q", cfg.DatabaseURL)
	}
}

func TestValidateRejectsBadTLS(t *testing.T) {
	t.Setenv("AUDITD_TLS_ENABLED", "true")
	if _, err := Load(); err == nil {
		t.Fatalf("expected tls validation error without cert/key")
	}
}

func TestTrustedCIDRList(t *testing.T) {
	c := Config{TrustedCIDRs: "10.0.0.0/8, 192.168.1.0/24,,  "}
	got := c.TrustedCIDRList()
	if len(got) != 2 || got[0] != "10.0.0.0/8" || got[1] != "192.168.1.0/24" {
		t.Fatalf("cidr list = %v", got)
	}
}
