package config

import (
	"os"
	"testing"
	"time"
)

var allEnvVars = []string{
	"DNSFAILOVER_CONFIG",
	"DNSFAILOVER_LOG_LEVEL",
	"DNSFAILOVER_LOG_FORMAT",
	"DNSFAILOVER_HOSTNAME",
	"DNSFAILOVER_TUNNEL_ID",
	"DNSFAILOVER_FAILOVER_ADDRESS",
	"DNSFAILOVER_CDN_PREFIXES",
	"DNSFAILOVER_ZONE_ID",
	"DNSFAILOVER_RECORD_NAME",
	"DNSFAILOVER_API_TOKEN",
	"DNSFAILOVER_API_TOKEN_FILE",
	"DNSFAILOVER_API_BASE_URL",
	"DNSFAILOVER_NAMESPACE",
	"DNSFAILOVER_POD_LABEL_SELECTOR",
	"DNSFAILOVER_MIN_REPLICAS",
	"DNSFAILOVER_STATE_CONFIGMAP_NAME",
	"DNSFAILOVER_TUNNEL_HEALTH_URL",
	"DNSFAILOVER_KUBECONFIG",
	"DNSFAILOVER_STABILIZATION_FAILOVER",
	"DNSFAILOVER_STABILIZATION_FAILBACK",
	"DNSFAILOVER_MAX_FAILOVERS_24H",
	"DNSFAILOVER_DRY_RUN",
	"DNSFAILOVER_RECONCILE_INTERVAL",
	"DNSFAILOVER_HEALTH_PORT",
	"DNSFAILOVER_RATE_LIMIT",
	"DNSFAILOVER_RATE_BURST",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range allEnvVars {
		os.Unsetenv(v)
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	os.Setenv("DNSFAILOVER_HOSTNAME", "app.example.com")
	os.Setenv("DNSFAILOVER_TUNNEL_ID", "11111111-2222-3333-4444-555555555555")
	os.Setenv("DNSFAILOVER_FAILOVER_ADDRESS", "203.0.113.9")
	os.Setenv("DNSFAILOVER_ZONE_ID", "zone123")
	os.Setenv("DNSFAILOVER_RECORD_NAME", "app")
	os.Setenv("DNSFAILOVER_API_TOKEN", "token123")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.StabilizationFailover != DefaultStabilizationFailover {
		t.Errorf("StabilizationFailover = %v, want %v", cfg.StabilizationFailover, DefaultStabilizationFailover)
	}
	if cfg.MaxFailovers24h != DefaultMaxFailovers24h {
		t.Errorf("MaxFailovers24h = %d, want %d", cfg.MaxFailovers24h, DefaultMaxFailovers24h)
	}
	if cfg.HealthPort != DefaultHealthPort {
		t.Errorf("HealthPort = %d, want %d", cfg.HealthPort, DefaultHealthPort)
	}
}

func TestLoad_MissingRequiredFieldsFails(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when required fields are missing")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Errors) == 0 {
		t.Error("expected at least one validation error")
	}
}

func TestLoad_InvalidFailoverAddressFails(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	os.Setenv("DNSFAILOVER_FAILOVER_ADDRESS", "not-an-ip")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid failover address")
	}
}

func TestLoad_InvalidDurationFails(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	os.Setenv("DNSFAILOVER_STABILIZATION_FAILOVER", "not-a-duration")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoad_EnvOverridesFileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	dir := t.TempDir()
	path := dir + "/config.yaml"
	if err := os.WriteFile(path, []byte("engine:\n  max_failovers_24h: 7\n  reconcile_interval: 45s\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	os.Setenv("DNSFAILOVER_CONFIG", path)
	os.Setenv("DNSFAILOVER_RECONCILE_INTERVAL", "15s") // env should win over file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxFailovers24h != 7 {
		t.Errorf("MaxFailovers24h = %d, want 7 (from file)", cfg.MaxFailovers24h)
	}
	if cfg.ReconcileInterval != 15*time.Second {
		t.Errorf("ReconcileInterval = %v, want 15s (env override)", cfg.ReconcileInterval)
	}
}

func TestLoad_APITokenFromFile(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	os.Unsetenv("DNSFAILOVER_API_TOKEN")

	dir := t.TempDir()
	path := dir + "/token"
	if err := os.WriteFile(path, []byte("  secret-token\n"), 0o600); err != nil {
		t.Fatalf("writing token file: %v", err)
	}
	os.Setenv("DNSFAILOVER_API_TOKEN_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIToken != "secret-token" {
		t.Errorf("APIToken = %q, want %q", cfg.APIToken, "secret-token")
	}
}
