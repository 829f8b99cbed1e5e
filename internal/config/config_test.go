package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "collab_hub" {
		t.Errorf("Database.Name = %s, want collab_hub", cfg.Database.Name)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("Database.SSLMode = %s, want require", cfg.Database.SSLMode)
	}
	if !cfg.Security.RateLimiting.Enabled {
		t.Error("rate limiting disabled by default")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %s, want json", cfg.Logging.Format)
	}
	if cfg.Telemetry.Metrics.PrometheusPort != 9090 {
		t.Errorf("PrometheusPort = %d, want 9090", cfg.Telemetry.Metrics.PrometheusPort)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COLLAB_DATABASE_HOST", "db.internal")
	t.Setenv("COLLAB_SERVER_PORT", "9000")
	t.Setenv("COLLAB_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %s, want db.internal", cfg.Database.Host)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 8181
database:
  name: hub_test
  user: tester
logging:
  level: warn
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("Server.Port = %d, want 8181", cfg.Server.Port)
	}
	if cfg.Database.Name != "hub_test" {
		t.Errorf("Database.Name = %s, want hub_test", cfg.Database.Name)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %s, want warn", cfg.Logging.Level)
	}
}

func TestValidate_Errors(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cfg := base()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid port")
	}

	cfg = base()
	cfg.Database.Name = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty database name")
	}

	cfg = base()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown logging level")
	}

	cfg = base()
	cfg.Audit.Webhook.Enabled = true
	cfg.Audit.Webhook.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for webhook without URL")
	}
}

func TestGetDSN(t *testing.T) {
	dbCfg := DatabaseConfig{
		Host: "localhost", Port: 5432, Name: "collab_hub",
		User: "collab", Password: "secret", SSLMode: "disable",
	}
	want := "host=localhost port=5432 user=collab password=secret dbname=collab_hub sslmode=disable"
	if got := dbCfg.GetDSN(); got != want {
		t.Errorf("GetDSN = %q, want %q", got, want)
	}
}
