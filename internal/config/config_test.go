package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/facescan/internal/constants"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if cfg.Faces.Threshold != 0.45 {
		t.Errorf("Faces.Threshold = %v; want 0.45", cfg.Faces.Threshold)
	}
	if cfg.Faces.MaxImageDimension != 1200 {
		t.Errorf("Faces.MaxImageDimension = %d; want 1200", cfg.Faces.MaxImageDimension)
	}
	if cfg.Scan.TTL != time.Hour {
		t.Errorf("Scan.TTL = %v; want 1h", cfg.Scan.TTL)
	}
	if cfg.Scan.MaxRetries != 3 {
		t.Errorf("Scan.MaxRetries = %d; want 3", cfg.Scan.MaxRetries)
	}
	if cfg.Worker.SoftTimeLimit != 360*time.Second || cfg.Worker.HardTimeLimit != 420*time.Second {
		t.Errorf("time limits = %v/%v; want 6m0s/7m0s", cfg.Worker.SoftTimeLimit, cfg.Worker.HardTimeLimit)
	}
	if cfg.Worker.DownloadTimeout != 120*time.Second || cfg.Worker.ConnectTimeout != 15*time.Second {
		t.Errorf("download timeouts = %v/%v", cfg.Worker.ConnectTimeout, cfg.Worker.DownloadTimeout)
	}
	if cfg.Reaper.StaleAfter != 0 {
		t.Errorf("Reaper.StaleAfter = %v; want disabled", cfg.Reaper.StaleAfter)
	}
	if len(cfg.Web.AllowedOrigins) != 1 || cfg.Web.AllowedOrigins[0] != "*" {
		t.Errorf("Web.AllowedOrigins = %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Google.RedirectURI != "http://localhost:3000/auth/callback" {
		t.Errorf("Google.RedirectURI = %q", cfg.Google.RedirectURI)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("WEB_PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FACE_MATCH_THRESHOLD", "0.6")
	t.Setenv("SCAN_TTL", "7200")
	t.Setenv("SOFT_TIME_LIMIT", "30s")
	t.Setenv("HARD_TIME_LIMIT", "45s")
	t.Setenv("REAPER_STALE_AFTER", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Redis.URL != "redis://cache:6379/2" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if cfg.Web.Addr() != "0.0.0.0:9000" {
		t.Errorf("Web.Addr() = %q", cfg.Web.Addr())
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Web.AllowedOrigins = %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Faces.Threshold != 0.6 {
		t.Errorf("Faces.Threshold = %v", cfg.Faces.Threshold)
	}
	if cfg.Scan.TTL != 2*time.Hour {
		t.Errorf("Scan.TTL = %v; want plain seconds parsed", cfg.Scan.TTL)
	}
	if cfg.Worker.SoftTimeLimit != 30*time.Second || cfg.Worker.HardTimeLimit != 45*time.Second {
		t.Errorf("time limits = %v/%v", cfg.Worker.SoftTimeLimit, cfg.Worker.HardTimeLimit)
	}
	if cfg.Reaper.StaleAfter != 10*time.Minute {
		t.Errorf("Reaper.StaleAfter = %v", cfg.Reaper.StaleAfter)
	}
}

func TestLoad_ZeroImageDimensionUsesDefault(t *testing.T) {
	t.Setenv("MAX_IMAGE_DIMENSION", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Faces.MaxImageDimension != constants.MaxImageDimension {
		t.Errorf("Faces.MaxImageDimension = %d; want %d", cfg.Faces.MaxImageDimension, constants.MaxImageDimension)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "lots")
	t.Setenv("FACE_MATCH_THRESHOLD", "-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Worker.Concurrency != 4 {
		t.Errorf("Worker.Concurrency = %d; want default 4", cfg.Worker.Concurrency)
	}
	if cfg.Faces.Threshold != 0.45 {
		t.Errorf("Faces.Threshold = %v; want default", cfg.Faces.Threshold)
	}
}

func TestLoad_ConfigFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facescan.yaml")
	content := "faces:\n  metric: cosine\n  threshold: 0.3\nworker:\n  concurrency: 8\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("WORKER_CONCURRENCY", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Faces.Metric != "cosine" || cfg.Faces.Threshold != 0.3 {
		t.Errorf("Faces = %+v; want file values", cfg.Faces)
	}
	if cfg.Worker.Concurrency != 2 {
		t.Errorf("Worker.Concurrency = %d; want env to win over file", cfg.Worker.Concurrency)
	}
	if cfg.Scan.MaxRetries != 3 {
		t.Errorf("Scan.MaxRetries = %d; want default kept", cfg.Scan.MaxRetries)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Error("expected error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"hard below soft", func(c *Config) { c.Worker.HardTimeLimit = c.Worker.SoftTimeLimit - time.Second }},
		{"zero workers", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"no redis", func(c *Config) { c.Redis.URL = "" }},
		{"zero ttl", func(c *Config) { c.Scan.TTL = 0 }},
		{"zero retry base delay", func(c *Config) { c.Scan.RetryBaseDelay = 0 }},
		{"negative retries", func(c *Config) { c.Scan.MaxRetries = -1 }},
		{"negative retry max delay", func(c *Config) { c.Scan.RetryMaxDelay = -time.Second }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatal(err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_ZeroRetryBaseDelayRejected(t *testing.T) {
	t.Setenv("RETRY_BASE_DELAY", "0")

	if _, err := Load(); err == nil {
		t.Error("expected error for RETRY_BASE_DELAY=0")
	}
}

func TestLoad_RetryMaxDelayFromEnv(t *testing.T) {
	t.Setenv("RETRY_MAX_DELAY", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scan.RetryMaxDelay != 30*time.Second {
		t.Errorf("Scan.RetryMaxDelay = %v; want 30s", cfg.Scan.RetryMaxDelay)
	}
}
