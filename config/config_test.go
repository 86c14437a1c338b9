package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `equityflow:
  name: "TestApp"
  version: "1.0"
channels:
  raw_buffer: 1
  batch_buffer: 1
reader:
  timeout: 5s
  page_limit: 100
  rate_limit:
    requests_per_minute: 60
    cooldown: 1s
processor:
  max_workers: 1
writer:
  max_workers: 1
storage:
  s3:
    enabled: false
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Equityflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Equityflow.Name)
	}
	if cfg.Reader.Timeout != 5*time.Second {
		t.Errorf("unexpected timeout: %v", cfg.Reader.Timeout)
	}
	if cfg.Reader.PageLimit != 100 {
		t.Errorf("unexpected page limit: %d", cfg.Reader.PageLimit)
	}
	if cfg.Reader.RateLimit.RequestsPerMinute != 60 {
		t.Errorf("unexpected rate limit: %d", cfg.Reader.RateLimit.RequestsPerMinute)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("does/not/exist.yml")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Reader.PageLimit != 25000 {
		t.Errorf("unexpected default page limit: %d", cfg.Reader.PageLimit)
	}
	if cfg.Reader.RateLimit.RequestsPerMinute != 150 {
		t.Errorf("unexpected default rate limit: %d", cfg.Reader.RateLimit.RequestsPerMinute)
	}
	if cfg.Reader.BaseURL == "" {
		t.Error("default base URL is empty")
	}
}

func TestLoadConfigAPIKeyFromEnv(t *testing.T) {
	t.Setenv("FINNHUB_API_KEY", "  token-from-env ")

	cfg, err := LoadConfig("does/not/exist.yml")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Reader.APIKey != "token-from-env" {
		t.Errorf("unexpected api key: %q", cfg.Reader.APIKey)
	}
}

func TestLoadShards(t *testing.T) {
	content := `shards:
- ip: "1.1.1.1"
  symbols: ["AAPL", "MSFT"]
- ip: "2.2.2.2"
  symbols: ["SPY"]
`
	f, err := os.CreateTemp("", "shards-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	defer os.Remove(f.Name())

	shards, err := LoadShards(f.Name())
	if err != nil {
		t.Fatalf("LoadShards failed: %v", err)
	}
	if len(shards.Shards) != 2 {
		t.Fatalf("expected 2 shards, got %d", len(shards.Shards))
	}
	if shards.Shards[0].IP != "1.1.1.1" {
		t.Errorf("unexpected IP: %s", shards.Shards[0].IP)
	}
	if len(shards.Shards[1].Symbols) != 1 || shards.Shards[1].Symbols[0] != "SPY" {
		t.Errorf("unexpected symbols: %v", shards.Shards[1].Symbols)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
