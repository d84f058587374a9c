package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vnmchuo/careerkit-gateway/internal/provider"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/careerkit")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.ProviderTimeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", cfg.ProviderTimeout)
	}
	if cfg.StorageBackend != "local" || cfg.FingerprintBackend != "postgres" {
		t.Errorf("unexpected backends %s/%s", cfg.StorageBackend, cfg.FingerprintBackend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PROVIDER_TIMEOUT", "soon"},
		{"PROVIDER_TIMEOUT", "-1s"},
		{"DEFAULT_RATE_LIMIT_TPM", "lots"},
		{"LOG_JSON", "maybe"},
		{"STORAGE_BACKEND", "ftp"},
		{"FINGERPRINT_BACKEND", "memcached"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestValidate_RequiresConnections(t *testing.T) {
	cfg := &Config{RedisAddr: "localhost:6379", StorageBackend: "local"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without POSTGRES_DSN")
	}

	cfg = &Config{PostgresDSN: "postgres://x", RedisAddr: "r", StorageBackend: "s3"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for s3 without bucket")
	}
}

func TestLoadRouting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	content := `
tiers:
  free:
    ai_call_limit: 5
pricing:
  openai:
    input_per_token: 0.000001
    output_per_token: 0.000002
chains:
  professional:
    analyze: [gemini, claude]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := LoadRouting(path)
	if err != nil {
		t.Fatalf("LoadRouting: %v", err)
	}

	catalog, err := r.Catalog()
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	free := catalog.LimitsFor(tier.Free)
	if free.AICallLimit != 5 {
		t.Errorf("expected ai call limit 5, got %d", free.AICallLimit)
	}
	if free.ParsingLimit != 1 {
		t.Errorf("expected default parsing limit to survive, got %d", free.ParsingLimit)
	}

	est, err := r.Estimator()
	if err != nil {
		t.Fatalf("Estimator: %v", err)
	}
	if p, _ := est.PricingFor("openai"); p.OutputPerToken != 0.000002 {
		t.Errorf("unexpected openai pricing %+v", p)
	}

	chains, err := r.ProviderChains()
	if err != nil {
		t.Fatalf("ProviderChains: %v", err)
	}
	got := chains.For(tier.Professional, provider.OpAnalyze)
	if len(got) != 2 || got[0] != "gemini" {
		t.Errorf("unexpected chain %v", got)
	}
}

func TestLoadRouting_EmptyPath(t *testing.T) {
	r, err := LoadRouting("")
	if err != nil {
		t.Fatalf("LoadRouting: %v", err)
	}
	if _, err := r.Catalog(); err != nil {
		t.Errorf("Catalog: %v", err)
	}
}

func TestLoadRouting_UnknownTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.json")
	if err := os.WriteFile(path, []byte(`{"tiers":{"platinum":{"ai_call_limit":1}}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := LoadRouting(path)
	if err != nil {
		t.Fatalf("LoadRouting: %v", err)
	}
	if _, err := r.Catalog(); err == nil {
		t.Error("expected error for unknown tier")
	}
}
