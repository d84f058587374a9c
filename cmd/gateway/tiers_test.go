package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/vnmchuo/careerkit-gateway/internal/billing"
)

func TestTiersCmd_PrintsPricing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	routing := "pricing:\n  openai:\n    input_per_token: 0.000001\n    output_per_token: 0.000002\n"
	if err := os.WriteFile(path, []byte(routing), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	cmd := newTiersCmd()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--routing", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("tiers: %v", err)
	}

	var out struct {
		Tiers   []json.RawMessage          `json:"tiers"`
		Pricing map[string]billing.Pricing `json:"pricing"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(out.Tiers) == 0 {
		t.Error("expected tiers in output")
	}
	if got := out.Pricing["openai"].InputPerToken; got != 0.000001 {
		t.Errorf("expected overridden openai pricing, got %v", got)
	}
	if got := out.Pricing["ocrspace"].PerPage; got != 0.001 {
		t.Errorf("expected default ocrspace pricing, got %v", got)
	}
}
