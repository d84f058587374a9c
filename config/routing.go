package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/vnmchuo/careerkit-gateway/internal/billing"
	"github.com/vnmchuo/careerkit-gateway/internal/orchestrator"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

// Routing holds the operator overrides for tiers, pricing and provider
// chains. Anything left out keeps the built-in defaults.
//
//	tiers:
//	  free:
//	    ai_call_limit: 5
//	pricing:
//	  openai:
//	    input_per_token: 0.00000015
//	chains:
//	  professional:
//	    analyze: [claude, gemini]
type Routing struct {
	Tiers   map[string]tier.Override       `mapstructure:"tiers"`
	Pricing map[string]billing.Pricing     `mapstructure:"pricing"`
	Chains  map[string]map[string][]string `mapstructure:"chains"`
}

// LoadRouting reads a YAML, TOML or JSON routing file. An empty path yields
// an empty Routing.
func LoadRouting(path string) (*Routing, error) {
	r := &Routing{}
	if path == "" {
		return r, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read routing file: %w", err)
	}
	if err := v.Unmarshal(r); err != nil {
		return nil, fmt.Errorf("decode routing file: %w", err)
	}
	return r, nil
}

// Catalog builds the effective tier catalog.
func (r *Routing) Catalog() (*tier.Catalog, error) {
	return tier.NewCatalog(r.Tiers)
}

// Estimator builds the cost estimator with pricing overrides applied.
func (r *Routing) Estimator() (*billing.Estimator, error) {
	return billing.NewEstimator(r.Pricing)
}

// ProviderChains builds the fallback chains per tier and operation.
func (r *Routing) ProviderChains() (orchestrator.Chains, error) {
	return orchestrator.NewChains(r.Chains)
}
