package orchestrator

import (
	"fmt"

	"github.com/vnmchuo/careerkit-gateway/internal/provider"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

// Chains is the ordered fallback list of provider names per tier and
// operation.
type Chains map[tier.ID]map[provider.Operation][]string

func DefaultChains() Chains {
	parse := []string{"ocrspace", "gemini"}
	budget := []string{"gemini", "openai"}
	premium := []string{"claude", "openai", "gemini"}

	chains := Chains{}
	for _, id := range []tier.ID{tier.Free, tier.Starter} {
		chains[id] = map[provider.Operation][]string{
			provider.OpExtractText: parse,
			provider.OpAnalyze:     budget,
			provider.OpCoverLetter: budget,
		}
	}
	for _, id := range []tier.ID{tier.Professional, tier.CareerPro, tier.Elite} {
		chains[id] = map[provider.Operation][]string{
			provider.OpExtractText: parse,
			provider.OpAnalyze:     premium,
			provider.OpCoverLetter: premium,
		}
	}
	return chains
}

// NewChains applies overrides keyed by tier id and operation name on top of
// the defaults.
func NewChains(overrides map[string]map[string][]string) (Chains, error) {
	chains := DefaultChains()
	for rawTier, ops := range overrides {
		id, ok := tier.Parse(rawTier)
		if !ok {
			return nil, fmt.Errorf("chains: unknown tier %q", rawTier)
		}
		for rawOp, names := range ops {
			op := provider.Operation(rawOp)
			if !op.Valid() {
				return nil, fmt.Errorf("chains: unknown operation %q for tier %s", rawOp, id)
			}
			if len(names) == 0 {
				return nil, fmt.Errorf("chains: empty chain for %s/%s", id, op)
			}
			if chains[id] == nil {
				chains[id] = map[provider.Operation][]string{}
			}
			chains[id][op] = append([]string(nil), names...)
		}
	}
	return chains, nil
}

// For returns the chain for tierID and op. Unknown tiers get the free chain.
func (c Chains) For(tierID tier.ID, op provider.Operation) []string {
	if ops, ok := c[tierID]; ok {
		if names, ok := ops[op]; ok {
			return names
		}
	}
	return c[tier.Free][op]
}
