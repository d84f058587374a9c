package billing

import (
	"fmt"
	"math"
	"sort"

	"github.com/vnmchuo/careerkit-gateway/internal/provider"
)

// CharsPerToken is the heuristic used before a provider reports real usage.
const CharsPerToken = 4

// Pricing is per-provider unit cost in USD. Extraction is billed per page,
// text generation per token.
type Pricing struct {
	InputPerToken  float64 `mapstructure:"input_per_token" json:"inputPerToken"`
	OutputPerToken float64 `mapstructure:"output_per_token" json:"outputPerToken"`
	PerPage        float64 `mapstructure:"per_page" json:"perPage"`
}

func DefaultPricing() map[string]Pricing {
	return map[string]Pricing{
		"openai":   {InputPerToken: 0.00000015, OutputPerToken: 0.0000006},
		"claude":   {InputPerToken: 0.0000008, OutputPerToken: 0.000004},
		"gemini":   {InputPerToken: 0.000000125, OutputPerToken: 0.000000375, PerPage: 0.0005},
		"ocrspace": {PerPage: 0.001},
	}
}

// CostEstimate is the pre-call prediction for one provider attempt.
type CostEstimate struct {
	Op       provider.Operation `json:"op"`
	Provider string             `json:"provider"`
	Units    int                `json:"units"`
	UnitCost float64            `json:"unitCost"`
	Total    float64            `json:"total"`

	PromptTokens     int `json:"promptTokens,omitempty"`
	CompletionTokens int `json:"completionTokens,omitempty"`
}

type Estimator struct {
	pricing map[string]Pricing
}

// NewEstimator returns an estimator over the default price table. Entries in
// overrides replace the default for that provider.
func NewEstimator(overrides map[string]Pricing) (*Estimator, error) {
	pricing := DefaultPricing()
	for name, p := range overrides {
		if p.InputPerToken < 0 || p.OutputPerToken < 0 || p.PerPage < 0 {
			return nil, fmt.Errorf("pricing for %q: unit costs must not be negative", name)
		}
		pricing[name] = p
	}
	return &Estimator{pricing: pricing}, nil
}

func (e *Estimator) PricingFor(providerName string) (Pricing, bool) {
	p, ok := e.pricing[providerName]
	return p, ok
}

func (e *Estimator) Providers() []string {
	names := make([]string, 0, len(e.pricing))
	for n := range e.pricing {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Estimate predicts the cost of calling providerName for op. For extraction,
// inputSize is the document size in bytes and units are pages. For text
// generation, inputSize is the prompt length and units are prompt tokens plus
// the completion ceiling.
func (e *Estimator) Estimate(op provider.Operation, providerName string, inputSize, completionCeiling int) CostEstimate {
	p := e.pricing[providerName]
	est := CostEstimate{Op: op, Provider: providerName}

	if op == provider.OpExtractText {
		est.Units = provider.PagesForSize(inputSize)
		est.UnitCost = p.PerPage
		est.Total = float64(est.Units) * p.PerPage
		return est
	}

	est.PromptTokens = EstimateTokens(inputSize)
	est.CompletionTokens = max(completionCeiling, 0)
	est.Units = est.PromptTokens + est.CompletionTokens
	est.Total = float64(est.PromptTokens)*p.InputPerToken + float64(est.CompletionTokens)*p.OutputPerToken
	if est.Units > 0 {
		est.UnitCost = est.Total / float64(est.Units)
	}
	return est
}

// Finalize prices the call from what the provider reported. When the provider
// reported nothing for the relevant unit, the estimate stands.
func (e *Estimator) Finalize(est CostEstimate, used provider.Usage) float64 {
	p := e.pricing[est.Provider]

	if est.Op == provider.OpExtractText {
		if used.Pages <= 0 {
			return est.Total
		}
		return float64(used.Pages) * p.PerPage
	}

	if used.TokensIn == 0 && used.TokensOut == 0 {
		return est.Total
	}
	return float64(used.TokensIn)*p.InputPerToken + float64(used.TokensOut)*p.OutputPerToken
}

// EstimateTokens approximates the token count of n characters of text.
func EstimateTokens(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / CharsPerToken))
}
