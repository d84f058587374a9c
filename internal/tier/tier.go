// Package tier holds the subscription tier catalog and its per-period quotas.
package tier

import (
	"fmt"
	"sort"
	"strings"
)

type ID string

const (
	Free         ID = "free"
	Starter      ID = "starter"
	Professional ID = "professional"
	CareerPro    ID = "career-pro"
	Elite        ID = "elite"
)

// Unlimited marks a limit or ceiling that is never enforced.
const Unlimited = -1

// Definition is the immutable quota table entry for one tier.
type Definition struct {
	ID                  ID       `json:"tierId"`
	DisplayName         string   `json:"displayName"`
	ParsingLimit        int      `json:"parsingLimitPerPeriod"`
	AICallLimit         int      `json:"aiCallLimitPerPeriod"`
	MaxTokensPerRequest int      `json:"maxTokensPerRequest"`
	CostCeiling         float64  `json:"costCeiling"`
	Features            []string `json:"features"`
}

// Override replaces individual fields of a built-in tier. Nil fields keep the default.
type Override struct {
	ParsingLimit *int     `mapstructure:"parsing_limit"`
	AICallLimit  *int     `mapstructure:"ai_call_limit"`
	MaxTokens    *int     `mapstructure:"max_tokens"`
	CostCeiling  *float64 `mapstructure:"cost_ceiling"`
}

var order = []ID{Free, Starter, Professional, CareerPro, Elite}

func defaults() map[ID]Definition {
	return map[ID]Definition{
		Free: {
			ID: Free, DisplayName: "Free",
			ParsingLimit: 1, AICallLimit: 3, MaxTokensPerRequest: 1000, CostCeiling: 0.25,
			Features: []string{"cv_parsing", "cv_analysis"},
		},
		Starter: {
			ID: Starter, DisplayName: "Starter",
			ParsingLimit: 5, AICallLimit: 20, MaxTokensPerRequest: 2000, CostCeiling: 2,
			Features: []string{"cv_parsing", "cv_analysis", "cover_letter"},
		},
		Professional: {
			ID: Professional, DisplayName: "Professional",
			ParsingLimit: 20, AICallLimit: 50, MaxTokensPerRequest: 4000, CostCeiling: 10,
			Features: []string{"cv_parsing", "cv_analysis", "cover_letter", "job_match", "premium_models"},
		},
		CareerPro: {
			ID: CareerPro, DisplayName: "Career Pro",
			ParsingLimit: 50, AICallLimit: 150, MaxTokensPerRequest: 8000, CostCeiling: 25,
			Features: []string{"cv_parsing", "cv_analysis", "cover_letter", "job_match", "premium_models", "interview_coaching"},
		},
		Elite: {
			ID: Elite, DisplayName: "Elite",
			ParsingLimit: Unlimited, AICallLimit: Unlimited, MaxTokensPerRequest: 16000, CostCeiling: Unlimited,
			Features: []string{"cv_parsing", "cv_analysis", "cover_letter", "job_match", "premium_models", "interview_coaching", "priority_routing"},
		},
	}
}

// Catalog is read-only after construction and safe for concurrent use.
type Catalog struct {
	defs map[ID]Definition
}

// DefaultCatalog returns the built-in tiers with no overrides applied.
func DefaultCatalog() *Catalog {
	return &Catalog{defs: defaults()}
}

// NewCatalog applies overrides keyed by tier id on top of the built-in tiers.
func NewCatalog(overrides map[string]Override) (*Catalog, error) {
	defs := defaults()

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		id, ok := Parse(key)
		if !ok {
			return nil, fmt.Errorf("tier override for unknown tier %q", key)
		}
		def := defs[id]
		o := overrides[key]
		if o.ParsingLimit != nil {
			def.ParsingLimit = *o.ParsingLimit
		}
		if o.AICallLimit != nil {
			def.AICallLimit = *o.AICallLimit
		}
		if o.MaxTokens != nil {
			def.MaxTokensPerRequest = *o.MaxTokens
		}
		if o.CostCeiling != nil {
			def.CostCeiling = *o.CostCeiling
		}
		if err := def.validate(); err != nil {
			return nil, err
		}
		defs[id] = def
	}

	return &Catalog{defs: defs}, nil
}

func (d Definition) validate() error {
	if d.ParsingLimit < Unlimited {
		return fmt.Errorf("tier %s: parsing limit must be -1 or >= 0, got %d", d.ID, d.ParsingLimit)
	}
	if d.AICallLimit < Unlimited {
		return fmt.Errorf("tier %s: ai call limit must be -1 or >= 0, got %d", d.ID, d.AICallLimit)
	}
	if d.MaxTokensPerRequest <= 0 {
		return fmt.Errorf("tier %s: max tokens must be positive, got %d", d.ID, d.MaxTokensPerRequest)
	}
	if d.CostCeiling < 0 && d.CostCeiling != Unlimited {
		return fmt.Errorf("tier %s: cost ceiling must be -1 or >= 0, got %v", d.ID, d.CostCeiling)
	}
	return nil
}

// LimitsFor never fails: unknown tiers get the free tier's limits.
func (c *Catalog) LimitsFor(id ID) Definition {
	if def, ok := c.defs[id]; ok {
		return def.clone()
	}
	return c.defs[Free].clone()
}

// Lookup reports whether id names a known tier.
func (c *Catalog) Lookup(id ID) (Definition, bool) {
	def, ok := c.defs[id]
	if !ok {
		return Definition{}, false
	}
	return def.clone(), true
}

// All returns every tier in ascending order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, 0, len(order))
	for _, id := range order {
		out = append(out, c.defs[id].clone())
	}
	return out
}

func (d Definition) clone() Definition {
	d.Features = append([]string(nil), d.Features...)
	return d
}

// IsUnlimited reports whether the given per-period limit is unbounded.
func IsUnlimited(limit int) bool {
	return limit == Unlimited
}

// Parse normalizes a raw tier id ("Career_Pro", " ELITE ") and reports whether it is known.
func Parse(raw string) (ID, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	if s == "careerpro" {
		s = string(CareerPro)
	}
	for _, id := range order {
		if ID(s) == id {
			return id, true
		}
	}
	return ID(s), false
}

// Resolve is Parse with the fail-safe default: anything unrecognized is free.
func Resolve(raw string) ID {
	id, ok := Parse(raw)
	if !ok {
		return Free
	}
	return id
}
