package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/careerkit-gateway/internal/provider"
)

func TestEstimate_ParsePages(t *testing.T) {
	e, err := NewEstimator(nil)
	require.NoError(t, err)

	est := e.Estimate(provider.OpExtractText, "ocrspace", 120*1024, 0)
	assert.Equal(t, 3, est.Units)
	assert.Equal(t, 0.001, est.UnitCost)
	assert.InDelta(t, 0.003, est.Total, 1e-12)

	tiny := e.Estimate(provider.OpExtractText, "ocrspace", 10, 0)
	assert.Equal(t, 1, tiny.Units, "parse estimate has a one page minimum")
}

func TestEstimate_Tokens(t *testing.T) {
	e, err := NewEstimator(nil)
	require.NoError(t, err)

	est := e.Estimate(provider.OpAnalyze, "claude", 4001, 4000)
	assert.Equal(t, 1001, est.PromptTokens)
	assert.Equal(t, 4000, est.CompletionTokens)
	assert.Equal(t, 5001, est.Units)
	assert.InDelta(t, 1001*0.0000008+4000*0.000004, est.Total, 1e-12)
	assert.InDelta(t, est.Total/5001, est.UnitCost, 1e-15)
}

func TestFinalize_UsesObservedUsage(t *testing.T) {
	e, err := NewEstimator(nil)
	require.NoError(t, err)

	est := e.Estimate(provider.OpAnalyze, "openai", 2000, 4000)
	cost := e.Finalize(est, provider.Usage{TokensIn: 500, TokensOut: 300})

	assert.InDelta(t, 500*0.00000015+300*0.0000006, cost, 1e-12)
	assert.Less(t, cost, est.Total)
}

func TestFinalize_FallsBackToEstimate(t *testing.T) {
	e, err := NewEstimator(nil)
	require.NoError(t, err)

	est := e.Estimate(provider.OpExtractText, "gemini", 60*1024, 0)
	assert.Equal(t, est.Total, e.Finalize(est, provider.Usage{TokensIn: 900}))
	assert.InDelta(t, 0.0005, e.Finalize(est, provider.Usage{Pages: 1}), 1e-12)
}

func TestNewEstimator_Overrides(t *testing.T) {
	e, err := NewEstimator(map[string]Pricing{
		"openai": {InputPerToken: 0.000001, OutputPerToken: 0.000002},
		"local":  {},
	})
	require.NoError(t, err)

	p, ok := e.PricingFor("openai")
	require.True(t, ok)
	assert.Equal(t, 0.000001, p.InputPerToken)

	est := e.Estimate(provider.OpAnalyze, "local", 100, 100)
	assert.Zero(t, est.Total)
	assert.Contains(t, e.Providers(), "local")

	_, err = NewEstimator(map[string]Pricing{"bad": {PerPage: -1}})
	assert.Error(t, err)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(0))
	assert.Equal(t, 1, EstimateTokens(1))
	assert.Equal(t, 1, EstimateTokens(4))
	assert.Equal(t, 2, EstimateTokens(5))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.LogUsage(ctx, &UsageLog{UserID: "u1", CostUSD: 0.5, CreatedAt: base}))
	require.NoError(t, s.LogUsage(ctx, &UsageLog{UserID: "u1", CostUSD: 0.25, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.LogUsage(ctx, &UsageLog{UserID: "u2", CostUSD: 9, CreatedAt: base}))

	logs, err := s.GetUsageByUser(ctx, "u1", base.Add(-time.Minute), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].CreatedAt.After(logs[1].CreatedAt), "newest first")
	assert.NotEmpty(t, logs[0].ID)

	total, err := s.GetTotalCostByUser(ctx, "u1", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.75, total, 1e-12)
}
