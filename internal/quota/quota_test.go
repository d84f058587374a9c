package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/careerkit-gateway/internal/ledger"
	"github.com/vnmchuo/careerkit-gateway/internal/metrics"
	"github.com/vnmchuo/careerkit-gateway/internal/provider"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

func newGate() (*Gate, *ledger.Ledger) {
	now := func() time.Time { return time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC) }
	l := ledger.New(ledger.NewMemoryStore(), tier.DefaultCatalog(), ledger.WithClock(now))
	return NewGate(l, nil), l
}

func TestCounterFor(t *testing.T) {
	assert.Equal(t, ledger.CounterParsing, CounterFor(provider.OpExtractText))
	assert.Equal(t, ledger.CounterAICall, CounterFor(provider.OpAnalyze))
	assert.Equal(t, ledger.CounterAICall, CounterFor(provider.OpCoverLetter))
}

func TestCheck_AllowsThenRejects(t *testing.T) {
	g, l := newGate()
	ctx := context.Background()

	res, err := g.Check(ctx, "u1", tier.Free, provider.OpExtractText)
	require.NoError(t, err)
	require.NotNil(t, res)
	_, err = l.Commit(ctx, res, 0)
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.QuotaRejections.WithLabelValues("extract_text", "free", ledger.ReasonLimitReached))

	_, err = g.Check(ctx, "u1", tier.Free, provider.OpExtractText)
	var qe *ExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, tier.Free, qe.Tier)
	assert.Equal(t, 1, qe.Limit)
	assert.Equal(t, 0, qe.Remaining)
	assert.Contains(t, qe.Error(), "limit 1")

	after := testutil.ToFloat64(metrics.QuotaRejections.WithLabelValues("extract_text", "free", ledger.ReasonLimitReached))
	assert.Equal(t, 1.0, after-before)
}

func TestCheck_UnknownTierReportsFree(t *testing.T) {
	g, l := newGate()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := g.Check(ctx, "u2", tier.ID("gold"), provider.OpAnalyze)
		require.NoError(t, err)
		_, err = l.Commit(ctx, res, 0.01)
		require.NoError(t, err)
	}

	_, err := g.Check(ctx, "u2", tier.ID("gold"), provider.OpAnalyze)
	var qe *ExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, tier.Free, qe.Tier)
	assert.Equal(t, 3, qe.Limit)
}

func TestCheck_CostCeilingReportsCeiling(t *testing.T) {
	g, l := newGate()
	ctx := context.Background()

	res, err := g.Check(ctx, "u3", tier.Starter, provider.OpAnalyze)
	require.NoError(t, err)
	_, err = l.Commit(ctx, res, 2)
	require.NoError(t, err)

	_, err = g.Check(ctx, "u3", tier.Starter, provider.OpCoverLetter)
	var qe *ExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, ledger.ReasonCostCeiling, qe.Reason)
	assert.Equal(t, 2.0, qe.CostCeiling)
	assert.Equal(t, 20, qe.Limit)
	assert.Contains(t, qe.Error(), "cost ceiling $2.00")
}

func TestCheck_InvalidOperation(t *testing.T) {
	g, _ := newGate()
	_, err := g.Check(context.Background(), "u1", tier.Free, provider.Operation("translate"))
	assert.Error(t, err)
}
