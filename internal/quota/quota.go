// Package quota is the policy check run before any provider is contacted.
package quota

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vnmchuo/careerkit-gateway/internal/ledger"
	"github.com/vnmchuo/careerkit-gateway/internal/logger"
	"github.com/vnmchuo/careerkit-gateway/internal/metrics"
	"github.com/vnmchuo/careerkit-gateway/internal/provider"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

// ExceededError reports that the user's tier does not allow another call of
// this kind in the current period.
type ExceededError struct {
	Tier        tier.ID
	Op          provider.Operation
	Limit       int
	CostCeiling float64
	Remaining   int
	Reason      string
}

func (e *ExceededError) Error() string {
	if e.Reason == ledger.ReasonCostCeiling {
		return fmt.Sprintf("%s quota exceeded for tier %s: cost ceiling $%.2f reached", e.Op, e.Tier, e.CostCeiling)
	}
	return fmt.Sprintf("%s quota exceeded for tier %s: limit %d", e.Op, e.Tier, e.Limit)
}

// CounterFor maps an operation to the ledger counter it consumes.
func CounterFor(op provider.Operation) ledger.Counter {
	if op == provider.OpExtractText {
		return ledger.CounterParsing
	}
	return ledger.CounterAICall
}

type Gate struct {
	ledger *ledger.Ledger
	log    *zap.Logger
}

func NewGate(l *ledger.Ledger, log *zap.Logger) *Gate {
	return &Gate{ledger: l, log: logger.OrNop(log)}
}

// Check reserves one unit of quota for op. The caller owns the returned
// reservation and must commit or roll it back.
func (g *Gate) Check(ctx context.Context, userID string, tierID tier.ID, op provider.Operation) (*ledger.Reservation, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	d, err := g.ledger.TryReserve(ctx, userID, tierID, CounterFor(op))
	if err != nil {
		return nil, fmt.Errorf("quota check: %w", err)
	}
	if d.Allowed {
		return d.Reservation, nil
	}

	applied := d.Tier
	metrics.QuotaRejections.WithLabelValues(string(op), string(applied), d.Reason).Inc()
	g.log.Info("quota exceeded",
		zap.String("user_id", userID),
		zap.String("tier", string(applied)),
		zap.String("op", string(op)),
		zap.Int("limit", d.Limit),
		zap.Float64("cost_ceiling", d.CostCeiling),
		zap.String("reason", d.Reason),
	)

	return nil, &ExceededError{
		Tier:        applied,
		Op:          op,
		Limit:       d.Limit,
		CostCeiling: d.CostCeiling,
		Remaining:   0,
		Reason:      d.Reason,
	}
}
