// Package ledger tracks per-user usage for the current billing period.
//
// Quota is claimed in two steps. TryReserve takes an in-flight slot that
// counts against the limit, and the slot is later either committed (turned
// into a counted call with its cost) or rolled back. Each step is a single
// atomic store operation, so concurrent requests for the same user can never
// push the committed count past the tier limit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vnmchuo/careerkit-gateway/internal/logger"
	"github.com/vnmchuo/careerkit-gateway/internal/metrics"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

type Counter string

const (
	CounterParsing Counter = "parsing"
	CounterAICall  Counter = "ai_call"
)

func (c Counter) Valid() bool {
	return c == CounterParsing || c == CounterAICall
}

// LimitIn returns the per-period limit for c under def.
func (c Counter) LimitIn(def tier.Definition) int {
	if c == CounterParsing {
		return def.ParsingLimit
	}
	return def.AICallLimit
}

// Denial reasons.
const (
	ReasonLimitReached = "limit_reached"
	ReasonCostCeiling  = "cost_ceiling"
)

// Record is the usage of one user in one period. Records of past periods are
// never modified again.
type Record struct {
	UserID          string    `json:"userId"`
	PeriodStart     time.Time `json:"periodStart"`
	PeriodEnd       time.Time `json:"periodEnd"`
	ParsingCount    int       `json:"parsingCount"`
	AICallCount     int       `json:"aiCallCount"`
	ParsingReserved int       `json:"-"`
	AICallReserved  int       `json:"-"`
	AccumulatedCost float64   `json:"accumulatedCost"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}

func (r *Record) Count(c Counter) int {
	if c == CounterParsing {
		return r.ParsingCount
	}
	return r.AICallCount
}

func (r *Record) Reserved(c Counter) int {
	if c == CounterParsing {
		return r.ParsingReserved
	}
	return r.AICallReserved
}

// Key identifies one usage record.
type Key struct {
	UserID      string
	PeriodStart time.Time
}

// Reservation is an in-flight claim on one unit of quota. It resolves against
// the period it was taken in, even if that period ends while the call runs.
type Reservation struct {
	ID          string
	UserID      string
	Tier        tier.ID
	Counter     Counter
	PeriodStart time.Time

	resolved atomic.Bool
}

func (r *Reservation) key() Key {
	return Key{UserID: r.UserID, PeriodStart: r.PeriodStart}
}

type Decision struct {
	// Tier is the tier whose limits were applied.
	Tier        tier.ID
	Allowed     bool
	Limit       int
	CostCeiling float64
	Remaining   int
	Reason      string
	Reservation *Reservation
}

var ErrResolved = errors.New("reservation already resolved")

// PeriodBounds returns the calendar month in UTC containing t.
func PeriodBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

type Ledger struct {
	store      Store
	catalog    *tier.Catalog
	now        func() time.Time
	log        *zap.Logger
	onRollover func(prev, next *Record)
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = logger.OrNop(log) }
}

// WithRolloverHook registers fn to run whenever a user's first request in a
// new period supersedes their previous record.
func WithRolloverHook(fn func(prev, next *Record)) Option {
	return func(l *Ledger) { l.onRollover = fn }
}

func New(store Store, catalog *tier.Catalog, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		catalog: catalog,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// CurrentUsage returns the user's record for the active period, creating it
// when none exists yet.
func (l *Ledger) CurrentUsage(ctx context.Context, userID string) (*Record, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	start, end := PeriodBounds(l.now())
	key := Key{UserID: userID, PeriodStart: start}

	rec, err := l.store.Get(ctx, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get usage record: %w", err)
	}

	prev, err := l.store.Latest(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get latest usage record: %w", err)
	}

	next, created, err := l.store.Create(ctx, &Record{UserID: userID, PeriodStart: start, PeriodEnd: end})
	if err != nil {
		return nil, fmt.Errorf("create usage record: %w", err)
	}

	if created && prev != nil && prev.PeriodStart.Before(start) {
		metrics.LedgerRollovers.Inc()
		l.log.Info("usage period rolled over",
			zap.String("user_id", userID),
			zap.Time("previous_period_start", prev.PeriodStart),
			zap.Time("period_start", start),
			zap.Int("previous_parsing_count", prev.ParsingCount),
			zap.Int("previous_ai_call_count", prev.AICallCount),
			zap.Float64("previous_cost_usd", prev.AccumulatedCost),
		)
		if l.onRollover != nil {
			l.onRollover(prev, next)
		}
	}
	return next, nil
}

// TryReserve claims one unit of c for the user if the tier allows it.
// A denial is not an error; it is reported through the Decision.
func (l *Ledger) TryReserve(ctx context.Context, userID string, tierID tier.ID, c Counter) (*Decision, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown counter %q", c)
	}
	def := l.catalog.LimitsFor(tierID)
	limit := c.LimitIn(def)

	rec, err := l.CurrentUsage(ctx, userID)
	if err != nil {
		return nil, err
	}

	updated, err := l.store.Reserve(ctx, Key{UserID: userID, PeriodStart: rec.PeriodStart}, c, limit, def.CostCeiling)
	switch {
	case errors.Is(err, ErrLimitReached):
		return &Decision{Tier: def.ID, Limit: limit, CostCeiling: def.CostCeiling, Reason: ReasonLimitReached}, nil
	case errors.Is(err, ErrCostCeiling):
		return &Decision{Tier: def.ID, Limit: limit, CostCeiling: def.CostCeiling, Reason: ReasonCostCeiling}, nil
	case err != nil:
		return nil, fmt.Errorf("reserve %s: %w", c, err)
	}

	remaining := tier.Unlimited
	if !tier.IsUnlimited(limit) {
		remaining = max(limit-updated.Count(c)-updated.Reserved(c), 0)
	}

	return &Decision{
		Tier:        def.ID,
		Allowed:     true,
		Limit:       limit,
		CostCeiling: def.CostCeiling,
		Remaining:   remaining,
		Reservation: &Reservation{
			ID:          uuid.NewString(),
			UserID:      userID,
			Tier:        def.ID,
			Counter:     c,
			PeriodStart: rec.PeriodStart,
		},
	}, nil
}

// Commit turns the reservation into a counted call and adds cost.
func (l *Ledger) Commit(ctx context.Context, res *Reservation, cost float64) (*Record, error) {
	if res == nil {
		return nil, errors.New("nil reservation")
	}
	if cost < 0 {
		return nil, fmt.Errorf("negative cost %f", cost)
	}
	if !res.resolved.CompareAndSwap(false, true) {
		return nil, ErrResolved
	}

	rec, err := l.store.Commit(ctx, res.key(), res.Counter, cost)
	if err != nil {
		res.resolved.Store(false)
		return nil, fmt.Errorf("commit %s: %w", res.Counter, err)
	}
	return rec, nil
}

// Rollback releases the reservation without counting it.
func (l *Ledger) Rollback(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	if !res.resolved.CompareAndSwap(false, true) {
		return ErrResolved
	}

	if err := l.store.Release(ctx, res.key(), res.Counter); err != nil {
		res.resolved.Store(false)
		return fmt.Errorf("release %s: %w", res.Counter, err)
	}
	metrics.ReservationsRolledBack.WithLabelValues(string(res.Counter)).Inc()
	return nil
}
