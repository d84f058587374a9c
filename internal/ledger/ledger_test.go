package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestLedger(t *testing.T, at time.Time, opts ...Option) (*Ledger, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: at}
	store := NewMemoryStore()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(store, tier.DefaultCatalog(), opts...), store, clock
}

var march = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestPeriodBounds(t *testing.T) {
	start, end := PeriodBounds(time.Date(2026, 12, 31, 23, 59, 0, 0, time.FixedZone("x", -5*3600)))
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), start, "bounds are computed in UTC")
	assert.Equal(t, time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestCurrentUsage_CreatesAndIsIdempotent(t *testing.T) {
	l, _, _ := newTestLedger(t, march)
	ctx := context.Background()

	first, err := l.CurrentUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), first.PeriodStart)
	assert.Zero(t, first.ParsingCount)

	second, err := l.CurrentUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ParsingCount, second.ParsingCount)
	assert.Equal(t, first.AICallCount, second.AICallCount)
	assert.Equal(t, first.AccumulatedCost, second.AccumulatedCost)
	assert.Equal(t, first.PeriodStart, second.PeriodStart)
}

func TestTryReserve_FreeTierParsingLimit(t *testing.T) {
	l, _, _ := newTestLedger(t, march)
	ctx := context.Background()

	d, err := l.TryReserve(ctx, "u1", tier.Free, CounterParsing)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, 1, d.Limit)
	assert.Equal(t, 0, d.Remaining)

	_, err = l.Commit(ctx, d.Reservation, 0.001)
	require.NoError(t, err)

	d, err = l.TryReserve(ctx, "u1", tier.Free, CounterParsing)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonLimitReached, d.Reason)
	assert.Equal(t, 0, d.Remaining)
	assert.Nil(t, d.Reservation)

	rec, err := l.CurrentUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ParsingCount)
}

func TestTryReserve_InFlightCountsAgainstLimit(t *testing.T) {
	l, _, _ := newTestLedger(t, march)
	ctx := context.Background()

	d, err := l.TryReserve(ctx, "u1", tier.Free, CounterParsing)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	again, err := l.TryReserve(ctx, "u1", tier.Free, CounterParsing)
	require.NoError(t, err)
	assert.False(t, again.Allowed, "an unresolved reservation holds the last slot")

	require.NoError(t, l.Rollback(ctx, d.Reservation))

	again, err = l.TryReserve(ctx, "u1", tier.Free, CounterParsing)
	require.NoError(t, err)
	assert.True(t, again.Allowed)
}

func TestTryReserve_ConcurrentNeverExceedsLimit(t *testing.T) {
	l, _, _ := newTestLedger(t, march)
	ctx := context.Background()
	limit := tier.DefaultCatalog().LimitsFor(tier.Professional).AICallLimit

	const n = 200
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.TryReserve(ctx, "u1", tier.Professional, CounterAICall)
			if err != nil || !d.Allowed {
				return
			}
			allowed.Add(1)
			if _, err := l.Commit(ctx, d.Reservation, 0.01); err != nil {
				t.Errorf("commit: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), allowed.Load())
	rec, err := l.CurrentUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, limit, rec.AICallCount)
	assert.Zero(t, rec.AICallReserved)
}

func TestTryReserve_UnlimitedAlwaysAllows(t *testing.T) {
	l, _, _ := newTestLedger(t, march)
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		d, err := l.TryReserve(ctx, "u1", tier.Elite, CounterAICall)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		assert.Equal(t, tier.Unlimited, d.Remaining)
		_, err = l.Commit(ctx, d.Reservation, 1)
		require.NoError(t, err)
	}
}

func TestTryReserve_UnknownTierBehavesAsFree(t *testing.T) {
	l, _, _ := newTestLedger(t, march)

	d, err := l.TryReserve(context.Background(), "u1", tier.ID("platinum"), CounterAICall)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Limit)
	assert.Equal(t, tier.Free, d.Reservation.Tier)
}

func TestTryReserve_CostCeiling(t *testing.T) {
	l, _, _ := newTestLedger(t, march)
	ctx := context.Background()

	d, err := l.TryReserve(ctx, "u1", tier.Free, CounterAICall)
	require.NoError(t, err)
	_, err = l.Commit(ctx, d.Reservation, 0.25)
	require.NoError(t, err)

	d, err = l.TryReserve(ctx, "u1", tier.Free, CounterAICall)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCostCeiling, d.Reason)
	assert.Equal(t, 0.25, d.CostCeiling)
}

func TestTryReserve_LimitWinsOverCostCeiling(t *testing.T) {
	l, _, _ := newTestLedger(t, march)
	ctx := context.Background()

	// Free allows one parse; this one also spends the whole ceiling.
	d, err := l.TryReserve(ctx, "u1", tier.Free, CounterParsing)
	require.NoError(t, err)
	_, err = l.Commit(ctx, d.Reservation, 0.25)
	require.NoError(t, err)

	d, err = l.TryReserve(ctx, "u1", tier.Free, CounterParsing)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonLimitReached, d.Reason)
	assert.Equal(t, 1, d.Limit)
	assert.Equal(t, 0.25, d.CostCeiling)
}

func TestRollback_IsTotal(t *testing.T) {
	l, _, _ := newTestLedger(t, march)
	ctx := context.Background()

	before, err := l.CurrentUsage(ctx, "u1")
	require.NoError(t, err)

	d, err := l.TryReserve(ctx, "u1", tier.Starter, CounterAICall)
	require.NoError(t, err)
	require.NoError(t, l.Rollback(ctx, d.Reservation))

	after, err := l.CurrentUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before.AICallCount, after.AICallCount)
	assert.Equal(t, before.AccumulatedCost, after.AccumulatedCost)
	assert.Zero(t, after.AICallReserved)
}

func TestReservation_ResolvesOnce(t *testing.T) {
	l, _, _ := newTestLedger(t, march)
	ctx := context.Background()

	d, err := l.TryReserve(ctx, "u1", tier.Starter, CounterAICall)
	require.NoError(t, err)

	_, err = l.Commit(ctx, d.Reservation, 0.5)
	require.NoError(t, err)
	_, err = l.Commit(ctx, d.Reservation, 0.5)
	assert.ErrorIs(t, err, ErrResolved)
	assert.ErrorIs(t, l.Rollback(ctx, d.Reservation), ErrResolved)

	rec, err := l.CurrentUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AICallCount)
	assert.InDelta(t, 0.5, rec.AccumulatedCost, 1e-12)
}

func TestRollover(t *testing.T) {
	var hookPrev, hookNext *Record
	l, store, clock := newTestLedger(t, march, WithRolloverHook(func(prev, next *Record) {
		hookPrev, hookNext = prev, next
	}))
	ctx := context.Background()

	d, err := l.TryReserve(ctx, "u1", tier.Free, CounterParsing)
	require.NoError(t, err)
	_, err = l.Commit(ctx, d.Reservation, 0.002)
	require.NoError(t, err)

	clock.Set(time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))

	rec, err := l.CurrentUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), rec.PeriodStart)
	assert.Zero(t, rec.ParsingCount)
	assert.Zero(t, rec.AccumulatedCost)

	require.NotNil(t, hookPrev, "rollover must be observable")
	assert.Equal(t, 1, hookPrev.ParsingCount)
	assert.Equal(t, rec.PeriodStart, hookNext.PeriodStart)

	old, err := store.Get(ctx, Key{UserID: "u1", PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, 1, old.ParsingCount, "archived record keeps its counts")

	d, err = l.TryReserve(ctx, "u1", tier.Free, CounterParsing)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "new period starts with fresh quota")
}

func TestReservation_ResolvesAgainstItsOwnPeriod(t *testing.T) {
	l, store, clock := newTestLedger(t, time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC))
	ctx := context.Background()

	d, err := l.TryReserve(ctx, "u1", tier.Starter, CounterAICall)
	require.NoError(t, err)

	clock.Set(time.Date(2026, 4, 1, 0, 0, 5, 0, time.UTC))
	_, err = l.Commit(ctx, d.Reservation, 0.1)
	require.NoError(t, err)

	marchRec, err := store.Get(ctx, Key{UserID: "u1", PeriodStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, 1, marchRec.AICallCount)
	assert.Zero(t, marchRec.AICallReserved)

	april, err := l.CurrentUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, april.AICallCount)
}

func TestCommit_RejectsNegativeCost(t *testing.T) {
	l, _, _ := newTestLedger(t, march)
	d, err := l.TryReserve(context.Background(), "u1", tier.Free, CounterAICall)
	require.NoError(t, err)

	_, err = l.Commit(context.Background(), d.Reservation, -1)
	assert.Error(t, err)
	assert.NoError(t, l.Rollback(context.Background(), d.Reservation), "a rejected commit leaves the reservation open")
}
