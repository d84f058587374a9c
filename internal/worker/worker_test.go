package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnmchuo/careerkit-gateway/internal/billing"
	"github.com/vnmchuo/careerkit-gateway/internal/metrics"
)

// blockingStore holds every write until release is closed.
type blockingStore struct {
	*billing.MemoryStore
	release chan struct{}
}

func (s *blockingStore) LogUsage(ctx context.Context, log *billing.UsageLog) error {
	<-s.release
	return s.MemoryStore.LogUsage(ctx, log)
}

type failingStore struct {
	billing.Store
	mu    sync.Mutex
	calls int
}

func (s *failingStore) LogUsage(ctx context.Context, log *billing.UsageLog) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return errors.New("db down")
}

func testConfig() Config {
	return Config{Workers: 2, QueueSize: 4, WriteTimeout: time.Second, ShutdownTimeout: 2 * time.Second}
}

func TestAuditWriter_WritesAndDrainsOnClose(t *testing.T) {
	store := billing.NewMemoryStore()
	w, err := NewAuditWriter(store, testConfig(), nil)
	if err != nil {
		t.Fatalf("NewAuditWriter: %v", err)
	}

	for i := 0; i < 4; i++ {
		w.Record(&billing.UsageLog{UserID: "u1", Operation: "analyze", Success: true})
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := store.Len(); got != 4 {
		t.Errorf("expected 4 entries written, got %d", got)
	}
}

func TestAuditWriter_DropsWhenQueueFull(t *testing.T) {
	store := &blockingStore{MemoryStore: billing.NewMemoryStore(), release: make(chan struct{})}
	cfg := Config{Workers: 1, QueueSize: 1, WriteTimeout: time.Second, ShutdownTimeout: 2 * time.Second}
	w, err := NewAuditWriter(store, cfg, nil)
	if err != nil {
		t.Fatalf("NewAuditWriter: %v", err)
	}

	before := testutil.ToFloat64(metrics.AuditWrites.WithLabelValues("dropped"))

	// One entry is held by the worker, one fills the queue, the rest drop.
	for i := 0; i < 5; i++ {
		w.Record(&billing.UsageLog{UserID: "u1"})
		time.Sleep(5 * time.Millisecond)
	}

	dropped := testutil.ToFloat64(metrics.AuditWrites.WithLabelValues("dropped")) - before
	if dropped < 3 {
		t.Errorf("expected at least 3 dropped entries, got %v", dropped)
	}

	close(store.release)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAuditWriter_StoreErrorsAreNotFatal(t *testing.T) {
	store := &failingStore{}
	w, err := NewAuditWriter(store, testConfig(), nil)
	if err != nil {
		t.Fatalf("NewAuditWriter: %v", err)
	}

	w.Record(&billing.UsageLog{UserID: "u1"})
	w.Record(&billing.UsageLog{UserID: "u2"})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.calls != 2 {
		t.Errorf("expected 2 write attempts, got %d", store.calls)
	}
}

func TestAuditWriter_RecordAfterCloseIsDropped(t *testing.T) {
	store := billing.NewMemoryStore()
	w, err := NewAuditWriter(store, testConfig(), nil)
	if err != nil {
		t.Fatalf("NewAuditWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w.Record(&billing.UsageLog{UserID: "u1"})
	if store.Len() != 0 {
		t.Errorf("expected nothing written after close")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	bad := DefaultConfig()
	bad.Workers = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero workers")
	}
}
