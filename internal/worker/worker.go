// Package worker writes the call audit log off the request path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/careerkit-gateway/internal/billing"
	"github.com/vnmchuo/careerkit-gateway/internal/logger"
	"github.com/vnmchuo/careerkit-gateway/internal/metrics"
)

// Config controls the audit writer pool.
type Config struct {
	Workers         int
	QueueSize       int
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:         2,
		QueueSize:       1024,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", c.QueueSize)
	}
	if c.WriteTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// AuditWriter appends usage log entries to a billing.Store from a bounded
// queue. When the queue is full, entries are dropped rather than blocking the
// caller.
type AuditWriter struct {
	store  billing.Store
	config Config
	log    *zap.Logger

	queue  chan *billing.UsageLog
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewAuditWriter starts the worker goroutines. Call Close to drain them.
func NewAuditWriter(store billing.Store, config Config, log *zap.Logger) (*AuditWriter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	w := &AuditWriter{
		store:  store,
		config: config,
		log:    logger.OrNop(log).Named("audit"),
		queue:  make(chan *billing.UsageLog, config.QueueSize),
	}
	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.run(i + 1)
	}
	w.log.Info("audit writer started", zap.Int("workers", config.Workers), zap.Int("queue_size", config.QueueSize))
	return w, nil
}

// Record enqueues entry without blocking. Entries recorded after Close are
// dropped.
func (w *AuditWriter) Record(entry *billing.UsageLog) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.drop(entry, "closed")
		return
	}
	select {
	case w.queue <- entry:
		metrics.AuditQueueDepth.Inc()
	default:
		w.drop(entry, "queue_full")
	}
}

func (w *AuditWriter) drop(entry *billing.UsageLog, reason string) {
	metrics.AuditWrites.WithLabelValues("dropped").Inc()
	w.log.Warn("audit entry dropped",
		zap.String("reason", reason),
		zap.String("user_id", entry.UserID),
		zap.String("request_id", entry.RequestID),
		zap.String("op", entry.Operation),
	)
}

// Close stops accepting entries and waits for queued ones to be written, up
// to the configured shutdown timeout.
func (w *AuditWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info("audit writer drained")
		return nil
	case <-time.After(w.config.ShutdownTimeout):
		return fmt.Errorf("audit writer: %d entries not written before shutdown timeout", len(w.queue))
	}
}

func (w *AuditWriter) run(workerID int) {
	defer w.wg.Done()
	log := w.log.With(zap.Int("worker_id", workerID))

	for entry := range w.queue {
		metrics.AuditQueueDepth.Dec()

		ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
		err := w.store.LogUsage(ctx, entry)
		cancel()

		if err != nil {
			metrics.AuditWrites.WithLabelValues("error").Inc()
			log.Error("failed to write audit entry",
				zap.String("user_id", entry.UserID),
				zap.String("request_id", entry.RequestID),
				zap.Error(err),
			)
			continue
		}
		metrics.AuditWrites.WithLabelValues("ok").Inc()
	}
}
