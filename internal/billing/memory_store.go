package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps the audit log in process. Used by tests and by the
// gateway when no database is configured.
type MemoryStore struct {
	mu   sync.Mutex
	logs []*UsageLog
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) LogUsage(ctx context.Context, log *UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.ID = uuid.NewString()
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	cp := *log
	s.logs = append(s.logs, &cp)
	return nil
}

func (s *MemoryStore) GetUsageByUser(ctx context.Context, userID string, from, to time.Time) ([]*UsageLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*UsageLog
	for _, l := range s.logs {
		if l.UserID == userID && !l.CreatedAt.Before(from) && !l.CreatedAt.After(to) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetTotalCostByUser(ctx context.Context, userID string, from, to time.Time) (float64, error) {
	logs, err := s.GetUsageByUser(ctx, userID, from, to)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, l := range logs {
		total += l.CostUSD
	}
	return total, nil
}

// Len reports how many rows were logged.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}
