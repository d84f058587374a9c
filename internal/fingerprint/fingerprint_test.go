package fingerprint

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/careerkit-gateway/internal/provider"
	"github.com/vnmchuo/careerkit-gateway/internal/storage"
)

func TestHash(t *testing.T) {
	a := []byte("%PDF-1.7 Jane Doe")
	b := []byte("%PDF-1.7 Jane Doe")
	c := []byte("%PDF-1.7 Jane Doe!")

	assert.Equal(t, Hash(a), Hash(b))
	assert.NotEqual(t, Hash(a), Hash(c))
	assert.Len(t, Hash(a), 64)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(nil))
}

func TestMemoryStore_KeepsFirstSeen(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Get(ctx, "u1", "h")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, &Record{UserID: "u1", Hash: "h", LastCost: 1, FirstSeenAt: first}))
	require.NoError(t, s.Put(ctx, &Record{UserID: "u1", Hash: "h", LastCost: 2, FirstSeenAt: first.Add(time.Hour)}))

	rec, err := s.Get(ctx, "u1", "h")
	require.NoError(t, err)
	assert.Equal(t, first, rec.FirstSeenAt)
	assert.Equal(t, 2.0, rec.LastCost)

	_, err = s.Get(ctx, "u2", "h")
	assert.ErrorIs(t, err, ErrNotFound, "fingerprints are scoped per user")
}

func TestDeduper_LookupAndRemember(t *testing.T) {
	blobs := storage.NewMemoryStorage()
	d := NewDeduper(NewMemoryStore(), blobs, nil)
	ctx := context.Background()

	hit, err := d.Lookup(ctx, "u1", "h1")
	require.NoError(t, err)
	assert.Nil(t, hit)

	ext := &provider.Extraction{Text: "Jane Doe", Confidence: 0.9}
	require.NoError(t, d.Remember(ctx, "u1", "h1", "ocrspace", ext, 0.001))

	hit, err = d.Lookup(ctx, "u1", "h1")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "Jane Doe", hit.Text)
	assert.Equal(t, "ocrspace", hit.Record.Provider)

	require.NoError(t, blobs.Delete(ctx, storage.TextKey("u1", "h1")))
	hit, err = d.Lookup(ctx, "u1", "h1")
	require.NoError(t, err)
	assert.Nil(t, hit, "missing text is a miss")
}

func TestDeduper_DoCollapsesConcurrentCalls(t *testing.T) {
	d := NewDeduper(NewMemoryStore(), storage.NewMemoryStorage(), nil)

	var calls, leaders atomic.Int32
	release := make(chan struct{})
	var started sync.WaitGroup
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			v, leader, err := d.Do("u1", "h", func() (any, error) {
				calls.Add(1)
				<-release
				return "text", nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "text", v)
			if leader {
				leaders.Add(1)
			}
		}()
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, calls.Load(), leaders.Load(), "exactly the callers whose fn ran are leaders")
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := value.(*Record).MarshalBinary()
	f.data[key] = string(b)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	b, _ := value.(*Record).MarshalBinary()
	f.data[key] = string(b)
	return redis.NewBoolResult(true, nil)
}

func TestRedisStore(t *testing.T) {
	s := &RedisStore{rdb: &fakeRedis{data: map[string]string{}}}
	ctx := context.Background()
	first := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Get(ctx, "u1", "h")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, &Record{UserID: "u1", Hash: "h", Provider: "gemini", FirstSeenAt: first}))
	require.NoError(t, s.Put(ctx, &Record{UserID: "u1", Hash: "h", Provider: "ocrspace", FirstSeenAt: first.Add(time.Hour)}))

	rec, err := s.Get(ctx, "u1", "h")
	require.NoError(t, err)
	assert.Equal(t, "ocrspace", rec.Provider)
	assert.True(t, first.Equal(rec.FirstSeenAt))
}
