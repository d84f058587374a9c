package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vnmchuo/careerkit-gateway/internal/logger"
	"github.com/vnmchuo/careerkit-gateway/internal/provider"
	"github.com/vnmchuo/careerkit-gateway/internal/storage"
)

// Hit is a previously parsed document whose text is still retrievable.
type Hit struct {
	Record *Record
	Text   string
}

// Deduper answers repeat parses from stored text and collapses concurrent
// parses of the same document into one provider call.
type Deduper struct {
	store Store
	blobs storage.Storage
	group singleflight.Group
	now   func() time.Time
	log   *zap.Logger
}

func NewDeduper(store Store, blobs storage.Storage, log *zap.Logger) *Deduper {
	return &Deduper{store: store, blobs: blobs, now: time.Now, log: logger.OrNop(log)}
}

// Lookup returns nil without error on a miss. A fingerprint whose text blob
// is gone counts as a miss.
func (d *Deduper) Lookup(ctx context.Context, userID, hash string) (*Hit, error) {
	rec, err := d.store.Get(ctx, userID, hash)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := d.blobs.Get(ctx, rec.TextKey)
	if err != nil {
		if storage.IsNotFound(err) {
			d.log.Info("fingerprint text missing, reparsing",
				zap.String("user_id", userID),
				zap.String("hash", hash),
			)
			return nil, nil
		}
		return nil, err
	}
	return &Hit{Record: rec, Text: string(data)}, nil
}

// Remember stores the extracted text and records the fingerprint.
func (d *Deduper) Remember(ctx context.Context, userID, hash, providerName string, ext *provider.Extraction, cost float64) error {
	key := storage.TextKey(userID, hash)
	if err := d.blobs.Put(ctx, key, []byte(ext.Text), "text/plain; charset=utf-8"); err != nil {
		return fmt.Errorf("store extracted text: %w", err)
	}

	now := d.now().UTC()
	return d.store.Put(ctx, &Record{
		Hash:        hash,
		UserID:      userID,
		Provider:    providerName,
		TextKey:     key,
		Confidence:  ext.Confidence,
		LastCost:    cost,
		FirstSeenAt: now,
		LastSeenAt:  now,
	})
}

// Do runs fn once for all concurrent callers with the same user and hash.
// leader is true only for the caller whose fn actually ran.
func (d *Deduper) Do(userID, hash string, fn func() (any, error)) (v any, leader bool, err error) {
	v, err, _ = d.group.Do(userID+"/"+hash, func() (any, error) {
		leader = true
		return fn()
	})
	return v, leader, err
}
