package fingerprint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID, hash string) (*Record, error) {
	query := `
		SELECT hash, user_id, provider, text_key, confidence, last_cost, first_seen_at, last_seen_at
		FROM file_fingerprints
		WHERE user_id = $1 AND hash = $2
	`
	var r Record
	err := s.db.QueryRow(ctx, query, userID, hash).Scan(
		&r.Hash, &r.UserID, &r.Provider, &r.TextKey, &r.Confidence, &r.LastCost, &r.FirstSeenAt, &r.LastSeenAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO file_fingerprints (hash, user_id, provider, text_key, confidence, last_cost, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, hash) DO UPDATE
		SET provider = EXCLUDED.provider,
			text_key = EXCLUDED.text_key,
			confidence = EXCLUDED.confidence,
			last_cost = EXCLUDED.last_cost,
			last_seen_at = EXCLUDED.last_seen_at
	`
	_, err := s.db.Exec(ctx, query,
		rec.Hash, rec.UserID, rec.Provider, rec.TextKey, rec.Confidence, rec.LastCost, rec.FirstSeenAt, rec.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put fingerprint: %w", err)
	}
	return nil
}
