package ledger

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

const recordColumns = `user_id, period_start, period_end, parsing_count, ai_call_count,
	parsing_reserved, ai_call_reserved, accumulated_cost, created_at, updated_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.UserID, &r.PeriodStart, &r.PeriodEnd, &r.ParsingCount, &r.AICallCount,
		&r.ParsingReserved, &r.AICallReserved, &r.AccumulatedCost, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.PeriodStart = r.PeriodStart.UTC()
	r.PeriodEnd = r.PeriodEnd.UTC()
	return &r, nil
}

// columns returns the counted and reserved column names for c.
func columns(c Counter) (count, reserved string) {
	if c == CounterParsing {
		return "parsing_count", "parsing_reserved"
	}
	return "ai_call_count", "ai_call_reserved"
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM usage_records
		WHERE user_id = $1 AND period_start = $2`

	rec, err := scanRecord(s.db.QueryRow(ctx, query, key.UserID, key.PeriodStart))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Latest(ctx context.Context, userID string) (*Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM usage_records
		WHERE user_id = $1
		ORDER BY period_start DESC
		LIMIT 1`

	rec, err := scanRecord(s.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest usage record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *Record) (*Record, bool, error) {
	query := `
		INSERT INTO usage_records (user_id, period_start, period_end)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, period_start) DO NOTHING
		RETURNING ` + recordColumns

	created, err := scanRecord(s.db.QueryRow(ctx, query, rec.UserID, rec.PeriodStart, rec.PeriodEnd))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create usage record: %w", err)
	}

	// Lost the race to a concurrent request for the same period.
	existing, err := s.Get(ctx, Key{UserID: rec.UserID, PeriodStart: rec.PeriodStart})
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) Reserve(ctx context.Context, key Key, c Counter, limit int, costCeiling float64) (*Record, error) {
	count, reserved := columns(c)
	query := fmt.Sprintf(`
		UPDATE usage_records
		SET %[2]s = %[2]s + 1, updated_at = now()
		WHERE user_id = $1 AND period_start = $2
			AND ($3::int < 0 OR %[1]s + %[2]s < $3::int)
			AND ($4::float8 < 0 OR accumulated_cost < $4::float8)
		RETURNING `+recordColumns, count, reserved)

	rec, err := scanRecord(s.db.QueryRow(ctx, query, key.UserID, key.PeriodStart, limit, costCeiling))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to reserve usage: %w", err)
	}

	// Nothing matched; find out which bound refused it.
	current, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if limit >= 0 && current.Count(c)+current.Reserved(c) >= limit {
		return nil, ErrLimitReached
	}
	if costCeiling >= 0 && current.AccumulatedCost >= costCeiling {
		return nil, ErrCostCeiling
	}
	return nil, ErrLimitReached
}

func (s *PostgresStore) Release(ctx context.Context, key Key, c Counter) error {
	_, reserved := columns(c)
	query := fmt.Sprintf(`
		UPDATE usage_records
		SET %[1]s = GREATEST(%[1]s - 1, 0), updated_at = now()
		WHERE user_id = $1 AND period_start = $2`, reserved)

	tag, err := s.db.Exec(ctx, query, key.UserID, key.PeriodStart)
	if err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Commit(ctx context.Context, key Key, c Counter, cost float64) (*Record, error) {
	count, reserved := columns(c)
	query := fmt.Sprintf(`
		UPDATE usage_records
		SET %[1]s = %[1]s + 1,
			%[2]s = GREATEST(%[2]s - 1, 0),
			accumulated_cost = accumulated_cost + $3,
			updated_at = now()
		WHERE user_id = $1 AND period_start = $2
		RETURNING `+recordColumns, count, reserved)

	rec, err := scanRecord(s.db.QueryRow(ctx, query, key.UserID, key.PeriodStart, cost))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to commit usage: %w", err)
	}
	return rec, nil
}
