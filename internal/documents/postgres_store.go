package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := `
		SELECT id, user_id, filename, hash, content, extracted_text, created_at
		FROM cv_documents
		WHERE id = $1
	`
	var d Document
	var content []byte
	err := s.db.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.UserID, &d.Filename, &d.Hash, &content, &d.ExtractedText, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	d.Content = content
	return &d, nil
}

func (s *PostgresStore) Create(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO cv_documents (user_id, filename, hash, content, extracted_text)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	var content []byte
	if len(doc.Content) > 0 {
		content = doc.Content
	}
	err := s.db.QueryRow(ctx, query,
		doc.UserID, doc.Filename, doc.Hash, content, doc.ExtractedText,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}
