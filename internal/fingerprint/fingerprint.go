// Package fingerprint recognizes byte-identical documents so a repeat parse
// is neither billed nor sent to an OCR provider again.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// Hash returns the lowercase hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var ErrNotFound = errors.New("fingerprint not found")

// Record marks a document a user has already paid to parse. Records are
// scoped per user; one user's text is never served to another.
type Record struct {
	Hash        string    `json:"hash"`
	UserID      string    `json:"userId"`
	Provider    string    `json:"provider"`
	TextKey     string    `json:"textKey"`
	Confidence  float64   `json:"confidence"`
	LastCost    float64   `json:"lastCost"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (r *Record) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (r *Record) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

type Store interface {
	// Get returns ErrNotFound on a miss, which is the normal case.
	Get(ctx context.Context, userID, hash string) (*Record, error)
	// Put inserts rec, or refreshes the existing record while keeping its
	// FirstSeenAt.
	Put(ctx context.Context, rec *Record) error
}
