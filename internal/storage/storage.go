// Package storage keeps extracted document text so repeat parses of the same
// file can be answered without calling an OCR provider again.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns ErrNotFound (wrapped) when nothing is stored at key.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

var (
	ErrNotFound     = errors.New("object not found")
	ErrInvalidKey   = errors.New("invalid storage key")
	ErrAccessDenied = errors.New("access denied")
)

// StorageError wraps a failed operation with the key involved.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// validateKey rejects empty keys and path traversal.
func validateKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	return nil
}

// TextKey is where the extracted text of a fingerprinted document lives.
func TextKey(userID, hash string) string {
	return fmt.Sprintf("extracted/%s/%s.txt", userID, hash)
}
