package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/vnmchuo/careerkit-gateway/internal/logger"
)

// LocalStorage stores objects as files under a base directory.
type LocalStorage struct {
	basePath string
	log      *zap.Logger
}

// NewLocalStorage creates the base directory if it does not exist.
func NewLocalStorage(basePath string, log *zap.Logger) (*LocalStorage, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log = logger.OrNop(log)
	log.Info("initialized local storage", zap.String("base_path", absPath))

	return &LocalStorage{basePath: absPath, log: log}, nil
}

func (s *LocalStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	filePath, err := s.resolvePath(key)
	if err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return &StorageError{Op: "Put", Key: key, Err: fmt.Errorf("failed to create directory: %w", err)}
	}

	// Write to a temp file and rename so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-*")
	if err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &StorageError{Op: "Put", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return &StorageError{Op: "Put", Key: key, Err: err}
	}

	s.log.Debug("stored object", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

func (s *LocalStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	filePath, err := s.resolvePath(key)
	if err != nil {
		return nil, &StorageError{Op: "Get", Key: key, Err: err}
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &StorageError{Op: "Get", Key: key, Err: ErrNotFound}
		}
		return nil, &StorageError{Op: "Get", Key: key, Err: err}
	}
	return data, nil
}

func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	filePath, err := s.resolvePath(key)
	if err != nil {
		return &StorageError{Op: "Delete", Key: key, Err: err}
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "Delete", Key: key, Err: err}
	}
	return nil
}

// resolvePath maps a key to a file path, refusing anything that escapes basePath.
func (s *LocalStorage) resolvePath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	p := filepath.Join(s.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(p, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return p, nil
}
