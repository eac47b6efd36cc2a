package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore — in-memory хранилище blob-ов.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore создаёт пустое in-memory хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Store читает поток целиком в память.
func (s *MemoryStore) Store(ctx context.Context, _, _ string, r io.Reader) (string, int64, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, contextReader(ctx, r))
	if err != nil {
		return "", 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	handle := uuid.New().String()
	s.mu.Lock()
	s.blobs[handle] = buf.Bytes()
	s.mu.Unlock()
	return handle, n, nil
}

// Open возвращает reader над копией содержимого.
func (s *MemoryStore) Open(_ context.Context, handle string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[handle]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete удаляет blob.
func (s *MemoryStore) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	delete(s.blobs, handle)
	s.mu.Unlock()
	return nil
}

// Len возвращает количество хранимых blob-ов.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Handles возвращает все хранимые handle.
func (s *MemoryStore) Handles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.blobs))
	for h := range s.blobs {
		out = append(out, h)
	}
	return out
}
