package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps artifacts in process memory. It backs local development
// when no object store is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, input PutInput, progress ProgressFunc) (string, error) {
	if strings.TrimSpace(input.TeacherID) == "" {
		return "", fmt.Errorf("teacher id is required")
	}
	if len(input.Data) == 0 {
		return "", fmt.Errorf("artifact payload is empty")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	locator := buildLocator(input.TeacherID, input.StudentHint)
	stored := make([]byte, len(input.Data))
	copy(stored, input.Data)

	s.mu.Lock()
	s.objects[locator] = stored
	s.mu.Unlock()

	if progress != nil {
		total := int64(len(input.Data))
		progress(total, total)
	}
	return locator, nil
}

func (s *MemoryStore) PutDerived(ctx context.Context, locator string, data []byte, contentType string) error {
	if strings.TrimSpace(locator) == "" {
		return fmt.Errorf("locator is required")
	}
	if len(data) == 0 {
		return fmt.Errorf("derived payload is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.objects[locator] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.objects[locator]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.objects, locator)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PresignedURL(ctx context.Context, locator string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[locator]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return "memory://" + locator, nil
}

// Len reports the number of stored artifacts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
