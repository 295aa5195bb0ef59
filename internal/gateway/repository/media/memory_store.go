package media

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tcmdiag/internal/diagnosis"
)

type memoryObject struct {
	contentType string
	data        []byte
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]memoryObject),
	}
}

func (s *MemoryStore) Put(_ context.Context, sessionID, contentType string, content []byte) (diagnosis.MediaRef, error) {
	ct, err := validatePut(sessionID, contentType, content)
	if err != nil {
		return diagnosis.MediaRef{}, err
	}
	key := objectKey(sessionID, ct)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = memoryObject{contentType: ct, data: append([]byte(nil), content...)}
	return diagnosis.MediaRef{Key: key, ContentType: ct, Size: int64(len(content))}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, "", fmt.Errorf("key is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.data[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}
