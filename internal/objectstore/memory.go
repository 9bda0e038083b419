package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for tests and local development.
// ETags are a monotonic counter so conditional puts behave like S3's.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	seq     int

	// PutErr, when set, is returned by Put. Used to simulate outages.
	PutErr error
	// ListErr, when set, is returned by List.
	ListErr error
}

type memObject struct {
	body []byte
	etag string
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	body := make([]byte, len(obj.body))
	copy(body, obj.body)
	return &Object{Key: key, Body: body, ETag: obj.etag}, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, body []byte, opts PutOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return "", m.PutErr
	}

	existing, exists := m.objects[key]
	if opts.IfAbsent && exists {
		return "", ErrPreconditionFailed
	}
	if opts.IfMatch != "" && (!exists || existing.etag != opts.IfMatch) {
		return "", ErrPreconditionFailed
	}

	m.seq++
	etag := fmt.Sprintf("etag-%d", m.seq)
	stored := make([]byte, len(body))
	copy(stored, body)
	m.objects[key] = memObject{body: stored, etag: etag}
	return etag, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
