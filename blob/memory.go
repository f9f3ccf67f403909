package blob

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps objects in process memory. It backs local development
// (BLOB_DRIVER=memory) and tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	// Puts counts writes per key, including overwrites.
	Puts map[string]int
	// FailRemove makes Remove fail for the listed keys.
	FailRemove map[string]bool
}

type memoryObject struct {
	contentType string
	data        []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:    make(map[string]memoryObject),
		Puts:       make(map[string]int),
		FailRemove: make(map[string]bool),
	}
}

func key(bucket, path string) string {
	return bucket + "/" + path
}

func (m *MemoryStore) PresignPut(_ context.Context, bucket, path string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s?expires=%d", key(bucket, path), int(ttl.Seconds())), nil
}

func (m *MemoryStore) Get(_ context.Context, bucket, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key(bucket, path)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key(bucket, path), ErrNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *MemoryStore) Put(_ context.Context, bucket, path, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key(bucket, path)] = memoryObject{contentType: contentType, data: append([]byte(nil), data...)}
	m.Puts[key(bucket, path)]++
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, bucket, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key(bucket, path)]
	return ok, nil
}

func (m *MemoryStore) Remove(_ context.Context, bucket, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRemove[key(bucket, path)] {
		return fmt.Errorf("remove %s: simulated failure", key(bucket, path))
	}
	delete(m.objects, key(bucket, path))
	return nil
}

// Keys lists stored object keys ("bucket/path").
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}
