package testutil

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"mailbuild/internal/pipeline"
	"mailbuild/internal/stage"
)

// StoredObject is an object captured by MemoryStore.
type StoredObject struct {
	stage.Object
	Data []byte
}

// MemoryStore is an in-memory stage.ObjectStore. Safe for concurrent use.
type MemoryStore struct {
	name string

	mu      sync.Mutex
	objects map[string]StoredObject
	puts    int
	// FailTimes makes the next n Puts fail with a transient error.
	failTimes int
}

// NewMemoryStore creates an empty store identified by name.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, objects: make(map[string]StoredObject)}
}

func (m *MemoryStore) Destination() string { return m.name }

func (m *MemoryStore) Put(ctx context.Context, obj stage.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	if int64(len(data)) != obj.Size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", obj.Size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failTimes > 0 {
		m.failTimes--
		return pipeline.Transientf("put %s: connection reset", obj.Key)
	}
	obj.Body = nil
	m.objects[obj.Key] = StoredObject{Object: obj, Data: data}
	return nil
}

// FailNext makes the next n Puts fail with a transient error.
func (m *MemoryStore) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTimes = n
}

// Get returns the stored object for key.
func (m *MemoryStore) Get(key string) (StoredObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Keys returns the stored keys, sorted.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Puts returns how many times Put was called.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

var _ stage.ObjectStore = (*MemoryStore)(nil)
