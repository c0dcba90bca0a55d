package ledger

import (
	"context"
	"sort"
	"sync"

	"mailbuild/internal/stage"
)

// Memory is an in-memory Ledger. Nothing survives the process, which makes
// it useful for tests and for one-off runs that should upload everything.
// It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	uploads map[string]stage.UploadRecord // "destination\x00key" -> record
	runs    []RunRecord
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{uploads: make(map[string]stage.UploadRecord)}
}

func uploadKey(destination, key string) string {
	return destination + "\x00" + key
}

func (m *Memory) Lookup(_ context.Context, destination, key string) (*stage.UploadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.uploads[uploadKey(destination, key)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) Record(_ context.Context, rec stage.UploadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[uploadKey(rec.Destination, rec.Key)] = rec
	return nil
}

func (m *Memory) Uploads(_ context.Context, destination string) ([]stage.UploadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []stage.UploadRecord
	for _, rec := range m.uploads {
		if rec.Destination == destination {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) Forget(_ context.Context, destination string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, rec := range m.uploads {
		if rec.Destination == destination {
			delete(m.uploads, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) RecordRun(_ context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// Runs returns the most recent runs, newest first.
func (m *Memory) Runs(_ context.Context, limit int) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RunRecord, len(m.runs))
	copy(out, m.runs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

// Discard is a Ledger that remembers nothing, so every upload is performed.
type Discard struct{}

func (Discard) Lookup(context.Context, string, string) (*stage.UploadRecord, error) { return nil, nil }
func (Discard) Record(context.Context, stage.UploadRecord) error                    { return nil }
func (Discard) Uploads(context.Context, string) ([]stage.UploadRecord, error)       { return nil, nil }
func (Discard) Forget(context.Context, string) (int64, error)                       { return 0, nil }
func (Discard) RecordRun(context.Context, RunRecord) error                          { return nil }
func (Discard) Runs(context.Context, int) ([]RunRecord, error)                      { return nil, nil }
func (Discard) Close() error                                                        { return nil }

var (
	_ Ledger = (*Memory)(nil)
	_ Ledger = Discard{}
)
