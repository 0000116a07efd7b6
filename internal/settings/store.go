package settings

import "sync"

// Blob is a nested JSON-shaped settings record.
type Blob = map[string]any

// Store is the host's persistent settings registry, keyed by extension.
// Set only stages a blob; Persist flushes staged blobs.
type Store interface {
	Get(key string) (Blob, bool)
	Set(key string, blob Blob)
	Persist() error
}

// MemoryStore keeps blobs in process. Get returns the stored map itself, so
// callers observe in-place edits the way a host's shared settings object would.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
	// OnPersist, when set, runs on every Persist call.
	OnPersist func() error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]Blob)}
}

func (s *MemoryStore) Get(key string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	return b, ok
}

func (s *MemoryStore) Set(key string, blob Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = blob
}

func (s *MemoryStore) Persist() error {
	if s.OnPersist != nil {
		return s.OnPersist()
	}
	return nil
}
