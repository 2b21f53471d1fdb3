package configsvc

import (
	"context"
	"sync"

	"github.com/narvar/shipping-protection-sdk/protection"
)

// Store persists the last valid pricing configuration per retailer so
// native hosts can warm the widget across sessions. Implementations
// must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context, retailerMoniker string) (protection.SecureConfig, bool, error)
	Save(ctx context.Context, retailerMoniker string, cfg protection.SecureConfig) error
}

// MemoryStore is the default in-process Store, useful for tests and
// web embeddings where no durable storage is available.
type MemoryStore struct {
	mu      sync.Mutex
	configs map[string]protection.SecureConfig
}

// NewMemoryStore constructs an empty memory-backed store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]protection.SecureConfig)}
}

// Load implements the Store interface.
func (s *MemoryStore) Load(_ context.Context, retailerMoniker string) (protection.SecureConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[retailerMoniker]
	return cfg, ok, nil
}

// Save implements the Store interface.
func (s *MemoryStore) Save(_ context.Context, retailerMoniker string, cfg protection.SecureConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[retailerMoniker] = cfg
	return nil
}
