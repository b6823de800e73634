package blacklist

import (
	"context"
	"sort"
	"sync"

	"github.com/liamashdown/amlwatch/internal/aml"
)

// MemoryRepository keeps entries in a map. It backs BLACKLIST_BACKEND=memory
// and tests; contents do not survive a restart.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[aml.Address]aml.BlacklistEntry
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[aml.Address]aml.BlacklistEntry)}
}

func (r *MemoryRepository) Get(_ context.Context, address aml.Address) (*aml.BlacklistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[address]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (r *MemoryRepository) Upsert(_ context.Context, entry *aml.BlacklistEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.Address] = *entry
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, address aml.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, address)
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]aml.BlacklistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]aml.BlacklistEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}
