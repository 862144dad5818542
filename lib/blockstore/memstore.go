package blockstore

import (
	"context"
	"sync"

	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/lib/types"
)

type memKey struct {
	org types.OrganizationID
	id  types.BlockID
}

// MemStore is a single-node, in-memory block store, used for tests and
// single-node deployments and as one node of a raid5.Store.
type MemStore struct {
	mu   sync.RWMutex
	data map[memKey][]byte
}

// NewMemStore builds a ready-to-use MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[memKey][]byte)}
}

// Create stores data for id, failing with AlreadyExists if already present.
func (m *MemStore) Create(ctx context.Context, org types.OrganizationID, id types.BlockID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memKey{org, id}
	if _, ok := m.data[key]; ok {
		return trace.AlreadyExists("block %s already exists", id)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[key] = stored
	return nil
}

// Read returns the stored bytes for id, or NotFound.
func (m *MemStore) Read(ctx context.Context, org types.OrganizationID, id types.BlockID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[memKey{org, id}]
	if !ok {
		return nil, trace.NotFound("block %s not found", id)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

var _ Store = (*MemStore)(nil)
