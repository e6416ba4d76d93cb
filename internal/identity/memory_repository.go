package identity

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type memoryRepository struct {
	mu         sync.RWMutex
	principals map[common.Address]Principal
}

// NewMemoryRepository builds an in-memory principal store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{principals: make(map[common.Address]Principal)}
}

func (r *memoryRepository) Touch(_ context.Context, addr common.Address, at time.Time) (Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[addr]
	if !ok {
		p = Principal{Address: addr, CreatedAt: at.UTC()}
	}
	p.LastLogin = at.UTC()
	r.principals[addr] = p
	return p, nil
}

func (r *memoryRepository) FindByAddress(_ context.Context, addr common.Address) (Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.principals[addr]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepository) UpdateTokenVersion(_ context.Context, addr common.Address, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.principals[addr]
	if !ok {
		return ErrNotFound
	}
	p.TokenVersion = version
	r.principals[addr] = p
	return nil
}
