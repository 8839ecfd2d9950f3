package wallet

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is the in-process store used for tests and single-node
// deployments. Lock granularity is per wallet; UpdateChain acquires the
// locks in the order the chain is given (root first).
type MemoryStore struct {
	mu        sync.RWMutex
	wallets   map[string]*walletSlot
	transfers []TransferRecord
}

type walletSlot struct {
	mu sync.Mutex
	w  *Wallet
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*walletSlot),
	}
}

// Get returns a copy of the wallet.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Wallet, error) {
	s.mu.RLock()
	slot, ok := s.wallets[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.w.Clone(), nil
}

// Create inserts a new wallet, materializing its ancestor path.
func (s *MemoryStore) Create(ctx context.Context, w *Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.wallets[w.ID]; exists {
		return fmt.Errorf("wallet %s already exists", w.ID)
	}

	c := w.Clone()
	if c.NotifiedThresholds == nil {
		c.NotifiedThresholds = make(map[float64]bool)
	}

	if c.ParentID == "" {
		c.Path = []string{c.ID}
	} else {
		parent, ok := s.wallets[c.ParentID]
		if !ok {
			return fmt.Errorf("%w: parent %s", ErrNotFound, c.ParentID)
		}
		for _, ancestor := range parent.w.Path {
			if ancestor == c.ID {
				return ErrCycle
			}
		}
		c.Path = append(append([]string(nil), parent.w.Path...), c.ID)
	}

	now := nowFunc()
	c.CreatedAt = now
	c.UpdatedAt = now

	s.wallets[c.ID] = &walletSlot{w: c}
	return nil
}

// UpdateChain atomically applies fn to the identified wallets.
func (s *MemoryStore) UpdateChain(ctx context.Context, ids []string, fn func(map[string]*Wallet) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	slots := make([]*walletSlot, 0, len(ids))
	for _, id := range ids {
		slot, ok := s.wallets[id]
		if !ok {
			s.mu.RUnlock()
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		slots = append(slots, slot)
	}
	s.mu.RUnlock()

	// Chains are always presented root first, so acquisition order is
	// consistent across concurrent requests.
	for _, slot := range slots {
		slot.mu.Lock()
	}
	defer func() {
		for i := len(slots) - 1; i >= 0; i-- {
			slots[i].mu.Unlock()
		}
	}()

	working := make(map[string]*Wallet, len(ids))
	for i, id := range ids {
		working[id] = slots[i].w.Clone()
	}

	if err := fn(working); err != nil {
		return err
	}

	now := nowFunc()
	for i, id := range ids {
		updated := working[id]
		updated.Version = slots[i].w.Version + 1
		updated.UpdatedAt = now
		slots[i].w = updated
	}
	return nil
}

// List returns all wallets for a tenant.
func (s *MemoryStore) List(ctx context.Context, tenant string) ([]*Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Wallet
	for _, slot := range s.wallets {
		slot.mu.Lock()
		if tenant == "" || slot.w.Tenant == tenant {
			out = append(out, slot.w.Clone())
		}
		slot.mu.Unlock()
	}
	return out, nil
}

// AppendTransfer records an immutable transfer entry.
func (s *MemoryStore) AppendTransfer(ctx context.Context, rec TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers = append(s.transfers, rec)
	return nil
}

// Transfers returns a copy of the transfer log.
func (s *MemoryStore) Transfers() []TransferRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TransferRecord(nil), s.transfers...)
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
