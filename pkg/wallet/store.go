package wallet

import (
	"context"
	"time"
)

// Store persists the budget tree.
//
// UpdateChain is the atomicity primitive: it loads the identified wallets,
// hands mutable copies to fn, and persists every mutation or none. Stores
// acquire wallets in the order given; callers always pass chains root
// first, which keeps lock acquisition deadlock-free.
type Store interface {
	// Get returns a copy of the wallet.
	Get(ctx context.Context, id string) (*Wallet, error)

	// Create inserts a new wallet. The parent, when set, must exist.
	Create(ctx context.Context, w *Wallet) error

	// UpdateChain atomically applies fn to the identified wallets.
	// fn receives wallets keyed by id; returning an error aborts with no
	// mutation persisted.
	UpdateChain(ctx context.Context, ids []string, fn func(map[string]*Wallet) error) error

	// List returns all wallets for a tenant. Tenant "" lists every wallet.
	List(ctx context.Context, tenant string) ([]*Wallet, error)

	// AppendTransfer records an immutable transfer entry.
	AppendTransfer(ctx context.Context, rec TransferRecord) error

	// Close releases store resources.
	Close() error
}

// nowFunc is overridable in tests.
var nowFunc = time.Now
