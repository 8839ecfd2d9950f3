package wallet

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "wallets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteCreateAndGet(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "org", Tenant: "t1", Kind: KindOrganization, HardLimit: 1000,
		SoftThresholds: []float64{0.8},
	}))
	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "user", Tenant: "t1", ParentID: "org", Kind: KindUser, HardLimit: 100,
	}))

	w, err := store.Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, []string{"org", "user"}, w.Path)
	assert.Equal(t, 100.0, w.HardLimit)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteUpdateChainAtomicity(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Wallet{ID: "org", Tenant: "t1", Kind: KindOrganization, HardLimit: 1000}))
	require.NoError(t, store.Create(ctx, &Wallet{ID: "user", Tenant: "t1", ParentID: "org", Kind: KindUser, HardLimit: 100}))

	err := store.UpdateChain(ctx, []string{"org", "user"}, func(chain map[string]*Wallet) error {
		chain["org"].Reserved += 10
		chain["user"].Reserved += 10
		return nil
	})
	require.NoError(t, err)

	for _, id := range []string{"org", "user"} {
		w, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 10.0, w.Reserved)
	}

	// A failing mutation persists nothing.
	sentinel := assert.AnError
	err = store.UpdateChain(ctx, []string{"org", "user"}, func(chain map[string]*Wallet) error {
		chain["org"].Reserved += 999
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	w, _ := store.Get(ctx, "org")
	assert.Equal(t, 10.0, w.Reserved)
}

func TestSQLiteServiceRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Wallet{ID: "w", Tenant: "t1", Kind: KindUser, HardLimit: 100}))

	svc := NewService(store, ServiceConfig{})
	res, err := svc.Reserve(ctx, "w", 40)
	require.NoError(t, err)
	require.NoError(t, svc.Commit(ctx, res, 25))

	w, err := store.Get(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, 25.0, w.Spent)
	assert.Equal(t, 0.0, w.Reserved)
}
