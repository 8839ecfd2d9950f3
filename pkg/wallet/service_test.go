package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []ThresholdEvent
}

func (n *recordingNotifier) NotifyThreshold(event ThresholdEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func newTestService(t *testing.T, notifier ThresholdNotifier) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, ServiceConfig{Notifier: notifier})
	return svc, store
}

func seedTree(t *testing.T, store *MemoryStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "org", Tenant: "t1", Kind: KindOrganization, HardLimit: 10000,
	}))
	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "team", Tenant: "t1", ParentID: "org", Kind: KindTeam, HardLimit: 5000,
	}))
	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "user", Tenant: "t1", ParentID: "team", Kind: KindUser, HardLimit: 1000,
	}))
}

func TestReserveCommitRelease(t *testing.T) {
	svc, store := newTestService(t, nil)
	seedTree(t, store)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, "user", 100)
	require.NoError(t, err)
	require.Equal(t, []string{"org", "team", "user"}, res.Chain)

	// Reserved shows on every ancestor.
	for _, id := range []string{"org", "team", "user"} {
		w, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 100.0, w.Reserved, "wallet %s", id)
	}

	// Commit less than reserved: the remainder is released.
	require.NoError(t, svc.Commit(ctx, res, 60))
	for _, id := range []string{"org", "team", "user"} {
		w, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 60.0, w.Spent, "wallet %s", id)
		assert.Equal(t, 0.0, w.Reserved, "wallet %s", id)
	}

	// Release returns everything.
	res2, err := svc.Reserve(ctx, "user", 50)
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, res2))
	w, err := store.Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, 60.0, w.Spent)
	assert.Equal(t, 0.0, w.Reserved)
}

func TestReserveAncestorRollback(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	// Parent tighter than the child: the chain walk must refuse and no
	// partial increment may persist.
	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "org", Tenant: "t1", Kind: KindOrganization, HardLimit: 50,
	}))
	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "user", Tenant: "t1", ParentID: "org", Kind: KindUser, HardLimit: 500,
	}))

	_, err := svc.Reserve(ctx, "user", 100)
	require.Error(t, err)
	assert.True(t, IsInsufficient(err))

	var ie *InsufficientError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "org", ie.WalletID)

	for _, id := range []string{"org", "user"} {
		w, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0.0, w.Reserved, "wallet %s", id)
	}
}

func TestBoundaryExactFit(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "w", Tenant: "t1", Kind: KindUser, HardLimit: 100,
	}))

	// Exactly the remaining budget succeeds.
	res, err := svc.Reserve(ctx, "w", 100)
	require.NoError(t, err)
	require.NoError(t, svc.Commit(ctx, res, 100))

	// One more unit is refused.
	_, err = svc.Reserve(ctx, "w", 1)
	assert.True(t, IsInsufficient(err))
}

func TestConcurrentDepletion(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "w", Tenant: "t1", Kind: KindUser, HardLimit: 1000, Spent: 900,
	}))

	const workers = 10
	const amount = 20.0

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Reserve(ctx, "w", amount)
			if err != nil {
				return
			}
			if err := svc.Commit(ctx, res, amount); err != nil {
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()

	w, err := store.Get(ctx, "w")
	require.NoError(t, err)

	// Exactly the requests that fit were admitted; no double billing.
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 900.0+amount*float64(succeeded), w.Spent)
	assert.LessOrEqual(t, w.Spent+w.Reserved, 1000.0)
}

func TestCommitOverageAllowed(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "w", Tenant: "t1", Kind: KindUser, HardLimit: 100,
	}))

	// An in-flight stream may settle above its reservation; the commit
	// applies rather than failing, and the next reserve is refused.
	res, err := svc.Reserve(ctx, "w", 50)
	require.NoError(t, err)
	require.NoError(t, svc.Commit(ctx, res, 110))

	w, err := store.Get(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, 110.0, w.Spent)

	_, err = svc.Reserve(ctx, "w", 1)
	assert.True(t, IsInsufficient(err))
}

func TestSoftThresholdsEdgeTriggered(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, store := newTestService(t, notifier)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "w", Tenant: "t1", Kind: KindUser, HardLimit: 100,
		SoftThresholds: []float64{0.8, 0.9},
	}))

	res, err := svc.Reserve(ctx, "w", 85)
	require.NoError(t, err)
	require.NoError(t, svc.Commit(ctx, res, 85))
	assert.Equal(t, 1, notifier.count(), "crossing 0.8 fires once")

	// Staying above the threshold does not re-fire it.
	res, err = svc.Reserve(ctx, "w", 2)
	require.NoError(t, err)
	require.NoError(t, svc.Commit(ctx, res, 2))
	assert.Equal(t, 1, notifier.count())

	// Crossing the next threshold fires exactly one more.
	res, err = svc.Reserve(ctx, "w", 5)
	require.NoError(t, err)
	require.NoError(t, svc.Commit(ctx, res, 5))
	assert.Equal(t, 2, notifier.count())
}

func TestTransfer(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "a", Tenant: "t1", Kind: KindTeam, HardLimit: 100,
	}))
	require.NoError(t, store.Create(ctx, &Wallet{
		ID: "b", Tenant: "t1", Kind: KindTeam, HardLimit: 100,
	}))

	require.Error(t, svc.Transfer(ctx, "a", "b", 50, ""), "approver required")
	require.NoError(t, svc.Transfer(ctx, "a", "b", 50, "admin@t1"))

	a, _ := store.Get(ctx, "a")
	b, _ := store.Get(ctx, "b")
	assert.Equal(t, 50.0, a.HardLimit)
	assert.Equal(t, 150.0, b.HardLimit)

	transfers := store.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, "admin@t1", transfers[0].Approver)
}

func TestBalanceEffectiveAvailable(t *testing.T) {
	svc, store := newTestService(t, nil)
	seedTree(t, store)
	ctx := context.Background()

	// Spend most of the team budget; the user's effective available is
	// bounded by the team, not its own limit.
	res, err := svc.Reserve(ctx, "team", 4500)
	require.NoError(t, err)
	require.NoError(t, svc.Commit(ctx, res, 4500))

	balance, err := svc.Balance(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, 500.0, balance.EffectiveAvailable)
}

func TestCycleRejected(t *testing.T) {
	_, store := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Wallet{ID: "a", Tenant: "t1", Kind: KindTeam, HardLimit: 1}))
	err := store.Create(ctx, &Wallet{ID: "a", Tenant: "t1", Kind: KindTeam, HardLimit: 1})
	require.Error(t, err, "duplicate id rejected")
}

func TestReleaseUnknownReservation(t *testing.T) {
	svc, store := newTestService(t, nil)
	seedTree(t, store)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, "user", 10)
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, res))

	// A handle settles exactly once.
	err = svc.Release(ctx, res)
	assert.ErrorIs(t, err, ErrReservationNotFound)
}
