package credits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCache is an in-memory Cache with injectable failures.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]Snapshot
	getErr  error
	setErr  error
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]Snapshot)}
}

func (c *fakeCache) Get(_ context.Context, userID string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return Snapshot{}, c.getErr
	}
	snap, ok := c.entries[userID]
	if !ok {
		return Snapshot{}, ErrCacheMiss
	}
	return snap, nil
}

func (c *fakeCache) Set(_ context.Context, userID string, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[userID] = snap
	c.sets++
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	mu           sync.Mutex
	accounts     map[string]Account
	getErr       error
	saveErr      error
	saveBalances int
	saveRefreshs int
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: make(map[string]Account)}
}

func (s *fakeStore) GetAccount(_ context.Context, userID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return Account{}, s.getErr
	}
	acct, ok := s.accounts[userID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (s *fakeStore) SaveBalance(_ context.Context, userID string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	acct, ok := s.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	acct.Balance = balance
	s.accounts[userID] = acct
	s.saveBalances++
	return nil
}

func (s *fakeStore) SaveRefresh(_ context.Context, userID string, balance int64, refreshedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	acct, ok := s.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	acct.Balance = balance
	acct.LastRefreshedAt = refreshedAt
	s.accounts[userID] = acct
	s.saveRefreshs++
	return nil
}

func (s *fakeStore) CreateAccount(_ context.Context, acct Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acct.UserID]; ok {
		return nil
	}
	s.accounts[acct.UserID] = acct
	return nil
}

func (s *fakeStore) SetPlan(_ context.Context, userID string, plan Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	acct.Plan = plan
	s.accounts[userID] = acct
	return nil
}

func (s *fakeStore) account(userID string) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[userID]
}

func newTestLedger(t *testing.T) (*Ledger, *fakeCache, *fakeStore) {
	t.Helper()
	cache := newFakeCache()
	store := newFakeStore()
	return NewLedger(cache, store, zerolog.Nop()), cache, store
}

func TestGetBalance_CacheMissPopulatesCache(t *testing.T) {
	ledger, cache, store := newTestLedger(t)
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanBase, Balance: 12, LastRefreshedAt: time.Now()}

	balance, err := ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)

	snap, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), snap.Balance)
	assert.Equal(t, PlanBase, snap.Plan)
}

func TestGetBalance_NotFound(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.GetBalance(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetBalance_StoreFailureSurfaces(t *testing.T) {
	ledger, _, store := newTestLedger(t)
	store.getErr = errors.New("connection refused")

	_, err := ledger.GetBalance(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestGetBalance_CacheFailureDegradesToStore(t *testing.T) {
	ledger, cache, store := newTestLedger(t)
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanPlus, Balance: 42, LastRefreshedAt: time.Now()}
	cache.getErr = errors.New("redis: connection pool timeout")

	balance, err := ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)
}

func TestDeduct_SuccessUpdatesCacheAndQueuesWrite(t *testing.T) {
	ledger, cache, store := newTestLedger(t)
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanBase, Balance: 10, LastRefreshedAt: time.Now()}

	ok, err := ledger.Deduct(context.Background(), "u1", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	balance, err := ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)

	assert.Equal(t, map[string]int64{"u1": 7}, ledger.PendingWrites())

	// The store has not been touched yet; that is the flusher's job.
	assert.Equal(t, int64(10), store.account("u1").Balance)

	snap, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.Balance)
}

func TestDeduct_InsufficientReturnsFalseWithoutMutation(t *testing.T) {
	ledger, _, store := newTestLedger(t)
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanBase, Balance: 2, LastRefreshedAt: time.Now()}

	ok, err := ledger.Deduct(context.Background(), "u1", 5)
	require.NoError(t, err)
	assert.False(t, ok)

	balance, err := ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
	assert.Empty(t, ledger.PendingWrites())
}

func TestDeduct_SequentialDrainsToZero(t *testing.T) {
	ledger, _, store := newTestLedger(t)
	const n = 20
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanBase, Balance: n, LastRefreshedAt: time.Now()}

	for i := 0; i < n; i++ {
		ok, err := ledger.Deduct(context.Background(), "u1", 1)
		require.NoError(t, err)
		require.True(t, ok, "deduct %d should succeed", i+1)
	}

	balance, err := ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	ok, err := ledger.Deduct(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeduct_RejectsNonPositiveAmount(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.Deduct(context.Background(), "u1", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ledger.Deduct(context.Background(), "u1", -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDeduct_NotFound(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.Deduct(context.Background(), "ghost", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefresh_StaleAccountToppedUp(t *testing.T) {
	ledger, cache, store := newTestLedger(t)
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanPlus, Balance: 3, LastRefreshedAt: yesterday}

	require.NoError(t, ledger.Refresh(context.Background(), "u1"))

	acct := store.account("u1")
	assert.Equal(t, PlanPlus.MaxDailyCredits(), acct.Balance)
	assert.True(t, acct.LastRefreshedAt.After(startOfDay(time.Now())),
		"last refresh should be moved to today")

	snap, err := cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, PlanPlus.MaxDailyCredits(), snap.Balance)
}

func TestRefresh_SameDayIsNoOp(t *testing.T) {
	ledger, _, store := newTestLedger(t)
	refreshedAt := time.Now().UTC()
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanBase, Balance: 7, LastRefreshedAt: refreshedAt}

	require.NoError(t, ledger.Refresh(context.Background(), "u1"))
	require.NoError(t, ledger.Refresh(context.Background(), "u1"))

	acct := store.account("u1")
	assert.Equal(t, int64(7), acct.Balance)
	assert.Equal(t, refreshedAt, acct.LastRefreshedAt)
	assert.Equal(t, 0, store.saveRefreshs)
}

func TestRefresh_CachePresenceShortCircuits(t *testing.T) {
	ledger, cache, store := newTestLedger(t)
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanBase, Balance: 1, LastRefreshedAt: yesterday}

	// A cache entry means the staleness check already ran recently; the
	// refresh may lag by up to one TTL and must not hit the store.
	require.NoError(t, cache.Set(context.Background(), "u1", Snapshot{Balance: 1, Plan: PlanBase, LastRefreshedAt: yesterday}))

	require.NoError(t, ledger.Refresh(context.Background(), "u1"))
	assert.Equal(t, int64(1), store.account("u1").Balance)
	assert.Equal(t, 0, store.saveRefreshs)
}

func TestRefresh_FreeTierNeverToppedUp(t *testing.T) {
	ledger, _, store := newTestLedger(t)
	lastWeek := time.Now().UTC().Add(-7 * 24 * time.Hour)
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanFree, Balance: 2, LastRefreshedAt: lastWeek}

	require.NoError(t, ledger.Refresh(context.Background(), "u1"))

	acct := store.account("u1")
	assert.Equal(t, int64(2), acct.Balance)
	assert.Equal(t, lastWeek, acct.LastRefreshedAt)
	assert.Equal(t, 0, store.saveRefreshs)
}

func TestRefresh_DayBoundaryWithInjectedClock(t *testing.T) {
	ledger, cache, store := newTestLedger(t)
	refreshedAt := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanBase, Balance: 0, LastRefreshedAt: refreshedAt}

	// Just before midnight, still the same UTC day: no top-up.
	ledger.now = func() time.Time { return time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC).Add(-1 * time.Second) }
	require.NoError(t, ledger.Refresh(context.Background(), "u1"))
	assert.Equal(t, 0, store.saveRefreshs)

	// Just past midnight the account is stale and gets its allotment back.
	require.NoError(t, cache.Invalidate(context.Background(), "u1"))
	ledger.now = func() time.Time { return time.Date(2026, 3, 11, 0, 0, 5, 0, time.UTC) }
	require.NoError(t, ledger.Refresh(context.Background(), "u1"))
	assert.Equal(t, 1, store.saveRefreshs)
	assert.Equal(t, PlanBase.MaxDailyCredits(), store.account("u1").Balance)
}

func TestRefresh_StoreWriteFailureIsHard(t *testing.T) {
	ledger, _, store := newTestLedger(t)
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanBase, Balance: 0, LastRefreshedAt: yesterday}
	store.saveErr = errors.New("write timeout")

	err := ledger.Refresh(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestRefresh_NotFound(t *testing.T) {
	ledger, _, _ := newTestLedger(t)

	err := ledger.Refresh(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

// The concrete end-to-end scenario: BASE user at zero with a stale refresh
// gets 20 credits, spends three, reads 17, and the flush persists 17.
func TestLedger_RefreshDeductFlushScenario(t *testing.T) {
	ledger, _, store := newTestLedger(t)
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	store.accounts["U"] = Account{UserID: "U", Plan: PlanBase, Balance: 0, LastRefreshedAt: yesterday}

	require.NoError(t, ledger.Refresh(context.Background(), "U"))
	assert.Equal(t, int64(20), store.account("U").Balance)

	for i := 0; i < 3; i++ {
		ok, err := ledger.Deduct(context.Background(), "U", 1)
		require.NoError(t, err)
		require.True(t, ok)
	}

	balance, err := ledger.GetBalance(context.Background(), "U")
	require.NoError(t, err)
	assert.Equal(t, int64(17), balance)
	assert.Equal(t, map[string]int64{"U": 17}, ledger.PendingWrites())

	flusher := NewFlusher(ledger, time.Minute, zerolog.Nop())
	flusher.FlushOnce(context.Background())

	assert.Equal(t, int64(17), store.account("U").Balance)
	assert.Empty(t, ledger.PendingWrites())
}

func TestInvalidateCache_NextReadSeesStore(t *testing.T) {
	ledger, _, store := newTestLedger(t)
	store.accounts["u1"] = Account{UserID: "u1", Plan: PlanBase, Balance: 5, LastRefreshedAt: time.Now()}

	_, err := ledger.GetBalance(context.Background(), "u1")
	require.NoError(t, err)

	// Out-of-band store write, e.g. the billing webhook changing the tier.
	require.NoError(t, store.SetPlan(context.Background(), "u1", PlanPlus))
	require.NoError(t, ledger.InvalidateCache(context.Background(), "u1"))

	snap, err := ledger.readSnapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, PlanPlus, snap.Plan)
}
