// Package credits implements the credit ledger that gates website analyses.
//
// Every user holds a CreditAccount with a plan tier, a spendable balance and
// the timestamp of its last daily top-up. The ledger is the only component
// that reads or mutates balances. It splits state across two collaborators:
//
// 1. Cache - a TTL'd snapshot per user for sub-millisecond balance checks
// 2. Store - the durable source of truth, too slow to hit on every request
//
// Reads follow cache-aside: consult the cache, fall back to the store on a
// miss and repopulate the cache. Deductions follow write-back: the cache is
// updated synchronously so the same process immediately reads its own
// writes, while the store is updated asynchronously by the Flusher. The
// store may therefore lag the cache by up to one flush interval.
//
// Cache failures are never fatal: a broken or slow cache degrades every
// operation to a store read instead of failing the request, so the credit
// gate cannot take down the analysis flow on its own. Store failures on
// paths with no cache fallback surface as ErrStoreUnavailable.
package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yaman-694/ui-analyser/internal/metrics"
)

const (
	defaultCacheTimeout = 100 * time.Millisecond
	defaultStoreTimeout = 3 * time.Second
)

// Ledger is the in-process gateway for credit reads and mutations.
//
// Thread safety: all methods are safe for concurrent use. The pending-write
// set is the only mutable state shared with the Flusher and is guarded by
// its own mutex.
//
// Lifecycle: create once at startup with NewLedger, pair it with a Flusher,
// and use for the lifetime of the process.
type Ledger struct {
	cache   Cache
	store   Store
	pending *pendingSet
	log     zerolog.Logger

	cacheTimeout time.Duration
	storeTimeout time.Duration

	// now is swapped out in tests to cross day boundaries.
	now func() time.Time
}

// NewLedger creates a Ledger over the given cache and store.
func NewLedger(cache Cache, store Store, logger zerolog.Logger) *Ledger {
	return &Ledger{
		cache:        cache,
		store:        store,
		pending:      newPendingSet(),
		log:          logger.With().Str("component", "ledger").Logger(),
		cacheTimeout: defaultCacheTimeout,
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
	}
}

// GetBalance returns the user's current spendable balance. On a cache miss
// the store is consulted and the cache repopulated; the store is never
// mutated. Returns ErrNotFound if no account exists anywhere.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	snap, err := l.readSnapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return snap.Balance, nil
}

// Refresh applies the daily plan-based top-up at most once per calendar day
// (UTC). It is idempotent and safe to call on every request.
//
// A cached snapshot is taken as evidence that a staleness check already ran
// within the last cache TTL, so the operation returns without touching the
// store. A refresh can therefore land up to one TTL late after midnight;
// that window is a documented approximation, not a strict day boundary.
//
// Free-tier accounts never receive a top-up regardless of staleness.
func (l *Ledger) Refresh(ctx context.Context, userID string) error {
	cctx, cancel := context.WithTimeout(ctx, l.cacheTimeout)
	_, err := l.cache.Get(cctx, userID)
	cancel()
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		metrics.CacheErrors.Inc()
		l.log.Warn().Err(err).Str("user_id", userID).Msg("cache read failed, checking store")
	}

	acct, err := l.getAccount(ctx, userID)
	if err != nil {
		return err
	}

	snap := snapshotOf(acct)
	if acct.Plan != PlanFree && acct.LastRefreshedAt.Before(startOfDay(l.now())) {
		snap.Balance = acct.Plan.MaxDailyCredits()
		snap.LastRefreshedAt = l.now()

		// This path runs at most once per user per day, so a synchronous
		// store write is affordable. There is no cache fallback here: a
		// store failure must surface to the caller.
		sctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
		err := l.store.SaveRefresh(sctx, userID, snap.Balance, snap.LastRefreshedAt)
		cancel()
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: persist refresh: %v", ErrStoreUnavailable, err)
		}

		// The refresh just persisted the authoritative balance. Any pending
		// write for the user predates it (a re-queued failed flush, at the
		// latest from yesterday), and flushing it would overwrite the
		// top-up with a stale balance.
		l.pending.drop(userID)

		metrics.Refreshes.Inc()
		l.log.Info().
			Str("user_id", userID).
			Str("plan", string(acct.Plan)).
			Int64("balance", snap.Balance).
			Msg("daily credits refreshed")
	}

	l.writeCache(ctx, userID, snap)
	return nil
}

// Deduct spends amount credits, returning false when the balance is too low.
// A false return never mutates anything. On success the cache is updated
// synchronously and the new balance is queued for the Flusher to persist.
//
// The balance check and the cache write are separate round trips: concurrent
// deductions for one user can each observe the pre-deduction balance and all
// succeed. The resulting overspend is bounded by the number of requests in
// flight within one cache TTL window. This race is accepted; see Flusher.
func (l *Ledger) Deduct(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}

	snap, err := l.readSnapshot(ctx, userID)
	if err != nil {
		return false, err
	}

	if snap.Balance < amount {
		metrics.Deducts.WithLabelValues("insufficient").Inc()
		l.log.Debug().
			Str("user_id", userID).
			Int64("balance", snap.Balance).
			Int64("amount", amount).
			Msg("deduct rejected, insufficient credits")
		return false, nil
	}

	snap.Balance -= amount
	l.writeCache(ctx, userID, snap)
	l.pending.put(userID, snap.Balance)

	metrics.Deducts.WithLabelValues("ok").Inc()
	l.log.Debug().
		Str("user_id", userID).
		Int64("amount", amount).
		Int64("balance", snap.Balance).
		Msg("credits deducted")
	return true, nil
}

// InvalidateCache drops the user's cached snapshot so the next read observes
// the store directly. Used after out-of-band store writes (plan changes,
// admin balance fixes).
func (l *Ledger) InvalidateCache(ctx context.Context, userID string) error {
	cctx, cancel := context.WithTimeout(ctx, l.cacheTimeout)
	defer cancel()
	return l.cache.Invalidate(cctx, userID)
}

// PendingWrites returns a copy of the balances awaiting the next flush.
func (l *Ledger) PendingWrites() map[string]int64 {
	return l.pending.snapshot()
}

// readSnapshot is the shared cache-aside read: cache first, store on a miss,
// repopulate the cache with whatever the store said. Cache trouble of any
// kind is absorbed as a miss.
func (l *Ledger) readSnapshot(ctx context.Context, userID string) (Snapshot, error) {
	cctx, cancel := context.WithTimeout(ctx, l.cacheTimeout)
	snap, err := l.cache.Get(cctx, userID)
	cancel()
	switch {
	case err == nil:
		metrics.CacheHits.Inc()
		return snap, nil
	case errors.Is(err, ErrCacheMiss):
		metrics.CacheMisses.Inc()
	default:
		metrics.CacheErrors.Inc()
		l.log.Warn().Err(err).Str("user_id", userID).Msg("cache read failed, falling back to store")
	}

	acct, err := l.getAccount(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}

	snap = snapshotOf(acct)
	l.writeCache(ctx, userID, snap)
	return snap, nil
}

func (l *Ledger) getAccount(ctx context.Context, userID string) (Account, error) {
	sctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	acct, err := l.store.GetAccount(sctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("%w: read account: %v", ErrStoreUnavailable, err)
	}
	return acct, nil
}

// writeCache is best-effort: a failed cache write is logged and swallowed.
// The entry simply stays stale or absent until the next read repopulates it.
func (l *Ledger) writeCache(ctx context.Context, userID string, snap Snapshot) {
	cctx, cancel := context.WithTimeout(ctx, l.cacheTimeout)
	defer cancel()
	if err := l.cache.Set(cctx, userID, snap); err != nil {
		metrics.CacheErrors.Inc()
		l.log.Warn().Err(err).Str("user_id", userID).Msg("cache write failed")
	}
}

// startOfDay truncates t to the start of its UTC calendar day.
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
