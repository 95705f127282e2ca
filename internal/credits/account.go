package credits

import "time"

// Account is the per-user credit record as persisted in the store.
//
// Accounts are created by the user-provisioning webhook and mutated only
// through the Ledger afterwards. They are never hard-deleted here.
type Account struct {
	UserID          string
	Plan            Plan
	Balance         int64
	LastRefreshedAt time.Time
}

// Snapshot is the cached view of an account. It carries the plan and the
// last refresh timestamp alongside the balance so that staleness checks can
// be answered from the cache alone.
type Snapshot struct {
	Balance         int64     `json:"balance"`
	Plan            Plan      `json:"plan"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}

func snapshotOf(acct Account) Snapshot {
	return Snapshot{
		Balance:         acct.Balance,
		Plan:            acct.Plan,
		LastRefreshedAt: acct.LastRefreshedAt,
	}
}
