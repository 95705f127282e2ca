package credits

import (
	"context"
	"time"
)

// Store is the durable source of truth for credit accounts. Implementations
// must return ErrNotFound for mutations and reads against unknown users.
//
// CreateAccount and SetPlan exist for the provisioning and billing webhooks;
// the Ledger itself never creates accounts or changes plans.
type Store interface {
	GetAccount(ctx context.Context, userID string) (Account, error)
	SaveBalance(ctx context.Context, userID string, balance int64) error
	SaveRefresh(ctx context.Context, userID string, balance int64, refreshedAt time.Time) error
	CreateAccount(ctx context.Context, acct Account) error
	SetPlan(ctx context.Context, userID string, plan Plan) error
}

// Cache is the fast snapshot cache consulted before the store. Get returns
// ErrCacheMiss when no entry exists. Entries carry a bounded TTL, so the
// cache may lag the store by design.
type Cache interface {
	Get(ctx context.Context, userID string) (Snapshot, error)
	Set(ctx context.Context, userID string, snap Snapshot) error
	Invalidate(ctx context.Context, userID string) error
}
