// Package pgstore persists credit accounts in PostgreSQL.
//
// PostgreSQL is the durable source of truth. It sits behind the ledger's
// cache and is written either synchronously (daily refresh, provisioning,
// plan changes) or asynchronously by the write-back flusher.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/yaman-694/ui-analyser/internal/credits"
)

// Store is a credits.Store backed by PostgreSQL.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open connects to PostgreSQL, tunes the pool and verifies connectivity.
func Open(postgresURL string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	// Writes arrive batched from the flusher, so the pool stays modest.
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	return New(db, logger), nil
}

// New wraps an existing database handle. Used by Open and by tests.
func New(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: logger.With().Str("component", "pgstore").Logger(),
	}
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetAccount loads the account, returning credits.ErrNotFound when absent.
func (s *Store) GetAccount(ctx context.Context, userID string) (credits.Account, error) {
	var (
		acct credits.Account
		plan string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, plan, balance, last_refreshed_at
		FROM credit_accounts
		WHERE user_id = $1
	`, userID).Scan(&acct.UserID, &plan, &acct.Balance, &acct.LastRefreshedAt)

	if err == sql.ErrNoRows {
		return credits.Account{}, credits.ErrNotFound
	}
	if err != nil {
		return credits.Account{}, fmt.Errorf("query account: %w", err)
	}

	acct.Plan, err = credits.ParsePlan(plan)
	if err != nil {
		return credits.Account{}, fmt.Errorf("account %s: %w", userID, err)
	}
	return acct, nil
}

// SaveBalance persists a flushed balance.
func (s *Store) SaveBalance(ctx context.Context, userID string, balance int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_accounts
		SET balance = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, balance)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return checkAffected(res)
}

// SaveRefresh persists the outcome of a daily top-up.
func (s *Store) SaveRefresh(ctx context.Context, userID string, balance int64, refreshedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_accounts
		SET balance = $2, last_refreshed_at = $3, updated_at = NOW()
		WHERE user_id = $1
	`, userID, balance, refreshedAt)
	if err != nil {
		return fmt.Errorf("update refresh: %w", err)
	}
	return checkAffected(res)
}

// CreateAccount inserts a new account. Creating an account that already
// exists is a no-op, so provisioning webhooks can be delivered more than
// once safely.
func (s *Store) CreateAccount(ctx context.Context, acct credits.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, plan, balance, last_refreshed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, acct.UserID, string(acct.Plan), acct.Balance, acct.LastRefreshedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// SetPlan updates the subscription tier written by the billing webhook.
func (s *Store) SetPlan(ctx context.Context, userID string, plan credits.Plan) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credit_accounts
		SET plan = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, string(plan))
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return credits.ErrNotFound
	}
	return nil
}
