// Package postgres implements store.Store on PostgreSQL via pgx.
package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgersmith/miniledger/internal/domain"
	"github.com/ledgersmith/miniledger/internal/store"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY,
			owner_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			balance BIGINT NOT NULL CHECK (balance >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id UUID PRIMARY KEY,
			seq BIGSERIAL,
			account_id UUID NOT NULL REFERENCES accounts(id),
			amount BIGINT NOT NULL,
			kind TEXT NOT NULL,
			memo TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account_ts
			ON ledger_entries (account_id, ts DESC, seq DESC)`,
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			route TEXT NOT NULL,
			key TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			response JSONB,
			PRIMARY KEY (route, key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema setup failed: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, ownerName string) (*domain.Account, error) {
	account := domain.Account{
		ID:        uuid.New(),
		OwnerName: ownerName,
		CreatedAt: time.Now().UTC(),
		Balance:   0,
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO accounts (id, owner_name, created_at, balance) VALUES ($1, $2, $3, $4)",
		account.ID, account.OwnerName, account.CreatedAt, account.Balance)
	if err != nil {
		return nil, fmt.Errorf("account insert failed: %w", err)
	}
	return &account, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	err := s.pool.QueryRow(ctx,
		"SELECT id, owner_name, created_at, balance FROM accounts WHERE id = $1", id).
		Scan(&account.ID, &account.OwnerName, &account.CreatedAt, &account.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account query failed: %w", err)
	}
	return &account, nil
}

func (s *Store) ListEntries(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("account existence check failed: %w", err)
	}
	if !exists {
		return nil, domain.ErrAccountNotFound
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, account_id, amount, kind, memo FROM ledger_entries
		 WHERE account_id = $1 ORDER BY ts DESC, seq DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("entries query failed: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var entry domain.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.TS, &entry.AccountID, &entry.Amount, &entry.Kind, &entry.Memo); err != nil {
			return nil, fmt.Errorf("entry scan failed: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) LookupIdempotency(ctx context.Context, route, key string) (*domain.IdempotencyRecord, error) {
	record := domain.IdempotencyRecord{Route: route, Key: key}
	err := s.pool.QueryRow(ctx,
		"SELECT fingerprint, response FROM idempotency_keys WHERE route = $1 AND key = $2",
		route, key).Scan(&record.Fingerprint, &record.Response)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}
	return &record, nil
}

// Apply runs the whole movement in one transaction: the idempotency key is
// reserved first so a concurrent duplicate fails fast on the primary key,
// then account rows are locked FOR UPDATE in sorted id order to prevent
// deadlocks, balances are checked and updated, entries inserted, and the
// reservation finalized with the rendered response before commit.
func (s *Store) Apply(ctx context.Context, mv domain.Movement, render store.RenderFunc) ([]domain.Account, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"INSERT INTO idempotency_keys (route, key, fingerprint) VALUES ($1, $2, $3)",
		mv.Route, mv.Key, mv.Fingerprint)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrIdempotencyInProgress
		}
		return nil, fmt.Errorf("key reservation failed: %w", err)
	}

	accounts := make(map[uuid.UUID]*domain.Account, len(mv.Legs))
	for _, id := range lockOrder(mv.Legs) {
		var account domain.Account
		err := tx.QueryRow(ctx,
			"SELECT id, owner_name, created_at, balance FROM accounts WHERE id = $1 FOR UPDATE", id).
			Scan(&account.ID, &account.OwnerName, &account.CreatedAt, &account.Balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("lock acquisition failed: %w", err)
		}
		accounts[id] = &account
	}

	for _, leg := range mv.Legs {
		account := accounts[leg.AccountID]
		if account.Balance+leg.Delta < 0 {
			return nil, domain.ErrInsufficientFunds
		}
		account.Balance += leg.Delta
	}

	now := time.Now().UTC()
	for _, leg := range mv.Legs {
		_, err = tx.Exec(ctx,
			"UPDATE accounts SET balance = $1 WHERE id = $2",
			accounts[leg.AccountID].Balance, leg.AccountID)
		if err != nil {
			return nil, fmt.Errorf("balance update failed: %w", err)
		}
		_, err = tx.Exec(ctx,
			"INSERT INTO ledger_entries (id, account_id, amount, kind, memo, ts) VALUES ($1, $2, $3, $4, $5, $6)",
			uuid.New(), leg.AccountID, leg.Delta, leg.Kind, mv.Memo, now)
		if err != nil {
			return nil, fmt.Errorf("ledger entry insert failed: %w", err)
		}
	}

	updated := make([]domain.Account, 0, len(mv.Legs))
	for _, leg := range mv.Legs {
		updated = append(updated, *accounts[leg.AccountID])
	}

	response, err := render(updated)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		"UPDATE idempotency_keys SET response = $1 WHERE route = $2 AND key = $3",
		response, mv.Route, mv.Key)
	if err != nil {
		return nil, fmt.Errorf("idempotency finalize failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return updated, nil
}

// lockOrder returns the distinct account ids of a movement sorted by their
// byte representation, the order in which row locks are taken.
func lockOrder(legs []domain.Leg) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(legs))
	seen := make(map[uuid.UUID]bool, len(legs))
	for _, leg := range legs {
		if !seen[leg.AccountID] {
			seen[leg.AccountID] = true
			ids = append(ids, leg.AccountID)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

var _ store.Store = (*Store)(nil)
