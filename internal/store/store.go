package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/ledgersmith/miniledger/internal/domain"
)

// RenderFunc produces the response payload persisted with a movement's
// idempotency record. It is called inside the store's atomic unit with the
// post-mutation accounts, in the movement's leg order.
type RenderFunc func(accounts []domain.Account) ([]byte, error)

// Store is durable home for accounts, ledger entries and idempotency
// records. Two implementations exist: memory (tests, development) and
// postgres (production), selected by configuration.
type Store interface {
	// CreateAccount allocates a new account with a zero balance.
	CreateAccount(ctx context.Context, ownerName string) (*domain.Account, error)

	// GetAccount returns domain.ErrAccountNotFound when the id is unknown.
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)

	// ListEntries returns all entries for an account, newest first.
	// Entries sharing a timestamp order by insertion, latest insert first.
	ListEntries(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error)

	// LookupIdempotency returns (nil, nil) on a miss.
	LookupIdempotency(ctx context.Context, route, key string) (*domain.IdempotencyRecord, error)

	// Apply commits a movement as one atomic unit: every leg's balance
	// read-modify-write and ledger entry, plus the idempotency record
	// whose response payload is obtained from render. Nothing persists on
	// failure. Returns domain.ErrAccountNotFound or
	// domain.ErrInsufficientFunds on a failed precondition, and
	// domain.ErrIdempotencyInProgress when another writer holds the same
	// (route, key); the caller re-reads the record in that case.
	Apply(ctx context.Context, mv domain.Movement, render RenderFunc) ([]domain.Account, error)

	Close()
}
