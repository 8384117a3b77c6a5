// Package memory implements store.Store entirely in process memory.
// It is the reference implementation used by tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgersmith/miniledger/internal/domain"
	"github.com/ledgersmith/miniledger/internal/store"
)

type idemKey struct {
	route string
	key   string
}

// Store keeps all state behind a single mutex, so every Apply is trivially
// atomic and idempotency check-then-act races cannot occur.
type Store struct {
	mu          sync.Mutex
	accounts    map[uuid.UUID]domain.Account
	entries     map[uuid.UUID][]domain.LedgerEntry
	idempotency map[idemKey]domain.IdempotencyRecord
	now         func() time.Time
}

func New() *Store {
	return &Store{
		accounts:    make(map[uuid.UUID]domain.Account),
		entries:     make(map[uuid.UUID][]domain.LedgerEntry),
		idempotency: make(map[idemKey]domain.IdempotencyRecord),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) CreateAccount(ctx context.Context, ownerName string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := domain.Account{
		ID:        uuid.New(),
		OwnerName: ownerName,
		CreatedAt: s.now(),
		Balance:   0,
	}
	s.accounts[account.ID] = account
	s.entries[account.ID] = nil
	return &account, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

// ListEntries returns the account's entries newest first. Entries are held
// in insertion order, so walking the slice backwards yields both the
// timestamp ordering and the latest-insert-first tie break.
func (s *Store) ListEntries(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, domain.ErrAccountNotFound
	}

	stored := s.entries[accountID]
	result := make([]domain.LedgerEntry, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		result = append(result, stored[i])
	}
	return result, nil
}

func (s *Store) LookupIdempotency(ctx context.Context, route, key string) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.idempotency[idemKey{route, key}]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *Store) Apply(ctx context.Context, mv domain.Movement, render store.RenderFunc) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.idempotency[idemKey{mv.Route, mv.Key}]; exists {
		return nil, domain.ErrIdempotencyInProgress
	}

	// Validate every leg before touching any state, so a failed
	// precondition leaves nothing behind.
	updated := make([]domain.Account, 0, len(mv.Legs))
	for _, leg := range mv.Legs {
		account, ok := s.accounts[leg.AccountID]
		if !ok {
			return nil, domain.ErrAccountNotFound
		}
		if account.Balance+leg.Delta < 0 {
			return nil, domain.ErrInsufficientFunds
		}
		account.Balance += leg.Delta
		updated = append(updated, account)
	}

	response, err := render(updated)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i, leg := range mv.Legs {
		s.accounts[leg.AccountID] = updated[i]
		s.entries[leg.AccountID] = append(s.entries[leg.AccountID], domain.LedgerEntry{
			ID:        uuid.New(),
			TS:        now,
			AccountID: leg.AccountID,
			Amount:    leg.Delta,
			Kind:      leg.Kind,
			Memo:      mv.Memo,
		})
	}

	s.idempotency[idemKey{mv.Route, mv.Key}] = domain.IdempotencyRecord{
		Route:       mv.Route,
		Key:         mv.Key,
		Fingerprint: mv.Fingerprint,
		Response:    response,
	}
	return updated, nil
}

func (s *Store) Close() {}

var _ store.Store = (*Store)(nil)
