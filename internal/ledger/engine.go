// Package ledger implements the transaction engine: deposits, withdrawals,
// transfers and statement queries on top of a store.Store.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgersmith/miniledger/internal/domain"
	"github.com/ledgersmith/miniledger/internal/events"
	"github.com/ledgersmith/miniledger/internal/store"
)

const (
	RouteDeposit  = "deposit"
	RouteWithdraw = "withdraw"
	RouteTransfer = "transfer"

	// DefaultStatementLimit is the page size when the caller does not
	// supply one.
	DefaultStatementLimit = 50
)

// Engine enforces the ledger invariants: non-negative balances, exactly-once
// effect per idempotency key, and atomic double-entry transfers. All
// dependencies are passed in explicitly.
type Engine struct {
	store     store.Store
	publisher events.Publisher
}

func NewEngine(s store.Store, publisher events.Publisher) *Engine {
	if publisher == nil {
		publisher = events.LogPublisher{}
	}
	return &Engine{store: s, publisher: publisher}
}

func (e *Engine) CreateAccount(ctx context.Context, ownerName string) (*domain.Account, error) {
	if strings.TrimSpace(ownerName) == "" {
		return nil, fmt.Errorf("%w: owner name must not be empty", domain.ErrValidation)
	}
	return e.store.CreateAccount(ctx, ownerName)
}

func (e *Engine) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return e.store.GetAccount(ctx, id)
}

// Deposit credits amount to the account and appends one CREDIT entry.
func (e *Engine) Deposit(ctx context.Context, accountID uuid.UUID, amount int64, memo, idempotencyKey string) (*domain.Account, error) {
	if amount < 1 {
		return nil, fmt.Errorf("%w: amount must be at least 1", domain.ErrValidation)
	}

	mv := domain.Movement{
		Route:       RouteDeposit,
		Key:         idempotencyKey,
		Fingerprint: fingerprint(RouteDeposit, accountID.String(), amount, memo),
		Memo:        memo,
		Legs:        []domain.Leg{{AccountID: accountID, Delta: amount, Kind: domain.EntryCredit}},
	}
	return e.applySingle(ctx, mv, amount)
}

// Withdraw debits amount from the account and appends one DEBIT entry.
// An insufficient balance fails the whole operation and caches nothing:
// a rejected precondition is not an idempotent response.
func (e *Engine) Withdraw(ctx context.Context, accountID uuid.UUID, amount int64, memo, idempotencyKey string) (*domain.Account, error) {
	if amount < 1 {
		return nil, fmt.Errorf("%w: amount must be at least 1", domain.ErrValidation)
	}

	mv := domain.Movement{
		Route:       RouteWithdraw,
		Key:         idempotencyKey,
		Fingerprint: fingerprint(RouteWithdraw, accountID.String(), amount, memo),
		Memo:        memo,
		Legs:        []domain.Leg{{AccountID: accountID, Delta: -amount, Kind: domain.EntryDebit}},
	}
	return e.applySingle(ctx, mv, amount)
}

// Transfer moves amount from source to dest: one DEBIT entry on source and
// one CREDIT entry on dest sharing the memo, applied with both balance
// updates as a single atomic unit.
func (e *Engine) Transfer(ctx context.Context, sourceID, destID uuid.UUID, amount int64, memo, idempotencyKey string) (*domain.TransferResult, error) {
	if amount < 1 {
		return nil, fmt.Errorf("%w: amount must be at least 1", domain.ErrValidation)
	}
	// Checked before any idempotency interaction: a self-transfer is a
	// pure function of input and re-fails deterministically on every call.
	if sourceID == destID {
		return nil, fmt.Errorf("%w: cannot transfer to same account", domain.ErrInvalidArgument)
	}

	mv := domain.Movement{
		Route:       RouteTransfer,
		Key:         idempotencyKey,
		Fingerprint: fingerprint(RouteTransfer, sourceID.String(), destID.String(), amount, memo),
		Memo:        memo,
		Legs: []domain.Leg{
			{AccountID: sourceID, Delta: -amount, Kind: domain.EntryDebit},
			{AccountID: destID, Delta: amount, Kind: domain.EntryCredit},
		},
	}

	cached, err := e.checkIdempotency(ctx, mv)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		render := func(accounts []domain.Account) ([]byte, error) {
			return json.Marshal(domain.TransferResult{Source: accounts[0], Dest: accounts[1]})
		}
		accounts, err := e.store.Apply(ctx, mv, render)
		if err == nil {
			e.publish(mv, amount)
			return &domain.TransferResult{Source: accounts[0], Dest: accounts[1]}, nil
		}
		cached, err = e.recoverInProgress(ctx, mv, err)
		if err != nil {
			return nil, err
		}
	}

	var result domain.TransferResult
	if err := json.Unmarshal(cached, &result); err != nil {
		return nil, fmt.Errorf("stored response decode failed: %w", err)
	}
	return &result, nil
}

// GetStatement returns up to limit entries newest first, resuming after the
// entry whose timestamp equals the cursor. An unknown cursor restarts from
// the beginning; an unparseable one is rejected.
func (e *Engine) GetStatement(ctx context.Context, accountID uuid.UUID, limit int, cursor string) (*domain.StatementPage, error) {
	if limit <= 0 {
		limit = DefaultStatementLimit
	}
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	entries, err := e.store.ListEntries(ctx, accountID)
	if err != nil {
		return nil, err
	}

	start := 0
	if cursor != "" {
		cursorTS, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid cursor", domain.ErrInvalidArgument)
		}
		for i, entry := range entries {
			if entry.TS.Equal(cursorTS) {
				start = i + 1
				break
			}
		}
	}

	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}
	items := append([]domain.LedgerEntry{}, entries[start:end]...)

	var next *string
	if end < len(entries) && len(items) > 0 {
		c := items[len(items)-1].TS.Format(time.RFC3339Nano)
		next = &c
	}
	return &domain.StatementPage{Items: items, NextCursor: next}, nil
}

// applySingle runs a one-leg movement (deposit or withdraw) through the
// idempotency protocol and returns the updated account.
func (e *Engine) applySingle(ctx context.Context, mv domain.Movement, amount int64) (*domain.Account, error) {
	cached, err := e.checkIdempotency(ctx, mv)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		render := func(accounts []domain.Account) ([]byte, error) {
			return json.Marshal(accounts[0])
		}
		accounts, err := e.store.Apply(ctx, mv, render)
		if err == nil {
			e.publish(mv, amount)
			return &accounts[0], nil
		}
		cached, err = e.recoverInProgress(ctx, mv, err)
		if err != nil {
			return nil, err
		}
	}

	var account domain.Account
	if err := json.Unmarshal(cached, &account); err != nil {
		return nil, fmt.Errorf("stored response decode failed: %w", err)
	}
	return &account, nil
}

// checkIdempotency returns the stored response for a replay, nil on a miss,
// and ErrDuplicateIdempotencyKey when the key was first used with a
// different fingerprint.
func (e *Engine) checkIdempotency(ctx context.Context, mv domain.Movement) ([]byte, error) {
	record, err := e.store.LookupIdempotency(ctx, mv.Route, mv.Key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if record.Fingerprint != mv.Fingerprint {
		return nil, domain.ErrDuplicateIdempotencyKey
	}
	return record.Response, nil
}

// recoverInProgress handles the lost race on a (route, key): when Apply
// reports another writer, re-read the record. A committed matching record
// replays; a mismatched fingerprint is a key-reuse conflict; an absent
// record means the winner rolled back, so the caller must retry.
func (e *Engine) recoverInProgress(ctx context.Context, mv domain.Movement, applyErr error) ([]byte, error) {
	if !errors.Is(applyErr, domain.ErrIdempotencyInProgress) {
		return nil, applyErr
	}
	cached, err := e.checkIdempotency(ctx, mv)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, applyErr
	}
	return cached, nil
}

func (e *Engine) publish(mv domain.Movement, amount int64) {
	ids := make([]uuid.UUID, 0, len(mv.Legs))
	for _, leg := range mv.Legs {
		ids = append(ids, leg.AccountID)
	}
	err := e.publisher.Publish(events.MovementRecorded{
		Route:      mv.Route,
		AccountIDs: ids,
		Amount:     amount,
		Memo:       mv.Memo,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("event publish failed for %s: %v", mv.Route, err)
	}
}
