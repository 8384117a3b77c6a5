package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind classifies a ledger entry by the sign of its amount.
type EntryKind string

const (
	EntryCredit EntryKind = "CREDIT"
	EntryDebit  EntryKind = "DEBIT"
)

// Account holds a customer's balance in minor currency units.
// Balance is never negative; it is mutated only through Store.Apply.
type Account struct {
	ID        uuid.UUID `json:"id"`
	OwnerName string    `json:"owner_name"`
	CreatedAt time.Time `json:"created_at"`
	Balance   int64     `json:"balance"`
}

// LedgerEntry is one immutable leg of a balance movement. Amount is signed:
// positive for CREDIT, negative for DEBIT.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id"`
	TS        time.Time `json:"ts"`
	AccountID uuid.UUID `json:"account_id"`
	Amount    int64     `json:"amount"`
	Kind      EntryKind `json:"type"`
	Memo      string    `json:"ref,omitempty"`
}

// IdempotencyRecord stores the outcome of the first request seen for a
// (route, key) pair. Once written it is never updated.
type IdempotencyRecord struct {
	Route       string
	Key         string
	Fingerprint string
	Response    []byte
}

// Leg is one balance delta within a movement. Delta's sign must agree
// with Kind.
type Leg struct {
	AccountID uuid.UUID
	Delta     int64
	Kind      EntryKind
}

// Movement is the atomic unit handed to the store: every leg's balance
// change and ledger entry, plus the idempotency record keyed by
// (Route, Key), commit together or not at all.
type Movement struct {
	Route       string
	Key         string
	Fingerprint string
	Memo        string
	Legs        []Leg
}

// StatementPage is one page of an account's newest-first entry history.
type StatementPage struct {
	Items      []LedgerEntry `json:"items"`
	NextCursor *string       `json:"next_cursor"`
}

// TransferResult carries both updated accounts after a transfer,
// always in (source, dest) order.
type TransferResult struct {
	Source Account `json:"source"`
	Dest   Account `json:"dest"`
}
