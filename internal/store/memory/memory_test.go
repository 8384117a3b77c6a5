package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersmith/miniledger/internal/domain"
)

func applyDeposit(t *testing.T, st *Store, accountID uuid.UUID, amount int64, key string) {
	t.Helper()
	_, err := st.Apply(context.Background(), domain.Movement{
		Route:       "deposit",
		Key:         key,
		Fingerprint: "fp-" + key,
		Legs:        []domain.Leg{{AccountID: accountID, Delta: amount, Kind: domain.EntryCredit}},
	}, func(accounts []domain.Account) ([]byte, error) {
		return []byte(`{}`), nil
	})
	require.NoError(t, err)
}

func TestListEntriesTieBreak(t *testing.T) {
	st := New()
	// Frozen clock: every entry shares one timestamp, so ordering falls
	// back to insertion order, latest insert first.
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return frozen })

	account, err := st.CreateAccount(context.Background(), "alice")
	require.NoError(t, err)

	applyDeposit(t, st, account.ID, 1, "k1")
	applyDeposit(t, st, account.ID, 2, "k2")
	applyDeposit(t, st, account.ID, 3, "k3")

	entries, err := st.ListEntries(context.Background(), account.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(3), entries[0].Amount)
	assert.Equal(t, int64(2), entries[1].Amount)
	assert.Equal(t, int64(1), entries[2].Amount)
}

func TestApplyAllOrNothing(t *testing.T) {
	st := New()
	ctx := context.Background()
	a, err := st.CreateAccount(ctx, "alice")
	require.NoError(t, err)
	b, err := st.CreateAccount(ctx, "bob")
	require.NoError(t, err)
	applyDeposit(t, st, a.ID, 100, "fund")

	// Second leg drives bob negative, so nothing may persist.
	_, err = st.Apply(ctx, domain.Movement{
		Route:       "transfer",
		Key:         "t1",
		Fingerprint: "fp-t1",
		Legs: []domain.Leg{
			{AccountID: a.ID, Delta: 50, Kind: domain.EntryCredit},
			{AccountID: b.ID, Delta: -10, Kind: domain.EntryDebit},
		},
	}, func(accounts []domain.Account) ([]byte, error) { return []byte(`{}`), nil })
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	fetchedA, err := st.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), fetchedA.Balance, "first leg rolled back with the unit")

	entries, err := st.ListEntries(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	record, err := st.LookupIdempotency(ctx, "transfer", "t1")
	require.NoError(t, err)
	assert.Nil(t, record, "failed movement writes no idempotency record")
}

func TestApplyUnknownAccount(t *testing.T) {
	st := New()
	_, err := st.Apply(context.Background(), domain.Movement{
		Route:       "deposit",
		Key:         "k",
		Fingerprint: "fp",
		Legs:        []domain.Leg{{AccountID: uuid.New(), Delta: 10, Kind: domain.EntryCredit}},
	}, func(accounts []domain.Account) ([]byte, error) { return nil, nil })
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestApplyDuplicateKey(t *testing.T) {
	st := New()
	ctx := context.Background()
	account, err := st.CreateAccount(ctx, "alice")
	require.NoError(t, err)

	applyDeposit(t, st, account.ID, 100, "dup")

	_, err = st.Apply(ctx, domain.Movement{
		Route:       "deposit",
		Key:         "dup",
		Fingerprint: "fp-other",
		Legs:        []domain.Leg{{AccountID: account.ID, Delta: 100, Kind: domain.EntryCredit}},
	}, func(accounts []domain.Account) ([]byte, error) { return []byte(`{}`), nil })
	assert.ErrorIs(t, err, domain.ErrIdempotencyInProgress)

	fetched, err := st.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), fetched.Balance, "duplicate key applies nothing")
}

func TestIdempotencyRecordPersisted(t *testing.T) {
	st := New()
	ctx := context.Background()
	account, err := st.CreateAccount(ctx, "alice")
	require.NoError(t, err)

	_, err = st.Apply(ctx, domain.Movement{
		Route:       "deposit",
		Key:         "k1",
		Fingerprint: "fp-k1",
		Legs:        []domain.Leg{{AccountID: account.ID, Delta: 42, Kind: domain.EntryCredit}},
	}, func(accounts []domain.Account) ([]byte, error) {
		require.Len(t, accounts, 1)
		assert.Equal(t, int64(42), accounts[0].Balance)
		return []byte(`{"balance":42}`), nil
	})
	require.NoError(t, err)

	record, err := st.LookupIdempotency(ctx, "deposit", "k1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "fp-k1", record.Fingerprint)
	assert.JSONEq(t, `{"balance":42}`, string(record.Response))

	missing, err := st.LookupIdempotency(ctx, "withdraw", "k1")
	require.NoError(t, err)
	assert.Nil(t, missing, "records are keyed by route and key together")
}
