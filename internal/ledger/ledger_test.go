package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortunecoin/backend/internal/models"
)

func TestErrorTaxonomy(t *testing.T) {
	storeErr := Unavailable("debit", errors.New("connection refused"))
	assert.ErrorIs(t, storeErr, ErrStoreUnavailable)
	assert.True(t, IsRetryable(storeErr))
	assert.False(t, IsUserFacing(storeErr))
	assert.Contains(t, storeErr.Error(), "debit")

	wrapped := fmt.Errorf("resolve: %w", ErrInsufficientEntitlement)
	assert.True(t, IsUserFacing(wrapped))
	assert.False(t, IsRetryable(wrapped))

	// Domain errors pass through Unavailable untouched.
	assert.Equal(t, ErrInsufficientCoins, Unavailable("debit", ErrInsufficientCoins))
	assert.Nil(t, Unavailable("debit", nil))

	inv := Invariant(uuid.New(), "balance %d", -1)
	assert.ErrorIs(t, inv, ErrInvariantViolation)
	assert.False(t, IsRetryable(inv))
}

func TestAsDuplicate(t *testing.T) {
	orig := &models.LedgerEntry{ID: "le_x", ResultingBalance: 5}
	err := fmt.Errorf("debit: %w", &DuplicateError{Key: "k1", Original: orig})

	got, ok := AsDuplicate(err)
	require.True(t, ok)
	assert.Same(t, orig, got)
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	_, ok = AsDuplicate(ErrAccountNotFound)
	assert.False(t, ok)
}

func TestCheckLink(t *testing.T) {
	id := uuid.New()
	coin := models.Counter{Unit: models.UnitCoin}

	assert.NoError(t, CheckLink(id, coin, 5, 200, 205))
	assert.NoError(t, CheckLink(id, coin, 30, -30, 0))
	assert.ErrorIs(t, CheckLink(id, coin, 5, 200, 204), ErrInvariantViolation)
	assert.ErrorIs(t, CheckLink(id, coin, 5, -10, -5), ErrInvariantViolation)
}

func TestReplay(t *testing.T) {
	id := uuid.New()
	entries := []models.LedgerEntry{
		{Seq: 1, Kind: models.EntryPurchase, Unit: models.UnitCoin, Amount: 50, ResultingBalance: 50},
		{Seq: 2, Kind: models.EntryReset, Unit: models.UnitQuota, Action: models.ActionTarot, Amount: 1, ResultingBalance: 1},
		{Seq: 3, Kind: models.EntryDebit, Unit: models.UnitQuota, Action: models.ActionTarot, Amount: -1, ResultingBalance: 0},
		{Seq: 4, Kind: models.EntryDebit, Unit: models.UnitCoin, Amount: -10, ResultingBalance: 40},
		{Seq: 5, Kind: models.EntryRefund, Unit: models.UnitCoin, Amount: 10, ResultingBalance: 50},
	}

	r := NewReplay(id)
	for _, e := range entries {
		require.NoError(t, r.Apply(e))
	}
	assert.Equal(t, int64(50), r.Coins())
	assert.Equal(t, int64(0), r.Quota(models.ActionTarot))
	assert.Equal(t, 5, r.Entries)

	err := r.Apply(models.LedgerEntry{Seq: 6, Unit: models.UnitCoin, Amount: -10, ResultingBalance: 30})
	assert.ErrorIs(t, err, ErrInvariantViolation)

	err = r.Apply(models.LedgerEntry{Seq: 2, Unit: models.UnitCoin, Amount: 1, ResultingBalance: 51})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestQueryNormalizeAndPageOf(t *testing.T) {
	q := Query{Limit: 0, AfterSeq: -3}.Normalize()
	assert.Equal(t, DefaultPageSize, q.Limit)
	assert.Equal(t, int64(0), q.AfterSeq)
	assert.Equal(t, MaxPageSize, Query{Limit: 1 << 20}.Normalize().Limit)

	rows := []models.LedgerEntry{{Seq: 1}, {Seq: 2}, {Seq: 3}}
	page := PageOf(rows, Query{Limit: 2})
	assert.Len(t, page.Entries, 2)
	assert.Equal(t, int64(2), page.NextCursor)

	page = PageOf(rows, Query{Limit: 3})
	assert.Len(t, page.Entries, 3)
	assert.Zero(t, page.NextCursor)
}
