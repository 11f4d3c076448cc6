// Package storetest is the behavioural suite every store backend must pass.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/entitlement"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/quota"
	"github.com/fortunecoin/backend/internal/rights"
	"github.com/fortunecoin/backend/internal/store"
)

// Factory returns a fresh, migrated store. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

var today = models.MustDay("2026-03-10")

func defaults() map[models.ActionType]int64 {
	return map[models.ActionType]int64{
		models.ActionHand: 1, models.ActionFace: 1, models.ActionCoffee: 1,
		models.ActionTarot: 1, models.ActionChat: 3,
	}
}

// Run executes the suite against the backend built by f.
func Run(t *testing.T, f Factory) {
	tests := map[string]func(*testing.T, store.Store){
		"OpenAccountIsIdempotent":           testOpenAccount,
		"UnknownAccount":                    testUnknownAccount,
		"DebitCoins":                        testDebitCoins,
		"DebitInsufficient":                 testDebitInsufficient,
		"CreditWritesEntry":                 testCredit,
		"IdempotencyKeyReturnsOriginal":     testIdempotency,
		"ResetQuotaOnce":                    testResetQuota,
		"FreeQuotaDebit":                    testFreeQuota,
		"ScheduleExtraRights":               testScheduleExtraRights,
		"ScheduleSkipsTakenDays":            testScheduleSkipsTakenDays,
		"ScheduleInsufficientWritesNothing": testScheduleInsufficient,
		"RedeemOnce":                        testRedeemOnce,
		"PruneExtraRights":                  testPrune,
		"EntriesPaginate":                   testEntriesPaginate,
		"LedgerReplayMatchesProjection":     testReplay,
		"ConcurrentDebitsNoDoubleSpend":     testConcurrentDebits,
		"ConcurrentResetsCollapse":          testConcurrentResets,
		"ConcurrentResolveOneUnit":          testConcurrentResolve,
		"ConcurrentResolveNewDay":           testConcurrentResolveNewDay,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fn(t, f(t))
		})
	}
}

func openFunded(t *testing.T, s store.Store, coins int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	_, err := s.OpenAccount(ctx, id)
	require.NoError(t, err)
	if coins > 0 {
		_, err = s.Credit(ctx, balance.CreditRequest{
			AccountID: id, Source: balance.Coins(), Amount: coins,
			Kind: models.EntryPurchase, Reason: "seed",
		})
		require.NoError(t, err)
	}
	return id
}

func testOpenAccount(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := uuid.New()
	a1, err := s.OpenAccount(ctx, id)
	require.NoError(t, err)
	a2, err := s.OpenAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)
	assert.Zero(t, a2.CoinBalance)
	assert.True(t, a2.QuotaDay.IsZero())

	ids, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)
}

func testUnknownAccount(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Account(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = s.TryDebit(ctx, balance.DebitRequest{AccountID: uuid.New(), Source: balance.Coins(), Amount: 1})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = s.Credit(ctx, balance.CreditRequest{AccountID: uuid.New(), Source: balance.Coins(), Amount: 1, Kind: models.EntryGrant})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = s.Entry(ctx, models.NewEntryID())
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func testDebitCoins(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 30)

	out, err := s.TryDebit(ctx, balance.DebitRequest{AccountID: id, Source: balance.Coins(), Amount: 10, Reason: "action tarot"})
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, int64(20), out.Balance)
	require.NotNil(t, out.Entry)
	assert.Equal(t, models.EntryDebit, out.Entry.Kind)
	assert.Equal(t, int64(-10), out.Entry.Amount)
	assert.Equal(t, int64(20), out.Entry.ResultingBalance)
	assert.NotZero(t, out.Entry.Seq)
	assert.False(t, out.Entry.CreatedAt.IsZero())
	assert.NoError(t, models.ValidateID(out.Entry.ID, models.PrefixLedgerEntry))

	got, err := s.Entry(ctx, out.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Entry.ResultingBalance, got.ResultingBalance)

	a, err := s.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(20), a.CoinBalance)
}

func testDebitInsufficient(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 5)

	out, err := s.TryDebit(ctx, balance.DebitRequest{AccountID: id, Source: balance.Coins(), Amount: 10})
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, int64(5), out.Balance)
	assert.Nil(t, out.Entry)

	page, err := s.Entries(ctx, id, ledger.Query{})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1, "only the seed purchase is recorded")

	_, err = s.TryDebit(ctx, balance.DebitRequest{AccountID: id, Source: balance.Coins(), Amount: 0})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func testCredit(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 5)

	out, err := s.Credit(ctx, balance.CreditRequest{
		AccountID: id, Source: balance.Coins(), Amount: 200,
		Kind: models.EntryGrant, Reason: "welcome bonus", ActorID: "admin:1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(205), out.Balance)
	assert.Equal(t, models.EntryGrant, out.Entry.Kind)
	assert.Equal(t, int64(200), out.Entry.Amount)
	assert.Equal(t, int64(205), out.Entry.ResultingBalance)
	assert.Equal(t, "welcome bonus", out.Entry.Reason)

	_, err = s.Credit(ctx, balance.CreditRequest{AccountID: id, Source: balance.Coins(), Amount: 1, Kind: models.EntryDebit})
	assert.ErrorIs(t, err, ledger.ErrInvalidRequest)
}

func testIdempotency(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 0)

	req := balance.CreditRequest{
		AccountID: id, Source: balance.Coins(), Amount: 100,
		Kind: models.EntryPurchase, IdempotencyKey: "purchase:pay_123",
	}
	first, err := s.Credit(ctx, req)
	require.NoError(t, err)

	_, err = s.Credit(ctx, req)
	require.ErrorIs(t, err, ledger.ErrDuplicateRequest)
	orig, ok := ledger.AsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, first.Entry.ID, orig.ID)

	byKey, err := s.EntryByIdempotencyKey(ctx, id, "purchase:pay_123")
	require.NoError(t, err)
	assert.Equal(t, first.Entry.ID, byKey.ID)

	_, err = s.EntryByIdempotencyKey(ctx, id, "purchase:other")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)

	a, err := s.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), a.CoinBalance)

	// The same key on another account is independent.
	other := openFunded(t, s, 0)
	req.AccountID = other
	_, err = s.Credit(ctx, req)
	assert.NoError(t, err)
}

func testResetQuota(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 0)

	resets, err := s.ResetQuota(ctx, id, today, defaults())
	require.NoError(t, err)
	assert.Len(t, resets, len(defaults()))
	for _, e := range resets {
		assert.Equal(t, models.EntryReset, e.Kind)
		assert.Equal(t, defaults()[e.Action], e.ResultingBalance)
	}

	again, err := s.ResetQuota(ctx, id, today, defaults())
	require.NoError(t, err)
	assert.Empty(t, again, "second reset for the same day is a no-op")

	older, err := s.ResetQuota(ctx, id, today.AddDays(-1), defaults())
	require.NoError(t, err)
	assert.Empty(t, older, "quota day never moves backwards")

	a, err := s.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, today, a.QuotaDay)
	assert.Equal(t, int64(3), a.FreeRemaining(models.ActionChat))
}

func testFreeQuota(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 0)
	_, err := s.ResetQuota(ctx, id, today, defaults())
	require.NoError(t, err)

	req := balance.DebitRequest{AccountID: id, Source: balance.FreeQuota(models.ActionTarot), Amount: 1, QuotaDay: today}
	out, err := s.TryDebit(ctx, req)
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, int64(0), out.Balance)
	assert.Equal(t, models.UnitQuota, out.Entry.Unit)
	assert.Equal(t, models.ActionTarot, out.Entry.Action)

	out, err = s.TryDebit(ctx, req)
	require.NoError(t, err)
	assert.False(t, out.Applied)

	// The next day's reset tops the counter back up, the delta recorded on the entry.
	resets, err := s.ResetQuota(ctx, id, today.AddDays(1), defaults())
	require.NoError(t, err)
	for _, e := range resets {
		if e.Action == models.ActionTarot {
			assert.Equal(t, int64(1), e.Amount)
		}
	}
}

func testScheduleExtraRights(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 30)

	sched, err := s.ScheduleExtraRights(ctx, rights.PurchaseRequest{
		AccountID: id, Action: models.ActionCoffee, Count: 3, TotalCost: 30, Today: today,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), sched.Balance)
	require.Len(t, sched.Rights, 3)
	for i, r := range sched.Rights {
		assert.Equal(t, today.AddDays(i+1), r.RedeemableOn)
		assert.False(t, r.Consumed)
		assert.Equal(t, sched.Entry.ID, r.PurchaseEntryID)
	}
	assert.Equal(t, int64(-30), sched.Entry.Amount)

	listed, err := s.ExtraRights(ctx, id)
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	byPurchase, err := s.ExtraRightsByPurchase(ctx, id, sched.Entry.ID)
	require.NoError(t, err)
	assert.Len(t, byPurchase, 3)
}

func testScheduleSkipsTakenDays(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 100)

	_, err := s.ScheduleExtraRights(ctx, rights.PurchaseRequest{AccountID: id, Action: models.ActionHand, Count: 2, TotalCost: 20, Today: today})
	require.NoError(t, err)
	sched, err := s.ScheduleExtraRights(ctx, rights.PurchaseRequest{AccountID: id, Action: models.ActionHand, Count: 2, TotalCost: 20, Today: today})
	require.NoError(t, err)
	require.Len(t, sched.Rights, 2)
	assert.Equal(t, today.AddDays(3), sched.Rights[0].RedeemableOn)
	assert.Equal(t, today.AddDays(4), sched.Rights[1].RedeemableOn)

	// A different action may share days.
	other, err := s.ScheduleExtraRights(ctx, rights.PurchaseRequest{AccountID: id, Action: models.ActionFace, Count: 1, TotalCost: 10, Today: today})
	require.NoError(t, err)
	assert.Equal(t, today.AddDays(1), other.Rights[0].RedeemableOn)
}

func testScheduleInsufficient(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 29)

	_, err := s.ScheduleExtraRights(ctx, rights.PurchaseRequest{AccountID: id, Action: models.ActionCoffee, Count: 3, TotalCost: 30, Today: today})
	require.ErrorIs(t, err, ledger.ErrInsufficientCoins)

	listed, err := s.ExtraRights(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, listed)
	a, err := s.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(29), a.CoinBalance)
}

func testRedeemOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 10)
	_, err := s.ScheduleExtraRights(ctx, rights.PurchaseRequest{AccountID: id, Action: models.ActionTarot, Count: 1, TotalCost: 10, Today: today})
	require.NoError(t, err)

	tomorrow := today.AddDays(1)
	r, e, err := s.RedeemExtraRight(ctx, id, models.ActionTarot, today)
	require.NoError(t, err)
	assert.Nil(t, r, "not redeemable before its day")
	assert.Nil(t, e)

	_, err = s.ResetQuota(ctx, id, tomorrow, defaults())
	require.NoError(t, err)
	r, e, err = s.RedeemExtraRight(ctx, id, models.ActionTarot, tomorrow)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.True(t, r.Consumed)
	assert.NotNil(t, r.ConsumedAt)
	assert.Equal(t, models.EntryGrant, e.Kind)
	assert.Equal(t, int64(2), e.ResultingBalance)

	r, _, err = s.RedeemExtraRight(ctx, id, models.ActionTarot, tomorrow)
	require.NoError(t, err)
	assert.Nil(t, r, "a right is consumed at most once")

	listed, err := s.ExtraRights(ctx, id)
	require.NoError(t, err)
	require.Len(t, listed, 1, "consumed rights are marked, not deleted")
	assert.True(t, listed[0].Consumed)
}

func testPrune(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 30)
	_, err := s.ScheduleExtraRights(ctx, rights.PurchaseRequest{AccountID: id, Action: models.ActionFace, Count: 3, TotalCost: 30, Today: today})
	require.NoError(t, err)

	// Backends may share a database with other accounts, so only a lower bound holds.
	n, err := s.PruneExtraRights(ctx, today.AddDays(3))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))

	listed, err := s.ExtraRights(ctx, id)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, today.AddDays(3), listed[0].RedeemableOn)
}

func testEntriesPaginate(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 0)
	for i := 0; i < 5; i++ {
		_, err := s.Credit(ctx, balance.CreditRequest{AccountID: id, Source: balance.Coins(), Amount: 1, Kind: models.EntryGrant})
		require.NoError(t, err)
	}

	var seen []models.LedgerEntry
	q := ledger.Query{Limit: 2}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5)
		page, err := s.Entries(ctx, id, q)
		require.NoError(t, err)
		seen = append(seen, page.Entries...)
		if page.NextCursor == 0 {
			break
		}
		q.AfterSeq = page.NextCursor
	}
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1].Seq, seen[i].Seq)
		assert.Equal(t, seen[i-1].ResultingBalance+1, seen[i].ResultingBalance)
	}
}

func testReplay(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 50)
	_, err := s.ResetQuota(ctx, id, today, defaults())
	require.NoError(t, err)
	_, err = s.TryDebit(ctx, balance.DebitRequest{AccountID: id, Source: balance.FreeQuota(models.ActionChat), Amount: 1})
	require.NoError(t, err)
	_, err = s.TryDebit(ctx, balance.DebitRequest{AccountID: id, Source: balance.Coins(), Amount: 10})
	require.NoError(t, err)
	_, err = s.ScheduleExtraRights(ctx, rights.PurchaseRequest{AccountID: id, Action: models.ActionChat, Count: 1, TotalCost: 2, Today: today})
	require.NoError(t, err)
	_, err = s.ResetQuota(ctx, id, today.AddDays(1), defaults())
	require.NoError(t, err)
	_, _, err = s.RedeemExtraRight(ctx, id, models.ActionChat, today.AddDays(1))
	require.NoError(t, err)

	r := ledger.NewReplay(id)
	require.NoError(t, ledger.Walk(ctx, s, id, time.Time{}, r.Apply))

	a, err := s.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, a.CoinBalance, r.Coins())
	assert.Equal(t, int64(38), r.Coins())
	for _, action := range models.AllActionTypes {
		assert.Equal(t, a.FreeRemaining(action), r.Quota(action), action)
	}
	assert.Equal(t, int64(4), r.Quota(models.ActionChat))
}

func testConcurrentDebits(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 10)

	const n = 16
	var granted atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.TryDebit(ctx, balance.DebitRequest{AccountID: id, Source: balance.Coins(), Amount: 10})
			if err != nil {
				errs <- err
				return
			}
			if out.Applied {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), granted.Load(), "exactly one request may spend the last unit")
	a, err := s.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.CoinBalance)
}

func testConcurrentResets(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 0)

	const n = 8
	var applied atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resets, err := s.ResetQuota(ctx, id, today, defaults())
			if err != nil {
				errs <- err
				return
			}
			if len(resets) > 0 {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), applied.Load())

	page, err := s.Entries(ctx, id, ledger.Query{})
	require.NoError(t, err)
	assert.Len(t, page.Entries, len(defaults()))
}

// resolveAll runs n concurrent Resolve calls and returns how many were granted.
func resolveAll(t *testing.T, r *entitlement.Resolver, id uuid.UUID, action models.ActionType, n int) int32 {
	t.Helper()
	var granted atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := r.Resolve(context.Background(), entitlement.Request{AccountID: id, Action: action})
			if err != nil {
				errs <- err
				return
			}
			if d.Granted {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	return granted.Load()
}

func countEntries(t *testing.T, s store.Store, id uuid.UUID, keep func(models.LedgerEntry) bool) int {
	t.Helper()
	n := 0
	err := ledger.Walk(context.Background(), s, id, time.Time{}, func(e models.LedgerEntry) error {
		if keep(e) {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

// One free hand reading, too few coins for a paid one: exactly one of the
// concurrent requests is granted, and the day's reset is written once.
func testConcurrentResolve(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 5)
	r := entitlement.NewResolver(s, s, s, quota.FixedDay(today), entitlement.DefaultCatalog(), nil)

	assert.Equal(t, int32(1), resolveAll(t, r, id, models.ActionHand, 16), "exactly one request may spend the last unit")

	a, err := s.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(5), a.CoinBalance)
	assert.Equal(t, int64(0), a.FreeRemaining(models.ActionHand))
	assert.Equal(t, today, a.QuotaDay)
	assert.Equal(t, 1, countEntries(t, s, id, func(e models.LedgerEntry) bool {
		return e.Kind == models.EntryReset && e.Action == models.ActionHand
	}))
}

// Crossing into a new day with an extra right waiting: the reset and the
// redemption each happen once, so exactly two requests are granted.
func testConcurrentResolveNewDay(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := openFunded(t, s, 10)
	clock := quota.FixedDay(today)
	r := entitlement.NewResolver(s, s, s, clock, entitlement.DefaultCatalog(), nil)

	_, err := s.ScheduleExtraRights(ctx, rights.PurchaseRequest{
		AccountID: id, Action: models.ActionHand, Count: 1, TotalCost: 10, Today: today,
	})
	require.NoError(t, err)
	d, err := r.Resolve(ctx, entitlement.Request{AccountID: id, Action: models.ActionHand})
	require.NoError(t, err)
	require.True(t, d.Granted)

	clock.Advance(24 * time.Hour)
	tomorrow := today.AddDays(1)
	assert.Equal(t, int32(2), resolveAll(t, r, id, models.ActionHand, 16), "allowance plus one redeemed right")

	a, err := s.Account(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.CoinBalance)
	assert.Equal(t, int64(0), a.FreeRemaining(models.ActionHand))
	assert.Equal(t, tomorrow, a.QuotaDay)
	assert.Equal(t, 1, countEntries(t, s, id, func(e models.LedgerEntry) bool {
		return e.Kind == models.EntryReset && e.Action == models.ActionHand && e.QuotaDay == tomorrow
	}))

	rs, err := s.ExtraRights(ctx, id)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.True(t, rs[0].Consumed)
}
