package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/quota"
	"github.com/fortunecoin/backend/internal/rights"
	"github.com/fortunecoin/backend/internal/store/memory"
)

type fixture struct {
	store    *memory.Store
	clock    *quota.FixedClock
	resolver *Resolver
	account  uuid.UUID
}

func newFixture(t *testing.T, coins int64) *fixture {
	t.Helper()
	st := memory.New()
	clock := quota.FixedDay(models.MustDay("2026-03-10"))
	f := &fixture{
		store:    st,
		clock:    clock,
		resolver: NewResolver(st, st, st, clock, DefaultCatalog(), nil),
		account:  uuid.New(),
	}
	_, err := st.OpenAccount(context.Background(), f.account)
	require.NoError(t, err)
	if coins > 0 {
		_, err = st.Credit(context.Background(), balance.CreditRequest{
			AccountID: f.account, Source: balance.Coins(), Amount: coins,
			Kind: models.EntryAdminGrant, Reason: "seed",
		})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) resolve(t *testing.T, action models.ActionType, key string) Decision {
	t.Helper()
	d, err := f.resolver.Resolve(context.Background(), Request{AccountID: f.account, Action: action, IdempotencyKey: key})
	require.NoError(t, err)
	return d
}

func (f *fixture) acct(t *testing.T) *models.Account {
	t.Helper()
	a, err := f.store.Account(context.Background(), f.account)
	require.NoError(t, err)
	return a
}

func TestResolveFreeQuotaFirst(t *testing.T) {
	f := newFixture(t, 50)

	d := f.resolve(t, models.ActionHand, "")
	require.True(t, d.Granted)
	assert.Equal(t, balance.SourceFreeQuota, d.Source)
	assert.Equal(t, int64(0), d.FreeRemaining)
	assert.Equal(t, int64(50), d.CoinBalance)

	// One RESET per action then the debit.
	require.Len(t, d.Effects, len(models.AllActionTypes)+1)
	for _, e := range d.Effects[:len(models.AllActionTypes)] {
		assert.Equal(t, models.EntryReset, e.Kind)
	}
	assert.Equal(t, models.EntryDebit, d.Effects[len(d.Effects)-1].Kind)

	a := f.acct(t)
	assert.Equal(t, int64(50), a.CoinBalance, "free use must not touch coins")
	assert.Equal(t, int64(3), a.FreeRemaining(models.ActionChat))
}

func TestResolveFallsBackToCoins(t *testing.T) {
	f := newFixture(t, 25)
	f.resolve(t, models.ActionHand, "")

	d := f.resolve(t, models.ActionHand, "")
	require.True(t, d.Granted)
	assert.Equal(t, balance.SourceCoins, d.Source)
	assert.Equal(t, int64(15), d.CoinBalance)
	require.NotNil(t, d.Entry)
	assert.Equal(t, int64(-10), d.Entry.Amount)
	assert.Empty(t, d.Effects[:len(d.Effects)-1], "no reset on the same day")
}

func TestResolveDeniedLeavesBalancesUntouched(t *testing.T) {
	f := newFixture(t, 5)
	f.resolve(t, models.ActionHand, "")

	d, err := f.resolver.Resolve(context.Background(), Request{AccountID: f.account, Action: models.ActionHand})
	require.NoError(t, err, "a denial is not an error")
	assert.False(t, d.Granted)
	assert.ErrorIs(t, d.Err(), ledger.ErrInsufficientEntitlement)
	assert.Equal(t, int64(5), d.CoinBalance)
	assert.Nil(t, d.Entry)

	a := f.acct(t)
	assert.Equal(t, int64(5), a.CoinBalance)
	assert.Equal(t, int64(0), a.FreeRemaining(models.ActionHand))
}

func TestResolveResetsOnNewDay(t *testing.T) {
	f := newFixture(t, 0)
	require.True(t, f.resolve(t, models.ActionCoffee, "").Granted)
	require.False(t, f.resolve(t, models.ActionCoffee, "").Granted)

	f.clock.Advance(24 * time.Hour)
	d := f.resolve(t, models.ActionCoffee, "")
	require.True(t, d.Granted)
	assert.Equal(t, balance.SourceFreeQuota, d.Source)
	assert.Equal(t, models.MustDay("2026-03-11"), f.acct(t).QuotaDay)
}

func TestResolveRedeemsExtraRight(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	_, err := f.store.ScheduleExtraRights(ctx, rights.PurchaseRequest{
		AccountID: f.account, Action: models.ActionTarot, Count: 1, TotalCost: 10,
		Today: f.clock.Today(), IdempotencyKey: "rights:1",
	})
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	d := f.resolve(t, models.ActionTarot, "")
	require.True(t, d.Granted)
	assert.True(t, d.RightRedeemed)
	assert.Equal(t, int64(1), d.FreeRemaining, "allowance plus the redeemed right, minus this use")

	d = f.resolve(t, models.ActionTarot, "")
	require.True(t, d.Granted)
	assert.False(t, d.RightRedeemed)
	assert.Equal(t, int64(0), d.FreeRemaining)

	assert.False(t, f.resolve(t, models.ActionTarot, "").Granted)

	rs, err := f.store.ExtraRights(ctx, f.account)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.True(t, rs[0].Consumed)
}

func TestResolveReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t, 30)
	f.resolve(t, models.ActionFace, "")

	first := f.resolve(t, models.ActionFace, "debit:abc")
	require.True(t, first.Granted)
	assert.Equal(t, int64(20), first.CoinBalance)

	again := f.resolve(t, models.ActionFace, "debit:abc")
	assert.True(t, again.Granted)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Entry.ID, again.Entry.ID)
	assert.Equal(t, int64(20), again.CoinBalance)
	assert.Equal(t, int64(20), f.acct(t).CoinBalance, "replay must not debit twice")
}

func TestResolveErrors(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, Request{AccountID: f.account, Action: "palm"})
	assert.ErrorIs(t, err, ledger.ErrInvalidRequest)

	_, err = f.resolver.Resolve(ctx, Request{AccountID: uuid.New(), Action: models.ActionHand})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	require.NoError(t, f.store.Close())
	d, err := f.resolver.Resolve(ctx, Request{AccountID: f.account, Action: models.ActionHand})
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.False(t, d.Granted)
}

func TestCatalog(t *testing.T) {
	c := DefaultCatalog()
	p, ok := c.Policy(models.ActionChat)
	require.True(t, ok)
	assert.Equal(t, int64(3), p.FreePerDay)

	cost, err := c.ExtraRightsCost(models.ActionCoffee, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(30), cost)

	allow := c.DailyAllowances()
	assert.Len(t, allow, len(models.AllActionTypes))

	bad := DefaultPolicies()
	bad[models.ActionHand] = ActionPolicy{FreePerDay: 1, CoinCost: 0, ExtraRightCost: 1}
	_, err = NewCatalog(bad)
	assert.Error(t, err)

	missing := DefaultPolicies()
	delete(missing, models.ActionTarot)
	_, err = NewCatalog(missing)
	assert.Error(t, err)
}
