package reconcile

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/store/memory"
)

var day = models.MustDay("2026-03-10")

// skewed misreports one account's projection or history.
type skewed struct {
	*memory.Store
	target    uuid.UUID
	coinDelta int64
	breakSeq  bool
}

func (s *skewed) Account(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := s.Store.Account(ctx, id)
	if err == nil && id == s.target {
		a.CoinBalance += s.coinDelta
	}
	return a, err
}

func (s *skewed) Entries(ctx context.Context, id uuid.UUID, q ledger.Query) (ledger.Page, error) {
	p, err := s.Store.Entries(ctx, id, q)
	if err == nil && id == s.target && s.breakSeq && len(p.Entries) > 0 {
		p.Entries[len(p.Entries)-1].ResultingBalance += 7
	}
	return p, err
}

func populate(t *testing.T) (*memory.Store, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	allowances := map[models.ActionType]int64{models.ActionHand: 1, models.ActionChat: 3}
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id := uuid.New()
		ids = append(ids, id)
		_, err := st.OpenAccount(ctx, id)
		require.NoError(t, err)
		_, err = st.Credit(ctx, balance.CreditRequest{AccountID: id, Source: balance.Coins(), Amount: 40, Kind: models.EntryPurchase, Reason: "buy"})
		require.NoError(t, err)
		_, err = st.ResetQuota(ctx, id, day, allowances)
		require.NoError(t, err)
		_, err = st.TryDebit(ctx, balance.DebitRequest{AccountID: id, Source: balance.FreeQuota(models.ActionChat), Amount: 1, Reason: "chat", QuotaDay: day})
		require.NoError(t, err)
		_, err = st.TryDebit(ctx, balance.DebitRequest{AccountID: id, Source: balance.Coins(), Amount: 10, Reason: "hand", QuotaDay: day})
		require.NoError(t, err)
	}
	return st, ids
}

func TestRunClean(t *testing.T) {
	st, _ := populate(t)
	rep, err := Run(context.Background(), st, nil)
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, 3, rep.Accounts)
	assert.Equal(t, 3*5, rep.Entries)
}

func TestRunReportsProjectionDrift(t *testing.T) {
	st, ids := populate(t)
	src := &skewed{Store: st, target: ids[1], coinDelta: 5}

	rep, err := Run(context.Background(), src, nil)
	require.NoError(t, err)
	require.Len(t, rep.Mismatches, 1)
	m := rep.Mismatches[0]
	assert.Equal(t, ids[1], m.AccountID)
	assert.Equal(t, models.UnitCoin, m.Counter.Unit)
	assert.Equal(t, int64(35), m.Projected)
	assert.Equal(t, int64(30), m.Replayed)
	assert.Contains(t, m.String(), "projected 35, ledger 30")
}

func TestRunCollectsBrokenChains(t *testing.T) {
	st, ids := populate(t)
	src := &skewed{Store: st, target: ids[0], breakSeq: true}

	rep, err := Run(context.Background(), src, nil)
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Contains(t, rep.Broken, ids[0].String())
	assert.Empty(t, rep.Mismatches)
	assert.Equal(t, 3, rep.Accounts)
}

func TestRunAbortsWhenStoreIsDown(t *testing.T) {
	st, _ := populate(t)
	require.NoError(t, st.Close())
	_, err := Run(context.Background(), st, nil)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}

// racing commits one coin debit on target while its ledger is first read.
type racing struct {
	*memory.Store
	target uuid.UUID
	once   sync.Once
	t      *testing.T
}

func (s *racing) Entries(ctx context.Context, id uuid.UUID, q ledger.Query) (ledger.Page, error) {
	if id == s.target {
		s.once.Do(func() {
			_, err := s.Store.TryDebit(ctx, balance.DebitRequest{AccountID: id, Source: balance.Coins(), Amount: 10, Reason: "concurrent", QuotaDay: day})
			require.NoError(s.t, err)
		})
	}
	return s.Store.Entries(ctx, id, q)
}

func TestRunIgnoresWritesDuringTheWalk(t *testing.T) {
	st, ids := populate(t)
	src := &racing{Store: st, target: ids[2], t: t}

	rep, err := Run(context.Background(), src, nil)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "mismatches=%v broken=%v", rep.Mismatches, rep.Broken)

	a, err := st.Account(context.Background(), ids[2])
	require.NoError(t, err)
	assert.Equal(t, int64(20), a.CoinBalance, "the racing debit committed")
}
