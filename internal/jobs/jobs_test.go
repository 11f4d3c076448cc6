package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/metrics"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/quota"
	"github.com/fortunecoin/backend/internal/rights"
	"github.com/fortunecoin/backend/internal/store/memory"
)

func storeWithRights(t *testing.T, today models.Day) (*memory.Store, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	id := uuid.New()
	_, err := st.OpenAccount(ctx, id)
	require.NoError(t, err)
	_, err = st.Credit(ctx, balance.CreditRequest{AccountID: id, Source: balance.Coins(), Amount: 20, Kind: models.EntryPurchase, Reason: "buy"})
	require.NoError(t, err)
	_, err = st.ScheduleExtraRights(ctx, rights.PurchaseRequest{
		AccountID: id, Action: models.ActionHand, Count: 2, TotalCost: 20, Today: today,
	})
	require.NoError(t, err)
	return st, id
}

func TestSweepPrunesOnlyPastRetention(t *testing.T) {
	st, id := storeWithRights(t, models.MustDay("2026-01-01"))
	ctx := context.Background()

	// Rights sit on Jan 2 and Jan 3. On Feb 1 the cutoff is Jan 2 itself.
	clock := quota.FixedDay(models.MustDay("2026-02-01"))
	w := NewSweepWorker(st, clock, nil)

	n, err := w.Sweep(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	clock.Advance(24 * time.Hour)
	require.NoError(t, w.Work(ctx, &river.Job[SweepArgs]{Args: SweepArgs{RetentionDays: 30}}))
	rs, err := st.ExtraRights(ctx, id)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, models.MustDay("2026-01-03"), rs[0].RedeemableOn)
}

func TestReconcileWorker(t *testing.T) {
	st, _ := storeWithRights(t, models.MustDay("2026-01-01"))
	w := NewReconcileWorker(st, nil)

	rep, err := w.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Equal(t, 1, rep.Accounts)

	require.NoError(t, st.Close())
	assert.Error(t, w.Work(context.Background(), &river.Job[ReconcileArgs]{}))
}

func TestPeriodicJobs(t *testing.T) {
	jobs := PeriodicJobs(Schedule{})
	assert.Len(t, jobs, 2)
}

func TestTickerRunsReconcileOnStart(t *testing.T) {
	st, _ := storeWithRights(t, models.MustDay("2026-01-01"))
	clock := quota.FixedDay(models.MustDay("2026-01-02"))
	counter := metrics.JobRuns.WithLabelValues(ReconcileArgs{}.Kind(), "ok")
	before := testutil.ToFloat64(counter)

	tk := NewTicker(NewSweepWorker(st, clock, nil), NewReconcileWorker(st, nil),
		Schedule{SweepEvery: time.Hour, ReconcileEvery: time.Hour}, nil)
	tk.Start(context.Background())
	require.Eventually(t, func() bool { return testutil.ToFloat64(counter) > before }, time.Second, 5*time.Millisecond)
	tk.Stop()
}
