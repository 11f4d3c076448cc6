// Package reconcile replays the ledger and compares it with the cached
// balance projection. The ledger is the source of truth; a mismatch means
// the projection was written without its entry, or the reverse.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/metrics"
	"github.com/fortunecoin/backend/internal/models"
)

// Source is the read side reconciliation needs.
type Source interface {
	ledger.Store
	Account(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]uuid.UUID, error)
}

// Mismatch is one counter whose projection disagrees with the ledger.
type Mismatch struct {
	AccountID uuid.UUID      `json:"account_id"`
	Counter   models.Counter `json:"counter"`
	Projected int64          `json:"projected"`
	Replayed  int64          `json:"replayed"`
}

func (m Mismatch) String() string {
	name := string(m.Counter.Unit)
	if m.Counter.Action != "" {
		name += "/" + string(m.Counter.Action)
	}
	return fmt.Sprintf("%s %s: projected %d, ledger %d", m.AccountID, name, m.Projected, m.Replayed)
}

type Report struct {
	Accounts   int               `json:"accounts"`
	Entries    int               `json:"entries"`
	Mismatches []Mismatch        `json:"mismatches,omitempty"`
	Broken     map[string]string `json:"broken,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// OK reports whether every account replayed cleanly and matched.
func (r Report) OK() bool { return len(r.Mismatches) == 0 && len(r.Broken) == 0 }

// snapshotAttempts bounds how often Account re-reads an account that is
// being written while its ledger is walked.
const snapshotAttempts = 3

// Account replays one account and returns its mismatches and entry count.
// A broken chain is returned as an invariant error.
//
// The projection is read before and after the walk. When the two reads
// differ the account moved under the walk and the replay is retried. A
// mismatch or broken chain is reported only once it is seen on two
// settled replays, so a commit racing the walk is not reported as drift.
func Account(ctx context.Context, src Source, accountID uuid.UUID) ([]Mismatch, int, error) {
	var (
		ms      []Mismatch
		n       int
		err     error
		suspect bool
	)
	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		var settled bool
		ms, n, settled, err = replay(ctx, src, accountID)
		if err != nil && !errors.Is(err, ledger.ErrInvariantViolation) {
			return nil, n, err
		}
		if !settled {
			continue
		}
		if err == nil && len(ms) == 0 {
			return nil, n, nil
		}
		if suspect {
			break
		}
		suspect = true
	}
	return ms, n, err
}

func replay(ctx context.Context, src Source, accountID uuid.UUID) ([]Mismatch, int, bool, error) {
	before, err := src.Account(ctx, accountID)
	if err != nil {
		return nil, 0, false, err
	}
	rp := ledger.NewReplay(accountID)
	walkErr := ledger.Walk(ctx, src, accountID, time.Time{}, rp.Apply)
	if walkErr != nil && !errors.Is(walkErr, ledger.ErrInvariantViolation) {
		return nil, rp.Entries, false, walkErr
	}
	acct, err := src.Account(ctx, accountID)
	if err != nil {
		return nil, rp.Entries, false, err
	}
	settled := sameProjection(before, acct)
	if walkErr != nil {
		return nil, rp.Entries, settled, walkErr
	}

	var out []Mismatch
	check := func(c models.Counter, projected int64) {
		if got := rp.Balances[c]; got != projected {
			out = append(out, Mismatch{AccountID: accountID, Counter: c, Projected: projected, Replayed: got})
		}
	}
	check(models.Counter{Unit: models.UnitCoin}, acct.CoinBalance)

	actions := make(map[models.ActionType]bool)
	for a := range acct.FreeQuota {
		actions[a] = true
	}
	for c := range rp.Balances {
		if c.Unit == models.UnitQuota {
			actions[c.Action] = true
		}
	}
	keys := make([]models.ActionType, 0, len(actions))
	for a := range actions {
		keys = append(keys, a)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, a := range keys {
		check(models.Counter{Unit: models.UnitQuota, Action: a}, acct.FreeRemaining(a))
	}
	return out, rp.Entries, settled, nil
}

func sameProjection(a, b *models.Account) bool {
	if a.CoinBalance != b.CoinBalance || a.QuotaDay != b.QuotaDay || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if len(a.FreeQuota) != len(b.FreeQuota) {
		return false
	}
	for k, v := range a.FreeQuota {
		if bv, ok := b.FreeQuota[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// Run reconciles every account. Invariant failures are collected per
// account; an unavailable store aborts the run.
func Run(ctx context.Context, src Source, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	ids, err := src.ListAccounts(ctx)
	if err != nil {
		return Report{}, err
	}

	rep := Report{}
	for _, id := range ids {
		ms, n, err := Account(ctx, src, id)
		rep.Accounts++
		rep.Entries += n
		switch {
		case errors.Is(err, ledger.ErrInvariantViolation):
			if rep.Broken == nil {
				rep.Broken = make(map[string]string)
			}
			rep.Broken[id.String()] = err.Error()
			logger.Error("ledger chain broken", "account_id", id, "error", err)
			continue
		case err != nil:
			return rep, err
		}
		for _, m := range ms {
			logger.Error("projection mismatch", "account_id", m.AccountID, "unit", m.Counter.Unit,
				"action", m.Counter.Action, "projected", m.Projected, "ledger", m.Replayed)
		}
		rep.Mismatches = append(rep.Mismatches, ms...)
	}
	rep.Duration = time.Since(start)
	metrics.ReconcileMismatches.Set(float64(len(rep.Mismatches) + len(rep.Broken)))
	logger.Info("reconciliation finished", "accounts", rep.Accounts, "entries", rep.Entries,
		"mismatches", len(rep.Mismatches), "broken", len(rep.Broken), "duration", rep.Duration)
	return rep, nil
}
