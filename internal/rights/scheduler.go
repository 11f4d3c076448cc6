package rights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
	"github.com/fortunecoin/backend/internal/quota"
)

// Scheduler sells extra rights against the current quota day.
type Scheduler struct {
	store  Store
	clock  quota.Clock
	logger *slog.Logger
}

func NewScheduler(store Store, clock quota.Clock, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: store, clock: clock, logger: logger}
}

// Purchase debits totalCost coins and schedules count rights on the days
// following today. A repeated idempotency key returns the first schedule.
func (s *Scheduler) Purchase(ctx context.Context, accountID uuid.UUID, action models.ActionType, count int, totalCost int64, key, actorID string) (Schedule, error) {
	req := PurchaseRequest{
		AccountID:      accountID,
		Action:         action,
		Count:          count,
		TotalCost:      totalCost,
		Today:          s.clock.Today(),
		IdempotencyKey: key,
		ActorID:        actorID,
	}
	if err := req.Validate(); err != nil {
		return Schedule{}, err
	}

	sched, err := s.store.ScheduleExtraRights(ctx, req)
	if err == nil {
		s.logger.Info("extra rights scheduled",
			"account_id", accountID, "action", action, "count", count, "cost", totalCost, "balance", sched.Balance)
		return sched, nil
	}

	orig, dup := ledger.AsDuplicate(err)
	if !dup {
		if !errors.Is(err, ledger.ErrInsufficientCoins) {
			s.logger.Error("schedule extra rights", "account_id", accountID, "error", err)
		}
		return Schedule{}, err
	}
	if orig == nil {
		return Schedule{}, err
	}
	rs, lerr := s.store.ExtraRightsByPurchase(ctx, accountID, orig.ID)
	if lerr != nil {
		return Schedule{}, fmt.Errorf("load replayed purchase: %w", lerr)
	}
	bought, n, _ := PurchaseOf(*orig)
	return Schedule{Action: bought, Count: n, Rights: rs, Entry: orig, Balance: orig.ResultingBalance, Replayed: true}, nil
}
