// Package rights schedules prepaid "extra rights": one additional free
// unit for an action on each of the next N days, paid for up front in coins.
package rights

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/models"
)

// MaxPerPurchase bounds how far ahead one purchase may schedule.
const MaxPerPurchase = 90

type PurchaseRequest struct {
	AccountID      uuid.UUID
	Action         models.ActionType
	Count          int
	TotalCost      int64
	Today          models.Day
	IdempotencyKey string
	ActorID        string
}

func (r PurchaseRequest) Validate() error {
	if r.AccountID == uuid.Nil {
		return fmt.Errorf("%w: missing account id", ledger.ErrInvalidRequest)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ledger.ErrInvalidRequest, r.Action)
	}
	if r.Count < 1 || r.Count > MaxPerPurchase {
		return fmt.Errorf("%w: count must be between 1 and %d", ledger.ErrInvalidRequest, MaxPerPurchase)
	}
	if r.TotalCost <= 0 {
		return ledger.ErrInvalidAmount
	}
	if r.Today.IsZero() {
		return fmt.Errorf("%w: missing quota day", ledger.ErrInvalidRequest)
	}
	return nil
}

const purchaseReasonPrefix = "extra rights: "

// Reason is the text recorded on the purchase's coin debit.
func (r PurchaseRequest) Reason() string {
	return fmt.Sprintf("%s%s x%d", purchaseReasonPrefix, r.Action, r.Count)
}

// PurchaseOf reports whether e is the coin debit of an extra-rights
// purchase and what it bought. It reads only the entry, so it holds after
// the rights have been pruned. count is 0 when the reason cannot be parsed.
func PurchaseOf(e models.LedgerEntry) (action models.ActionType, count int, ok bool) {
	if e.Kind != models.EntryDebit || e.Unit != models.UnitCoin || !strings.HasPrefix(e.Reason, purchaseReasonPrefix) {
		return "", 0, false
	}
	var a string
	if _, err := fmt.Sscanf(strings.TrimPrefix(e.Reason, purchaseReasonPrefix), "%s x%d", &a, &count); err != nil {
		return "", 0, true
	}
	return models.ActionType(a), count, true
}

// Schedule is the result of a purchase: the coin debit and the rights it
// created. On a replay Rights lists only the rights still on record; the
// sweep removes them once their day is past retention.
type Schedule struct {
	Action   models.ActionType   `json:"action"`
	Count    int                 `json:"count"`
	Rights   []models.ExtraRight `json:"rights"`
	Entry    *models.LedgerEntry `json:"entry"`
	Balance  int64               `json:"balance"`
	Replayed bool                `json:"replayed,omitempty"`
}

// Store persists extra rights. ScheduleExtraRights debits the coins and
// creates every right in one transaction; nothing is written when the
// balance is short (ledger.ErrInsufficientCoins).
type Store interface {
	ScheduleExtraRights(ctx context.Context, req PurchaseRequest) (Schedule, error)

	// RedeemExtraRight consumes the unconsumed right for (account, action, day)
	// and credits one free unit with a GRANT entry. It returns nil, nil, nil
	// when there is nothing to redeem.
	RedeemExtraRight(ctx context.Context, accountID uuid.UUID, action models.ActionType, day models.Day) (*models.ExtraRight, *models.LedgerEntry, error)

	ExtraRights(ctx context.Context, accountID uuid.UUID) ([]models.ExtraRight, error)
	ExtraRightsByPurchase(ctx context.Context, accountID uuid.UUID, purchaseEntryID string) ([]models.ExtraRight, error)

	// PruneExtraRights deletes rights whose day is before cutoff. Those are
	// either consumed or expired; neither can be redeemed again.
	PruneExtraRights(ctx context.Context, cutoff models.Day) (int64, error)
}

// PlanDays picks count distinct days strictly after today, skipping days
// that already hold a right for the same action.
func PlanDays(today models.Day, count int, taken map[models.Day]bool) []models.Day {
	days := make([]models.Day, 0, count)
	for d := today.AddDays(1); len(days) < count; d = d.AddDays(1) {
		if taken[d] {
			continue
		}
		days = append(days, d)
	}
	return days
}

// NewRights builds unconsumed rights for the planned days.
func NewRights(req PurchaseRequest, days []models.Day, purchaseEntryID string) []models.ExtraRight {
	out := make([]models.ExtraRight, 0, len(days))
	for _, d := range days {
		out = append(out, models.ExtraRight{
			ID:              models.NewRightID(),
			AccountID:       req.AccountID,
			Action:          req.Action,
			RedeemableOn:    d,
			PurchaseEntryID: purchaseEntryID,
		})
	}
	return out
}

// RedeemEntry is the GRANT entry for a consumed right.
func RedeemEntry(r models.ExtraRight, resulting int64) models.LedgerEntry {
	return models.LedgerEntry{
		ID:               models.NewEntryID(),
		AccountID:        r.AccountID,
		Kind:             models.EntryGrant,
		Unit:             models.UnitQuota,
		Action:           r.Action,
		Amount:           1,
		ResultingBalance: resulting,
		Reason:           "extra right " + r.ID,
		RefEntryID:       r.PurchaseEntryID,
		QuotaDay:         r.RedeemableOn,
	}
}
