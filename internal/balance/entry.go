package balance

import (
	"sort"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/models"
)

// DebitEntry is the DEBIT entry for a debit that left resulting on the counter.
func DebitEntry(req DebitRequest, resulting int64) models.LedgerEntry {
	return models.LedgerEntry{
		ID:               models.NewEntryID(),
		AccountID:        req.AccountID,
		Kind:             models.EntryDebit,
		Unit:             req.Source.Unit(),
		Action:           req.Source.Action,
		Amount:           -req.Amount,
		ResultingBalance: resulting,
		Reason:           req.Reason,
		IdempotencyKey:   req.IdempotencyKey,
		ActorID:          req.ActorID,
		QuotaDay:         req.QuotaDay,
	}
}

func CreditEntry(req CreditRequest, resulting int64) models.LedgerEntry {
	return models.LedgerEntry{
		ID:               models.NewEntryID(),
		AccountID:        req.AccountID,
		Kind:             req.Kind,
		Unit:             req.Source.Unit(),
		Action:           req.Source.Action,
		Amount:           req.Amount,
		ResultingBalance: resulting,
		Reason:           req.Reason,
		IdempotencyKey:   req.IdempotencyKey,
		RefEntryID:       req.RefEntryID,
		ActorID:          req.ActorID,
		QuotaDay:         req.QuotaDay,
	}
}

// ResetEntry moves an action's quota from old to the new allowance.
func ResetEntry(accountID uuid.UUID, action models.ActionType, old, allowance int64, day models.Day) models.LedgerEntry {
	return models.LedgerEntry{
		ID:               models.NewEntryID(),
		AccountID:        accountID,
		Kind:             models.EntryReset,
		Unit:             models.UnitQuota,
		Action:           action,
		Amount:           allowance - old,
		ResultingBalance: allowance,
		Reason:           "daily reset " + day.String(),
		QuotaDay:         day,
	}
}

// SortedActions returns the keys of defaults in a stable order so that
// every backend locks and writes quota rows in the same sequence.
func SortedActions(defaults map[models.ActionType]int64) []models.ActionType {
	out := make([]models.ActionType, 0, len(defaults))
	for a := range defaults {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
