// Package events delivers BalanceChanged notifications after a ledger
// mutation commits. Delivery is best-effort: a lost event never affects
// the ledger, and consumers can always re-read the balance.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/models"
)

type BalanceChanged struct {
	AccountID  uuid.UUID         `json:"account_id"`
	EntryID    string            `json:"entry_id"`
	Kind       models.EntryKind  `json:"kind"`
	Unit       models.Unit       `json:"unit"`
	Action     models.ActionType `json:"action,omitempty"`
	Delta      int64             `json:"delta"`
	NewBalance int64             `json:"new_balance"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// FromEntry builds the event for a committed entry.
func FromEntry(e models.LedgerEntry) BalanceChanged {
	return BalanceChanged{
		AccountID:  e.AccountID,
		EntryID:    e.ID,
		Kind:       e.Kind,
		Unit:       e.Unit,
		Action:     e.Action,
		Delta:      e.Amount,
		NewBalance: e.ResultingBalance,
		Reason:     e.Reason,
		OccurredAt: e.CreatedAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev BalanceChanged) error
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(ev BalanceChanged) bool
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(BalanceChanged) bool { return true }
