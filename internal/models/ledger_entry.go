package models

import (
	"time"

	"github.com/google/uuid"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryGrant      EntryKind = "GRANT"
	EntryDebit      EntryKind = "DEBIT"
	EntryRefund     EntryKind = "REFUND"
	EntryReset      EntryKind = "RESET"
	EntryAdminGrant EntryKind = "ADMIN_GRANT"
	EntryPurchase   EntryKind = "PURCHASE"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntryGrant, EntryDebit, EntryRefund, EntryReset, EntryAdminGrant, EntryPurchase:
		return true
	}
	return false
}

// Unit is the counter an entry moves: the coin balance or one action's free quota.
type Unit string

const (
	UnitCoin  Unit = "COIN"
	UnitQuota Unit = "QUOTA"
)

// LedgerEntry is an immutable record of one balance change. Amount is the
// signed delta and ResultingBalance the counter value after applying it.
type LedgerEntry struct {
	ID               string     `json:"id"`
	Seq              int64      `json:"seq"`
	AccountID        uuid.UUID  `json:"account_id"`
	Kind             EntryKind  `json:"kind"`
	Unit             Unit       `json:"unit"`
	Action           ActionType `json:"action,omitempty"`
	Amount           int64      `json:"amount"`
	ResultingBalance int64      `json:"resulting_balance"`
	Reason           string     `json:"reason,omitempty"`
	IdempotencyKey   string     `json:"idempotency_key,omitempty"`
	RefEntryID       string     `json:"ref_entry_id,omitempty"`
	ActorID          string     `json:"actor_id,omitempty"`
	QuotaDay         Day        `json:"quota_day,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Counter identifies the balance an entry belongs to.
type Counter struct {
	Unit   Unit       `json:"unit"`
	Action ActionType `json:"action,omitempty"`
}

func (e *LedgerEntry) Counter() Counter {
	if e.Unit == UnitCoin {
		return Counter{Unit: UnitCoin}
	}
	return Counter{Unit: UnitQuota, Action: e.Action}
}
