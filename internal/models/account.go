package models

import (
	"time"

	"github.com/google/uuid"
)

// Reserved actor ids used when the platform itself moves coins.
var (
	SystemActorID          = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	PaymentsWebhookActorID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// Account is the cached balance projection of an account's ledger.
// It is never written without a matching ledger append.
type Account struct {
	ID          uuid.UUID            `json:"id"`
	CoinBalance int64                `json:"coin_balance"`
	FreeQuota   map[ActionType]int64 `json:"free_quota"`
	QuotaDay    Day                  `json:"quota_day"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// FreeRemaining returns the remaining free units for the action, 0 when unset.
func (a *Account) FreeRemaining(action ActionType) int64 {
	if a == nil || a.FreeQuota == nil {
		return 0
	}
	return a.FreeQuota[action]
}

// Clone returns a deep copy so callers cannot mutate store state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.FreeQuota = make(map[ActionType]int64, len(a.FreeQuota))
	for k, v := range a.FreeQuota {
		cp.FreeQuota[k] = v
	}
	return &cp
}
