package models

import (
	"time"

	"github.com/google/uuid"
)

// ExtraRight is a prepaid free unit for one action on one future day.
// It is consumed at most once and only on RedeemableOn.
type ExtraRight struct {
	ID              string     `json:"id"`
	AccountID       uuid.UUID  `json:"account_id"`
	Action          ActionType `json:"action"`
	RedeemableOn    Day        `json:"redeemable_on"`
	Consumed        bool       `json:"consumed"`
	ConsumedAt      *time.Time `json:"consumed_at,omitempty"`
	PurchaseEntryID string     `json:"purchase_entry_id"`
	CreatedAt       time.Time  `json:"created_at"`
}
