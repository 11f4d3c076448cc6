package models

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

const (
	PrefixLedgerEntry = "le"
	PrefixExtraRight  = "xr"
)

// NewEntryID returns a new K-sortable ledger entry id, e.g. "le_01h2xcejqtf2nbrexx3vqjhp41".
func NewEntryID() string { return newID(PrefixLedgerEntry) }

// NewRightID returns a new extra-right id.
func NewRightID() string { return newID(PrefixExtraRight) }

func newID(prefix string) string {
	tid, err := typeid.Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("models: invalid id prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// ValidateID checks that s is a well formed id with the expected prefix.
func ValidateID(s, prefix string) error {
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("parse id %q: %w", s, err)
	}
	if tid.Prefix() != prefix {
		return fmt.Errorf("id %q: prefix %q, want %q", s, tid.Prefix(), prefix)
	}
	return nil
}
