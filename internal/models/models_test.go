package models

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDayOfUsesLocation(t *testing.T) {
	// 22:30 UTC is already the next day at UTC+3.
	ts := time.Date(2026, 3, 10, 22, 30, 0, 0, time.UTC)
	if got := DayOf(ts, time.UTC); got != "2026-03-10" {
		t.Errorf("DayOf(UTC) = %s, want 2026-03-10", got)
	}
	if got := DayOf(ts, time.FixedZone("UTC+3", 3*3600)); got != "2026-03-11" {
		t.Errorf("DayOf(UTC+3) = %s, want 2026-03-11", got)
	}
}

func TestDayArithmetic(t *testing.T) {
	d := MustDay("2026-02-28")
	if got := d.AddDays(1); got != "2026-03-01" {
		t.Errorf("AddDays(1) = %s, want 2026-03-01", got)
	}
	if got := Day("").AddDays(5); !got.IsZero() {
		t.Errorf("zero day AddDays = %q, want zero", got)
	}
	if !Day("").Before(d) {
		t.Error("zero day must sort before every real day")
	}
	if d.Before(d) {
		t.Error("a day is not before itself")
	}
	if _, err := ParseDay("2026-13-01"); err == nil {
		t.Error("ParseDay accepted month 13")
	}
}

func TestActorCanActOn(t *testing.T) {
	own, other := uuid.New(), uuid.New()
	user := UserActor(own)
	if !user.CanActOn(own) {
		t.Error("user should act on own account")
	}
	if user.CanActOn(other) {
		t.Error("user must not act on another account")
	}
	if !AdminActor(uuid.New()).CanActOn(other) {
		t.Error("admin should act on any account")
	}
	if (Actor{}).CanActOn(own) {
		t.Error("anonymous actor must not act on anything")
	}
	if got := (Actor{}).String(); got != "anonymous" {
		t.Errorf("zero actor String = %q", got)
	}
}

func TestIDs(t *testing.T) {
	id := NewEntryID()
	if !strings.HasPrefix(id, PrefixLedgerEntry+"_") {
		t.Errorf("entry id %q lacks prefix", id)
	}
	if err := ValidateID(id, PrefixLedgerEntry); err != nil {
		t.Errorf("ValidateID(%q): %v", id, err)
	}
	if err := ValidateID(NewRightID(), PrefixLedgerEntry); err == nil {
		t.Error("ValidateID accepted a right id as an entry id")
	}
	if err := ValidateID("nope", PrefixLedgerEntry); err == nil {
		t.Error("ValidateID accepted garbage")
	}
}

func TestParseActionType(t *testing.T) {
	if a, err := ParseActionType("coffee"); err != nil || a != ActionCoffee {
		t.Errorf("ParseActionType(coffee) = %q, %v", a, err)
	}
	if _, err := ParseActionType("palm"); err == nil {
		t.Error("ParseActionType accepted unknown action")
	}
}

func TestAccountCloneIsDeep(t *testing.T) {
	a := &Account{FreeQuota: map[ActionType]int64{ActionChat: 3}}
	cp := a.Clone()
	cp.FreeQuota[ActionChat] = 0
	if a.FreeRemaining(ActionChat) != 3 {
		t.Error("Clone shares the quota map")
	}
	var nilAcct *Account
	if nilAcct.FreeRemaining(ActionChat) != 0 {
		t.Error("nil account should report zero")
	}
}
