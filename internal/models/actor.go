package models

import "github.com/google/uuid"

type ActorKind string

const (
	ActorAdmin ActorKind = "admin"
	ActorUser  ActorKind = "user"
)

// Actor is whoever initiates an operation: an administrator or the user
// owning an account. Authorization is decided once, from the actor.
type Actor struct {
	Kind      ActorKind `json:"kind"`
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id,omitempty"`
}

func AdminActor(id uuid.UUID) Actor { return Actor{Kind: ActorAdmin, ID: id} }

func UserActor(accountID uuid.UUID) Actor {
	return Actor{Kind: ActorUser, ID: accountID, AccountID: accountID}
}

func (a Actor) IsAdmin() bool { return a.Kind == ActorAdmin }

func (a Actor) IsZero() bool { return a.Kind == "" }

// CanActOn reports whether the actor may touch the given account.
func (a Actor) CanActOn(accountID uuid.UUID) bool {
	switch a.Kind {
	case ActorAdmin:
		return true
	case ActorUser:
		return a.AccountID != uuid.Nil && a.AccountID == accountID
	}
	return false
}

func (a Actor) String() string {
	if a.IsZero() {
		return "anonymous"
	}
	return string(a.Kind) + ":" + a.ID.String()
}
