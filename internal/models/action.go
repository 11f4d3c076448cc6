package models

import "fmt"

// ActionType is a chargeable user action.
type ActionType string

const (
	ActionHand   ActionType = "hand"
	ActionFace   ActionType = "face"
	ActionCoffee ActionType = "coffee"
	ActionTarot  ActionType = "tarot"
	ActionChat   ActionType = "chat"
)

// AllActionTypes lists every known action in a stable order.
var AllActionTypes = []ActionType{ActionHand, ActionFace, ActionCoffee, ActionTarot, ActionChat}

func (a ActionType) Valid() bool {
	for _, k := range AllActionTypes {
		if a == k {
			return true
		}
	}
	return false
}

func ParseActionType(s string) (ActionType, error) {
	a := ActionType(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown action type %q", s)
	}
	return a, nil
}
