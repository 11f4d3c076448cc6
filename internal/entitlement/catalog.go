package entitlement

import (
	"fmt"

	"github.com/fortunecoin/backend/internal/models"
)

// ActionPolicy prices one action type.
type ActionPolicy struct {
	FreePerDay     int64 `json:"free_per_day" yaml:"free_per_day" toml:"free_per_day"`
	CoinCost       int64 `json:"coin_cost" yaml:"coin_cost" toml:"coin_cost"`
	ExtraRightCost int64 `json:"extra_right_cost" yaml:"extra_right_cost" toml:"extra_right_cost"`
}

// Catalog is the immutable price list for every chargeable action.
type Catalog struct {
	policies map[models.ActionType]ActionPolicy
}

// DefaultPolicies is one free reading a day and 10 coins after that; chat
// turns are cheaper and come three a day.
func DefaultPolicies() map[models.ActionType]ActionPolicy {
	return map[models.ActionType]ActionPolicy{
		models.ActionHand:   {FreePerDay: 1, CoinCost: 10, ExtraRightCost: 10},
		models.ActionFace:   {FreePerDay: 1, CoinCost: 10, ExtraRightCost: 10},
		models.ActionCoffee: {FreePerDay: 1, CoinCost: 10, ExtraRightCost: 10},
		models.ActionTarot:  {FreePerDay: 1, CoinCost: 10, ExtraRightCost: 10},
		models.ActionChat:   {FreePerDay: 3, CoinCost: 2, ExtraRightCost: 2},
	}
}

func DefaultCatalog() *Catalog {
	c, _ := NewCatalog(DefaultPolicies())
	return c
}

// NewCatalog validates and copies policies. Every known action must be priced.
func NewCatalog(policies map[models.ActionType]ActionPolicy) (*Catalog, error) {
	c := &Catalog{policies: make(map[models.ActionType]ActionPolicy, len(policies))}
	for a, p := range policies {
		if !a.Valid() {
			return nil, fmt.Errorf("catalog: unknown action %q", a)
		}
		if p.FreePerDay < 0 {
			return nil, fmt.Errorf("catalog: %s: free_per_day must be >= 0", a)
		}
		if p.CoinCost <= 0 {
			return nil, fmt.Errorf("catalog: %s: coin_cost must be > 0", a)
		}
		if p.ExtraRightCost <= 0 {
			return nil, fmt.Errorf("catalog: %s: extra_right_cost must be > 0", a)
		}
		c.policies[a] = p
	}
	for _, a := range models.AllActionTypes {
		if _, ok := c.policies[a]; !ok {
			return nil, fmt.Errorf("catalog: missing policy for %q", a)
		}
	}
	return c, nil
}

func (c *Catalog) Policy(a models.ActionType) (ActionPolicy, bool) {
	p, ok := c.policies[a]
	return p, ok
}

// DailyAllowances is the reset target for every action.
func (c *Catalog) DailyAllowances() map[models.ActionType]int64 {
	out := make(map[models.ActionType]int64, len(c.policies))
	for a, p := range c.policies {
		out[a] = p.FreePerDay
	}
	return out
}

// ExtraRightsCost is the coin price of count extra rights for a.
func (c *Catalog) ExtraRightsCost(a models.ActionType, count int) (int64, error) {
	p, ok := c.policies[a]
	if !ok {
		return 0, fmt.Errorf("catalog: unknown action %q", a)
	}
	return p.ExtraRightCost * int64(count), nil
}
