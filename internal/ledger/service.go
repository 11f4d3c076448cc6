package ledger

import (
	"github.com/google/uuid"

	"github.com/fortunecoin/backend/internal/models"
)

// CheckLink verifies that an entry continues its counter's chain: the
// previous resulting balance plus the delta must equal the new balance,
// and no counter may go negative.
func CheckLink(accountID uuid.UUID, c models.Counter, prev, amount, resulting int64) error {
	if resulting < 0 {
		return Invariant(accountID, "%s %s balance would be %d", c.Unit, c.Action, resulting)
	}
	if prev+amount != resulting {
		return Invariant(accountID, "%s %s chain broken: previous %d + amount %d != resulting %d",
			c.Unit, c.Action, prev, amount, resulting)
	}
	return nil
}

// Replay folds entries in creation order into per-counter balances and
// reports the first broken link.
type Replay struct {
	AccountID uuid.UUID
	Balances  map[models.Counter]int64
	Entries   int
	lastSeq   int64
}

func NewReplay(accountID uuid.UUID) *Replay {
	return &Replay{AccountID: accountID, Balances: make(map[models.Counter]int64)}
}

func (r *Replay) Apply(e models.LedgerEntry) error {
	if e.Seq != 0 && e.Seq <= r.lastSeq {
		return Invariant(r.AccountID, "entry %s out of order (seq %d after %d)", e.ID, e.Seq, r.lastSeq)
	}
	c := e.Counter()
	prev := r.Balances[c]
	if err := CheckLink(r.AccountID, c, prev, e.Amount, e.ResultingBalance); err != nil {
		return err
	}
	r.Balances[c] = e.ResultingBalance
	r.Entries++
	r.lastSeq = e.Seq
	return nil
}

// Coins is the replayed coin balance.
func (r *Replay) Coins() int64 { return r.Balances[models.Counter{Unit: models.UnitCoin}] }

// Quota is the replayed free quota for the action.
func (r *Replay) Quota(a models.ActionType) int64 {
	return r.Balances[models.Counter{Unit: models.UnitQuota, Action: a}]
}
