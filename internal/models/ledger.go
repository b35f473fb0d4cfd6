package models

import (
	"time"
)

// LedgerEntry is the materialized running balance between an unordered pair of
// users within a group. Exactly one row exists per pair per group: the two ids
// are stored in lexical order and Amount is the balance seen from UserLow's
// side (positive means UserHigh owes UserLow). The mirror balance is the
// negation, derived on read rather than stored.
type LedgerEntry struct {
	ID        int64     `json:"id" db:"id"`
	GroupID   string    `json:"group_id" db:"group_id"`
	UserLow   string    `json:"user_low" db:"user_low"`
	UserHigh  string    `json:"user_high" db:"user_high"`
	Amount    int64     `json:"amount" db:"amount"` // in cents
	Version   int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BalanceFor returns the entry balance oriented to userID's perspective.
func (e *LedgerEntry) BalanceFor(userID string) (int64, error) {
	if userID == e.UserLow {
		return e.Amount, nil
	}
	return NegateAmount(e.Amount)
}

// OrderPair maps two user ids onto the canonical (low, high) storage ordering.
// flipped reports that a came after b, i.e. amounts oriented to (a, b) must be
// negated before they are folded into the stored balance.
func OrderPair(a, b string) (low, high string, flipped bool) {
	if a < b {
		return a, b, false
	}
	return b, a, true
}
