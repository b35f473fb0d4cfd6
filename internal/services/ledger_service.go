package services

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dolpheyn/splitje-be/internal/models"
)

// LedgerService maintains the running balance between every pair of users in a
// group. One canonical row per unordered pair per group: ids stored in lexical
// order, amount oriented to the low id. The row is a cached projection of the
// transaction log and must always be re-derivable from it (see Reconcile).
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// Apply folds tx into the pair's ledger entry in its own database transaction.
func (s *LedgerService) Apply(tx *models.Transaction) (*models.LedgerEntry, error) {
	dbTx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	entry, err := s.ApplyTx(dbTx, tx)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// ApplyTx folds tx into the pair's ledger entry inside the caller's database
// transaction. Safe under at-least-once delivery: the idempotency marker and
// the balance mutation commit or roll back as one unit, so a retried apply of
// the same transaction id returns the current entry without re-counting.
func (s *LedgerService) ApplyTx(dbTx *sql.Tx, tx *models.Transaction) (*models.LedgerEntry, error) {
	low, high, flipped := models.OrderPair(tx.PayerID, tx.PayeeID)

	delta := tx.SignedDelta()
	if flipped {
		d, err := models.NegateAmount(delta)
		if err != nil {
			return nil, err
		}
		delta = d
	}

	res, err := dbTx.Exec(`
		INSERT INTO ledger_applied (transaction_id, applied_at)
		VALUES ($1, $2)
		ON CONFLICT (transaction_id) DO NOTHING`,
		tx.ID, time.Now())
	if err != nil {
		return nil, err
	}

	applied, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if applied == 0 {
		// Already folded in by a previous apply of this id.
		return s.fetchEntry(dbTx, tx.GroupID, low, high)
	}

	if _, err := dbTx.Exec(`
		INSERT INTO ledgers (group_id, user_low, user_high, amount, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 1, $4, $4)
		ON CONFLICT (group_id, user_low, user_high) DO NOTHING`,
		tx.GroupID, low, high, time.Now()); err != nil {
		return nil, err
	}

	entry, err := s.lockEntry(dbTx, tx.GroupID, low, high)
	if err != nil {
		return nil, err
	}

	newAmount, err := models.AddAmount(entry.Amount, delta)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %d delta %d", models.ErrLedgerOverflow, entry.ID, delta)
	}

	now := time.Now()
	result, err := dbTx.Exec(`
		UPDATE ledgers
		SET amount = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newAmount, now, entry.ID, entry.Version)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: ledger entry %d", models.ErrConcurrentUpdate, entry.ID)
	}

	entry.Amount = newAmount
	entry.Version++
	entry.UpdatedAt = now
	return entry, nil
}

// Balance is a pure read of the pair balance oriented to userA's perspective:
// positive means userB owes userA. Missing entry reads as 0 and is never
// created by a read.
func (s *LedgerService) Balance(groupID, userA, userB string) (int64, error) {
	low, high, flipped := models.OrderPair(userA, userB)

	var amount int64
	err := s.db.QueryRow(`
		SELECT amount FROM ledgers
		WHERE group_id = $1 AND user_low = $2 AND user_high = $3`,
		groupID, low, high).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if flipped {
		return models.NegateAmount(amount)
	}
	return amount, nil
}

// History returns every transaction between the pair in the group, oldest
// first. The ledger entry is re-derivable by folding SignedDelta over this
// sequence from zero.
func (s *LedgerService) History(groupID, userA, userB string) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, group_id, payer_id, payee_id, amount, tx_type, ack_status, metadata, created_at, updated_at
		FROM transactions
		WHERE group_id = $1
		  AND ((payer_id = $2 AND payee_id = $3) OR (payer_id = $3 AND payee_id = $2))
		ORDER BY created_at ASC`,
		groupID, userA, userB)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.GroupID, &tx.PayerID, &tx.PayeeID, &tx.Amount,
			&tx.TxType, &tx.AckStatus, &tx.Metadata, &tx.CreatedAt, &tx.UpdatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// ReconcileReport is the outcome of checking a stored entry against the
// balance recomputed from history. Amounts are oriented to UserLow.
type ReconcileReport struct {
	GroupID    string `json:"group_id"`
	UserLow    string `json:"user_low"`
	UserHigh   string `json:"user_high"`
	Stored     int64  `json:"stored"`
	Recomputed int64  `json:"recomputed"`
	Consistent bool   `json:"consistent"`
}

// Reconcile recomputes the pair balance from the transaction history and
// compares it with the stored entry. A mismatch returns the report wrapped in
// ErrLedgerDrift; the entry should be treated as corrupted until repaired.
// Not for the hot path.
func (s *LedgerService) Reconcile(groupID, userA, userB string) (*ReconcileReport, error) {
	low, high, _ := models.OrderPair(userA, userB)

	history, err := s.History(groupID, low, high)
	if err != nil {
		return nil, err
	}

	var recomputed int64
	for i := range history {
		delta := history[i].SignedDelta()
		if history[i].PayerID != low {
			delta, err = models.NegateAmount(delta)
			if err != nil {
				return nil, err
			}
		}
		recomputed, err = models.AddAmount(recomputed, delta)
		if err != nil {
			return nil, err
		}
	}

	stored, err := s.Balance(groupID, low, high)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		GroupID:    groupID,
		UserLow:    low,
		UserHigh:   high,
		Stored:     stored,
		Recomputed: recomputed,
		Consistent: stored == recomputed,
	}
	if !report.Consistent {
		return report, fmt.Errorf("%w: stored %d, recomputed %d for pair (%s, %s) in group %s",
			models.ErrLedgerDrift, stored, recomputed, low, high, groupID)
	}
	return report, nil
}

// InitPairEntriesTx seeds zero-balance entries between userID and every member
// in otherUserIDs, inside the caller's transaction. Used when a user joins a
// group; entries that already exist are left alone, matching the lazy creation
// done by ApplyTx.
func (s *LedgerService) InitPairEntriesTx(dbTx *sql.Tx, groupID, userID string, otherUserIDs []string) error {
	now := time.Now()
	for _, other := range otherUserIDs {
		if other == userID {
			continue
		}
		low, high, _ := models.OrderPair(userID, other)
		if _, err := dbTx.Exec(`
			INSERT INTO ledgers (group_id, user_low, user_high, amount, version, created_at, updated_at)
			VALUES ($1, $2, $3, 0, 1, $4, $4)
			ON CONFLICT (group_id, user_low, user_high) DO NOTHING`,
			groupID, low, high, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *LedgerService) lockEntry(dbTx *sql.Tx, groupID, low, high string) (*models.LedgerEntry, error) {
	return s.scanEntry(dbTx.QueryRow(`
		SELECT id, group_id, user_low, user_high, amount, version, created_at, updated_at
		FROM ledgers
		WHERE group_id = $1 AND user_low = $2 AND user_high = $3
		FOR UPDATE`,
		groupID, low, high), groupID, low, high)
}

func (s *LedgerService) fetchEntry(dbTx *sql.Tx, groupID, low, high string) (*models.LedgerEntry, error) {
	return s.scanEntry(dbTx.QueryRow(`
		SELECT id, group_id, user_low, user_high, amount, version, created_at, updated_at
		FROM ledgers
		WHERE group_id = $1 AND user_low = $2 AND user_high = $3`,
		groupID, low, high), groupID, low, high)
}

func (s *LedgerService) scanEntry(row *sql.Row, groupID, low, high string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := row.Scan(
		&entry.ID, &entry.GroupID, &entry.UserLow, &entry.UserHigh,
		&entry.Amount, &entry.Version, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ledger entry for pair (%s, %s) in group %s",
			models.ErrNotFound, low, high, groupID)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
