package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TxType determines the sign a transaction contributes to the ledger.
type TxType string

const (
	TxTypeCredit TxType = "CREDIT"
	TxTypeDebit  TxType = "DEBIT"
)

// AckStatus is the acknowledgment lifecycle marker. NOT_ACK -> ACK, one way.
type AckStatus string

const (
	AckStatusNotAck AckStatus = "NOT_ACK"
	AckStatusAck    AckStatus = "ACK"
)

// Metadata is a free-form payload attached to a transaction. The engine never
// inspects it; it is stored and returned as-is.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("metadata: cannot scan %T", src)
	}
	return json.Unmarshal(b, m)
}

// Transaction is one credit/debit event between a payer and a payee inside a
// group. Immutable after creation except for the ack transition.
type Transaction struct {
	ID        string    `json:"id" db:"id"`
	GroupID   string    `json:"group_id" db:"group_id"`
	PayerID   string    `json:"payer_id" db:"payer_id"`
	PayeeID   string    `json:"payee_id" db:"payee_id"`
	Amount    int64     `json:"amount" db:"amount"` // in cents, always > 0
	TxType    TxType    `json:"tx_type" db:"tx_type"`
	AckStatus AckStatus `json:"ack_status" db:"ack_status"`
	Metadata  Metadata  `json:"metadata" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewTransaction is the only way to build a Transaction. It validates the
// payer/payee pair and the amount, assigns a fresh id and starts at NOT_ACK.
func NewTransaction(payerID, payeeID, groupID string, amount int64, txType TxType, metadata Metadata) (*Transaction, error) {
	if payerID == payeeID {
		return nil, ErrSelfTransaction
	}
	if !IsPositiveAmount(amount) {
		return nil, ErrInvalidAmount
	}
	if txType != TxTypeCredit && txType != TxTypeDebit {
		return nil, fmt.Errorf("unknown transaction type %q", txType)
	}
	if metadata == nil {
		metadata = Metadata{}
	}

	now := time.Now().UTC()
	return &Transaction{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		PayerID:   payerID,
		PayeeID:   payeeID,
		Amount:    amount,
		TxType:    txType,
		AckStatus: AckStatusNotAck,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SignedDelta is the single source of truth for the sign convention: the
// contribution of this transaction to the pair balance seen from the
// (payer, payee) ordering. CREDIT adds, DEBIT subtracts. A transaction counts
// toward the balance from creation; ack status never changes the delta.
func (t *Transaction) SignedDelta() int64 {
	if t.TxType == TxTypeDebit {
		return -t.Amount
	}
	return t.Amount
}

// Acknowledged reports whether the transaction has reached the terminal state.
func (t *Transaction) Acknowledged() bool {
	return t.AckStatus == AckStatusAck
}
