package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/Dolpheyn/splitje-be/internal/models"
)

const settlementQueueKey = "settlement_queue"

type TransactionService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	validator *ValidationHelper
}

// NewTx is the client-facing shape for creating a transaction. The payer is
// always the authenticated caller.
type NewTx struct {
	GroupID  string          `json:"group_id" validate:"required,uuid4"`
	PayeeID  string          `json:"payee_id" validate:"required,uuid4"`
	Amount   int64           `json:"amount" validate:"required,gt=0"`
	TxType   models.TxType   `json:"tx_type" validate:"required,oneof=CREDIT DEBIT"`
	Metadata models.Metadata `json:"metadata"`
}

// TxBody wraps every transaction request/response body.
type TxBody[T any] struct {
	Transaction T `json:"transaction"`
}

func NewTransactionService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService) *TransactionService {
	return &TransactionService{
		db:        db,
		redis:     redisClient,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// CreateTransaction records a transaction and folds it into the pair ledger
// @Summary Create a new transaction
// @Description Record a credit/debit between the caller and a payee in a group
// @Tags transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param transaction body TxBody[NewTx] true "Transaction data"
// @Success 201 {object} TxBody[models.Transaction]
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /transactions [post]
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	payerID, ok := r.Context().Value("userID").(string)
	if !ok || payerID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TxBody[NewTx]
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req.Transaction); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	for _, userID := range []string{payerID, req.Transaction.PayeeID} {
		member, err := ts.isGroupMember(req.Transaction.GroupID, userID)
		if err != nil {
			log.Printf("[TRANSACTION] Membership check failed: %v", err)
			SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
			return
		}
		if !member {
			log.Printf("[TRANSACTION] User %s is not in group %s", userID, req.Transaction.GroupID)
			SendErrorResponse(w, "User is not a member of the group", http.StatusForbidden, nil)
			return
		}
	}

	tx, err := models.NewTransaction(
		payerID,
		req.Transaction.PayeeID,
		req.Transaction.GroupID,
		req.Transaction.Amount,
		req.Transaction.TxType,
		req.Transaction.Metadata,
	)
	if err != nil {
		SendErrorResponse(w, err.Error(), domainStatus(err), nil)
		return
	}

	dbTx, err := ts.db.Begin()
	if err != nil {
		log.Printf("[TRANSACTION] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
		return
	}
	defer dbTx.Rollback()

	if err := ts.storeTransactionTx(dbTx, tx); err != nil {
		log.Printf("[TRANSACTION] Failed to store transaction %s: %v", tx.ID, err)
		SendErrorResponse(w, "Failed to store transaction", http.StatusInternalServerError, nil)
		return
	}

	if _, err := ts.ledger.ApplyTx(dbTx, tx); err != nil {
		log.Printf("[TRANSACTION] Failed to apply transaction %s to ledger: %v", tx.ID, err)
		SendErrorResponse(w, "Failed to process transaction", domainStatus(err), nil)
		return
	}

	if err := dbTx.Commit(); err != nil {
		log.Printf("[TRANSACTION] Failed to commit transaction %s: %v", tx.ID, err)
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(TxBody[*models.Transaction]{Transaction: tx})
}

// GetTransaction returns one transaction by id
// @Summary Get a transaction
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Success 200 {object} TxBody[models.Transaction]
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	tx, err := ts.fetchTransaction(txID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[TRANSACTION] Failed to fetch transaction %s: %v", txID, err)
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TxBody[*models.Transaction]{Transaction: tx})
}

// AcknowledgeTransaction moves a transaction from NOT_ACK to ACK
// @Summary Acknowledge a transaction
// @Description Confirm a transaction. Re-acknowledging is a no-op. The ledger balance is never changed by this call.
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Success 200 {object} TxBody[models.Transaction]
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId}/ack [post]
func (ts *TransactionService) AcknowledgeTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	tx, err := ts.Acknowledge(txID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[TRANSACTION] Failed to acknowledge transaction %s: %v", txID, err)
			SendErrorResponse(w, "Failed to acknowledge transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	// Queue for settlement (after commit)
	if err := ts.queueForSettlement(tx); err != nil {
		log.Printf("[TRANSACTION] Failed to queue transaction %s for settlement: %v", tx.ID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TxBody[*models.Transaction]{Transaction: tx})
}

// Acknowledge performs the NOT_ACK -> ACK transition. Acknowledging an
// already-ACK transaction returns the current record without error, keeping
// the call retryable. Unknown ids fail with ErrNotFound.
func (ts *TransactionService) Acknowledge(txID string) (*models.Transaction, error) {
	now := time.Now()
	res, err := ts.db.Exec(`
		UPDATE transactions
		SET ack_status = $1, updated_at = $2
		WHERE id = $3 AND ack_status = $4`,
		models.AckStatusAck, now, txID, models.AckStatusNotAck)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		// Either the id is unknown or the transaction is already ACK.
		tx, err := ts.fetchTransaction(txID)
		if err != nil {
			return nil, err
		}
		log.Printf("[TRANSACTION] Transaction %s already acknowledged", txID)
		return tx, nil
	}

	return ts.fetchTransaction(txID)
}

// GetBalance returns the pair balance from the caller's perspective
// @Summary Get pair balance
// @Description Positive means the other user owes the caller
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param groupId path string true "Group ID"
// @Param otherUserId path string true "Other user ID"
// @Success 200 {object} object{group_id=string,user_id=string,other_user_id=string,balance=int64}
// @Router /groups/{groupId}/balance/{otherUserId} [get]
func (ts *TransactionService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	groupID := chi.URLParam(r, "groupId")
	otherUserID := chi.URLParam(r, "otherUserId")

	balance, err := ts.ledger.Balance(groupID, userID, otherUserID)
	if err != nil {
		log.Printf("[LEDGER] Failed to read balance for (%s, %s) in group %s: %v", userID, otherUserID, groupID, err)
		SendErrorResponse(w, "Failed to read balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"group_id":      groupID,
		"user_id":       userID,
		"other_user_id": otherUserID,
		"balance":       balance,
	})
}

// GetHistory lists the pair's transactions, oldest first
// @Summary Get pair transaction history
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param groupId path string true "Group ID"
// @Param otherUserId path string true "Other user ID"
// @Success 200 {object} object{transactions=[]models.Transaction}
// @Router /groups/{groupId}/history/{otherUserId} [get]
func (ts *TransactionService) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	groupID := chi.URLParam(r, "groupId")
	otherUserID := chi.URLParam(r, "otherUserId")

	history, err := ts.ledger.History(groupID, userID, otherUserID)
	if err != nil {
		log.Printf("[LEDGER] Failed to read history for (%s, %s) in group %s: %v", userID, otherUserID, groupID, err)
		SendErrorResponse(w, "Failed to read history", http.StatusInternalServerError, nil)
		return
	}
	if history == nil {
		history = []models.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"transactions": history})
}

// ReconcileLedger checks the stored pair balance against the history
// @Summary Reconcile a ledger entry
// @Description Recomputes the balance from the transaction history and compares against the stored entry
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param groupId path string true "Group ID"
// @Param otherUserId path string true "Other user ID"
// @Success 200 {object} ReconcileReport
// @Failure 409 {object} ReconcileReport "Drift detected"
// @Router /groups/{groupId}/reconcile/{otherUserId} [get]
func (ts *TransactionService) ReconcileLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	groupID := chi.URLParam(r, "groupId")
	otherUserID := chi.URLParam(r, "otherUserId")

	report, err := ts.ledger.Reconcile(groupID, userID, otherUserID)
	if err != nil {
		if errors.Is(err, models.ErrLedgerDrift) {
			log.Printf("[LEDGER] Drift detected: %v", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(report)
			return
		}
		log.Printf("[LEDGER] Reconciliation failed for (%s, %s) in group %s: %v", userID, otherUserID, groupID, err)
		SendErrorResponse(w, "Failed to reconcile ledger entry", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// Database helper functions

func (ts *TransactionService) storeTransactionTx(dbTx *sql.Tx, tx *models.Transaction) error {
	_, err := dbTx.Exec(`
		INSERT INTO transactions (id, group_id, payer_id, payee_id, amount, tx_type, ack_status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tx.ID, tx.GroupID, tx.PayerID, tx.PayeeID, tx.Amount,
		tx.TxType, tx.AckStatus, tx.Metadata, tx.CreatedAt, tx.UpdatedAt)
	return err
}

func (ts *TransactionService) fetchTransaction(txID string) (*models.Transaction, error) {
	tx := &models.Transaction{}
	err := ts.db.QueryRow(`
		SELECT id, group_id, payer_id, payee_id, amount, tx_type, ack_status, metadata, created_at, updated_at
		FROM transactions
		WHERE id = $1`, txID).Scan(
		&tx.ID, &tx.GroupID, &tx.PayerID, &tx.PayeeID, &tx.Amount,
		&tx.TxType, &tx.AckStatus, &tx.Metadata, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (ts *TransactionService) isGroupMember(groupID, userID string) (bool, error) {
	var exists bool
	err := ts.db.QueryRow(`
		SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID).Scan(&exists)
	return exists, err
}

func (ts *TransactionService) queueForSettlement(tx *models.Transaction) error {
	if ts.redis == nil {
		return nil
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	return ts.redis.RPush(context.Background(), settlementQueueKey, data).Err()
}

// domainStatus maps engine errors onto HTTP status codes.
func domainStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrSelfTransaction),
		errors.Is(err, models.ErrAmountOverflow):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrLedgerOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrConcurrentUpdate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
