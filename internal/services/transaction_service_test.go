package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/Dolpheyn/splitje-be/internal/models"
)

func newTestTransactionService(t *testing.T) (*TransactionService, sqlmock.Sqlmock, redismock.ClientMock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	redisClient, redisMock := redismock.NewClientMock()
	service := NewTransactionService(db, redisClient, NewLedgerService(db))
	return service, mock, redisMock, func() { db.Close() }
}

func authedRequest(method, target string, body []byte, userID string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewBuffer(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(context.WithValue(r.Context(), "userID", userID))
}

func TestTransactionService_CreateTransaction(t *testing.T) {
	service, mock, _, closeFn := newTestTransactionService(t)
	defer closeFn()

	t.Run("successful transaction", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"transaction": map[string]any{
				"group_id": groupID,
				"payee_id": userB,
				"amount":   500,
				"tx_type":  "CREDIT",
				"metadata": map[string]string{"note": "dinner"},
			},
		})

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(groupID, userA).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(groupID, userB).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), groupID, userA, userB, int64(500), models.TxTypeCredit,
				models.AckStatusNotAck, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_applied").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledgers").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("FROM ledgers (.+) FOR UPDATE").
			WillReturnRows(sqlmock.NewRows(entryColumns()).
				AddRow(1, groupID, userA, userB, 0, 1, time.Now(), time.Now()))
		mock.ExpectExec("UPDATE ledgers").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		service.CreateTransaction(w, authedRequest("POST", "/transactions", body, userA))

		assert.Equal(t, http.StatusCreated, w.Code)

		var resp TxBody[models.Transaction]
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Transaction.ID)
		assert.Equal(t, userA, resp.Transaction.PayerID)
		assert.Equal(t, models.AckStatusNotAck, resp.Transaction.AckStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request body", func(t *testing.T) {
		w := httptest.NewRecorder()
		service.CreateTransaction(w, authedRequest("POST", "/transactions", []byte("invalid"), userA))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"transaction": map[string]any{
				"group_id": groupID,
				"payee_id": userB,
				"amount":   0,
				"tx_type":  "CREDIT",
			},
		})

		w := httptest.NewRecorder()
		service.CreateTransaction(w, authedRequest("POST", "/transactions", body, userA))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("self transaction rejected before touching the ledger", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"transaction": map[string]any{
				"group_id": groupID,
				"payee_id": userA, // same as the authenticated payer
				"amount":   100,
				"tx_type":  "CREDIT",
			},
		})

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(groupID, userA).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(groupID, userA).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		w := httptest.NewRecorder()
		service.CreateTransaction(w, authedRequest("POST", "/transactions", body, userA))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("payee outside the group is forbidden", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"transaction": map[string]any{
				"group_id": groupID,
				"payee_id": userB,
				"amount":   100,
				"tx_type":  "DEBIT",
			},
		})

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(groupID, userA).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(groupID, userB).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		w := httptest.NewRecorder()
		service.CreateTransaction(w, authedRequest("POST", "/transactions", body, userA))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionService_Acknowledge(t *testing.T) {
	now := time.Now()

	t.Run("NOT_ACK transitions to ACK", func(t *testing.T) {
		service, mock, redisMock, closeFn := newTestTransactionService(t)
		defer closeFn()

		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.AckStatusAck, sqlmock.AnyArg(), "t1", models.AckStatusNotAck).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("FROM transactions").
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows(historyColumns()).
				AddRow("t1", groupID, userA, userB, 500, "CREDIT", "ACK", []byte("{}"), now, now))

		tx, err := service.Acknowledge("t1")
		assert.NoError(t, err)
		assert.Equal(t, models.AckStatusAck, tx.AckStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("second ack is a no-op returning current state", func(t *testing.T) {
		service, mock, _, closeFn := newTestTransactionService(t)
		defer closeFn()

		mock.ExpectExec("UPDATE transactions").
			WithArgs(models.AckStatusAck, sqlmock.AnyArg(), "t1", models.AckStatusNotAck).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM transactions").
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows(historyColumns()).
				AddRow("t1", groupID, userA, userB, 500, "CREDIT", "ACK", []byte("{}"), now, now))

		tx, err := service.Acknowledge("t1")
		assert.NoError(t, err)
		assert.Equal(t, models.AckStatusAck, tx.AckStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id fails with ErrNotFound", func(t *testing.T) {
		service, mock, _, closeFn := newTestTransactionService(t)
		defer closeFn()

		mock.ExpectExec("UPDATE transactions").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM transactions").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := service.Acknowledge("missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("ack endpoint queues the transaction for settlement", func(t *testing.T) {
		service, mock, redisMock, closeFn := newTestTransactionService(t)
		defer closeFn()

		mock.ExpectExec("UPDATE transactions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("FROM transactions").
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows(historyColumns()).
				AddRow("t1", groupID, userA, userB, 500, "CREDIT", "ACK", []byte("{}"), now, now))

		redisMock.Regexp().ExpectRPush(settlementQueueKey, `.*`).SetVal(1)

		r := chi.NewRouter()
		r.Post("/transactions/{txId}/ack", service.AcknowledgeTransaction)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, authedRequest("POST", "/transactions/t1/ack", nil, userB))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestTransactionService_GetBalance(t *testing.T) {
	service, mock, _, closeFn := newTestTransactionService(t)
	defer closeFn()

	mock.ExpectQuery("SELECT amount FROM ledgers").
		WithArgs(groupID, userA, userB).
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(300))

	r := chi.NewRouter()
	r.Get("/groups/{groupId}/balance/{otherUserId}", service.GetBalance)

	target := fmt.Sprintf("/groups/%s/balance/%s", groupID, userB)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, authedRequest("GET", target, nil, userA))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(300), resp["balance"])
}

func TestTransactionService_ReconcileLedger(t *testing.T) {
	service, mock, _, closeFn := newTestTransactionService(t)
	defer closeFn()
	now := time.Now()

	t.Run("drift answers 409 with the report", func(t *testing.T) {
		mock.ExpectQuery("FROM transactions").
			WithArgs(groupID, userA, userB).
			WillReturnRows(sqlmock.NewRows(historyColumns()).
				AddRow("t1", groupID, userA, userB, 500, "CREDIT", "NOT_ACK", []byte("{}"), now, now))
		mock.ExpectQuery("SELECT amount FROM ledgers").
			WithArgs(groupID, userA, userB).
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(999))

		r := chi.NewRouter()
		r.Get("/groups/{groupId}/reconcile/{otherUserId}", service.ReconcileLedger)

		target := fmt.Sprintf("/groups/%s/reconcile/%s", groupID, userB)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, authedRequest("GET", target, nil, userA))

		assert.Equal(t, http.StatusConflict, w.Code)
		var report ReconcileReport
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.False(t, report.Consistent)
		assert.Equal(t, int64(999), report.Stored)
		assert.Equal(t, int64(500), report.Recomputed)
	})
}
