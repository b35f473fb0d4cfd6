package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setupAuthConfig() {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
}

func TestAuthService_Register(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	setupAuthConfig()
	service := NewAuthService(db)

	t.Run("successful registration", func(t *testing.T) {
		req := RegisterRequest{
			Email:    "Test@Example.com",
			Username: "tester",
			Password: "password123",
		}

		mock.ExpectExec("INSERT INTO users").
			WithArgs(sqlmock.AnyArg(), "test@example.com", "tester", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response AuthResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, "test@example.com", response.User.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email answers 409", func(t *testing.T) {
		req := RegisterRequest{
			Email:    "test@example.com",
			Username: "tester",
			Password: "password123",
		}

		mock.ExpectExec("INSERT INTO users").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/auth/register", bytes.NewBuffer([]byte("invalid")))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	setupAuthConfig()
	service := NewAuthService(db)

	userColumns := []string{"id", "email", "username", "password_hash", "created_at", "updated_at"}
	hashed, err := hashPassword("password123")
	assert.NoError(t, err)

	t.Run("successful login", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, username, password_hash").
			WithArgs("test@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(userA, "test@example.com", "tester", hashed, time.Now(), time.Now()))
		mock.ExpectExec("UPDATE users SET last_login").
			WithArgs(sqlmock.AnyArg(), userA).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body, _ := json.Marshal(LoginRequest{Email: "test@example.com", Password: "password123"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.NotEmpty(t, response.Token)
		assert.Empty(t, response.User.PasswordHash)
	})

	t.Run("wrong password answers 401", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, username, password_hash").
			WithArgs("test@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns).
				AddRow(userA, "test@example.com", "tester", hashed, time.Now(), time.Now()))

		body, _ := json.Marshal(LoginRequest{Email: "test@example.com", Password: "wrong-password"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown user answers 401", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, username, password_hash").
			WithArgs("missing@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns))

		body, _ := json.Marshal(LoginRequest{Email: "missing@example.com", Password: "password123"})
		r := httptest.NewRequest("POST", "/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestPasswordHashing(t *testing.T) {
	setupAuthConfig()

	hashed, err := hashPassword("password123")
	assert.NoError(t, err)
	assert.True(t, verifyPassword("password123", hashed))
	assert.False(t, verifyPassword("password124", hashed))
	assert.False(t, verifyPassword("password123", "not-a-hash"))
}
