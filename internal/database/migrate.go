package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Migrate applies the schema. Statements are idempotent so running at every
// boot is safe.
func Migrate(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			last_login TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			created_by UUID NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS groups_name_key ON groups (LOWER(name))`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id UUID NOT NULL REFERENCES groups(id),
			user_id UUID NOT NULL REFERENCES users(id),
			joined_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			group_id UUID NOT NULL REFERENCES groups(id),
			payer_id UUID NOT NULL REFERENCES users(id),
			payee_id UUID NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL CHECK (amount > 0),
			tx_type TEXT NOT NULL CHECK (tx_type IN ('CREDIT', 'DEBIT')),
			ack_status TEXT NOT NULL DEFAULT 'NOT_ACK' CHECK (ack_status IN ('NOT_ACK', 'ACK')),
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CHECK (payer_id <> payee_id)
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_pair_idx
			ON transactions (group_id, payer_id, payee_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS ledgers (
			id BIGSERIAL PRIMARY KEY,
			group_id UUID NOT NULL REFERENCES groups(id),
			user_low UUID NOT NULL REFERENCES users(id),
			user_high UUID NOT NULL REFERENCES users(id),
			amount BIGINT NOT NULL DEFAULT 0,
			version INT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CHECK (user_low < user_high),
			UNIQUE (group_id, user_low, user_high)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_applied (
			transaction_id UUID PRIMARY KEY REFERENCES transactions(id),
			applied_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	log.Println("Database schema up to date")
	return nil
}
