package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var PostgresDB *sql.DB

// ConnectPostgres connects to PostgreSQL and creates the schema.
func ConnectPostgres(postgresURI string) error {
	var err error

	PostgresDB, err = sql.Open("postgres", postgresURI)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}

	PostgresDB.SetMaxOpenConns(25)
	PostgresDB.SetMaxIdleConns(5)
	PostgresDB.SetConnMaxLifetime(5 * time.Minute)

	if err = PostgresDB.Ping(); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	logrus.Info("✅ Connected to PostgreSQL")

	return InitPostgresTables(PostgresDB)
}

// schema is applied in order on every start.
var schema = []string{
	// Reviewers. Accounts are created directly in the database.
	`CREATE TABLE IF NOT EXISTS admins (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		username VARCHAR(50) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS abuse_states (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL UNIQUE,
		points INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
		last_points_update_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		episode_started_at TIMESTAMPTZ,
		last_violation_at TIMESTAMPTZ,
		sensitive_count_in_episode INTEGER NOT NULL DEFAULT 0 CHECK (sensitive_count_in_episode >= 0),
		cooldown_until TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS abuse_appeals (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		abuse_state_id UUID NOT NULL REFERENCES abuse_states(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		explanation TEXT NOT NULL,
		state_snapshot JSONB NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'denied')),
		reviewed_by UUID REFERENCES admins(id) ON DELETE SET NULL,
		reviewed_at TIMESTAMPTZ,
		admin_notes TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS rate_limit_violations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		ip_address VARCHAR(45) NOT NULL,
		endpoint VARCHAR(50) NOT NULL,
		violation_count INTEGER NOT NULL DEFAULT 1,
		first_violation_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_violation_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		cooldown_until TIMESTAMPTZ,
		user_id UUID,
		UNIQUE(ip_address, endpoint)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_admins_username ON admins(username)`,
	`CREATE INDEX IF NOT EXISTS idx_abuse_states_cooldown_until ON abuse_states(cooldown_until)`,
	`CREATE INDEX IF NOT EXISTS idx_abuse_appeals_status_created_at ON abuse_appeals(status, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_abuse_appeals_user_id ON abuse_appeals(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rate_limit_violations_ip_address ON rate_limit_violations(ip_address)`,
	`CREATE INDEX IF NOT EXISTS idx_rate_limit_violations_last_violation_at ON rate_limit_violations(last_violation_at)`,
}

// InitPostgresTables creates all tables and indexes if they don't exist.
func InitPostgresTables(db *sql.DB) error {
	for _, query := range schema {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	logrus.Info("✅ PostgreSQL tables initialized")
	return nil
}

// DisconnectPostgres closes the PostgreSQL connection
func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
