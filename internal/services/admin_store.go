package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/google/uuid"
)

// AdminStore reads reviewer accounts.
type AdminStore struct {
	db *sql.DB
}

func NewAdminStore(db *sql.DB) *AdminStore {
	return &AdminStore{db: db}
}

const adminColumns = `id, created_at, username, email, password_hash, is_active`

func scanAdmin(row rowScanner) (*models.Admin, error) {
	var a models.Admin
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.Username, &a.Email, &a.PasswordHash, &a.IsActive); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *AdminStore) FindByUsername(ctx context.Context, username string) (*models.Admin, error) {
	admin, err := scanAdmin(s.db.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE username = $1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, abuse.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load admin: %w", err)
	}
	return admin, nil
}

func (s *AdminStore) Get(ctx context.Context, id uuid.UUID) (*models.Admin, error) {
	admin, err := scanAdmin(s.db.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, abuse.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load admin: %w", err)
	}
	return admin, nil
}

// ReviewerEmails returns the addresses of every active admin.
func (s *AdminStore) ReviewerEmails(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email FROM admins WHERE is_active = TRUE AND email <> '' ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list reviewer emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan reviewer email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
