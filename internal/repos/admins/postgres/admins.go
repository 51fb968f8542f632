package admins

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Zimbwa03/NerdX-sub004/internal/infra/pgutils"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/admins"
)

var _ admins.Admins = (*adminsRepo)(nil)

type adminsRepo struct{ db *sql.DB }

func New(db *sql.DB) *adminsRepo {
	return &adminsRepo{db: db}
}

// Create stores the account with a lower-cased email and fills a.ID and a.CreatedAt.
func (r *adminsRepo) Create(ctx context.Context, a *admins.Admin) error {
	a.Email = normalizeEmail(a.Email)

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO admins (email, display_name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, a.Email, a.DisplayName, a.PasswordHash).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if pgutils.IsUniqueViolation(err, "admins_email_key") {
			return admins.ErrAdminExists
		}

		return fmt.Errorf("insert admin: %w", err)
	}

	return nil
}

func (r *adminsRepo) GetByEmail(ctx context.Context, email string) (admins.Admin, error) {
	var a admins.Admin

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at
		FROM admins
		WHERE email = $1
	`, normalizeEmail(email)).Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return admins.Admin{}, admins.ErrAdminNotFound
		}

		return admins.Admin{}, fmt.Errorf("get admin: %w", err)
	}

	return a, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
