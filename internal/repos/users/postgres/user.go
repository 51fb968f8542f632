package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Zimbwa03/NerdX-sub004/internal/infra/pgutils"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/users"
)

func (r *usersRepo) Create(ctx context.Context, tx *sql.Tx, userID, displayName string, credits int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, display_name, credits)
		VALUES ($1, $2, $3)
	`, userID, displayName, credits)
	if err != nil {
		if pgutils.IsUniqueViolation(err, "users_pkey") {
			return users.ErrUserExists
		}

		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

func (r *usersRepo) Exists(ctx context.Context, tx *sql.Tx, userID string) error {
	var exists bool

	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)
	`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}

	if !exists {
		return users.ErrUserNotFound
	}

	return nil
}

func (r *usersRepo) Get(ctx context.Context, userID string) (users.User, error) {
	var (
		u        users.User
		lastDay  sql.NullTime
		progress = &u.Progress
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, credits, xp, level, streak, last_activity_date, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&u.ID,
		&u.DisplayName,
		&u.Credits,
		&progress.XP,
		&progress.Level,
		&progress.Streak,
		&lastDay,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return users.User{}, users.ErrUserNotFound
		}

		return users.User{}, fmt.Errorf("get user: %w", err)
	}

	if lastDay.Valid {
		progress.LastActivity = lastDay.Time.UTC()
	}

	return u, nil
}
