package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Zimbwa03/NerdX-sub004/internal/repos/users"
)

func (r *usersRepo) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64

	err := r.db.QueryRowContext(ctx, `
		SELECT credits
		FROM users
		WHERE id = $1
	`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, users.ErrUserNotFound
		}

		return 0, fmt.Errorf("get balance: %w", err)
	}

	return balance, nil
}

// LockAndGetBalance takes the row lock that serializes every balance change for a user.
func (r *usersRepo) LockAndGetBalance(ctx context.Context, tx *sql.Tx, userID string) (int64, error) {
	var balance int64

	err := tx.QueryRowContext(ctx, `
		SELECT credits
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, users.ErrUserNotFound
		}

		return 0, fmt.Errorf("lock/get balance: %w", err)
	}

	return balance, nil
}

func (r *usersRepo) IncreaseBalance(ctx context.Context, tx *sql.Tx, userID string, amount int64) (int64, error) {
	var balance int64

	err := tx.QueryRowContext(ctx, `
		UPDATE users
		SET credits = credits + $2, updated_at = now()
		WHERE id = $1
		RETURNING credits
	`, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, users.ErrUserNotFound
		}

		return 0, fmt.Errorf("increase balance: %w", err)
	}

	return balance, nil
}

// DecreaseBalance subtracts amount only if the balance covers it. A missing user and an
// uncovered amount both leave zero rows and report ErrInsufficientCredits.
func (r *usersRepo) DecreaseBalance(ctx context.Context, tx *sql.Tx, userID string, amount int64) (int64, error) {
	var balance int64

	err := tx.QueryRowContext(ctx, `
		UPDATE users
		SET credits = credits - $2, updated_at = now()
		WHERE id = $1
		  AND credits >= $2
		RETURNING credits
	`, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, users.ErrInsufficientCredits
		}

		return 0, fmt.Errorf("decrease balance: %w", err)
	}

	return balance, nil
}
