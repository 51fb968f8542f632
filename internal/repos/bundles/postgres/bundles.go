package bundles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Zimbwa03/NerdX-sub004/internal/repos/bundles"
)

var _ bundles.Bundles = (*bundlesRepo)(nil)

type bundlesRepo struct{ db *sql.DB }

func New(db *sql.DB) *bundlesRepo {
	return &bundlesRepo{db: db}
}

func (r *bundlesRepo) Get(ctx context.Context, tx *sql.Tx, userID string, now time.Time) (bundles.State, bool, error) {
	s := bundles.State{UserID: userID}

	err := tx.QueryRowContext(ctx, `
		SELECT commands_used, transaction_id, expires_at
		FROM command_bundles
		WHERE user_id = $1
		  AND expires_at > $2
	`, userID, now).Scan(&s.CommandsUsed, &s.TransactionID, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return bundles.State{}, false, nil
		}

		return bundles.State{}, false, fmt.Errorf("get bundle: %w", err)
	}

	return s, true, nil
}

// Open replaces whatever bundle row the user had, expired or not.
func (r *bundlesRepo) Open(ctx context.Context, tx *sql.Tx, s bundles.State) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO command_bundles (user_id, commands_used, transaction_id, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET commands_used = EXCLUDED.commands_used,
		    transaction_id = EXCLUDED.transaction_id,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()
	`, s.UserID, s.CommandsUsed, s.TransactionID, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}

	return nil
}

func (r *bundlesRepo) Close(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM command_bundles
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("close bundle: %w", err)
	}

	return nil
}

func (r *bundlesRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM command_bundles
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired bundles: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return n, nil
}
