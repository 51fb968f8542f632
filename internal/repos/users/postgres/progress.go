package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Zimbwa03/NerdX-sub004/internal/repos/users"
)

func (r *usersRepo) AddXP(ctx context.Context, tx *sql.Tx, userID string, xp int64, xpPerLevel int64) (users.Progress, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE users
		SET xp = xp + $2,
		    level = 1 + (xp + $2) / $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING xp, level, streak, last_activity_date
	`, userID, xp, xpPerLevel)

	p, err := scanProgress(row)
	if err != nil {
		return users.Progress{}, fmt.Errorf("add xp: %w", err)
	}

	return p, nil
}

// RecordActivity moves the streak for an activity on the given UTC day: +1 after
// yesterday, unchanged for today or an older day, otherwise back to 1.
func (r *usersRepo) RecordActivity(ctx context.Context, tx *sql.Tx, userID string, day time.Time) (users.Progress, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE users
		SET streak = CASE
		        WHEN last_activity_date IS NULL THEN 1
		        WHEN last_activity_date >= $2::date THEN GREATEST(streak, 1)
		        WHEN last_activity_date = $2::date - 1 THEN streak + 1
		        ELSE 1
		    END,
		    last_activity_date = GREATEST(COALESCE(last_activity_date, $2::date), $2::date),
		    updated_at = now()
		WHERE id = $1
		RETURNING xp, level, streak, last_activity_date
	`, userID, truncateDay(day))

	p, err := scanProgress(row)
	if err != nil {
		return users.Progress{}, fmt.Errorf("record activity: %w", err)
	}

	return p, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func scanProgress(row *sql.Row) (users.Progress, error) {
	var (
		p       users.Progress
		lastDay sql.NullTime
	)

	err := row.Scan(&p.XP, &p.Level, &p.Streak, &lastDay)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return users.Progress{}, users.ErrUserNotFound
		}

		return users.Progress{}, err
	}

	if lastDay.Valid {
		p.LastActivity = lastDay.Time.UTC()
	}

	return p, nil
}
