package users

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("user already exists")
)

// User is the registration row. Credits are whole units.
type User struct {
	ID          string
	DisplayName string
	Credits     int64
	Progress    Progress
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Progress struct {
	XP     int64
	Level  int
	Streak int
	// LastActivity is the UTC day of the last recorded activity, zero if none.
	LastActivity time.Time
}

type Users interface {
	Create(ctx context.Context, tx *sql.Tx, userID, displayName string, credits int64) error
	Exists(ctx context.Context, tx *sql.Tx, userID string) error
	Get(ctx context.Context, userID string) (User, error)

	GetBalance(ctx context.Context, userID string) (int64, error)
	LockAndGetBalance(ctx context.Context, tx *sql.Tx, userID string) (int64, error)
	IncreaseBalance(ctx context.Context, tx *sql.Tx, userID string, amount int64) (int64, error)
	DecreaseBalance(ctx context.Context, tx *sql.Tx, userID string, amount int64) (int64, error)

	AddXP(ctx context.Context, tx *sql.Tx, userID string, xp int64, xpPerLevel int64) (Progress, error)
	RecordActivity(ctx context.Context, tx *sql.Tx, userID string, day time.Time) (Progress, error)
}
