package bundles

import (
	"context"
	"database/sql"
	"time"
)

// State is an open command bundle: one command paid, one more free until ExpiresAt.
type State struct {
	UserID        string
	CommandsUsed  int
	TransactionID string
	ExpiresAt     time.Time
}

type Bundles interface {
	// Get returns the open bundle for the user; expired rows count as absent.
	Get(ctx context.Context, tx *sql.Tx, userID string, now time.Time) (State, bool, error)
	Open(ctx context.Context, tx *sql.Tx, s State) error
	Close(ctx context.Context, tx *sql.Tx, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
