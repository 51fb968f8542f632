package transactions

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrTransactionNotFound  = errors.New("transaction not found")
)

type Kind string

const (
	KindDeduct  Kind = "deduct"
	KindBundled Kind = "bundled"
	KindRefund  Kind = "refund"
	KindTopUp   Kind = "topup"
	KindGrant   Kind = "grant"
	KindWelcome Kind = "welcome"
)

// Entry is one row of the append-only credit log.
// Delta is signed: negative for spends, so BalanceAfter = BalanceBefore + Delta.
type Entry struct {
	ID                   int64
	TransactionID        string
	UserID               string
	Kind                 Kind
	Action               string
	Platform             string
	Delta                int64
	BalanceBefore        int64
	BalanceAfter         int64
	Description          string
	RelatedTransactionID string
	CreatedAt            time.Time
}

type Transactions interface {
	// Insert fills e.ID and e.CreatedAt.
	Insert(ctx context.Context, tx *sql.Tx, e *Entry) error
	GetByTransactionID(ctx context.Context, tx *sql.Tx, transactionID string) (Entry, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Entry, error)
}
