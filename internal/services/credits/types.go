package credits

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zimbwa03/NerdX-sub004/internal/costs"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/transactions"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/users"
)

var (
	// ErrInsufficientCredits is matched by *InsufficientCreditsError.
	ErrInsufficientCredits = users.ErrInsufficientCredits
	ErrTransactionConflict = errors.New("transaction id already used for a different operation")
	ErrNotRefundable       = errors.New("transaction is not refundable")
	ErrInvalidRequest      = errors.New("invalid request")
)

// InsufficientCreditsError reports how far the balance is from the price.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
	Shortfall int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

func insufficient(required, available int64) *InsufficientCreditsError {
	return &InsufficientCreditsError{
		Required:  required,
		Available: available,
		Shortfall: required - available,
	}
}

// Quote is the answer to "can this user afford this action right now".
type Quote struct {
	UserID     string
	Platform   costs.Platform
	Action     string
	Cost       int64
	Balance    int64
	Sufficient bool
	Shortfall  int64
	// Bundled is set when the action would ride on an open command bundle.
	Bundled bool
}

type DeductRequest struct {
	UserID   string
	Platform costs.Platform
	Action   string
	// TransactionID makes the call idempotent; a uuid is generated when empty.
	TransactionID string
}

type RefundRequest struct {
	UserID        string
	TransactionID string
	Reason        string
}

type TopUpRequest struct {
	UserID    string
	Amount    int64
	Reference string
	Source    string
}

type GrantRequest struct {
	UserID     string
	Amount     int64
	Reason     string
	AdminEmail string
	// TransactionID is optional; a uuid-based id is generated when empty.
	TransactionID string
}

// Receipt describes one recorded ledger row.
type Receipt struct {
	TransactionID        string
	UserID               string
	Kind                 transactions.Kind
	Action               string
	Platform             string
	Delta                int64
	BalanceBefore        int64
	BalanceAfter         int64
	RelatedTransactionID string
	CreatedAt            time.Time
	// Replayed is set when the id was already recorded and nothing changed.
	Replayed bool
}

// Charged is the number of credits the row took, zero for credits and bundled commands.
func (r Receipt) Charged() int64 {
	if r.Delta < 0 {
		return -r.Delta
	}
	return 0
}

func (r Receipt) Bundled() bool {
	return r.Kind == transactions.KindBundled
}

func receiptFromEntry(e transactions.Entry, replayed bool) Receipt {
	return Receipt{
		TransactionID:        e.TransactionID,
		UserID:               e.UserID,
		Kind:                 e.Kind,
		Action:               e.Action,
		Platform:             e.Platform,
		Delta:                e.Delta,
		BalanceBefore:        e.BalanceBefore,
		BalanceAfter:         e.BalanceAfter,
		RelatedTransactionID: e.RelatedTransactionID,
		CreatedAt:            e.CreatedAt,
		Replayed:             replayed,
	}
}

const (
	maxUserIDLen       = 64
	maxTransactionID   = 128
	DefaultHistorySize = 50
	MaxHistorySize     = 200
)

func validateUserID(userID string) error {
	if userID == "" || len(userID) > maxUserIDLen {
		return fmt.Errorf("%w: user id must be 1..%d characters", ErrInvalidRequest, maxUserIDLen)
	}
	return nil
}

func validateTransactionID(id string) error {
	if len(id) > maxTransactionID {
		return fmt.Errorf("%w: transaction id longer than %d characters", ErrInvalidRequest, maxTransactionID)
	}
	return nil
}

// reservedPrefixes are the ids the service derives itself.
var reservedPrefixes = []string{refundPrefix, topUpPrefix, grantPrefix, welcomePrefix}

// validateClientTransactionID checks an id chosen by a caller. Derived ids are off limits so
// a deduction cannot take the slot of a later refund or top-up.
func validateClientTransactionID(id string) error {
	err := validateTransactionID(id)
	if err != nil {
		return err
	}

	for _, p := range reservedPrefixes {
		if strings.HasPrefix(id, p) {
			return fmt.Errorf("%w: transaction id must not start with %q", ErrInvalidRequest, p)
		}
	}

	return nil
}
