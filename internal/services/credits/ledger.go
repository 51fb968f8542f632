package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Zimbwa03/NerdX-sub004/internal/infra/events"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/pgutils"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/transactions"
)

const (
	refundPrefix  = "refund:"
	topUpPrefix   = "topup:"
	grantPrefix   = "grant:"
	welcomePrefix = "welcome:"
)

// Refund gives back what a recorded deduction took. A deduction is refunded at most once;
// asking again returns the first refund as a replay.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (Receipt, error) {
	ctx, span := tracer.Start(ctx, "Credits.Refund")
	defer span.End()

	err := validateUserID(req.UserID)
	if err != nil {
		return Receipt{}, err
	}
	if req.TransactionID == "" {
		return Receipt{}, fmt.Errorf("%w: transaction id required", ErrInvalidRequest)
	}
	err = validateTransactionID(refundPrefix + req.TransactionID)
	if err != nil {
		return Receipt{}, err
	}

	span.SetAttributes(
		attribute.String("user.id", req.UserID),
		attribute.String("transaction.id", req.TransactionID),
	)

	refundID := refundPrefix + req.TransactionID

	var receipt Receipt

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := s.users.Exists(ctx, tx, req.UserID)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}

		balance, err := s.users.LockAndGetBalance(ctx, tx, req.UserID)
		if err != nil {
			return fmt.Errorf("lock and get balance: %w", err)
		}

		prev, err := s.txns.GetByTransactionID(ctx, tx, refundID)
		switch {
		case err == nil:
			if prev.UserID != req.UserID || prev.Kind != transactions.KindRefund {
				return ErrNotRefundable
			}
			receipt = receiptFromEntry(prev, true)
			return nil
		case !errors.Is(err, transactions.ErrTransactionNotFound):
			return fmt.Errorf("lookup refund: %w", err)
		}

		orig, err := s.txns.GetByTransactionID(ctx, tx, req.TransactionID)
		if err != nil {
			return fmt.Errorf("lookup deduction: %w", err)
		}
		if orig.UserID != req.UserID || orig.Kind != transactions.KindDeduct || orig.Delta >= 0 {
			return ErrNotRefundable
		}

		amount := -orig.Delta

		after, err := s.users.IncreaseBalance(ctx, tx, req.UserID, amount)
		if err != nil {
			return fmt.Errorf("increase balance: %w", err)
		}

		row := &transactions.Entry{
			TransactionID:        refundID,
			UserID:               req.UserID,
			Kind:                 transactions.KindRefund,
			Action:               orig.Action,
			Platform:             orig.Platform,
			Delta:                amount,
			BalanceBefore:        balance,
			BalanceAfter:         after,
			Description:          strings.TrimSpace(req.Reason),
			RelatedTransactionID: orig.TransactionID,
		}
		err = s.txns.Insert(ctx, tx, row)
		if err != nil {
			return fmt.Errorf("insert refund: %w", err)
		}

		// a refunded first command must not leave its free second command behind
		state, open, err := s.bundles.Get(ctx, tx, req.UserID, s.now())
		if err != nil {
			return fmt.Errorf("get bundle: %w", err)
		}
		if open && state.TransactionID == orig.TransactionID {
			err = s.bundles.Close(ctx, tx, req.UserID)
			if err != nil {
				return fmt.Errorf("close bundle: %w", err)
			}
		}

		receipt = receiptFromEntry(*row, false)
		return nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("refund: %w", err)
	}

	if receipt.Replayed {
		return receipt, nil
	}

	s.metrics.IncRefund()
	s.metrics.AddCreditsAdded(string(transactions.KindRefund), receipt.Delta)

	s.logger.Info("credits refunded",
		zap.String("user_id", receipt.UserID),
		zap.String("transaction_id", receipt.RelatedTransactionID),
		zap.Int64("amount", receipt.Delta),
		zap.Int64("balance", receipt.BalanceAfter),
	)

	e := events.New(events.TypeRefunded, receipt.UserID)
	e.TransactionID = receipt.RelatedTransactionID
	e.Action = receipt.Action
	e.Amount = receipt.Delta
	e.Balance = receipt.BalanceAfter
	s.publish(ctx, e)

	return receipt, nil
}

// TopUp adds credits bought through a confirmed payment. Reference is the payment's
// own id and makes the call idempotent.
func (s *Service) TopUp(ctx context.Context, req TopUpRequest) (Receipt, error) {
	ctx, span := tracer.Start(ctx, "Credits.TopUp")
	defer span.End()

	if strings.TrimSpace(req.Reference) == "" {
		return Receipt{}, fmt.Errorf("%w: payment reference required", ErrInvalidRequest)
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "payment"
	}

	receipt, err := s.credit(ctx, credit{
		userID:        req.UserID,
		transactionID: topUpPrefix + strings.TrimSpace(req.Reference),
		kind:          transactions.KindTopUp,
		amount:        req.Amount,
		action:        source,
		description:   "credit purchase",
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("top up: %w", err)
	}

	span.SetAttributes(attribute.Int64("amount", req.Amount), attribute.Bool("replayed", receipt.Replayed))

	if !receipt.Replayed {
		e := events.New(events.TypeToppedUp, receipt.UserID)
		e.TransactionID = receipt.TransactionID
		e.Amount = receipt.Delta
		e.Balance = receipt.BalanceAfter
		s.publish(ctx, e)
	}

	return receipt, nil
}

// Grant adds credits on behalf of a school portal admin.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (Receipt, error) {
	ctx, span := tracer.Start(ctx, "Credits.Grant")
	defer span.End()

	err := validateClientTransactionID(req.TransactionID)
	if err != nil {
		return Receipt{}, err
	}

	txid := req.TransactionID
	if txid == "" {
		txid = grantPrefix + uuid.NewString()
	}

	description := strings.TrimSpace(req.Reason)
	if req.AdminEmail != "" {
		description = strings.TrimSpace(fmt.Sprintf("%s (by %s)", description, req.AdminEmail))
	}

	receipt, err := s.credit(ctx, credit{
		userID:        req.UserID,
		transactionID: txid,
		kind:          transactions.KindGrant,
		amount:        req.Amount,
		action:        "admin_grant",
		description:   description,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("grant: %w", err)
	}

	span.SetAttributes(attribute.Int64("amount", req.Amount), attribute.Bool("replayed", receipt.Replayed))

	if !receipt.Replayed {
		e := events.New(events.TypeGranted, receipt.UserID)
		e.TransactionID = receipt.TransactionID
		e.Amount = receipt.Delta
		e.Balance = receipt.BalanceAfter
		s.publish(ctx, e)
	}

	return receipt, nil
}

type credit struct {
	userID        string
	transactionID string
	kind          transactions.Kind
	amount        int64
	action        string
	description   string
}

// credit is the shared increase path of TopUp and Grant.
func (s *Service) credit(ctx context.Context, c credit) (Receipt, error) {
	err := validateUserID(c.userID)
	if err != nil {
		return Receipt{}, err
	}
	err = validateTransactionID(c.transactionID)
	if err != nil {
		return Receipt{}, err
	}
	if c.amount <= 0 {
		return Receipt{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidRequest)
	}

	var receipt Receipt

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := s.users.Exists(ctx, tx, c.userID)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}

		balance, err := s.users.LockAndGetBalance(ctx, tx, c.userID)
		if err != nil {
			return fmt.Errorf("lock and get balance: %w", err)
		}

		prev, err := s.txns.GetByTransactionID(ctx, tx, c.transactionID)
		switch {
		case err == nil:
			if prev.UserID != c.userID || prev.Kind != c.kind || prev.Delta != c.amount {
				return ErrTransactionConflict
			}
			receipt = receiptFromEntry(prev, true)
			return nil
		case !errors.Is(err, transactions.ErrTransactionNotFound):
			return fmt.Errorf("lookup transaction: %w", err)
		}

		after, err := s.users.IncreaseBalance(ctx, tx, c.userID, c.amount)
		if err != nil {
			return fmt.Errorf("increase balance: %w", err)
		}

		row := &transactions.Entry{
			TransactionID: c.transactionID,
			UserID:        c.userID,
			Kind:          c.kind,
			Action:        c.action,
			Delta:         c.amount,
			BalanceBefore: balance,
			BalanceAfter:  after,
			Description:   c.description,
		}
		err = s.txns.Insert(ctx, tx, row)
		if err != nil {
			if errors.Is(err, transactions.ErrDuplicateTransaction) {
				return ErrTransactionConflict
			}
			return fmt.Errorf("insert transaction: %w", err)
		}

		receipt = receiptFromEntry(*row, false)
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	if !receipt.Replayed {
		s.metrics.AddCreditsAdded(string(c.kind), c.amount)
		s.logger.Info("credits added",
			zap.String("user_id", c.userID),
			zap.String("transaction_id", c.transactionID),
			zap.String("kind", string(c.kind)),
			zap.Int64("amount", c.amount),
			zap.Int64("balance", receipt.BalanceAfter),
		)
	}

	return receipt, nil
}

// Register creates the user with the welcome bonus and logs it.
func (s *Service) Register(ctx context.Context, userID, displayName string) (Receipt, error) {
	ctx, span := tracer.Start(ctx, "Credits.Register")
	defer span.End()

	err := validateUserID(userID)
	if err != nil {
		return Receipt{}, err
	}

	bonus := s.cfg.WelcomeBonus
	if bonus < 0 {
		bonus = 0
	}

	var receipt Receipt

	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := s.users.Create(ctx, tx, userID, strings.TrimSpace(displayName), bonus)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		row := &transactions.Entry{
			TransactionID: welcomePrefix + userID,
			UserID:        userID,
			Kind:          transactions.KindWelcome,
			Action:        "registration",
			Delta:         bonus,
			BalanceBefore: 0,
			BalanceAfter:  bonus,
			Description:   "welcome bonus",
		}
		err = s.txns.Insert(ctx, tx, row)
		if err != nil {
			return fmt.Errorf("insert welcome transaction: %w", err)
		}

		receipt = receiptFromEntry(*row, false)
		return nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("register: %w", err)
	}

	s.metrics.AddCreditsAdded(string(transactions.KindWelcome), bonus)
	s.logger.Info("user registered", zap.String("user_id", userID), zap.Int64("credits", bonus))

	return receipt, nil
}
