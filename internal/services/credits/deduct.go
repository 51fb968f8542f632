package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Zimbwa03/NerdX-sub004/internal/costs"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/events"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/metrics"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/pgutils"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/bundles"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/transactions"
)

// bundlePlan says what a deduction does to the user's command bundle.
type bundlePlan int

const (
	bundleKeep  bundlePlan = iota // leave any bundle as it is
	bundleOpen                    // first command: pay the bundle price, open a bundle
	bundleUse                     // second command: free, close the bundle
	bundleClose                   // cost-bearing non-command: close any bundle
)

// price works out the charge under the user's current bundle. It must run under the
// user row lock when the result is acted on. Free actions, commands included, never touch
// the bundle.
func (s *Service) price(ctx context.Context, tx *sql.Tx, platform costs.Platform, userID string, entry costs.Entry) (int64, bundlePlan, error) {
	if entry.Cost == 0 {
		return 0, bundleKeep, nil
	}
	if !entry.Command || platform != costs.PlatformWhatsApp {
		return entry.Cost, bundleClose, nil
	}

	_, open, err := s.bundles.Get(ctx, tx, userID, s.now())
	if err != nil {
		return 0, bundleKeep, fmt.Errorf("get bundle: %w", err)
	}

	if open {
		return 0, bundleUse, nil
	}

	return s.pricer.BundleCost(), bundleOpen, nil
}

// Check quotes an action without writing anything.
func (s *Service) Check(ctx context.Context, userID string, platform costs.Platform, action string) (Quote, error) {
	ctx, span := tracer.Start(ctx, "Credits.Check")
	defer span.End()

	err := validateUserID(userID)
	if err != nil {
		return Quote{}, err
	}

	entry, err := s.pricer.Resolve(ctx, platform, action)
	if err != nil {
		return Quote{}, fmt.Errorf("resolve cost: %w", err)
	}

	balance, err := s.users.GetBalance(ctx, userID)
	if err != nil {
		return Quote{}, fmt.Errorf("get balance: %w", err)
	}

	var (
		cost int64
		plan bundlePlan
	)
	err = pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var perr error
		cost, plan, perr = s.price(ctx, tx, platform, userID, entry)
		return perr
	})
	if err != nil {
		return Quote{}, fmt.Errorf("check: %w", err)
	}

	q := Quote{
		UserID:     userID,
		Platform:   platform,
		Action:     action,
		Cost:       cost,
		Balance:    balance,
		Sufficient: balance >= cost,
		Bundled:    plan == bundleUse,
	}
	if !q.Sufficient {
		q.Shortfall = cost - balance
	}

	span.SetAttributes(
		attribute.String("action", action),
		attribute.Int64("cost", cost),
		attribute.Bool("sufficient", q.Sufficient),
	)

	return q, nil
}

// Deduct charges the user for one action:
//
// 1) Resolve the price (outside the transaction, it may call the remote cost table).
// 2) Ensure the user exists and lock the row (FOR UPDATE).
// 3) Replay an already recorded TransactionID instead of charging again.
// 4) Apply the bundle rule and compare against the locked balance.
// 5) Conditional decrement, ledger row, bundle update.
func (s *Service) Deduct(ctx context.Context, req DeductRequest) (Receipt, error) {
	ctx, span := tracer.Start(ctx, "Credits.Deduct")
	defer span.End()

	err := validateUserID(req.UserID)
	if err != nil {
		return Receipt{}, err
	}
	err = validateClientTransactionID(req.TransactionID)
	if err != nil {
		return Receipt{}, err
	}
	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	}

	span.SetAttributes(
		attribute.String("user.id", req.UserID),
		attribute.String("action", req.Action),
		attribute.String("platform", string(req.Platform)),
		attribute.String("transaction.id", req.TransactionID),
	)

	entry, err := s.pricer.Resolve(ctx, req.Platform, req.Action)
	if err != nil {
		return Receipt{}, fmt.Errorf("resolve cost: %w", err)
	}

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

		prev, err := s.txns.GetByTransactionID(ctx, tx, req.TransactionID)
		switch {
		case err == nil:
			if prev.UserID != req.UserID || prev.Action != req.Action ||
				(prev.Kind != transactions.KindDeduct && prev.Kind != transactions.KindBundled) {
				return ErrTransactionConflict
			}
			receipt = receiptFromEntry(prev, true)
			return nil
		case !errors.Is(err, transactions.ErrTransactionNotFound):
			return fmt.Errorf("lookup transaction: %w", err)
		}

		cost, plan, err := s.price(ctx, tx, req.Platform, req.UserID, entry)
		if err != nil {
			return err
		}

		if balance < cost {
			return insufficient(cost, balance)
		}

		after := balance
		if cost > 0 {
			after, err = s.users.DecreaseBalance(ctx, tx, req.UserID, cost)
			if err != nil {
				return fmt.Errorf("decrease balance: %w", err)
			}
		}

		kind := transactions.KindDeduct
		if plan == bundleUse {
			kind = transactions.KindBundled
		}

		row := &transactions.Entry{
			TransactionID: req.TransactionID,
			UserID:        req.UserID,
			Kind:          kind,
			Action:        req.Action,
			Platform:      string(req.Platform),
			Delta:         -cost,
			BalanceBefore: balance,
			BalanceAfter:  after,
			Description:   entry.Description,
		}
		err = s.txns.Insert(ctx, tx, row)
		if err != nil {
			if errors.Is(err, transactions.ErrDuplicateTransaction) {
				return ErrTransactionConflict
			}
			return fmt.Errorf("insert transaction: %w", err)
		}

		err = s.applyBundlePlan(ctx, tx, plan, req.UserID, req.TransactionID)
		if err != nil {
			return err
		}

		receipt = receiptFromEntry(*row, false)
		return nil
	})
	if err != nil {
		s.recordDeductFailure(ctx, req, err)
		return Receipt{}, fmt.Errorf("deduct: %w", err)
	}

	s.recordDeductSuccess(ctx, receipt)

	return receipt, nil
}

func (s *Service) applyBundlePlan(ctx context.Context, tx *sql.Tx, plan bundlePlan, userID, transactionID string) error {
	switch plan {
	case bundleOpen:
		err := s.bundles.Open(ctx, tx, bundles.State{
			UserID:        userID,
			CommandsUsed:  1,
			TransactionID: transactionID,
			ExpiresAt:     s.now().Add(s.cfg.BundleTTL),
		})
		if err != nil {
			return fmt.Errorf("open bundle: %w", err)
		}
	case bundleUse, bundleClose:
		err := s.bundles.Close(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("close bundle: %w", err)
		}
	}

	return nil
}

func (s *Service) recordDeductSuccess(ctx context.Context, r Receipt) {
	switch {
	case r.Replayed:
		s.metrics.IncDeduction(r.Action, metrics.OutcomeReplayed)
		return
	case r.Bundled():
		s.metrics.IncDeduction(r.Action, metrics.OutcomeBundled)
	default:
		s.metrics.IncDeduction(r.Action, metrics.OutcomeCharged)
		s.metrics.AddCreditsSpent(r.Action, r.Charged())
	}

	s.logger.Info("credits deducted",
		zap.String("user_id", r.UserID),
		zap.String("transaction_id", r.TransactionID),
		zap.String("action", r.Action),
		zap.String("kind", string(r.Kind)),
		zap.Int64("charged", r.Charged()),
		zap.Int64("balance", r.BalanceAfter),
	)

	if r.Charged() == 0 {
		return
	}

	e := events.New(events.TypeDeducted, r.UserID)
	e.TransactionID = r.TransactionID
	e.Action = r.Action
	e.Amount = r.Charged()
	e.Balance = r.BalanceAfter
	s.publish(ctx, e)

	s.publishLowBalance(ctx, r.UserID, r.BalanceAfter)
}

func (s *Service) recordDeductFailure(ctx context.Context, req DeductRequest, err error) {
	var ie *InsufficientCreditsError
	if !errors.As(err, &ie) {
		if errors.Is(err, ErrInsufficientCredits) {
			s.metrics.IncDeduction(req.Action, metrics.OutcomeInsufficient)
			return
		}
		s.metrics.IncDeduction(req.Action, metrics.OutcomeError)
		return
	}

	s.metrics.IncDeduction(req.Action, metrics.OutcomeInsufficient)

	e := events.New(events.TypeInsufficient, req.UserID)
	e.TransactionID = req.TransactionID
	e.Action = req.Action
	e.Amount = ie.Required
	e.Balance = ie.Available
	s.publish(ctx, e)
}
