// Package credits owns every change to a user's credit balance.
//
// Each balance-changing operation runs in one database transaction that first takes the
// user's row lock, so concurrent requests for the same user are applied one at a time.
// Events and metrics are emitted only after the transaction commits.
package credits

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Zimbwa03/NerdX-sub004/internal/config"
	"github.com/Zimbwa03/NerdX-sub004/internal/costs"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/events"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/metrics"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/bundles"
	pgbundles "github.com/Zimbwa03/NerdX-sub004/internal/repos/bundles/postgres"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/transactions"
	pgtransactions "github.com/Zimbwa03/NerdX-sub004/internal/repos/transactions/postgres"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/users"
	pgusers "github.com/Zimbwa03/NerdX-sub004/internal/repos/users/postgres"
)

var tracer = otel.Tracer("credits")

// Pricer resolves what an action costs on a platform.
type Pricer interface {
	Resolve(ctx context.Context, platform costs.Platform, action string) (costs.Entry, error)
	BundleCost() int64
}

type Service struct {
	db      *sql.DB
	users   users.Users
	txns    transactions.Transactions
	bundles bundles.Bundles

	pricer  Pricer
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     config.CreditsConfig
	now     func() time.Time
}

func New(db *sql.DB, pricer Pricer, pub events.Publisher, m *metrics.Metrics, logger *zap.Logger, cfg config.CreditsConfig) *Service {
	return &Service{
		db:      db,
		users:   pgusers.New(db),
		txns:    pgtransactions.New(db),
		bundles: pgbundles.New(db),
		pricer:  pricer,
		events:  pub,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// GetBalance reads without locking.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	err := validateUserID(userID)
	if err != nil {
		return 0, err
	}

	balance, err := s.users.GetBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}

	return balance, nil
}

// GetUser returns the full user row for the admin portal.
func (s *Service) GetUser(ctx context.Context, userID string) (users.User, error) {
	err := validateUserID(userID)
	if err != nil {
		return users.User{}, err
	}

	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return users.User{}, fmt.Errorf("get user: %w", err)
	}

	return u, nil
}

// History returns the newest ledger rows first. limit <= 0 means DefaultHistorySize.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Receipt, error) {
	ctx, span := tracer.Start(ctx, "Credits.History")
	defer span.End()

	err := validateUserID(userID)
	if err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultHistorySize
	case limit > MaxHistorySize:
		return nil, fmt.Errorf("%w: limit must be 1..%d", ErrInvalidRequest, MaxHistorySize)
	}

	_, err = s.users.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	entries, err := s.txns.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	out := make([]Receipt, 0, len(entries))
	for _, e := range entries {
		out = append(out, receiptFromEntry(e, false))
	}

	span.SetAttributes(attribute.Int("history.count", len(out)))

	return out, nil
}

// publish never fails the caller; the request already committed.
func (s *Service) publish(ctx context.Context, e events.Event) {
	err := s.events.Publish(context.WithoutCancel(ctx), e)
	if err != nil {
		s.logger.Warn("publish credit event",
			zap.String("subject", e.Type.Subject()),
			zap.String("user_id", e.UserID),
			zap.Error(err),
		)
	}
}

func (s *Service) publishLowBalance(ctx context.Context, userID string, balance int64) {
	if balance >= s.cfg.LowBalanceThreshold {
		return
	}

	e := events.New(events.TypeLowBalance, userID)
	e.Balance = balance
	s.publish(ctx, e)
}
