// Package progress tracks xp, level and the daily activity streak.
package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Zimbwa03/NerdX-sub004/internal/infra/pgutils"
	"github.com/Zimbwa03/NerdX-sub004/internal/repos/users"
	pgusers "github.com/Zimbwa03/NerdX-sub004/internal/repos/users/postgres"
)

// XPPerLevel is how much xp one level takes; level = 1 + xp/XPPerLevel.
const XPPerLevel = 100

var (
	ErrInvalidXP = errors.New("xp must be > 0")

	tracer = otel.Tracer("progress")
)

type Award struct {
	Progress  users.Progress
	LeveledUp bool
}

type Service struct {
	db     *sql.DB
	users  users.Users
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		users:  pgusers.New(db),
		logger: logger,
	}
}

func (s *Service) Get(ctx context.Context, userID string) (users.Progress, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return users.Progress{}, fmt.Errorf("get progress: %w", err)
	}

	return u.Progress, nil
}

func (s *Service) AwardXP(ctx context.Context, userID string, xp int64) (Award, error) {
	ctx, span := tracer.Start(ctx, "Progress.AwardXP")
	defer span.End()

	if xp <= 0 {
		return Award{}, ErrInvalidXP
	}

	var p users.Progress

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		p, err = s.users.AddXP(ctx, tx, userID, xp, XPPerLevel)
		return err
	})
	if err != nil {
		return Award{}, fmt.Errorf("award xp: %w", err)
	}

	prevLevel := 1 + int((p.XP-xp)/XPPerLevel)
	award := Award{Progress: p, LeveledUp: p.Level > prevLevel}

	span.SetAttributes(attribute.Int("level", p.Level), attribute.Bool("leveled_up", award.LeveledUp))

	if award.LeveledUp {
		s.logger.Info("user leveled up", zap.String("user_id", userID), zap.Int("level", p.Level))
	}

	return award, nil
}

// RecordActivity counts at's UTC day toward the streak.
func (s *Service) RecordActivity(ctx context.Context, userID string, at time.Time) (users.Progress, error) {
	ctx, span := tracer.Start(ctx, "Progress.RecordActivity")
	defer span.End()

	var p users.Progress

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		p, err = s.users.RecordActivity(ctx, tx, userID, at)
		return err
	})
	if err != nil {
		return users.Progress{}, fmt.Errorf("record activity: %w", err)
	}

	span.SetAttributes(attribute.Int("streak", p.Streak))

	return p, nil
}
