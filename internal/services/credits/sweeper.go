package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidSweepInterval is returned by RunSweeper for a zero or negative interval.
var ErrInvalidSweepInterval = errors.New("sweep interval must be positive")

// SweepExpiredBundles deletes bundles whose free second command was never used.
func (s *Service) SweepExpiredBundles(ctx context.Context) (int64, error) {
	n, err := s.bundles.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep bundles: %w", err)
	}

	if n > 0 {
		s.metrics.AddBundlesSwept(n)
		s.logger.Debug("expired command bundles swept", zap.Int64("count", n))
	}

	return n, nil
}

// RunSweeper sweeps every interval until ctx is done. A failed sweep is logged and retried
// on the next tick.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSweepInterval, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("bundle sweeper started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("bundle sweeper stopped")
			return nil
		case <-ticker.C:
			_, err := s.SweepExpiredBundles(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("bundle sweep failed", zap.Error(err))
			}
		}
	}
}
