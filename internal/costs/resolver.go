package costs

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Zimbwa03/NerdX-sub004/internal/infra/cache"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/metrics"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/supabase"
)

type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformApp      Platform = "app"
)

// ParsePlatform accepts any casing; empty means whatsapp.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PlatformWhatsApp):
		return PlatformWhatsApp, nil
	case string(PlatformApp):
		return PlatformApp, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
	}
}

// RemoteSource serves the app cost table.
type RemoteSource interface {
	FetchFeatureCosts(ctx context.Context) ([]supabase.FeatureCost, error)
}

const remoteCacheKey = "feature_costs"

type Resolver struct {
	local   *Table
	remote  RemoteSource
	cache   *cache.InMemory[*Table]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewResolver prices whatsapp actions from local and app actions from remote.
// remote may be nil, in which case app actions use local too.
func NewResolver(local *Table, remote RemoteSource, c *cache.InMemory[*Table], m *metrics.Metrics, logger *zap.Logger) *Resolver {
	return &Resolver{
		local:   local,
		remote:  remote,
		cache:   c,
		metrics: m,
		logger:  logger,
	}
}

// Table returns the price list that applies to platform.
func (r *Resolver) Table(ctx context.Context, platform Platform) (*Table, error) {
	switch platform {
	case PlatformWhatsApp:
		return r.local, nil
	case PlatformApp:
		return r.remoteTable(ctx), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
}

func (r *Resolver) Resolve(ctx context.Context, platform Platform, action string) (Entry, error) {
	t, err := r.Table(ctx, platform)
	if err != nil {
		return Entry{}, err
	}

	return t.Lookup(action)
}

// BundleCost is always taken from the local table; only whatsapp bundles.
func (r *Resolver) BundleCost() int64 {
	return r.local.BundleCost()
}

func (r *Resolver) remoteTable(ctx context.Context) *Table {
	if r.remote == nil {
		return r.local
	}

	if t, ok := r.cache.Get(remoteCacheKey); ok {
		r.metrics.IncCacheHit(remoteCacheKey)
		return t
	}
	r.metrics.IncCacheMiss(remoteCacheKey)

	rows, err := r.remote.FetchFeatureCosts(ctx)
	if err != nil {
		r.metrics.IncExternalError("supabase")
		r.logger.Warn("remote cost table unavailable, using local table", zap.Error(err))
		return r.local
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			Action:      row.ActionKey,
			Cost:        row.Cost,
			Command:     row.IsCommand,
			Description: row.Description,
		})
	}

	t, err := NewTable(entries, r.local.BundleCost())
	if err != nil {
		r.logger.Warn("remote cost table invalid, using local table", zap.Error(err))
		return r.local
	}

	r.cache.Set(remoteCacheKey, t)

	return t
}
