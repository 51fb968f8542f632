package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Zimbwa03/NerdX-sub004/internal/api"
	"github.com/Zimbwa03/NerdX-sub004/internal/costs"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/cache"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/events"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/logging"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/metrics"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/pgutils"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/resilience"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/supabase"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/tracing"
	pgadmins "github.com/Zimbwa03/NerdX-sub004/internal/repos/admins/postgres"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/admin"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/credits"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/progress"
	"github.com/Zimbwa03/NerdX-sub004/pkg/envconf"
	"github.com/Zimbwa03/NerdX-sub004/pkg/shutdownqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	cfg := new(apiConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	if cfg.Credits.SweepInterval <= 0 {
		return fmt.Errorf("init config: CREDITS_SWEEP_INTERVAL must be positive, got %s", cfg.Credits.SweepInterval)
	}

	logger, err := logging.NewJSON(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	//nolint:errcheck
	defer logger.Sync()

	queue := shutdownqueue.New(logger)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := queue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Observability ---
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	queue.Add("tracing", shutdownTracing)

	m := metrics.New()

	// --- Infra ---
	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	queue.Add("postgres", func(context.Context) error {
		return db.Close()
	})

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	queue.Add("events", func(context.Context) error {
		return publisher.Close()
	})

	resolver, err := newResolver(cfg, m, logger, queue)
	if err != nil {
		return err
	}

	// --- Services ---
	creditsSrv := credits.New(db, resolver, publisher, m, logger.Named("credits"), cfg.Credits)
	progressSrv := progress.New(db, logger.Named("progress"))
	adminSrv := admin.New(pgadmins.New(db), cfg.Auth, logger.Named("admin"))

	// --- HTTP server ---
	srv := api.NewServer(cfg.Port, api.Deps{
		Credits:  creditsSrv,
		Progress: progressSrv,
		Admin:    adminSrv,
		Costs:    resolver,
		Metrics:  m,
		Logger:   logger.Named("http"),
		APIKey:   cfg.Auth.APIKey,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	})

	g.Go(func() error {
		return creditsSrv.RunSweeper(gctx, cfg.Credits.SweepInterval)
	})

	logger.Info("API started",
		zap.Uint16("port", cfg.Port),
		zap.Bool("remote_costs", cfg.Supabase.URL != ""),
		zap.Bool("nats", cfg.NATS.URL != ""),
	)

	// --- Wait until either context cancels or a worker errors out ---
	// The server drains before the queue closes the pools it depends on.
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()

		logger.Info("Shut down server")

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	return g.Wait()
}

func newPublisher(cfg *apiConfig, logger *zap.Logger) (events.Publisher, error) {
	if cfg.NATS.URL == "" {
		logger.Info("NATS_URL not set, credit events are dropped")
		return events.Noop(), nil
	}

	pub, err := events.ConnectNATS(cfg.NATS.URL, logger.Named("nats"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return pub, nil
}

// newResolver loads the local table and, when Supabase is configured, the remote app table
// behind a circuit breaker and a TTL cache.
func newResolver(cfg *apiConfig, m *metrics.Metrics, logger *zap.Logger, queue *shutdownqueue.Queue) (*costs.Resolver, error) {
	local, err := costs.Load(cfg.Credits.CostsFile)
	if err != nil {
		return nil, fmt.Errorf("load cost table: %w", err)
	}

	if cfg.Supabase.URL == "" {
		return costs.NewResolver(local, nil, nil, m, logger.Named("costs")), nil
	}

	client := supabase.NewClient(
		&http.Client{Timeout: cfg.Supabase.HTTPTimeout},
		cfg.Supabase.URL,
		cfg.Supabase.ServiceKey,
		resilience.NewCircuitBreaker("supabase"),
		resilience.Config{
			MaxRetries:     cfg.Supabase.MaxRetries,
			InitialBackoff: cfg.Supabase.InitialBackoff,
		},
		logger.Named("supabase"),
	)

	tables := cache.New[*costs.Table](cfg.Supabase.CacheTTL)
	queue.Add("costs-cache", func(context.Context) error {
		tables.Close()
		return nil
	})

	return costs.NewResolver(local, client, tables, m, logger.Named("costs")), nil
}
