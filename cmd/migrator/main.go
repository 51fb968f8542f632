package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Zimbwa03/NerdX-sub004/internal/config"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/logging"
	"github.com/Zimbwa03/NerdX-sub004/internal/infra/pgutils"
	pgadmins "github.com/Zimbwa03/NerdX-sub004/internal/repos/admins/postgres"
	"github.com/Zimbwa03/NerdX-sub004/internal/services/admin"
	"github.com/Zimbwa03/NerdX-sub004/pkg/envconf"
)

//go:embed migrations/*.sql
var baseFS embed.FS

//go:embed test_data/*.sql
var devFS embed.FS

// seedMigrationsTable keeps seed versions apart from schema versions.
const seedMigrationsTable = "seed_migrations"

type migratorConfig struct {
	LogLevel zapcore.Level `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv   string        `env:"APP_ENV"   envDefault:""`

	Postgres config.PostgresConfig
	Auth     config.AuthConfig
}

type app struct {
	cfg    *migratorConfig
	logger *zap.Logger
	db     *sql.DB
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrator: %v\n", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := new(app)

	root := &cobra.Command{
		Use:           "migrator",
		Short:         "Schema migrations and admin bootstrap for the credits database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
		// Bare invocation keeps the container entrypoint behavior: migrate up, seed in DEV.
		RunE: func(*cobra.Command, []string) error {
			err := a.up()
			if err != nil {
				return err
			}

			if a.cfg.AppEnv == "DEV" {
				return a.seed()
			}

			return nil
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending schema migrations",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return a.up()
			},
		},
		&cobra.Command{
			Use:   "down N",
			Short: "Roll back the last N schema migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("N must be a positive integer, got %q", args[0])
				}

				return a.down(n)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.status(cmd)
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Load development seed users",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return a.seed()
			},
		},
		newCreateAdminCmd(a),
	)

	return root
}

func newCreateAdminCmd(a *app) *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a school portal admin; the password is read from ADMIN_PASSWORD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password := os.Getenv("ADMIN_PASSWORD")
			if password == "" {
				return errors.New("ADMIN_PASSWORD is not set")
			}

			svc := admin.New(pgadmins.New(a.db), a.cfg.Auth, a.logger)

			created, err := svc.CreateAdmin(cmd.Context(), email, name, password)
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}

			a.logger.Info("admin created", zap.Int64("id", created.ID), zap.String("email", created.Email))

			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "admin email (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func (a *app) init(ctx context.Context) error {
	cfg := new(migratorConfig)

	// JWT settings are unused here; only the admin password hashing path runs.
	environ := envWithDefaults(map[string]string{"API_KEY": "-", "JWT_SECRET": "-"})

	err := envconf.LoadWith(cfg, environ)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewJSON(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.db = db

	return nil
}

func (a *app) close() error {
	if a.logger != nil {
		//nolint:errcheck
		a.logger.Sync()
	}

	if a.db == nil {
		return nil
	}

	return a.db.Close()
}

func (a *app) up() error {
	m, err := a.newMigrate(baseFS, "migrations", "")
	if err != nil {
		return fmt.Errorf("base migrations: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("m.Up: %w", err)
	}

	a.logger.Info("base migrations applied")

	return nil
}

func (a *app) down(n int) error {
	m, err := a.newMigrate(baseFS, "migrations", "")
	if err != nil {
		return fmt.Errorf("base migrations: %w", err)
	}

	err = m.Steps(-n)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("m.Steps(-%d): %w", n, err)
	}

	a.logger.Info("migrations rolled back", zap.Int("steps", n))

	return nil
}

func (a *app) status(cmd *cobra.Command) error {
	m, err := a.newMigrate(baseFS, "migrations", "")
	if err != nil {
		return fmt.Errorf("base migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		cmd.Println("no migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("m.Version: %w", err)
	}

	cmd.Printf("version %d (dirty: %t)\n", version, dirty)

	return nil
}

func (a *app) seed() error {
	m, err := a.newMigrate(devFS, "test_data", seedMigrationsTable)
	if err != nil {
		return fmt.Errorf("seed migrations: %w", err)
	}

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("m.Up: %w", err)
	}

	a.logger.Info("dev seed migrations applied")

	return nil
}

// newMigrate builds a migrate instance over an embedded directory. An empty table means
// the golang-migrate default.
func (a *app) newMigrate(fsys embed.FS, dir, table string) (*migrate.Migrate, error) {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("iofs source: %w", err)
	}

	driver, err := postgres.WithInstance(a.db, &postgres.Config{MigrationsTable: table})
	if err != nil {
		return nil, fmt.Errorf("init postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}

	return m, nil
}

// envWithDefaults returns the process environment with fallbacks for keys that are unset.
func envWithDefaults(fallbacks map[string]string) map[string]string {
	out := make(map[string]string, len(fallbacks))
	for k, v := range fallbacks {
		out[k] = v
	}

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}

	return out
}
