package config

import "time"

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS"     envDefault:"20"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS"     envDefault:"5"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" envDefault:"5m"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME"  envDefault:"30m"`
}

// CreditsConfig holds the business knobs of the credit ledger.
type CreditsConfig struct {
	WelcomeBonus        int64         `env:"CREDITS_WELCOME_BONUS"         envDefault:"100"`
	BundleTTL           time.Duration `env:"CREDITS_BUNDLE_TTL"            envDefault:"30m"`
	LowBalanceThreshold int64         `env:"CREDITS_LOW_BALANCE_THRESHOLD" envDefault:"5"`
	SweepInterval       time.Duration `env:"CREDITS_SWEEP_INTERVAL"        envDefault:"5m"`
	// CostsFile replaces the embedded cost table when set.
	CostsFile string `env:"COSTS_FILE" envDefault:""`
}

// SupabaseConfig points at the PostgREST endpoint that serves the app cost table.
// An empty URL disables the remote table.
type SupabaseConfig struct {
	URL            string        `env:"SUPABASE_URL"              envDefault:""`
	ServiceKey     string        `env:"SUPABASE_SERVICE_ROLE_KEY" envDefault:""`
	HTTPTimeout    time.Duration `env:"SUPABASE_HTTP_TIMEOUT"     envDefault:"10s"`
	CacheTTL       time.Duration `env:"SUPABASE_COSTS_CACHE_TTL"  envDefault:"5m"`
	MaxRetries     int           `env:"SUPABASE_MAX_RETRIES"      envDefault:"3"`
	InitialBackoff time.Duration `env:"SUPABASE_INITIAL_BACKOFF"  envDefault:"100ms"`
}

type NATSConfig struct {
	URL string `env:"NATS_URL" envDefault:""`
}

type AuthConfig struct {
	APIKey    string        `env:"API_KEY"`
	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"12h"`
}

type TracingConfig struct {
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ServiceName  string `env:"OTEL_SERVICE_NAME"           envDefault:"nerdx-credits"`
}
