package main

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/Zimbwa03/NerdX-sub004/internal/config"
)

type apiConfig struct {
	Port            uint16        `env:"HTTP_PORT"        envDefault:"8080"`
	LogLevel        zapcore.Level `env:"LOG_LEVEL"        envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Postgres config.PostgresConfig
	Credits  config.CreditsConfig
	Supabase config.SupabaseConfig
	NATS     config.NATSConfig
	Auth     config.AuthConfig
	Tracing  config.TracingConfig
}
