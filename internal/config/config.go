// Package config builds the command line and resolves settings from flags,
// KGF_* environment variables and an optional .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/cards-party-backend/internal/service"
)

const (
	EnvPrefix = "KGF"

	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Bind          string
	Port          int
	Store         string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	SessionSecret string
	Env           string
	LogLevel      string
	AllowSkip     bool
	MaxDeckBytes  int64
	DashboardPath string
	PublicURL     string
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("--database-url is required with --store=postgres")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StorePostgres, StoreMemory)
	}
	if c.SessionSecret == "" {
		return errors.New("--session-secret must be set")
	}
	if c.MaxDeckBytes <= 0 {
		return fmt.Errorf("invalid max deck size: %d", c.MaxDeckBytes)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

func (c *Config) Production() bool { return c.Env == "production" }

// Logger builds the process logger for the configured environment.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if c.Production() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// RunFunc executes a command with the resolved configuration.
type RunFunc func(ctx context.Context, cfg *Config) error

// NewCommand returns the root command running serve, with migrate as a
// subcommand. Both share the persistent flags.
func NewCommand(cfg *Config, serve, migrate RunFunc) *cobra.Command {
	// a missing .env is fine, plain environment variables still apply
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "cards-party",
		Short: "Party card game server.",
		Args:  cobra.ExactArgs(0),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bindEnv(v, cmd.Flags())
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: KGF_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: KGF_PORT)")
	fs.StringVar(&cfg.Store, "store", StorePostgres, "storage backend, postgres or memory (env: KGF_STORE)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres connection string (env: KGF_DATABASE_URL)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for the shared chat limiter, in-process if empty (env: KGF_REDIS_ADDR)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password (env: KGF_REDIS_PASSWORD)")
	fs.StringVar(&cfg.SessionSecret, "session-secret", "", "secret signing session cookies (env: KGF_SESSION_SECRET)")
	fs.StringVar(&cfg.Env, "env", "development", "development or production (env: KGF_ENV)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error (env: KGF_LOG_LEVEL)")
	fs.BoolVar(&cfg.AllowSkip, "allow-skip", false, "let match owners skip phases (env: KGF_ALLOW_SKIP)")
	fs.Int64Var(&cfg.MaxDeckBytes, "max-deck-bytes", service.DefaultMaxDeckBytes, "largest accepted deck upload (env: KGF_MAX_DECK_BYTES)")
	fs.StringVar(&cfg.DashboardPath, "dashboard-path", "/", "where denied requests are redirected (env: KGF_DASHBOARD_PATH)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "external base URL for join links (env: KGF_PUBLIC_URL)")

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context(), cfg)
		},
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// bindEnv fills every flag the user did not set from the environment.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
