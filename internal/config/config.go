// Package config loads server settings from the environment, with command-line flags on top.
package config

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the server configuration.
type Config struct {
	Env         string   `env:"ENV,default=dev"`
	Dev         bool     `env:"DEV"`
	HTTPAddr    string   `env:"HTTP_ADDR,default=:8080"`
	OpsAddr     string   `env:"OPS_ADDR,default=:9090"`
	TLSCert     string   `env:"TLS_CERT"`
	TLSKey      string   `env:"TLS_KEY"`
	DSN         string   `env:"DATABASE_DSN"`
	DBMaxConns  int32    `env:"DB_MAX_CONNS,default=10"`
	FieldKey    string   `env:"FIELD_ENC_KEY"` // 64 hex chars
	CORSOrigins []string `env:"CORS_ORIGINS"`

	Token struct {
		KeyFile string        `env:"SIGNING_KEY_FILE"`
		Issuer  string        `env:"TOKEN_ISSUER,default=self"`
		TTL     time.Duration `env:"TOKEN_TTL,default=1h"`
	}

	BcryptCost int           `env:"BCRYPT_COST,default=10"`
	ResetTTL   time.Duration `env:"RESET_CODE_TTL,default=5m"`

	Purge struct {
		Grace    time.Duration `env:"PURGE_GRACE,default=336h"`
		Schedule string        `env:"PURGE_SCHEDULE,default=0 0 * * *"`
	}

	Limiter struct {
		Window   time.Duration `env:"LIMITER_WINDOW,default=15m"`
		MaxFails int           `env:"LIMITER_MAX_FAILS,default=5"`
		Block    time.Duration `env:"LIMITER_BLOCK,default=15m"`
	}

	Kafka struct {
		Brokers []string `env:"KAFKA_BROKERS"`
		Topic   string   `env:"KAFKA_RESET_TOPIC,default=password-reset"`
	}

	SentryDSN string `env:"SENTRY_DSN"`
}

// Load reads the environment through l (the OS environment when nil), then applies args as flags.
// A flag overrides the environment only when it is given explicitly.
func Load(ctx context.Context, args []string, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if l == nil {
		l = envconfig.OsLookuper()
	}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}

	fs := flag.NewFlagSet("todo-server", flag.ContinueOnError)
	fs.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.OpsAddr, "ops-addr", cfg.OpsAddr, "gRPC health listen address")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "PostgreSQL DSN")
	fs.StringVar(&cfg.FieldKey, "field-key", cfg.FieldKey, "field encryption master key, hex")
	fs.StringVar(&cfg.Token.KeyFile, "signing-key", cfg.Token.KeyFile, "RSA private key PEM; ephemeral key when empty")
	fs.DurationVar(&cfg.Token.TTL, "token-ttl", cfg.Token.TTL, "bearer token TTL")
	fs.DurationVar(&cfg.ResetTTL, "reset-ttl", cfg.ResetTTL, "password reset code validity")
	fs.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate (PEM)")
	fs.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS private key (PEM)")
	fs.BoolVar(&cfg.Dev, "dev", cfg.Dev, "development logging and gRPC reflection")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	var problems []error
	if c.DSN == "" {
		problems = append(problems, errors.New("missing DATABASE_DSN (-dsn)"))
	}
	if _, err := c.FieldKeyBytes(); err != nil {
		problems = append(problems, err)
	}
	if c.Token.TTL <= 0 || c.ResetTTL <= 0 || c.Purge.Grace <= 0 {
		problems = append(problems, errors.New("durations must be positive"))
	}
	if c.DBMaxConns <= 0 {
		problems = append(problems, errors.New("DB_MAX_CONNS must be positive"))
	}
	if c.Limiter.MaxFails <= 0 {
		problems = append(problems, errors.New("LIMITER_MAX_FAILS must be positive"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		problems = append(problems, errors.New("TLS_CERT and TLS_KEY go together"))
	}
	if strings.TrimSpace(c.Purge.Schedule) == "" {
		problems = append(problems, errors.New("empty PURGE_SCHEDULE"))
	}
	return errors.Join(problems...)
}

// FieldKeyBytes decodes the 32-byte field encryption master key.
func (c *Config) FieldKeyBytes() ([]byte, error) {
	k, err := hex.DecodeString(strings.TrimSpace(c.FieldKey))
	if err != nil {
		return nil, fmt.Errorf("FIELD_ENC_KEY: %w", err)
	}
	if len(k) != 32 {
		return nil, fmt.Errorf("FIELD_ENC_KEY: want 32 bytes, got %d", len(k))
	}
	return k, nil
}
