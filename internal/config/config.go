package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	SourcePostgres = "postgres"
	SourceRemote   = "remote"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	RosterSource       string        `mapstructure:"ROSTER_SOURCE"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	RecordsAPIURL      string        `mapstructure:"RECORDS_API_URL"`
	RecordsAPITimeout  time.Duration `mapstructure:"RECORDS_API_TIMEOUT"`
	RecordsPageSize    int           `mapstructure:"RECORDS_PAGE_SIZE"`
	PermissionAPIURL   string        `mapstructure:"PERMISSION_API_URL"`
	PermissionCacheTTL time.Duration `mapstructure:"PERMISSION_CACHE_TTL"`
	RosterCacheTTL     time.Duration `mapstructure:"ROSTER_CACHE_TTL"`
	ViewCacheTTL       time.Duration `mapstructure:"VIEW_CACHE_TTL"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CollationLocale    string        `mapstructure:"COLLATION_LOCALE"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL        string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "ROSTER_SOURCE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"RECORDS_API_URL", "RECORDS_API_TIMEOUT", "RECORDS_PAGE_SIZE",
	"PERMISSION_API_URL", "PERMISSION_CACHE_TTL",
	"ROSTER_CACHE_TTL", "VIEW_CACHE_TTL", "REQUEST_TIMEOUT",
	"COLLATION_LOCALE",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS",
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory when one exists. Real environment variables win
// over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ROSTER_SOURCE", SourcePostgres)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("RECORDS_API_TIMEOUT", "15s")
	v.SetDefault("RECORDS_PAGE_SIZE", 200)
	v.SetDefault("PERMISSION_CACHE_TTL", "5m")
	v.SetDefault("ROSTER_CACHE_TTL", "30s")
	v.SetDefault("VIEW_CACHE_TTL", "10m")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("COLLATION_LOCALE", "es")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	for _, k := range keys {
		v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A single env var arrives as one string; split it like a list.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.RosterSource = strings.ToLower(strings.TrimSpace(cfg.RosterSource))
	cfg.RecordsAPIURL = strings.TrimRight(cfg.RecordsAPIURL, "/")
	cfg.PermissionAPIURL = strings.TrimRight(cfg.PermissionAPIURL, "/")

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks the cross-field rules Load cannot express with defaults.
func (c *Config) Validate() error {
	var errs []error

	switch c.RosterSource {
	case SourcePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when ROSTER_SOURCE is \"postgres\""))
		}
	case SourceRemote:
		if c.RecordsAPIURL == "" {
			errs = append(errs, errors.New("RECORDS_API_URL is required when ROSTER_SOURCE is \"remote\""))
		}
	default:
		errs = append(errs, fmt.Errorf("ROSTER_SOURCE must be %q or %q, got %q", SourcePostgres, SourceRemote, c.RosterSource))
	}

	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		errs = append(errs, fmt.Errorf(
			"AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set outside development (ENV=%q)", c.Env))
	}
	if c.IsProduction() && c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		errs = append(errs, errors.New("AUTH_SIGNING_KEY must be at least 32 bytes in production"))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
	}
	if c.RecordsPageSize < 0 {
		errs = append(errs, errors.New("RECORDS_PAGE_SIZE must not be negative"))
	}
	return errors.Join(errs...)
}
