package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xray/xray/internal/config"
	"github.com/xray/xray/internal/domain/xray"
	"github.com/xray/xray/internal/platform/auth"
	"github.com/xray/xray/internal/platform/cache"
	"github.com/xray/xray/internal/platform/db"
	"github.com/xray/xray/internal/platform/middleware"
	"github.com/xray/xray/internal/platform/permission"
	"github.com/xray/xray/internal/platform/validation"
	"github.com/xray/xray/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "xray-server",
		Short:         "X-ray patient-file API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(filesCmd())
	rootCmd.AddCommand(searchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openRoster returns the configured roster provider. The pool is nil unless
// the Postgres source is selected; callers close it when set.
func openRoster(ctx context.Context, cfg *config.Config) (xray.Roster, *pgxpool.Pool, error) {
	switch cfg.RosterSource {
	case config.SourceRemote:
		return xray.NewRosterRemote(xray.RemoteConfig{
			BaseURL:  cfg.RecordsAPIURL,
			Timeout:  cfg.RecordsAPITimeout,
			PageSize: cfg.RecordsPageSize,
		}), nil, nil
	case config.SourcePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return xray.NewRosterPG(pool), pool, nil
	default:
		return nil, nil, fmt.Errorf("unknown roster source %q", cfg.RosterSource)
	}
}

// newChecker asks the authorization service when one is configured and falls
// back to the static role grants otherwise.
func newChecker(cfg *config.Config) permission.Checker {
	if cfg.PermissionAPIURL == "" {
		return permission.NewRoleChecker(permission.DefaultGrants())
	}
	remote := permission.NewRemoteChecker(cfg.PermissionAPIURL, cfg.RecordsAPITimeout)
	return permission.NewCached(remote, cache.New[bool](), cfg.PermissionCacheTTL)
}

func newService(cfg *config.Config, roster xray.Roster, logger zerolog.Logger) *xray.Service {
	engine := xray.NewEngineForLocale(cfg.CollationLocale)
	return xray.NewService(engine, roster, roster, xray.ServiceConfig{
		SnapshotTTL: cfg.RosterCacheTTL,
		ViewTTL:     cfg.ViewCacheTTL,
	}, logger)
}

// newServer wires middleware and routes. dbHealth may be nil when the roster
// is not backed by Postgres.
func newServer(cfg *config.Config, logger zerolog.Logger, svc *xray.Service, checker permission.Checker, dbHealth echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Authorization", "Content-Type", "If-None-Match", middleware.RequestIDHeader},
		ExposeHeaders: []string{"ETag", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":        "ok",
			"version":       version,
			"roster_source": cfg.RosterSource,
		})
	})
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	apiV1 := e.Group("/api/v1", authMW, middleware.RequestTimeout(cfg.RequestTimeout), middleware.ETag())
	xray.NewHandler(svc, checker, logger).RegisterRoutes(apiV1)
	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: every request is authenticated as an admin user")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	roster, pool, err := openRoster(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open roster: %w", err)
	}
	var dbHealth echo.HandlerFunc
	if pool != nil {
		defer pool.Close()
		dbHealth = db.PoolHealthHandler(pool)
		logger.Info().Msg("connected to database")
	}

	svc := newService(cfg, roster, logger)
	svc.StartCleanup(ctx, time.Minute)

	e := newServer(cfg, logger, svc, newChecker(cfg), dbHealth)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Str("roster_source", cfg.RosterSource).
			Str("locale", svc.Engine().Language().String()).
			Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres roster schema",
	}

	withMigrator := func(run func(ctx context.Context, m *db.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for migrations")
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()
			return run(ctx, db.NewMigrator(pool, migrations.FS))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			count, err := m.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: withMigrator(func(ctx context.Context, m *db.Migrator) error {
			statuses, err := m.Status(ctx)
			if err != nil {
				return fmt.Errorf("read migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		}),
	})

	return cmd
}
