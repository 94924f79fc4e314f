package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/neurosense360/console/internal/config"
	"github.com/neurosense360/console/internal/domain/alert"
	"github.com/neurosense360/console/internal/domain/clinic"
	"github.com/neurosense360/console/internal/platform/auth"
	"github.com/neurosense360/console/internal/platform/db"
	"github.com/neurosense360/console/internal/platform/lock"
	"github.com/neurosense360/console/internal/platform/middleware"
	"github.com/neurosense360/console/internal/platform/notification"
	"github.com/neurosense360/console/internal/platform/telemetry"
	"github.com/neurosense360/console/internal/platform/websocket"
	"github.com/neurosense360/console/migrations"
)

const (
	tokenIssuer     = "neurosense360-console"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "console-server",
		Short: "NeuroSense360 clinic console API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(alertsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the console API server and alert scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				fmt.Printf("Running migrations on schema: %s\n", m.Schema())
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("Migration status for schema: %s\n", m.Schema())
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format(time.RFC3339)
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
		cmd.AddCommand(c)
	}
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrations")
	}
	schema, _ := cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.DBSchema
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, schema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrations.FS, schema))
}

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and run the alert engine",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Run one alert evaluation pass and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.scheduler.RunOnce(ctx)
				if err != nil {
					return fmt.Errorf("alert pass failed: %w", err)
				}
				return printJSON(res)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print alert statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				stats, err := a.engine.Stats(ctx)
				if err != nil {
					return err
				}
				return printJSON(stats)
			})
		},
	})
	return cmd
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// app holds the wired components shared by the server and the CLI.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *pgxpool.Pool
	redis     *redis.Client
	telemetry *telemetry.Provider
	clinics   *clinic.Service
	engine    *alert.Engine
	scheduler *alert.Scheduler
	hub       *websocket.Hub
	outbox    *notification.Outbox
	directory *auth.Directory
	tokens    *auth.TokenIssuer
	jwt       auth.JWTConfig
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, telemetry: telemetry.NewProvider()}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var (
		err        error
		clinicRepo clinic.Repository
		alertRepo  alert.Repository
		eventRepo  alert.EventRepository
	)
	if cfg.UsesPostgres() {
		a.pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := a.telemetry.RegisterDBPool(a.pool); err != nil {
			return nil, err
		}
		clinicRepo = clinic.NewRepoPG(a.pool)
		alertRepo = alert.NewRepoPG(a.pool)
		eventRepo = alert.NewEventRepoPG(a.pool)
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
	} else {
		clinicRepo = clinic.NewMemoryRepository()
		alertRepo = alert.NewMemoryRepository()
		eventRepo = alert.NewMemoryEventRepository()
		logger.Info().Msg("using in-memory store")
	}

	a.clinics = clinic.NewService(clinicRepo)
	a.clinics.SetDefaultReportsAllowed(cfg.DefaultReportsAllowed)
	if !cfg.UsesPostgres() {
		if _, err := a.clinics.SeedDemo(ctx); err != nil {
			return nil, fmt.Errorf("seed demo clinic: %w", err)
		}
	}

	a.hub = websocket.NewHub(logger)
	if cfg.EmailEnabled {
		sender := notification.NewLogEmailSender(logger, cfg.EmailFrom, cfg.EmailDelay)
		a.outbox = notification.NewOutbox(sender, notification.NewTemplateEngine())
	}

	notifier := alert.NewAlertNotifier(eventRepo, a.hub, a.outbox, logger)
	notifier.SetEmailTimeout(cfg.EmailTimeout)

	metrics := alert.NewMetrics(a.telemetry.Registerer())
	a.engine = alert.NewEngine(clinicRepo, alertRepo, eventRepo, notifier, alert.EngineConfig{
		Thresholds: alert.Thresholds{
			WarningRatio:          cfg.WarningRatio,
			CriticalRatio:         cfg.CriticalRatio,
			TrialWarningDays:      cfg.TrialWarningDays,
			DefaultReportsAllowed: cfg.DefaultReportsAllowed,
		},
		RecencyWindow: cfg.RecencyWindow,
	}, logger)
	a.engine.SetMetrics(metrics)
	if err := a.engine.InitializeAlertsTable(ctx); err != nil {
		return nil, err
	}

	a.scheduler = alert.NewScheduler(a.engine, cfg.CheckInterval, logger)
	a.scheduler.SetMetrics(metrics)
	if cfg.RedisURL != "" {
		a.redis, err = lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.scheduler.SetLocker(lock.NewRedisLocker(a.redis), cfg.PassLockTTL)
		logger.Info().Msg("distributed alert pass lock enabled")
	} else {
		a.scheduler.SetLocker(lock.NewLocalLocker(), cfg.PassLockTTL)
	}

	key, generated, err := resolveSigningKey(cfg.AuthSigningKey, cfg.IsDev())
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set, using a random key; tokens will not survive a restart")
	}
	a.jwt = auth.JWTConfig{Issuer: tokenIssuer, SigningKey: key, Skipper: auth.AuthSkipper}
	a.tokens = auth.NewTokenIssuer(a.jwt, cfg.AuthTokenTTL)

	cost := bcrypt.DefaultCost
	if cfg.IsDev() {
		cost = bcrypt.MinCost
	}
	a.directory, err = auth.NewDirectory(cost, auth.DefaultCredentials(clinic.DemoClinicID)...)
	if err != nil {
		return nil, fmt.Errorf("build credential directory: %w", err)
	}
	ready = true
	return a, nil
}

// Close releases external connections.
func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// resolveSigningKey returns the configured token signing key. In development
// an unset key is replaced by a random 32-byte key; the second return value
// reports that case.
func resolveSigningKey(value string, dev bool) ([]byte, bool, error) {
	if value != "" {
		return []byte(value), false, nil
	}
	if !dev {
		return nil, false, errors.New("AUTH_SIGNING_KEY is required outside development")
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

// newServer builds the echo instance with middleware and every route.
func newServer(a *app) *echo.Echo {
	cfg := a.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(a.telemetry.Middleware())
	e.Use(middleware.RequestTimeout(requestTimeout))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(a.jwt))
	} else {
		e.Use(auth.JWTMiddleware(a.jwt))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"store":     cfg.StoreDriver,
			"scheduler": a.scheduler.Running(),
			"interval":  a.scheduler.Interval().String(),
		})
	})
	e.GET("/metrics", echo.WrapHandler(a.telemetry.Handler()))
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}

	apiV1 := e.Group("/api/v1")

	auth.NewHandler(a.directory, a.tokens).
		RegisterRoutes(apiV1, middleware.RateLimit(middleware.LoginRateLimitConfig()))
	clinic.NewHandler(a.clinics).RegisterRoutes(apiV1)
	alert.NewHandler(a.engine, a.scheduler).RegisterRoutes(apiV1)
	if a.outbox != nil {
		notification.NewHandler(a.outbox).RegisterRoutes(apiV1, auth.RequireRole(auth.RoleSuperAdmin))
	}
	websocket.NewHandler(a.hub, cfg.CORSOrigins).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		l := newLogger(os.Getenv("ENV"))
		l.Error().Err(err).Msg("failed to load config")
		return err
	}
	logger := newLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return err
	}
	defer a.Close()

	e := newServer(a)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if cfg.SchedulerEnabled {
		a.scheduler.Start(gctx)
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")

		a.scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
