package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ohcnetwork/care-sub000/internal/config"
	"github.com/ohcnetwork/care-sub000/internal/domain/asset"
	"github.com/ohcnetwork/care-sub000/internal/domain/availability"
	"github.com/ohcnetwork/care-sub000/internal/domain/configsync"
	"github.com/ohcnetwork/care-sub000/internal/domain/operate"
	"github.com/ohcnetwork/care-sub000/internal/platform/apperr"
	"github.com/ohcnetwork/care-sub000/internal/platform/auth"
	"github.com/ohcnetwork/care-sub000/internal/platform/db"
	"github.com/ohcnetwork/care-sub000/internal/platform/gateway"
	"github.com/ohcnetwork/care-sub000/internal/platform/metrics"
	"github.com/ohcnetwork/care-sub000/internal/platform/middleware"
	"github.com/ohcnetwork/care-sub000/internal/platform/scheduler"
)

const (
	jobAssetSweep    = "asset-availability-sweep"
	jobLocationSweep = "location-availability-sweep"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "care-server",
		Short: "Care asset and middleware integration server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(jwksCmd())

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
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, sync engine and availability sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			dir, _ := cmd.Flags().GetString("migrations")
			return runServer(migrate, dir)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	cmd.Flags().String("migrations", "./migrations", "Path to migrations directory")
	return cmd
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		ApplicationName:   "care-server",
		HealthCheckPeriod: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
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
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one availability sweep now",
	}
	for _, kind := range []availability.Kind{availability.KindAsset, availability.KindLocation} {
		kind := kind
		cmd.AddCommand(&cobra.Command{
			Use:   string(kind) + "s",
			Short: fmt.Sprintf("Probe every %s once and record state changes", kind),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSweep(cmd.Context(), kind)
			},
		})
	}
	return cmd
}

func runSweep(ctx context.Context, kind availability.Kind) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	keys, err := loadKeys(cfg, logger)
	if err != nil {
		return err
	}
	a := newApp(cfg, logger, pool, keys)
	sched, closeLocker, err := newScheduler(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	job, name := a.assetSweep, jobAssetSweep
	if kind == availability.KindLocation {
		job, name = a.locationSweep, jobLocationSweep
	}
	if !sched.RunOnce(ctx, name, job) {
		return fmt.Errorf("%s did not run: lease held by another replica", name)
	}
	return nil
}

func jwksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jwks",
		Short: "Manage the key set used to sign middleware requests",
	}
	genCmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a new base64 JWKS for JWKS_BASE64",
		RunE: func(cmd *cobra.Command, args []string) error {
			bits, _ := cmd.Flags().GetInt("bits")
			keys, err := auth.GenerateKeySet(bits)
			if err != nil {
				return err
			}
			encoded, err := keys.Encode()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
	genCmd.Flags().Int("bits", 2048, "RSA key size")
	cmd.AddCommand(genCmd)
	return cmd
}

// loadKeys decodes JWKS_BASE64. Development without a key set gets an
// ephemeral one.
func loadKeys(cfg *config.Config, logger zerolog.Logger) (*auth.KeySet, error) {
	if cfg.JWKSBase64 != "" {
		keys, err := auth.LoadKeySet(cfg.JWKSBase64)
		if err != nil {
			return nil, fmt.Errorf("JWKS_BASE64: %w", err)
		}
		return keys, nil
	}
	if cfg.IsProduction() {
		return nil, fmt.Errorf("JWKS_BASE64 is required in production")
	}
	logger.Warn().Msg("JWKS_BASE64 not set, generating an ephemeral signing key")
	return auth.GenerateKeySet(2048)
}

// newScheduler builds the sweep scheduler. Without REDIS_URL every replica
// runs the sweeps.
func newScheduler(cfg *config.Config, logger zerolog.Logger) (*scheduler.Scheduler, func(), error) {
	if cfg.RedisURL == "" {
		return scheduler.New(logger, scheduler.NoopLocker{}, cfg.SweepLeaseTTL), func() {}, nil
	}
	client, err := scheduler.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return scheduler.New(logger, scheduler.NewRedisLocker(client), cfg.SweepLeaseTTL), func() { client.Close() }, nil
}

// app holds the wired components of one process.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	keys   *auth.KeySet

	facilities asset.FacilityRepository
	assetRepo  asset.AssetRepository
	assets     *asset.Service
	sync       *configsync.Engine
	monitor    *availability.Monitor
	records    availability.Repository
	operate    *operate.Service
}

func newApp(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, keys *auth.KeySet) *app {
	client := gateway.NewClient(auth.NewSigner(keys),
		gateway.WithTimeouts(cfg.MiddlewareRequestTimeout, cfg.MiddlewareProbeTimeout),
		gateway.WithLogger(logger),
	)

	facilities := asset.NewFacilityRepoPG(pool)
	locations := asset.NewLocationRepoPG(pool)
	assetRepo := asset.NewAssetRepoPG(pool)
	engine := configsync.NewEngine(client, logger, cfg.SyncWorkers)
	svc := asset.NewService(
		facilities,
		locations,
		assetRepo,
		asset.NewBedRepoPG(pool),
		asset.NewAssetBedRepoPG(pool),
		asset.NewPresetRepoPG(pool),
		db.NewTransactor(pool),
		engine,
	)
	records := availability.NewRepoPG(pool)

	return &app{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		keys:       keys,
		facilities: facilities,
		assetRepo:  assetRepo,
		assets:     svc,
		sync:       engine,
		records:    records,
		monitor:    availability.NewMonitor(records, assetRepo, locations, client, logger, cfg.SweepConcurrency),
		operate:    operate.NewService(svc, client, logger),
	}
}

func (a *app) assetSweep(ctx context.Context) error {
	_, err := a.monitor.AssetSweep(ctx)
	return err
}

func (a *app) locationSweep(ctx context.Context) error {
	_, err := a.monitor.LocationSweep(ctx)
	return err
}

// router builds the echo instance with every route mounted.
func (a *app) router(reg *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(a.logger)

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders())
	bodyLimit, err := middleware.ParseSize(a.cfg.BodyLimit)
	if err != nil {
		a.logger.Warn().Err(err).Msg("BODY_LIMIT invalid, using 1M")
		bodyLimit = 1 << 20
	}
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pool, func() *db.PoolStats { return db.GetPoolStats(a.pool) }))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))
	e.GET("/.well-known/openid-configuration", auth.OpenIDConfigHandler(a.keys))

	apiV1 := e.Group("/api/v1")
	if a.cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   a.cfg.AuthIssuer,
			Audience: a.cfg.AuthAudience,
			JWKSURL:  a.cfg.AuthJWKSURL,
		}))
	}
	apiV1.Use(auth.RequireCaller())
	if a.cfg.RequestTimeout > 0 {
		apiV1.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))
	}

	assetHandler := asset.NewHandler(a.assets)
	assetHandler.RegisterRoutes(apiV1)
	configsync.NewHandler(a.assets, a.sync).RegisterRoutes(apiV1)
	availability.NewHandler(a.records, a.assets).RegisterRoutes(apiV1)
	operate.NewHandler(a.operate).RegisterRoutes(apiV1)

	authn := auth.NewMiddlewareAuthenticator(a.facilities, nil)
	pull := e.Group("/asset_config", middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.PullRateLimitRPS,
		BurstSize:         a.cfg.PullRateLimitBurst,
		Key:               pullLimitKey,
	}))
	assetHandler.RegisterConfigRoutes(pull, authn.MiddlewareAuth(asset.ConfigHost))

	return e
}

// pullLimitKey buckets config pulls by normalised middleware host. Requests
// without a valid host are bucketed by client IP.
func pullLimitKey(c echo.Context) string {
	host, err := asset.ConfigHost(c)
	if err != nil {
		return "ip:" + c.RealIP()
	}
	return "host:" + host
}

func runServer(migrate bool, migrationsDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if migrate {
		n, err := db.NewMigrator(pool, migrationsDir).Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Int("applied", n).Msg("migrations applied")
	}

	keys, err := loadKeys(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load signing keys")
	}

	a := newApp(cfg, logger, pool, keys)

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg, a.assetRepo); err != nil {
		logger.Fatal().Err(err).Msg("failed to register metrics")
	}
	e := a.router(reg)

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	a.sync.Start(syncCtx)

	sched, closeLocker, err := newScheduler(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create scheduler")
	}
	defer closeLocker()
	if err := sched.Add(jobAssetSweep, cfg.AssetSweepCron, a.assetSweep); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule asset sweep")
	}
	if err := sched.Add(jobLocationSweep, cfg.LocationSweepCron, a.locationSweep); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule location sweep")
	}
	sched.Start()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("sweeps did not stop in time")
	}
	a.sync.Stop()
	logger.Info().Msg("server stopped")
	return nil
}
