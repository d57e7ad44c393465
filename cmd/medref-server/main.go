package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/medref/medref/internal/config"
	"github.com/medref/medref/internal/domain/aml"
	"github.com/medref/medref/internal/domain/emergency"
	"github.com/medref/medref/internal/domain/hospital"
	"github.com/medref/medref/internal/domain/identity"
	"github.com/medref/medref/internal/domain/settlement"
	"github.com/medref/medref/internal/platform/auth"
	"github.com/medref/medref/internal/platform/authprovider"
	"github.com/medref/medref/internal/platform/blobstore"
	"github.com/medref/medref/internal/platform/db"
	"github.com/medref/medref/internal/platform/livefeed"
	"github.com/medref/medref/internal/platform/middleware"
	"github.com/medref/medref/internal/platform/notification"
	"github.com/medref/medref/internal/platform/provisioning"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "medref-server",
		Short: "Cross-border emergency referral API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(poolCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// openPool loads config and connects; the caller closes the pool.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.DBStatementTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
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

			ctx := context.Background()
			_, pool, err := openPool(ctx)
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

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func poolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage country settlement pools",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or reset an ACTIVE pool for a country and currency",
		RunE: func(cmd *cobra.Command, args []string) error {
			country, _ := cmd.Flags().GetString("country")
			currency, _ := cmd.Flags().GetString("currency")
			totalFlag, _ := cmd.Flags().GetString("total")

			total, err := decimal.NewFromString(totalFlag)
			if err != nil {
				return fmt.Errorf("--total must be a decimal: %w", err)
			}

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc, err := newSettlementService(cfg, pool, zerolog.Nop())
			if err != nil {
				return err
			}
			p, err := svc.SeedPool(ctx, country, currency, total)
			if err != nil {
				return err
			}
			fmt.Printf("Pool %s %s/%s total=%s\n", p.ID, p.CountryCode, p.CurrencyCode, p.TotalBalance.StringFixed(2))
			return nil
		},
	}
	seedCmd.Flags().String("country", "", "ISO country code of the pool")
	seedCmd.Flags().String("currency", "USD", "Pool currency")
	seedCmd.Flags().String("total", "0", "Total balance")
	_ = seedCmd.MarkFlagRequired("country")

	cmd.AddCommand(seedCmd)
	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newSettlementService(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*settlement.Service, error) {
	rate, margin, err := cfg.FXRates()
	if err != nil {
		return nil, err
	}
	return settlement.NewService(
		db.NewTransactor(pool),
		emergency.NewRepoPG(pool),
		settlement.NewPoolRepoPG(pool),
		settlement.NewRecordRepoPG(pool),
		settlement.FX{Rate: rate, MarginRate: margin, Currency: cfg.SettlementCurrency},
		logger,
	), nil
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.DBStatementTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Certificate storage and signed view links
	files, err := blobstore.NewFileStore(cfg.CertStorageDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open certificate storage")
	}
	signingKey, random, err := resolveSigningKey(cfg.CertURLSigningKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid certificate link key")
	}
	if random {
		logger.Warn().Msg("CERT_URL_SIGNING_KEY not set; certificate links will not survive a restart")
	}
	signer := blobstore.NewURLSigner(signingKey, cfg.CertURLTTL, "")

	// Email
	var sender notification.EmailSender = notification.NewLogSender(logger)
	if cfg.SMTPHost != "" {
		sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Warn().Msg("SMTP_HOST not set; emails are logged instead of sent")
	}
	templates := notification.NewTemplateEngine()
	if cfg.EmailTemplateDir != "" {
		ids, err := templates.LoadDir(cfg.EmailTemplateDir)
		if err != nil {
			return fmt.Errorf("load email templates: %w", err)
		}
		logger.Info().Strs("templates", ids).Str("dir", cfg.EmailTemplateDir).Msg("email template overrides loaded")
	}
	mailer := notification.NewMailer(sender, templates)

	providerClient := authprovider.NewClient(authprovider.Config{
		BaseURL:    cfg.AuthProviderURL,
		AnonKey:    cfg.AuthProviderAnonKey,
		ServiceKey: cfg.AuthProviderServiceKey,
	})

	// Repositories and services
	resolver := identity.NewResolverPG(pool)
	tx := db.NewTransactor(pool)
	requests := hospital.NewRequestRepoPG(pool)
	hospitals := hospital.NewHospitalRepoPG(pool)
	cases := emergency.NewRepoPG(pool)

	hospitalSvc := hospital.NewService(requests, hospitals, hospital.NewSettlementAccountRepoPG(pool), files, signer, logger)
	hospitalSvc.SetNotifier(mailer)

	provisioner := provisioning.NewProvisioner(providerClient, mailer, cfg.PasswordRedirectURL, logger).
		WithLinker(hospitalSvc)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	checks := []db.Check{db.PoolCheck(pool)}

	var dispatcher provisioning.Dispatcher
	if cfg.RedisURL != "" {
		rdb, err := provisioning.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		queue := provisioning.NewRedisQueue(rdb, provisioner)
		go func() {
			if err := queue.Run(workerCtx); err != nil {
				logger.Error().Err(err).Msg("provisioning worker exited")
			}
		}()
		dispatcher = queue
		checks = append(checks, redisCheck(rdb))
		logger.Info().Msg("provisioning jobs queued in redis")
	} else {
		inProcess := provisioning.NewInProcessDispatcher(provisioner)
		defer inProcess.Wait()
		dispatcher = inProcess
		logger.Info().Msg("REDIS_URL not set; provisioning runs in-process")
	}

	allocator := hospital.NewAllocator(tx, requests, hospitals, dispatcher, logger)
	allocator.SetNotifier(mailer)

	settlementSvc, err := newSettlementService(cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid FX configuration")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.HTTPErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	e.Use(middleware.RateLimit(rateLimitCfg))

	if cfg.DevAuth() {
		logger.Warn().Msg("development auth enabled; unauthenticated requests run as admin")
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.AuthJWTSecret),
			Audience:   "authenticated",
			Skipper:    auth.AuthSkipper,
		}))
	}
	e.Use(middleware.Audit(logger))

	e.GET("/", banner)
	e.GET("/health", db.HealthHandler(checks...))

	apiV1 := e.Group("/api/v1")
	identity.NewHandler(identity.NewService(resolver, providerClient)).RegisterRoutes(apiV1)
	hospital.NewHandler(hospitalSvc, allocator, resolver).RegisterRoutes(apiV1, e)
	feed := livefeed.NewHub(logger)
	emergencySvc := emergency.NewService(cases, logger)
	emergencySvc.SetPublisher(feed)
	emergency.NewHandler(emergencySvc, resolver).WithFeed(feed).RegisterRoutes(apiV1)
	settlement.NewHandler(settlementSvc).RegisterRoutes(apiV1, e)
	aml.NewHandler(aml.NewService(cases, aml.NewHospitalSourcePG(pool), logger)).RegisterRoutes(apiV1)
	blobstore.NewHandler(files, signer).RegisterRoutes(e)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func banner(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Medical referral API is running",
		"version": version,
	})
}

func redisCheck(rdb *redis.Client) db.Check {
	return db.Check{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }}
}

// resolveSigningKey decodes the hex CERT_URL_SIGNING_KEY or, when unset,
// generates a random 32-byte key. The second return value reports the latter.
func resolveSigningKey(envValue string) ([]byte, bool, error) {
	if envValue != "" {
		decoded, err := hex.DecodeString(envValue)
		if err != nil {
			return nil, false, fmt.Errorf("invalid CERT_URL_SIGNING_KEY hex value: %w", err)
		}
		if len(decoded) < 16 {
			return nil, false, fmt.Errorf("CERT_URL_SIGNING_KEY must be at least 16 bytes, got %d", len(decoded))
		}
		return decoded, false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}
