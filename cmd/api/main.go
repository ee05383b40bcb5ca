package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	_ "github.com/smsinbox/site-api/docs" // Swagger docs (generated)
	"github.com/smsinbox/site-api/internal/auth"
	"github.com/smsinbox/site-api/internal/config"
	"github.com/smsinbox/site-api/internal/database"
	"github.com/smsinbox/site-api/internal/email"
	httpServer "github.com/smsinbox/site-api/internal/http"
	"github.com/smsinbox/site-api/internal/logging"
	"github.com/smsinbox/site-api/internal/metrics"
	"github.com/smsinbox/site-api/internal/ratelimit"
	"github.com/smsinbox/site-api/internal/user"
)

// @title           SMS Inbox Site API
// @version         1.0
// @description     Session-cookie authentication for the receive-SMS site: signup, login, email verification and password reset.

// @contact.name   API Support
// @contact.email  support@example.com

// @host      localhost:8080
// @BasePath  /

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"rate_limit_backend", cfg.RateLimit.Backend,
		"email_provider", cfg.Email.Provider,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		version, _ := database.CurrentVersion(ctx, db)
		logger.Info("database migrated", "version", version)
	}

	registry := metrics.NewRegistry()
	m := metrics.NewMetrics(registry)

	limiterStore, closeStore, err := initRateLimitStore(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	defer closeStore()
	rateLimiter := ratelimit.NewLimiter(limiterStore)

	sender, err := initEmailSender(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize email sender: %w", err)
	}
	emailService, err := email.NewService(sender, cfg.Email.SiteURL, email.WithRecorder(m))
	if err != nil {
		return fmt.Errorf("failed to initialize email service: %w", err)
	}

	hasher, err := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	authService := auth.NewService(
		user.NewRepository(db),
		auth.NewSessionRepository(db),
		auth.NewTokenRepository(db),
		emailService,
		hasher,
		logger,
		cfg.Auth.SessionSecret,
		auth.WithSessionDuration(cfg.Auth.SessionDuration),
	)

	authHandler := auth.NewHandler(authService, rateLimiter, m, !cfg.Server.IsDevelopment())
	authMiddleware := auth.NewMiddleware(authService)

	router := httpServer.NewRouter(cfg, httpServer.Deps{
		AuthHandler:    authHandler,
		AuthMiddleware: authMiddleware,
		Metrics:        metrics.Handler(registry),
		DB:             db,
		Logger:         logger,
	})

	server := httpServer.NewServer(
		":"+cfg.Server.Port,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("received signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// initRateLimitStore picks the counter backend. The returned func releases
// anything the store opened.
func initRateLimitStore(ctx context.Context, cfg *config.Config, db *bun.DB) (ratelimit.Store, func(), error) {
	if cfg.RateLimit.Backend != "redis" {
		return ratelimit.NewSQLStore(db), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return ratelimit.NewRedisStore(client), func() { client.Close() }, nil
}

func initEmailSender(ctx context.Context, cfg *config.Config, logger *logging.Logger) (email.Sender, error) {
	switch cfg.Email.Provider {
	case "ses":
		return email.NewSESSender(ctx, email.SESConfig{
			Region:          cfg.Email.SESRegion,
			AccessKeyID:     cfg.Email.SESAccessKeyID,
			SecretAccessKey: cfg.Email.SESSecretAccessKey,
			Endpoint:        cfg.Email.SESEndpoint,
			From:            cfg.Email.From,
		}, logger)
	case "smtp":
		return email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			User:     cfg.Email.SMTPUser,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
		}, logger), nil
	default:
		if !cfg.Server.IsDevelopment() {
			logger.Warn("email provider is 'log'; no email will be delivered")
		}
		return email.NewLogSender(logger, cfg.Server.IsDevelopment()), nil
	}
}
