package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jwalitptl/account-security/internal/config"
	"github.com/jwalitptl/account-security/internal/email"
	accountHandler "github.com/jwalitptl/account-security/internal/handler/account"
	auditHandler "github.com/jwalitptl/account-security/internal/handler/audit"
	authHandler "github.com/jwalitptl/account-security/internal/handler/auth"
	"github.com/jwalitptl/account-security/internal/handler/health"
	"github.com/jwalitptl/account-security/internal/handler/password"
	"github.com/jwalitptl/account-security/internal/middleware"
	"github.com/jwalitptl/account-security/internal/repository"
	"github.com/jwalitptl/account-security/internal/repository/memory"
	"github.com/jwalitptl/account-security/internal/repository/postgres"
	redisRepo "github.com/jwalitptl/account-security/internal/repository/redis"
	"github.com/jwalitptl/account-security/internal/router"
	accountService "github.com/jwalitptl/account-security/internal/service/account"
	auditService "github.com/jwalitptl/account-security/internal/service/audit"
	historyService "github.com/jwalitptl/account-security/internal/service/history"
	"github.com/jwalitptl/account-security/internal/service/policy"
	"github.com/jwalitptl/account-security/pkg/auth"
	"github.com/jwalitptl/account-security/pkg/logger"
	"github.com/jwalitptl/account-security/pkg/messaging/redis"
	"github.com/jwalitptl/account-security/pkg/metrics"
	"github.com/jwalitptl/account-security/pkg/security"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "failed to load configuration")
	}

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Log.JSON,
	})

	if err := run(cfg, log); err != nil {
		log.Fatal(err, "account-security api stopped")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics("account_security", registry)

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}
	base := postgres.NewBaseRepository(db)

	checkers := []health.Checker{{Name: "database", Check: db.PingContext}}

	var redisClient *goredis.Client
	if cfg.History.Driver == "redis" || cfg.Audit.Sink == "redis" {
		redisClient, err = redis.NewClient(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
		checkers = append(checkers, health.Checker{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}

	hasher, err := newHasher(cfg.Hasher)
	if err != nil {
		return err
	}

	sink, auditRepo := newAuditSink(cfg.Audit, base, redisClient, log)
	auditLogger := auditService.NewAuditLogger(sink, auditService.Options{
		Timeout:       cfg.Audit.Timeout,
		FallbackSize:  cfg.Audit.FallbackBuffer,
		RetryInterval: cfg.Audit.RetryInterval,
		Metrics:       m,
		Logger:        log,
	})

	policyModel := cfg.Policy.ToModel()
	historySvc := historyService.NewService(
		newHistoryRepository(cfg.History, base, redisClient),
		hasher,
		historyService.Config{
			Depth:              policyModel.HistoryCount,
			Timeout:            cfg.History.Timeout,
			BreakerMaxFailures: cfg.History.BreakerMaxFailures,
			BreakerTimeout:     cfg.History.BreakerTimeout,
		},
		m,
		log,
	)

	notifier := email.NewNopService()
	if cfg.SMTP.Enabled {
		notifier = email.NewSMTPService(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}

	engine := policy.NewEngine(policyModel)
	accounts := accountService.NewService(accountService.Dependencies{
		Accounts:      postgres.NewAccountRepository(base),
		Policy:        engine,
		History:       historySvc,
		Hasher:        hasher,
		Audit:         auditLogger,
		Notifier:      notifier,
		Metrics:       m,
		Logger:        log,
		LockoutPolicy: cfg.Lockout.ToModel(),
	})

	tokens, err := auth.NewJWTService(auth.Config{
		Secret: cfg.JWT.Secret,
		TTL:    time.Duration(cfg.JWT.ExpiryHours) * time.Hour,
		Issuer: cfg.JWT.Issuer,
	})
	if err != nil {
		return err
	}
	authMiddleware := middleware.NewAuthMiddleware(tokens, accounts)

	var auditReader auditHandler.Reader
	if auditRepo != nil {
		auditReader = auditService.NewService(auditRepo)
	}

	r := router.NewRouter(
		authMiddleware,
		health.NewHandler(registry, auditLogger, checkers...),
		password.NewHandler(accounts, engine),
		authHandler.NewHandler(accounts, tokens),
		accountHandler.NewHandler(accounts, authMiddleware),
		auditHandler.NewHandler(auditLogger, auditReader, authMiddleware),
		router.RouterConfig{
			Mode:        cfg.Server.Mode,
			RateEnabled: cfg.RateLimit.Enabled,
			RateLimit: middleware.RateLimiterConfig{
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
				Burst:             cfg.RateLimit.Burst,
			},
			Logger:  log,
			Metrics: m,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", "port", cfg.Server.Port, "history_driver", cfg.History.Driver, "audit_sink", cfg.Audit.Sink)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}
	if err := auditLogger.Close(shutdownCtx); err != nil {
		log.Error(err, "Audit log not fully flushed", "pending", auditLogger.Pending())
	}
	return nil
}

func newHasher(cfg config.HasherConfig) (security.PasswordHasher, error) {
	switch cfg.Algorithm {
	case "argon2id":
		return security.NewArgon2Hasher(security.DefaultArgon2Config())
	default:
		return security.NewBcryptHasher(cfg.BcryptCost), nil
	}
}

func newHistoryRepository(cfg config.HistoryConfig, base postgres.BaseRepository, client goredis.UniversalClient) repository.HistoryRepository {
	switch cfg.Driver {
	case "redis":
		return redisRepo.NewHistoryRepository(client, cfg.Prefix)
	case "memory":
		return memory.NewHistoryRepository()
	default:
		return postgres.NewHistoryRepository(base)
	}
}

// newAuditSink also returns the repository events end up in when they are
// queryable. A file that cannot be opened yields a nil sink, which starts the
// audit logger degraded instead of stopping the service.
func newAuditSink(cfg config.AuditConfig, base postgres.BaseRepository, client goredis.UniversalClient, log *logger.Logger) (auditService.Sink, repository.AuditRepository) {
	switch cfg.Sink {
	case "stdout":
		return auditService.NewStdoutSink(), nil
	case "postgres":
		repo := postgres.NewAuditRepository(base)
		return auditService.NewRepositorySink(repo), repo
	case "redis":
		// cmd/worker relays the channel into postgres
		broker := redis.NewRedisBroker(client, log.Zerolog())
		return auditService.NewBrokerSink(broker, cfg.Channel), postgres.NewAuditRepository(base)
	default:
		sink, err := auditService.NewFileSink(cfg.FilePath)
		if err != nil {
			log.Error(err, "audit file sink unavailable, buffering audit events in memory", "path", cfg.FilePath)
			return nil, nil
		}
		return sink, nil
	}
}
