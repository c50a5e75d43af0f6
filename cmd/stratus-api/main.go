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

	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/api"
	"github.com/lalithlochan/stratus/internal/audit"
	"github.com/lalithlochan/stratus/internal/circuitbreaker"
	"github.com/lalithlochan/stratus/internal/config"
	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/jobs"
	"github.com/lalithlochan/stratus/internal/metrics"
	"github.com/lalithlochan/stratus/internal/notify"
	"github.com/lalithlochan/stratus/internal/observ"
	"github.com/lalithlochan/stratus/internal/redis"
	"github.com/lalithlochan/stratus/internal/session"
	"github.com/lalithlochan/stratus/internal/sns"
	"github.com/lalithlochan/stratus/internal/sqlite"
	"github.com/lalithlochan/stratus/internal/sqs"
)

// store is everything the server needs from persistence. db.Repository and
// sqlite.Store both provide it.
type store interface {
	api.Store
	notify.Store
	audit.Writer
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "stratus-api")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting stratus api",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.StoreDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, dbConns, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis backs idempotency and rate limiting; both switch off without it.
	var (
		idempotency *redis.ReplayCache
		limiter     *redis.RateLimiter
	)
	redisClient, err := redis.New(ctx, redis.Config{
		URL:      cfg.RedisURL,
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and rate limiting disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		idempotency = redis.NewReplayCache(redisClient, logger)
		limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
		})
	}

	breakers := circuitbreaker.NewRegistry()
	service := notify.NewService(st, logger, providers(ctx, cfg, st, breakers, logger)...)

	pool := jobs.NewPool(jobs.Config{
		MaxConcurrent: cfg.JobConcurrency,
		Timeout:       cfg.JobTimeout,
	}, logger)

	var dispatcher notify.Dispatcher = notify.NewBackground(service, pool, logger)
	if cfg.JobsQueueURL != "" {
		client, err := sqs.NewClient(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.JobsQueueURL,
			Endpoint: cfg.AWSEndpoint,
		})
		if err != nil {
			logger.Warn("sqs unavailable, delivering notifications in process", zap.Error(err))
		} else {
			dispatcher = sqs.NewProducer(client, cfg.JobsQueueURL, logger)
			consumer := sqs.NewConsumer(client, cfg.JobsQueueURL, sqs.ConsumerConfig{}, logger)
			go consumer.Run(ctx, func(ctx context.Context, req notify.Request) error {
				_, err := service.Deliver(ctx, req)
				return err
			})
			logger.Info("notification queue enabled", zap.String("queue_url", cfg.JobsQueueURL))
		}
	}

	handler := api.NewHandler(api.Deps{
		Store:       st,
		Notifier:    dispatcher,
		Audit:       audit.New(st, logger),
		Sessions:    session.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Idempotency: idempotency,
		RateLimiter: limiter,
		Breakers:    breakers,
		Logger:      logger,
	})

	go reportGauges(ctx, dbConns, redisClient)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// Give outstanding requests and background deliveries time to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Warn("background jobs did not drain", zap.Error(err))
	}

	logger.Info("server stopped gracefully")
	return nil
}

// openStore connects the configured store. dbConns reports in-use
// connections for the gauge and is nil for SQLite.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store, func() int, func(), error) {
	if cfg.StoreDriver == config.DriverSQLite {
		s, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil, func() { s.Close() }, nil
	}

	database, err := db.New(ctx, db.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db.NewRepository(database, logger), database.AcquiredConns, database.Close, nil
}

// providers builds the external channels, each behind circuit breakers. A
// channel whose client cannot be built is left out.
func providers(ctx context.Context, cfg *config.Config, st store, breakers *circuitbreaker.Registry, logger *zap.Logger) []notify.Provider {
	breakerConfig := func(name string) circuitbreaker.Config {
		bc := circuitbreaker.DefaultConfig(name)
		bc.OnStateChange = func(key string, _, to circuitbreaker.State) {
			metrics.SetBreakerState(key, int(to))
		}
		return bc
	}
	protect := func(p circuitbreaker.Provider) notify.Provider {
		b := circuitbreaker.New(breakerConfig(p.Name()), logger)
		breakers.Add(b)
		return circuitbreaker.Guard(p, b, logger)
	}

	var out []notify.Provider

	if cfg.EmailEnabled {
		email, err := notify.NewEmailFromAWS(ctx, notify.EmailConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
			AppURL:    cfg.AppURL,
		}, logger)
		if err != nil {
			logger.Warn("SES unavailable, email notifications disabled", zap.Error(err))
		} else {
			out = append(out, protect(email))
		}
	}

	if cfg.SMSEnabled {
		publisher, err := sns.NewPublisher(ctx, sns.Config{
			Region:   cfg.SNSRegion,
			Endpoint: cfg.AWSEndpoint,
			SenderID: cfg.SMSSenderID,
		}, logger)
		if err != nil {
			logger.Warn("SNS unavailable, SMS notifications disabled", zap.Error(err))
		} else {
			out = append(out, protect(notify.NewSMS(publisher, logger)))
		}
	}

	// Webhook endpoints belong to tenants, so each organization gets its own
	// circuit.
	webhook := notify.NewWebhook(st, notify.WebhookConfig{Timeout: cfg.WebhookTimeout}, logger)
	out = append(out, circuitbreaker.GuardPerOrganization(webhook, breakerConfig(webhook.Name()), breakers, logger))

	return out
}

// reportGauges samples connection pools into the metrics gauges.
func reportGauges(ctx context.Context, dbConns func() int, redisClient *redis.Client) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dbConns != nil {
				metrics.SetDBConnections(dbConns())
			}
			if redisClient != nil {
				metrics.SetRedisConnections(redisClient.TotalConns())
			}
		}
	}
}
