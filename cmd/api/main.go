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

	"github.com/punchamoorthee/savingsledger/internal/api"
	"github.com/punchamoorthee/savingsledger/internal/config"
	"github.com/punchamoorthee/savingsledger/internal/hooks"
	"github.com/punchamoorthee/savingsledger/internal/idempotency"
	"github.com/punchamoorthee/savingsledger/internal/logging"
	"github.com/punchamoorthee/savingsledger/internal/service"
	"github.com/punchamoorthee/savingsledger/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.ConfigFor(cfg.Env, cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		return fmt.Errorf("logger setup failed: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledgerStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	redisClient := openRedis(ctx, cfg.RedisURL, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var idemStore idempotency.Store
	var ledgerHooks []service.Hook
	if redisClient != nil {
		idemStore = idempotency.NewRedisStore(redisClient, "")
		ledgerHooks = append(ledgerHooks, hooks.NewCacheInvalidator(redisClient))
	} else {
		logger.Warn("REDIS_URL not set; idempotency records are kept in process")
		idemStore = idempotency.NewMemoryStore()
	}

	publisher := openPublisher(cfg.RabbitMQURL, logger)
	defer publisher.Close()
	ledgerHooks = append(ledgerHooks, hooks.NewEventHook(publisher, cfg.LedgerEventsExchange))

	defaultGoals, err := config.ParseDefaultGoals(cfg.DefaultGoals)
	if err != nil {
		return err
	}

	transfers := service.NewTransferService(ledgerStore, logger,
		service.WithHooks(ledgerHooks...),
		service.WithMaxRetries(cfg.MaxRetries),
	)
	goals := service.NewGoalService(ledgerStore, transfers, defaultGoals, cfg.DefaultCurrency, logger)

	guard := idempotency.NewGuard(idemStore, idempotency.Config{
		TTL:     cfg.IdempotencyTTL,
		LockTTL: cfg.IdempotencyLockTTL,
		Scope:   api.ScopeFromRequest,
	}, logger)

	handler := api.NewHandler(transfers, goals, ledgerStore, cfg.WebhookSecret, logger)
	router := api.NewRouter(handler, guard, api.RouterConfig{
		JWTSecret:      cfg.JWTSecret,
		InternalAPIKey: cfg.InternalAPIKey,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory ledger store; data is lost on exit")
		return store.NewMemoryStore(cfg.LockTimeout), nil
	}
	pg, err := store.NewPostgresStore(ctx, cfg.DBSource, cfg.LockTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

// openRedis returns nil when Redis is not configured or not reachable.
func openRedis(ctx context.Context, rawURL string, logger *logging.Logger) *redis.Client {
	if rawURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		logger.Warn("redis url parse failed", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed", zap.Error(err))
		client.Close()
		return nil
	}
	return client
}

func openPublisher(rawURL string, logger *logging.Logger) hooks.Publisher {
	if rawURL == "" {
		logger.Warn("RABBITMQ_URL not set; ledger events are logged only")
		return hooks.NewFallbackPublisher(logger)
	}
	amqp, err := hooks.NewAMQPPublisher(rawURL, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable; ledger events are logged only", zap.Error(err))
		return hooks.NewFallbackPublisher(logger)
	}
	return hooks.NewBreakerPublisher(amqp, hooks.DefaultBreakerConfig(), logger)
}
