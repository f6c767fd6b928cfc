// Command messaging-server serves the messaging API over HTTP.
//
// Usage:
//
//	messaging-server -config messaging.yaml
//
// See internal/config for the recognized MESSAGING_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/messaging"
	"github.com/rbaliyan/messaging/cmd/messaging-server/internal/api"
	"github.com/rbaliyan/messaging/cmd/messaging-server/internal/config"
	"github.com/rbaliyan/messaging/retry"
	"github.com/rbaliyan/messaging/store"
	"github.com/rbaliyan/messaging/store/memory"
	mongostore "github.com/rbaliyan/messaging/store/mongo"
	"github.com/rbaliyan/messaging/store/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("MESSAGING_CONFIG"), "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("messaging-server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting messaging server", "addr", cfg.Addr(), "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeBackend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	opts := []messaging.Option{
		messaging.WithStore(st),
		messaging.WithLogger(logger),
		messaging.WithOTel(cfg.Telemetry.Enabled),
		messaging.WithServiceName(cfg.Telemetry.ServiceName),
		messaging.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		messaging.WithMaxBodySize(cfg.Limits.MaxBodySize),
		messaging.WithMaxSubjectLength(cfg.Limits.MaxSubjectLength),
		messaging.WithMaxQueryLimit(cfg.Limits.MaxQueryLimit),
		messaging.WithMaxConcurrentSends(cfg.Limits.MaxConcurrentSends),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		opts = append(opts, messaging.WithRedisClient(rdb))
	}

	svc, err := messaging.NewService(opts...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	connectPolicy := retry.DefaultPolicy()
	connectPolicy.Attempts = cfg.Store.ConnectAttempts
	connectPolicy.MaxBackoff = 10 * time.Second
	connectPolicy.Logger = logger
	connectPolicy.Retryable = func(err error) bool {
		return !errors.Is(err, messaging.ErrAlreadyConnected)
	}
	if err := retry.Do(ctx, connectPolicy, svc.Connect); err != nil {
		return fmt.Errorf("connect service: %w", err)
	}

	sendPolicy := retry.DefaultPolicy()
	sendPolicy.Logger = logger
	handler := api.NewHandler(svc, sendPolicy, logger)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = svc.Close(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := svc.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close service: %w", err))
	}
	logger.Info("messaging server stopped")
	return errors.Join(errs...)
}

// openStore builds the configured store. The returned func releases the
// underlying database handle after the service is closed.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := sqlx.Open("postgres", cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgres.New(db, postgres.WithLogger(logger)), func() { _ = db.Close() }, nil

	case config.DriverPgx:
		db, err := sqlx.Open("pgx", cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open pgx: %w", err)
		}
		return postgres.NewFromDB(db.DB, postgres.WithLogger(logger)), func() { _ = db.Close() }, nil

	case config.DriverMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.Store.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		st := mongostore.New(client,
			mongostore.WithDatabase(cfg.Store.Database),
			mongostore.WithLogger(logger),
		)
		return st, func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }, nil

	default:
		return memory.New(), func() {}, nil
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}
