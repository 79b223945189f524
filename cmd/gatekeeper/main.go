// Command gatekeeper runs the login API and the one-time-code mail worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/gatekeeper"
	"github.com/MrEthical07/gatekeeper/credstore"
	"github.com/MrEthical07/gatekeeper/internal/envconfig"
	"github.com/MrEthical07/gatekeeper/internal/logging"
	"github.com/MrEthical07/gatekeeper/metrics/export/prometheus"
	"github.com/MrEthical07/gatekeeper/notify"
	"github.com/MrEthical07/gatekeeper/password"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "optional dotenv file")
		prefix  = flag.String("prefix", "GK", "environment variable prefix")
	)
	flag.Parse()

	settings, err := envconfig.Load(*prefix, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(settings.LoggingConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, logger); err != nil {
		logger.Error("gatekeeper stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, settings *envconfig.Settings, logger *zap.Logger) error {
	cfg, err := settings.EngineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     settings.RedisAddr,
		Password: settings.RedisPassword,
		DB:       settings.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	db, err := credstore.Open(ctx, credstore.Config{
		DSN:             settings.DatabaseURL,
		MaxConns:        settings.DatabaseMaxConns,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	hasher, err := password.NewBcrypt(cfg.Secrets.BcryptCost)
	if err != nil {
		return err
	}
	users := credstore.New(db, hasher)
	if err := users.EnsureSchema(ctx); err != nil {
		return err
	}

	queueOpt := asynq.RedisClientOpt{
		Addr:     settings.RedisAddr,
		Password: settings.RedisPassword,
		DB:       settings.RedisQueueDB,
	}
	queue := asynq.NewClient(queueOpt)
	defer queue.Close()

	engine, err := gatekeeper.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(users).
		WithEmailSender(notify.NewAsynqSender(queue, cfg.EmailOTP.TTL, logger)).
		WithLogger(logger).
		WithAuditSink(gatekeeper.NewZapAuditSink(logger)).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	worker := notify.NewServer(queueOpt, settings.WorkerConcurrency)
	if err := worker.Start(notify.NewServeMux(notify.NewLogMailer(logger), logger)); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer worker.Shutdown()

	mux := http.NewServeMux()
	newAPI(engine, logger).register(mux)
	mux.Handle("GET /metrics", prometheus.NewPrometheusExporter(engine).Handler())

	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", settings.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}
	return nil
}
