package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/pixelpass/internal/api"
	"github.com/dunamismax/pixelpass/internal/config"
	"github.com/dunamismax/pixelpass/internal/queue"
	"github.com/dunamismax/pixelpass/internal/ratelimit"
	"github.com/dunamismax/pixelpass/internal/storage"
	"github.com/dunamismax/pixelpass/internal/surface"
	"github.com/dunamismax/pixelpass/internal/store"
	"github.com/dunamismax/pixelpass/internal/telemetry"
	"github.com/dunamismax/pixelpass/internal/worker"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:    "pixelpass-api",
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	if err := surface.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer surface.Shutdown()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name).
		WithLimits(cfg.Queue.MaxRetry, cfg.Queue.TaskTimeout)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	var jobStore store.JobStore = store.NewMemoryJobStore()
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres store init failed: %v", err)
		}
		defer pg.Close()
		jobStore = pg
	} else {
		logger.Printf("POSTGRES_DSN is empty; jobs are kept in memory")
	}

	opts := api.Options{
		Logger:         logger,
		Queue:          queueClient,
		JobStore:       jobStore,
		MaxRenderBytes: cfg.API.MaxRenderBytes,
		RenderTimeout:  cfg.API.RenderTimeout,
		Tracer:         otel.Tracer("pixelpass/api"),
	}

	objectStore, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else if err := objectStore.EnsureBucket(ctx); err != nil {
		logger.Printf("object storage disabled: %v", err)
	} else {
		opts.Storage = objectStore
	}

	if cfg.RateLimit.Enabled {
		limiter, closeLimiter, err := newRateLimiter(cfg)
		if err != nil {
			logger.Fatalf("rate limiter init failed: %v", err)
		}
		defer closeLimiter()
		opts.RateLimiter = limiter
	}

	engine, err := worker.NewEngine(cfg.Render, logger)
	if err != nil {
		logger.Fatalf("render engine init failed: %v", err)
	}
	opts.Engine = engine

	app := api.NewServer(opts)

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.API.RenderTimeout,
		WriteTimeout:      cfg.API.RenderTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

func newRateLimiter(cfg config.Config) (api.RateLimiter, func(), error) {
	switch cfg.RateLimit.Backend {
	case "memory":
		limiter, err := ratelimit.NewMemoryTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.Window)
		return limiter, func() {}, err
	case "", "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		limiter, err := ratelimit.NewRedisTokenBucket(client, cfg.RateLimit.Capacity, cfg.RateLimit.Window, ratelimit.DefaultKeyPrefix)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return limiter, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimit.Backend)
	}
}
