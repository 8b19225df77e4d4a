// Command docflow runs the document pipeline as a single process: the HTTP
// API and the queue worker share one in-memory job store, so both must live
// in the same binary.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/docflow/internal/api"
	"github.com/dunamismax/docflow/internal/config"
	"github.com/dunamismax/docflow/internal/extract"
	"github.com/dunamismax/docflow/internal/ollama"
	"github.com/dunamismax/docflow/internal/pipeline"
	"github.com/dunamismax/docflow/internal/queue"
	"github.com/dunamismax/docflow/internal/ratelimit"
	"github.com/dunamismax/docflow/internal/storage"
	"github.com/dunamismax/docflow/internal/store"
	"github.com/dunamismax/docflow/internal/telemetry"
	"github.com/dunamismax/docflow/internal/webhook"
	"github.com/dunamismax/docflow/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[docflow] ", log.LstdFlags|log.Lmsgprefix)

	if err := extract.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer extract.Shutdown()

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "docflow",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown failed: %v", err)
		}
	}()

	if err := os.MkdirAll(cfg.Worker.DataDir, 0o755); err != nil {
		logger.Fatalf("create data dir %s: %v", cfg.Worker.DataDir, err)
	}

	var mirror pipeline.ArtifactMirror
	if cfg.Storage.Enabled {
		storageClient, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatalf("storage client setup failed: %v", err)
		}
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.Fatalf("storage bucket setup failed: %v", err)
		}
		mirror = storageClient
		logger.Printf("artifact mirror enabled bucket=%s endpoint=%s", cfg.Storage.Bucket, cfg.Storage.Endpoint)
	}

	jobStore := store.NewMemoryJobStore()
	inference := ollama.NewClient(cfg.Inference.BaseURL)
	extractor := extract.NewExtractor(logger)
	runner := pipeline.NewRunner(logger, jobStore, extractor.Extract, inference, mirror, pipeline.Config{
		VisionModel:      cfg.Inference.VisionModel,
		TextModel:        cfg.Inference.TextModel,
		ImageConcurrency: cfg.Worker.ImageConcurrency,
	})

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       cfg.Webhook.Timeout,
		MaxAttempts:   cfg.Webhook.MaxAttempts,
	})

	workerSrv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, runner, jobStore, webhookClient)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	var rateLimiter api.RateLimiter
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisFixedWindow(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		rateLimiter = limiter
	}

	app := api.NewServer(logger, queueClient, jobStore, inference, api.Options{
		DataDir:        cfg.Worker.DataDir,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
		TextModel:      cfg.Inference.TextModel,
		RateLimiter:    rateLimiter,
		Tracer:         otel.Tracer("docflow/api"),
	})

	httpServer := &http.Server{
		Addr:        cfg.API.Addr,
		Handler:     app.Handler(),
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	logger.Printf(
		"starting worker concurrency=%d image_concurrency=%d queue=%s redis=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.ImageConcurrency,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
	)
	if err := workerSrv.Start(); err != nil {
		logger.Fatalf("worker failed to start: %v", err)
	}

	go func() {
		logger.Printf("listening on %s vision_model=%s text_model=%s", cfg.API.Addr, cfg.Inference.VisionModel, cfg.Inference.TextModel)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	workerSrv.Shutdown()
}
