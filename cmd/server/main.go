package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/arnavmehta/webhook-dispatcher/internal/api"
	"github.com/arnavmehta/webhook-dispatcher/internal/clock"
	"github.com/arnavmehta/webhook-dispatcher/internal/config"
	"github.com/arnavmehta/webhook-dispatcher/internal/deliver"
	"github.com/arnavmehta/webhook-dispatcher/internal/engine"
	"github.com/arnavmehta/webhook-dispatcher/internal/notify"
	"github.com/arnavmehta/webhook-dispatcher/internal/store"
	"github.com/arnavmehta/webhook-dispatcher/internal/worker"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to postgres")

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opt)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, poll-leader debounce disabled", "error", err)
			redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
			logger.Info("connected to redis")
		}
	}
	leaderLock := engine.NewLeaderLock(redisClient, cfg.WorkerPollInterval)

	hub := notify.NewHub(logger)
	go hub.Run()

	deliverer := deliver.New(cfg.HTTPTimeout)
	workerCfg := worker.Config{
		Secret:                   cfg.WebhookSecret,
		PollInterval:             cfg.WorkerPollInterval,
		ClaimLimit:               cfg.WorkerClaimLimit,
		MaxAttempts:              cfg.MaxAttempts,
		BackoffBase:              cfg.BackoffBaseSeconds,
		BackoffMax:               cfg.BackoffMaxSeconds,
		HTTPTimeout:              cfg.HTTPTimeout,
		ShortCircuitPermanent4xx: cfg.ShortCircuitPermanent4xx,
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		w := worker.New(pgStore, deliverer, clock.Real{}, clock.Real{}, hub, leaderLock, logger, workerCfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	router := api.NewRouter(pgStore, hub, cfg.TargetURL)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
