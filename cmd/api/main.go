package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"careerhub-jobs/internal/api"
	"careerhub-jobs/internal/config"
	"careerhub-jobs/internal/logging"
	"careerhub-jobs/internal/manager"
	"careerhub-jobs/internal/notify"
	"careerhub-jobs/internal/queue"
	"careerhub-jobs/internal/ratelimit"
	"careerhub-jobs/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("connect postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		log.Error("run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	q := queue.NewRedisQueue(redisClient, cfg.HeartbeatWindow)
	limiter := ratelimit.NewSubmissionLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	hub := notify.NewHub(log)
	go hub.Run(ctx)
	bridge := notify.NewBridge(redisClient, hub, log)
	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("event bridge stopped", slog.String("error", err.Error()))
		}
	}()

	publisher := notify.NewPublisher(redisClient)
	m := manager.New(st, q, publisher, log, manager.Options{
		MaxAttempts:     cfg.MaxAttempts,
		CleanupMaxAge:   cfg.CleanupMaxAge,
		CleanupInterval: cfg.CleanupInterval,
	})
	go m.RunCleanup(ctx)

	server := api.New(cfg, m, hub, limiter, log)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info("api listening", slog.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
