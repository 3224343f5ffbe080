package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"careerhub-jobs/internal/config"
	"careerhub-jobs/internal/logging"
	"careerhub-jobs/internal/notify"
	"careerhub-jobs/internal/queue"
	"careerhub-jobs/internal/store"
	"careerhub-jobs/internal/telemetry"
	"careerhub-jobs/internal/worker"
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
		log.Info("shutdown signal received, draining")
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
	publisher := notify.NewPublisher(redisClient)

	gateway := worker.NewAIGateway(cfg.AIGatewayURL, cfg.AIGatewayKey, cfg.HandlerTimeout)
	uploader, err := worker.NewArtifactUploader(ctx, cfg)
	if err != nil {
		log.Error("init artifact uploader", slog.String("error", err.Error()))
		os.Exit(1)
	}
	handlers := worker.DefaultHandlers(gateway, uploader)

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = fmt.Sprintf("worker-%d", os.Getpid())
		}
		workerID = hostname
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	log.Info("worker starting",
		slog.String("worker_id", workerID),
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.Duration("heartbeat_window", cfg.HeartbeatWindow),
	)

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p := worker.NewProcessor(st, q, handlers, publisher, log, worker.Options{
				WorkerID:           fmt.Sprintf("%s-%d", workerID, n),
				PollInterval:       cfg.WorkerPollInterval,
				HeartbeatInterval:  cfg.HeartbeatInterval,
				HandlerTimeout:     cfg.HandlerTimeout,
				BackoffInitial:     cfg.BackoffInitial,
				BackoffMax:         cfg.BackoffMax,
				ScheduledBatchSize: int64(cfg.ScheduledBatchSize),
				Dev:                cfg.Dev(),
			})
			if err := p.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("processor stopped", slog.String("error", err.Error()))
			}
		}(i)
	}
	wg.Wait()
	log.Info("worker drained")
}
