package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BloodRedTape/UtcTracker/internal/api"
	"github.com/BloodRedTape/UtcTracker/internal/auth"
	"github.com/BloodRedTape/UtcTracker/internal/config"
	"github.com/BloodRedTape/UtcTracker/internal/domain"
	"github.com/BloodRedTape/UtcTracker/internal/outbox"
	"github.com/BloodRedTape/UtcTracker/internal/persistence/postgres"
	"github.com/BloodRedTape/UtcTracker/internal/statuscache"
	httptransport "github.com/BloodRedTape/UtcTracker/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewRepository(pool)
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go dispatcher.Start(ctx)

	service := domain.NewService(repo, detectorOptions(cfg), cfg.IdentityAutoCreate)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	cache := statuscache.New(redisClient, cfg.StatusCacheTTL)

	handler := api.NewHandler(service, cache)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	var root http.Handler = mux
	if cfg.RateLimitPerMinute > 0 {
		limiter := api.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		root = limiter.Wrap(root)
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(root)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("presence-tracker api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	dispatcher.Wait()
}

func detectorOptions(cfg config.Config) domain.DetectorOptions {
	return domain.DetectorOptions{
		NoiseThreshold:    time.Duration(cfg.NoiseThresholdSeconds) * time.Second,
		SleepThreshold:    time.Duration(cfg.SleepThresholdHours * float64(time.Hour)),
		MergeGap:          time.Duration(cfg.SleepMergeGapMinutes) * time.Minute,
		AssumedWakeupHour: cfg.AssumedWakeupHour,
	}
}
