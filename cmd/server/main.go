package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"backtest-api/internal/api/handlers"
	"backtest-api/internal/api/middleware"
	"backtest-api/internal/config"
	"backtest-api/internal/core"
	"backtest-api/internal/history"
	"backtest-api/internal/processors"
	"backtest-api/internal/webhook"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(cfg *config.Config) error {
	historyStore, err := history.Open(history.Config{
		Path:          cfg.History.Path,
		RetentionDays: cfg.History.RetentionDays,
	})
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer historyStore.Close()

	limiter := core.NewRateLimiter(core.RateLimiterConfig{
		MaxRequestsPerWindow: cfg.Limiter.MaxRequestsPerMinute,
		Window:               cfg.Limiter.Window,
		MaxConcurrentPerUser: cfg.Limiter.MaxConcurrentJobsUser,
		CleanupInterval:      cfg.Limiter.CleanupInterval,
	})

	jitter := core.NewJitterController(core.JitterConfig{
		Enabled:   cfg.Jitter.Enabled,
		MaxDelay:  cfg.Jitter.MaxDelay,
		DepthStep: cfg.Jitter.DepthStep,
	})

	store := core.NewJobStore(core.JobStoreConfig{
		MaxQueueSize:     cfg.Queue.MaxQueueSize,
		JobExpiration:    cfg.Queue.JobExpiration,
		ConcurrencyLimit: cfg.Queue.GlobalConcurrencyLimit,
	})

	registry := core.NewProcessorRegistry()
	processors.Register(registry)
	log.Printf("registered job types: %v", registry.Types())

	scheduler := core.NewScheduler(store, registry, core.SchedulerConfig{
		ConcurrencyLimit: cfg.Queue.GlobalConcurrencyLimit,
	})

	service := core.NewService(limiter, jitter, store, scheduler)

	sender := webhook.NewSender(webhook.Config{
		Endpoints:   cfg.Webhooks.Endpoints,
		Secret:      cfg.Webhooks.Secret,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.WorkerCount,
		QueueSize:   cfg.Webhooks.QueueSize,
	})

	store.OnTerminal(historyStore.Append)
	store.OnTerminal(sender.NotifyTerminal)

	metrics := core.NewMetricsCollector(store, limiter, scheduler, cfg.Queue.MaxQueueSize)

	auth, err := middleware.NewAuth(middleware.AuthConfig{
		AdminPasswordHash: cfg.Admin.PasswordHash,
		TokenDuration:     cfg.Admin.TokenDuration,
	})
	if err != nil {
		return fmt.Errorf("failed to init auth: %w", err)
	}

	limiter.Start()
	store.Start()
	scheduler.Start()
	sender.Start()
	historyStore.Start()
	defer func() {
		sender.Stop()
		scheduler.Stop()
		store.Stop()
		limiter.Stop()
	}()

	router := gin.Default()

	api := router.Group("/api")
	api.Use(auth.Identity())

	handlers.NewJobHandler(service).RegisterRoutes(api)
	handlers.NewSystemHandler(metrics).RegisterRoutes(api)

	api.POST("/admin/login", auth.LoginHandler)
	api.POST("/admin/logout", auth.LogoutHandler)

	admin := api.Group("/admin")
	admin.Use(auth.RequireAdmin())
	handlers.NewAdminHandler(metrics, historyStore).RegisterRoutes(admin)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on :%d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	return nil
}
