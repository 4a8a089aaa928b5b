package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alavescortez-del/gingerai-sub000/internal/backend"
	"github.com/alavescortez-del/gingerai-sub000/internal/classify"
	"github.com/alavescortez-del/gingerai-sub000/internal/config"
	"github.com/alavescortez-del/gingerai-sub000/internal/engine"
	"github.com/alavescortez-del/gingerai-sub000/internal/logger"
	"github.com/alavescortez-del/gingerai-sub000/internal/media"
	"github.com/alavescortez-del/gingerai-sub000/internal/progression"
	"github.com/alavescortez-del/gingerai-sub000/internal/prompts"
	"github.com/alavescortez-del/gingerai-sub000/internal/quota"
	"github.com/alavescortez-del/gingerai-sub000/internal/storage"
	"github.com/alavescortez-del/gingerai-sub000/internal/web"
)

func main() {
	cfgPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync()

	if cfg.AI.Backend.APIKey == "" {
		lg.Warn("no backend API key configured, every turn will fail as unavailable")
	}

	mysqlStore, err := storage.NewMySQLStore(cfg.Database.MySQL)
	if err != nil {
		lg.Fatal("failed to connect to MySQL", "error", err)
	}
	defer mysqlStore.Close()
	lg.Info("MySQL connected")

	redisStore, err := storage.NewRedisStore(cfg.Database.Redis, cfg.Chat.LockTTL)
	if err != nil {
		lg.Fatal("failed to connect to Redis", "error", err)
	}
	defer redisStore.Close()
	lg.Info("Redis connected")

	loc, err := time.LoadLocation(cfg.Chat.Timezone)
	if err != nil {
		lg.Warn("invalid timezone, falling back to UTC", "timezone", cfg.Chat.Timezone)
		loc = time.UTC
	}

	hub := web.NewEventHub(lg)
	go hub.Run()

	orchestrator := engine.NewOrchestrator(engine.Deps{
		Backend:      backend.NewClient(cfg.AI.Backend),
		Classifier:   classify.NewPatternClassifier(),
		Builder:      prompts.NewBuilder(),
		Schedule:     prompts.NewDefaultSchedule(),
		Ledger:       quota.NewLedger(loc),
		Machine:      progression.NewMachine(mysqlStore, lg),
		Selector:     media.NewSelector(mysqlStore, redisStore),
		Catalog:      mysqlStore,
		Progressions: mysqlStore,
		Usage:        mysqlStore,
		Messages:     mysqlStore,
		Locker:       redisStore,
		Applied:      redisStore,
		Notifier:     hub,
		Config: engine.Config{
			HistoryWindow:   cfg.Chat.HistoryWindow,
			MaxBackendCalls: cfg.Chat.MaxBackendCalls,
			Temperature:     cfg.AI.Backend.Temperature,
			MaxTokens:       cfg.AI.Backend.MaxTokens,
		},
		Log: lg,
	})

	handlers := web.NewHandlers(orchestrator, mysqlStore, mysqlStore, hub, lg)
	r := web.NewRouter(cfg, handlers, lg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		lg.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		lg.Error("server shutdown error", "error", err)
	}

	lg.Info("server stopped")
}
