package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kinloop/backend/internal/api/handlers"
	"github.com/kinloop/backend/internal/cache/redis"
	"github.com/kinloop/backend/internal/enrich"
	"github.com/kinloop/backend/internal/fetch"
	"github.com/kinloop/backend/internal/llm"
	"github.com/kinloop/backend/internal/metrics"
	"github.com/kinloop/backend/internal/middleware/ratelimit"
	"github.com/kinloop/backend/internal/middleware/validation"
	"github.com/kinloop/backend/internal/search/smart"
	"github.com/kinloop/backend/internal/search/web"
	"github.com/kinloop/backend/internal/storage/sqlite"
	"github.com/kinloop/backend/pkg/config"
	appLogger "github.com/kinloop/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Kinloop enrichment API server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// Redis is optional: without it, search results go uncached and runs go
	// unserialized. Both degrade, neither blocks startup.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without cache or run locks", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	searchClient := web.NewClient(
		cfg.Search.APIKey,
		cfg.Search.EngineID,
		cfg.Search.MaxResults,
		redisClient,
		time.Duration(cfg.Search.CacheTTLMin)*time.Minute,
	)

	fetcher := fetch.NewFetcher(
		time.Duration(cfg.Fetch.TimeoutMS)*time.Millisecond,
		cfg.Fetch.MaxChars,
	)

	extractor := enrich.NewExtractor(llmClient)

	opts := enrich.Options{
		MaxCandidates: cfg.Enrich.MaxCandidates,
		MaxFetchPages: cfg.Fetch.MaxPages,
		SearchBudget:  time.Duration(cfg.Search.BatchBudgetMS) * time.Millisecond,
		LockTTL:       time.Duration(cfg.Enrich.LockTTLSec) * time.Second,
	}

	var locker enrich.Locker
	if redisClient != nil {
		locker = redisClient
	}

	pipeline := enrich.NewPipeline(sqliteClient, searchClient, fetcher, extractor, locker, opts)
	analyzer := enrich.NewAnalyzer(sqliteClient, searchClient, fetcher, extractor, locker, opts)
	smartEngine := smart.NewEngine(sqliteClient, llmClient)

	scheduler := enrich.NewScheduler(
		sqliteClient,
		analyzer,
		cfg.Enrich.BatchSize,
		time.Duration(cfg.Enrich.StaleAfterDays)*24*time.Hour,
		time.Duration(cfg.Enrich.BatchPacingMS)*time.Millisecond,
	)
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go scheduler.Start(schedulerCtx, time.Duration(cfg.Enrich.SchedulerIntervalMin)*time.Minute)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: 30})
	defer limiter.Stop()

	contactHandler := handlers.NewContactHandler(pipeline, analyzer, sqliteClient)
	searchHandler := handlers.NewSearchHandler(smartEngine)
	wsHandler := handlers.NewWebSocketHandler(analyzer)

	api := app.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{}))

	api.Post("/contacts/:id/enrich", contactHandler.Enrich)
	api.Post("/contacts/:id/analyze", contactHandler.AnalyzeHistory)
	api.Post("/contacts/:id/interactions", contactHandler.LogInteraction)
	api.Post("/contacts/:id/deep-analyze", contactHandler.DeepAnalyze)
	api.Post("/contacts/:id/clear-ai", contactHandler.ClearAI)
	api.Post("/search/smart", searchHandler.SmartSearch)

	api.Use("/contacts/:id/deep-analyze/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/contacts/:id/deep-analyze/ws", websocket.New(wsHandler.HandleDeepAnalyze))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	stopScheduler()
	app.Shutdown()
	appLogger.Info("Server stopped")
}
