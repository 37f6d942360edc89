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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/conect2ai/mmcloud-agent-development/server/advisor"
	"github.com/conect2ai/mmcloud-agent-development/server/behavior"
	"github.com/conect2ai/mmcloud-agent-development/server/cache"
	"github.com/conect2ai/mmcloud-agent-development/server/config"
	"github.com/conect2ai/mmcloud-agent-development/server/handlers"
	"github.com/conect2ai/mmcloud-agent-development/server/hazards"
	"github.com/conect2ai/mmcloud-agent-development/server/middleware"
	"github.com/conect2ai/mmcloud-agent-development/server/models"
	"github.com/conect2ai/mmcloud-agent-development/server/orchestrator"
	"github.com/conect2ai/mmcloud-agent-development/server/sensors"
	"github.com/conect2ai/mmcloud-agent-development/server/triplog"
)

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	config      *config.Config
	engine      *behavior.Engine
	index       *hazards.Index
	runtime     *advisor.Runtime
	trip        *triplog.Log
	orch        *orchestrator.Orchestrator
	scheduler   *orchestrator.SafetyScheduler
	source      sensors.Source
	hub         *handlers.WebSocketHandler
	telemetry   *handlers.TelemetryHandler
	cache       cache.Cache
	rateLimiter *middleware.RateLimiter
	latest      *latestState
}

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	var logger *zap.Logger
	var err error

	if cfg.Logging.Format == "json" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	// Validate configuration
	if err := cfg.Validate(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	// Background pipeline: advisory worker, safety polling, sensor ticks.
	loopCtx, loopCancel := context.WithCancel(context.Background())
	server.orch.Start()
	go server.scheduler.Run(loopCtx)
	go server.runTickLoop(loopCtx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment),
			zap.String("trip_log", server.trip.Path()))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop producing ticks and advisories before tearing anything down.
	loopCancel()
	server.orch.Stop()

	if server.rateLimiter != nil {
		server.rateLimiter.Shutdown()
	}

	if server.cache != nil {
		if err := server.cache.Close(); err != nil {
			logger.Error("Failed to close cache", zap.Error(err))
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Try Redis first, fallback to memory cache
	var cacheInstance cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(
			cfg.Redis.Addr,
			cfg.Redis.Password,
			cfg.Redis.DB,
			5*time.Minute,
			logger,
		)
		if err != nil {
			logger.Warn("Failed to connect to Redis, using memory cache", zap.Error(err))
			cacheInstance = cache.NewMemoryCache(1000, 5*time.Minute, logger)
		} else {
			cacheInstance = redisCache
		}
	} else {
		cacheInstance = cache.NewMemoryCache(1000, 5*time.Minute, logger)
	}

	index, err := hazards.Load(cfg.Hazards.AccidentsCSV, cfg.Hazards.FinesCSV, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load hazard datasets: %w", err)
	}

	engine, err := behavior.NewEngine(behavior.Config{
		Dimension:    2,
		MaxClusters:  cfg.Behavior.MaxClusters,
		OutlierSigma: cfg.Behavior.OutlierSigma,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create behavior engine: %w", err)
	}

	var runtime *advisor.Runtime
	if cfg.Advisor.Enabled && cfg.Advisor.URL != "" {
		runtime = advisor.NewRuntime(advisor.RuntimeConfig{
			URL:         cfg.Advisor.URL,
			MaxTokens:   cfg.Advisor.MaxTokens,
			Temperature: cfg.Advisor.Temperature,
			Timeout:     cfg.Advisor.Timeout,
		}, logger)
	}

	trip, err := triplog.New(cfg.TripLog.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create trip log: %w", err)
	}

	hub := handlers.NewWebSocketHandler(logger)
	latest := &latestState{}

	server := &Server{
		logger:  logger,
		config:  cfg,
		engine:  engine,
		index:   index,
		runtime: runtime,
		trip:    trip,
		hub:     hub,
		cache:   cacheInstance,
		latest:  latest,
		source:  sensors.NewSimulator(cfg.Sensors.SimSeed, cfg.Sensors.OriginLat, cfg.Sensors.OriginLon),
	}

	telemetry := handlers.NewTelemetryHandler(engine, index, latest.Payload, hub, logger)
	server.telemetry = telemetry

	safetyFn := func(ctx context.Context, lat, lon, radiusM float64) []models.Alert {
		return index.NearbyAlerts(lat, lon, radiusM)
	}

	server.orch = orchestrator.New(orchestrator.Config{
		MinInterval:   cfg.Advisory.MinInterval,
		SafetyTimeout: cfg.Advisory.SafetyTimeout,
		SafetyRadiusM: cfg.Advisory.SafetyRadiusM,
		MaxAttempts:   cfg.Advisory.MaxAttempts,
		QueueSize:     cfg.Advisory.QueueSize,
	}, server.assessBehavior, safetyFn, server.generateAdvice, server.onAdvisoryResult, logger)

	server.scheduler = orchestrator.NewSafetyScheduler(orchestrator.SchedulerConfig{
		Interval:     cfg.Safety.Interval,
		HotInterval:  cfg.Safety.HotInterval,
		AlertBackoff: cfg.Safety.AlertBackoff,
	}, server.orch, server.assessBehavior, safetyFn, latest.Processed, cacheInstance, logger)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)
	server.rateLimiter = rateLimiter

	// Setup router
	router := gin.New()

	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(1 << 20))

	setupRoutes(router, hub, telemetry, rateLimiter)
	server.router = router

	return server, nil
}

func setupRoutes(router *gin.Engine, hub *handlers.WebSocketHandler, telemetry *handlers.TelemetryHandler, rateLimiter *middleware.RateLimiter) {
	// Health check
	router.GET("/health", middleware.HealthCheck())

	// WebSocket endpoint, tighter budget since connections should be rare
	router.GET("/ws", rateLimiter.RateLimitWithConfig(5, 10), hub.HandleWebSocket)

	api := router.Group("/api/v1")
	api.Use(rateLimiter.RateLimit())
	{
		api.GET("/health", middleware.HealthCheck())
		api.GET("/latest", telemetry.GetLatest)
		api.GET("/stats", telemetry.GetStats)
		api.GET("/hazards", telemetry.QueryHazards)
		api.GET("/clusters", telemetry.GetClusters)
	}
}
