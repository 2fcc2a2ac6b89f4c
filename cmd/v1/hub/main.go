package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/huddlekit/signaling/internal/v1/admin"
	"github.com/huddlekit/signaling/internal/v1/bus"
	"github.com/huddlekit/signaling/internal/v1/config"
	"github.com/huddlekit/signaling/internal/v1/logging"
	"github.com/huddlekit/signaling/internal/v1/middleware"
	"github.com/huddlekit/signaling/internal/v1/ratelimit"
	"github.com/huddlekit/signaling/internal/v1/registry"
	"github.com/huddlekit/signaling/internal/v1/tracing"
	"github.com/huddlekit/signaling/internal/v1/transport"
)

const serviceName = "signaling-hub"

func main() {
	ctx := context.Background()

	// Load .env for local development. Try multiple paths to handle the
	// different ways of running the binary.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal(ctx, "Environment validation failed", zap.Error(err))
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		logging.Fatal(ctx, "Failed to initialize logger", zap.Error(err))
	}
	defer func() { _ = logging.GetLogger().Sync() }()

	if cfg.DevelopmentMode {
		logging.Info(ctx, "Running in DEVELOPMENT MODE")
	}

	// --- Tracing (Optional) ---
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.CollectorAddr)
		if err != nil {
			logging.Error(ctx, "Failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
			logging.Info(ctx, "Tracing initialized", zap.String("collector", cfg.CollectorAddr))
		}
	}

	// --- Redis Bus Initialization (Optional) ---
	var busService *bus.Service
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(ctx, "Failed to connect to Redis, running in single-instance mode", zap.Error(err))
			busService = nil
		} else {
			logging.Info(ctx, "Redis pub/sub initialized for distributed messaging", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logging.Info(ctx, "Running in single-instance mode (Redis disabled)")
	}

	// The rate limiter shares the bus's Redis client when available so
	// counters survive restarts; otherwise it falls back to in-memory.
	var redisClient *redis.Client
	if busService != nil {
		redisClient = busService.Client()
	}
	limiter, err := ratelimit.New(cfg.RateLimitWsIP, redisClient)
	if err != nil {
		logging.Fatal(ctx, "Failed to initialize rate limiter", zap.Error(err))
	}

	// --- Registry, Sweeper, Hub ---
	reg := registry.New(cfg.MaxParticipants)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sweeper := registry.NewSweeper(reg, cfg.SweepInterval, cfg.RoomIdleTimeout)
	go sweeper.Run(sweepCtx)

	hub := transport.NewHub(reg, cfg, limiter, busService)

	// --- HTTP Surface ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Origins()
	router.Use(cors.New(corsConfig))

	// Both paths serve the same endpoint; /socket.io/ keeps older clients
	// working without an engine.io handshake.
	router.GET("/socket.io/", hub.ServeWs)
	router.GET("/ws/hub", hub.ServeWs)

	adminHandler := admin.NewHandler(reg, busService)
	router.GET("/health", adminHandler.Health)
	router.GET("/health/live", adminHandler.Health)
	router.GET("/health/ready", adminHandler.Readiness)
	router.GET("/stats", adminHandler.Stats)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	go func() {
		logging.Info(ctx, "Signaling hub starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Failed to run server", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopSweeper()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Error during hub shutdown", zap.Error(err))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Server forced to shutdown", zap.Error(err))
	}

	if busService != nil {
		if err := busService.Close(); err != nil {
			logging.Error(ctx, "Failed to close Redis connection", zap.Error(err))
		}
	}

	logging.Info(ctx, "Server exiting")
}
