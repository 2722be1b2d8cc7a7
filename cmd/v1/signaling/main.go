package main

import (
	"context"
	"errors"
	"log/slog"
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
	"golang.org/x/sync/errgroup"

	"github.com/huddlehq/huddle/internal/v1/api"
	"github.com/huddlehq/huddle/internal/v1/config"
	"github.com/huddlehq/huddle/internal/v1/health"
	"github.com/huddlehq/huddle/internal/v1/janitor"
	"github.com/huddlehq/huddle/internal/v1/logging"
	"github.com/huddlehq/huddle/internal/v1/middleware"
	"github.com/huddlehq/huddle/internal/v1/ratelimit"
	"github.com/huddlehq/huddle/internal/v1/registry"
	"github.com/huddlehq/huddle/internal/v1/roomstore"
	"github.com/huddlehq/huddle/internal/v1/tracing"
	"github.com/huddlehq/huddle/internal/v1/transport"
)

const serviceName = "huddle-signaling"

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv == "development"); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logging.GetLogger().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Tracing (Optional) ---
	tracingEnabled := false
	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.OtelCollectorAddr)
		if err != nil {
			logging.Warn(ctx, "Tracing disabled, collector not reachable", zap.Error(err))
		} else {
			tracingEnabled = true
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(flushCtx)
			}()
			logging.Info(ctx, "✅ Tracing initialized", zap.String("collector", cfg.OtelCollectorAddr))
		}
	}

	// --- Redis (Optional) ---
	// Backs the rate limiter across instances; the server falls back to
	// in-memory limiting when it is absent.
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logging.Warn(ctx, "Redis unreachable, running in single-instance mode", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		} else {
			logging.Info(ctx, "✅ Redis connected", zap.String("addr", cfg.RedisAddr))
			defer func() { _ = redisClient.Close() }()
		}
	} else {
		logging.Info(ctx, "Running in single-instance mode (Redis disabled)")
	}

	// --- Latent room store and registry ---
	store := roomstore.NewFileStore(cfg.RoomsFile, cfg.LatentRoomMaxAge)
	entries, err := store.Load()
	if err != nil {
		logging.Warn(ctx, "Could not load latent rooms, starting empty", zap.Error(err))
	}

	reg := registry.NewRegistry(store, cfg.MaxParticipants, cfg.MaxLatentRooms, cfg.LatentRoomMaxAge)
	if restored := reg.SeedLatentRooms(entries); restored > 0 {
		logging.Info(ctx, "Restored latent rooms", zap.Int("count", restored))
	}

	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "Invalid rate limit configuration", zap.Error(err))
	}

	hub := transport.NewHub(reg, limiter, cfg.Origins())
	apiHandler := api.NewHandler(reg, cfg, version)
	healthHandler := health.NewHandler(redisClient, store)

	// --- Router ---
	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.Use(gin.Recovery())
	if tracingEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}

	corsCfg := cors.DefaultConfig()
	origins := cfg.Origins()
	if len(origins) == 1 && origins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	router.Use(cors.New(corsCfg))

	router.GET("/ws", hub.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", apiHandler.Stats)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/config", apiHandler.ICEConfig)
	router.POST("/api/rooms", limiter.RoomsMiddleware(), apiHandler.CreateRoom)

	if cfg.StaticDir != "" {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.StaticDir))))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Serve until signalled, then drain ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info(gctx, "Signaling server starting",
			zap.String("port", cfg.Port),
			zap.Bool("https", cfg.UseHTTPS),
			zap.String("version", version))

		var err error
		if cfg.UseHTTPS {
			err = srv.ListenAndServeTLS(cfg.SSLCertPath, cfg.SSLKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		jan := janitor.New(reg, cfg.RoomCleanupInterval, cfg.RoomMaxAge)
		if err := jan.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info(context.Background(), "Shutting down server...")

		// The context gives in-flight requests and socket drains 30 seconds
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := hub.Shutdown(shutdownCtx); err != nil {
			logging.Error(shutdownCtx, "Error during hub shutdown", zap.Error(err))
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logging.Error(context.Background(), "Server exited with error", zap.Error(err))
	}
	logging.Info(context.Background(), "Server exiting")
}
