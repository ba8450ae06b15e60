// Command server wires up the substrate (validator, session store, room
// registry, plugin registry, connection hub, lifecycle coordinator) and
// the TickEngine/trivia plugins behind a gin HTTP router, then serves the
// WebSocket upgrade route and the read-only admin surface until signaled
// to shut down.
package main

import (
	"context"
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
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/ennuiii/gamebuddies-server/internal/admin"
	"github.com/ennuiii/gamebuddies-server/internal/config"
	"github.com/ennuiii/gamebuddies-server/internal/games/lightcycles"
	"github.com/ennuiii/gamebuddies-server/internal/games/trivia"
	"github.com/ennuiii/gamebuddies-server/internal/hub"
	"github.com/ennuiii/gamebuddies-server/internal/lifecycle"
	"github.com/ennuiii/gamebuddies-server/internal/logging"
	"github.com/ennuiii/gamebuddies-server/internal/metrics"
	"github.com/ennuiii/gamebuddies-server/internal/middleware"
	"github.com/ennuiii/gamebuddies-server/internal/platform"
	"github.com/ennuiii/gamebuddies-server/internal/platformauth"
	"github.com/ennuiii/gamebuddies-server/internal/plugin"
	"github.com/ennuiii/gamebuddies-server/internal/ratelimit"
	"github.com/ennuiii/gamebuddies-server/internal/roomregistry"
	"github.com/ennuiii/gamebuddies-server/internal/sessionstore"
	"github.com/ennuiii/gamebuddies-server/internal/tracing"
)

const serviceName = "gamebuddies-server"

func main() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment file", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.NodeEnv != "production"); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if collector := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); collector != "" {
		tp, err := tracing.InitTracer(ctx, serviceName, collector)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize tracer provider", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}

	limiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	var authValidator platformauth.TokenValidator = platformauth.NoopValidator{}
	if cfg.PlatformJWKSURL != "" {
		v, err := platformauth.NewValidator(ctx, cfg.PlatformJWKSURL, cfg.PlatformIssuer, cfg.PlatformAudience)
		if err != nil {
			logging.Fatal(ctx, "failed to initialize platform token validator", zap.Error(err))
		}
		authValidator = v
		logging.Info(ctx, "platform launch-token verification enabled", zap.String("jwks_url", cfg.PlatformJWKSURL))
	}

	rooms := roomregistry.New()
	defer rooms.Stop()

	sessions := sessionstore.New()
	defer sessions.Stop()

	plugins := plugin.NewRegistry()
	defer plugins.Destroy()

	platformClient := platform.New(cfg.PlatformBaseURL)

	connHub := hub.New(nil, limiter, cfg.CORSOrigins)
	coordinator := lifecycle.NewCoordinator(rooms, sessions, plugins, connHub, platformClient, limiter, authValidator)
	connHub.SetDispatcher(coordinator)

	if err := plugins.Register(lightcycles.New(), connHub); err != nil {
		logging.Fatal(ctx, "failed to register lightcycles plugin", zap.Error(err))
	}
	if err := plugins.Register(trivia.New(), connHub); err != nil {
		logging.Fatal(ctx, "failed to register trivia plugin", zap.Error(err))
	}

	reporter := metrics.NewReporter(metrics.Snapshot{
		ConnectionCount: connHub.ActiveConnectionCount,
		RoomCount:       rooms.RoomCount,
	})
	reporter.Start(ctx)
	defer reporter.Stop()

	if cfg.NodeEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowCredentials = len(cfg.CORSOrigins) > 0
	router.Use(cors.New(corsCfg))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", connHub.ServeWS)

	adminGroup := router.Group("/")
	adminGroup.Use(limiter.AdminAPIMiddleware())
	admin.NewHandler(rooms, plugins, platformClient).Register(adminGroup)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "listener failed to bind", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(context.Background(), "graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
}
