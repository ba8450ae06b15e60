// Package ratelimit implements rate limiting for the admin HTTP surface and
// the WebSocket hub, backed by an in-memory store or Redis when configured.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ennuiii/gamebuddies-server/internal/config"
	"github.com/ennuiii/gamebuddies-server/internal/logging"
	"github.com/ennuiii/gamebuddies-server/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds the rate limiter instances for every throttled scope in
// the server: WebSocket connect attempts (by IP), chat messages and game
// turns (by player id), and the admin HTTP API (by IP).
type RateLimiter struct {
	wsConnect *limiter.Limiter
	chat      *limiter.Limiter
	turn      *limiter.Limiter
	adminAPI  *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter builds a RateLimiter from validated config. redisClient may
// be nil, in which case an in-process memory store is used.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsConnectRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWSConnect)
	if err != nil {
		return nil, fmt.Errorf("invalid WS connect rate: %w", err)
	}
	chatRate, err := limiter.NewRateFromFormatted(cfg.RateLimitChat)
	if err != nil {
		return nil, fmt.Errorf("invalid chat rate: %w", err)
	}
	turnRate, err := limiter.NewRateFromFormatted(cfg.RateLimitTurn)
	if err != nil {
		return nil, fmt.Errorf("invalid turn rate: %w", err)
	}
	adminAPIRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAdminAPI)
	if err != nil {
		return nil, fmt.Errorf("invalid admin API rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "gamebuddies:limiter:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "rate limiter using in-process memory store")
	}

	return &RateLimiter{
		wsConnect: limiter.New(store, wsConnectRate),
		chat:      limiter.New(store, chatRate),
		turn:      limiter.New(store, turnRate),
		adminAPI:  limiter.New(store, adminAPIRate),
		store:     store,
	}, nil
}

// AdminAPIMiddleware returns a Gin middleware enforcing the admin API rate
// limit keyed by client IP.
func (rl *RateLimiter) AdminAPIMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := c.ClientIP()

		result, err := rl.adminAPI.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.Reset, 10))

		if result.Reached {
			metrics.RateLimitExceeded.WithLabelValues("admin_api").Inc()
			c.Header("Retry-After", strconv.FormatInt(result.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": result.Reset,
			})
			return
		}

		c.Next()
	}
}

// CheckWebSocketConnect reports whether a new connection from ip is allowed.
func (rl *RateLimiter) CheckWebSocketConnect(ctx context.Context, ip string) bool {
	result, err := rl.wsConnect.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "WS connect rate limiter store failed", zap.Error(err))
		return true
	}
	if result.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect").Inc()
		return false
	}
	return true
}

// CheckChatMessage reports whether playerID may send another chat message.
func (rl *RateLimiter) CheckChatMessage(ctx context.Context, playerID string) bool {
	result, err := rl.chat.Get(ctx, playerID)
	if err != nil {
		logging.Error(ctx, "chat rate limiter store failed", zap.Error(err))
		return true
	}
	if result.Reached {
		metrics.RateLimitExceeded.WithLabelValues("chat").Inc()
		return false
	}
	return true
}

// CheckTurn reports whether playerID may submit another turn. This backs
// the dispatch-edge throttle described for the TickEngine; the simulation
// layer applies its own, tighter per-cycle turnDelay independently.
func (rl *RateLimiter) CheckTurn(ctx context.Context, playerID string) bool {
	result, err := rl.turn.Get(ctx, playerID)
	if err != nil {
		logging.Error(ctx, "turn rate limiter store failed", zap.Error(err))
		return true
	}
	if result.Reached {
		metrics.RateLimitExceeded.WithLabelValues("turn").Inc()
		return false
	}
	return true
}
