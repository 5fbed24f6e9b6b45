// Package ratelimit keeps per-client request budgets in Redis so limits hold
// across API replicas.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/museai/lora-api/cmd/server/internal/response"
	"github.com/museai/lora-api/internal/logger"
)

const (
	keyPrefix    = "loraapi-ratelimit-"
	window       = 60 * time.Second
	redisTimeout = 2 * time.Second
)

var _ middleware.RateLimiterStore = (*RedisLimiterStore)(nil)

type RedisLimiterStore struct {
	db         *redis.Client
	limiterKey string
	perMinute  int64
	failOpen   bool
}

type RedisLimiterConfig struct {
	RedisClient *redis.Client
	LimiterKey  string
	PerMinute   int64
	FailOpen    bool
}

func (store *RedisLimiterStore) Allow(identifier string) (bool, error) {
	// This method might let N-1 extra requests in due to race condition where N is the possible number of concurrent writers
	// This is a smaller concern than the possibility that we will lose a distributed lock

	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	key := keyPrefix + store.limiterKey + "-" + identifier

	reqsLeftStr, err := store.db.Get(ctx, key).Result()

	if err == nil {
		reqsLeft := 0

		reqsLeft, err = strconv.Atoi(reqsLeftStr)
		if err != nil {
			return store.failOpen, err
		}

		if reqsLeft <= 0 {
			return false, nil
		}
	} else {
		if !errors.Is(err, redis.Nil) {
			return store.failOpen, err
		}

		if err := store.db.Set(ctx, key, store.perMinute, window).Err(); err != nil {
			return store.failOpen, err
		}
	}

	if err := store.db.Decr(ctx, key).Err(); err != nil {
		return store.failOpen, err
	}

	return true, nil
}

func NewRedisLimitStore(config RedisLimiterConfig) (store *RedisLimiterStore) {
	return &RedisLimiterStore{
		perMinute:  config.PerMinute,
		db:         config.RedisClient,
		limiterKey: config.LimiterKey,
		failOpen:   config.FailOpen,
	}
}

// NewRedisLimiter limits each client IP to perMinute requests. When onlyMethod
// is set other methods pass through untouched.
func NewRedisLimiter(
	rdb *redis.Client,
	limiterKey string,
	perMinute int64,
	failOpen bool,
	onlyMethod *string,
) echo.MiddlewareFunc {
	l := logger.Logger
	l.Debug("Setting up rate limiter with Redis", "limiter", limiterKey, "perMinute", perMinute)

	store := NewRedisLimitStore(RedisLimiterConfig{
		PerMinute:   perMinute,
		RedisClient: rdb,
		LimiterKey:  limiterKey,
		FailOpen:    failOpen,
	})

	skipper := middleware.DefaultSkipper
	if onlyMethod != nil {
		skipper = func(c echo.Context) bool {
			return c.Request().Method != *onlyMethod
		}
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: skipper,
		Store:   store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(_ echo.Context, _ error) error {
			return echo.NewHTTPError(http.StatusForbidden, nil)
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			if err != nil {
				l.ErrorContext(c.Request().Context(), "rate limiter store failed", "limiter", limiterKey, "error", err)
				if !failOpen {
					return response.InternalServerError
				}
			}
			return response.TooManyRequestsError
		},
	})
}
