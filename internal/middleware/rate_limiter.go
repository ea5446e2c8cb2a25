package middleware

import (
	"net/http"
	"strconv"
	"time"

	"pettycash/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "pettycash:ratelimit"

// RateLimiter is a per-IP fixed-window limiter. Counters live in Redis when
// a client is given, so every instance shares the same window.
type RateLimiter struct {
	lim *limiter.Limiter
}

// NewRateLimiter allows limit requests per IP per window. rdb may be nil.
func NewRateLimiter(limit int, window time.Duration, rdb *redis.Client) (*RateLimiter, error) {
	var (
		store limiter.Store
		err   error
	)
	if rdb != nil {
		store, err = sredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: rateLimitPrefix})
		if err != nil {
			return nil, err
		}
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: rateLimitPrefix, CleanUpInterval: 5 * time.Minute})
	}
	rate := limiter.Rate{Period: window, Limit: int64(limit)}
	return &RateLimiter{lim: limiter.New(store, rate)}, nil
}

// Middleware rejects requests over the limit with 429. A store failure lets
// the request through.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		lc, err := l.lim.Get(c.Request.Context(), ip)
		if err != nil {
			log.Warn().Err(err).Str("ip", ip).Msg("rate limiter unavailable")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lc.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lc.Remaining, 10))
		if lc.Reached {
			c.Header("Retry-After", time.Unix(lc.Reset, 0).UTC().Format(http.TimeFormat))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New("too many requests, try again shortly"))
			return
		}
		c.Next()
	}
}
