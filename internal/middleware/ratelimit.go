package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	redisstore "mailecho/backend/internal/storage/redis"
)

// RateLimit 基于 Redis 计数窗口的按 IP 限流。
// limiter 为 nil 时直接放行，Redis 故障时也放行，
// 限流只是保护层，不能成为单点。
func RateLimit(limiter *redisstore.RateLimiter, limit int64, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		count, err := limiter.Increment(c.Request.Context(), c.ClientIP(), window)
		if err != nil {
			log.Warn("rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		if count > limit {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "too many requests",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
