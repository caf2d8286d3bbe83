package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/riskguard/pkg/ratelimit"
)

// RateLimitMiddleware 按客户端 IP 限流，用于运维写接口
func RateLimitMiddleware(limiter ratelimit.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow("ip:" + c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too Many Requests",
			})
			return
		}
		c.Next()
	}
}
