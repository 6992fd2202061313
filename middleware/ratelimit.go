package middleware

import (
	"net/http"

	"devconnect/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimit rejects clients that exceed limiter's budget for their IP.
func RateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
