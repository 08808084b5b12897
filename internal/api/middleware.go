package api

import (
	"net/http"
	"strconv"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const actorKey = "actor"

// requireActor resolves the caller from the identity headers set by the edge
// proxy. Authentication itself happens upstream; this service only consumes
// the resolved identity.
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "UNAUTHORIZED",
			})
			return
		}

		role := models.Role(c.GetHeader("X-User-Role"))
		switch role {
		case models.RoleBuyer, models.RoleSeller, models.RoleAdmin:
		default:
			role = models.RoleBuyer
		}

		c.Set(actorKey, models.Actor{UserID: userID, Role: role})
		c.Next()
	}
}

func getActor(c *gin.Context) models.Actor {
	return c.MustGet(actorKey).(models.Actor)
}

// rateLimit caps calls per user+action within the window. Redis being
// unavailable fails open.
func rateLimit(redis *redisclient.Client, action string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redis == nil {
			c.Next()
			return
		}

		actor := getActor(c)
		allowed, err := redis.Allow(c.Request.Context(), actor.UserID, action, limit, window)
		if err != nil {
			util.GetLogger().Warn("Rate limiter unavailable",
				zap.String("action", action), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "RATE_LIMITED",
			})
			return
		}

		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
