package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"healthbridge.app/syncer/common/logger"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

const userIDKey = "user_id"

func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		c.Set(userIDKey, userID)
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{UserID: logger.Ptr(userID)})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
