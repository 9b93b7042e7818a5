package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"council/internal/database"
	"council/internal/models"
	"council/pkg/auth"
)

const IdentityKey = "identity"

// AuthMiddleware verifies the bearer token against the JWT manager and the
// redis blacklist, then resolves the full identity row so downstream
// handlers receive (userID, displayName, isActive) and never touch
// credentials themselves. Deactivated accounts are rejected here.
func AuthMiddleware(jwtManager *auth.JWTManager, redisClient *redis.Client, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			c.Abort()
			return
		}

		exists, err := redisClient.Exists(context.Background(), "blacklist:"+token).Result()
		if err != nil || exists > 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token is blacklisted"})
			c.Abort()
			return
		}

		claims, err := jwtManager.Verify(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user id"})
			c.Abort()
			return
		}

		var user models.User
		err = store.DB(c.Request.Context()).First(&user, "id = ?", userID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			c.Abort()
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "identity lookup failed"})
			c.Abort()
			return
		}
		if !user.IsActive {
			c.JSON(http.StatusForbidden, gin.H{"error": "account is deactivated"})
			c.Abort()
			return
		}

		c.Set(IdentityKey, &user)
		c.Next()
	}
}

// Identity returns the resolved user set by AuthMiddleware.
func Identity(c *gin.Context) *models.User {
	return c.MustGet(IdentityKey).(*models.User)
}
