package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"council/internal/database"
	"council/internal/handlers/dto"
	"council/internal/models"
	"council/internal/service"
	"council/pkg/auth"
)

type AuthHandler struct {
	store      *database.Store
	ledger     *service.Ledger
	jwtManager *auth.JWTManager
	redis      *redis.Client
}

func NewAuthHandler(store *database.Store, ledger *service.Ledger, jwtMgr *auth.JWTManager, rdb *redis.Client) *AuthHandler {
	return &AuthHandler{store: store, ledger: ledger, jwtManager: jwtMgr, redis: rdb}
}

// Register creates a user with a hashed password. The handle is normalized
// to lowercase before the unique check.
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot hash password"})
		return
	}

	handle := strings.ToLower(strings.TrimSpace(req.Handle))
	displayName := req.DisplayName
	if displayName == "" {
		displayName = handle
	}
	user := &models.User{
		Handle:       handle,
		DisplayName:  displayName,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	if err := h.store.DB(c.Request.Context()).Create(user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "handle already taken"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "handle": user.Handle})
}

// Login verifies credentials, stamps last login and issues a JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	handle := strings.ToLower(strings.TrimSpace(req.Handle))
	if err := h.store.DB(c.Request.Context()).Where("handle = ?", handle).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !user.IsActive || !auth.VerifyPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if err := h.ledger.TouchLogin(c.Request.Context(), user.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update last login"})
		return
	}

	token, err := h.jwtManager.Generate(user.ID.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Logout blacklists the token in redis until it would have expired anyway.
func (h *AuthHandler) Logout(c *gin.Context) {
	rawToken, err := auth.ExtractTokenFromHeader(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exp, err := h.jwtManager.Expiry(rawToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	// a token at the edge of expiry needs no blacklist entry, and redis
	// rejects non-positive TTLs anyway
	if ttl := time.Until(exp); ttl > 0 {
		if err := h.redis.Set(context.Background(), "blacklist:"+rawToken, 1, ttl).Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not revoke token"})
			return
		}
	}

	c.Status(http.StatusOK)
}
