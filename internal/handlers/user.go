package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"council/internal/middleware"
	"council/internal/service"
)

type UserHandler struct {
	ledger *service.Ledger
}

func NewUserHandler(ledger *service.Ledger) *UserHandler {
	return &UserHandler{ledger: ledger}
}

// GetMe returns the resolved identity of the caller.
func (h *UserHandler) GetMe(c *gin.Context) {
	user := middleware.Identity(c)
	c.JSON(http.StatusOK, gin.H{
		"id":            user.ID,
		"handle":        user.Handle,
		"display_name":  user.DisplayName,
		"is_active":     user.IsActive,
		"last_login_at": user.LastLoginAt,
		"created_at":    user.CreatedAt,
	})
}

// ListMyRooms returns the caller's rooms, most recently active first.
func (h *UserHandler) ListMyRooms(c *gin.Context) {
	user := middleware.Identity(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	rooms, err := h.ledger.ListRoomsForUser(c.Request.Context(), user.ID, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}
