package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"council/internal/handlers/dto"
	"council/internal/middleware"
	"council/internal/service"
)

type RoomHandler struct {
	rooms *service.Rooms
}

func NewRoomHandler(rooms *service.Rooms) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

// CreateRoom makes a new room with the caller as its admin member.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	user := middleware.Identity(c)

	var req dto.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), user, req.Title, req.Persona)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// GetRoom returns the full polling payload: room, members, recent messages,
// proposals and who is typing.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	user := middleware.Identity(c)

	state, err := h.rooms.RoomState(c.Request.Context(), c.Param("id"), user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// UpdateRoom handles rename (admin only) and persona switch (any member).
func (h *RoomHandler) UpdateRoom(c *gin.Context) {
	user := middleware.Identity(c)
	roomID := c.Param("id")

	var req dto.UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Title != nil {
		if _, err := h.rooms.RenameRoom(c.Request.Context(), roomID, user.ID, *req.Title); err != nil {
			respondServiceError(c, err)
			return
		}
	}
	if req.Persona != nil {
		if _, err := h.rooms.SwitchPersona(c.Request.Context(), roomID, user.ID, *req.Persona); err != nil {
			respondServiceError(c, err)
			return
		}
	}

	state, err := h.rooms.RoomState(c.Request.Context(), roomID, user.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, state.Room)
}

// DeleteRoom removes the room and all of its content. Admin only.
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	user := middleware.Identity(c)

	if err := h.rooms.DeleteRoom(c.Request.Context(), c.Param("id"), user.ID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "room deleted"})
}

// JoinRoom adds the caller to the room as a member.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	user := middleware.Identity(c)

	if err := h.rooms.JoinRoom(c.Request.Context(), c.Param("id"), user.ID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "joined room"})
}

// LeaveRoom deactivates the caller's membership.
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	user := middleware.Identity(c)

	if err := h.rooms.LeaveRoom(c.Request.Context(), c.Param("id"), user); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left room"})
}

// PostMessage records a chat turn. When a persona is addressed, the
// narration reply (or the unavailable notice) comes back in the same
// response.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	user := middleware.Identity(c)

	var req dto.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.rooms.PostMessage(c.Request.Context(), c.Param("id"), user, req.Content, req.Persona)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Resolve maps a room id or narration-session alias to the canonical room
// id, for the external facts tool.
func (h *RoomHandler) Resolve(c *gin.Context) {
	roomID, err := h.rooms.ResolveRoomID(c.Request.Context(), c.Param("alias"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}
