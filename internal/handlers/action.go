package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"council/internal/handlers/dto"
	"council/internal/middleware"
	"council/internal/service"
)

// ActionHandler is the single room-action endpoint. The body is a
// discriminated union on "action"; dto.ParseAction turns it into a typed
// command exactly once, and this handler only dispatches.
type ActionHandler struct {
	rooms  *service.Rooms
	voting *service.Voting
	ledger *service.Ledger
}

func NewActionHandler(rooms *service.Rooms, voting *service.Voting, ledger *service.Ledger) *ActionHandler {
	return &ActionHandler{rooms: rooms, voting: voting, ledger: ledger}
}

func (h *ActionHandler) Dispatch(c *gin.Context) {
	user := middleware.Identity(c)
	roomID := c.Param("id")
	ctx := c.Request.Context()

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	cmd, err := dto.ParseAction(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch cmd := cmd.(type) {
	case dto.CreateCommand:
		if err := h.rooms.RequireAdmin(ctx, roomID, user.ID); err != nil {
			respondServiceError(c, err)
			return
		}
		proposal, err := h.voting.CreateProposal(ctx, roomID, cmd.Title, cmd.Description, cmd.Options, user.ID, cmd.DurationHours)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, proposal)

	case dto.VoteCommand:
		if err := h.rooms.RequireMember(ctx, roomID, user.ID); err != nil {
			respondServiceError(c, err)
			return
		}
		if err := h.voting.CastVote(ctx, roomID, cmd.ProposalID, user.ID, cmd.OptionID); err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "vote recorded"})

	case dto.CloseCommand:
		proposal, results, err := h.rooms.CloseProposal(ctx, roomID, user.ID, cmd.ProposalID)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"proposal": proposal, "results": results})

	case dto.TypingCommand:
		if err := h.rooms.TouchTyping(ctx, roomID, user); err != nil {
			respondServiceError(c, err)
			return
		}
		c.Status(http.StatusNoContent)

	case dto.PresenceCommand:
		if err := h.rooms.RequireMember(ctx, roomID, user.ID); err != nil {
			respondServiceError(c, err)
			return
		}
		if err := h.ledger.TouchPresence(ctx, roomID, user.ID); err != nil {
			respondServiceError(c, err)
			return
		}
		c.Status(http.StatusNoContent)

	case dto.LeaveCommand:
		if err := h.rooms.LeaveRoom(ctx, roomID, user); err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "left room"})

	case dto.BroadcastCommand:
		result, err := h.rooms.PostMessage(ctx, roomID, user, cmd.Content, cmd.Persona)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported action"})
	}
}
