package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"council/internal/handlers/dto"
	"council/internal/middleware"
	"council/internal/service"
)

type ProposalHandler struct {
	rooms  *service.Rooms
	voting *service.Voting
}

func NewProposalHandler(rooms *service.Rooms, voting *service.Voting) *ProposalHandler {
	return &ProposalHandler{rooms: rooms, voting: voting}
}

// gate checks that the room exists and the caller is a member (admin when
// admin is set). A missing room maps to not-found rather than forbidden.
// The engine itself never authorizes; this is the orchestration boundary
// doing it.
func (h *ProposalHandler) gate(c *gin.Context, roomID string, admin bool) bool {
	user := middleware.Identity(c)
	var err error
	if admin {
		err = h.rooms.RequireAdmin(c.Request.Context(), roomID, user.ID)
	} else {
		err = h.rooms.RequireMember(c.Request.Context(), roomID, user.ID)
	}
	if err != nil {
		respondServiceError(c, err)
		return false
	}
	return true
}

func parseProposalID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("pid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proposal id"})
		return uuid.Nil, false
	}
	return id, true
}

// List returns the room's proposals after the lazy expiry sweep.
func (h *ProposalHandler) List(c *gin.Context) {
	roomID := c.Param("id")
	if !h.gate(c, roomID, false) {
		return
	}

	proposals, err := h.voting.ListProposals(c.Request.Context(), roomID, c.Query("status") == "active")
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals})
}

// Create opens a new proposal. Admin only.
func (h *ProposalHandler) Create(c *gin.Context) {
	user := middleware.Identity(c)
	roomID := c.Param("id")
	if !h.gate(c, roomID, true) {
		return
	}

	var req dto.CreateProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	proposal, err := h.voting.CreateProposal(c.Request.Context(), roomID, req.Title, req.Description, req.Options, user.ID, req.DurationHours)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, proposal)
}

// Vote casts or replaces the caller's vote.
func (h *ProposalHandler) Vote(c *gin.Context) {
	user := middleware.Identity(c)
	roomID := c.Param("id")
	if !h.gate(c, roomID, false) {
		return
	}
	proposalID, ok := parseProposalID(c)
	if !ok {
		return
	}

	var req dto.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	optionID, _ := uuid.Parse(req.OptionID)

	if err := h.voting.CastVote(c.Request.Context(), roomID, proposalID, user.ID, optionID); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "vote recorded"})
}

// Close ends voting, announces the outcome in the message log and returns
// the final tally. Admin only; closing twice is a no-op success.
func (h *ProposalHandler) Close(c *gin.Context) {
	user := middleware.Identity(c)
	roomID := c.Param("id")
	proposalID, ok := parseProposalID(c)
	if !ok {
		return
	}

	proposal, results, err := h.rooms.CloseProposal(c.Request.Context(), roomID, user.ID, proposalID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": proposal, "results": results})
}

// Results returns the current tally without changing any state beyond the
// expiry sweep.
func (h *ProposalHandler) Results(c *gin.Context) {
	roomID := c.Param("id")
	if !h.gate(c, roomID, false) {
		return
	}
	proposalID, ok := parseProposalID(c)
	if !ok {
		return
	}

	results, err := h.voting.ComputeResults(c.Request.Context(), roomID, proposalID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}
