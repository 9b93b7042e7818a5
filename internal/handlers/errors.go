package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"council/internal/service"
)

// respondServiceError maps service-layer outcomes onto HTTP. Not-found and
// forbidden stay distinguishable (404 vs 403); business-rule rejections
// carry their specific reason; anything unexpected is logged and hidden
// behind a generic 500.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case service.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, service.ErrProposalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotMember), errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrVotingClosed), errors.Is(err, service.ErrInvalidOption),
		errors.Is(err, service.ErrAlreadyClosed), errors.Is(err, service.ErrRoomDeleted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
