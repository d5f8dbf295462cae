package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/rundy/internal/auth"
	"github.com/lalith-99/rundy/internal/match"
	"github.com/lalith-99/rundy/internal/middleware"
	"github.com/lalith-99/rundy/internal/models"
	"go.uber.org/zap"
)

// MatchHandler exposes match.Service. Mutations reply with the match as
// re-read after the write.
type MatchHandler struct {
	svc    *match.Service
	logger *zap.Logger
}

func NewMatchHandler(svc *match.Service, logger *zap.Logger) *MatchHandler {
	return &MatchHandler{svc: svc, logger: logger}
}

// List handles GET /v1/matches
func (h *MatchHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	sess := middleware.GetSession(c)

	matches, err := h.svc.ListMatches(ctx, sess)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	enriched, err := h.svc.Enrich(ctx, sess, matches)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, enriched)
}

// Future handles GET /v1/matches/future
func (h *MatchHandler) Future(c *gin.Context) {
	h.list(c, h.svc.UserFutureMatches)
}

// Past handles GET /v1/matches/past
func (h *MatchHandler) Past(c *gin.Context) {
	h.list(c, h.svc.UserPastMatches)
}

// Available handles GET /v1/matches/available
func (h *MatchHandler) Available(c *gin.Context) {
	h.list(c, h.svc.AvailableMatches)
}

func (h *MatchHandler) list(c *gin.Context, fetch func(context.Context, auth.Session) ([]models.EnrichedMatch, error)) {
	matches, err := fetch(c.Request.Context(), middleware.GetSession(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, matches)
}

// Create handles POST /v1/matches
func (h *MatchHandler) Create(c *gin.Context) {
	var req match.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.svc.CreateMatch(c.Request.Context(), middleware.GetSession(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// GetByID handles GET /v1/matches/:id
func (h *MatchHandler) GetByID(c *gin.Context) {
	matchID, ok := matchIDParam(c)
	if !ok {
		return
	}

	m, err := h.svc.GetMatchByID(c.Request.Context(), middleware.GetSession(c), matchID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Join handles POST /v1/matches/:id/join
func (h *MatchHandler) Join(c *gin.Context) {
	matchID, ok := matchIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sess := middleware.GetSession(c)

	if err := h.svc.JoinMatch(ctx, sess, matchID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	m, err := h.svc.GetMatchByID(ctx, sess, matchID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Leave handles POST /v1/matches/:id/leave
func (h *MatchHandler) Leave(c *gin.Context) {
	matchID, ok := matchIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sess := middleware.GetSession(c)

	if err := h.svc.LeaveMatch(ctx, sess, matchID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	m, err := h.svc.GetMatchByID(ctx, sess, matchID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Delete handles DELETE /v1/matches/:id
func (h *MatchHandler) Delete(c *gin.Context) {
	matchID, ok := matchIDParam(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteMatch(c.Request.Context(), middleware.GetSession(c), matchID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
