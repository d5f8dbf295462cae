package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/rundy/internal/middleware"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/profile"
	"go.uber.org/zap"
)

type ProfileHandler struct {
	svc    *profile.Service
	logger *zap.Logger
}

func NewProfileHandler(svc *profile.Service, logger *zap.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, logger: logger}
}

type profileResponse struct {
	*models.Profile
	SkillLevelName     string   `json:"skill_level_name"`
	FavoriteSportNames []string `json:"favorite_sport_names"`
}

func newProfileResponse(p *models.Profile) profileResponse {
	return profileResponse{
		Profile:            p,
		SkillLevelName:     p.SkillLevel.DisplayName(),
		FavoriteSportNames: models.FavoriteSportNames(p.FavoriteSports),
	}
}

// GetMe handles GET /v1/profile
//
// A signed-up user always has a profile, but one created outside signup
// may not; that is a 404, not a server error.
func (h *ProfileHandler) GetMe(c *gin.Context) {
	p, err := h.svc.Load(c.Request.Context(), middleware.GetSession(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, newProfileResponse(p))
}

// UpdateMe handles PATCH /v1/profile
func (h *ProfileHandler) UpdateMe(c *gin.Context) {
	var req models.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.svc.Update(c.Request.Context(), middleware.GetSession(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, newProfileResponse(p))
}
