package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/rundy/internal/auth"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/repository"
	"go.uber.org/zap"
)

// AuthHandler handles signup and login, the only public endpoints besides
// health and metrics.
type AuthHandler struct {
	userRepo    repository.UserRepository
	profileRepo repository.ProfileRepository
	jwtSecret   string
	tokenTTL    time.Duration
	logger      *zap.Logger
}

func NewAuthHandler(
	userRepo repository.UserRepository,
	profileRepo repository.ProfileRepository,
	jwtSecret string,
	tokenTTL time.Duration,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		userRepo:    userRepo,
		profileRepo: profileRepo,
		jwtSecret:   jwtSecret,
		tokenTTL:    tokenTTL,
		logger:      logger,
	}
}

type signupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// authResponse is what both signup and login return. The client sends the
// token back as "Authorization: Bearer <token>".
type authResponse struct {
	Token   string          `json:"token"`
	Profile *models.Profile `json:"profile,omitempty"`
}

// Signup handles POST /v1/auth/signup
//
// Creates the credential row and the user's profile, then issues a token.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "full name is required"})
		return
	}

	existing, err := h.userRepo.GetByEmail(ctx, email)
	if err != nil {
		h.logger.Error("failed to check existing user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	user, err := h.userRepo.Create(ctx, email, hash)
	if err != nil {
		// Lost a race with a concurrent signup for the same email.
		if errors.Is(err, repository.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		h.logger.Error("failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	profile, err := h.profileRepo.Create(ctx, models.Profile{
		ID:         user.ID,
		FullName:   fullName,
		Email:      email,
		SkillLevel: models.DefaultSkillLevel,
	})
	if err != nil {
		h.logger.Error("failed to create profile", zap.Stringer("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Email, profile.FullName, h.jwtSecret, h.tokenTTL)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	h.logger.Info("user signed up", zap.Stringer("user_id", user.ID))
	c.JSON(http.StatusCreated, authResponse{Token: token, Profile: profile})
}

// Login handles POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	user, err := h.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		h.logger.Error("failed to find user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	// Same reply for unknown email and wrong password, so the endpoint
	// does not reveal which emails are registered.
	if user == nil || !auth.VerifyPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	// The profile only supplies the display name; a missing one is not
	// fatal.
	profile, err := h.profileRepo.GetByID(ctx, user.ID)
	if err != nil {
		h.logger.Warn("failed to load profile at login", zap.Stringer("user_id", user.ID), zap.Error(err))
	}
	displayName := ""
	if profile != nil {
		displayName = profile.FullName
	}

	token, err := auth.GenerateToken(user.ID, user.Email, displayName, h.jwtSecret, h.tokenTTL)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, authResponse{Token: token, Profile: profile})
}
