package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lalith-99/rundy/internal/chat"
	"github.com/lalith-99/rundy/internal/match"
	"github.com/lalith-99/rundy/internal/metrics"
	"github.com/lalith-99/rundy/internal/middleware"
	"github.com/lalith-99/rundy/internal/profile"
	"github.com/lalith-99/rundy/internal/repository"
	"github.com/lalith-99/rundy/internal/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	JWTSecret   string
	TokenTTL    time.Duration
	CORSOrigins []string

	Users    repository.UserRepository
	Profiles repository.ProfileRepository

	Matches     *match.Service
	ProfileSvc  *profile.Service
	Chats       *chat.Opener
	RateLimiter *middleware.RateLimiter

	// Health reports whether the data store is reachable. Nil means always
	// healthy.
	Health func(ctx context.Context) error

	Logger *zap.Logger
}

// SetupRouter registers every route on a new gin engine.
func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(metrics.GinMiddleware())
	r.Use(cors.New(corsConfig(d.CORSOrigins)))

	// Health check is PUBLIC so load balancers can probe it.
	r.GET("/v1/health", healthHandler(d.Health))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := NewAuthHandler(d.Users, d.Profiles, d.JWTSecret, d.TokenTTL, d.Logger)
	public := r.Group("/v1/auth")
	if d.RateLimiter != nil {
		public.Use(d.RateLimiter.Middleware())
	}
	public.POST("/signup", authHandler.Signup)
	public.POST("/login", authHandler.Login)

	// Everything else requires a valid JWT. The rate limiter runs after
	// auth so it can key on the user.
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(d.JWTSecret))
	if d.RateLimiter != nil {
		v1.Use(d.RateLimiter.Middleware())
	}

	matchHandler := NewMatchHandler(d.Matches, d.Logger)
	v1.GET("/matches", matchHandler.List)
	v1.GET("/matches/future", matchHandler.Future)
	v1.GET("/matches/past", matchHandler.Past)
	v1.GET("/matches/available", matchHandler.Available)
	v1.POST("/matches", matchHandler.Create)
	v1.GET("/matches/:id", matchHandler.GetByID)
	v1.DELETE("/matches/:id", matchHandler.Delete)
	v1.POST("/matches/:id/join", matchHandler.Join)
	v1.POST("/matches/:id/leave", matchHandler.Leave)

	chatHandler := NewChatHandler(d.Chats, d.Logger)
	v1.GET("/matches/:id/messages", chatHandler.List)
	v1.POST("/matches/:id/messages", chatHandler.Send)
	v1.GET("/matches/:id/chat/ws", ws.NewHandler(d.Chats, d.CORSOrigins, d.Logger).Serve)

	profileHandler := NewProfileHandler(d.ProfileSvc, d.Logger)
	v1.GET("/profile", profileHandler.GetMe)
	v1.PATCH("/profile", profileHandler.UpdateMe)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func healthHandler(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
