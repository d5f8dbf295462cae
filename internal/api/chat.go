package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/rundy/internal/chat"
	"github.com/lalith-99/rundy/internal/middleware"
	"github.com/lalith-99/rundy/internal/models"
	"go.uber.org/zap"
)

// ChatHandler serves a match chat over plain HTTP. Each request gets its
// own short-lived synchronizer; live updates go through the WebSocket
// endpoint instead.
type ChatHandler struct {
	chats  *chat.Opener
	logger *zap.Logger
}

func NewChatHandler(chats *chat.Opener, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chats: chats, logger: logger}
}

type sendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

type chatResponse struct {
	Messages []models.ChatMessage `json:"messages"`
	Unread   int                  `json:"unread"`
}

// List handles GET /v1/matches/:id/messages
func (h *ChatHandler) List(c *gin.Context) {
	matchID, ok := matchIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	feed, err := h.chats.Open(ctx, middleware.GetSession(c), matchID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer feed.Close()

	if err := feed.Load(ctx); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, chatResponse{Messages: feed.Messages(), Unread: feed.UnreadCount()})
}

// Send handles POST /v1/matches/:id/messages
func (h *ChatHandler) Send(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	matchID, ok := matchIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	feed, err := h.chats.Open(ctx, middleware.GetSession(c), matchID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer feed.Close()

	msg, err := feed.Send(ctx, req.Message)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
