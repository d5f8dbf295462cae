// Package ws mounts a match chat over a WebSocket: one chat.Synchronizer
// per connection, its pushed inserts and unread counter forwarded as
// frames, and the client's send / mark_read frames applied to it.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/rundy/internal/apperr"
	"github.com/lalith-99/rundy/internal/chat"
	"github.com/lalith-99/rundy/internal/metrics"
	"github.com/lalith-99/rundy/internal/middleware"
	"github.com/lalith-99/rundy/internal/models"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 16 << 10
	sendBuffer   = 64
)

// Frame types.
const (
	FrameSnapshot = "snapshot"
	FrameMessage  = "message"
	FrameUnread   = "unread"
	FrameError    = "error"

	FrameSend     = "send"
	FrameMarkRead = "mark_read"
)

// Inbound is a frame sent by the client.
type Inbound struct {
	Type string `json:"type"`
	Body string `json:"body,omitempty"`
}

// Outbound is a frame sent by the server. Only the fields relevant to Type
// are set.
type Outbound struct {
	Type     string               `json:"type"`
	Messages []models.ChatMessage `json:"messages,omitempty"`
	Message  *models.ChatMessage  `json:"message,omitempty"`
	Unread   int                  `json:"unread"`
	Error    string               `json:"error,omitempty"`
}

type Handler struct {
	chats    *chat.Opener
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler accepts upgrades from the given origins. "*" or an empty list
// allows any origin.
func NewHandler(chats *chat.Opener, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		chats: chats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve handles GET /v1/matches/:id/chat/ws
//
// Membership is checked before the upgrade so a refused viewer gets a
// plain HTTP error.
func (h *Handler) Serve(c *gin.Context) {
	matchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
		return
	}
	sess := middleware.GetSession(c)

	cl := &client{
		send:      make(chan []byte, sendBuffer),
		forwarded: make(map[int64]struct{}),
		logger:    h.logger,
	}
	feed, err := h.chats.Open(c.Request.Context(), sess, matchID, chat.WithListener(cl.onUpdate))
	if err != nil {
		status := http.StatusInternalServerError
		switch apperr.KindOf(err) {
		case apperr.KindValidation:
			status = http.StatusForbidden
		case apperr.KindNotFound:
			status = http.StatusNotFound
		case apperr.KindDataAccess:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": apperr.Message(err)})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		feed.Close()
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	cl.conn = conn
	cl.feed = feed

	metrics.WsConnections.Inc()
	defer metrics.WsConnections.Dec()

	logger := h.logger.With(
		zap.Stringer("match_id", matchID),
		zap.Stringer("user_id", sess.UserID),
		zap.String("subscription", feed.SubscriptionName()),
	)
	logger.Debug("chat socket opened")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go cl.writePump()

	if err := cl.mount(ctx); err != nil {
		logger.Warn("chat mount failed", zap.Error(err))
		cl.enqueue(Outbound{Type: FrameError, Error: apperr.Message(err)})
	} else {
		cl.readPump(ctx)
	}

	// The listener runs on the feed goroutine; wait for it before closing
	// the send channel it writes to.
	feed.Close()
	<-feed.Done()
	close(cl.send)
	logger.Debug("chat socket closed")
}

type client struct {
	conn   *websocket.Conn
	feed   *chat.Synchronizer
	send   chan []byte
	logger *zap.Logger

	// forwarded holds the ids of messages already sent as frames. The
	// sender's own insert can reach it both from Send and from the feed.
	mu        sync.Mutex
	forwarded map[int64]struct{}
}

// mount loads the history, sends it as a snapshot and starts the feed.
func (cl *client) mount(ctx context.Context) error {
	if err := cl.feed.Load(ctx); err != nil {
		return err
	}
	msgs := cl.feed.Messages()
	cl.mu.Lock()
	for _, m := range msgs {
		cl.forwarded[m.ID] = struct{}{}
	}
	cl.mu.Unlock()
	cl.enqueue(Outbound{Type: FrameSnapshot, Messages: msgs, Unread: cl.feed.UnreadCount()})
	return cl.feed.Start(ctx)
}

func (cl *client) onUpdate(u chat.Update) {
	msg := u.Message
	cl.forward(&msg, u.Unread)
	cl.enqueue(Outbound{Type: FrameUnread, Unread: u.Unread})
}

// forward sends a message frame unless the message was already sent.
func (cl *client) forward(msg *models.ChatMessage, unread int) {
	cl.mu.Lock()
	_, dup := cl.forwarded[msg.ID]
	cl.forwarded[msg.ID] = struct{}{}
	cl.mu.Unlock()
	if !dup {
		cl.enqueue(Outbound{Type: FrameMessage, Message: msg, Unread: unread})
	}
}

// enqueue never blocks; a client that stops reading loses frames rather
// than stalling the feed.
func (cl *client) enqueue(out Outbound) {
	b, err := json.Marshal(out)
	if err != nil {
		cl.logger.Error("encode frame", zap.String("type", out.Type), zap.Error(err))
		return
	}
	select {
	case cl.send <- b:
	default:
		cl.logger.Warn("chat socket send buffer full, dropping frame", zap.String("type", out.Type))
	}
}

func (cl *client) readPump(ctx context.Context) {
	cl.conn.SetReadLimit(maxFrameSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.logger.Debug("chat socket read failed", zap.Error(err))
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			cl.enqueue(Outbound{Type: FrameError, Error: "malformed frame"})
			continue
		}
		cl.handle(ctx, in)
	}
}

func (cl *client) handle(ctx context.Context, in Inbound) {
	switch in.Type {
	case FrameSend:
		msg, err := cl.feed.Send(ctx, in.Body)
		if err != nil {
			cl.enqueue(Outbound{Type: FrameError, Error: apperr.Message(err), Unread: cl.feed.UnreadCount()})
			return
		}
		// The feed drops the realtime echo of our own insert once Send has
		// stored it, so the sender usually learns about it here.
		cl.forward(msg, cl.feed.UnreadCount())
	case FrameMarkRead:
		cl.feed.MarkAsRead()
		cl.enqueue(Outbound{Type: FrameUnread, Unread: 0})
	default:
		cl.enqueue(Outbound{Type: FrameError, Error: "unknown frame type"})
	}
}

// writePump owns every write to the connection. It exits once send is
// closed.
func (cl *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				cl.abandon()
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cl.abandon()
				return
			}
		}
	}
}

// abandon closes a broken connection, which unblocks readPump, and drains
// send until Serve closes it.
func (cl *client) abandon() {
	_ = cl.conn.Close()
	for range cl.send {
	}
}
