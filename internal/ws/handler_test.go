package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/rundy/internal/auth"
	"github.com/lalith-99/rundy/internal/chat"
	"github.com/lalith-99/rundy/internal/match"
	"github.com/lalith-99/rundy/internal/middleware"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/realtime"
	"github.com/lalith-99/rundy/internal/repository/memory"
	"go.uber.org/zap"
)

const testSecret = "ws-test-secret"

type testServer struct {
	srv   *httptest.Server
	hub   *realtime.Hub
	store *memory.Store
	match *models.Match
	ana   uuid.UUID
	ben   uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	logger := zap.NewNop()

	hub := realtime.NewHub(16, logger)
	t.Cleanup(func() { hub.Close() })
	store := memory.New(hub, logger)

	ana, ben := uuid.New(), uuid.New()
	m, err := store.Matches().CreateWithCreator(ctx, models.NewMatch{
		Title:      "Fútbol 7",
		Location:   models.Location{Address: "Parque del Oeste"},
		Date:       time.Now().Add(72 * time.Hour),
		Sport:      models.SportFootball,
		MaxPlayers: 14,
		CreatorID:  ana,
	}, "Ana")
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	if err := store.Participants().Add(ctx, models.Participant{MatchID: m.ID, UserID: ben, DisplayName: "Ben"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	matches := match.NewService(store.Matches(), store.Participants(), store.Profiles(), logger)
	opener := chat.NewOpener(matches, store.Messages(), hub, logger)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(testSecret))
	v1.GET("/matches/:id/chat/ws", NewHandler(opener, []string{"*"}, logger).Serve)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, hub: hub, store: store, match: m, ana: ana, ben: ben}
}

func (ts *testServer) url(t *testing.T, userID uuid.UUID, name string) string {
	t.Helper()
	token, err := auth.GenerateToken(userID, strings.ToLower(name)+"@example.com", name, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/v1/matches/" + ts.match.ID.String() + "/chat/ws?token=" + token
}

func (ts *testServer) dial(t *testing.T, userID uuid.UUID, name string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.url(t, userID, name), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitSubscribed blocks until n chat feeds are subscribed to the match.
func (ts *testServer) waitSubscribed(t *testing.T, n int) {
	t.Helper()
	f := realtime.Filter{Table: realtime.TableMatchChatMessages, MatchID: ts.match.ID}
	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.Subscribers(f) != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", ts.hub.Subscribers(f), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Outbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out Outbound
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return out
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Outbound {
	t.Helper()
	for i := 0; i < 10; i++ {
		if out := readFrame(t, conn); out.Type == typ {
			return out
		}
	}
	t.Fatalf("no %q frame received", typ)
	return Outbound{}
}

func TestServe_SnapshotAndPushedMessages(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	if _, err := ts.store.Messages().Create(ctx, ts.match.ID, ts.ben, "¿Quién lleva balón?"); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	conn := ts.dial(t, ts.ana, "Ana")
	snap := readFrame(t, conn)
	if snap.Type != FrameSnapshot {
		t.Fatalf("first frame = %q, want snapshot", snap.Type)
	}
	if len(snap.Messages) != 1 || snap.Unread != 1 {
		t.Fatalf("snapshot = %d messages, %d unread; want 1, 1", len(snap.Messages), snap.Unread)
	}
	if snap.Messages[0].AuthorName != "Ben" {
		t.Errorf("author = %q, want Ben", snap.Messages[0].AuthorName)
	}
	ts.waitSubscribed(t, 1)

	if _, err := ts.store.Messages().Create(ctx, ts.match.ID, ts.ben, "Yo llevo"); err != nil {
		t.Fatalf("push message: %v", err)
	}
	msg := readUntil(t, conn, FrameMessage)
	if msg.Message == nil || msg.Message.Body != "Yo llevo" {
		t.Fatalf("pushed frame = %+v", msg)
	}
	if unread := readUntil(t, conn, FrameUnread); unread.Unread != 2 {
		t.Errorf("unread = %d, want 2", unread.Unread)
	}

	if err := conn.WriteJSON(Inbound{Type: FrameMarkRead}); err != nil {
		t.Fatalf("write mark_read: %v", err)
	}
	if unread := readUntil(t, conn, FrameUnread); unread.Unread != 0 {
		t.Errorf("unread after mark_read = %d, want 0", unread.Unread)
	}
}

func TestServe_SendFrame(t *testing.T) {
	ts := newTestServer(t)

	ana := ts.dial(t, ts.ana, "Ana")
	readUntil(t, ana, FrameSnapshot)
	ben := ts.dial(t, ts.ben, "Ben")
	readUntil(t, ben, FrameSnapshot)
	ts.waitSubscribed(t, 2)

	if err := ana.WriteJSON(Inbound{Type: FrameSend, Body: "  Llego 5 min tarde  "}); err != nil {
		t.Fatalf("write send: %v", err)
	}
	own := readUntil(t, ana, FrameMessage)
	if own.Message == nil || own.Message.Body != "Llego 5 min tarde" || own.Unread != 0 {
		t.Fatalf("own message frame = %+v", own)
	}
	other := readUntil(t, ben, FrameMessage)
	if other.Message == nil || other.Message.ID != own.Message.ID || other.Unread != 1 {
		t.Fatalf("pushed frame = %+v", other)
	}

	msgs, err := ts.store.Messages().ListByMatch(context.Background(), ts.match.ID)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("stored messages = %d, %v; want 1", len(msgs), err)
	}
}

func TestServe_RejectedFrames(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, ts.ana, "Ana")
	readUntil(t, conn, FrameSnapshot)

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"blank body", `{"type":"send","body":"   "}`, "message cannot be empty"},
		{"unknown type", `{"type":"typing"}`, "unknown frame type"},
		{"malformed", `{"type":`, "malformed frame"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatalf("write: %v", err)
			}
			out := readUntil(t, conn, FrameError)
			if out.Error != tt.want {
				t.Errorf("error = %q, want %q", out.Error, tt.want)
			}
		})
	}
}

func TestServe_Refused(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"outsider", ts.url(t, uuid.New(), "Carla"), http.StatusForbidden},
		{"no token", strings.Split(ts.url(t, ts.ana, "Ana"), "?")[0], http.StatusUnauthorized},
		{"unknown match", strings.Replace(ts.url(t, ts.ana, "Ana"), ts.match.ID.String(), uuid.NewString(), 1), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tt.url, nil)
			if err == nil {
				t.Fatal("expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != tt.want {
				t.Fatalf("status = %v, want %d", resp, tt.want)
			}
		})
	}
}

func TestServe_DisconnectReleasesSubscription(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, ts.ana, "Ana")
	readUntil(t, conn, FrameSnapshot)
	ts.waitSubscribed(t, 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	ts.waitSubscribed(t, 0)
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"wildcard", []string{"*"}, "https://evil.example", true},
		{"empty list", nil, "https://any.example", true},
		{"listed", []string{"https://rundy.app"}, "https://rundy.app", true},
		{"not listed", []string{"https://rundy.app"}, "https://evil.example", false},
		{"no origin header", []string{"https://rundy.app"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(r); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
