package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/rundy/internal/apperr"
	"github.com/lalith-99/rundy/internal/auth"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/realtime"
	"github.com/lalith-99/rundy/internal/repository"
	"github.com/lalith-99/rundy/internal/repository/memory"
	"go.uber.org/zap"
)

type fixture struct {
	hub          *realtime.Hub
	store        *memory.Store
	match        *models.Match
	ana, ben     auth.Session
	participants []models.Participant
}

// newFixture sets up a match created by Ana and joined by Ben, on a store
// whose clock advances one second per row.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	hub := realtime.NewHub(16, zap.NewNop())
	t.Cleanup(func() { hub.Close() })
	store := memory.New(hub, zap.NewNop())
	clock := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	store.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	ana := auth.Session{UserID: uuid.New(), DisplayName: "Ana"}
	ben := auth.Session{UserID: uuid.New(), DisplayName: "Ben"}
	m, err := store.Matches().CreateWithCreator(ctx, models.NewMatch{
		Title:      "Pachanga",
		Location:   models.Location{Address: "Polideportivo"},
		Date:       clock.Add(48 * time.Hour),
		Sport:      models.SportPadel,
		MaxPlayers: 4,
		CreatorID:  ana.UserID,
	}, ana.DisplayName)
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	if err := store.Participants().Add(ctx, models.Participant{MatchID: m.ID, UserID: ben.UserID, DisplayName: "Ben"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	participants, err := store.Participants().ListByMatches(ctx, []uuid.UUID{m.ID})
	if err != nil {
		t.Fatalf("participants: %v", err)
	}

	return &fixture{hub: hub, store: store, match: m, ana: ana, ben: ben, participants: participants}
}

func (f *fixture) sync(sess auth.Session, opts ...Option) *Synchronizer {
	return New(f.match.ID, sess, f.participants, f.store.Messages(), f.hub, zap.NewNop(), opts...)
}

func (f *fixture) post(t *testing.T, sess auth.Session, body string) *models.ChatMessage {
	t.Helper()
	msg, err := f.store.Messages().Create(context.Background(), f.match.ID, sess.UserID, body)
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	return msg
}

func insertEvent(t *testing.T, msg models.ChatMessage) realtime.Event {
	t.Helper()
	evt, err := realtime.NewInsertEvent(realtime.TableMatchChatMessages, msg.MatchID, msg)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	return evt
}

func bodies(msgs []models.ChatMessage) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Body
	}
	return strings.Join(parts, ",")
}

func TestUnreadCountLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, body := range []string{"uno", "dos", "tres"} {
		f.post(t, f.ben, body)
	}

	updates := make(chan Update, 4)
	s := f.sync(f.ana, WithListener(func(u Update) { updates <- u }))
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := s.UnreadCount(); got != 3 {
		t.Fatalf("unread after load = %d, want 3", got)
	}

	s.MarkAsRead()
	if got := s.UnreadCount(); got != 0 {
		t.Fatalf("unread after MarkAsRead = %d, want 0", got)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	f.post(t, f.ben, "cuatro")
	select {
	case u := <-updates:
		if u.Unread != 1 || u.Message.Body != "cuatro" || u.Message.AuthorName != "Ben" {
			t.Fatalf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("realtime message never arrived")
	}
	if got := s.UnreadCount(); got != 1 {
		t.Fatalf("unread after push = %d, want 1", got)
	}
}

func TestLoadAfterWatermarkCountsOnlyNewer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.post(t, f.ben, "uno")
	f.post(t, f.ana, "dos")

	s := f.sync(f.ana)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := s.UnreadCount(); got != 1 {
		t.Fatalf("own messages must not count: unread = %d, want 1", got)
	}
	s.MarkAsRead()

	f.post(t, f.ben, "tres")
	f.post(t, f.ana, "cuatro")
	f.post(t, f.ben, "cinco")
	if err := s.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := s.UnreadCount(); got != 2 {
		t.Fatalf("unread after reload = %d, want 2", got)
	}
	if _, ok := s.Watermark(); !ok {
		t.Fatal("expected a watermark after MarkAsRead")
	}
}

func TestMarkAsReadOnEmptyFeedSetsNoWatermark(t *testing.T) {
	f := newFixture(t)
	s := f.sync(f.ana)
	s.MarkAsRead()
	if _, ok := s.Watermark(); ok {
		t.Fatal("empty feed must not set a watermark")
	}
}

func TestSendThenLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.sync(f.ben)

	if _, err := s.Send(ctx, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.Send(ctx, "  world  "); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	msgs := s.Messages()
	if got := bodies(msgs); got != "hello,world" {
		t.Fatalf("feed = %q, want hello,world", got)
	}
	first := msgs[0]
	if first.UserID != f.ben.UserID || first.AuthorName != "Ben" {
		t.Fatalf("first message author = %s %q", first.UserID, first.AuthorName)
	}
	if got := s.UnreadCount(); got != 0 {
		t.Fatalf("own messages counted as unread: %d", got)
	}
}

func TestSendRejectsBlankBody(t *testing.T) {
	f := newFixture(t)
	s := f.sync(f.ana)

	for _, body := range []string{"", "   ", "\n\t"} {
		if _, err := s.Send(context.Background(), body); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("Send(%q) error = %v, want validation error", body, err)
		}
	}
	if n := len(s.Messages()); n != 0 {
		t.Fatalf("blank sends added %d messages", n)
	}
}

func TestSendEchoIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.sync(f.ana)

	msg, err := s.Send(ctx, "hola")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if s.Apply(insertEvent(t, *msg)) {
		t.Fatal("echo of a sent message changed the feed")
	}
	if n := len(s.Messages()); n != 1 {
		t.Fatalf("feed has %d messages, want 1", n)
	}
	if got := s.UnreadCount(); got != 0 {
		t.Fatalf("unread = %d, want 0", got)
	}
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	s := f.sync(f.ana)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stranger := uuid.New()

	msg := func(id int64, user uuid.UUID, body string, at time.Time) models.ChatMessage {
		return models.ChatMessage{ID: id, MatchID: f.match.ID, UserID: user, Body: body, CreatedAt: at}
	}

	steps := []struct {
		name    string
		evt     realtime.Event
		changed bool
		feed    string
		unread  int
	}{
		{"first", insertEvent(t, msg(10, f.ben.UserID, "b", base)), true, "b", 1},
		{"duplicate id", insertEvent(t, msg(10, f.ben.UserID, "b", base)), false, "b", 1},
		{"tie keeps arrival order", insertEvent(t, msg(11, f.ben.UserID, "c", base)), true, "b,c", 2},
		{"earlier timestamp goes first", insertEvent(t, msg(9, f.ben.UserID, "a", base.Add(-time.Minute))), true, "a,b,c", 3},
		{"own message is not unread", insertEvent(t, msg(12, f.ana.UserID, "d", base.Add(time.Minute))), true, "a,b,c,d", 3},
		{"other match", insertEvent(t, models.ChatMessage{ID: 13, MatchID: uuid.New(), UserID: f.ben.UserID, Body: "x", CreatedAt: base}), false, "a,b,c,d", 3},
		{"other table", realtime.Event{Type: realtime.EventInsert, Table: "profiles", MatchID: f.match.ID}, false, "a,b,c,d", 3},
		{"malformed payload", realtime.Event{Type: realtime.EventInsert, Table: realtime.TableMatchChatMessages, MatchID: f.match.ID, New: []byte("{")}, false, "a,b,c,d", 3},
		{"unknown author", insertEvent(t, msg(14, stranger, "e", base.Add(2*time.Minute))), true, "a,b,c,d,e", 4},
	}
	for _, st := range steps {
		if got := s.Apply(st.evt); got != st.changed {
			t.Fatalf("%s: Apply() = %v, want %v", st.name, got, st.changed)
		}
		if got := bodies(s.Messages()); got != st.feed {
			t.Fatalf("%s: feed = %q, want %q", st.name, got, st.feed)
		}
		if got := s.UnreadCount(); got != st.unread {
			t.Fatalf("%s: unread = %d, want %d", st.name, got, st.unread)
		}
	}

	last := s.Messages()[4]
	if last.AuthorName != UnknownAuthor {
		t.Fatalf("author of unknown user = %q, want %q", last.AuthorName, UnknownAuthor)
	}
}

type failingMessages struct {
	repository.MessageRepository
}

func (failingMessages) ListByMatch(context.Context, uuid.UUID) ([]models.ChatMessage, error) {
	return nil, errors.New("network down")
}

func TestLoadFailureLeavesState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.post(t, f.ben, "uno")
	f.post(t, f.ben, "dos")

	s := f.sync(f.ana)
	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	s.messages = failingMessages{f.store.Messages()}

	err := s.Load(ctx)
	if !errors.Is(err, apperr.ErrDataAccess) {
		t.Fatalf("Load() error = %v, want data access error", err)
	}
	if got := bodies(s.Messages()); got != "uno,dos" {
		t.Fatalf("feed after failed load = %q", got)
	}
	if got := s.UnreadCount(); got != 2 {
		t.Fatalf("unread after failed load = %d, want 2", got)
	}
}

func TestLoadKeepsPushedMessagesMissingFromFetch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.post(t, f.ben, "uno")

	s := f.sync(f.ana)
	pushed := models.ChatMessage{ID: 999, MatchID: f.match.ID, UserID: f.ben.UserID, Body: "tarde",
		CreatedAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.Apply(insertEvent(t, pushed))

	if err := s.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := bodies(s.Messages()); got != "uno,tarde" {
		t.Fatalf("feed = %q, want uno,tarde", got)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	filter := realtime.Filter{Table: realtime.TableMatchChatMessages, MatchID: f.match.ID}

	tab1 := f.sync(f.ana)
	tab2 := f.sync(f.ana)
	if tab1.SubscriptionName() == tab2.SubscriptionName() {
		t.Fatal("two mounts of the same user share a subscription name")
	}
	if !strings.HasPrefix(tab1.SubscriptionName(), "match-chat-"+f.match.ID.String()+"-"+f.ana.UserID.String()+"-") {
		t.Fatalf("subscription name = %q", tab1.SubscriptionName())
	}

	if err := tab1.Start(ctx); err != nil {
		t.Fatalf("start tab1: %v", err)
	}
	if err := tab2.Start(ctx); err != nil {
		t.Fatalf("start tab2: %v", err)
	}
	if got := f.hub.Subscribers(filter); got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}
	if err := tab1.Start(ctx); !errors.Is(err, apperr.ErrOperation) {
		t.Fatalf("second Start() error = %v, want operation error", err)
	}

	tab1.Close()
	select {
	case <-tab1.Done():
	case <-time.After(time.Second):
		t.Fatal("feed goroutine did not exit after Close")
	}
	if got := f.hub.Subscribers(filter); got != 1 {
		t.Fatalf("subscribers after close = %d, want 1", got)
	}
	if err := tab1.Start(ctx); !errors.Is(err, apperr.ErrOperation) {
		t.Fatalf("Start() after Close error = %v, want operation error", err)
	}
	tab1.Close()

	tab2.Close()
	<-tab2.Done()
	if got := f.hub.Subscribers(filter); got != 0 {
		t.Fatalf("subscribers after closing both = %d, want 0", got)
	}
}

func TestStartEndsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	s := f.sync(f.ben)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("feed goroutine did not exit on cancel")
	}
}

func TestCloseBeforeStart(t *testing.T) {
	f := newFixture(t)
	s := f.sync(f.ben)
	s.Close()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed after Close on an unstarted feed")
	}
}
