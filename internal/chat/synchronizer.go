// Package chat keeps one match chat in sync for one viewer: the stored
// history, the messages the viewer sends, and the inserts pushed by the
// realtime feed, merged into a single ordered feed without duplicates, plus
// an unread counter measured against an in-memory read watermark.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/rundy/internal/apperr"
	"github.com/lalith-99/rundy/internal/auth"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/realtime"
	"github.com/lalith-99/rundy/internal/repository"
	"go.uber.org/zap"
)

// UnknownAuthor is shown for messages whose author is no longer in the
// participant list.
const UnknownAuthor = "Usuario"

// Update is handed to the listener after a pushed message changed the feed.
type Update struct {
	Message models.ChatMessage
	Unread  int
}

type Option func(*Synchronizer)

// WithListener registers a callback invoked from the feed goroutine after
// each applied realtime insert. It must not call Close and wait on Done.
func WithListener(fn func(Update)) Option {
	return func(s *Synchronizer) { s.listener = fn }
}

// WithMountID pins the mount id used in the subscription name.
func WithMountID(id uuid.UUID) Option {
	return func(s *Synchronizer) { s.mountID = id }
}

// Synchronizer is bound to one (match, viewer, mount). It is safe for
// concurrent use. Once closed it cannot be started again; build a new one.
type Synchronizer struct {
	matchID    uuid.UUID
	sess       auth.Session
	mountID    uuid.UUID
	messages   repository.MessageRepository
	subscriber realtime.Subscriber
	logger     *zap.Logger
	listener   func(Update)

	mu           sync.Mutex
	feed         []models.ChatMessage
	seen         map[int64]struct{}
	names        map[uuid.UUID]string
	unread       int
	watermark    time.Time
	hasWatermark bool
	sub          *realtime.Subscription
	closed       bool
	done         chan struct{}
}

// New builds the synchronizer for matchID as seen by sess. participants is
// the match's participant list the caller already holds; it is the only
// source of author names.
func New(
	matchID uuid.UUID,
	sess auth.Session,
	participants []models.Participant,
	messages repository.MessageRepository,
	subscriber realtime.Subscriber,
	logger *zap.Logger,
	opts ...Option,
) *Synchronizer {
	s := &Synchronizer{
		matchID:    matchID,
		sess:       sess,
		mountID:    uuid.New(),
		messages:   messages,
		subscriber: subscriber,
		logger:     logger,
		seen:       make(map[int64]struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.SetParticipants(participants)
	return s
}

// SubscriptionName is unique per match, user and mount, so two tabs of the
// same user never share a subscription.
func (s *Synchronizer) SubscriptionName() string {
	return fmt.Sprintf("match-chat-%s-%s-%s", s.matchID, s.sess.UserID, s.mountID)
}

// SetParticipants replaces the author name lookup. Messages already in the
// feed keep the name they were annotated with.
func (s *Synchronizer) SetParticipants(participants []models.Participant) {
	names := make(map[uuid.UUID]string, len(participants))
	for _, p := range participants {
		names[p.UserID] = p.DisplayName
	}
	s.mu.Lock()
	s.names = names
	s.mu.Unlock()
}

// Load fetches the whole chat and rebuilds the feed. Messages held locally
// but missing from the fetch (pushed after the query ran) are kept. On the
// first load every message by someone else counts as unread; after
// MarkAsRead only those newer than the watermark do. A failed fetch leaves
// the state as it was.
func (s *Synchronizer) Load(ctx context.Context) (err error) {
	const op = "chat.Load"
	defer apperr.Recover(op, &err)

	fetched, err := s.messages.ListByMatch(ctx, s.matchID)
	if err != nil {
		s.logger.Error("failed to load chat",
			zap.Stringer("match_id", s.matchID),
			zap.Error(err),
		)
		return apperr.DataAccess(op, "could not load messages", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.feed
	s.feed = make([]models.ChatMessage, 0, len(fetched)+len(previous))
	s.seen = make(map[int64]struct{}, len(fetched)+len(previous))
	for _, msg := range fetched {
		s.insertLocked(msg)
	}
	for _, msg := range previous {
		s.insertLocked(msg)
	}

	s.unread = 0
	for _, msg := range s.feed {
		if msg.UserID == s.sess.UserID {
			continue
		}
		if s.hasWatermark && !msg.CreatedAt.After(s.watermark) {
			continue
		}
		s.unread++
	}
	return nil
}

// Send stores body as a message from the viewer and appends it to the feed
// right away. The realtime echo of the same message is dropped by id.
func (s *Synchronizer) Send(ctx context.Context, body string) (_ *models.ChatMessage, err error) {
	const op = "chat.Send"
	defer apperr.Recover(op, &err)

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Validation(op, "message cannot be empty")
	}
	if !s.sess.Authenticated() {
		return nil, apperr.Validation(op, "you must be signed in to chat")
	}

	msg, err := s.messages.Create(ctx, s.matchID, s.sess.UserID, body)
	if err != nil {
		s.logger.Error("failed to send chat message",
			zap.Stringer("match_id", s.matchID),
			zap.Error(err),
		)
		return nil, apperr.DataAccess(op, "could not send message", err)
	}

	s.mu.Lock()
	out := s.insertLocked(*msg)
	s.mu.Unlock()
	return &out, nil
}

// Apply merges one realtime event into the feed and reports whether the
// feed changed. Events for other tables or matches, and messages already
// in the feed, are ignored.
func (s *Synchronizer) Apply(evt realtime.Event) bool {
	_, changed := s.apply(evt)
	return changed
}

func (s *Synchronizer) apply(evt realtime.Event) (Update, bool) {
	if evt.Type != realtime.EventInsert || evt.Table != realtime.TableMatchChatMessages {
		return Update{}, false
	}
	var msg models.ChatMessage
	if err := json.Unmarshal(evt.New, &msg); err != nil {
		s.logger.Warn("discarding malformed chat insert",
			zap.Stringer("match_id", s.matchID),
			zap.Error(err),
		)
		return Update{}, false
	}
	if msg.MatchID != s.matchID {
		return Update{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[msg.ID]; dup {
		return Update{}, false
	}
	stored := s.insertLocked(msg)
	if msg.UserID != s.sess.UserID {
		s.unread++
	}
	return Update{Message: stored, Unread: s.unread}, true
}

// MarkAsRead moves the watermark to the newest message in the feed and
// clears the counter. Nothing is sent to the store.
func (s *Synchronizer) MarkAsRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.feed); n > 0 {
		s.watermark = s.feed[n-1].CreatedAt
		s.hasWatermark = true
	}
	s.unread = 0
}

// Start opens the realtime subscription and consumes it in a goroutine
// until Close is called or ctx is done.
func (s *Synchronizer) Start(ctx context.Context) (err error) {
	const op = "chat.Start"
	defer apperr.Recover(op, &err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperr.Operation(op, "chat feed already closed", nil)
	}
	if s.sub != nil {
		return apperr.Operation(op, "chat feed already started", nil)
	}

	sub, err := s.subscriber.Subscribe(ctx, s.SubscriptionName(), realtime.Filter{
		Table:   realtime.TableMatchChatMessages,
		MatchID: s.matchID,
	})
	if err != nil {
		return apperr.DataAccess(op, "could not open chat feed", err)
	}
	s.sub = sub
	go s.consume(ctx, sub)

	s.logger.Debug("chat feed started", zap.String("subscription", sub.Name()))
	return nil
}

func (s *Synchronizer) consume(ctx context.Context, sub *realtime.Subscription) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if upd, changed := s.apply(evt); changed && s.listener != nil {
				s.listener(upd)
			}
		}
	}
}

// Close releases the subscription. Safe to call more than once, and before
// Start.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.mu.Unlock()

	if sub == nil {
		close(s.done)
		return
	}
	sub.Close()
}

// Done is closed once the feed goroutine has exited (or on Close if the
// feed was never started).
func (s *Synchronizer) Done() <-chan struct{} {
	return s.done
}

// Messages returns a copy of the feed, oldest first.
func (s *Synchronizer) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.feed...)
}

func (s *Synchronizer) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Watermark reports the last-read timestamp, if MarkAsRead has set one.
func (s *Synchronizer) Watermark() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark, s.hasWatermark
}

// insertLocked annotates msg and places it after every message with the
// same or an earlier timestamp, so ties keep arrival order. Duplicates by
// id are skipped. Returns the stored entry.
func (s *Synchronizer) insertLocked(msg models.ChatMessage) models.ChatMessage {
	if _, dup := s.seen[msg.ID]; dup {
		for _, m := range s.feed {
			if m.ID == msg.ID {
				return m
			}
		}
	}

	if name, ok := s.names[msg.UserID]; ok && name != "" {
		msg.AuthorName = name
	} else if msg.AuthorName == "" {
		msg.AuthorName = UnknownAuthor
	}

	i := sort.Search(len(s.feed), func(i int) bool {
		return s.feed[i].CreatedAt.After(msg.CreatedAt)
	})
	s.feed = append(s.feed, models.ChatMessage{})
	copy(s.feed[i+1:], s.feed[i:])
	s.feed[i] = msg
	s.seen[msg.ID] = struct{}{}
	return msg
}
