// Package memory implements the repository contracts on in-process maps.
// It backs the service tests and STORE_BACKEND=memory; a single mutex
// guards every table, so each method is atomic the way the Postgres
// transactions are.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/rundy/internal/metrics"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/realtime"
	"github.com/lalith-99/rundy/internal/repository"
	"go.uber.org/zap"
)

// Mirrors the CHECK constraint on match_chat_messages.message.
var errBlankMessage = errors.New("message must not be blank")

// Store owns the tables. Use the accessor methods to get the per-table
// repositories.
type Store struct {
	mu sync.RWMutex

	matches      map[uuid.UUID]models.Match
	participants map[uuid.UUID][]models.Participant // by match, join order
	messages     map[uuid.UUID][]models.ChatMessage // by match, insert order
	profiles     map[uuid.UUID]models.Profile
	users        map[string]models.User // by lower-cased email
	nextMsgID    int64

	publisher realtime.Publisher
	logger    *zap.Logger

	// Now stamps created rows. Tests replace it to get deterministic or
	// colliding timestamps.
	Now func() time.Time
}

func New(publisher realtime.Publisher, logger *zap.Logger) *Store {
	return &Store{
		matches:      make(map[uuid.UUID]models.Match),
		participants: make(map[uuid.UUID][]models.Participant),
		messages:     make(map[uuid.UUID][]models.ChatMessage),
		profiles:     make(map[uuid.UUID]models.Profile),
		users:        make(map[string]models.User),
		publisher:    publisher,
		logger:       logger,
		Now:          time.Now,
	}
}

func (s *Store) Matches() *MatchStore             { return &MatchStore{s} }
func (s *Store) Participants() *ParticipantStore { return &ParticipantStore{s} }
func (s *Store) Messages() *MessageStore         { return &MessageStore{s} }
func (s *Store) Profiles() *ProfileStore         { return &ProfileStore{s} }
func (s *Store) Users() *UserStore               { return &UserStore{s} }

// withCount returns m with CurrentPlayers derived from the participant rows.
// Caller holds the lock.
func (s *Store) withCount(m models.Match) models.Match {
	m.CurrentPlayers = len(s.participants[m.ID])
	return m
}

type MatchStore struct{ s *Store }

var _ repository.MatchRepository = (*MatchStore)(nil)

func (r *MatchStore) List(ctx context.Context) ([]models.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matches := make([]models.Match, 0, len(r.s.matches))
	for _, m := range r.s.matches {
		matches = append(matches, r.s.withCount(m))
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].Date.Equal(matches[j].Date) {
			return matches[i].Date.Before(matches[j].Date)
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches, nil
}

func (r *MatchStore) GetByID(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.matches[matchID]
	if !ok {
		return nil, nil
	}
	m = r.s.withCount(m)
	return &m, nil
}

func (r *MatchStore) CreateWithCreator(ctx context.Context, nm models.NewMatch, creatorName string) (*models.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.Now()
	m := models.Match{
		ID:          uuid.New(),
		Title:       nm.Title,
		Description: nm.Description,
		Location:    nm.Location,
		Date:        nm.Date,
		Sport:       nm.Sport,
		MaxPlayers:  nm.MaxPlayers,
		Price:       nm.Price,
		CreatorID:   nm.CreatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.s.matches[m.ID] = m
	r.s.participants[m.ID] = []models.Participant{{
		MatchID:     m.ID,
		UserID:      nm.CreatorID,
		DisplayName: creatorName,
		JoinedAt:    now,
	}}

	m = r.s.withCount(m)
	return &m, nil
}

func (r *MatchStore) Delete(ctx context.Context, matchID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.matches[matchID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.participants, matchID)
	delete(r.s.messages, matchID)
	delete(r.s.matches, matchID)
	return nil
}

type ParticipantStore struct{ s *Store }

var _ repository.ParticipantRepository = (*ParticipantStore)(nil)

func (r *ParticipantStore) Add(ctx context.Context, p models.Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.matches[p.MatchID]
	if !ok {
		return repository.ErrNotFound
	}
	rows := r.s.participants[p.MatchID]
	for _, existing := range rows {
		if existing.UserID == p.UserID {
			return repository.ErrDuplicate
		}
	}
	if len(rows) >= m.MaxPlayers {
		return repository.ErrMatchFull
	}
	p.JoinedAt = r.s.Now()
	r.s.participants[p.MatchID] = append(rows, p)
	return nil
}

func (r *ParticipantStore) Remove(ctx context.Context, matchID, userID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rows := r.s.participants[matchID]
	for i, p := range rows {
		if p.UserID == userID {
			r.s.participants[matchID] = append(rows[:i:i], rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *ParticipantStore) ListByMatches(ctx context.Context, matchIDs []uuid.UUID) ([]models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]models.Participant, 0)
	seen := make(map[uuid.UUID]bool, len(matchIDs))
	for _, id := range matchIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r.s.participants[id]...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *ParticipantStore) MatchIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := make([]uuid.UUID, 0)
	for matchID, rows := range r.s.participants {
		for _, p := range rows {
			if p.UserID == userID {
				ids = append(ids, matchID)
				break
			}
		}
	}
	return ids, nil
}

func (r *ParticipantStore) IsParticipant(ctx context.Context, matchID, userID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.participants[matchID] {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

type MessageStore struct{ s *Store }

var _ repository.MessageRepository = (*MessageStore)(nil)

// Create publishes the INSERT after releasing the lock.
func (r *MessageStore) Create(ctx context.Context, matchID, userID uuid.UUID, body string) (*models.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(body) == "" {
		return nil, errBlankMessage
	}

	r.s.mu.Lock()
	if _, ok := r.s.matches[matchID]; !ok {
		r.s.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	r.s.nextMsgID++
	msg := models.ChatMessage{
		ID:        r.s.nextMsgID,
		MatchID:   matchID,
		UserID:    userID,
		Body:      body,
		CreatedAt: r.s.Now(),
	}
	r.s.messages[matchID] = append(r.s.messages[matchID], msg)
	r.s.mu.Unlock()

	metrics.ChatMessagesTotal.Inc()
	if r.s.publisher != nil {
		evt, err := realtime.NewInsertEvent(realtime.TableMatchChatMessages, matchID, msg)
		if err == nil {
			err = r.s.publisher.Publish(ctx, evt)
		}
		if err != nil {
			r.s.logger.Warn("failed to publish chat insert",
				zap.Int64("message_id", msg.ID),
				zap.Stringer("match_id", matchID),
				zap.Error(err),
			)
		}
	}
	return &msg, nil
}

func (r *MessageStore) ListByMatch(ctx context.Context, matchID uuid.UUID) ([]models.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := append(make([]models.ChatMessage, 0, len(r.s.messages[matchID])), r.s.messages[matchID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type ProfileStore struct{ s *Store }

var _ repository.ProfileRepository = (*ProfileStore)(nil)

func (r *ProfileStore) Create(ctx context.Context, p models.Profile) (*models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.profiles[p.ID]; ok {
		return nil, repository.ErrDuplicate
	}
	if p.SkillLevel == "" {
		p.SkillLevel = models.DefaultSkillLevel
	}
	if p.FavoriteSports == nil {
		p.FavoriteSports = []models.Sport{}
	}
	now := r.s.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.s.profiles[p.ID] = p
	return &p, nil
}

func (r *ProfileStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.profiles[userID]
	if !ok {
		return nil, nil
	}
	p.FavoriteSports = append([]models.Sport{}, p.FavoriteSports...)
	return &p, nil
}

func (r *ProfileStore) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]models.Profile, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := r.s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *ProfileStore) Update(ctx context.Context, userID uuid.UUID, upd models.ProfileUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.profiles[userID]
	if !ok {
		return repository.ErrNotFound
	}
	upd.ApplyTo(&p)
	p.UpdatedAt = r.s.Now()
	r.s.profiles[userID] = p
	return nil
}

type UserStore struct{ s *Store }

var _ repository.UserRepository = (*UserStore)(nil)

func (r *UserStore) Create(ctx context.Context, email, passwordHash string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := r.s.users[key]; ok {
		return nil, repository.ErrDuplicate
	}
	u := models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    r.s.Now(),
	}
	r.s.users[key] = u
	return &u, nil
}

func (r *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	return &u, nil
}
