package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/rundy/internal/models"
)

// Store-level outcomes the services translate into the app error taxonomy.
var (
	// ErrDuplicate: a unique key is taken, e.g. the (match, user)
	// participant row or a user's email.
	ErrDuplicate = errors.New("already exists")
	// ErrMatchFull: the match has no free slot.
	ErrMatchFull = errors.New("match is full")
	// ErrNotFound: the row a mutation targets does not exist.
	ErrNotFound = errors.New("not found")
)

// Every method takes context.Context first and returns wrapped errors.
// Single-row reads return nil, nil when the row does not exist.

// MatchRepository persists matches. CurrentPlayers is always computed from
// the participant rows.
type MatchRepository interface {
	// List returns every match ordered by date ascending.
	List(ctx context.Context) ([]models.Match, error)

	// GetByID returns nil, nil if the match does not exist.
	GetByID(ctx context.Context, matchID uuid.UUID) (*models.Match, error)

	// CreateWithCreator inserts the match and the creator's participant row
	// as one unit: either both exist afterwards or neither does.
	CreateWithCreator(ctx context.Context, m models.NewMatch, creatorName string) (*models.Match, error)

	// Delete removes the participant rows and then the match, as one unit.
	// Returns ErrNotFound if the match does not exist.
	Delete(ctx context.Context, matchID uuid.UUID) error
}

// ParticipantRepository handles who attends which match.
type ParticipantRepository interface {
	// Add inserts a participant row. The capacity check and the insert are
	// atomic. Returns ErrNotFound, ErrDuplicate or ErrMatchFull.
	Add(ctx context.Context, p models.Participant) error

	// Remove deletes the row and reports whether one existed.
	Remove(ctx context.Context, matchID, userID uuid.UUID) (bool, error)

	// ListByMatches returns the participants of all given matches in one
	// query, ordered by join time.
	ListByMatches(ctx context.Context, matchIDs []uuid.UUID) ([]models.Participant, error)

	// MatchIDsForUser returns the ids of every match the user attends.
	MatchIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)

	// IsParticipant is the pre-insert duplicate check.
	IsParticipant(ctx context.Context, matchID, userID uuid.UUID) (bool, error)
}

// MessageRepository handles match chat messages. Implementations publish a
// realtime INSERT event for every created message.
type MessageRepository interface {
	Create(ctx context.Context, matchID, userID uuid.UUID, body string) (*models.ChatMessage, error)

	// ListByMatch returns the whole chat, oldest first.
	ListByMatch(ctx context.Context, matchID uuid.UUID) ([]models.ChatMessage, error)
}

// ProfileRepository handles user profiles.
type ProfileRepository interface {
	// Create inserts the profile row of a new user.
	Create(ctx context.Context, p models.Profile) (*models.Profile, error)

	// GetByID returns nil, nil if the user has no profile yet.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)

	// ListByIDs returns the profiles that exist among ids, in one query.
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error)

	// Update writes only the non-nil fields. Returns ErrNotFound if the
	// user has no profile row.
	Update(ctx context.Context, userID uuid.UUID, upd models.ProfileUpdate) error
}

// UserRepository handles login credentials.
type UserRepository interface {
	Create(ctx context.Context, email, passwordHash string) (*models.User, error)

	// GetByEmail returns nil, nil if no user has that email.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}
