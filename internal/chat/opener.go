package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/rundy/internal/apperr"
	"github.com/lalith-99/rundy/internal/auth"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/realtime"
	"github.com/lalith-99/rundy/internal/repository"
	"go.uber.org/zap"
)

// MatchReader is the part of the match service a chat needs: the match
// with the viewer's flags and its participant list.
type MatchReader interface {
	GetMatchByID(ctx context.Context, sess auth.Session, matchID uuid.UUID) (*models.EnrichedMatch, error)
}

// Opener builds synchronizers for the chat of a match, after checking the
// viewer belongs to it.
type Opener struct {
	matches    MatchReader
	messages   repository.MessageRepository
	subscriber realtime.Subscriber
	logger     *zap.Logger
}

func NewOpener(matches MatchReader, messages repository.MessageRepository, subscriber realtime.Subscriber, logger *zap.Logger) *Opener {
	return &Opener{matches: matches, messages: messages, subscriber: subscriber, logger: logger}
}

// Open fails with a validation error unless sess is the creator or a
// participant of the match. The returned synchronizer is not loaded or
// started.
func (o *Opener) Open(ctx context.Context, sess auth.Session, matchID uuid.UUID, opts ...Option) (*Synchronizer, error) {
	m, err := o.matches.GetMatchByID(ctx, sess, matchID)
	if err != nil {
		return nil, err
	}
	if !m.IsCreator && !m.IsParticipant {
		return nil, apperr.Validation("chat.Open", "join the match to use its chat")
	}
	return New(matchID, sess, m.Participants, o.messages, o.subscriber, o.logger, opts...), nil
}
