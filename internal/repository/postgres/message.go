package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/rundy/internal/metrics"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/realtime"
	"go.uber.org/zap"
)

type MessageStore struct {
	pool      *pgxpool.Pool
	publisher realtime.Publisher
	logger    *zap.Logger
}

func NewMessageStore(pool *pgxpool.Pool, publisher realtime.Publisher, logger *zap.Logger) *MessageStore {
	return &MessageStore{pool: pool, publisher: publisher, logger: logger}
}

// Create inserts the message and then publishes the INSERT event. A publish
// failure does not fail the insert: the row is committed, and subscribers
// pick it up on their next load.
func (s *MessageStore) Create(ctx context.Context, matchID, userID uuid.UUID, body string) (*models.ChatMessage, error) {
	query := `
		INSERT INTO match_chat_messages (match_id, user_id, message, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, match_id, user_id, message, created_at`

	var msg models.ChatMessage
	err := s.pool.QueryRow(ctx, query, matchID, userID, body).Scan(
		&msg.ID,
		&msg.MatchID,
		&msg.UserID,
		&msg.Body,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	metrics.ChatMessagesTotal.Inc()

	evt, err := realtime.NewInsertEvent(realtime.TableMatchChatMessages, matchID, msg)
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		s.logger.Warn("failed to publish chat insert",
			zap.Int64("message_id", msg.ID),
			zap.Stringer("match_id", matchID),
			zap.Error(err),
		)
	}

	return &msg, nil
}

func (s *MessageStore) ListByMatch(ctx context.Context, matchID uuid.UUID) ([]models.ChatMessage, error) {
	// id breaks ties between identical timestamps in insertion order.
	query := `
		SELECT id, match_id, user_id, message, created_at
		FROM match_chat_messages
		WHERE match_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.MatchID,
			&msg.UserID,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}
