package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/repository"
)

type ParticipantStore struct {
	pool *pgxpool.Pool
}

func NewParticipantStore(pool *pgxpool.Pool) *ParticipantStore {
	return &ParticipantStore{pool: pool}
}

// Add locks the match row, so two joins racing for the last slot are
// serialized: the second one sees the updated count and gets ErrMatchFull.
func (s *ParticipantStore) Add(ctx context.Context, p models.Participant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin join: %w", err)
	}
	defer tx.Rollback(ctx)

	var maxPlayers int
	err = tx.QueryRow(ctx, `SELECT max_players FROM matches WHERE id = $1 FOR UPDATE`, p.MatchID).Scan(&maxPlayers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("lock match: %w", err)
	}

	var exists bool
	var count int
	err = tx.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM match_participants WHERE match_id = $1 AND user_id = $2),
			(SELECT count(*) FROM match_participants WHERE match_id = $1)`,
		p.MatchID, p.UserID,
	).Scan(&exists, &count)
	if err != nil {
		return fmt.Errorf("count participants: %w", err)
	}
	if exists {
		return repository.ErrDuplicate
	}
	if count >= maxPlayers {
		return repository.ErrMatchFull
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO match_participants (match_id, user_id, display_name, joined_at)
		VALUES ($1, $2, $3, now())`,
		p.MatchID, p.UserID, p.DisplayName,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("add participant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit join: %w", err)
	}
	return nil
}

func (s *ParticipantStore) Remove(ctx context.Context, matchID, userID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM match_participants
		WHERE match_id = $1 AND user_id = $2`,
		matchID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("remove participant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByMatches is one query for any number of matches.
func (s *ParticipantStore) ListByMatches(ctx context.Context, matchIDs []uuid.UUID) ([]models.Participant, error) {
	participants := make([]models.Participant, 0)
	if len(matchIDs) == 0 {
		return participants, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT match_id, user_id, display_name, joined_at
		FROM match_participants
		WHERE match_id = ANY($1::uuid[])
		ORDER BY joined_at ASC`,
		uuidStrings(matchIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.MatchID, &p.UserID, &p.DisplayName, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}

	return participants, nil
}

func (s *ParticipantStore) MatchIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT match_id FROM match_participants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user matches: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan match id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match ids: %w", err)
	}
	return ids, nil
}

func (s *ParticipantStore) IsParticipant(ctx context.Context, matchID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM match_participants
			WHERE match_id = $1 AND user_id = $2
		)`

	var exists bool
	err := s.pool.QueryRow(ctx, query, matchID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}
