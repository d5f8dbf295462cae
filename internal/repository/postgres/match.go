package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/repository"
)

// SQLSTATE unique_violation.
const codeUniqueViolation = "23505"

const matchColumns = `
	m.id, m.title, m.description, m.location, m.latitude, m.longitude, m.date,
	m.sport_type, m.max_players,
	(SELECT count(*) FROM match_participants p WHERE p.match_id = m.id) AS current_players,
	m.price, m.creator_id, m.created_at, m.updated_at`

type MatchStore struct {
	pool *pgxpool.Pool
}

func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

func scanMatch(row pgx.Row) (*models.Match, error) {
	var m models.Match
	var sport string
	err := row.Scan(
		&m.ID,
		&m.Title,
		&m.Description,
		&m.Location.Address,
		&m.Location.Latitude,
		&m.Location.Longitude,
		&m.Date,
		&sport,
		&m.MaxPlayers,
		&m.CurrentPlayers,
		&m.Price,
		&m.CreatorID,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Sport = models.Sport(sport)
	return &m, nil
}

func (s *MatchStore) List(ctx context.Context) ([]models.Match, error) {
	query := `SELECT ` + matchColumns + `
		FROM matches m
		ORDER BY m.date ASC, m.created_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	matches := make([]models.Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}

	return matches, nil
}

func (s *MatchStore) GetByID(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	query := `SELECT ` + matchColumns + `
		FROM matches m
		WHERE m.id = $1`

	m, err := scanMatch(s.pool.QueryRow(ctx, query, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

// CreateWithCreator runs the match insert and the creator's self-join in
// one transaction.
func (s *MatchStore) CreateWithCreator(ctx context.Context, nm models.NewMatch, creatorName string) (*models.Match, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create match: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer tx.Rollback(ctx)

	m := models.Match{
		Title:       nm.Title,
		Description: nm.Description,
		Location:    nm.Location,
		Date:        nm.Date,
		Sport:       nm.Sport,
		MaxPlayers:  nm.MaxPlayers,
		Price:       nm.Price,
		CreatorID:   nm.CreatorID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO matches (title, description, location, latitude, longitude, date,
		                     sport_type, max_players, price, creator_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING id, created_at, updated_at`,
		nm.Title, nm.Description, nm.Location.Address, nm.Location.Latitude, nm.Location.Longitude,
		nm.Date, string(nm.Sport), nm.MaxPlayers, nm.Price, nm.CreatorID,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert match: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO match_participants (match_id, user_id, display_name, joined_at)
		VALUES ($1, $2, $3, now())`,
		m.ID, nm.CreatorID, creatorName,
	)
	if err != nil {
		return nil, fmt.Errorf("insert creator participant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create match: %w", err)
	}
	m.CurrentPlayers = 1
	return &m, nil
}

// Delete locks the match row, removes its participants and then the match.
func (s *MatchStore) Delete(ctx context.Context, matchID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete match: %w", err)
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM matches WHERE id = $1 FOR UPDATE`, matchID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("lock match: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM match_participants WHERE match_id = $1`, matchID); err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM matches WHERE id = $1`, matchID); err != nil {
		return fmt.Errorf("delete match: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete match: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
