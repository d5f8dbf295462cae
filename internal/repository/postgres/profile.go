package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/repository"
)

const profileColumns = `id, full_name, email, favorite_sports, skill_level, avatar_url, phone, created_at, updated_at`

type ProfileStore struct {
	pool *pgxpool.Pool
}

func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	return &ProfileStore{pool: pool}
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	var sports []string
	var level string
	err := row.Scan(
		&p.ID,
		&p.FullName,
		&p.Email,
		&sports,
		&level,
		&p.AvatarURL,
		&p.Phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.FavoriteSports = make([]models.Sport, len(sports))
	for i, s := range sports {
		p.FavoriteSports[i] = models.Sport(s)
	}
	p.SkillLevel = models.SkillLevel(level)
	return &p, nil
}

func sportStrings(sports []models.Sport) []string {
	out := make([]string, len(sports))
	for i, s := range sports {
		out[i] = string(s)
	}
	return out
}

func (s *ProfileStore) Create(ctx context.Context, p models.Profile) (*models.Profile, error) {
	if p.SkillLevel == "" {
		p.SkillLevel = models.DefaultSkillLevel
	}
	query := `
		INSERT INTO profiles (id, full_name, email, favorite_sports, skill_level, avatar_url, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING ` + profileColumns

	created, err := scanProfile(s.pool.QueryRow(ctx, query,
		p.ID, p.FullName, p.Email, sportStrings(p.FavoriteSports), string(p.SkillLevel), p.AvatarURL, p.Phone,
	))
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return created, nil
}

func (s *ProfileStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(s.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *ProfileStore) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Profile, error) {
	profiles := make([]models.Profile, 0)
	if len(ids) == 0 {
		return profiles, nil
	}

	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ANY($1::uuid[])`
	rows, err := s.pool.Query(ctx, query, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return profiles, nil
}

// Update builds the SET clause from the supplied fields only.
func (s *ProfileStore) Update(ctx context.Context, userID uuid.UUID, upd models.ProfileUpdate) error {
	var sets []string
	var args []any
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.FullName != nil {
		set("full_name", *upd.FullName)
	}
	if upd.FavoriteSports != nil {
		set("favorite_sports", sportStrings(*upd.FavoriteSports))
	}
	if upd.SkillLevel != nil {
		set("skill_level", string(*upd.SkillLevel))
	}
	if upd.AvatarURL != nil {
		set("avatar_url", *upd.AvatarURL)
	}
	if upd.Phone != nil {
		set("phone", *upd.Phone)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, userID)

	query := fmt.Sprintf(`UPDATE profiles SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
