// Package profile loads and updates the signed-in user's profile and keeps
// the last known copy per user.
package profile

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/rundy/internal/apperr"
	"github.com/lalith-99/rundy/internal/auth"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/repository"
	"go.uber.org/zap"
)

type Service struct {
	repo   repository.ProfileRepository
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]models.Profile
}

func NewService(repo repository.ProfileRepository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		cache:  make(map[uuid.UUID]models.Profile),
	}
}

// Load fetches the user's profile. A user without a profile row gets nil
// and no error.
func (s *Service) Load(ctx context.Context, sess auth.Session) (_ *models.Profile, err error) {
	const op = "profile.Load"
	defer apperr.Recover(op, &err)

	if !sess.Authenticated() {
		return nil, nil
	}
	p, err := s.repo.GetByID(ctx, sess.UserID)
	if err != nil {
		s.logger.Error("failed to load profile", zap.Stringer("user_id", sess.UserID), zap.Error(err))
		return nil, apperr.DataAccess(op, "could not load profile", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		delete(s.cache, sess.UserID)
		return nil, nil
	}
	s.cache[sess.UserID] = *p
	return clone(p), nil
}

// Update writes the supplied fields and merges them into the cached
// profile without fetching it again. With no cached copy the row is read
// once after the write. On failure the cache is untouched.
func (s *Service) Update(ctx context.Context, sess auth.Session, upd models.ProfileUpdate) (_ *models.Profile, err error) {
	const op = "profile.Update"
	defer apperr.Recover(op, &err)

	if !sess.Authenticated() {
		return nil, apperr.Validation(op, "you must be signed in to edit your profile")
	}
	if upd.Empty() {
		return nil, apperr.Validation(op, "nothing to update")
	}
	if err := validate(&upd); err != nil {
		return nil, apperr.Validation(op, err.Error())
	}

	if err := s.repo.Update(ctx, sess.UserID, upd); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Operation(op, "profile does not exist", err)
		}
		s.logger.Error("failed to update profile", zap.Stringer("user_id", sess.UserID), zap.Error(err))
		return nil, apperr.Operation(op, "could not update profile", err)
	}

	s.mu.Lock()
	p, ok := s.cache[sess.UserID]
	if ok {
		upd.ApplyTo(&p)
		s.cache[sess.UserID] = p
		s.mu.Unlock()
		return clone(&p), nil
	}
	s.mu.Unlock()

	// Nothing cached to merge into: the row already carries the update, so
	// one read gives the whole profile.
	fresh, err := s.repo.GetByID(ctx, sess.UserID)
	if err != nil {
		s.logger.Error("failed to reload profile", zap.Stringer("user_id", sess.UserID), zap.Error(err))
		return nil, apperr.Operation(op, "profile updated but could not be reloaded", err)
	}
	if fresh == nil {
		return nil, apperr.Operation(op, "profile does not exist", repository.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[sess.UserID] = *fresh
	return clone(fresh), nil
}

// Cached returns the last profile Load or Update produced for userID.
func (s *Service) Cached(userID uuid.UUID) (*models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cache[userID]
	if !ok {
		return nil, false
	}
	return clone(&p), true
}

// validate normalizes the update in place: names are trimmed, sports are
// lower-cased and deduplicated.
func validate(upd *models.ProfileUpdate) error {
	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if name == "" {
			return errors.New("full name cannot be empty")
		}
		upd.FullName = &name
	}
	if upd.FavoriteSports != nil {
		seen := make(map[models.Sport]bool, len(*upd.FavoriteSports))
		sports := make([]models.Sport, 0, len(*upd.FavoriteSports))
		for _, raw := range *upd.FavoriteSports {
			sp, ok := models.ParseSport(string(raw))
			if !ok {
				return errors.New("unknown sport: " + string(raw))
			}
			if !seen[sp] {
				seen[sp] = true
				sports = append(sports, sp)
			}
		}
		upd.FavoriteSports = &sports
	}
	if upd.SkillLevel != nil && !upd.SkillLevel.Valid() {
		return errors.New("unknown skill level: " + string(*upd.SkillLevel))
	}
	return nil
}

func clone(p *models.Profile) *models.Profile {
	c := *p
	c.FavoriteSports = append([]models.Sport{}, p.FavoriteSports...)
	return &c
}
