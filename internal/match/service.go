// Package match is the match repository seen from the signed-in user: it
// enriches matches with the user's relationship to them and performs the
// create, join, leave and delete mutations. Join and create are the only
// places capacity and duplicate checks live.
package match

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/rundy/internal/apperr"
	"github.com/lalith-99/rundy/internal/auth"
	"github.com/lalith-99/rundy/internal/metrics"
	"github.com/lalith-99/rundy/internal/models"
	"github.com/lalith-99/rundy/internal/repository"
	"go.uber.org/zap"
)

type Service struct {
	matches      repository.MatchRepository
	participants repository.ParticipantRepository
	profiles     repository.ProfileRepository
	logger       *zap.Logger

	// now and loc are replaceable in tests.
	now func() time.Time
	loc *time.Location
}

type Option func(*Service)

// WithClock sets the clock used for the past/future split.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone a date and time-of-day are combined in when
// the input names none. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func NewService(
	matches repository.MatchRepository,
	participants repository.ParticipantRepository,
	profiles repository.ProfileRepository,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		matches:      matches,
		participants: participants,
		profiles:     profiles,
		logger:       logger,
		now:          time.Now,
		loc:          time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListMatches returns every match, soonest first. An anonymous session gets
// an empty list.
func (s *Service) ListMatches(ctx context.Context, sess auth.Session) (_ []models.Match, err error) {
	const op = "match.List"
	defer apperr.Recover(op, &err)

	if !sess.Authenticated() {
		return []models.Match{}, nil
	}
	matches, err := s.matches.List(ctx)
	if err != nil {
		s.logger.Error("failed to list matches", zap.Error(err))
		return nil, apperr.DataAccess(op, "could not load matches", err)
	}
	return matches, nil
}

// Enrich attaches the user's flags, the creator profiles and the participant
// lists. It issues at most three queries regardless of len(matches).
func (s *Service) Enrich(ctx context.Context, sess auth.Session, matches []models.Match) (_ []models.EnrichedMatch, err error) {
	const op = "match.Enrich"
	defer apperr.Recover(op, &err)

	out := make([]models.EnrichedMatch, 0, len(matches))
	if len(matches) == 0 {
		return out, nil
	}

	joined := make(map[uuid.UUID]bool)
	if sess.Authenticated() {
		ids, err := s.participants.MatchIDsForUser(ctx, sess.UserID)
		if err != nil {
			return nil, apperr.DataAccess(op, "could not load your matches", err)
		}
		for _, id := range ids {
			joined[id] = true
		}
	}

	matchIDs := make([]uuid.UUID, 0, len(matches))
	creatorIDs := make([]uuid.UUID, 0, len(matches))
	seenCreator := make(map[uuid.UUID]bool)
	for _, m := range matches {
		matchIDs = append(matchIDs, m.ID)
		if !seenCreator[m.CreatorID] {
			seenCreator[m.CreatorID] = true
			creatorIDs = append(creatorIDs, m.CreatorID)
		}
	}

	profiles, err := s.profiles.ListByIDs(ctx, creatorIDs)
	if err != nil {
		return nil, apperr.DataAccess(op, "could not load match creators", err)
	}
	creators := make(map[uuid.UUID]*models.CreatorSummary, len(profiles))
	for _, p := range profiles {
		creators[p.ID] = &models.CreatorSummary{ID: p.ID, FullName: p.FullName}
	}

	rows, err := s.participants.ListByMatches(ctx, matchIDs)
	if err != nil {
		return nil, apperr.DataAccess(op, "could not load participants", err)
	}
	byMatch := make(map[uuid.UUID][]models.Participant, len(matches))
	for _, p := range rows {
		byMatch[p.MatchID] = append(byMatch[p.MatchID], p)
	}

	for _, m := range matches {
		e := models.EnrichedMatch{
			Match:         m,
			IsCreator:     sess.Authenticated() && m.CreatorID == sess.UserID,
			IsParticipant: joined[m.ID],
			Creator:       creators[m.CreatorID],
			Participants:  byMatch[m.ID],
		}
		if e.Participants == nil {
			e.Participants = []models.Participant{}
		}
		e.CanJoin = CanJoin(e)
		out = append(out, e)
	}
	return out, nil
}

func (s *Service) listEnriched(ctx context.Context, sess auth.Session) ([]models.EnrichedMatch, error) {
	matches, err := s.ListMatches(ctx, sess)
	if err != nil {
		return nil, err
	}
	return s.Enrich(ctx, sess, matches)
}

// UserFutureMatches returns the matches the user created or joined that
// have not started yet.
func (s *Service) UserFutureMatches(ctx context.Context, sess auth.Session) ([]models.EnrichedMatch, error) {
	all, err := s.listEnriched(ctx, sess)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return filter(all, func(m models.EnrichedMatch) bool {
		return (m.IsCreator || m.IsParticipant) && !m.Date.Before(now)
	}), nil
}

// UserPastMatches is the complement of UserFutureMatches among the user's
// own matches.
func (s *Service) UserPastMatches(ctx context.Context, sess auth.Session) ([]models.EnrichedMatch, error) {
	all, err := s.listEnriched(ctx, sess)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return filter(all, func(m models.EnrichedMatch) bool {
		return (m.IsCreator || m.IsParticipant) && m.Date.Before(now)
	}), nil
}

// AvailableMatches returns matches the user neither created nor joined.
// Full matches are included; CanJoin tells them apart.
func (s *Service) AvailableMatches(ctx context.Context, sess auth.Session) ([]models.EnrichedMatch, error) {
	all, err := s.listEnriched(ctx, sess)
	if err != nil {
		return nil, err
	}
	return filter(all, func(m models.EnrichedMatch) bool {
		return !m.IsCreator && !m.IsParticipant
	}), nil
}

func (s *Service) GetMatchByID(ctx context.Context, sess auth.Session, matchID uuid.UUID) (_ *models.EnrichedMatch, err error) {
	const op = "match.Get"
	defer apperr.Recover(op, &err)

	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		s.logger.Error("failed to get match", zap.Stringer("match_id", matchID), zap.Error(err))
		return nil, apperr.DataAccess(op, "could not load match", err)
	}
	if m == nil {
		return nil, apperr.NotFound(op, "match not found")
	}
	enriched, err := s.Enrich(ctx, sess, []models.Match{*m})
	if err != nil {
		return nil, err
	}
	return &enriched[0], nil
}

// CreateMatch validates the input, combines date and time-of-day, and
// stores the match with the session user registered as its first
// participant.
func (s *Service) CreateMatch(ctx context.Context, sess auth.Session, in CreateInput) (_ *models.EnrichedMatch, err error) {
	const op = "match.Create"
	defer func() { metrics.ObserveMatchOp("create", err) }()
	defer apperr.Recover(op, &err)

	if !sess.Authenticated() {
		return nil, apperr.Validation(op, "you must be signed in to create a match")
	}
	nm, err := in.normalize(op, s.loc)
	if err != nil {
		return nil, err
	}
	nm.CreatorID = sess.UserID

	created, err := s.matches.CreateWithCreator(ctx, nm, s.displayName(ctx, sess))
	if err != nil {
		s.logger.Error("failed to create match", zap.Error(err))
		return nil, apperr.Operation(op, "could not create match", err)
	}

	s.logger.Info("match created",
		zap.Stringer("match_id", created.ID),
		zap.Stringer("creator_id", sess.UserID),
	)
	return s.GetMatchByID(ctx, sess, created.ID)
}

// JoinMatch registers the session user as a participant.
func (s *Service) JoinMatch(ctx context.Context, sess auth.Session, matchID uuid.UUID) (err error) {
	const op = "match.Join"
	defer func() { metrics.ObserveMatchOp("join", err) }()
	defer apperr.Recover(op, &err)

	if !sess.Authenticated() {
		return apperr.Validation(op, "you must be signed in to join a match")
	}
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return apperr.DataAccess(op, "could not load match", err)
	}
	if m == nil {
		return apperr.NotFound(op, "match not found")
	}
	if m.CreatorID == sess.UserID {
		return apperr.Validation(op, "you created this match")
	}
	already, err := s.participants.IsParticipant(ctx, matchID, sess.UserID)
	if err != nil {
		return apperr.DataAccess(op, "could not check participation", err)
	}
	if already {
		return apperr.Validation(op, "you already joined this match")
	}
	if m.IsFull() {
		return apperr.Validation(op, "match is full")
	}

	err = s.participants.Add(ctx, models.Participant{
		MatchID:     matchID,
		UserID:      sess.UserID,
		DisplayName: s.displayName(ctx, sess),
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Validation(op, "you already joined this match")
	case errors.Is(err, repository.ErrMatchFull):
		return apperr.Validation(op, "match is full")
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(op, "match not found")
	default:
		s.logger.Error("failed to join match", zap.Stringer("match_id", matchID), zap.Error(err))
		return apperr.Operation(op, "could not join match", err)
	}

	s.logger.Info("match joined",
		zap.Stringer("match_id", matchID),
		zap.Stringer("user_id", sess.UserID),
	)
	return nil
}

// LeaveMatch removes the session user's participant row. The creator cannot
// leave; they delete the match instead.
func (s *Service) LeaveMatch(ctx context.Context, sess auth.Session, matchID uuid.UUID) (err error) {
	const op = "match.Leave"
	defer func() { metrics.ObserveMatchOp("leave", err) }()
	defer apperr.Recover(op, &err)

	if !sess.Authenticated() {
		return apperr.Validation(op, "you must be signed in to leave a match")
	}
	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return apperr.DataAccess(op, "could not load match", err)
	}
	if m == nil {
		return apperr.NotFound(op, "match not found")
	}
	if m.CreatorID == sess.UserID {
		return apperr.Validation(op, "the creator cannot leave the match")
	}

	removed, err := s.participants.Remove(ctx, matchID, sess.UserID)
	if err != nil {
		s.logger.Error("failed to leave match", zap.Stringer("match_id", matchID), zap.Error(err))
		return apperr.Operation(op, "could not leave match", err)
	}
	if !removed {
		return apperr.Operation(op, "you are not a participant of this match", nil)
	}
	return nil
}

// DeleteMatch removes the match and all its participants. Only the creator
// may delete.
func (s *Service) DeleteMatch(ctx context.Context, sess auth.Session, matchID uuid.UUID) (err error) {
	const op = "match.Delete"
	defer func() { metrics.ObserveMatchOp("delete", err) }()
	defer apperr.Recover(op, &err)

	m, err := s.matches.GetByID(ctx, matchID)
	if err != nil {
		return apperr.DataAccess(op, "could not load match", err)
	}
	if m == nil {
		return apperr.NotFound(op, "match not found")
	}
	if !sess.Authenticated() || m.CreatorID != sess.UserID {
		return apperr.Validation(op, "only the creator can delete the match")
	}

	if err := s.matches.Delete(ctx, matchID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(op, "match not found")
		}
		s.logger.Error("failed to delete match", zap.Stringer("match_id", matchID), zap.Error(err))
		return apperr.Operation(op, "could not delete match", err)
	}

	s.logger.Info("match deleted", zap.Stringer("match_id", matchID))
	return nil
}

// displayName is the name copied into the user's participant row: the
// profile's full name, or the name in the token when the profile cannot
// be read.
func (s *Service) displayName(ctx context.Context, sess auth.Session) string {
	p, err := s.profiles.GetByID(ctx, sess.UserID)
	if err != nil {
		s.logger.Warn("failed to read profile name", zap.Stringer("user_id", sess.UserID), zap.Error(err))
		return sess.Name()
	}
	if p == nil || strings.TrimSpace(p.FullName) == "" {
		return sess.Name()
	}
	return p.FullName
}

// CanJoin reports whether the user the match was enriched for may join it.
func CanJoin(m models.EnrichedMatch) bool {
	return !m.IsCreator && !m.IsParticipant && !m.IsFull()
}

func filter(in []models.EnrichedMatch, keep func(models.EnrichedMatch) bool) []models.EnrichedMatch {
	out := make([]models.EnrichedMatch, 0, len(in))
	for _, m := range in {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
