package service

import (
	"context"
	"time"

	"zapys/internal/domain"
	"zapys/internal/models"

	"github.com/rs/zerolog"
)

// SessionService reads and writes conversation sessions and enforces the idle TTL.
type SessionService struct {
	repo   domain.SessionRepository
	ttl    time.Duration
	logger *zerolog.Logger
	now    func() time.Time
}

func NewSessionService(repo domain.SessionRepository, ttl time.Duration, logger *zerolog.Logger) *SessionService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SessionService{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Load returns the stored session, or nil when the user is idle.
func (s *SessionService) Load(ctx context.Context, userID int64) (*models.Session, error) {
	session, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to get session")
		return nil, err
	}
	if session.Expired(s.now(), s.ttl) {
		s.logger.Debug().Int64("user_id", userID).Msg("session expired")
		_ = s.repo.ClearSession(ctx, userID)
		return nil, nil
	}
	return session, nil
}

// Save stamps the session with the current time and stores it.
func (s *SessionService) Save(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = s.now()
	if err := s.repo.SaveSession(ctx, session); err != nil {
		s.logger.Error().Err(err).Int64("user_id", session.UserID).Msg("failed to save session")
		return err
	}
	return nil
}

func (s *SessionService) Clear(ctx context.Context, userID int64) error {
	return s.repo.ClearSession(ctx, userID)
}

// Allow applies the per-user message rate limit. Storage errors let the message through.
func (s *SessionService) Allow(ctx context.Context, userID int64, limit int, window time.Duration) bool {
	allowed, err := s.repo.CheckRateLimit(ctx, userID, limit, window)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("rate limit check failed")
		return true
	}
	return allowed
}
