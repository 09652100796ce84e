package repository

import (
	"context"
	"sync/atomic"
	"time"

	"zapys/internal/domain"
	"zapys/internal/metrics"
	"zapys/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverSessionRepository uses primary until it fails, then serves from
// fallback and retries primary once a minute.
type FailoverSessionRepository struct {
	primary   domain.SessionRepository
	fallback  domain.SessionRepository
	logger    *zerolog.Logger
	metrics   *metrics.Metrics
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

var _ domain.SessionRepository = (*FailoverSessionRepository)(nil)

func NewFailoverSessionRepository(primary, fallback domain.SessionRepository, logger *zerolog.Logger, m *metrics.Metrics) *FailoverSessionRepository {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverSessionRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverSessionRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	last := time.Unix(0, r.lastCheck.Load())
	if r.now().Sub(last) > recoveryInterval {
		r.lastCheck.Store(r.now().UnixNano())
		return true
	}
	return false
}

func (r *FailoverSessionRepository) markResult(op string, err error) {
	if err == nil {
		if r.isDown.CompareAndSwap(true, false) {
			r.logger.Info().Str("op", op).Msg("primary session store recovered")
		}
		return
	}
	if r.isDown.CompareAndSwap(false, true) {
		r.metrics.IncFailover()
		r.logger.Error().Err(err).Str("op", op).Msg("primary session store failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverSessionRepository) GetSession(ctx context.Context, userID int64) (*models.Session, error) {
	if r.usePrimary() {
		s, err := r.primary.GetSession(ctx, userID)
		r.markResult("get", err)
		if err == nil {
			return s, nil
		}
	}
	return r.fallback.GetSession(ctx, userID)
}

func (r *FailoverSessionRepository) SaveSession(ctx context.Context, session *models.Session) error {
	if r.usePrimary() {
		err := r.primary.SaveSession(ctx, session)
		r.markResult("save", err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.SaveSession(ctx, session)
}

func (r *FailoverSessionRepository) ClearSession(ctx context.Context, userID int64) error {
	// the fallback may hold a copy written while primary was down
	_ = r.fallback.ClearSession(ctx, userID)
	if r.usePrimary() {
		r.markResult("clear", r.primary.ClearSession(ctx, userID))
	}
	return nil
}

func (r *FailoverSessionRepository) CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		r.markResult("rate_limit", err)
		if err == nil {
			return allowed, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}

// Degraded reports whether calls are currently served by the fallback.
func (r *FailoverSessionRepository) Degraded() bool {
	return r.isDown.Load()
}
