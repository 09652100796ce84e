package repository

import (
	"context"
	"sync"
	"time"

	"zapys/internal/domain"
	"zapys/internal/models"
)

var _ domain.SessionRepository = (*MemorySessionRepository)(nil)

// MemorySessionRepository keeps sessions in process memory. Sessions idle for
// longer than ttl are invisible to readers and removed by the reaper.
type MemorySessionRepository struct {
	mu         sync.Mutex
	sessions   map[int64]models.Session
	rateLimits map[int64]*rateLimitEntry
	ttl        time.Duration
	now        func() time.Time
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions:   make(map[int64]models.Session),
		rateLimits: make(map[int64]*rateLimitEntry),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (r *MemorySessionRepository) GetSession(_ context.Context, userID int64) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		return nil, nil
	}
	if s.Expired(r.now(), r.ttl) {
		delete(r.sessions, userID)
		return nil, nil
	}
	return &s, nil
}

func (r *MemorySessionRepository) SaveSession(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := *session
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = r.now()
	}
	r.sessions[s.UserID] = s
	return nil
}

func (r *MemorySessionRepository) ClearSession(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemorySessionRepository) CheckRateLimit(_ context.Context, userID int64, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[userID]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[userID] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}

// Reap drops expired sessions and rate-limit windows.
func (r *MemorySessionRepository) Reap() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for id, s := range r.sessions {
		if s.Expired(now, r.ttl) {
			delete(r.sessions, id)
			n++
		}
	}
	for id, e := range r.rateLimits {
		if now.After(e.expiresAt) {
			delete(r.rateLimits, id)
		}
	}
	return n
}

// StartReaper runs Reap every interval until ctx is done.
func (r *MemorySessionRepository) StartReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap()
		}
	}
}
