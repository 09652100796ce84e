package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"zapys/internal/domain"
	"zapys/internal/metrics"
	"zapys/internal/models"
	"zapys/internal/worker"

	"github.com/rs/zerolog"
)

type cacheEntry struct {
	intervals []models.BusyInterval
	fetchedAt time.Time
}

// Cache keeps the remote calendar's busy intervals per day for a short TTL.
// The mutex is never held while the remote calendar is being called.
type Cache struct {
	cal     domain.Calendar
	pool    *worker.Pool
	ttl     time.Duration
	loc     *time.Location
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	days        map[string]cacheEntry
	generations map[string]uint64
	everFetched atomic.Bool
}

type CacheOptions struct {
	TTL      time.Duration
	Location *time.Location
	Metrics  *metrics.Metrics
	Logger   *zerolog.Logger
	Now      func() time.Time
}

// NewCache builds a cache over cal. A nil cal is allowed and reports the
// calendar as unavailable.
func NewCache(cal domain.Calendar, pool *worker.Pool, opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = time.Duration(models.DefaultCacheTTL) * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if pool == nil {
		pool = worker.NewPool(models.DefaultRemoteWorkers, time.Duration(models.DefaultRemoteTimeout)*time.Second)
	}
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = opts.Logger.With().Str("component", "availability_cache").Logger()
	}
	return &Cache{
		cal:         cal,
		pool:        pool,
		ttl:         opts.TTL,
		loc:         opts.Location,
		metrics:     opts.Metrics,
		logger:      l,
		now:         opts.Now,
		days:        make(map[string]cacheEntry),
		generations: make(map[string]uint64),
	}
}

func (c *Cache) dayKey(day time.Time) string {
	return day.In(c.loc).Format(dayKeyLayout)
}

// GetBusy returns the remote busy intervals of day sorted by start.
// After the calendar has answered once, a failed refresh yields an empty
// set and no error. Before that ErrRemoteUnavailable is returned.
func (c *Cache) GetBusy(ctx context.Context, day time.Time) ([]models.BusyInterval, error) {
	key := c.dayKey(day)

	c.mu.Lock()
	entry, ok := c.days[key]
	gen := c.generations[key]
	c.mu.Unlock()

	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		c.metrics.IncCacheLookup(true)
		return copyIntervals(entry.intervals), nil
	}
	c.metrics.IncCacheLookup(false)

	if c.cal == nil {
		return nil, ErrRemoteUnavailable
	}

	local := day.In(c.loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	to := from.AddDate(0, 0, 1)

	var fetched []models.BusyInterval
	started := time.Now()
	err := c.pool.Do(ctx, func(callCtx context.Context) error {
		list, err := c.cal.ListEvents(callCtx, from, to)
		if err != nil {
			return err
		}
		fetched = list
		return nil
	})
	c.metrics.ObserveRemote("list", time.Since(started), err)

	if err != nil {
		if !c.everFetched.Load() {
			c.logger.Warn().Err(err).Str("day", key).Msg("calendar has not answered yet")
			return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("day", key).Msg("calendar fetch failed, continuing without remote data")
		return nil, nil
	}
	c.everFetched.Store(true)

	for i := range fetched {
		fetched[i].Source = models.SourceRemote
	}
	sort.Slice(fetched, func(i, j int) bool { return fetched[i].Start.Before(fetched[j].Start) })

	c.mu.Lock()
	if c.generations[key] == gen {
		c.days[key] = cacheEntry{intervals: fetched, fetchedAt: c.now()}
	}
	c.mu.Unlock()

	return copyIntervals(fetched), nil
}

// Invalidate forgets day so the next lookup refetches it. A fetch already
// in flight for day will not repopulate the entry.
func (c *Cache) Invalidate(day time.Time) {
	key := c.dayKey(day)
	c.mu.Lock()
	delete(c.days, key)
	c.generations[key]++
	c.mu.Unlock()
}

// Connected reports whether the calendar has answered at least once.
func (c *Cache) Connected() bool {
	return c.everFetched.Load()
}

func copyIntervals(in []models.BusyInterval) []models.BusyInterval {
	if in == nil {
		return nil
	}
	out := make([]models.BusyInterval, len(in))
	copy(out, in)
	return out
}
