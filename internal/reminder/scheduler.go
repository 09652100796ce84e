package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zapys/internal/booking"
	"zapys/internal/domain"
	"zapys/internal/metrics"
	"zapys/internal/models"

	"github.com/rs/zerolog"
)

// Source is the view of booking state the scheduler reads.
type Source interface {
	Now() time.Time
	Rules() booking.Rules
	Busy(ctx context.Context, day time.Time) ([]models.BusyInterval, error)
	Owner(ctx context.Context, b models.BusyInterval) (int64, *models.Reservation)
}

type sentKey struct {
	eventID string
	lead    time.Duration
}

// Scheduler sends one reminder per event and lead time.
type Scheduler struct {
	source   Source
	notifier domain.Notifier
	leads    []time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu   sync.Mutex
	sent map[sentKey]time.Time
}

func NewScheduler(source Source, notifier domain.Notifier, leadMinutes []int, interval time.Duration, m *metrics.Metrics, logger *zerolog.Logger) *Scheduler {
	leads := make([]time.Duration, 0, len(leadMinutes))
	for _, l := range leadMinutes {
		if l > 0 {
			leads = append(leads, time.Duration(l)*time.Minute)
		}
	}
	sort.Slice(leads, func(i, j int) bool { return leads[i] < leads[j] })
	if interval <= 0 {
		interval = time.Duration(models.DefaultReminderInterval) * time.Second
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "reminder").Logger()
	}
	return &Scheduler{
		source:   source,
		notifier: notifier,
		leads:    leads,
		interval: interval,
		metrics:  m,
		logger:   l,
		sent:     make(map[sentKey]time.Time),
	}
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.leads) == 0 {
		s.logger.Warn().Msg("no lead times configured, reminders disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		now := s.source.Now()
		if n := s.Sweep(ctx, now); n > 0 {
			s.logger.Info().Int("sent", n).Msg("reminders sent")
		}
		s.Prune(now)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep checks today and tomorrow and returns the number of reminders sent.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) int {
	rules := s.source.Rules()
	today := rules.DayStart(now)

	sent := 0
	for _, day := range []time.Time{today, today.AddDate(0, 0, 1)} {
		busy, err := s.source.Busy(ctx, day)
		if err != nil {
			s.logger.Warn().Err(err).Str("day", day.Format("2006-01-02")).Msg("reminder sweep skipped day")
			continue
		}
		for _, b := range busy {
			if b.EventID == "" {
				continue
			}
			lead, ok := s.due(b, now)
			if !ok {
				continue
			}
			s.remind(ctx, b, now, lead)
			sent++
		}
	}
	return sent
}

// due picks the smallest lead that covers the remaining time and marks it
// and every larger lead as sent.
func (s *Scheduler) due(b models.BusyInterval, now time.Time) (time.Duration, bool) {
	remaining := b.Start.Sub(now)
	if remaining <= 0 {
		return 0, false
	}

	idx := -1
	for i, l := range s.leads {
		if remaining <= l {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lead := s.leads[idx]
	if _, done := s.sent[sentKey{b.EventID, lead}]; done {
		return 0, false
	}
	for _, l := range s.leads[idx:] {
		s.sent[sentKey{b.EventID, l}] = b.Start
	}
	return lead, true
}

func (s *Scheduler) remind(ctx context.Context, b models.BusyInterval, now time.Time, lead time.Duration) {
	loc := s.source.Rules().Location
	minutes := int((b.Start.Sub(now) + time.Minute - 1) / time.Minute)
	at := b.Start.In(loc).Format("02.01.2006 15:04")

	ownerID, r := s.source.Owner(ctx, b)
	code := models.RecordCode(b.Start.In(loc))
	who := "невідомий клієнт"
	if r != nil {
		code = r.RecordCode
		who = fmt.Sprintf("%s, %s", r.Fields.FullName, r.Fields.Phone)
	}

	if ownerID != 0 {
		s.notifier.Notify(ownerID, fmt.Sprintf("⏰ Нагадування: через %d хв у вас запис %s (%s).", minutes, code, at))
	}
	s.notifier.NotifyOperators(fmt.Sprintf("⏰ Через %d хв: запис %s на %s\n👤 %s\n🆔 %d", minutes, code, at, who, ownerID))

	s.metrics.IncReminder(int(lead / time.Minute))
	s.logger.Debug().Str("event_id", b.EventID).Int64("user_id", ownerID).Dur("lead", lead).Msg("reminder sent")
}

// Prune forgets reminders of events that started before before.
func (s *Scheduler) Prune(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, start := range s.sent {
		if start.Before(before) {
			delete(s.sent, k)
			n++
		}
	}
	return n
}

// Pending reports how many (event, lead) records are held.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
