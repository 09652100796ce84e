package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zapys/internal/domain"
	"zapys/internal/events"
	"zapys/internal/worker"

	"github.com/rs/zerolog"
)

const enqueueTimeout = 5 * time.Second

// ReservationSubscribers fan reservation events out to operators and the sheets log.
type ReservationSubscribers struct {
	notifier domain.Notifier
	sync     domain.SyncWorker
	loc      *time.Location
	logger   zerolog.Logger
}

func NewReservationSubscribers(notifier domain.Notifier, sync domain.SyncWorker, loc *time.Location, logger *zerolog.Logger) *ReservationSubscribers {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "subscribers").Logger()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ReservationSubscribers{notifier: notifier, sync: sync, loc: loc, logger: l}
}

// Register subscribes to every reservation event type on bus.
func (s *ReservationSubscribers) Register(bus *events.EventBus) {
	bus.Subscribe(events.EventReservationCreated, s.onCreated)
	bus.Subscribe(events.EventReservationUpdated, s.onUpdated)
	bus.Subscribe(events.EventReservationCancelled, s.onCancelled)
	bus.Subscribe(events.EventReservationFailed, s.onFailed)
}

func (s *ReservationSubscribers) onCreated(ev *events.Event) error {
	var p events.ReservationEventPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	s.notify("🆕 Новий запис", p)
	return s.enqueue(worker.TaskAppend, p)
}

func (s *ReservationSubscribers) onUpdated(ev *events.Event) error {
	var p events.ReservationEventPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	title := "✏️ Запис змінено"
	if p.PreviousCode != "" && p.PreviousCode != p.RecordCode {
		title = fmt.Sprintf("✏️ Запис %s перенесено", p.PreviousCode)
	}
	s.notify(title, p)
	return s.enqueue(worker.TaskUpdate, p)
}

func (s *ReservationSubscribers) onCancelled(ev *events.Event) error {
	var p events.ReservationEventPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	s.notify("❌ Запис скасовано", p)
	return s.enqueue(worker.TaskCancel, p)
}

func (s *ReservationSubscribers) onFailed(ev *events.Event) error {
	var p events.ReservationEventPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	s.logger.Warn().
		Int64("user_id", p.UserID).
		Str("record_code", p.RecordCode).
		Str("reason", p.Reason).
		Msg("reservation failed")
	return nil
}

func (s *ReservationSubscribers) notify(title string, p events.ReservationEventPayload) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyOperators(s.describe(title, p))
}

func (s *ReservationSubscribers) enqueue(taskType string, p events.ReservationEventPayload) error {
	if s.sync == nil || p.Reservation == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	if err := s.sync.EnqueueTask(ctx, taskType, p.RecordCode, p.Reservation, p.PreviousCode); err != nil {
		return fmt.Errorf("enqueue %s %s: %w", taskType, p.RecordCode, err)
	}
	return nil
}

func (s *ReservationSubscribers) describe(title string, p events.ReservationEventPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", title, p.RecordCode)
	fmt.Fprintf(&b, "📅 %s\n", p.Start.In(s.loc).Format("02.01.2006 15:04"))
	if r := p.Reservation; r != nil {
		fmt.Fprintf(&b, "👤 %s\n", r.Fields.FullName)
		fmt.Fprintf(&b, "📞 %s\n", r.Fields.Phone)
	}
	fmt.Fprintf(&b, "🆔 %d", p.UserID)
	return b.String()
}
