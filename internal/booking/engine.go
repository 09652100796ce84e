package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"zapys/internal/domain"
	"zapys/internal/events"
	"zapys/internal/metrics"
	"zapys/internal/models"
	"zapys/internal/worker"

	"github.com/rs/zerolog"
)

// Deps are the collaborators of the Engine. Calendar, Events, Notifier and
// Metrics may be nil.
type Deps struct {
	Cache    *Cache
	Ledger   *Ledger
	Calendar domain.Calendar
	Pool     *worker.Pool
	Store    domain.ReservationRepository
	Events   domain.EventPublisher
	Notifier domain.Notifier
	Metrics  *metrics.Metrics
	Logger   *zerolog.Logger
	Now      func() time.Time
}

// Engine decides which slots are free and turns a free slot into a
// reservation without double booking.
type Engine struct {
	rules    Rules
	cache    *Cache
	ledger   *Ledger
	cal      domain.Calendar
	pool     *worker.Pool
	store    domain.ReservationRepository
	events   domain.EventPublisher
	notifier domain.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	// mu makes the conflict check and the ledger insert one step.
	mu sync.Mutex
}

func NewEngine(rules Rules, deps Deps) *Engine {
	if rules.Location == nil {
		rules.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Pool == nil {
		deps.Pool = worker.NewPool(models.DefaultRemoteWorkers, time.Duration(models.DefaultRemoteTimeout)*time.Second)
	}
	if deps.Ledger == nil {
		deps.Ledger = NewLedger(rules.Location)
	}
	if deps.Cache == nil {
		deps.Cache = NewCache(deps.Calendar, deps.Pool, CacheOptions{
			Location: rules.Location,
			Metrics:  deps.Metrics,
			Logger:   deps.Logger,
			Now:      deps.Now,
		})
	}
	l := zerolog.Nop()
	if deps.Logger != nil {
		l = deps.Logger.With().Str("component", "engine").Logger()
	}
	return &Engine{
		rules:    rules,
		cache:    deps.Cache,
		ledger:   deps.Ledger,
		cal:      deps.Calendar,
		pool:     deps.Pool,
		store:    deps.Store,
		events:   deps.Events,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   l,
		now:      deps.Now,
	}
}

func (e *Engine) Rules() Rules { return e.rules }

// Now returns the current instant in the business time zone.
func (e *Engine) Now() time.Time { return e.now().In(e.rules.Location) }

func (e *Engine) Ledger() *Ledger { return e.ledger }

func (e *Engine) Cache() *Cache { return e.cache }

// CheckDay validates that day lies between today and the booking horizon.
func (e *Engine) CheckDay(day time.Time) error {
	today := e.rules.DayStart(e.Now())
	d := e.rules.DayStart(day)
	if d.Before(today) {
		return ErrPastSlot
	}
	if d.After(today.AddDate(0, 0, e.rules.MaxDaysAhead)) {
		return ErrOutOfRange
	}
	return nil
}

func (e *Engine) checkSlot(start time.Time) error {
	if err := e.CheckDay(start); err != nil {
		return err
	}
	if !start.After(e.Now()) {
		return ErrPastSlot
	}
	if !e.rules.WithinHours(start) {
		return ErrOutsideHours
	}
	return nil
}

// remoteBusy reads the day through the cache. An unavailable calendar is
// reported to the caller; everything else fails open inside the cache.
func (e *Engine) remoteBusy(ctx context.Context, day time.Time) ([]models.BusyInterval, error) {
	return e.cache.GetBusy(ctx, day)
}

func (e *Engine) isFreeLocked(remote []models.BusyInterval, start time.Time, ignoreEventID string) bool {
	if e.rules.conflicts(remote, start, ignoreEventID) {
		return false
	}
	return !e.rules.conflicts(e.ledger.Busy(start), start, ignoreEventID)
}

// IsFree reports whether start can be reserved right now.
func (e *Engine) IsFree(ctx context.Context, start time.Time) bool {
	start = start.In(e.rules.Location)
	if e.checkSlot(start) != nil {
		return false
	}
	remote, err := e.remoteBusy(ctx, start)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isFreeLocked(remote, start, "")
}

// FreeSlots lists the free slot starts of day in ascending order. The day is
// refetched from the remote calendar first.
func (e *Engine) FreeSlots(ctx context.Context, day time.Time) ([]time.Time, error) {
	if err := e.CheckDay(day); err != nil {
		return nil, err
	}
	e.cache.Invalidate(day)
	remote, err := e.remoteBusy(ctx, day)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	open := e.rules.At(day, e.rules.Open)
	closing := e.rules.At(day, e.rules.Close)

	e.mu.Lock()
	defer e.mu.Unlock()

	var slots []time.Time
	for t := open; t.Before(closing); t = t.Add(e.rules.Step) {
		if t.Add(e.rules.SlotDuration).After(closing) {
			break
		}
		if !t.After(now) {
			continue
		}
		if e.isFreeLocked(remote, t, "") {
			slots = append(slots, t)
		}
	}
	return slots, nil
}

// Reserve books start for userID. The ledger entry is added under the engine
// lock, then the remote event is created. A failed remote insert removes the
// ledger entry again and returns ErrRemoteUnavailable.
func (e *Engine) Reserve(ctx context.Context, userID int64, start time.Time, fields models.ContactFields) (*models.Reservation, error) {
	start = start.In(e.rules.Location)
	if err := e.checkSlot(start); err != nil {
		return nil, err
	}
	if e.cal == nil {
		return nil, ErrRemoteUnavailable
	}
	remote, err := e.remoteBusy(ctx, start)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if !e.isFreeLocked(remote, start, "") {
		e.mu.Unlock()
		e.metrics.IncConflict()
		return nil, ErrSlotTaken
	}
	e.ledger.Add(models.BusyInterval{
		Start:   start,
		End:     start.Add(e.rules.SlotDuration),
		OwnerID: userID,
	})
	e.mu.Unlock()

	code := models.RecordCode(start)
	input := e.eventInput(userID, code, start, fields)

	var eventID string
	began := time.Now()
	err = e.pool.Do(ctx, func(callCtx context.Context) error {
		id, err := e.cal.InsertEvent(callCtx, input)
		if err != nil {
			return err
		}
		eventID = id
		return nil
	})
	e.metrics.ObserveRemote("insert", time.Since(began), err)
	if err != nil {
		e.ledger.Remove(start)
		e.logger.Error().Err(err).Int64("user_id", userID).Str("record_code", code).Msg("remote insert failed, reservation rolled back")
		e.alertOperators(fmt.Sprintf("⚠️ Не вдалося створити подію в календарі для %s (%s): %v", fields.FullName, code, err))
		e.publish(events.EventReservationFailed, events.ReservationEventPayload{UserID: userID, RecordCode: code, Start: start, Reason: err.Error()})
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	e.ledger.Attach(start, eventID)
	e.cache.Invalidate(start)

	res := &models.Reservation{
		EventID:    eventID,
		UserID:     userID,
		RecordCode: code,
		Start:      start,
		Fields:     fields,
	}
	if e.store != nil {
		if err := e.store.SaveReservation(ctx, res); err != nil {
			e.logger.Error().Err(err).Str("event_id", eventID).Str("record_code", code).Msg("persist reservation")
			e.alertOperators(fmt.Sprintf("⚠️ Запис %s (подія %s) створено в календарі, але не збережено локально: %v\n👤 %s, %s 🆔 %d",
				code, eventID, err, fields.FullName, fields.Phone, userID))
		}
	}

	e.metrics.IncReservation("created")
	e.logger.Info().Int64("user_id", userID).Str("record_code", code).Str("event_id", eventID).Msg("reservation created")
	e.publish(events.EventReservationCreated, payloadOf(res, ""))
	return res, nil
}

// Reschedule moves an existing reservation to start and replaces its
// contact fields. The reservation's own interval does not block the move.
func (e *Engine) Reschedule(ctx context.Context, current *models.Reservation, start time.Time, fields models.ContactFields) (*models.Reservation, error) {
	if current == nil || current.EventID == "" {
		return nil, ErrNotFound
	}
	start = start.In(e.rules.Location)
	moved := !start.Equal(current.Start)
	if moved {
		if err := e.checkSlot(start); err != nil {
			return nil, err
		}
	}
	if e.cal == nil {
		return nil, ErrRemoteUnavailable
	}
	remote, err := e.remoteBusy(ctx, start)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if !e.isFreeLocked(remote, start, current.EventID) {
		e.mu.Unlock()
		e.metrics.IncConflict()
		return nil, ErrSlotTaken
	}
	if moved {
		e.ledger.Add(models.BusyInterval{
			EventID: current.EventID,
			Start:   start,
			End:     start.Add(e.rules.SlotDuration),
			OwnerID: current.UserID,
		})
	}
	e.mu.Unlock()

	code := models.RecordCode(start)
	input := e.eventInput(current.UserID, code, start, fields)

	began := time.Now()
	err = e.pool.Do(ctx, func(callCtx context.Context) error {
		return e.cal.UpdateEvent(callCtx, current.EventID, input)
	})
	e.metrics.ObserveRemote("update", time.Since(began), err)
	if err != nil {
		if moved {
			e.ledger.Remove(start)
		}
		e.logger.Error().Err(err).Str("event_id", current.EventID).Msg("remote update failed, reservation unchanged")
		e.alertOperators(fmt.Sprintf("⚠️ Не вдалося змінити запис %s: %v", current.RecordCode, err))
		return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	if moved {
		e.ledger.Remove(current.Start)
		e.cache.Invalidate(current.Start)
	}
	e.cache.Invalidate(start)

	updated := *current
	updated.Start = start
	updated.RecordCode = code
	updated.Fields = fields
	if e.store != nil {
		if err := e.store.SaveReservation(ctx, &updated); err != nil {
			e.logger.Error().Err(err).Str("event_id", updated.EventID).Str("record_code", code).Msg("persist rescheduled reservation")
			e.alertOperators(fmt.Sprintf("⚠️ Запис %s перенесено на %s (подія %s), але зміну не збережено локально: %v",
				current.RecordCode, code, updated.EventID, err))
		}
	}

	e.metrics.IncReservation("updated")
	e.logger.Info().Str("event_id", updated.EventID).Str("previous_code", current.RecordCode).Str("record_code", code).Msg("reservation rescheduled")
	e.publish(events.EventReservationUpdated, payloadOf(&updated, current.RecordCode))
	return &updated, nil
}

// Release cancels a reservation. The slot is freed locally even if the
// remote delete fails.
func (e *Engine) Release(ctx context.Context, r *models.Reservation) bool {
	if r == nil {
		return false
	}
	e.mu.Lock()
	removed := e.ledger.RemoveEvent(r.EventID)
	if !removed {
		removed = e.ledger.Remove(r.Start)
	}
	e.mu.Unlock()

	if e.cal != nil && r.EventID != "" {
		began := time.Now()
		err := e.pool.Do(ctx, func(callCtx context.Context) error {
			return e.cal.DeleteEvent(callCtx, r.EventID)
		})
		e.metrics.ObserveRemote("delete", time.Since(began), err)
		if err != nil {
			e.logger.Error().Err(err).Str("event_id", r.EventID).Msg("remote delete failed")
			e.alertOperators(fmt.Sprintf("⚠️ Запис %s скасовано, але подію в календарі не видалено: %v", r.RecordCode, err))
		}
	}
	e.cache.Invalidate(r.Start)

	stored := false
	if e.store != nil {
		existing, err := e.store.GetReservationByEvent(ctx, r.EventID)
		if err != nil {
			e.logger.Error().Err(err).Str("event_id", r.EventID).Msg("lookup reservation")
		}
		stored = existing != nil
		if err := e.store.DeleteReservation(ctx, r.EventID); err != nil {
			e.logger.Error().Err(err).Str("event_id", r.EventID).Msg("delete reservation")
		}
	}

	e.metrics.IncReservation("cancelled")
	e.logger.Info().Str("event_id", r.EventID).Str("record_code", r.RecordCode).Msg("reservation cancelled")
	e.publish(events.EventReservationCancelled, payloadOf(r, ""))
	return removed || stored
}

// ReservationByCode finds one of userID's reservations by record code.
func (e *Engine) ReservationByCode(ctx context.Context, userID int64, code string) (*models.Reservation, error) {
	if e.store == nil {
		return nil, ErrNotFound
	}
	r, err := e.store.GetReservationByCode(ctx, userID, strings.ToUpper(code))
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNotFound
	}
	r.Start = r.Start.In(e.rules.Location)
	return r, nil
}

// CancelByCode releases the user's reservation carrying code.
func (e *Engine) CancelByCode(ctx context.Context, userID int64, code string) (*models.Reservation, error) {
	r, err := e.ReservationByCode(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	e.Release(ctx, r)
	return r, nil
}

// Reservations lists the user's upcoming reservations in start order.
func (e *Engine) Reservations(ctx context.Context, userID int64) ([]*models.Reservation, error) {
	if e.store == nil {
		return nil, nil
	}
	all, err := e.store.ListReservationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := e.Now()
	var out []*models.Reservation
	for _, r := range all {
		r.Start = r.Start.In(e.rules.Location)
		if r.Start.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Latest returns the user's most recently scheduled reservation, past or upcoming.
func (e *Engine) Latest(ctx context.Context, userID int64) (*models.Reservation, error) {
	if e.store == nil {
		return nil, ErrNotFound
	}
	all, err := e.store.ListReservationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	latest := all[len(all)-1]
	latest.Start = latest.Start.In(e.rules.Location)
	return latest, nil
}

// Owner resolves who holds a busy interval: the stored reservation first,
// then the owner marker of the remote event.
func (e *Engine) Owner(ctx context.Context, b models.BusyInterval) (int64, *models.Reservation) {
	if e.store != nil && b.EventID != "" {
		r, err := e.store.GetReservationByEvent(ctx, b.EventID)
		if err != nil {
			e.logger.Warn().Err(err).Str("event_id", b.EventID).Msg("owner lookup")
		}
		if r != nil {
			return r.UserID, r
		}
	}
	if b.OwnerID != 0 {
		return b.OwnerID, nil
	}
	return models.ParseOwner(b.Description), nil
}

// Busy merges remote and ledger intervals of day, ledger entries first.
func (e *Engine) Busy(ctx context.Context, day time.Time) ([]models.BusyInterval, error) {
	remote, err := e.cache.GetBusy(ctx, day)
	local := e.ledger.Busy(day)
	seen := make(map[string]bool, len(local))
	out := make([]models.BusyInterval, 0, len(local)+len(remote))
	for _, b := range local {
		if b.EventID != "" {
			seen[b.EventID] = true
		}
		out = append(out, b)
	}
	for _, b := range remote {
		if b.EventID != "" && seen[b.EventID] {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}

// Warm loads stored upcoming reservations into the ledger.
func (e *Engine) Warm(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	from := e.rules.DayStart(e.Now())
	to := from.AddDate(0, 0, e.rules.MaxDaysAhead+1)
	list, err := e.store.ListReservationsBetween(ctx, from, to)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range list {
		start := r.Start.In(e.rules.Location)
		e.ledger.RemoveEvent(r.EventID)
		e.ledger.Add(models.BusyInterval{
			EventID: r.EventID,
			Start:   start,
			End:     start.Add(e.rules.SlotDuration),
			OwnerID: r.UserID,
		})
	}
	return len(list), nil
}

// Prune drops ledger entries that ended before now.
func (e *Engine) Prune() int {
	return e.ledger.Prune(e.Now())
}

func (e *Engine) eventInput(userID int64, code string, start time.Time, f models.ContactFields) models.EventInput {
	var b strings.Builder
	fmt.Fprintf(&b, "Код запису: %s\n", code)
	fmt.Fprintf(&b, "ПІБ: %s\n", f.FullName)
	if f.Gender != "" {
		fmt.Fprintf(&b, "Стать: %s\n", f.Gender)
	}
	if f.BirthYear != 0 {
		fmt.Fprintf(&b, "Рік народження: %d\n", f.BirthYear)
	}
	fmt.Fprintf(&b, "Телефон: %s\n", f.Phone)
	if f.Email != "" {
		fmt.Fprintf(&b, "Email: %s\n", f.Email)
	}
	if f.Address != "" {
		fmt.Fprintf(&b, "Адреса: %s\n", f.Address)
	}
	b.WriteString(models.OwnerMarker(userID))

	return models.EventInput{
		Summary:     "Запис: " + f.FullName,
		Description: b.String(),
		Start:       start,
		End:         start.Add(e.rules.SlotDuration),
	}
}

func (e *Engine) alertOperators(text string) {
	if e.notifier != nil {
		e.notifier.NotifyOperators(text)
	}
}

func (e *Engine) publish(eventType string, payload events.ReservationEventPayload) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishJSON(eventType, payload); err != nil {
		e.logger.Warn().Err(err).Str("event", eventType).Msg("publish event")
	}
}

func payloadOf(r *models.Reservation, previousCode string) events.ReservationEventPayload {
	return events.ReservationEventPayload{
		EventID:      r.EventID,
		UserID:       r.UserID,
		RecordCode:   r.RecordCode,
		PreviousCode: previousCode,
		Start:        r.Start,
		Reservation:  r,
	}
}

// IsUnavailable reports whether err means the remote calendar could not be used.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable)
}
