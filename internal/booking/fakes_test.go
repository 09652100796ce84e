package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"zapys/internal/models"
	"zapys/internal/worker"

	"github.com/stretchr/testify/require"
)

var errCalendarDown = errors.New("calendar down")

type fakeCalendar struct {
	mu        sync.Mutex
	events    map[string]models.BusyInterval
	nextID    int
	listCalls int
	listErr   error
	insertErr error
	deleteErr error
	delay     time.Duration
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: make(map[string]models.BusyInterval)}
}

func (f *fakeCalendar) ListEvents(_ context.Context, from, to time.Time) ([]models.BusyInterval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.BusyInterval
	for _, ev := range f.events {
		if !ev.Start.Before(from) && ev.Start.Before(to) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeCalendar) InsertEvent(_ context.Context, in models.EventInput) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.nextID++
	id := fmt.Sprintf("evt-%d", f.nextID)
	f.events[id] = models.BusyInterval{
		EventID:     id,
		Start:       in.Start,
		End:         in.End,
		Description: in.Description,
		OwnerID:     models.ParseOwner(in.Description),
	}
	return id, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, eventID string, in models.EventInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.events[eventID]; !ok {
		return fmt.Errorf("event %s not found", eventID)
	}
	f.events[eventID] = models.BusyInterval{EventID: eventID, Start: in.Start, End: in.End, Description: in.Description}
	return nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.events, eventID)
	return nil
}

// addRemote places an event created outside this process.
func (f *fakeCalendar) addRemote(id string, start, end time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id] = models.BusyInterval{EventID: id, Start: start, End: end}
}

func (f *fakeCalendar) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeCalendar) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

type memStore struct {
	mu      sync.Mutex
	rows    map[string]models.Reservation
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]models.Reservation)}
}

func (s *memStore) SaveReservation(_ context.Context, r *models.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rows[r.EventID] = *r
	return nil
}

func (s *memStore) DeleteReservation(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, eventID)
	return nil
}

func (s *memStore) GetReservationByEvent(_ context.Context, eventID string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[eventID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *memStore) GetReservationByCode(_ context.Context, userID int64, code string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.UserID == userID && strings.EqualFold(r.RecordCode, code) {
			out := r
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListReservationsByUser(_ context.Context, userID int64) ([]*models.Reservation, error) {
	return s.filter(func(r models.Reservation) bool { return r.UserID == userID }), nil
}

func (s *memStore) ListReservationsBetween(_ context.Context, from, to time.Time) ([]*models.Reservation, error) {
	return s.filter(func(r models.Reservation) bool { return !r.Start.Before(from) && r.Start.Before(to) }), nil
}

func (s *memStore) filter(keep func(models.Reservation) bool) []*models.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Reservation
	for _, r := range s.rows {
		if keep(r) {
			cp := r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

type fakeNotifier struct {
	mu        sync.Mutex
	operators []string
	direct    map[int64][]string
}

func (n *fakeNotifier) Notify(chatID int64, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.direct == nil {
		n.direct = make(map[int64][]string)
	}
	n.direct[chatID] = append(n.direct[chatID], text)
}

func (n *fakeNotifier) NotifyOperators(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.operators = append(n.operators, text)
}

func (n *fakeNotifier) operatorMessages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.operators...)
}

func (n *fakeNotifier) operatorCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.operators)
}

func kyiv(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Kyiv")
	require.NoError(t, err)
	return loc
}

func testRules(loc *time.Location) Rules {
	return Rules{
		Location:     loc,
		Open:         9 * time.Hour,
		Close:        18 * time.Hour,
		Step:         time.Hour,
		SlotDuration: time.Hour,
		Margin:       time.Hour,
		MaxDaysAhead: 60,
	}
}

type engineFixture struct {
	engine   *Engine
	cal      *fakeCalendar
	store    *memStore
	notifier *fakeNotifier
	loc      *time.Location
	now      time.Time
}

// newFixture builds an engine whose clock is fixed at Sunday 2025-11-16 10:00 Kyiv time.
func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	loc := kyiv(t)
	fx := &engineFixture{
		cal:      newFakeCalendar(),
		store:    newMemStore(),
		notifier: &fakeNotifier{},
		loc:      loc,
		now:      time.Date(2025, 11, 16, 10, 0, 0, 0, loc),
	}
	fx.engine = fx.build(fx.cal)
	return fx
}

func (fx *engineFixture) build(cal *fakeCalendar) *Engine {
	clock := func() time.Time { return fx.now }
	deps := Deps{
		Pool:     worker.NewPool(4, time.Second),
		Store:    fx.store,
		Notifier: fx.notifier,
		Now:      clock,
	}
	if cal != nil {
		deps.Calendar = cal
	}
	return NewEngine(testRules(fx.loc), deps)
}

func (fx *engineFixture) at(day, hour, minute int) time.Time {
	return time.Date(2025, 11, day, hour, minute, 0, 0, fx.loc)
}

var testFields = models.ContactFields{
	FullName:  "Шевченко Тарас",
	Gender:    "Чоловіча",
	BirthYear: 1985,
	Phone:     "+380501234567",
	Address:   "Київ",
}
