package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"zapys/internal/events"
	"zapys/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeSlotsEmptyDay(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	slots, err := fx.engine.FreeSlots(ctx, fx.at(17, 0, 0))
	require.NoError(t, err)
	require.Len(t, slots, 9)
	assert.True(t, slots[0].Equal(fx.at(17, 9, 0)))
	assert.True(t, slots[8].Equal(fx.at(17, 17, 0)))

	// today only lists slots after the current time
	today, err := fx.engine.FreeSlots(ctx, fx.now)
	require.NoError(t, err)
	require.Len(t, today, 7)
	assert.True(t, today[0].Equal(fx.at(16, 11, 0)))
}

func TestFreeSlotsIsRestartable(t *testing.T) {
	fx := newFixture(t)
	fx.cal.addRemote("r1", fx.at(17, 12, 0), fx.at(17, 13, 0))
	ctx := context.Background()

	first, err := fx.engine.FreeSlots(ctx, fx.at(17, 0, 0))
	require.NoError(t, err)
	second, err := fx.engine.FreeSlots(ctx, fx.at(17, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 0, fx.engine.Ledger().Len())
}

func TestFreeSlotsRespectsMargin(t *testing.T) {
	fx := newFixture(t)
	rules := testRules(fx.loc)
	rules.Step = 30 * time.Minute
	fx.engine = NewEngine(rules, Deps{Calendar: fx.cal, Store: fx.store, Now: func() time.Time { return fx.now }})
	fx.cal.addRemote("r1", fx.at(17, 14, 0), fx.at(17, 15, 0))

	slots, err := fx.engine.FreeSlots(context.Background(), fx.at(17, 0, 0))
	require.NoError(t, err)

	got := make(map[string]bool)
	for _, s := range slots {
		got[s.Format("15:04")] = true
	}
	assert.True(t, got["13:00"])
	assert.False(t, got["13:30"])
	assert.False(t, got["14:00"])
	assert.False(t, got["14:30"])
	assert.True(t, got["15:00"])
	assert.False(t, got["17:30"], "slot must end by closing time")
}

func TestFreeSlotsRejectsDaysOutsideWindow(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.engine.FreeSlots(context.Background(), fx.at(15, 0, 0))
	assert.ErrorIs(t, err, ErrPastSlot)

	_, err = fx.engine.FreeSlots(context.Background(), fx.now.AddDate(0, 0, 61))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestReserveNoDoubleBooking(t *testing.T) {
	fx := newFixture(t)
	fx.cal.delay = 5 * time.Millisecond
	start := fx.at(17, 14, 0)

	const callers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		taken     int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := fx.engine.Reserve(context.Background(), user, start, testFields)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotTaken):
				taken++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, taken)
	assert.Equal(t, 1, fx.cal.count())
	assert.Equal(t, 1, fx.engine.Ledger().Len())
}

func TestReserveNeighbouringSlotsConcurrently(t *testing.T) {
	fx := newFixture(t)
	fx.cal.delay = 5 * time.Millisecond

	// 14:00 and 14:30 are closer than the margin, so only one may win
	starts := []time.Time{fx.at(17, 14, 0), fx.at(17, 14, 30)}
	var wg sync.WaitGroup
	results := make([]error, len(starts))
	for i, s := range starts {
		wg.Add(1)
		go func(i int, s time.Time) {
			defer wg.Done()
			_, results[i] = fx.engine.Reserve(context.Background(), int64(i+1), s, testFields)
		}(i, s)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrSlotTaken)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestReserveRecordCodeRoundTrip(t *testing.T) {
	fx := newFixture(t)
	bus := events.NewEventBus()
	var published []events.ReservationEventPayload
	bus.Subscribe(events.EventReservationCreated, func(e *events.Event) error {
		var p events.ReservationEventPayload
		require.NoError(t, e.Decode(&p))
		published = append(published, p)
		return nil
	})
	fx.engine = NewEngine(testRules(fx.loc), Deps{Calendar: fx.cal, Store: fx.store, Events: bus, Now: func() time.Time { return fx.now }})
	ctx := context.Background()

	res, err := fx.engine.Reserve(ctx, 7, fx.at(17, 14, 0), testFields)
	require.NoError(t, err)
	assert.Equal(t, "REC-20251117-1400", res.RecordCode)
	assert.NotEmpty(t, res.EventID)
	require.Len(t, published, 1)
	assert.Equal(t, "REC-20251117-1400", published[0].RecordCode)

	// the remote event carries the owner marker
	busy, err := fx.engine.Busy(ctx, fx.at(17, 0, 0))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	owner, stored := fx.engine.Owner(ctx, busy[0])
	assert.Equal(t, int64(7), owner)
	require.NotNil(t, stored)

	cancelled, err := fx.engine.CancelByCode(ctx, 7, "rec-20251117-1400")
	require.NoError(t, err)
	assert.Equal(t, res.EventID, cancelled.EventID)
	assert.True(t, fx.engine.IsFree(ctx, fx.at(17, 14, 0)))

	_, err = fx.engine.CancelByCode(ctx, 7, "REC-20251117-1400")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReserveRollbackOnInsertFailure(t *testing.T) {
	fx := newFixture(t)
	fx.cal.insertErr = errCalendarDown
	ctx := context.Background()
	start := fx.at(17, 14, 0)

	_, err := fx.engine.Reserve(ctx, 7, start, testFields)
	require.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Equal(t, 0, fx.engine.Ledger().Len())
	assert.Equal(t, 1, fx.notifier.operatorCount())

	fx.cal.insertErr = nil
	res, err := fx.engine.Reserve(ctx, 8, start, testFields)
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.UserID)
}

func TestReserveAlertsWhenStoreFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.store.saveErr = errors.New("disk full")

	res, err := fx.engine.Reserve(ctx, 7, fx.at(17, 14, 0), testFields)
	require.NoError(t, err)
	assert.Equal(t, "REC-20251117-1400", res.RecordCode)
	assert.False(t, fx.engine.IsFree(ctx, fx.at(17, 14, 0)))

	alerts := fx.notifier.operatorMessages()
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0], "REC-20251117-1400")
	assert.Contains(t, alerts[0], res.EventID)
	assert.Contains(t, alerts[0], "disk full")

	fx.store.saveErr = nil
	stored, err := fx.engine.Reschedule(ctx, res, fx.at(17, 16, 0), testFields)
	require.NoError(t, err)

	fx.store.saveErr = errors.New("disk full")
	_, err = fx.engine.Reschedule(ctx, stored, fx.at(18, 10, 0), testFields)
	require.NoError(t, err)
	alerts = fx.notifier.operatorMessages()
	require.Len(t, alerts, 2)
	assert.Contains(t, alerts[1], "REC-20251117-1600")
	assert.Contains(t, alerts[1], "REC-20251118-1000")
}

func TestReserveConflictWithRemoteEvent(t *testing.T) {
	fx := newFixture(t)
	fx.cal.addRemote("external", fx.at(17, 14, 0), fx.at(17, 15, 0))

	_, err := fx.engine.Reserve(context.Background(), 7, fx.at(17, 14, 30), testFields)
	assert.ErrorIs(t, err, ErrSlotTaken)

	_, err = fx.engine.Reserve(context.Background(), 7, fx.at(17, 15, 0), testFields)
	assert.NoError(t, err)
}

func TestReserveValidatesSlot(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.engine.Reserve(ctx, 7, fx.at(16, 9, 0), testFields)
	assert.ErrorIs(t, err, ErrPastSlot)

	_, err = fx.engine.Reserve(ctx, 7, fx.at(17, 17, 30), testFields)
	assert.ErrorIs(t, err, ErrOutsideHours)

	_, err = fx.engine.Reserve(ctx, 7, fx.now.AddDate(0, 0, 70), testFields)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestNeverConnectedCalendarMeansNoSlots(t *testing.T) {
	fx := newFixture(t)
	fx.cal.setListErr(errCalendarDown)
	ctx := context.Background()

	_, err := fx.engine.FreeSlots(ctx, fx.at(17, 0, 0))
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.False(t, fx.engine.IsFree(ctx, fx.at(17, 10, 0)))

	_, err = fx.engine.Reserve(ctx, 7, fx.at(17, 10, 0), testFields)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestFailOpenKeepsLedgerAuthoritative(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.engine.Reserve(ctx, 7, fx.at(17, 12, 0), testFields)
	require.NoError(t, err)

	fx.cal.setListErr(errCalendarDown)
	slots, err := fx.engine.FreeSlots(ctx, fx.at(17, 0, 0))
	require.NoError(t, err)
	for _, s := range slots {
		assert.False(t, s.Equal(fx.at(17, 12, 0)), "ledger entry must still block 12:00")
	}
	assert.Len(t, slots, 8)
}

func TestNoCalendarConfigured(t *testing.T) {
	fx := newFixture(t)
	fx.engine = fx.build(nil)

	_, err := fx.engine.FreeSlots(context.Background(), fx.at(17, 0, 0))
	assert.ErrorIs(t, err, ErrRemoteUnavailable)

	_, err = fx.engine.Reserve(context.Background(), 7, fx.at(17, 10, 0), testFields)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestReleaseFreesSlot(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	start := fx.at(17, 14, 0)

	res, err := fx.engine.Reserve(ctx, 7, start, testFields)
	require.NoError(t, err)
	assert.False(t, fx.engine.IsFree(ctx, start))

	assert.True(t, fx.engine.Release(ctx, res))
	assert.True(t, fx.engine.IsFree(ctx, start))
	assert.Equal(t, 0, fx.cal.count())

	list, err := fx.engine.Reservations(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestReleaseWhenRemoteDeleteFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	start := fx.at(17, 14, 0)

	res, err := fx.engine.Reserve(ctx, 7, start, testFields)
	require.NoError(t, err)

	fx.cal.deleteErr = errCalendarDown
	assert.True(t, fx.engine.Release(ctx, res))
	assert.Equal(t, 0, fx.engine.Ledger().Len())
	assert.Equal(t, 1, fx.notifier.operatorCount())
}

func TestRescheduleIgnoresOwnInterval(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	res, err := fx.engine.Reserve(ctx, 7, fx.at(17, 10, 0), testFields)
	require.NoError(t, err)

	// 10:30 is within the margin of the reservation's own slot only
	fields := testFields
	fields.Phone = "+380671112233"
	moved, err := fx.engine.Reschedule(ctx, res, fx.at(17, 10, 30), fields)
	require.NoError(t, err)
	assert.Equal(t, res.EventID, moved.EventID)
	assert.Equal(t, "REC-20251117-1030", moved.RecordCode)
	assert.Equal(t, "+380671112233", moved.Fields.Phone)

	require.Equal(t, 1, fx.engine.Ledger().Len())
	assert.True(t, fx.engine.Ledger().Busy(fx.at(17, 0, 0))[0].Start.Equal(fx.at(17, 10, 30)))

	stored, err := fx.engine.ReservationByCode(ctx, 7, "REC-20251117-1030")
	require.NoError(t, err)
	assert.Equal(t, res.EventID, stored.EventID)

	_, err = fx.engine.ReservationByCode(ctx, 7, "REC-20251117-1000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRescheduleConflict(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	mine, err := fx.engine.Reserve(ctx, 7, fx.at(17, 10, 0), testFields)
	require.NoError(t, err)
	_, err = fx.engine.Reserve(ctx, 8, fx.at(17, 14, 0), testFields)
	require.NoError(t, err)

	_, err = fx.engine.Reschedule(ctx, mine, fx.at(17, 13, 30), testFields)
	assert.ErrorIs(t, err, ErrSlotTaken)

	// original slot is still held
	assert.False(t, fx.engine.IsFree(ctx, fx.at(17, 10, 0)))
}

func TestRescheduleRemoteFailureKeepsOriginal(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	res, err := fx.engine.Reserve(ctx, 7, fx.at(17, 10, 0), testFields)
	require.NoError(t, err)

	fx.cal.insertErr = errCalendarDown
	_, err = fx.engine.Reschedule(ctx, res, fx.at(17, 15, 0), testFields)
	require.ErrorIs(t, err, ErrRemoteUnavailable)

	busy := fx.engine.Ledger().Busy(fx.at(17, 0, 0))
	require.Len(t, busy, 1)
	assert.True(t, busy[0].Start.Equal(fx.at(17, 10, 0)))
}

func TestReservationsAndLatest(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.engine.Latest(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = fx.engine.Reserve(ctx, 7, fx.at(18, 9, 0), testFields)
	require.NoError(t, err)
	_, err = fx.engine.Reserve(ctx, 7, fx.at(17, 9, 0), testFields)
	require.NoError(t, err)
	// a past reservation from the store
	require.NoError(t, fx.store.SaveReservation(ctx, &models.Reservation{
		EventID: "old", UserID: 7, RecordCode: "REC-20251110-0900", Start: fx.at(10, 9, 0),
	}))

	list, err := fx.engine.Reservations(ctx, 7)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "REC-20251117-0900", list[0].RecordCode)

	latest, err := fx.engine.Latest(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "REC-20251118-0900", latest.RecordCode)
}

func TestWarmLoadsStoredReservations(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.store.SaveReservation(ctx, &models.Reservation{
		EventID: "evt-9", UserID: 3, RecordCode: "REC-20251117-1200", Start: fx.at(17, 12, 0),
	}))

	n, err := fx.engine.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, fx.engine.IsFree(ctx, fx.at(17, 12, 0)))

	// warming twice does not duplicate entries
	_, err = fx.engine.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.engine.Ledger().Len())
}
