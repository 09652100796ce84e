package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"zapys/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func setupCalendarServer(t *testing.T) (*http.ServeMux, *CalendarService) {
	t.Helper()
	ctx := context.Background()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := calendar.NewService(ctx, option.WithEndpoint(server.URL+"/calendar/v3/"), option.WithoutAuthentication())
	require.NoError(t, err)

	loc, err := time.LoadLocation("Europe/Kyiv")
	require.NoError(t, err)
	return mux, newCalendarService(srv, "cal_id", loc)
}

func TestCalendarService_ListEvents(t *testing.T) {
	mux, c := setupCalendarServer(t)
	mux.HandleFunc("/calendar/v3/calendars/cal_id/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		_ = json.NewEncoder(w).Encode(calendar.Events{Items: []*calendar.Event{
			{
				Id:          "ev1",
				Description: "Запис REC-20251117-1400\nuser_id=42",
				Start:       &calendar.EventDateTime{DateTime: "2025-11-17T14:00:00+02:00"},
				End:         &calendar.EventDateTime{DateTime: "2025-11-17T15:00:00+02:00"},
			},
			{
				Id:     "ev2",
				Status: "cancelled",
				Start:  &calendar.EventDateTime{DateTime: "2025-11-17T10:00:00+02:00"},
				End:    &calendar.EventDateTime{DateTime: "2025-11-17T11:00:00+02:00"},
			},
			{
				Id:    "ev3",
				Start: &calendar.EventDateTime{Date: "2025-11-17"},
				End:   &calendar.EventDateTime{Date: "2025-11-18"},
			},
		}})
	})

	from := time.Date(2025, 11, 17, 0, 0, 0, 0, c.loc)
	busy, err := c.ListEvents(context.Background(), from, from.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, busy, 2)

	assert.Equal(t, "ev1", busy[0].EventID)
	assert.Equal(t, int64(42), busy[0].OwnerID)
	assert.Equal(t, models.SourceRemote, busy[0].Source)
	assert.True(t, busy[0].Start.Equal(time.Date(2025, 11, 17, 14, 0, 0, 0, c.loc)))
	assert.Equal(t, time.Hour, busy[0].End.Sub(busy[0].Start))

	assert.Equal(t, "ev3", busy[1].EventID)
	assert.True(t, busy[1].Start.Equal(from))
	assert.Equal(t, int64(0), busy[1].OwnerID)
}

func TestCalendarService_InsertEvent(t *testing.T) {
	mux, c := setupCalendarServer(t)
	mux.HandleFunc("/calendar/v3/calendars/cal_id/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var ev calendar.Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "Запис: Тарас", ev.Summary)
		assert.Equal(t, "Europe/Kyiv", ev.Start.TimeZone)
		assert.Equal(t, "2025-11-17T14:00:00+02:00", ev.Start.DateTime)
		ev.Id = "new-id"
		_ = json.NewEncoder(w).Encode(ev)
	})

	start := time.Date(2025, 11, 17, 14, 0, 0, 0, c.loc)
	id, err := c.InsertEvent(context.Background(), models.EventInput{
		Summary: "Запис: Тарас",
		Start:   start,
		End:     start.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "new-id", id)
}

func TestCalendarService_UpdateEvent(t *testing.T) {
	mux, c := setupCalendarServer(t)
	mux.HandleFunc("/calendar/v3/calendars/cal_id/events/ev1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		_ = json.NewEncoder(w).Encode(calendar.Event{Id: "ev1"})
	})

	start := time.Date(2025, 11, 18, 11, 0, 0, 0, c.loc)
	err := c.UpdateEvent(context.Background(), "ev1", models.EventInput{Start: start, End: start.Add(time.Hour)})
	assert.NoError(t, err)
}

func TestCalendarService_DeleteEvent(t *testing.T) {
	mux, c := setupCalendarServer(t)
	mux.HandleFunc("/calendar/v3/calendars/cal_id/events/ev1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/calendar/v3/calendars/cal_id/events/gone", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte(`{"error":{"code":410,"message":"Resource has been deleted"}}`))
	})
	mux.HandleFunc("/calendar/v3/calendars/cal_id/events/denied", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"Forbidden"}}`))
	})

	ctx := context.Background()
	assert.NoError(t, c.DeleteEvent(ctx, "ev1"))
	assert.NoError(t, c.DeleteEvent(ctx, "gone"))
	assert.Error(t, c.DeleteEvent(ctx, "denied"))
}
