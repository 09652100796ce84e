package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"zapys/internal/domain"
	"zapys/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var _ domain.Calendar = (*CalendarService)(nil)

// CalendarService is the shared Google calendar that holds every reservation.
type CalendarService struct {
	service    *calendar.Service
	calendarID string
	loc        *time.Location
}

func NewCalendarService(ctx context.Context, credentialsFile, calendarID string, loc *time.Location) (*CalendarService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return newCalendarService(srv, calendarID, loc), nil
}

func newCalendarService(srv *calendar.Service, calendarID string, loc *time.Location) *CalendarService {
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarService{service: srv, calendarID: calendarID, loc: loc}
}

// ListEvents returns the non-cancelled events overlapping [from, to).
func (c *CalendarService) ListEvents(ctx context.Context, from, to time.Time) ([]models.BusyInterval, error) {
	var busy []models.BusyInterval
	err := c.service.Events.List(c.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Pages(ctx, func(page *calendar.Events) error {
			for _, item := range page.Items {
				if item.Status == "cancelled" {
					continue
				}
				interval, err := c.toBusy(item)
				if err != nil {
					return err
				}
				busy = append(busy, interval)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return busy, nil
}

func (c *CalendarService) InsertEvent(ctx context.Context, in models.EventInput) (string, error) {
	ev, err := c.service.Events.Insert(c.calendarID, c.toEvent(in)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	if ev.Id == "" {
		return "", errors.New("insert event: empty event id")
	}
	return ev.Id, nil
}

func (c *CalendarService) UpdateEvent(ctx context.Context, eventID string, in models.EventInput) error {
	if _, err := c.service.Events.Patch(c.calendarID, eventID, c.toEvent(in)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	return nil
}

// DeleteEvent treats an already removed event as success.
func (c *CalendarService) DeleteEvent(ctx context.Context, eventID string) error {
	err := c.service.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	if err == nil || isGone(err) {
		return nil
	}
	return fmt.Errorf("delete event %s: %w", eventID, err)
}

func (c *CalendarService) toEvent(in models.EventInput) *calendar.Event {
	return &calendar.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       &calendar.EventDateTime{DateTime: in.Start.In(c.loc).Format(time.RFC3339), TimeZone: c.loc.String()},
		End:         &calendar.EventDateTime{DateTime: in.End.In(c.loc).Format(time.RFC3339), TimeZone: c.loc.String()},
	}
}

func (c *CalendarService) toBusy(item *calendar.Event) (models.BusyInterval, error) {
	start, err := c.parseEventTime(item.Start)
	if err != nil {
		return models.BusyInterval{}, fmt.Errorf("event %s start: %w", item.Id, err)
	}
	end, err := c.parseEventTime(item.End)
	if err != nil {
		return models.BusyInterval{}, fmt.Errorf("event %s end: %w", item.Id, err)
	}
	return models.BusyInterval{
		EventID:     item.Id,
		Start:       start,
		End:         end,
		Description: item.Description,
		OwnerID:     models.ParseOwner(item.Description),
		Source:      models.SourceRemote,
	}, nil
}

// parseEventTime accepts both timed and all-day values.
func (c *CalendarService) parseEventTime(dt *calendar.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, errors.New("missing date")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(c.loc), nil
	}
	return time.ParseInLocation("2006-01-02", dt.Date, c.loc)
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}
