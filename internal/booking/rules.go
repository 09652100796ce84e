package booking

import (
	"fmt"
	"time"

	"zapys/internal/config"
	"zapys/internal/models"
)

// Rules describe the slot grid and the spacing between appointments.
// Open and Close are offsets from local midnight.
type Rules struct {
	Location     *time.Location
	Open         time.Duration
	Close        time.Duration
	Step         time.Duration
	SlotDuration time.Duration
	Margin       time.Duration
	MaxDaysAhead int
}

func RulesFromConfig(cfg config.BookingConfig) (Rules, error) {
	open, err := cfg.OpenOffset()
	if err != nil {
		return Rules{}, err
	}
	closing, err := cfg.CloseOffset()
	if err != nil {
		return Rules{}, err
	}
	r := Rules{
		Location:     cfg.Location(),
		Open:         open,
		Close:        closing,
		Step:         cfg.Step(),
		SlotDuration: cfg.Slot(),
		Margin:       cfg.Margin(),
		MaxDaysAhead: cfg.MaxDaysAhead,
	}
	if r.Step <= 0 || r.SlotDuration <= 0 || r.Close <= r.Open {
		return Rules{}, fmt.Errorf("invalid booking rules: %+v", cfg)
	}
	return r, nil
}

// DayStart returns local midnight of t's calendar day.
func (r Rules) DayStart(t time.Time) time.Time {
	t = t.In(r.Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.Location)
}

// At returns the instant of clock offset off on day.
func (r Rules) At(day time.Time, off time.Duration) time.Time {
	d := r.DayStart(day)
	h := int(off / time.Hour)
	m := int((off % time.Hour) / time.Minute)
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, r.Location)
}

// WithinHours reports whether a slot starting at start fits business hours.
func (r Rules) WithinHours(start time.Time) bool {
	open := r.At(start, r.Open)
	closing := r.At(start, r.Close)
	return !start.Before(open) && !start.Add(r.SlotDuration).After(closing)
}

// OnGrid reports whether start falls on the Step grid counted from Open.
func (r Rules) OnGrid(start time.Time) bool {
	t := start.In(r.Location)
	if t.Second() != 0 || t.Nanosecond() != 0 {
		return false
	}
	off := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute - r.Open
	return off >= 0 && off%r.Step == 0
}

// Blocks reports whether busy interval b prevents an appointment at c.
// An appointment conflicts when it starts at the same instant, when its start
// is strictly closer than Margin to b's start, or when the two overlap.
func (r Rules) Blocks(b models.BusyInterval, c time.Time) bool {
	if c.Equal(b.Start) {
		return true
	}
	if c.After(b.Start.Add(-r.Margin)) && c.Before(b.Start.Add(r.Margin)) {
		return true
	}
	end := b.End
	if end.Before(b.Start) {
		end = b.Start
	}
	return c.Before(end) && b.Start.Before(c.Add(r.SlotDuration))
}

func (r Rules) conflicts(busy []models.BusyInterval, c time.Time, ignoreEventID string) bool {
	for _, b := range busy {
		if ignoreEventID != "" && b.EventID == ignoreEventID {
			continue
		}
		if r.Blocks(b, c) {
			return true
		}
	}
	return false
}
