package booking

import (
	"testing"
	"time"

	"zapys/internal/config"
	"zapys/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulesBlocks(t *testing.T) {
	loc := kyiv(t)
	at := func(h, m int) time.Time { return time.Date(2025, 11, 17, h, m, 0, 0, loc) }
	hourBusy := models.BusyInterval{Start: at(14, 0), End: at(15, 0)}
	longBusy := models.BusyInterval{Start: at(14, 0), End: at(17, 0)}

	tests := []struct {
		name   string
		margin time.Duration
		busy   models.BusyInterval
		c      time.Time
		want   bool
	}{
		{"same start", time.Hour, hourBusy, at(14, 0), true},
		{"inside margin before", time.Hour, hourBusy, at(13, 30), true},
		{"inside margin after", time.Hour, hourBusy, at(14, 59), true},
		{"exactly margin before", time.Hour, hourBusy, at(13, 0), false},
		{"exactly margin after", time.Hour, hourBusy, at(15, 0), false},
		{"inside long event", time.Hour, longBusy, at(16, 0), true},
		{"right after long event", time.Hour, longBusy, at(17, 0), false},
		{"zero margin same start", 0, hourBusy, at(14, 0), true},
		{"zero margin overlap", 0, hourBusy, at(13, 30), true},
		{"zero margin adjacent", 0, hourBusy, at(13, 0), false},
		{"zero length event", time.Hour, models.BusyInterval{Start: at(14, 0)}, at(13, 30), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRules(loc)
			r.Margin = tt.margin
			assert.Equal(t, tt.want, r.Blocks(tt.busy, tt.c))
		})
	}
}

func TestRulesWithinHours(t *testing.T) {
	loc := kyiv(t)
	r := testRules(loc)
	at := func(h, m int) time.Time { return time.Date(2025, 11, 17, h, m, 0, 0, loc) }

	assert.True(t, r.WithinHours(at(9, 0)))
	assert.True(t, r.WithinHours(at(17, 0)))
	assert.False(t, r.WithinHours(at(17, 30)))
	assert.False(t, r.WithinHours(at(8, 59)))
	assert.False(t, r.WithinHours(at(18, 0)))
}

func TestRulesOnGrid(t *testing.T) {
	loc := kyiv(t)
	r := testRules(loc)
	at := func(h, m int) time.Time { return time.Date(2025, 11, 17, h, m, 0, 0, loc) }

	assert.True(t, r.OnGrid(at(9, 0)))
	assert.True(t, r.OnGrid(at(14, 0)))
	assert.False(t, r.OnGrid(at(10, 30)))
	assert.False(t, r.OnGrid(at(8, 0)))
	assert.False(t, r.OnGrid(at(14, 0).Add(time.Second)))

	r.Open = 8*time.Hour + 30*time.Minute
	r.Step = 45 * time.Minute
	assert.True(t, r.OnGrid(at(9, 15)))
	assert.True(t, r.OnGrid(at(10, 0)))
	assert.False(t, r.OnGrid(at(10, 30)))
}

func TestRulesFromConfig(t *testing.T) {
	cfg := config.BookingConfig{
		Timezone:      "Europe/Kyiv",
		Open:          "08:30",
		Close:         "20:00",
		StepMinutes:   30,
		SlotMinutes:   45,
		MarginMinutes: 60,
		MaxDaysAhead:  14,
	}
	r, err := RulesFromConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, 8*time.Hour+30*time.Minute, r.Open)
	assert.Equal(t, 20*time.Hour, r.Close)
	assert.Equal(t, 30*time.Minute, r.Step)
	assert.Equal(t, 45*time.Minute, r.SlotDuration)
	assert.Equal(t, "Europe/Kyiv", r.Location.String())

	cfg.Close = "08:00"
	_, err = RulesFromConfig(cfg)
	assert.Error(t, err)
}
