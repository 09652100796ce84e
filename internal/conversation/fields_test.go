package conversation

import (
	"testing"
	"time"

	"zapys/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		input string
		want  string
		err   bool
	}{
		{"Тарас Шевченко", "Тарас Шевченко", false},
		{"  Леся   Українка  ", "Леся Українка", false},
		{"Іван-Павло О'Коннор", "Іван-Павло О'Коннор", false},
		{"Тарас", "", true},
		{"Тарас 123", "", true},
		{"REC-20251117-1400 x", "", true},
	}
	for _, tt := range tests {
		got, err := parseName(tt.input)
		if tt.err {
			assert.Error(t, err, tt.input)
			continue
		}
		assert.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseGender(t *testing.T) {
	g, err := parseGender("жіноча")
	require.NoError(t, err)
	assert.Equal(t, genderFemale, g)

	g, err = parseGender("Ч")
	require.NoError(t, err)
	assert.Equal(t, genderMale, g)

	_, err = parseGender("інше")
	assert.Equal(t, errGender, err)
}

func TestParseBirthYear(t *testing.T) {
	now := time.Date(2025, 11, 16, 10, 0, 0, 0, time.UTC)

	y, err := parseBirthYear(" 1990 ", now)
	require.NoError(t, err)
	assert.Equal(t, 1990, y)

	for _, bad := range []string{"1899", "2026", "дев'яносто", ""} {
		_, err := parseBirthYear(bad, now)
		assert.Equal(t, errYear, err, bad)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"+380671234567":     "+380671234567",
		"380671234567":      "+380671234567",
		"067 123 45 67":     "+380671234567",
		"(067) 123-45-67":   "+380671234567",
		"+38 067 123 45 67": "+380671234567",
	}
	for input, want := range tests {
		got, err := normalizePhone(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	for _, bad := range []string{"12345", "+44123456789", "06712345", "телефон"} {
		_, err := normalizePhone(bad)
		assert.Equal(t, errPhone, err, bad)
	}
}

func TestParseEmail(t *testing.T) {
	e, err := parseEmail(" Taras@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "taras@example.com", e)

	_, err = parseEmail("not-an-email")
	assert.Equal(t, errEmail, err)

	_, err = parseEmail(skipInput)
	assert.Equal(t, errEmail, err, "skip input never passes the email validator")
}

func TestEmailStoreAcceptsSkip(t *testing.T) {
	s := &models.Session{Fields: models.ContactFields{Email: "old@example.com"}}
	require.NoError(t, specs[fieldEmail].store(s, skipInput, time.Now()))
	assert.Empty(t, s.Fields.Email)
}

func TestParseAddress(t *testing.T) {
	a, err := parseAddress("  Київ,   вул. Хрещатик 1 ")
	require.NoError(t, err)
	assert.Equal(t, "Київ, вул. Хрещатик 1", a)

	_, err = parseAddress("ab")
	assert.Equal(t, errAddress, err)
}

func TestParseDate(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Kyiv")
	require.NoError(t, err)
	now := time.Date(2025, 11, 16, 10, 0, 0, 0, loc)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, loc) }

	tests := []struct {
		input string
		want  time.Time
		err   error
	}{
		{"Сьогодні", day(2025, 11, 16), nil},
		{"завтра", day(2025, 11, 17), nil},
		{"Післязавтра", day(2025, 11, 18), nil},
		{"17.11.2025", day(2025, 11, 17), nil},
		{"17/11/2025", day(2025, 11, 17), nil},
		{"1.12", day(2025, 12, 1), nil},
		{"16.11", day(2025, 11, 16), nil},
		{"15.11", day(2026, 11, 15), nil},
		{"03.01", day(2026, 1, 3), nil},
		{"31.02", time.Time{}, errDate},
		{"15.11.2025", time.Time{}, errPastDate},
		{"01.01.2020", time.Time{}, errPastDate},
		{"31.02.2026", time.Time{}, errDate},
		{"2025-11-17", time.Time{}, errDate},
		{"колись", time.Time{}, errDate},
	}
	for _, tt := range tests {
		got, err := parseDate(tt.input, now)
		if tt.err != nil {
			assert.Equal(t, tt.err, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.True(t, tt.want.Equal(got), "%s: want %s got %s", tt.input, tt.want, got)
	}
}

func TestParseClock(t *testing.T) {
	tests := map[string]time.Duration{
		"14:00": 14 * time.Hour,
		"9:30":  9*time.Hour + 30*time.Minute,
		"09.15": 9*time.Hour + 15*time.Minute,
	}
	for input, want := range tests {
		got, err := parseClock(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"24:00", "12:60", "noon", "1400"} {
		_, err := parseClock(bad)
		assert.Equal(t, errTime, err, bad)
	}
}

func TestStepTable(t *testing.T) {
	for i := field(0); i < fieldCount; i++ {
		f, editing, ok := stepField(collectSteps[i])
		require.True(t, ok)
		assert.Equal(t, i, f)
		assert.False(t, editing)

		f, editing, ok = stepField(editSteps[i])
		require.True(t, ok)
		assert.Equal(t, i, f)
		assert.True(t, editing)
		assert.True(t, editSteps[i].IsEditing())
	}
	_, _, ok := stepField(models.StepIdle)
	assert.False(t, ok)
}
