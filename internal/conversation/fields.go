package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"zapys/internal/models"

	"github.com/go-playground/validator/v10"
)

// field is a collected value; its order is the order of the booking flow.
type field int

const (
	fieldName field = iota
	fieldGender
	fieldYear
	fieldPhone
	fieldEmail
	fieldAddress
	fieldDate
	fieldTime
	fieldCount
)

var collectSteps = [fieldCount]models.Step{
	models.StepCollectingName,
	models.StepCollectingGender,
	models.StepCollectingYear,
	models.StepCollectingPhone,
	models.StepCollectingEmail,
	models.StepCollectingAddress,
	models.StepCollectingDate,
	models.StepCollectingTime,
}

var editSteps = [fieldCount]models.Step{
	models.StepEditingName,
	models.StepEditingGender,
	models.StepEditingYear,
	models.StepEditingPhone,
	models.StepEditingEmail,
	models.StepEditingAddress,
	models.StepEditingDate,
	models.StepEditingTime,
}

// stepField maps a session step to its field and flow.
func stepField(step models.Step) (f field, editing bool, ok bool) {
	for i := field(0); i < fieldCount; i++ {
		if collectSteps[i] == step {
			return i, false, true
		}
		if editSteps[i] == step {
			return i, true, true
		}
	}
	return 0, false, false
}

func stepOf(f field, editing bool) models.Step {
	if editing {
		return editSteps[f]
	}
	return collectSteps[f]
}

// fieldSpec is one row of the conversation table. store validates text and
// writes it into the session; date and time rows are handled by the machine.
type fieldSpec struct {
	prompt  string
	options []string
	current func(s *models.Session) string
	store   func(s *models.Session, text string, now time.Time) error
}

var specs = [fieldCount]fieldSpec{
	fieldName: {
		prompt:  "Введіть ваше прізвище, ім'я та по батькові:",
		current: func(s *models.Session) string { return s.Fields.FullName },
		store: func(s *models.Session, text string, _ time.Time) error {
			name, err := parseName(text)
			if err != nil {
				return err
			}
			s.Fields.FullName = name
			return nil
		},
	},
	fieldGender: {
		prompt:  "Оберіть стать:",
		options: []string{genderMale, genderFemale},
		current: func(s *models.Session) string { return s.Fields.Gender },
		store: func(s *models.Session, text string, _ time.Time) error {
			g, err := parseGender(text)
			if err != nil {
				return err
			}
			s.Fields.Gender = g
			return nil
		},
	},
	fieldYear: {
		prompt: "Введіть рік народження (наприклад, 1990):",
		current: func(s *models.Session) string {
			if s.Fields.BirthYear == 0 {
				return ""
			}
			return strconv.Itoa(s.Fields.BirthYear)
		},
		store: func(s *models.Session, text string, now time.Time) error {
			y, err := parseBirthYear(text, now)
			if err != nil {
				return err
			}
			s.Fields.BirthYear = y
			return nil
		},
	},
	fieldPhone: {
		prompt:  "Введіть номер телефону (наприклад, +380671234567):",
		current: func(s *models.Session) string { return s.Fields.Phone },
		store: func(s *models.Session, text string, _ time.Time) error {
			p, err := normalizePhone(text)
			if err != nil {
				return err
			}
			s.Fields.Phone = p
			return nil
		},
	},
	fieldEmail: {
		prompt:  "Введіть email або натисніть «" + skipInput + "»:",
		options: []string{skipInput},
		current: func(s *models.Session) string { return s.Fields.Email },
		store: func(s *models.Session, text string, _ time.Time) error {
			if strings.EqualFold(text, skipInput) {
				s.Fields.Email = ""
				return nil
			}
			e, err := parseEmail(text)
			if err != nil {
				return err
			}
			s.Fields.Email = e
			return nil
		},
	},
	fieldAddress: {
		prompt:  "Введіть адресу проживання:",
		current: func(s *models.Session) string { return s.Fields.Address },
		store: func(s *models.Session, text string, _ time.Time) error {
			a, err := parseAddress(text)
			if err != nil {
				return err
			}
			s.Fields.Address = a
			return nil
		},
	},
	fieldDate: {
		prompt:  "Оберіть дату або введіть її у форматі ДД.ММ.РРРР:",
		options: []string{dateToday, dateTomorrow, dateAfterTomorrow},
		current: func(s *models.Session) string {
			if s.Date.IsZero() {
				return ""
			}
			return s.Date.Format(dateLayout)
		},
	},
	fieldTime: {
		prompt: "Оберіть час або введіть його у форматі ГГ:ХХ:",
		current: func(s *models.Session) string {
			if s.Time.IsZero() {
				return ""
			}
			return s.Time.Format(clockLayout)
		},
	},
}

const (
	skipInput = "Пропустити"
	keepInput = "Залишити"

	genderMale   = "Чоловіча"
	genderFemale = "Жіноча"

	dateToday         = "Сьогодні"
	dateTomorrow      = "Завтра"
	dateAfterTomorrow = "Післязавтра"

	dateLayout  = "02.01.2006"
	clockLayout = "15:04"
)

// inputError is a validation failure shown to the user verbatim.
type inputError string

func (e inputError) Error() string { return string(e) }

const (
	errName      inputError = "Ім'я має містити щонайменше два слова і лише літери."
	errGender    inputError = "Оберіть стать кнопкою нижче."
	errYear      inputError = "Рік народження має бути числом, наприклад 1990."
	errPhone     inputError = "Невірний номер. Приклад: +380671234567 або 0671234567."
	errEmail     inputError = "Невірний email. Введіть адресу на кшталт name@example.com або натисніть «Пропустити»."
	errAddress   inputError = "Адреса має містити від 3 до 200 символів."
	errDate      inputError = "Не вдалося розпізнати дату. Формат: ДД.ММ.РРРР."
	errTime      inputError = "Не вдалося розпізнати час. Формат: ГГ:ХХ."
	errPastDate  inputError = "Ця дата вже минула. Оберіть сьогоднішню або майбутню дату."
	errPastTime  inputError = "Цей час уже минув. Оберіть інший."
	errKeepTime  inputError = "Поточний час належить іншій даті. Оберіть новий час."
	errOffGrid   inputError = "Запис можливий лише на час зі списку нижче."
)

var (
	nameRe  = regexp.MustCompile(`^[\p{L}]+(?:['’ʼ\-][\p{L}]+)*$`)
	phoneRe = regexp.MustCompile(`^\+380\d{9}$`)
	dateRe  = regexp.MustCompile(`^(\d{1,2})[./](\d{1,2})(?:[./](\d{4}))?$`)
	clockRe = regexp.MustCompile(`^(\d{1,2})[:.](\d{2})$`)

	validate = validator.New()
)

func parseName(text string) (string, error) {
	words := strings.Fields(text)
	if len(words) < 2 || utf8.RuneCountInString(text) > 100 {
		return "", errName
	}
	for _, w := range words {
		if !nameRe.MatchString(w) {
			return "", errName
		}
	}
	return strings.Join(words, " "), nil
}

func parseGender(text string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case strings.ToLower(genderMale), "ч", "чоловік":
		return genderMale, nil
	case strings.ToLower(genderFemale), "ж", "жінка":
		return genderFemale, nil
	}
	return "", errGender
}

func parseBirthYear(text string, now time.Time) (int, error) {
	y, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || y < 1900 || y > now.Year() {
		return 0, errYear
	}
	return y, nil
}

// normalizePhone accepts Ukrainian numbers in local or international form
// and returns +380XXXXXXXXX.
func normalizePhone(text string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(text))

	switch {
	case strings.HasPrefix(digits, "+"):
	case strings.HasPrefix(digits, "380"):
		digits = "+" + digits
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		digits = "+38" + digits
	}
	if !phoneRe.MatchString(digits) {
		return "", errPhone
	}
	return digits, nil
}

func parseEmail(text string) (string, error) {
	email := strings.TrimSpace(text)
	if err := validate.Var(email, "required,email"); err != nil {
		return "", errEmail
	}
	return strings.ToLower(email), nil
}

func parseAddress(text string) (string, error) {
	addr := strings.Join(strings.Fields(text), " ")
	if n := utf8.RuneCountInString(addr); n < 3 || n > 200 {
		return "", errAddress
	}
	return addr, nil
}

// parseDate understands the relative keywords and DD.MM[.YYYY]. The result is
// local midnight in today's location. Past days are rejected.
func parseDate(text string, today time.Time) (time.Time, error) {
	loc := today.Location()
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	switch strings.ToLower(strings.TrimSpace(text)) {
	case strings.ToLower(dateToday):
		return today, nil
	case strings.ToLower(dateTomorrow):
		return today.AddDate(0, 0, 1), nil
	case strings.ToLower(dateAfterTomorrow):
		return today.AddDate(0, 0, 2), nil
	}

	m := dateRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return time.Time{}, errDate
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	explicitYear := m[3] != ""
	year := today.Year()
	if explicitYear {
		year, _ = strconv.Atoi(m[3])
	}
	d, ok := calendarDay(year, month, day, loc)
	// DD.MM that already passed this year means next year
	if !explicitYear && (!ok || d.Before(today)) {
		d, ok = calendarDay(year+1, month, day, loc)
	}
	if !ok {
		return time.Time{}, errDate
	}
	if d.Before(today) {
		return time.Time{}, errPastDate
	}
	return d, nil
}

func calendarDay(year, month, day int, loc *time.Location) (time.Time, bool) {
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	return d, d.Day() == day && int(d.Month()) == month
}

// parseClock reads HH:MM, H:MM or HH.MM as an offset from midnight.
func parseClock(text string) (time.Duration, error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, errTime
	}
	h, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if h > 23 || minute > 59 {
		return 0, errTime
	}
	return time.Duration(h)*time.Hour + time.Duration(minute)*time.Minute, nil
}
