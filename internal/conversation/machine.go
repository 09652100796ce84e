package conversation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"zapys/internal/booking"
	"zapys/internal/models"

	"github.com/rs/zerolog"
)

// Booker is the part of the booking engine the conversation drives.
type Booker interface {
	Now() time.Time
	Rules() booking.Rules
	CheckDay(day time.Time) error
	IsFree(ctx context.Context, start time.Time) bool
	FreeSlots(ctx context.Context, day time.Time) ([]time.Time, error)
	Reserve(ctx context.Context, userID int64, start time.Time, fields models.ContactFields) (*models.Reservation, error)
	Reschedule(ctx context.Context, current *models.Reservation, start time.Time, fields models.ContactFields) (*models.Reservation, error)
	ReservationByCode(ctx context.Context, userID int64, code string) (*models.Reservation, error)
	CancelByCode(ctx context.Context, userID int64, code string) (*models.Reservation, error)
	Reservations(ctx context.Context, userID int64) ([]*models.Reservation, error)
	Latest(ctx context.Context, userID int64) (*models.Reservation, error)
}

// Sessions stores conversation state. Load returns nil for an idle user.
type Sessions interface {
	Load(ctx context.Context, userID int64) (*models.Session, error)
	Save(ctx context.Context, session *models.Session) error
	Clear(ctx context.Context, userID int64) error
}

// Inbound is one text message from a user.
type Inbound struct {
	UserID int64
	Text   string
}

// Reply is one outbound message. Menu rows become a reply keyboard.
type Reply struct {
	Text string
	Menu [][]string
	HTML bool
}

const (
	cmdStart             = "/start"
	cmdBook              = "Записатися"
	cmdCancel            = "Скасувати"
	cmdList              = "Мої записи 📋"
	cmdCancelReservation = "Скасувати запис ❌"
	cmdEdit              = "Змінити запис ✏️"
	cmdRepeat            = "Повторити запис 🔁"
)

const (
	msgWelcome     = "Вітаю! 👋 Я допоможу записатися на прийом.\nОберіть дію в меню нижче."
	msgChooseMenu  = "Оберіть дію в меню 👇"
	msgCancelled   = "Дію скасовано."
	msgTechnical   = "Сталася технічна помилка. Спробуйте ще раз трохи пізніше."
	msgUnavailable = "Календар зараз недоступний. Спробуйте пізніше або оберіть іншу дату."
	msgNoRecords   = "У вас немає активних записів. 📭"
	msgNoHistory   = "У вас ще не було записів, які можна повторити."
	msgSlotTaken   = "На жаль, цей час щойно зайняли. Оберіть інший:"
	msgNotCreated  = "Не вдалося створити запис: календар не відповідає. Оператора повідомлено, спробуйте ще раз пізніше."
)

var mainMenu = [][]string{
	{cmdBook},
	{cmdList, cmdRepeat},
	{cmdEdit, cmdCancelReservation},
}

type intent int

const (
	intentNone intent = iota
	intentCancel
	intentEdit
)

// Machine drives users from "no appointment" to a confirmed reservation.
// Messages of one user are handled one at a time.
type Machine struct {
	booker   Booker
	sessions Sessions
	logger   zerolog.Logger
	locks    userLocks

	mu       sync.Mutex
	welcomed map[int64]bool
	pending  map[int64]intent
}

func NewMachine(booker Booker, sessions Sessions, logger *zerolog.Logger) *Machine {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "conversation").Logger()
	}
	return &Machine{
		booker:   booker,
		sessions: sessions,
		logger:   l,
		locks:    userLocks{m: make(map[int64]*userLock)},
		welcomed: make(map[int64]bool),
		pending:  make(map[int64]intent),
	}
}

// Handle processes one inbound message and returns the replies to send.
func (m *Machine) Handle(ctx context.Context, in Inbound) []Reply {
	unlock := m.locks.lock(in.UserID)
	defer unlock()

	text := strings.TrimSpace(in.Text)
	var out []Reply
	if m.firstContact(in.UserID) && text != cmdStart {
		out = append(out, Reply{Text: msgWelcome, Menu: mainMenu})
	}

	session, err := m.sessions.Load(ctx, in.UserID)
	if err != nil {
		m.log(ctx).Error().Err(err).Int64("user_id", in.UserID).Msg("load session")
		return append(out, Reply{Text: msgTechnical, Menu: mainMenu})
	}

	switch text {
	case cmdStart:
		m.setPending(in.UserID, intentNone)
		m.clear(ctx, in.UserID)
		return append(out, Reply{Text: msgWelcome, Menu: mainMenu})
	case cmdCancel:
		m.setPending(in.UserID, intentNone)
		m.clear(ctx, in.UserID)
		return append(out, Reply{Text: msgCancelled, Menu: mainMenu})
	case cmdBook:
		m.setPending(in.UserID, intentNone)
		return append(out, m.startBooking(ctx, in.UserID)...)
	case cmdList:
		out = append(out, m.listReservations(ctx, in.UserID, intentNone))
		return append(out, m.reprompt(ctx, session)...)
	case cmdCancelReservation:
		out = append(out, m.listReservations(ctx, in.UserID, intentCancel))
		return out
	case cmdEdit:
		out = append(out, m.listReservations(ctx, in.UserID, intentEdit))
		return out
	case cmdRepeat:
		m.setPending(in.UserID, intentNone)
		return append(out, m.repeatLast(ctx, in.UserID)...)
	}

	if code, ok := models.FindRecordCode(text); ok {
		if it := m.takePending(in.UserID); it != intentNone {
			return append(out, m.handleCode(ctx, in.UserID, code, it, session)...)
		}
	}

	if session == nil {
		return append(out, Reply{Text: msgChooseMenu, Menu: mainMenu})
	}
	return append(out, m.advance(ctx, session, text)...)
}

func (m *Machine) startBooking(ctx context.Context, userID int64) []Reply {
	s := &models.Session{UserID: userID, Step: models.StepCollectingName}
	if err := m.save(ctx, s); err != nil {
		return []Reply{{Text: msgTechnical, Menu: mainMenu}}
	}
	return []Reply{m.prompt(s)}
}

// advance validates text for the current step and moves the session forward.
func (m *Machine) advance(ctx context.Context, s *models.Session, text string) []Reply {
	f, editing, ok := stepField(s.Step)
	if !ok {
		m.log(ctx).Warn().Str("step", string(s.Step)).Int64("user_id", s.UserID).Msg("unknown step, session dropped")
		m.clear(ctx, s.UserID)
		return []Reply{{Text: msgChooseMenu, Menu: mainMenu}}
	}

	switch f {
	case fieldDate:
		return m.handleDate(ctx, s, text, editing)
	case fieldTime:
		return m.handleTime(ctx, s, text, editing)
	}

	keep := editing && text == keepInput
	if !keep {
		if err := specs[f].store(s, text, m.booker.Now()); err != nil {
			return []Reply{m.invalid(err, s)}
		}
	}
	s.Step = stepOf(f+1, editing)
	if err := m.save(ctx, s); err != nil {
		return []Reply{{Text: msgTechnical, Menu: mainMenu}}
	}
	return []Reply{m.prompt(s)}
}

func (m *Machine) handleDate(ctx context.Context, s *models.Session, text string, editing bool) []Reply {
	rules := m.booker.Rules()

	var day time.Time
	if editing && text == keepInput && !s.Date.IsZero() {
		day = rules.DayStart(s.Date)
	} else {
		d, err := parseDate(text, m.booker.Now())
		if err != nil {
			return []Reply{m.invalid(err, s)}
		}
		day = d
	}

	if err := m.booker.CheckDay(day); err != nil {
		return []Reply{m.invalid(m.dayError(err), s)}
	}

	slots, err := m.booker.FreeSlots(ctx, day)
	if err != nil {
		return []Reply{m.slotError(ctx, err, s)}
	}
	keepable := editing && m.keepableTime(s, day)
	if len(slots) == 0 && !keepable {
		r := m.prompt(s)
		r.Text = fmt.Sprintf("На %s вільного часу немає. Оберіть іншу дату.\n\n%s", day.Format(dateLayout), r.Text)
		return []Reply{r}
	}

	s.Date = day
	s.Step = stepOf(fieldTime, editing)
	if err := m.save(ctx, s); err != nil {
		return []Reply{{Text: msgTechnical, Menu: mainMenu}}
	}
	return []Reply{m.timeMenu(s, slots, keepable, "")}
}

func (m *Machine) handleTime(ctx context.Context, s *models.Session, text string, editing bool) []Reply {
	rules := m.booker.Rules()

	var start time.Time
	if editing && text == keepInput {
		if !m.keepableTime(s, s.Date) {
			return m.relistSlots(ctx, s, errKeepTime.Error())
		}
		start = s.Time.In(rules.Location)
	} else {
		off, err := parseClock(text)
		if err != nil {
			return m.relistSlots(ctx, s, err.Error())
		}
		start = rules.At(s.Date, off)
		if rules.WithinHours(start) && !rules.OnGrid(start) {
			return m.relistSlots(ctx, s, errOffGrid.Error())
		}
	}

	if !start.After(m.booker.Now()) {
		return m.relistSlots(ctx, s, errPastTime.Error())
	}
	if !rules.WithinHours(start) {
		return m.relistSlots(ctx, s, m.hoursMessage())
	}

	if editing {
		return m.finishEdit(ctx, s, start)
	}
	return m.finishBooking(ctx, s, start)
}

func (m *Machine) finishBooking(ctx context.Context, s *models.Session, start time.Time) []Reply {
	res, err := m.booker.Reserve(ctx, s.UserID, start, s.Fields)
	if err != nil {
		return m.reserveError(ctx, s, err)
	}
	m.clear(ctx, s.UserID)
	m.log(ctx).Info().Int64("user_id", s.UserID).Str("record_code", res.RecordCode).Msg("booking confirmed")
	return []Reply{{Text: m.confirmation("✅ Вас записано!", res), Menu: mainMenu, HTML: true}}
}

func (m *Machine) finishEdit(ctx context.Context, s *models.Session, start time.Time) []Reply {
	current, err := m.booker.ReservationByCode(ctx, s.UserID, s.EditingCode)
	if errors.Is(err, booking.ErrNotFound) {
		m.clear(ctx, s.UserID)
		return []Reply{m.notFound(s.EditingCode)}
	}
	if err != nil {
		m.log(ctx).Error().Err(err).Str("record_code", s.EditingCode).Msg("load reservation for edit")
		return []Reply{{Text: msgTechnical, Menu: mainMenu}}
	}

	updated, err := m.booker.Reschedule(ctx, current, start, s.Fields)
	if err != nil {
		return m.reserveError(ctx, s, err)
	}
	m.clear(ctx, s.UserID)
	return []Reply{{Text: m.confirmation("✅ Запис оновлено!", updated), Menu: mainMenu, HTML: true}}
}

func (m *Machine) reserveError(ctx context.Context, s *models.Session, err error) []Reply {
	switch {
	case errors.Is(err, booking.ErrSlotTaken):
		return m.relistSlots(ctx, s, msgSlotTaken)
	case errors.Is(err, booking.ErrRemoteUnavailable):
		m.log(ctx).Warn().Err(err).Int64("user_id", s.UserID).Msg("reservation not created")
		return m.relistSlots(ctx, s, msgNotCreated)
	case errors.Is(err, booking.ErrPastSlot):
		return m.relistSlots(ctx, s, errPastTime.Error())
	case errors.Is(err, booking.ErrOutsideHours):
		return m.relistSlots(ctx, s, m.hoursMessage())
	case errors.Is(err, booking.ErrOutOfRange):
		return m.relistSlots(ctx, s, m.dayError(err).Error())
	}
	m.log(ctx).Error().Err(err).Int64("user_id", s.UserID).Msg("reserve")
	return []Reply{{Text: msgTechnical, Menu: mainMenu}}
}

// relistSlots keeps the session on the time step and shows the current free
// slots, or sends the user back to the date step when none are left.
func (m *Machine) relistSlots(ctx context.Context, s *models.Session, header string) []Reply {
	_, editing, _ := stepField(s.Step)
	slots, err := m.booker.FreeSlots(ctx, s.Date)
	if err != nil {
		r := m.slotError(ctx, err, s)
		r.Text = header + "\n\n" + r.Text
		return []Reply{r}
	}
	keepable := editing && m.keepableTime(s, s.Date)
	if len(slots) == 0 && !keepable {
		s.Step = stepOf(fieldDate, editing)
		if err := m.save(ctx, s); err != nil {
			return []Reply{{Text: msgTechnical, Menu: mainMenu}}
		}
		r := m.prompt(s)
		r.Text = fmt.Sprintf("%s\n\nНа %s вільного часу більше немає.\n%s", header, s.Date.Format(dateLayout), r.Text)
		return []Reply{r}
	}
	return []Reply{m.timeMenu(s, slots, keepable, header)}
}

func (m *Machine) timeMenu(s *models.Session, slots []time.Time, keepable bool, header string) Reply {
	var b strings.Builder
	if header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Вільний час на %s:\n", s.Date.Format(dateLayout))
	if len(slots) == 0 {
		b.WriteString("інших вільних слотів немає\n")
	}
	if keepable {
		fmt.Fprintf(&b, "Поточний час: %s\n", s.Time.In(m.booker.Rules().Location).Format(clockLayout))
	}
	b.WriteString(specs[fieldTime].prompt)

	var menu [][]string
	var row []string
	for _, t := range slots {
		row = append(row, t.Format(clockLayout))
		if len(row) == 4 {
			menu = append(menu, row)
			row = nil
		}
	}
	if len(row) > 0 {
		menu = append(menu, row)
	}
	if keepable {
		menu = append(menu, []string{keepInput})
	}
	menu = append(menu, []string{cmdCancel})
	return Reply{Text: b.String(), Menu: menu}
}

// keepableTime reports whether the edited reservation's own time can stay on day.
func (m *Machine) keepableTime(s *models.Session, day time.Time) bool {
	if s.Time.IsZero() || !s.Time.After(m.booker.Now()) {
		return false
	}
	rules := m.booker.Rules()
	return rules.DayStart(s.Time).Equal(rules.DayStart(day))
}

// repeatLast books the latest reservation's weekday and time in the first
// future week. When that slot is not free the user picks another date.
func (m *Machine) repeatLast(ctx context.Context, userID int64) []Reply {
	last, err := m.booker.Latest(ctx, userID)
	if errors.Is(err, booking.ErrNotFound) {
		return []Reply{{Text: msgNoHistory, Menu: mainMenu}}
	}
	if err != nil {
		m.log(ctx).Error().Err(err).Int64("user_id", userID).Msg("latest reservation")
		return []Reply{{Text: msgTechnical, Menu: mainMenu}}
	}

	rules := m.booker.Rules()
	now := m.booker.Now()
	start := last.Start.In(rules.Location).AddDate(0, 0, 7)
	for !start.After(now) {
		start = start.AddDate(0, 0, 7)
	}

	if m.booker.CheckDay(start) == nil && m.booker.IsFree(ctx, start) {
		res, err := m.booker.Reserve(ctx, userID, start, last.Fields)
		if err == nil {
			m.clear(ctx, userID)
			return []Reply{{Text: m.confirmation("🔁 Запис повторено!", res), Menu: mainMenu, HTML: true}}
		}
		m.log(ctx).Info().Err(err).Int64("user_id", userID).Msg("repeat reservation not created")
	}

	s := &models.Session{
		UserID: userID,
		Step:   models.StepCollectingDate,
		Fields: last.Fields,
	}
	if err := m.save(ctx, s); err != nil {
		return []Reply{{Text: msgTechnical, Menu: mainMenu}}
	}
	r := m.prompt(s)
	r.Text = fmt.Sprintf("Час %s уже недоступний. Ваші дані збережено.\n%s", start.Format(dateLayout+" "+clockLayout), r.Text)
	return []Reply{r}
}

func (m *Machine) handleCode(ctx context.Context, userID int64, code string, it intent, session *models.Session) []Reply {
	if it == intentEdit {
		return m.startEdit(ctx, userID, code)
	}

	r, err := m.booker.CancelByCode(ctx, userID, code)
	if errors.Is(err, booking.ErrNotFound) {
		return append([]Reply{m.notFound(code)}, m.reprompt(ctx, session)...)
	}
	if err != nil {
		m.log(ctx).Error().Err(err).Str("record_code", code).Msg("cancel reservation")
		return []Reply{{Text: msgTechnical, Menu: mainMenu}}
	}

	text := fmt.Sprintf("❌ Запис <code>%s</code> на %s скасовано.",
		html.EscapeString(r.RecordCode), r.Start.Format(dateLayout+" "+clockLayout))
	return append([]Reply{{Text: text, Menu: mainMenu, HTML: true}}, m.reprompt(ctx, session)...)
}

func (m *Machine) startEdit(ctx context.Context, userID int64, code string) []Reply {
	r, err := m.booker.ReservationByCode(ctx, userID, code)
	if errors.Is(err, booking.ErrNotFound) {
		return []Reply{m.notFound(code)}
	}
	if err != nil {
		m.log(ctx).Error().Err(err).Str("record_code", code).Msg("load reservation for edit")
		return []Reply{{Text: msgTechnical, Menu: mainMenu}}
	}

	rules := m.booker.Rules()
	s := &models.Session{
		UserID:         userID,
		Step:           models.StepEditingName,
		Fields:         r.Fields,
		Date:           rules.DayStart(r.Start),
		Time:           r.Start,
		EditingEventID: r.EventID,
		EditingCode:    r.RecordCode,
	}
	if err := m.save(ctx, s); err != nil {
		return []Reply{{Text: msgTechnical, Menu: mainMenu}}
	}
	intro := Reply{Text: fmt.Sprintf("✏️ Редагування запису <code>%s</code>.\nНадсилайте нові значення або натискайте «%s».",
		html.EscapeString(r.RecordCode), keepInput), HTML: true}
	return []Reply{intro, m.prompt(s)}
}

func (m *Machine) listReservations(ctx context.Context, userID int64, it intent) Reply {
	list, err := m.booker.Reservations(ctx, userID)
	if err != nil {
		m.log(ctx).Error().Err(err).Int64("user_id", userID).Msg("list reservations")
		return Reply{Text: msgTechnical, Menu: mainMenu}
	}
	if len(list) == 0 {
		m.setPending(userID, intentNone)
		return Reply{Text: msgNoRecords, Menu: mainMenu}
	}

	var b strings.Builder
	b.WriteString("Ваші записи:\n\n")
	for i, r := range list {
		fmt.Fprintf(&b, "%d. <b>ID запису:</b> <code>%s</code>\n", i+1, html.EscapeString(r.RecordCode))
		fmt.Fprintf(&b, "   📅 <b>Дата і час:</b> %s\n\n", r.Start.Format(dateLayout+" "+clockLayout))
	}

	m.setPending(userID, it)
	switch it {
	case intentCancel:
		b.WriteString("Надішли тільки <b>ID запису</b> (наприклад, <code>REC-20251117-1300</code>), щоб скасувати:")
	case intentEdit:
		b.WriteString("Надішли <b>ID запису</b>, який потрібно змінити:")
	default:
		return Reply{Text: strings.TrimRight(b.String(), "\n"), Menu: mainMenu, HTML: true}
	}

	menu := make([][]string, 0, len(list)+1)
	for _, r := range list {
		menu = append(menu, []string{r.RecordCode})
	}
	menu = append(menu, []string{cmdCancel})
	return Reply{Text: b.String(), Menu: menu, HTML: true}
}

// reprompt repeats the question of an open session after an out-of-band command.
func (m *Machine) reprompt(ctx context.Context, s *models.Session) []Reply {
	if s == nil {
		return nil
	}
	f, _, ok := stepField(s.Step)
	if !ok {
		return nil
	}
	if f == fieldTime {
		return m.relistSlots(ctx, s, "Продовжимо запис.")
	}
	return []Reply{m.prompt(s)}
}

// prompt asks for the value of the session's current step.
func (m *Machine) prompt(s *models.Session) Reply {
	f, editing, _ := stepField(s.Step)
	spec := specs[f]

	text := spec.prompt
	if editing {
		if cur := spec.current(s); cur != "" {
			text += "\nПоточне значення: " + cur
		}
	}

	var menu [][]string
	if len(spec.options) > 0 {
		menu = append(menu, append([]string(nil), spec.options...))
	}
	if editing {
		menu = append(menu, []string{keepInput})
	}
	menu = append(menu, []string{cmdCancel})
	return Reply{Text: text, Menu: menu}
}

func (m *Machine) invalid(err error, s *models.Session) Reply {
	r := m.prompt(s)
	r.Text = err.Error() + "\n\n" + r.Text
	return r
}

func (m *Machine) dayError(err error) error {
	switch {
	case errors.Is(err, booking.ErrPastSlot):
		return errPastDate
	case errors.Is(err, booking.ErrOutOfRange):
		return inputError(fmt.Sprintf("Записатися можна не більше ніж на %d днів уперед.", m.booker.Rules().MaxDaysAhead))
	}
	return errDate
}

func (m *Machine) slotError(ctx context.Context, err error, s *models.Session) Reply {
	if !booking.IsUnavailable(err) {
		m.log(ctx).Error().Err(err).Int64("user_id", s.UserID).Msg("free slots")
	}
	r := m.prompt(s)
	if f, _, _ := stepField(s.Step); f == fieldTime {
		r = Reply{Menu: [][]string{{cmdCancel}}}
	}
	r.Text = strings.TrimSpace(msgUnavailable + "\n\n" + r.Text)
	return r
}

func (m *Machine) hoursMessage() string {
	rules := m.booker.Rules()
	last := rules.Close - rules.SlotDuration
	return fmt.Sprintf("Оберіть час між %s та %s.", clock(rules.Open), clock(last))
}

func (m *Machine) notFound(code string) Reply {
	return Reply{
		Text: fmt.Sprintf("Запис з ID <code>%s</code> не знайдено.", html.EscapeString(code)),
		Menu: mainMenu,
		HTML: true,
	}
}

func (m *Machine) confirmation(title string, r *models.Reservation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", title)
	fmt.Fprintf(&b, "<b>ID запису:</b> <code>%s</code>\n", html.EscapeString(r.RecordCode))
	fmt.Fprintf(&b, "📅 <b>Дата і час:</b> %s\n", r.Start.In(m.booker.Rules().Location).Format(dateLayout+" "+clockLayout))
	fmt.Fprintf(&b, "👤 %s\n\n", html.EscapeString(r.Fields.FullName))
	b.WriteString("Збережіть ID запису: він потрібен, щоб скасувати або змінити запис.")
	return b.String()
}

func (m *Machine) save(ctx context.Context, s *models.Session) error {
	if err := m.sessions.Save(ctx, s); err != nil {
		m.log(ctx).Error().Err(err).Int64("user_id", s.UserID).Msg("save session")
		return err
	}
	return nil
}

func (m *Machine) clear(ctx context.Context, userID int64) {
	if err := m.sessions.Clear(ctx, userID); err != nil {
		m.log(ctx).Warn().Err(err).Int64("user_id", userID).Msg("clear session")
	}
}

func (m *Machine) firstContact(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.welcomed[userID] {
		return false
	}
	m.welcomed[userID] = true
	return true
}

func (m *Machine) setPending(userID int64, it intent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it == intentNone {
		delete(m.pending, userID)
		return
	}
	m.pending[userID] = it
}

func (m *Machine) takePending(userID int64) intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.pending[userID]
	delete(m.pending, userID)
	return it
}

// log prefers the request-scoped logger stored in ctx.
func (m *Machine) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &m.logger
}

func clock(off time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(off/time.Hour), int(off%time.Hour/time.Minute))
}

type userLock struct {
	sync.Mutex
	refs int
}

// userLocks hands out one mutex per user and forgets it when unused.
type userLocks struct {
	mu sync.Mutex
	m  map[int64]*userLock
}

func (l *userLocks) lock(userID int64) func() {
	l.mu.Lock()
	ul, ok := l.m[userID]
	if !ok {
		ul = &userLock{}
		l.m[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.m, userID)
		}
		l.mu.Unlock()
	}
}
