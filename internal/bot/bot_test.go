package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"zapys/internal/config"
	"zapys/internal/conversation"
	"zapys/internal/domain"
	"zapys/internal/metrics"
	"zapys/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	method string
	chatID int64
	text   string
	parse  string
	markup interface{}
}

type mockTelegramService struct {
	domain.TelegramService
	updatesChan chan tgbotapi.Update

	mu      sync.Mutex
	sent    []sent
	stopped bool
}

func (m *mockTelegramService) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegramService) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "test_bot"}
}

func (m *mockTelegramService) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *mockTelegramService) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	m.record(sent{method: "Send", chatID: msg.ChatID, text: msg.Text, parse: msg.ParseMode, markup: msg.ReplyMarkup})
	return tgbotapi.Message{}, nil
}

func (m *mockTelegramService) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	m.record(sent{method: "SendMessage", chatID: chatID, text: text})
	return tgbotapi.Message{}, nil
}

func (m *mockTelegramService) SendHTML(chatID int64, text string, kb *tgbotapi.ReplyKeyboardMarkup) (tgbotapi.Message, error) {
	var markup interface{}
	if kb != nil {
		markup = *kb
	}
	m.record(sent{method: "SendHTML", chatID: chatID, text: text, parse: models.ParseModeHTML, markup: markup})
	return tgbotapi.Message{}, nil
}

func (m *mockTelegramService) SendWithKeyboard(chatID int64, text string, kb tgbotapi.ReplyKeyboardMarkup) (tgbotapi.Message, error) {
	m.record(sent{method: "SendWithKeyboard", chatID: chatID, text: text, markup: kb})
	return tgbotapi.Message{}, nil
}

func (m *mockTelegramService) record(s sent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, s)
}

func (m *mockTelegramService) messages() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.sent...)
}

type stubHandler struct {
	mu      sync.Mutex
	replies []conversation.Reply
	calls   []conversation.Inbound
	panics  bool
	ctxOK   bool
}

func (h *stubHandler) Handle(ctx context.Context, in conversation.Inbound) []conversation.Reply {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panics {
		panic("boom")
	}
	_, hasDeadline := ctx.Deadline()
	h.ctxOK = hasDeadline && zerolog.Ctx(ctx).GetLevel() != zerolog.Disabled
	h.calls = append(h.calls, in)
	return h.replies
}

func (h *stubHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type stubLimiter struct{ allow bool }

func (l stubLimiter) Allow(context.Context, int64, int, time.Duration) bool { return l.allow }

func textUpdate(userID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}}
}

func newTestBot(t *testing.T, h Handler, limiter RateLimiter) (*Bot, *mockTelegramService, *prometheus.Registry) {
	t.Helper()
	tg := &mockTelegramService{updatesChan: make(chan tgbotapi.Update, 10)}
	reg := prometheus.NewRegistry()
	logger := zerolog.New(zerolog.NewTestWriter(t))
	b, err := NewBot(tg, h, limiter, config.BotConfig{RateLimitMessages: 5, RateLimitWindow: 10}, metrics.New(reg), &logger)
	require.NoError(t, err)
	return b, tg, reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestNewBotRequiresDependencies(t *testing.T) {
	_, err := NewBot(nil, &stubHandler{}, nil, config.BotConfig{}, nil, nil)
	assert.Error(t, err)

	_, err = NewBot(&mockTelegramService{}, nil, nil, config.BotConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestProcessUpdateRendersReplies(t *testing.T) {
	h := &stubHandler{replies: []conversation.Reply{
		{Text: "plain"},
		{Text: "menu", Menu: [][]string{{"A", "B"}, {"C"}}},
		{Text: "<b>html</b>", Menu: [][]string{{"X"}}, HTML: true},
	}}
	b, tg, reg := newTestBot(t, h, stubLimiter{allow: true})

	b.processUpdate(context.Background(), textUpdate(7, "Записатися"))

	require.Equal(t, 1, h.callCount())
	assert.Equal(t, conversation.Inbound{UserID: 7, Text: "Записатися"}, h.calls[0])
	assert.True(t, h.ctxOK, "handler gets a deadline and a request logger")

	msgs := tg.messages()
	require.Len(t, msgs, 3)

	assert.Equal(t, "SendMessage", msgs[0].method)
	assert.Equal(t, int64(7), msgs[0].chatID)

	assert.Equal(t, "SendWithKeyboard", msgs[1].method)
	kb, ok := msgs[1].markup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, kb.ResizeKeyboard)
	require.Len(t, kb.Keyboard, 2)
	assert.Len(t, kb.Keyboard[0], 2)
	assert.Equal(t, "C", kb.Keyboard[1][0].Text)

	assert.Equal(t, "SendHTML", msgs[2].method)
	assert.Equal(t, models.ParseModeHTML, msgs[2].parse)
	_, ok = msgs[2].markup.(tgbotapi.ReplyKeyboardMarkup)
	assert.True(t, ok)

	assert.Equal(t, 1.0, counterValue(t, reg, "zapys_updates_total"))
}

func TestProcessUpdateRateLimited(t *testing.T) {
	h := &stubHandler{replies: []conversation.Reply{{Text: "ok"}}}
	b, tg, reg := newTestBot(t, h, stubLimiter{allow: false})

	b.processUpdate(context.Background(), textUpdate(7, "привіт"))

	assert.Zero(t, h.callCount())
	msgs := tg.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, msgRateLimited, msgs[0].text)
	assert.Equal(t, 1.0, counterValue(t, reg, "zapys_rate_limited_total"))
}

func TestProcessUpdateNonText(t *testing.T) {
	h := &stubHandler{}
	b, tg, _ := newTestBot(t, h, nil)

	b.processUpdate(context.Background(), textUpdate(7, ""))
	b.processUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "1"}})

	assert.Zero(t, h.callCount())
	msgs := tg.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, msgTextOnly, msgs[0].text)
}

func TestProcessUpdateRecoversPanic(t *testing.T) {
	h := &stubHandler{panics: true}
	b, tg, reg := newTestBot(t, h, nil)

	assert.NotPanics(t, func() {
		b.processUpdate(context.Background(), textUpdate(7, "x"))
	})
	assert.Empty(t, tg.messages())
	assert.Equal(t, 1.0, counterValue(t, reg, "zapys_panics_recovered_total"))
}

func TestStartHandlesUpdatesUntilCancel(t *testing.T) {
	h := &stubHandler{replies: []conversation.Reply{{Text: "ok"}}}
	b, tg, _ := newTestBot(t, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Start(ctx)
		close(done)
	}()

	for i := int64(1); i <= 3; i++ {
		tg.updatesChan <- textUpdate(i, "hi")
	}
	require.Eventually(t, func() bool { return len(tg.messages()) == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}

	b.Stop()
	assert.True(t, tg.stopped)
}
