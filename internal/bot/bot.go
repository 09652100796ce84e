package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"zapys/internal/config"
	"zapys/internal/conversation"
	"zapys/internal/domain"
	"zapys/internal/logging"
	"zapys/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	updateTimeout = 30 * time.Second

	msgRateLimited = "⚠️ Ви надсилаєте повідомлення занадто часто. Зачекайте трохи."
	msgTextOnly    = "Надішліть, будь ласка, текстове повідомлення або скористайтеся меню."
)

// Handler turns one inbound message into replies.
type Handler interface {
	Handle(ctx context.Context, in conversation.Inbound) []conversation.Reply
}

// RateLimiter decides whether a user may send another message.
type RateLimiter interface {
	Allow(ctx context.Context, userID int64, limit int, window time.Duration) bool
}

type Bot struct {
	tgService domain.TelegramService
	handler   Handler
	limiter   RateLimiter
	limit     int
	window    time.Duration
	metrics   *metrics.Metrics
	logger    *zerolog.Logger

	wg sync.WaitGroup
}

func NewBot(
	tgService domain.TelegramService,
	handler Handler,
	limiter RateLimiter,
	cfg config.BotConfig,
	m *metrics.Metrics,
	logger *zerolog.Logger,
) (*Bot, error) {
	if tgService == nil {
		return nil, errors.New("telegram service is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}

	return &Bot{
		tgService: tgService,
		handler:   handler,
		limiter:   limiter,
		limit:     cfg.RateLimitMessages,
		window:    time.Duration(cfg.RateLimitWindow) * time.Second,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Start consumes updates until ctx is done. Every update runs in its own
// goroutine; Start returns after the in-flight ones finish.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tgService.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tgService.GetSelf().UserName).Msg("Authorized on account")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.processUpdate(ctx, update)
			}()
		}
	}
}

// Stop stops receiving Telegram updates.
func (b *Bot) Stop() {
	if b == nil || b.tgService == nil {
		return
	}
	b.tgService.StopReceivingUpdates()
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	kind := updateKind(update)
	defer func() {
		b.metrics.ObserveUpdate(kind, time.Since(start))
	}()

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	updateCtx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()
	updateCtx, _ = logging.WithUpdate(updateCtx, b.logger, userID)
	log := zerolog.Ctx(updateCtx)

	b.withRecovery(log, func() {
		if b.limiter != nil && b.limit > 0 && !b.limiter.Allow(updateCtx, userID, b.limit, b.window) {
			b.metrics.IncRateLimited()
			log.Warn().Msg("Rate limit exceeded")
			b.sendText(log, chatID, msgRateLimited)
			return
		}

		if msg.Text == "" {
			b.sendText(log, chatID, msgTextOnly)
			return
		}

		replies := b.handler.Handle(updateCtx, conversation.Inbound{UserID: userID, Text: msg.Text})
		for _, r := range replies {
			if err := b.sendReply(chatID, r); err != nil {
				log.Error().Err(err).Int64("chat_id", chatID).Msg("send reply")
			}
		}
	})
}

func (b *Bot) withRecovery(log *zerolog.Logger, handler func()) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.IncPanic()
			log.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
		}
	}()
	handler()
}

func (b *Bot) sendText(log *zerolog.Logger, chatID int64, text string) {
	if _, err := b.tgService.SendMessage(chatID, text); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}

// sendReply renders a conversation reply. HTML replies go through Send so
// the parse mode and the keyboard travel together.
func (b *Bot) sendReply(chatID int64, r conversation.Reply) error {
	switch {
	case r.HTML:
		var kb *tgbotapi.ReplyKeyboardMarkup
		if len(r.Menu) > 0 {
			k := keyboard(r.Menu)
			kb = &k
		}
		_, err := b.tgService.SendHTML(chatID, r.Text, kb)
		return err
	case len(r.Menu) > 0:
		_, err := b.tgService.SendWithKeyboard(chatID, r.Text, keyboard(r.Menu))
		return err
	default:
		_, err := b.tgService.SendMessage(chatID, r.Text)
		return err
	}
}

func keyboard(menu [][]string) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(menu))
	for _, labels := range menu {
		row := make([]tgbotapi.KeyboardButton, 0, len(labels))
		for _, l := range labels {
			row = append(row, tgbotapi.NewKeyboardButton(l))
		}
		rows = append(rows, row)
	}
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.ResizeKeyboard = true
	return kb
}

func updateKind(update tgbotapi.Update) string {
	switch {
	case update.Message != nil && update.Message.IsCommand():
		return "command"
	case update.Message != nil:
		return "message"
	case update.CallbackQuery != nil:
		return "callback"
	default:
		return "other"
	}
}
