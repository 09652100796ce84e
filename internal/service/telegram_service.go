package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"zapys/internal/domain"
	"zapys/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var _ domain.TelegramService = (*TelegramService)(nil)

// maxMessageRunes is the Bot API limit for one text message.
const maxMessageRunes = 4096

// TelegramService delivers dialogue replies and notices. Texts longer than one
// Telegram message are split on line breaks and the keyboard rides on the
// last part.
type TelegramService struct {
	bot domain.TelegramSender
}

func NewTelegramService(bot domain.TelegramSender) *TelegramService {
	return &TelegramService{bot: bot}
}

func (s *TelegramService) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return s.bot.Send(c)
}

func (s *TelegramService) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	return s.deliver(chatID, text, "", nil)
}

func (s *TelegramService) SendWithKeyboard(chatID int64, text string, keyboard tgbotapi.ReplyKeyboardMarkup) (tgbotapi.Message, error) {
	return s.deliver(chatID, text, "", keyboard)
}

// SendHTML sends text with HTML markup, used for record codes and lists.
func (s *TelegramService) SendHTML(chatID int64, text string, keyboard *tgbotapi.ReplyKeyboardMarkup) (tgbotapi.Message, error) {
	var markup interface{}
	if keyboard != nil {
		markup = *keyboard
	}
	return s.deliver(chatID, text, models.ParseModeHTML, markup)
}

func (s *TelegramService) deliver(chatID int64, text, parseMode string, markup interface{}) (tgbotapi.Message, error) {
	parts := splitMessage(text, maxMessageRunes)
	var last tgbotapi.Message
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = parseMode
		msg.DisableWebPagePreview = true
		if i == len(parts)-1 && markup != nil {
			msg.ReplyMarkup = markup
		}
		sent, err := s.bot.Send(msg)
		if err != nil {
			return sent, fmt.Errorf("send part %d/%d to %d: %w", i+1, len(parts), chatID, err)
		}
		last = sent
	}
	return last, nil
}

// splitMessage cuts text into parts of at most limit runes, preferring line
// boundaries. A single overlong line is cut hard.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	var b strings.Builder
	n := 0
	flush := func() {
		if part := strings.TrimRight(b.String(), "\n"); part != "" {
			parts = append(parts, part)
		}
		b.Reset()
		n = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		runes := []rune(line)
		for len(runes) > limit {
			flush()
			parts = append(parts, string(runes[:limit]))
			runes = runes[limit:]
		}
		if n+len(runes) > limit {
			flush()
		}
		b.WriteString(string(runes))
		n += len(runes)
	}
	flush()
	return parts
}

func (s *TelegramService) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return s.bot.GetUpdatesChan(config)
}

func (s *TelegramService) GetSelf() tgbotapi.User {
	return s.bot.GetSelf()
}

func (s *TelegramService) StopReceivingUpdates() {
	s.bot.StopReceivingUpdates()
}
