package bot

import (
	"zapys/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// apiSender adapts *tgbotapi.BotAPI to domain.TelegramSender.
type apiSender struct {
	*tgbotapi.BotAPI
}

func NewSender(api *tgbotapi.BotAPI) domain.TelegramSender {
	return &apiSender{BotAPI: api}
}

func (s *apiSender) GetSelf() tgbotapi.User {
	return s.Self
}
