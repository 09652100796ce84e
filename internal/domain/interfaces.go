package domain

import (
	"context"
	"time"

	"zapys/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Calendar is the shared remote calendar that reservations are written to.
type Calendar interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]models.BusyInterval, error)
	InsertEvent(ctx context.Context, in models.EventInput) (string, error)
	UpdateEvent(ctx context.Context, eventID string, in models.EventInput) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// ReservationRepository persists confirmed reservations.
// Lookups return (nil, nil) when nothing matches.
type ReservationRepository interface {
	SaveReservation(ctx context.Context, r *models.Reservation) error
	DeleteReservation(ctx context.Context, eventID string) error
	GetReservationByEvent(ctx context.Context, eventID string) (*models.Reservation, error)
	GetReservationByCode(ctx context.Context, userID int64, code string) (*models.Reservation, error)
	ListReservationsByUser(ctx context.Context, userID int64) ([]*models.Reservation, error)
	ListReservationsBetween(ctx context.Context, from, to time.Time) ([]*models.Reservation, error)
}

type SessionRepository interface {
	GetSession(ctx context.Context, userID int64) (*models.Session, error)
	SaveSession(ctx context.Context, session *models.Session) error
	ClearSession(ctx context.Context, userID int64) error
	CheckRateLimit(ctx context.Context, userID int64, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier delivers outbound messages without blocking the caller.
type Notifier interface {
	Notify(chatID int64, text string)
	NotifyOperators(text string)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

type TelegramService interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMessage(chatID int64, text string) (tgbotapi.Message, error)
	SendWithKeyboard(chatID int64, text string, keyboard tgbotapi.ReplyKeyboardMarkup) (tgbotapi.Message, error)
	SendHTML(chatID int64, text string, keyboard *tgbotapi.ReplyKeyboardMarkup) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

type SheetsWriter interface {
	AppendReservation(ctx context.Context, r *models.Reservation) error
	UpdateReservation(ctx context.Context, previousCode string, r *models.Reservation) error
	MarkCancelled(ctx context.Context, code string) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType, recordCode string, r *models.Reservation, previousCode string) error
}
