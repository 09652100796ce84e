package service

import (
	"context"
	"sync"

	"zapys/internal/domain"
	"zapys/internal/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var _ domain.Notifier = (*Notifier)(nil)

const (
	chatRPS   = 1
	chatBurst = 3
)

type outbound struct {
	chatID int64
	text   string
}

// Notifier queues outbound Telegram messages and sends them from a single
// goroutine under a global and a per-chat rate limit. A full queue drops.
type Notifier struct {
	sender    domain.TelegramService
	operators []int64
	queue     chan outbound
	limiter   *rate.Limiter
	chats     sync.Map // map[int64]*rate.Limiter
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewNotifier(sender domain.TelegramService, operators []int64, queueSize int, rps float64, m *metrics.Metrics, logger *zerolog.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = 1
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notifier").Logger()
	}
	return &Notifier{
		sender:    sender,
		operators: append([]int64(nil), operators...),
		queue:     make(chan outbound, queueSize),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		metrics:   m,
		logger:    l,
	}
}

// Notify enqueues text for chatID without blocking.
func (n *Notifier) Notify(chatID int64, text string) {
	if chatID == 0 || text == "" {
		return
	}
	select {
	case n.queue <- outbound{chatID: chatID, text: text}:
	default:
		n.metrics.IncDropped()
		n.logger.Warn().Int64("chat_id", chatID).Msg("notification queue full, message dropped")
	}
}

func (n *Notifier) NotifyOperators(text string) {
	for _, id := range n.operators {
		n.Notify(id, text)
	}
}

// Operators returns the configured operator chat ids.
func (n *Notifier) Operators() []int64 {
	return append([]int64(nil), n.operators...)
}

// Run sends queued messages until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				return
			}
			if err := n.chatLimiter(msg.chatID).Wait(ctx); err != nil {
				return
			}
			if _, err := n.sender.SendMessage(msg.chatID, msg.text); err != nil {
				n.logger.Error().Err(err).Int64("chat_id", msg.chatID).Msg("failed to send notification")
			}
		}
	}
}

// Pending is the number of queued messages.
func (n *Notifier) Pending() int {
	return len(n.queue)
}

func (n *Notifier) chatLimiter(chatID int64) *rate.Limiter {
	if v, ok := n.chats.Load(chatID); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(chatRPS), chatBurst)
	actual, _ := n.chats.LoadOrStore(chatID, lim)
	return actual.(*rate.Limiter)
}
