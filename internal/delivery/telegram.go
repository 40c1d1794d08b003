package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"serotonyl.ru/karma-bot/internal/metrics"
)

// MessageAPI — часть *telego.Bot, нужная для отправки.
type MessageAPI interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// TelegramSender отправляет Item через Bot API.
type TelegramSender struct {
	api MessageAPI
}

var _ Sender = (*TelegramSender)(nil)

// NewTelegramSender создаёт отправителя поверх бота.
func NewTelegramSender(api MessageAPI) *TelegramSender {
	return &TelegramSender{api: api}
}

// Send отправляет одно сообщение.
func (s *TelegramSender) Send(ctx context.Context, item Item) error {
	params := tu.Message(tu.ID(item.ChatID), item.Text)
	if item.ReplyToMessageID != 0 {
		params = params.WithReplyParameters(&telego.ReplyParameters{
			MessageID:                item.ReplyToMessageID,
			AllowSendingWithoutReply: true,
		})
	}
	if item.ParseMode != "" {
		params = params.WithParseMode(item.ParseMode)
	}

	if _, err := s.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("sendMessage chat_id=%d: %w", item.ChatID, err)
	}
	return nil
}

// BreakerConfig — когда размыкать цепь.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // подряд ошибок до размыкания
	OpenTimeout         time.Duration // сколько цепь разомкнута до пробного запроса
}

// BreakerSender — circuit breaker вокруг другого Sender. Пока цепь
// разомкнута, Send сразу возвращает gobreaker.ErrOpenState: очередь
// выбрасывает сообщение без похода в Telegram.
type BreakerSender struct {
	next Sender
	cb   *gobreaker.CircuitBreaker
}

var _ Sender = (*BreakerSender)(nil)

// NewBreakerSender оборачивает next.
func NewBreakerSender(next Sender, cfg BreakerConfig) *BreakerSender {
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker сменил состояние")
			metrics.DeliveryBreakerState.Set(float64(to))
		},
	})
	return &BreakerSender{next: next, cb: cb}
}

// Send пропускает отправку через circuit breaker.
func (s *BreakerSender) Send(ctx context.Context, item Item) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Send(ctx, item)
	})
	return err
}

// State — текущее состояние цепи.
func (s *BreakerSender) State() gobreaker.State {
	return s.cb.State()
}
