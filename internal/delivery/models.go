// Package delivery — очередь исходящих сообщений. Сообщения копятся в памяти
// и уходят пачками не чаще одной пачки в Delay, чтобы не упираться в лимиты Telegram.
package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Item — одно исходящее сообщение. Живёт только в памяти очереди.
type Item struct {
	ID               uuid.UUID
	ChatID           int64
	Text             string
	ReplyToMessageID int    // 0 — без ответа
	ParseMode        string // "" — обычный текст
	EnqueuedAt       time.Time
}

// Option настраивает Item при добавлении в очередь.
type Option func(*Item)

// WithReplyTo отправляет сообщение ответом на messageID.
func WithReplyTo(messageID int) Option {
	return func(it *Item) { it.ReplyToMessageID = messageID }
}

// WithParseMode задаёт parse_mode (HTML, MarkdownV2).
func WithParseMode(mode string) Option {
	return func(it *Item) { it.ParseMode = mode }
}

// Sender отправляет одно сообщение во внешний мессенджер.
type Sender interface {
	Send(ctx context.Context, item Item) error
}

// Config — параметры пачек.
type Config struct {
	BatchSize   int           // сколько сообщений в пачке и сколько отправок одновременно
	Delay       time.Duration // минимум между началами соседних пачек
	SendTimeout time.Duration // таймаут одной отправки, 0 — без таймаута
}

// DefaultConfig — 30 сообщений в секунду: общий лимит Bot API.
func DefaultConfig() Config {
	return Config{
		BatchSize:   30,
		Delay:       time.Second,
		SendTimeout: 10 * time.Second,
	}
}
