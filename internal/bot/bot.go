// Package bot принимает апдейты Telegram через long polling и раскидывает
// их по обработчикам: реакции «+1»/«-1», команды кармы, админка в личке.
package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/bot/guards"
	"serotonyl.ru/karma-bot/internal/bot/middleware"
	"serotonyl.ru/karma-bot/internal/delivery"
	"serotonyl.ru/karma-bot/internal/features/karma"
	"serotonyl.ru/karma-bot/internal/features/ledger"
	"serotonyl.ru/karma-bot/internal/metrics"
)

const helpText = `⭐ Карма-бот
Ответьте на сообщение «+1» или «-1» (также «+», «-», «спасибо», 👍, 👎), чтобы изменить карму автора.

!карма — ваша карма в этом чате
!топ [N] — лучшие по карме (0 — все)
!антитоп [N] — худшие по карме
!история — последние изменения вашей кармы
!отсыпать N — ответом на сообщение, или !отсыпать @user N`

// UpdateSource — источник апдейтов (*telego.Bot).
type UpdateSource interface {
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
}

// KarmaHandler — обработчики кармы.
type KarmaHandler interface {
	HandleReaction(ctx context.Context, msg *telego.Message, delta int64)
	HandleKarma(ctx context.Context, msg *telego.Message)
	HandleTop(ctx context.Context, msg *telego.Message, args []string, order ledger.Order)
	HandleHistory(ctx context.Context, msg *telego.Message)
	HandleTransfer(ctx context.Context, msg *telego.Message, args []string)
}

// AdminHandler — админка в личке. false — сообщение не для админки.
type AdminHandler interface {
	HandleAdminMessage(ctx context.Context, msg *telego.Message) bool
}

// MemberHandler регистрирует вступивших участников.
type MemberHandler interface {
	HandleNewChatMembers(ctx context.Context, chat telego.Chat, users []telego.User)
}

// Replier — очередь исходящих сообщений.
type Replier interface {
	AddMessage(chatID int64, text string, opts ...delivery.Option)
}

// RateLimiter ограничивает апдейты на пользователя.
type RateLimiter interface {
	Allow(userID int64) bool
}

// Options — параметры цикла обработки.
type Options struct {
	MaxInflight          int
	UpdateTimeoutSeconds int
}

// Bot — главная структура бота, объединяющая все компоненты.
type Bot struct {
	updates UpdateSource
	opts    Options

	karmaHandler  KarmaHandler
	adminHandler  AdminHandler
	memberHandler MemberHandler
	replies       Replier
	rateLimiter   RateLimiter
	karmaGuards   []guards.Guard

	parser *CommandParser

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
	wg       sync.WaitGroup
}

// New создаёт бота. karmaGuards проверяются перед каждой реакцией.
func New(
	updates UpdateSource,
	opts Options,
	karmaHandler KarmaHandler,
	adminHandler AdminHandler,
	memberHandler MemberHandler,
	replies Replier,
	rateLimiter RateLimiter,
	karmaGuards []guards.Guard,
) *Bot {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 64
	}

	return &Bot{
		updates:       updates,
		opts:          opts,
		karmaHandler:  karmaHandler,
		adminHandler:  adminHandler,
		memberHandler: memberHandler,
		replies:       replies,
		rateLimiter:   rateLimiter,
		karmaGuards:   karmaGuards,
		parser:        NewCommandParser(),
		inflight:      make(chan struct{}, opts.MaxInflight),
	}
}

// Start запускает long polling и блокируется до отмены ctx.
// Перед возвратом дожидается уже запущенных обработчиков.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.updates.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        b.opts.UpdateTimeoutSeconds,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("не удалось запустить long polling: %w", err)
	}

	log.WithFields(log.Fields{
		"max_inflight": b.opts.MaxInflight,
		"timeout_sec":  b.opts.UpdateTimeoutSeconds,
	}).Info("Бот запущен и ожидает сообщения...")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			return nil

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return nil
			}

			// лимит параллелизма
			select {
			case b.inflight <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			b.wg.Add(1)
			go func(upd telego.Update) {
				defer b.wg.Done()
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update telego.Update) {
	defer middleware.RecoverFromPanic(update.UpdateID)

	message := update.Message
	if message == nil {
		metrics.BotUpdatesTotal.WithLabelValues("ignored").Inc()
		return
	}

	// Вступление новых участников
	if len(message.NewChatMembers) > 0 {
		b.memberHandler.HandleNewChatMembers(ctx, message.Chat, message.NewChatMembers)
		metrics.BotUpdatesTotal.WithLabelValues("handled").Inc()
		return
	}

	if message.Text == "" || message.From == nil {
		metrics.BotUpdatesTotal.WithLabelValues("ignored").Inc()
		return
	}

	middleware.LogMessage(message)

	if !b.rateLimiter.Allow(message.From.ID) {
		log.WithField("user_id", message.From.ID).Debug("rate limited")
		metrics.BotUpdatesTotal.WithLabelValues("rate_limited").Inc()
		return
	}

	if b.route(ctx, message) {
		metrics.BotUpdatesTotal.WithLabelValues("handled").Inc()
		return
	}
	metrics.BotUpdatesTotal.WithLabelValues("ignored").Inc()
}

// route возвращает true, если сообщение кем-то обработано.
func (b *Bot) route(ctx context.Context, message *telego.Message) bool {
	isPrivate := message.Chat.Type == telego.ChatTypePrivate

	// В личке сначала админка
	if isPrivate && b.adminHandler.HandleAdminMessage(ctx, message) {
		return true
	}

	// «+1»/«-1» ответом на сообщение
	if delta, ok := karma.Detect(message.Text); ok {
		allowed, reason := guards.Check(ctx, &guards.Context{Message: message}, b.karmaGuards)
		if !allowed {
			if reason != "" {
				b.reply(message, reason)
			}
			return reason != ""
		}
		b.karmaHandler.HandleReaction(ctx, message, delta)
		return true
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return false
	}
	log.WithFields(log.Fields{
		"cmd":  cmd,
		"args": args,
	}).Debug("routing command")

	switch cmd {
	case "start", "help", "помощь":
		b.reply(message, helpText)
		return true
	}

	if isPrivate {
		switch cmd {
		case "карма", "топ", "антитоп", "история", "отсыпать":
			b.reply(message, "Команды кармы работают только в группах")
			return true
		}
		return false
	}

	switch cmd {
	case "карма":
		b.karmaHandler.HandleKarma(ctx, message)
	case "топ":
		b.karmaHandler.HandleTop(ctx, message, args, ledger.OrderDesc)
	case "антитоп":
		b.karmaHandler.HandleTop(ctx, message, args, ledger.OrderAsc)
	case "история":
		b.karmaHandler.HandleHistory(ctx, message)
	case "отсыпать":
		b.karmaHandler.HandleTransfer(ctx, message, args)
	default:
		return false
	}
	return true
}

func (b *Bot) reply(message *telego.Message, text string) {
	b.replies.AddMessage(message.Chat.ID, text, delivery.WithReplyTo(message.MessageID))
}
