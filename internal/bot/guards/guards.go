// Package guards — проверки, через которые проходит «+1»/«-1» до бизнес-логики.
// Проверки выполняются по порядку; первая отказавшая останавливает цепочку.
package guards

import (
	"context"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/common"
)

// Context — то, что guard'ы знают об апдейте.
type Context struct {
	Message *telego.Message
}

// Target — автор сообщения, на которое ответили (nil, если это не ответ).
func (c *Context) Target() *telego.User {
	if c.Message == nil || c.Message.ReplyToMessage == nil {
		return nil
	}
	return c.Message.ReplyToMessage.From
}

// Guard решает, можно ли обрабатывать апдейт дальше.
type Guard interface {
	CanActivate(ctx context.Context, c *Context) bool
}

// Explainer — guard, отказ которого надо объяснить пользователю.
type Explainer interface {
	Reason() string
}

// Check прогоняет guards по порядку. При отказе возвращает false и
// текст для пользователя ("" — молча игнорируем).
func Check(ctx context.Context, c *Context, guards []Guard) (bool, string) {
	for _, g := range guards {
		if g.CanActivate(ctx, c) {
			continue
		}
		log.WithField("guard", name(g)).Debug("guard отклонил апдейт")
		if e, ok := g.(Explainer); ok {
			return false, e.Reason()
		}
		return false, ""
	}
	return true, ""
}

func name(g Guard) string {
	switch g.(type) {
	case GroupChat:
		return "group_chat"
	case Reply:
		return "reply"
	case NotSelf:
		return "not_self"
	case NotBot:
		return "not_bot"
	case *Cooldown:
		return "cooldown"
	default:
		return "custom"
	}
}

// GroupChat пропускает только группы и супергруппы.
type GroupChat struct{}

func (GroupChat) CanActivate(_ context.Context, c *Context) bool {
	if c.Message == nil {
		return false
	}
	t := c.Message.Chat.Type
	return t == telego.ChatTypeGroup || t == telego.ChatTypeSupergroup
}

// Reply — сообщение должно быть ответом на сообщение живого автора.
type Reply struct{}

func (Reply) CanActivate(_ context.Context, c *Context) bool {
	return c.Message != nil && c.Message.From != nil && c.Target() != nil
}

// NotSelf — нельзя менять карму самому себе.
type NotSelf struct{}

func (NotSelf) CanActivate(_ context.Context, c *Context) bool {
	target := c.Target()
	return target != nil && c.Message.From != nil && target.ID != c.Message.From.ID
}

func (NotSelf) Reason() string { return "🙅 " + common.ErrSelfKarma.Error() }

// NotBot — ботам карма не положена.
type NotBot struct{}

func (NotBot) CanActivate(_ context.Context, c *Context) bool {
	target := c.Target()
	return target != nil && !target.IsBot
}

func (NotBot) Reason() string { return "🤖 " + common.ErrTargetIsBot.Error() }

// CooldownChecker — кэш кулдаунов (abuse.CooldownCache).
type CooldownChecker interface {
	Active(groupID, userID int64) bool
}

// Cooldown молча отбрасывает повторный «+1» от того же участника
// в том же чате, пока не прошёл кулдаун.
type Cooldown struct {
	cache CooldownChecker
}

// NewCooldown создаёт guard поверх кэша.
func NewCooldown(cache CooldownChecker) *Cooldown {
	return &Cooldown{cache: cache}
}

func (g *Cooldown) CanActivate(_ context.Context, c *Context) bool {
	if c.Message == nil || c.Message.From == nil {
		return false
	}
	return !g.cache.Active(c.Message.Chat.ID, c.Message.From.ID)
}

// KarmaChain — стандартная цепочка для «+1»/«-1».
func KarmaChain(cooldown CooldownChecker) []Guard {
	return []Guard{
		GroupChat{},
		Reply{},
		NotSelf{},
		NotBot{},
		NewCooldown(cooldown),
	}
}
