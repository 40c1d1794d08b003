// Package karma — handlers.go: ответы на «+1»/«-1» и команды кармы.
package karma

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/common"
	"serotonyl.ru/karma-bot/internal/delivery"
	"serotonyl.ru/karma-bot/internal/features/identity"
	"serotonyl.ru/karma-bot/internal/features/ledger"
)

var errTransferUsage = errors.New("использование: !отсыпать N (ответом на сообщение) или !отсыпать @user N")

// Replier — очередь исходящих сообщений.
type Replier interface {
	AddMessage(chatID int64, text string, opts ...delivery.Option)
}

// HandlerConfig — лимиты команд.
type HandlerConfig struct {
	TopLimit         int // сколько строк в !топ по умолчанию
	HistoryLimit     int
	TransfersEnabled bool
}

// Handler переводит апдейты Telegram в вызовы Service.
type Handler struct {
	service *Service
	replies Replier
	clock   clockwork.Clock
	cfg     HandlerConfig
}

// NewHandler создаёт обработчик кармы.
func NewHandler(service *Service, replies Replier, clock clockwork.Clock, cfg HandlerConfig) *Handler {
	return &Handler{service: service, replies: replies, clock: clock, cfg: cfg}
}

// HandleReaction — «+1»/«-1» в ответ на сообщение. Guards уже пройдены.
func (h *Handler) HandleReaction(ctx context.Context, msg *telego.Message, delta int64) {
	reply := msg.ReplyToMessage
	text := reply.Text
	if text == "" {
		text = reply.Caption
	}

	out, err := h.service.React(ctx, Reaction{
		Chat:      chatOf(msg),
		From:      identity.ProfileFromTelegram(msg.From),
		To:        identity.ProfileFromTelegram(reply.From),
		Delta:     delta,
		MessageID: int64(reply.MessageID),
		Text:      text,
	})
	if err != nil {
		h.replyError(msg, err)
		return
	}
	h.reply(msg, formatGrant(out))
}

// HandleKarma — !карма: своя карма и счётчики в этом чате.
func (h *Handler) HandleKarma(ctx context.Context, msg *telego.Message) {
	stats, err := h.service.Balance(ctx, chatOf(msg), identity.ProfileFromTelegram(msg.From))
	if err != nil {
		h.replyError(msg, err)
		return
	}
	h.reply(msg, formatBalance(stats))
}

// HandleTop — !топ [N] и !антитоп [N]. N == 0 — все участники.
func (h *Handler) HandleTop(ctx context.Context, msg *telego.Message, args []string, order ledger.Order) {
	limit := h.cfg.TopLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			h.reply(msg, "❌ Укажите количество строк числом, 0 — все")
			return
		}
		limit = n
	}

	rows, err := h.service.Top(ctx, chatOf(msg), order, limit)
	if err != nil {
		h.replyError(msg, err)
		return
	}
	h.reply(msg, formatTop(rows, order))
}

// HandleHistory — !история: последние изменения своей кармы.
func (h *Handler) HandleHistory(ctx context.Context, msg *telego.Message) {
	entries, err := h.service.History(ctx, chatOf(msg), identity.ProfileFromTelegram(msg.From), h.cfg.HistoryLimit)
	if err != nil {
		h.replyError(msg, err)
		return
	}
	h.reply(msg, formatHistory(entries))
}

// HandleTransfer — !отсыпать N ответом на сообщение или !отсыпать @user N.
func (h *Handler) HandleTransfer(ctx context.Context, msg *telego.Message, args []string) {
	if !h.cfg.TransfersEnabled {
		return
	}

	var to *identity.Profile
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		p := identity.ProfileFromTelegram(msg.ReplyToMessage.From)
		to = &p
	}

	username, qty, err := parseTransferArgs(args, to != nil)
	if err != nil {
		h.reply(msg, "❌ "+err.Error())
		return
	}

	out, err := h.service.Transfer(ctx, TransferInput{
		Chat:       chatOf(msg),
		From:       identity.ProfileFromTelegram(msg.From),
		To:         to,
		ToUsername: username,
		Quantity:   qty,
	})
	if err != nil {
		h.replyError(msg, err)
		return
	}
	h.reply(msg, formatTransfer(out))
}

// parseTransferArgs: при ответе на сообщение ждём [N], иначе [@user N].
func parseTransferArgs(args []string, isReply bool) (string, int64, error) {
	var username, rawQty string
	switch {
	case isReply && len(args) == 1:
		rawQty = args[0]
	case !isReply && len(args) == 2 && strings.HasPrefix(args[0], "@") && len(args[0]) > 1:
		username, rawQty = args[0], args[1]
	default:
		return "", 0, errTransferUsage
	}

	qty, err := strconv.ParseInt(rawQty, 10, 64)
	if err != nil {
		return "", 0, errTransferUsage
	}
	if qty <= 0 {
		return "", 0, common.ErrInvalidQuantity
	}
	return username, qty, nil
}

func (h *Handler) replyError(msg *telego.Message, err error) {
	var (
		banned       *BannedError
		abused       *AbuseError
		insufficient *ledger.InsufficientFundsError
	)
	switch {
	case errors.As(err, &banned):
		h.reply(msg, formatBanned(banned, h.clock.Now()))
	case errors.As(err, &abused):
		h.reply(msg, formatAbuse(abused))
	case errors.As(err, &insufficient):
		h.reply(msg, formatInsufficient(insufficient))
	case errors.Is(err, common.ErrSelfKarma),
		errors.Is(err, common.ErrTargetIsBot),
		errors.Is(err, common.ErrSelfTransfer),
		errors.Is(err, common.ErrInvalidQuantity),
		errors.Is(err, common.ErrUserNotFound):
		h.reply(msg, "❌ "+common.UserMessage(err))
	default:
		log.WithError(err).WithFields(log.Fields{
			"chat_id": msg.Chat.ID,
			"user_id": msg.From.ID,
		}).Error("Ошибка обработки кармы")
		h.reply(msg, "❌ Что-то пошло не так, попробуйте позже")
	}
}

func (h *Handler) reply(msg *telego.Message, text string) {
	h.replies.AddMessage(msg.Chat.ID, text,
		delivery.WithReplyTo(msg.MessageID),
		delivery.WithParseMode(telego.ModeHTML),
	)
}

func chatOf(msg *telego.Message) Chat {
	return Chat{ID: msg.Chat.ID, Title: msg.Chat.Title}
}
