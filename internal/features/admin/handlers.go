// Package admin — handlers.go обрабатывает команды админа в личных сообщениях.
// Поток: /login → пароль отдельным сообщением → команды модерации.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/common"
	"serotonyl.ru/karma-bot/internal/delivery"
)

const helpText = `🛠 Админ-панель
/ban @user — запретить менять карму
/unban @user — снять запрет
/status @user — проверить запрет
/adjust @user <chat_id> <±N> — поправить карму в чате
/logout — выйти`

// Replier — очередь исходящих сообщений.
type Replier interface {
	AddMessage(chatID int64, text string, opts ...delivery.Option)
}

// Handler обрабатывает админ-команды.
type Handler struct {
	service *Service
	replies Replier
	isAdmin func(telegramID int64) bool
}

// NewHandler создаёт обработчик админ-панели. isAdmin — проверка по ADMIN_IDS.
func NewHandler(service *Service, replies Replier, isAdmin func(telegramID int64) bool) *Handler {
	return &Handler{service: service, replies: replies, isAdmin: isAdmin}
}

// HandleAdminMessage обрабатывает сообщение в личке. Возвращает false,
// если сообщение не относится к админке (не админ, не команда).
func (h *Handler) HandleAdminMessage(ctx context.Context, msg *telego.Message) bool {
	if msg.From == nil || !h.isAdmin(msg.From.ID) {
		return false
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	// Ждём пароль после /login
	if h.service.getState(userID) == stateAwaitingPassword {
		h.service.clearState(userID)
		if err := h.service.VerifyPassword(ctx, userID, text); err != nil {
			h.replyError(chatID, err)
			return true
		}
		h.send(chatID, "✅ Аутентификация успешна!\n\n"+helpText)
		return true
	}

	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	if cmd == "login" {
		if h.service.HasActiveSession(ctx, userID) {
			h.send(chatID, "✅ Вы уже вошли\n\n"+helpText)
			return true
		}
		h.service.setState(userID, stateAwaitingPassword)
		h.send(chatID, "🔐 Введите пароль для доступа к админ-панели:")
		return true
	}

	switch cmd {
	case "ban", "unban", "status", "adjust", "logout", "admin":
	default:
		return false
	}

	if !h.service.HasActiveSession(ctx, userID) {
		h.send(chatID, "🔐 "+common.ErrSessionExpired.Error()+": /login")
		return true
	}

	switch cmd {
	case "ban":
		h.handleBan(ctx, chatID, args)
	case "unban":
		h.handleUnban(ctx, chatID, args)
	case "status":
		h.handleStatus(ctx, chatID, args)
	case "adjust":
		h.handleAdjust(ctx, chatID, args)
	case "logout":
		if err := h.service.Logout(ctx, userID); err != nil {
			h.replyError(chatID, err)
			return true
		}
		h.send(chatID, "👋 Сессия закрыта")
	case "admin":
		h.send(chatID, helpText)
	}
	return true
}

func (h *Handler) handleBan(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		h.send(chatID, "Использование: /ban @user")
		return
	}
	u, until, err := h.service.Ban(ctx, args[0])
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	h.send(chatID, fmt.Sprintf("⛔ %s не может менять карму до %s", u.DisplayName(), common.FormatDateTime(until)))
}

func (h *Handler) handleUnban(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		h.send(chatID, "Использование: /unban @user")
		return
	}
	u, err := h.service.Unban(ctx, args[0])
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	h.send(chatID, fmt.Sprintf("✅ %s снова может менять карму", u.DisplayName()))
}

func (h *Handler) handleStatus(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		h.send(chatID, "Использование: /status @user")
		return
	}
	st, err := h.service.Status(ctx, args[0])
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	if !st.Banned {
		h.send(chatID, fmt.Sprintf("🟢 %s без ограничений", st.User.DisplayName()))
		return
	}
	h.send(chatID, fmt.Sprintf("🔴 %s забанен до %s", st.User.DisplayName(), common.FormatDateTime(st.BannedUntil)))
}

func (h *Handler) handleAdjust(ctx context.Context, chatID int64, args []string) {
	if len(args) != 3 {
		h.send(chatID, "Использование: /adjust @user <chat_id> <±N>")
		return
	}
	groupChatID, err1 := strconv.ParseInt(args[1], 10, 64)
	delta, err2 := strconv.ParseInt(args[2], 10, 64)
	if err1 != nil || err2 != nil || delta == 0 {
		h.send(chatID, "❌ chat_id и N должны быть числами, N ≠ 0")
		return
	}
	u, karma, err := h.service.Adjust(ctx, args[0], groupChatID, delta)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	h.send(chatID, fmt.Sprintf("✅ %s: %s, карма теперь %s",
		u.DisplayName(), common.FormatDelta(delta), common.FormatNumber(karma)))
}

func (h *Handler) replyError(chatID int64, err error) {
	switch {
	case errors.Is(err, common.ErrUserNotFound),
		errors.Is(err, common.ErrGroupNotFound),
		errors.Is(err, common.ErrWrongPassword),
		errors.Is(err, common.ErrTooManyAttempts):
		h.send(chatID, "❌ "+common.UserMessage(err))
	default:
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка админ-команды")
		h.send(chatID, "❌ Внутренняя ошибка")
	}
}

func (h *Handler) send(chatID int64, text string) {
	h.replies.AddMessage(chatID, text)
}
