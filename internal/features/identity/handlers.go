// Package identity — handlers.go регистрирует новых участников чата.
package identity

import (
	"context"

	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

// Handler обрабатывает события участников.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ProfileFromTelegram переводит пользователя Telegram в Profile.
func ProfileFromTelegram(u *telego.User) Profile {
	return Profile{
		TelegramID: u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		IsBot:      u.IsBot,
	}
}

// HandleNewChatMembers заводит чат и каждого вступившего участника,
// чтобы их можно было найти по @username до первого «+1».
func (h *Handler) HandleNewChatMembers(ctx context.Context, chat telego.Chat, users []telego.User) {
	if _, err := h.service.EnsureGroup(ctx, chat.ID, chat.Title); err != nil {
		log.WithError(err).WithField("chat_id", chat.ID).Error("Ошибка регистрации чата")
		return
	}
	for i := range users {
		if _, err := h.service.EnsureUser(ctx, ProfileFromTelegram(&users[i])); err != nil {
			log.WithError(err).WithField("user_id", users[i].ID).Error("Ошибка регистрации нового участника")
		}
	}
}
