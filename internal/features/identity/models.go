// Package identity управляет пользователями и чатами: выдаёт им стабильные
// внутренние id (get-or-create) и хранит временный бан на изменение кармы.
package identity

import (
	"time"

	"serotonyl.ru/karma-bot/internal/common"
)

// User представляет пользователя Telegram в базе данных.
type User struct {
	ID          int64      `db:"id"`           // Внутренний id, ключ балансов кармы
	TelegramID  int64      `db:"telegram_id"`  // Telegram user ID (уникальный)
	Username    string     `db:"username"`     // @username (может быть пустым)
	FirstName   string     `db:"first_name"`   // Имя пользователя
	LastName    string     `db:"last_name"`    // Фамилия (может быть пустой)
	IsBot       bool       `db:"is_bot"`       // Аккаунт бота
	BannedUntil *time.Time `db:"banned_until"` // До какого момента нельзя менять карму
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// Profile — данные из Telegram, по которым создаётся или обновляется User.
type Profile struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	IsBot      bool
}

// Group представляет групповой чат.
type Group struct {
	ID        int64     `db:"id"`
	ChatID    int64     `db:"chat_id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DisplayName возвращает @username или имя + фамилию.
func (u *User) DisplayName() string {
	return common.DisplayName(u.Username, u.FirstName, u.LastName)
}

// IsBanned: бан действует, пока now < banned_until.
func (u *User) IsBanned(now time.Time) bool {
	return u.BannedUntil != nil && now.Before(*u.BannedUntil)
}
