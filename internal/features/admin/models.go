// Package admin реализует админ-панель с парольной аутентификацией.
// Панель работает в личке бота: вход по паролю (Argon2id), затем
// команды модерации кармы.
// models.go описывает структуры сессий и попыток входа.
package admin

import (
	"time"

	"serotonyl.ru/karma-bot/internal/features/identity"
)

// Session — активная сессия администратора.
type Session struct {
	ID              int64     `db:"id"`
	TelegramID      int64     `db:"telegram_id"`
	SessionToken    string    `db:"session_token"`
	AuthenticatedAt time.Time `db:"authenticated_at"`
	ExpiresAt       time.Time `db:"expires_at"`
	LastActivity    time.Time `db:"last_activity"`
	IsActive        bool      `db:"is_active"`
}

// LoginAttempt — попытка входа (для защиты от brute-force).
type LoginAttempt struct {
	ID          int64     `db:"id"`
	TelegramID  int64     `db:"telegram_id"`
	AttemptTime time.Time `db:"attempt_time"`
	Success     bool      `db:"success"`
}

// dialogState — состояние диалога с админом. Пароль вводится отдельным
// сообщением после /login, а не аргументом команды.
type dialogState struct {
	State     string
	ExpiresAt time.Time
}

const (
	stateNone             = ""
	stateAwaitingPassword = "awaiting_password"
)

// Status — состояние участника для /status.
type Status struct {
	User        *identity.User
	Banned      bool
	BannedUntil time.Time
}

// Config — параметры входа.
type Config struct {
	PasswordHash  string        // $argon2id$v=19$m=...,t=...,p=...$salt$hash
	SessionTTL    time.Duration // сколько живёт сессия
	MaxAttempts   int           // неудачных попыток за AttemptWindow до блокировки
	AttemptWindow time.Duration
	StateTTL      time.Duration // сколько ждём пароль после /login
}

// DefaultConfig — 3 попытки в час, сессия на сутки, пароль ждём 5 минут.
func DefaultConfig(passwordHash string) Config {
	return Config{
		PasswordHash:  passwordHash,
		SessionTTL:    24 * time.Hour,
		MaxAttempts:   3,
		AttemptWindow: time.Hour,
		StateTTL:      5 * time.Minute,
	}
}
