// Package identity — repository.go отвечает за таблицы users и chat_groups.
// Get-or-create выражен через идемпотентный upsert с RETURNING.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/karma-bot/internal/common"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, telegram_id, username, first_name, last_name, is_bot, banned_until, created_at, updated_at`

// UpsertUser создаёт пользователя или обновляет его имя/username.
// banned_until при конфликте не трогаем.
func (r *Repository) UpsertUser(ctx context.Context, p Profile) (*User, error) {
	query := `
		INSERT INTO users (telegram_id, username, first_name, last_name, is_bot)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (telegram_id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    is_bot = EXCLUDED.is_bot,
		    updated_at = NOW()
		RETURNING ` + userColumns
	u, err := scanUser(r.db.QueryRow(ctx, query, p.TelegramID, p.Username, p.FirstName, p.LastName, p.IsBot))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания/обновления пользователя (telegram_id=%d): %w", p.TelegramID, err)
	}
	return u, nil
}

// UpsertGroup создаёт чат или обновляет его название.
func (r *Repository) UpsertGroup(ctx context.Context, chatID int64, title string) (*Group, error) {
	query := `
		INSERT INTO chat_groups (chat_id, title)
		VALUES ($1, $2)
		ON CONFLICT (chat_id) DO UPDATE
		SET title = EXCLUDED.title, updated_at = NOW()
		RETURNING id, chat_id, title, created_at, updated_at
	`
	var g Group
	err := r.db.QueryRow(ctx, query, chatID, title).Scan(&g.ID, &g.ChatID, &g.Title, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания/обновления чата (chat_id=%d): %w", chatID, err)
	}
	return &g, nil
}

// GetGroup возвращает чат по Telegram chat_id, не меняя его названия.
func (r *Repository) GetGroup(ctx context.Context, chatID int64) (*Group, error) {
	query := `SELECT id, chat_id, title, created_at, updated_at FROM chat_groups WHERE chat_id = $1`
	var g Group
	err := r.db.QueryRow(ctx, query, chatID).Scan(&g.ID, &g.ChatID, &g.Title, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("чат %d: %w", chatID, common.ErrGroupNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения чата (chat_id=%d): %w", chatID, err)
	}
	return &g, nil
}

// GetByID: если не найден — common.ErrUserNotFound.
func (r *Repository) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("пользователь id=%d: %w", id, common.ErrUserNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения пользователя (id=%d): %w", id, err)
	}
	return u, nil
}

// GetByUsername ищет без учёта регистра; "@" в начале допускается.
// username не уникален: у давно не писавшего пользователя может остаться
// чужой ник, поэтому берём того, кто обновлялся последним.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*User, error) {
	username = strings.TrimPrefix(username, "@")
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE LOWER(username) = LOWER($1)
		ORDER BY updated_at DESC, id DESC
		LIMIT 1`
	u, err := scanUser(r.db.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("пользователь @%s: %w", username, common.ErrUserNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения пользователя (username=%s): %w", username, err)
	}
	return u, nil
}

// BannedUntil возвращает момент окончания бана (zero, если бана не было).
func (r *Repository) BannedUntil(ctx context.Context, userID int64) (time.Time, error) {
	var until *time.Time
	err := r.db.QueryRow(ctx, `SELECT banned_until FROM users WHERE id = $1`, userID).Scan(&until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, fmt.Errorf("пользователь id=%d: %w", userID, common.ErrUserNotFound)
		}
		return time.Time{}, fmt.Errorf("ошибка чтения бана: %w", err)
	}
	if until == nil {
		return time.Time{}, nil
	}
	return *until, nil
}

// SetBannedUntil выставляет banned_until. Снятие бана — это until = now.
func (r *Repository) SetBannedUntil(ctx context.Context, userID int64, until time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET banned_until = $2, updated_at = NOW() WHERE id = $1`, userID, until)
	if err != nil {
		return fmt.Errorf("ошибка обновления бана: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("пользователь id=%d: %w", userID, common.ErrUserNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(
		&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName,
		&u.IsBot, &u.BannedUntil, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}
