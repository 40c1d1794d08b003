// Package admin — repository.go работает с таблицами admin_sessions и admin_login_attempts.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/karma-bot/internal/common"
)

// Repository работает с админ-таблицами.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateSession создаёт новую сессию администратора.
func (r *Repository) CreateSession(ctx context.Context, s *Session) error {
	query := `
		INSERT INTO admin_sessions (telegram_id, session_token, authenticated_at, expires_at, last_activity, is_active)
		VALUES ($1, $2, $3, $4, $3, TRUE)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query, s.TelegramID, s.SessionToken, s.AuthenticatedAt, s.ExpiresAt).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("ошибка создания сессии: %w", err)
	}
	return nil
}

// GetActiveSession возвращает активную сессию или common.ErrSessionExpired.
func (r *Repository) GetActiveSession(ctx context.Context, telegramID int64, now time.Time) (*Session, error) {
	query := `
		SELECT id, telegram_id, session_token, authenticated_at, expires_at, last_activity, is_active
		FROM admin_sessions
		WHERE telegram_id = $1 AND is_active = TRUE AND expires_at > $2
		ORDER BY authenticated_at DESC
		LIMIT 1
	`
	var s Session
	err := r.db.QueryRow(ctx, query, telegramID, now).Scan(
		&s.ID, &s.TelegramID, &s.SessionToken, &s.AuthenticatedAt,
		&s.ExpiresAt, &s.LastActivity, &s.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrSessionExpired
		}
		return nil, fmt.Errorf("ошибка чтения сессии: %w", err)
	}
	return &s, nil
}

// DeactivateSessions закрывает все сессии админа.
func (r *Repository) DeactivateSessions(ctx context.Context, telegramID int64) error {
	_, err := r.db.Exec(ctx, `UPDATE admin_sessions SET is_active = FALSE WHERE telegram_id = $1 AND is_active = TRUE`, telegramID)
	return err
}

// UpdateActivity обновляет время последней активности.
func (r *Repository) UpdateActivity(ctx context.Context, telegramID int64, now time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE admin_sessions SET last_activity = $2 WHERE telegram_id = $1 AND is_active = TRUE`, telegramID, now)
	return err
}

// LogAttempt записывает попытку входа.
func (r *Repository) LogAttempt(ctx context.Context, telegramID int64, success bool, at time.Time) error {
	_, err := r.db.Exec(ctx, `INSERT INTO admin_login_attempts (telegram_id, attempt_time, success) VALUES ($1, $2, $3)`, telegramID, at, success)
	return err
}

// CountFailedAttempts возвращает количество неудачных попыток начиная с since.
func (r *Repository) CountFailedAttempts(ctx context.Context, telegramID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM admin_login_attempts
		WHERE telegram_id = $1 AND success = FALSE AND attempt_time >= $2
	`
	var count int
	err := r.db.QueryRow(ctx, query, telegramID, since).Scan(&count)
	return count, err
}

// ExpireSessions деактивирует истёкшие сессии. Вызывается из cron.
func (r *Repository) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE admin_sessions SET is_active = FALSE WHERE is_active = TRUE AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("ошибка закрытия истёкших сессий: %w", err)
	}
	return tag.RowsAffected(), nil
}
