// Package abuse — repository.go работает с журналом transaction_events.
package abuse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository — EventStore на PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

var _ EventStore = (*Repository)(nil)

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CountBySourceTarget — события актор → цель начиная с since (во всех чатах).
func (r *Repository) CountBySourceTarget(ctx context.Context, sourceID, targetID int64, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM transaction_events
		WHERE source_user_id = $1 AND target_user_id = $2 AND created_at >= $3
	`, sourceID, targetID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта событий пары: %w", err)
	}
	return n, nil
}

// CountBySource — все события актора начиная с since.
func (r *Repository) CountBySource(ctx context.Context, sourceID int64, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM transaction_events
		WHERE source_user_id = $1 AND created_at >= $2
	`, sourceID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта событий актора: %w", err)
	}
	return n, nil
}

// Record добавляет событие в журнал.
func (r *Repository) Record(ctx context.Context, e Event) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO transaction_events (source_user_id, target_user_id, group_id, kind, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.SourceID, e.TargetID, e.GroupID, string(e.Kind), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи события: %w", err)
	}
	return nil
}

// Prune удаляет события старше before и возвращает их число.
func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM transaction_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки журнала событий: %w", err)
	}
	return tag.RowsAffected(), nil
}
