// Package ledger — repository.go выполняет операции с таблицами karma_balances и karma_history.
// Все изменения кармы выполняются в транзакциях БД; конфликты повторяет postgres.RunInTx.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/karma-bot/internal/common"
	"serotonyl.ru/karma-bot/internal/db/postgres"
)

// Store — хранилище балансов, с которым работает Engine.
type Store interface {
	ApplyGrant(ctx context.Context, req GrantRequest) (int64, error)
	ApplyTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	GetBalance(ctx context.Context, userID, groupID int64) (*Balance, error)
	GetHistory(ctx context.Context, userID, groupID int64, limit int) ([]HistoryEntry, error)
	GetTop(ctx context.Context, groupID int64, order Order, limit int) ([]LeaderboardRow, error)
}

// Repository — реализация Store на PostgreSQL.
type Repository struct {
	db          *pgxpool.Pool
	maxAttempts int // попыток транзакции при serialization failure / deadlock
}

var _ Store = (*Repository)(nil)

// NewRepository создаёт репозиторий кармы.
func NewRepository(db *pgxpool.Pool, maxAttempts int) *Repository {
	return &Repository{db: db, maxAttempts: maxAttempts}
}

// ApplyGrant увеличивает счётчик выданной кармы у актора и карму цели
// одной транзакцией. Обе записи создаются, если их ещё нет.
func (r *Repository) ApplyGrant(ctx context.Context, req GrantRequest) (int64, error) {
	var karma int64
	err := postgres.RunInTx(ctx, r.db, r.maxAttempts, func(tx pgx.Tx) error {
		if req.Actor != nil {
			var givenKarma, givenHate int64
			if req.Delta > 0 {
				givenKarma = 1
			} else {
				givenHate = 1
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO karma_balances (user_id, group_id, given_karma, given_hate)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (user_id, group_id) DO UPDATE
				SET given_karma = karma_balances.given_karma + EXCLUDED.given_karma,
				    given_hate = karma_balances.given_hate + EXCLUDED.given_hate,
				    updated_at = NOW()
			`, req.Actor.UserID, req.GroupID, givenKarma, givenHate); err != nil {
				return fmt.Errorf("ошибка обновления счётчиков актора: %w", err)
			}
		}

		balanceID, total, err := addKarma(ctx, tx, req.TargetID, req.GroupID, req.Delta)
		if err != nil {
			return err
		}
		karma = total

		return insertHistory(ctx, tx, balanceID, req.Delta, req.Reason, req.Actor, req.Context)
	})
	if err != nil {
		return 0, err
	}
	return karma, nil
}

// ApplyTransfer переводит карму от отправителя получателю.
// Атомарная операция: либо оба баланса обновятся, либо ни одного.
func (r *Repository) ApplyTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	var res TransferResult
	err := postgres.RunInTx(ctx, r.db, r.maxAttempts, func(tx pgx.Tx) error {
		// Блокируем строку отправителя и проверяем баланс
		var senderBalanceID, senderKarma int64
		err := tx.QueryRow(ctx, `
			SELECT id, karma FROM karma_balances
			WHERE user_id = $1 AND group_id = $2
			FOR UPDATE
		`, req.Sender.UserID, req.GroupID).Scan(&senderBalanceID, &senderKarma)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &InsufficientFundsError{Balance: 0, Err: common.ErrBalanceNotFound}
			}
			return fmt.Errorf("ошибка получения баланса отправителя: %w", err)
		}

		if senderKarma < req.Quantity {
			return &InsufficientFundsError{Balance: senderKarma}
		}

		// Списываем
		if err := tx.QueryRow(ctx, `
			UPDATE karma_balances
			SET karma = karma - $2, updated_at = NOW()
			WHERE id = $1
			RETURNING karma
		`, senderBalanceID, req.Quantity).Scan(&res.SenderBalance); err != nil {
			return fmt.Errorf("ошибка списания: %w", err)
		}
		if err := insertHistory(ctx, tx, senderBalanceID, -req.Quantity, ReasonTransfer, &req.Sender, nil); err != nil {
			return err
		}

		// Начисляем
		receiverBalanceID, total, err := addKarma(ctx, tx, req.ReceiverID, req.GroupID, req.Quantity)
		if err != nil {
			return err
		}
		res.ReceiverBalance = total

		return insertHistory(ctx, tx, receiverBalanceID, req.Quantity, ReasonTransfer, &req.Sender, nil)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// addKarma атомарно прибавляет delta к карме (upsert) и возвращает id записи и новую карму.
func addKarma(ctx context.Context, tx pgx.Tx, userID, groupID, delta int64) (int64, int64, error) {
	var balanceID, karma int64
	err := tx.QueryRow(ctx, `
		INSERT INTO karma_balances (user_id, group_id, karma)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, group_id) DO UPDATE
		SET karma = karma_balances.karma + EXCLUDED.karma,
		    updated_at = NOW()
		RETURNING id, karma
	`, userID, groupID, delta).Scan(&balanceID, &karma)
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка начисления кармы: %w", err)
	}
	return balanceID, karma, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, balanceID, delta int64, reason Reason, actor *Actor, mc *MessageContext) error {
	var (
		actorID               *int64
		actorName, actorFirst string
		chatID, messageID     *int64
		text                  *string
	)
	if actor != nil {
		actorID = &actor.UserID
		actorName = actor.Username
		actorFirst = actor.FirstName
	}
	if mc != nil {
		chatID = &mc.ChatID
		messageID = &mc.MessageID
		text = &mc.Text
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO karma_history
			(balance_id, delta, reason, actor_user_id, actor_username, actor_first_name,
			 chat_id, message_id, message_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, balanceID, delta, string(reason), actorID, actorName, actorFirst, chatID, messageID, text)
	if err != nil {
		return fmt.Errorf("ошибка записи истории кармы: %w", err)
	}
	return nil
}

// GetBalance возвращает баланс или common.ErrBalanceNotFound.
func (r *Repository) GetBalance(ctx context.Context, userID, groupID int64) (*Balance, error) {
	var b Balance
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, group_id, karma, given_karma, given_hate, created_at, updated_at
		FROM karma_balances
		WHERE user_id = $1 AND group_id = $2
	`, userID, groupID).Scan(
		&b.ID, &b.UserID, &b.GroupID, &b.Karma, &b.GivenKarma, &b.GivenHate,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrBalanceNotFound
		}
		return nil, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return &b, nil
}

// GetHistory возвращает последние limit записей истории, новые сверху.
func (r *Repository) GetHistory(ctx context.Context, userID, groupID int64, limit int) ([]HistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT h.id, h.balance_id, h.delta, h.reason, h.actor_user_id, h.actor_username,
		       h.actor_first_name, h.chat_id, h.message_id, h.message_text, h.created_at
		FROM karma_history h
		JOIN karma_balances kb ON kb.id = h.balance_id
		WHERE kb.user_id = $1 AND kb.group_id = $2
		ORDER BY h.created_at DESC, h.id DESC
		LIMIT $3
	`, userID, groupID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var reason string
		if err := rows.Scan(
			&h.ID, &h.BalanceID, &h.Delta, &reason, &h.ActorUserID, &h.ActorUsername,
			&h.ActorFirstName, &h.ChatID, &h.MessageID, &h.MessageText, &h.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования истории: %w", err)
		}
		h.Reason = Reason(reason)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения истории: %w", err)
	}
	return out, nil
}

// Направление сортировки подставляется в текст запроса только из этой таблицы.
var orderSQL = map[Order]string{
	OrderDesc: "kb.karma DESC, kb.user_id",
	OrderAsc:  "kb.karma ASC, kb.user_id",
}

// GetTop возвращает рейтинг чата. limit == 0 — все строки.
func (r *Repository) GetTop(ctx context.Context, groupID int64, order Order, limit int) ([]LeaderboardRow, error) {
	orderBy, ok := orderSQL[order]
	if !ok {
		return nil, fmt.Errorf("неизвестная сортировка: %d", order)
	}

	query := fmt.Sprintf(`
		SELECT kb.user_id, u.telegram_id, u.username, u.first_name, u.last_name, kb.karma
		FROM karma_balances kb
		JOIN users u ON u.id = kb.user_id
		WHERE kb.group_id = $1
		ORDER BY %s
		LIMIT $2
	`, orderBy)

	rows, err := r.db.Query(ctx, query, groupID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения рейтинга: %w", err)
	}
	defer rows.Close()

	var out []LeaderboardRow
	for rows.Next() {
		row := LeaderboardRow{Position: len(out) + 1}
		if err := rows.Scan(&row.UserID, &row.TelegramID, &row.Username, &row.FirstName, &row.LastName, &row.Karma); err != nil {
			return nil, fmt.Errorf("ошибка сканирования рейтинга: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения рейтинга: %w", err)
	}
	return out, nil
}

// limitArg превращает 0 в NULL: в PostgreSQL "LIMIT NULL" = без ограничения.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
