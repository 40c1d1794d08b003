package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/metrics"
)

// Коды ошибок PostgreSQL, при которых транзакцию можно безопасно повторить.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// initialTxBackoff — пауза перед первым повтором, дальше удваивается.
const initialTxBackoff = 10 * time.Millisecond

// Beginner — всё, что умеет открыть транзакцию (*pgxpool.Pool, pgx.Tx).
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// IsRetryable сообщает, что ошибка — конфликт конкурентных транзакций,
// а не бизнес-ошибка или недоступность БД.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// RunInTx выполняет fn в транзакции и коммитит её.
// Любая ошибка fn откатывает транзакцию; Rollback после Commit — no-op,
// поэтому соединение освобождается на любом пути выхода (включая панику).
// Конфликты (serialization failure, deadlock) повторяются до maxAttempts раз.
func RunInTx(ctx context.Context, db Beginner, maxAttempts int, fn func(tx pgx.Tx) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := initialTxBackoff

	for attempt := 1; ; attempt++ {
		err := runOnce(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt >= maxAttempts {
			return fmt.Errorf("транзакция не прошла после %d попыток: %w", maxAttempts, err)
		}

		metrics.TxRetriesTotal.Inc()
		log.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"backoff": backoff,
		}).Debug("конфликт транзакции, повторяем")

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return fmt.Errorf("контекст отменён во время повтора транзакции: %w", ctx.Err())
		}
	}
}

func runOnce(ctx context.Context, db Beginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	// Откатываем транзакцию, если что-то пошло не так
	defer func() {
		if rbErr := tx.Rollback(context.Background()); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.WithError(rbErr).Warn("ошибка отката транзакции")
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
