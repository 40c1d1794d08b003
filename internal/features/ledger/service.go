package ledger

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/common"
	"serotonyl.ru/karma-bot/internal/metrics"
)

// Engine — бизнес-логика кармы поверх Store: валидация, логи, метрики.
type Engine struct {
	store Store
}

// NewEngine создаёт движок кармы.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Grant меняет карму цели на Delta и возвращает её новую карму.
//
// Если Actor задан, у него увеличивается given_karma (Delta > 0) или
// given_hate (Delta < 0). Всё выполняется одной транзакцией.
func (e *Engine) Grant(ctx context.Context, req GrantRequest) (int64, error) {
	if req.Delta == 0 {
		return 0, common.ErrInvalidDelta
	}
	if req.Reason == "" {
		req.Reason = ReasonGrant
	}

	karma, err := e.store.ApplyGrant(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("не удалось изменить карму: %w", err)
	}

	metrics.KarmaGrantsTotal.WithLabelValues(string(req.Reason), sign(req.Delta)).Inc()

	fields := log.Fields{
		"target": req.TargetID,
		"group":  req.GroupID,
		"delta":  req.Delta,
		"reason": req.Reason,
		"karma":  karma,
	}
	if req.Actor != nil {
		fields["actor"] = req.Actor.UserID
	}
	log.WithFields(fields).Debug("Карма изменена")

	return karma, nil
}

// Transfer переводит Quantity кармы от отправителя получателю.
// Проверки:
//   - нельзя переводить себе
//   - количество должно быть положительным
//   - у отправителя должно хватать кармы (*InsufficientFundsError)
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.Sender.UserID == req.ReceiverID {
		return nil, common.ErrSelfTransfer
	}
	if req.Quantity <= 0 {
		return nil, common.ErrInvalidQuantity
	}

	res, err := e.store.ApplyTransfer(ctx, req)
	if err != nil {
		var insufficient *InsufficientFundsError
		if errors.As(err, &insufficient) {
			metrics.KarmaTransfersTotal.WithLabelValues("insufficient").Inc()
			return nil, insufficient
		}
		metrics.KarmaTransfersTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("не удалось перевести карму: %w", err)
	}

	metrics.KarmaTransfersTotal.WithLabelValues("ok").Inc()
	log.WithFields(log.Fields{
		"from":     req.Sender.UserID,
		"to":       req.ReceiverID,
		"group":    req.GroupID,
		"quantity": req.Quantity,
	}).Info("Перевод кармы выполнен")

	return res, nil
}

// Balance возвращает баланс участника. Если записи ещё нет —
// нулевой баланс без ошибки.
func (e *Engine) Balance(ctx context.Context, userID, groupID int64) (*Balance, error) {
	b, err := e.store.GetBalance(ctx, userID, groupID)
	if errors.Is(err, common.ErrBalanceNotFound) {
		return &Balance{UserID: userID, GroupID: groupID}, nil
	}
	return b, err
}

// History возвращает последние limit изменений кармы участника.
func (e *Engine) History(ctx context.Context, userID, groupID int64, limit int) ([]HistoryEntry, error) {
	return e.store.GetHistory(ctx, userID, groupID, limit)
}

// Top возвращает рейтинг чата; limit == 0 — все участники.
func (e *Engine) Top(ctx context.Context, groupID int64, order Order, limit int) ([]LeaderboardRow, error) {
	if limit < 0 {
		limit = 0
	}
	return e.store.GetTop(ctx, groupID, order, limit)
}

func sign(delta int64) string {
	if delta > 0 {
		return "positive"
	}
	return "negative"
}
