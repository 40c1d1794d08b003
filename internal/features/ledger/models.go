// Package ledger ведёт балансы кармы по паре (пользователь, чат):
// выдачу, переводы, историю изменений и рейтинги.
package ledger

import (
	"fmt"
	"time"

	"serotonyl.ru/karma-bot/internal/common"
)

// Reason — причина изменения кармы, пишется в историю.
type Reason string

const (
	ReasonGrant    Reason = "grant"    // +1/-1 от участника
	ReasonTransfer Reason = "transfer" // перевод между участниками
	ReasonPenalty  Reason = "penalty"  // штраф антиабуза
	ReasonAdmin    Reason = "admin"    // ручная правка админом
)

// Actor — снимок того, кто изменил карму, на момент изменения.
// UserID — внутренний id из таблицы users.
type Actor struct {
	UserID    int64
	Username  string
	FirstName string
}

// MessageContext — сообщение, на которое ответили «+1».
type MessageContext struct {
	ChatID    int64
	MessageID int64
	Text      string
}

// Balance — запись karma_balances.
type Balance struct {
	ID         int64     `db:"id"`
	UserID     int64     `db:"user_id"`
	GroupID    int64     `db:"group_id"`
	Karma      int64     `db:"karma"`       // Текущая карма, может быть отрицательной
	GivenKarma int64     `db:"given_karma"` // Сколько раз участник ставил +
	GivenHate  int64     `db:"given_hate"`  // Сколько раз участник ставил -
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// HistoryEntry — запись karma_history.
type HistoryEntry struct {
	ID             int64     `db:"id"`
	BalanceID      int64     `db:"balance_id"`
	Delta          int64     `db:"delta"`
	Reason         Reason    `db:"reason"`
	ActorUserID    *int64    `db:"actor_user_id"` // nil для системных изменений
	ActorUsername  string    `db:"actor_username"`
	ActorFirstName string    `db:"actor_first_name"`
	ChatID         *int64    `db:"chat_id"`
	MessageID      *int64    `db:"message_id"`
	MessageText    *string   `db:"message_text"`
	CreatedAt      time.Time `db:"created_at"`
}

// GrantRequest — одностороннее изменение кармы цели.
// Actor == nil означает системное изменение (штраф, админ): счётчики
// выданной кармы ни у кого не меняются.
type GrantRequest struct {
	Actor    *Actor
	TargetID int64
	GroupID  int64
	Delta    int64
	Context  *MessageContext
	Reason   Reason
}

// TransferRequest — перевод кармы от Sender к ReceiverID.
type TransferRequest struct {
	Sender     Actor
	ReceiverID int64
	GroupID    int64
	Quantity   int64
}

// TransferResult — балансы обеих сторон после перевода.
type TransferResult struct {
	SenderBalance   int64
	ReceiverBalance int64
}

// Order — направление сортировки рейтинга.
type Order int

const (
	OrderDesc Order = iota // лучшие сверху
	OrderAsc               // худшие сверху
)

// LeaderboardRow — строка рейтинга чата.
type LeaderboardRow struct {
	Position   int
	UserID     int64
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Karma      int64
}

// DisplayName возвращает @username или имя.
func (r LeaderboardRow) DisplayName() string {
	return common.DisplayName(r.Username, r.FirstName, r.LastName)
}

// InsufficientFundsError — у отправителя меньше кармы, чем он хочет перевести.
// errors.Is(err, common.ErrInsufficientFunds) == true.
type InsufficientFundsError struct {
	Balance int64 // текущий баланс отправителя
	Err     error // common.ErrBalanceNotFound, если записи кармы ещё нет
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("недостаточно кармы: на балансе %d", e.Balance)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == common.ErrInsufficientFunds
}

func (e *InsufficientFundsError) Unwrap() error {
	return e.Err
}
