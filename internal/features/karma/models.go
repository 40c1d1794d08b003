// Package karma связывает участников, антиабуз и ledger: обрабатывает
// «+1»/«-1», переводы кармы и команды просмотра.
package karma

import (
	"fmt"
	"time"

	"serotonyl.ru/karma-bot/internal/common"
	"serotonyl.ru/karma-bot/internal/features/abuse"
	"serotonyl.ru/karma-bot/internal/features/identity"
	"serotonyl.ru/karma-bot/internal/features/ledger"
)

// Chat — чат, в котором произошло действие.
type Chat struct {
	ID    int64
	Title string
}

// Reaction — «+1»/«-1» в ответ на сообщение.
type Reaction struct {
	Chat      Chat
	From      identity.Profile
	To        identity.Profile
	Delta     int64
	MessageID int64  // сообщение, на которое ответили
	Text      string // его текст
}

// TransferInput — перевод кармы. Получатель задан либо профилем
// (перевод ответом на сообщение), либо @username.
type TransferInput struct {
	Chat       Chat
	From       identity.Profile
	To         *identity.Profile
	ToUsername string
	Quantity   int64
}

// GrantOutcome — результат успешной реакции.
type GrantOutcome struct {
	Actor  *identity.User
	Target *identity.User
	Delta  int64
	Karma  int64 // карма цели после изменения
}

// TransferOutcome — результат успешного перевода.
type TransferOutcome struct {
	Sender   *identity.User
	Receiver *identity.User
	Quantity int64
	Result   *ledger.TransferResult
}

// Stats — карма участника в чате.
type Stats struct {
	User    *identity.User
	Balance *ledger.Balance
}

// BannedError — актор забанен и не может менять карму.
// errors.Is(err, common.ErrBanned) == true.
type BannedError struct {
	Until time.Time
}

func (e *BannedError) Error() string {
	return fmt.Sprintf("%s до %s", common.ErrBanned, common.FormatDateTime(e.Until))
}

func (e *BannedError) Is(target error) bool { return target == common.ErrBanned }

// AbuseError — сработал антиабуз, обе стороны оштрафованы.
// errors.Is(err, common.ErrRateLimited) == true.
type AbuseError struct {
	Actor      *identity.User
	Target     *identity.User
	Punishment *abuse.Punishment
}

func (e *AbuseError) Error() string {
	return fmt.Sprintf("%s: %s", common.ErrRateLimited, e.Punishment.Verdict)
}

func (e *AbuseError) Is(target error) bool { return target == common.ErrRateLimited }
