// Package karma — service.go: путь «+1» от апдейта до ledger.
//
//	identity → gate.Evaluate → ledger → gate.RecordEvent → cooldown
package karma

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/common"
	"serotonyl.ru/karma-bot/internal/features/abuse"
	"serotonyl.ru/karma-bot/internal/features/identity"
	"serotonyl.ru/karma-bot/internal/features/ledger"
)

// Identity — get-or-create участников и чатов.
type Identity interface {
	EnsureUser(ctx context.Context, p identity.Profile) (*identity.User, error)
	EnsureGroup(ctx context.Context, chatID int64, title string) (*identity.Group, error)
	GetByUsername(ctx context.Context, username string) (*identity.User, error)
}

// Ledger — движок кармы.
type Ledger interface {
	Grant(ctx context.Context, req ledger.GrantRequest) (int64, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.TransferResult, error)
	Balance(ctx context.Context, userID, groupID int64) (*ledger.Balance, error)
	History(ctx context.Context, userID, groupID int64, limit int) ([]ledger.HistoryEntry, error)
	Top(ctx context.Context, groupID int64, order ledger.Order, limit int) ([]ledger.LeaderboardRow, error)
}

// Gate — антиабуз.
type Gate interface {
	Evaluate(ctx context.Context, actorID, targetID int64) (abuse.Decision, error)
	Punish(ctx context.Context, actorID, targetID, groupID int64, verdict abuse.Verdict) (*abuse.Punishment, error)
	RecordEvent(ctx context.Context, e abuse.Event) error
}

// Cooldown отмечает, что участник только что менял карму в чате.
// Ключи — Telegram ID чата и пользователя.
type Cooldown interface {
	Mark(chatID, userID int64)
}

// Service обрабатывает реакции и переводы.
type Service struct {
	identity Identity
	ledger   Ledger
	gate     Gate
	cooldown Cooldown
}

// NewService создаёт сервис кармы.
func NewService(ids Identity, engine Ledger, gate Gate, cooldown Cooldown) *Service {
	return &Service{
		identity: ids,
		ledger:   engine,
		gate:     gate,
		cooldown: cooldown,
	}
}

// React применяет «+1»/«-1». Ошибки бизнес-отказа:
//   - common.ErrSelfKarma, common.ErrTargetIsBot
//   - *BannedError — актор забанен, ничего не изменено
//   - *AbuseError — всплеск или дневной лимит: штраф, бан, само действие отклонено
func (s *Service) React(ctx context.Context, r Reaction) (*GrantOutcome, error) {
	if r.Delta == 0 {
		return nil, common.ErrInvalidDelta
	}
	if r.From.TelegramID == r.To.TelegramID {
		return nil, common.ErrSelfKarma
	}
	if r.To.IsBot {
		return nil, common.ErrTargetIsBot
	}

	group, actor, target, err := s.resolve(ctx, r.Chat, r.From, r.To)
	if err != nil {
		return nil, err
	}

	if err := s.admit(ctx, r.Chat.ID, r.From.TelegramID, actor, target, group.ID); err != nil {
		return nil, err
	}

	karma, err := s.ledger.Grant(ctx, ledger.GrantRequest{
		Actor:    actorOf(actor),
		TargetID: target.ID,
		GroupID:  group.ID,
		Delta:    r.Delta,
		Context: &ledger.MessageContext{
			ChatID:    r.Chat.ID,
			MessageID: r.MessageID,
			Text:      r.Text,
		},
		Reason: ledger.ReasonGrant,
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, actor.ID, target.ID, group.ID, abuse.KindForDelta(r.Delta))

	return &GrantOutcome{Actor: actor, Target: target, Delta: r.Delta, Karma: karma}, nil
}

// Transfer переводит карму. Перевод проходит через антиабуз так же,
// как «+1», и пишется в журнал событий как KARMA.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (*TransferOutcome, error) {
	if in.Quantity <= 0 {
		return nil, common.ErrInvalidQuantity
	}

	group, err := s.identity.EnsureGroup(ctx, in.Chat.ID, in.Chat.Title)
	if err != nil {
		return nil, fmt.Errorf("регистрация чата: %w", err)
	}
	sender, err := s.identity.EnsureUser(ctx, in.From)
	if err != nil {
		return nil, fmt.Errorf("регистрация отправителя: %w", err)
	}

	var receiver *identity.User
	if in.To != nil {
		receiver, err = s.identity.EnsureUser(ctx, *in.To)
	} else {
		receiver, err = s.identity.GetByUsername(ctx, in.ToUsername)
	}
	if err != nil {
		return nil, err
	}

	if sender.ID == receiver.ID {
		return nil, common.ErrSelfTransfer
	}
	if receiver.IsBot {
		return nil, common.ErrTargetIsBot
	}

	if err := s.admit(ctx, in.Chat.ID, in.From.TelegramID, sender, receiver, group.ID); err != nil {
		return nil, err
	}

	res, err := s.ledger.Transfer(ctx, ledger.TransferRequest{
		Sender:     *actorOf(sender),
		ReceiverID: receiver.ID,
		GroupID:    group.ID,
		Quantity:   in.Quantity,
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, sender.ID, receiver.ID, group.ID, abuse.KindKarma)

	return &TransferOutcome{Sender: sender, Receiver: receiver, Quantity: in.Quantity, Result: res}, nil
}

// Balance возвращает карму участника в чате.
func (s *Service) Balance(ctx context.Context, chat Chat, p identity.Profile) (*Stats, error) {
	group, user, err := s.member(ctx, chat, p)
	if err != nil {
		return nil, err
	}
	b, err := s.ledger.Balance(ctx, user.ID, group.ID)
	if err != nil {
		return nil, err
	}
	return &Stats{User: user, Balance: b}, nil
}

// History возвращает последние изменения кармы участника в чате.
func (s *Service) History(ctx context.Context, chat Chat, p identity.Profile, limit int) ([]ledger.HistoryEntry, error) {
	group, user, err := s.member(ctx, chat, p)
	if err != nil {
		return nil, err
	}
	return s.ledger.History(ctx, user.ID, group.ID, limit)
}

// Top возвращает рейтинг чата.
func (s *Service) Top(ctx context.Context, chat Chat, order ledger.Order, limit int) ([]ledger.LeaderboardRow, error) {
	group, err := s.identity.EnsureGroup(ctx, chat.ID, chat.Title)
	if err != nil {
		return nil, fmt.Errorf("регистрация чата: %w", err)
	}
	return s.ledger.Top(ctx, group.ID, order, limit)
}

func (s *Service) member(ctx context.Context, chat Chat, p identity.Profile) (*identity.Group, *identity.User, error) {
	group, err := s.identity.EnsureGroup(ctx, chat.ID, chat.Title)
	if err != nil {
		return nil, nil, fmt.Errorf("регистрация чата: %w", err)
	}
	user, err := s.identity.EnsureUser(ctx, p)
	if err != nil {
		return nil, nil, fmt.Errorf("регистрация участника: %w", err)
	}
	return group, user, nil
}

func (s *Service) resolve(ctx context.Context, chat Chat, from, to identity.Profile) (*identity.Group, *identity.User, *identity.User, error) {
	group, actor, err := s.member(ctx, chat, from)
	if err != nil {
		return nil, nil, nil, err
	}
	target, err := s.identity.EnsureUser(ctx, to)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("регистрация получателя: %w", err)
	}
	return group, actor, target, nil
}

// admit прогоняет действие через антиабуз. Кулдаун ставится на любую
// обработанную попытку, чтобы забаненный участник не получал ответ на каждый «+1».
func (s *Service) admit(ctx context.Context, chatID, fromTelegramID int64, actor, target *identity.User, groupID int64) error {
	decision, err := s.gate.Evaluate(ctx, actor.ID, target.ID)
	if err != nil {
		return err
	}
	s.cooldown.Mark(chatID, fromTelegramID)

	switch decision.Verdict {
	case abuse.Allow:
		return nil
	case abuse.Banned:
		return &BannedError{Until: decision.BannedUntil}
	default:
		p, err := s.gate.Punish(ctx, actor.ID, target.ID, groupID, decision.Verdict)
		if err != nil {
			return err
		}
		return &AbuseError{Actor: actor, Target: target, Punishment: p}
	}
}

// record пишет событие после коммита. Ошибка не отменяет уже
// применённое изменение: логируем и идём дальше.
func (s *Service) record(ctx context.Context, actorID, targetID, groupID int64, kind abuse.Kind) {
	err := s.gate.RecordEvent(ctx, abuse.Event{
		SourceID: actorID,
		TargetID: targetID,
		GroupID:  groupID,
		Kind:     kind,
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"actor":  actorID,
			"target": targetID,
			"group":  groupID,
		}).Error("Не удалось записать событие кармы")
	}
}

func actorOf(u *identity.User) *ledger.Actor {
	return &ledger.Actor{
		UserID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
	}
}
