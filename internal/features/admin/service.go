// Package admin — service.go содержит логику аутентификации, управления сессиями
// и команды модерации кармы.
package admin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/karma-bot/internal/common"
	"serotonyl.ru/karma-bot/internal/features/identity"
	"serotonyl.ru/karma-bot/internal/features/ledger"
)

// Store — хранилище сессий и попыток входа.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetActiveSession(ctx context.Context, telegramID int64, now time.Time) (*Session, error)
	DeactivateSessions(ctx context.Context, telegramID int64) error
	UpdateActivity(ctx context.Context, telegramID int64, now time.Time) error
	LogAttempt(ctx context.Context, telegramID int64, success bool, at time.Time) error
	CountFailedAttempts(ctx context.Context, telegramID int64, since time.Time) (int, error)
	ExpireSessions(ctx context.Context, now time.Time) (int64, error)
}

// Users — поиск участников и снятие бана.
type Users interface {
	GetByUsername(ctx context.Context, username string) (*identity.User, error)
	GetGroup(ctx context.Context, chatID int64) (*identity.Group, error)
	Unban(ctx context.Context, userID int64, now time.Time) error
}

// Banner выдаёт бан на изменение кармы (abuse.Gate).
type Banner interface {
	ApplyBan(ctx context.Context, actorID int64) (time.Time, error)
}

// Granter — ручная правка кармы (ledger.Engine).
type Granter interface {
	Grant(ctx context.Context, req ledger.GrantRequest) (int64, error)
}

// Service управляет админ-панелью.
type Service struct {
	store  Store
	users  Users
	bans   Banner
	karma  Granter
	clock  clockwork.Clock
	cfg    Config
	states map[int64]*dialogState // Состояния диалогов (in-memory)
	mu     sync.Mutex
}

// NewService создаёт сервис админ-панели.
func NewService(store Store, users Users, bans Banner, karma Granter, clock clockwork.Clock, cfg Config) *Service {
	return &Service{
		store:  store,
		users:  users,
		bans:   bans,
		karma:  karma,
		clock:  clock,
		cfg:    cfg,
		states: make(map[int64]*dialogState),
	}
}

// VerifyPassword проверяет пароль администратора с использованием Argon2id.
// Включает защиту от brute-force: MaxAttempts неудачных попыток за
// AttemptWindow блокируют вход.
func (s *Service) VerifyPassword(ctx context.Context, telegramID int64, password string) error {
	now := s.clock.Now()

	attempts, err := s.store.CountFailedAttempts(ctx, telegramID, now.Add(-s.cfg.AttemptWindow))
	if err != nil {
		return err
	}
	if attempts >= s.cfg.MaxAttempts {
		return common.ErrTooManyAttempts
	}

	match := verifyArgon2id(password, s.cfg.PasswordHash)

	if err := s.store.LogAttempt(ctx, telegramID, match, now); err != nil {
		log.WithError(err).WithField("telegram_id", telegramID).Error("Ошибка записи попытки входа")
	}

	if !match {
		log.WithField("telegram_id", telegramID).Warn("Неверный пароль админки")
		return common.ErrWrongPassword
	}

	session := &Session{
		TelegramID:      telegramID,
		SessionToken:    generateSecureToken(),
		AuthenticatedAt: now,
		ExpiresAt:       now.Add(s.cfg.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return err
	}
	log.WithField("telegram_id", telegramID).Info("Вход в админку")
	return nil
}

// HasActiveSession проверяет сессию и продлевает last_activity.
func (s *Service) HasActiveSession(ctx context.Context, telegramID int64) bool {
	now := s.clock.Now()
	if _, err := s.store.GetActiveSession(ctx, telegramID, now); err != nil {
		if !errors.Is(err, common.ErrSessionExpired) {
			log.WithError(err).Error("Ошибка проверки сессии")
		}
		return false
	}
	if err := s.store.UpdateActivity(ctx, telegramID, now); err != nil {
		log.WithError(err).Warn("Ошибка обновления активности сессии")
	}
	return true
}

// Logout закрывает сессии админа.
func (s *Service) Logout(ctx context.Context, telegramID int64) error {
	return s.store.DeactivateSessions(ctx, telegramID)
}

// ExpireSessions закрывает истёкшие сессии (cron).
func (s *Service) ExpireSessions(ctx context.Context) (int64, error) {
	return s.store.ExpireSessions(ctx, s.clock.Now())
}

// Ban запрещает участнику менять карму на стандартный срок бана.
func (s *Service) Ban(ctx context.Context, username string) (*identity.User, time.Time, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, time.Time{}, err
	}
	until, err := s.bans.ApplyBan(ctx, u.ID)
	if err != nil {
		return nil, time.Time{}, err
	}
	log.WithFields(log.Fields{"user_id": u.ID, "until": until}).Info("Админ выдал бан на карму")
	return u, until, nil
}

// Unban снимает бан (banned_until = now).
func (s *Service) Unban(ctx context.Context, username string) (*identity.User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := s.users.Unban(ctx, u.ID, s.clock.Now()); err != nil {
		return nil, err
	}
	return u, nil
}

// Status показывает, забанен ли участник.
func (s *Service) Status(ctx context.Context, username string) (*Status, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	st := &Status{User: u, Banned: u.IsBanned(s.clock.Now())}
	if st.Banned {
		st.BannedUntil = *u.BannedUntil
	}
	return st, nil
}

// Adjust вручную меняет карму участника в чате. Счётчики выданной
// кармы не трогаются, в истории причина admin.
func (s *Service) Adjust(ctx context.Context, username string, chatID, delta int64) (*identity.User, int64, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, 0, err
	}
	g, err := s.users.GetGroup(ctx, chatID)
	if err != nil {
		return nil, 0, err
	}
	karma, err := s.karma.Grant(ctx, ledger.GrantRequest{
		TargetID: u.ID,
		GroupID:  g.ID,
		Delta:    delta,
		Reason:   ledger.ReasonAdmin,
	})
	if err != nil {
		return nil, 0, err
	}
	return u, karma, nil
}

// getState возвращает состояние диалога, если оно не истекло.
func (s *Service) getState(telegramID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[telegramID]
	if !ok {
		return stateNone
	}
	if s.clock.Now().After(st.ExpiresAt) {
		delete(s.states, telegramID)
		return stateNone
	}
	return st.State
}

func (s *Service) setState(telegramID int64, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[telegramID] = &dialogState{State: state, ExpiresAt: s.clock.Now().Add(s.cfg.StateTTL)}
}

func (s *Service) clearState(telegramID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, telegramID)
}

// --- Криптографические утилиты ---

// generateSecureToken генерирует криптографически безопасный токен сессии.
func generateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}
