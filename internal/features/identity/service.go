// Package identity — service.go: get-or-create пользователей и чатов.
package identity

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Store — то, что сервису нужно от хранилища.
type Store interface {
	UpsertUser(ctx context.Context, p Profile) (*User, error)
	UpsertGroup(ctx context.Context, chatID int64, title string) (*Group, error)
	GetGroup(ctx context.Context, chatID int64) (*Group, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	SetBannedUntil(ctx context.Context, userID int64, until time.Time) error
}

// Service выдаёт стабильные id пользователям и чатам.
type Service struct {
	store Store
}

// NewService создаёт сервис.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// EnsureUser гарантирует, что пользователь есть в базе, и освежает его имя.
func (s *Service) EnsureUser(ctx context.Context, p Profile) (*User, error) {
	return s.store.UpsertUser(ctx, p)
}

// EnsureGroup гарантирует, что чат есть в базе.
func (s *Service) EnsureGroup(ctx context.Context, chatID int64, title string) (*Group, error) {
	return s.store.UpsertGroup(ctx, chatID, title)
}

// GetGroup возвращает уже известный боту чат.
func (s *Service) GetGroup(ctx context.Context, chatID int64) (*Group, error) {
	return s.store.GetGroup(ctx, chatID)
}

// GetByID возвращает пользователя по внутреннему id.
func (s *Service) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.store.GetByID(ctx, id)
}

// GetByUsername возвращает пользователя по @username.
func (s *Service) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.store.GetByUsername(ctx, username)
}

// Unban снимает бан: banned_until = now, запись не удаляется.
func (s *Service) Unban(ctx context.Context, userID int64, now time.Time) error {
	if err := s.store.SetBannedUntil(ctx, userID, now); err != nil {
		return err
	}
	log.WithField("user_id", userID).Info("Бан на карму снят")
	return nil
}
