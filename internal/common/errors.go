// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех модулях бота.
// Эти ошибки позволяют обработчикам различать типы проблем
// и отправлять пользователю понятные сообщения.
package common

import "errors"

// Ошибки переводов кармы
var (
	// ErrInsufficientFunds — у отправителя недостаточно кармы
	ErrInsufficientFunds = errors.New("недостаточно кармы")
	// ErrBalanceNotFound — у отправителя ещё нет записи кармы в этом чате
	ErrBalanceNotFound = errors.New("баланс кармы не найден")
	// ErrSelfTransfer — попытка перевести карму самому себе
	ErrSelfTransfer = errors.New("нельзя переводить карму самому себе")
	// ErrInvalidQuantity — количество должно быть положительным
	ErrInvalidQuantity = errors.New("количество должно быть положительным")
	// ErrInvalidDelta — изменение кармы не может быть нулевым
	ErrInvalidDelta = errors.New("изменение кармы не может быть нулевым")
	// ErrUserNotFound — пользователь не найден в базе
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrGroupNotFound — бот не знает такой чат
	ErrGroupNotFound = errors.New("чат не найден")
)

// Ошибки выдачи кармы
var (
	// ErrSelfKarma — попытка изменить карму самому себе
	ErrSelfKarma = errors.New("нельзя менять карму самому себе")
	// ErrTargetIsBot — ботам карма не положена
	ErrTargetIsBot = errors.New("нельзя менять карму ботам")
	// ErrBanned — пользователь временно лишён права менять карму
	ErrBanned = errors.New("вы временно не можете менять карму")
	// ErrRateLimited — сработал антиабуз (всплеск или дневной лимит)
	ErrRateLimited = errors.New("слишком много изменений кармы")
)

// Ошибки админки
var (
	// ErrNotAdmin — пользователь не является администратором
	ErrNotAdmin = errors.New("у вас нет прав администратора")
	// ErrWrongPassword — неверный пароль
	ErrWrongPassword = errors.New("неверный пароль")
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
	// ErrSessionExpired — сессия истекла
	ErrSessionExpired = errors.New("сессия истекла, авторизуйтесь заново")
)

// userErrors — ошибки, текст которых можно показать пользователю как есть.
var userErrors = []error{
	ErrInsufficientFunds, ErrBalanceNotFound, ErrSelfTransfer, ErrInvalidQuantity,
	ErrInvalidDelta, ErrUserNotFound, ErrGroupNotFound, ErrSelfKarma, ErrTargetIsBot, ErrBanned,
	ErrRateLimited, ErrNotAdmin, ErrWrongPassword, ErrTooManyAttempts, ErrSessionExpired,
}

// UserMessage возвращает текст первой известной ошибки в цепочке err,
// без технических обёрток. Для неизвестных ошибок — err.Error().
func UserMessage(err error) string {
	for _, known := range userErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
