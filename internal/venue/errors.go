package venue

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionLost            = errors.New("Соединение с торговым сервером потеряно.")
	ErrTimeout                   = errors.New("Время ожидания ответа истекло.")
	ErrAuthTimeout               = errors.New("Время ожидания авторизации истекло.")
	ErrNoTradingAccounts         = errors.New("Нет торговых аккаунтов для данного токена.")
	ErrNotAuthorized             = errors.New("Торговый аккаунт не авторизован.")
	ErrConcurrentRequestConflict = errors.New("Запрос такого типа уже выполняется.")
	ErrDuplicateStraddle         = errors.New("Стрэдл по этому символу уже активен.")
	ErrInsufficientAccounts      = errors.New("Для стратегии требуются минимум два торговых аккаунта.")
)

// Код ALREADY_LOGGED_IN не считается ошибкой на шаге авторизации аккаунта.
const CodeAlreadyLoggedIn = "ALREADY_LOGGED_IN"

type ProtocolError struct {
	Code        string
	Description string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("Ошибка торгового сервера: %s (code=%s)", e.Description, e.Code)
}

func IsProtocolCode(err error, code string) bool {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Code == code
	}
	return false
}
