package alfacrm

import (
	"errors"
	"fmt"
)

// Типизированная таксономия отказов клиента. Слой запросов сворачивает любую
// из этих ошибок в пустой результат (поведение исходной интеграции), но по
// errors.Is/As причина остаётся различимой для тестов и логов.
var (
	// ErrAuthFailed — логин отклонён или токен не получен.
	ErrAuthFailed = errors.New("alfacrm: authentication failed")
	// ErrUnauthorized — HTTP 401, запрос не повторяется.
	ErrUnauthorized = errors.New("alfacrm: unauthorized")
	// ErrRateLimited — HTTP 429 после исчерпания всех повторов.
	ErrRateLimited = errors.New("alfacrm: rate limited")
	// ErrNotFound — запрос выполнен, но подходящих записей нет.
	ErrNotFound = errors.New("alfacrm: not found")
)

// StatusError — неожиданный HTTP-статус, без повторов.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("alfacrm: unexpected status %d: %s", e.Code, e.Body)
}

// DecodeError — ответ 200, тело которого не удалось разобрать.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("alfacrm: failed to decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TransportError — сетевая ошибка или таймаут, без повторов.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("alfacrm: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
