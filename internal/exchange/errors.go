package exchange

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Коды ошибок Binance, означающие проблему с ключами
var authErrorCodes = map[int]bool{
	-1022: true, // signature for this request is not valid
	-2014: true, // API-key format invalid
	-2015: true, // invalid API-key, IP, or permissions for action
}

// codeTimestampOutsideWindow - timestamp вне recvWindow; повтор с новым timestamp помогает
const codeTimestampOutsideWindow = -1021

// AuthError - ключи неверны или отозваны. Не повторяется,
// пользователь должен заново настроить ключи.
type AuthError struct {
	Status  int
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("binance auth error (http %d, code %d): %s", e.Status, e.Code, e.Message)
}

func (e *AuthError) Retryable() bool { return false }

// RateLimitError - биржа ответила 429 (лимит) или 418 (IP забанен).
// Запросы приостанавливаются на RetryAfter.
type RateLimitError struct {
	Status     int
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("binance rate limit (http %d), retry after %s: %s", e.Status, e.RetryAfter, e.Message)
}

func (e *RateLimitError) Retryable() bool { return false }

// Banned - 418: IP заблокирован за игнорирование 429
func (e *RateLimitError) Banned() bool { return e.Status == http.StatusTeapot }

// TransientError - сетевая ошибка или 5xx, можно повторить с backoff
type TransientError struct {
	Status int // 0 для сетевых ошибок
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status == 0 {
		return "binance transient error: " + e.Err.Error()
	}
	return fmt.Sprintf("binance transient error (http %d): %v", e.Status, e.Err)
}

func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Retryable() bool { return true }

// APIError - прочие ошибки запроса (неверный символ, объём и т.п.)
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error (http %d, code %d): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Retryable() bool { return false }

// IsAuthError проверяет что err (или обёрнутая) - AuthError
func IsAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// AsRateLimit возвращает RateLimitError из цепочки
func AsRateLimit(err error) (*RateLimitError, bool) {
	var e *RateLimitError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsTransient проверяет что err - TransientError
func IsTransient(err error) bool {
	var e *TransientError
	return errors.As(err, &e)
}

// classifyResponse превращает неуспешный HTTP ответ в типизированную ошибку
func classifyResponse(status int, code int, msg string, retryAfter time.Duration) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Status: status, Code: code, Message: msg}
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return &RateLimitError{Status: status, RetryAfter: retryAfter, Message: msg}
	case status >= 500:
		return &TransientError{Status: status, Err: errors.New(msg)}
	case authErrorCodes[code]:
		return &AuthError{Status: status, Code: code, Message: msg}
	case code == codeTimestampOutsideWindow:
		return &TransientError{Status: status, Err: errors.New(msg)}
	default:
		return &APIError{Status: status, Code: code, Message: msg}
	}
}
