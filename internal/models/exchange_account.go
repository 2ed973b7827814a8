package models

import "time"

// ExchangeAccount - привязка пользователя к фьючерсному аккаунту Binance.
// Ключи хранятся зашифрованными (AES-GCM) и не попадают в JSON.
type ExchangeAccount struct {
	UserID       string    `json:"user_id" db:"user_id"`
	APIKeyEnc    string    `json:"-" db:"api_key_enc"`
	SecretKeyEnc string    `json:"-" db:"secret_key_enc"`
	Active       bool      `json:"active" db:"active"`
	LastError    string    `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Credentials - расшифрованные ключи, живут только в памяти
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Empty проверяет что ключи не заданы
func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.SecretKey == ""
}

// String не раскрывает секреты в логах
func (c Credentials) String() string {
	if c.Empty() {
		return "credentials(empty)"
	}
	n := 4
	if len(c.APIKey) < n {
		n = len(c.APIKey)
	}
	return "credentials(" + c.APIKey[:n] + "***)"
}

// Subscription - подписка пользователя (источник для напоминаний о продлении)
type Subscription struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Plan      string    `json:"plan" db:"plan"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}
