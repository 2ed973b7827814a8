package monitor

import (
	"context"
	"time"

	"riskwatch/internal/models"

	"github.com/shopspring/decimal"
)

// Интерфейсы зависимостей планировщика.
// Реализуются репозиториями и сервисами, в тестах подменяются фейками.

// ProfileStore - риск-профили пользователей
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*models.RiskProfile, error)
}

// AlertStore - атомарная запись алертов с дедупликацией по (user, type, day)
type AlertStore interface {
	RecordIfAbsent(ctx context.Context, userID string, alertType models.AlertType, day time.Time, percent decimal.Decimal) (bool, *models.AlertRecord, error)
}

// AccountStore - привязанные аккаунты биржи
type AccountStore interface {
	ListActive(ctx context.Context) ([]*models.ExchangeAccount, error)
	SetStatus(ctx context.Context, userID string, active bool, lastError string) error
}

// CredentialSource возвращает расшифрованные ключи пользователя.
// Нечитаемые ключи должны оборачивать crypto.ErrDecryptionFailed.
type CredentialSource interface {
	Credentials(ctx context.Context, userID string) (models.Credentials, error)
}

// DailyPnLStore - дневные итоги для сверки
type DailyPnLStore interface {
	MissingDays(ctx context.Context, userID, market string, days []time.Time) ([]time.Time, error)
	Upsert(ctx context.Context, d *models.DailyPnL) error
}

// SubscriptionStore - сроки подписок для напоминаний
type SubscriptionStore interface {
	ListExpiringBefore(ctx context.Context, before time.Time) ([]*models.Subscription, error)
}

// Notifier - приёмник уведомлений (история + realtime)
type Notifier interface {
	Publish(ctx context.Context, n *models.Notification) error
	// PublishOnce публикует, только если за window не было уведомления с тем же заголовком
	PublishOnce(ctx context.Context, n *models.Notification, window time.Duration) (bool, error)
}

// Alarm - сирены пользователей
type Alarm interface {
	Trigger(userID string, alertType models.AlertType, siren models.SirenType) bool
	Clear(userID string, types ...models.AlertType) bool
}
