package service

import (
	"context"
	"time"

	"riskwatch/internal/alarm"
	"riskwatch/internal/models"
	"riskwatch/internal/repository"

	"github.com/shopspring/decimal"
)

// ProfileRepositoryInterface определяет интерфейс репозитория риск-профилей
type ProfileRepositoryInterface interface {
	Get(ctx context.Context, userID string) (*models.RiskProfile, error)
	Upsert(ctx context.Context, p *models.RiskProfile) error
}

// AlertRepositoryInterface определяет интерфейс репозитория алертов
type AlertRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*models.AlertRecord, error)
	Acknowledge(ctx context.Context, id int64) (*models.AlertRecord, error)
	AcknowledgeAll(ctx context.Context, userID string) (int64, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.AlertRecord, error)
	ListUnacknowledged(ctx context.Context, userID string) ([]*models.AlertRecord, error)
	InsertTest(ctx context.Context, userID string, alertType models.AlertType, percent decimal.Decimal) (*models.AlertRecord, error)
	ClearTest(ctx context.Context, userID string) (int64, error)
}

// AccountRepositoryInterface определяет интерфейс репозитория аккаунтов биржи
type AccountRepositoryInterface interface {
	Upsert(ctx context.Context, acc *models.ExchangeAccount) error
	Get(ctx context.Context, userID string) (*models.ExchangeAccount, error)
	Delete(ctx context.Context, userID string) error
}

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(ctx context.Context, n *models.Notification) error
	CreateIfNoRecentTitle(ctx context.Context, n *models.Notification, window time.Duration) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int, unreadOnly bool) ([]*models.Notification, error)
	MarkRead(ctx context.Context, userID string, ids []int64) (int64, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ ProfileRepositoryInterface = (*repository.ProfileRepository)(nil)
var _ AlertRepositoryInterface = (*repository.AlertRepository)(nil)
var _ AccountRepositoryInterface = (*repository.AccountRepository)(nil)
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)

// ============ Управление рантаймом ============

// AlarmControl - сирены пользователей (alarm.Manager)
type AlarmControl interface {
	Trigger(userID string, alertType models.AlertType, siren models.SirenType) bool
	Stop(userID string) bool
	Clear(userID string, types ...models.AlertType) bool
	Status(userID string) alarm.Status
}

var _ AlarmControl = (*alarm.Manager)(nil)

// PollerControl - возобновление опроса после смены ключей (monitor.Scheduler)
type PollerControl interface {
	Resume(userID string)
}

// ============ Интерфейсы сервисов для Dependency Injection ============

// ProfileServiceInterface определяет интерфейс сервиса риск-профилей
type ProfileServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*models.RiskProfile, error)
	UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) (*models.RiskProfile, error)
}

// AlertServiceInterface определяет интерфейс сервиса алертов
type AlertServiceInterface interface {
	ListAlerts(ctx context.Context, userID string, limit int, unacknowledgedOnly bool) ([]*models.AlertRecord, error)
	Acknowledge(ctx context.Context, id int64) (*models.AlertRecord, error)
	StopAlarm(ctx context.Context, userID string) (*StopAlarmResult, error)
	AlarmStatus(userID string) alarm.Status
	SendTestAlert(ctx context.Context, userID string, alertType models.AlertType) (*models.AlertRecord, error)
	ClearTestAlerts(ctx context.Context, userID string) (int64, error)
}

// AccountServiceInterface определяет интерфейс сервиса аккаунтов биржи
type AccountServiceInterface interface {
	SetCredentials(ctx context.Context, userID, apiKey, secretKey string) (*models.ExchangeAccount, error)
	GetAccount(ctx context.Context, userID string) (*models.ExchangeAccount, error)
	Credentials(ctx context.Context, userID string) (models.Credentials, error)
	DeleteAccount(ctx context.Context, userID string) error
}

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	Publish(ctx context.Context, n *models.Notification) error
	PublishOnce(ctx context.Context, n *models.Notification, window time.Duration) (bool, error)
	List(ctx context.Context, userID string, limit int, unreadOnly bool) ([]*models.Notification, error)
	MarkRead(ctx context.Context, userID string, ids []int64) (int64, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ ProfileServiceInterface = (*ProfileService)(nil)
var _ AlertServiceInterface = (*AlertService)(nil)
var _ AccountServiceInterface = (*AccountService)(nil)
var _ NotificationServiceInterface = (*NotificationService)(nil)
