package models

import "time"

// Notification - запись в истории уведомлений пользователя
type Notification struct {
	ID        int64                  `json:"id" db:"id"`
	UserID    string                 `json:"user_id" db:"user_id"`
	Type      string                 `json:"type" db:"type"`
	Severity  string                 `json:"severity" db:"severity"`
	Title     string                 `json:"title" db:"title"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // JSONB в БД
	Read      bool                   `json:"read" db:"read"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// Типы уведомлений
const (
	NotificationTypeAlert        = "ALERT"        // сработал порог убытка/прибыли
	NotificationTypeCredentials  = "CREDENTIALS"  // ключи биржи недействительны
	NotificationTypeKillSwitch   = "KILL_SWITCH"  // результат закрытия позиций
	NotificationTypeSubscription = "SUBSCRIPTION" // подписка истекает/истекла
	NotificationTypeReconcile    = "RECONCILE"    // итог сверки дневного PnL
	NotificationTypeAlarm        = "ALARM"        // смена состояния сирены
)

// Уровни важности
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// SeverityForAlert - важность уведомления по типу алерта
func SeverityForAlert(t AlertType) string {
	switch t {
	case AlertEmergency, AlertCriticalLoss:
		return SeverityCritical
	case AlertDanger:
		return SeverityError
	case AlertWarning:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

// Markets - рынки для сверки дневного PnL
const (
	MarketUSDTM = "usdt_m"
	MarketCoinM = "coin_m"
)

// Markets - все рынки сверки
var Markets = []string{MarketUSDTM, MarketCoinM}
