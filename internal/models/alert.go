package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel - уровень риска, упорядочен по возрастанию
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskWarning
	RiskDanger
	RiskCritical
	RiskEmergency
)

var riskLevelNames = [...]string{"none", "warning", "danger", "critical", "emergency"}

func (l RiskLevel) String() string {
	if l < RiskNone || l > RiskEmergency {
		return "unknown"
	}
	return riskLevelNames[l]
}

// MarshalJSON пишет уровень строкой
func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// AlertType - тип сохраняемого алерта
type AlertType string

const (
	AlertCriticalLoss AlertType = "critical_loss"
	AlertGain         AlertType = "gain"
	AlertWarning      AlertType = "warning"
	AlertDanger       AlertType = "danger"
	AlertEmergency    AlertType = "emergency"
)

// AlertTypes - все типы алертов
var AlertTypes = []AlertType{AlertGain, AlertWarning, AlertDanger, AlertCriticalLoss, AlertEmergency}

// Severity задаёт приоритет сирены: более важный алерт прерывает менее важный
func (t AlertType) Severity() int {
	switch t {
	case AlertGain:
		return 1
	case AlertWarning:
		return 2
	case AlertDanger:
		return 3
	case AlertCriticalLoss:
		return 4
	case AlertEmergency:
		return 5
	default:
		return 0
	}
}

// Valid проверяет что тип известен
func (t AlertType) Valid() bool {
	return t.Severity() > 0
}

// AlertTypeForLevel - тип алерта убытка для уровня риска
func AlertTypeForLevel(level RiskLevel) (AlertType, bool) {
	switch level {
	case RiskWarning:
		return AlertWarning, true
	case RiskDanger:
		return AlertDanger, true
	case RiskCritical:
		return AlertCriticalLoss, true
	case RiskEmergency:
		return AlertEmergency, true
	default:
		return "", false
	}
}

// AlertRecord - сохранённое событие срабатывания порога.
// Не больше одной записи на (UserID, Type, Day), кроме тестовых.
type AlertRecord struct {
	ID               int64           `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	Type             AlertType       `json:"type" db:"type"`
	PercentAtTrigger decimal.Decimal `json:"percent_at_trigger" db:"percent_at_trigger"`
	Day              time.Time       `json:"day" db:"day"`
	Acknowledged     bool            `json:"acknowledged" db:"acknowledged"`
	AcknowledgedAt   *time.Time      `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	IsTest           bool            `json:"is_test" db:"is_test"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}
