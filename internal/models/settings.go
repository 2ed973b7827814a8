package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SirenType - выбор генератора звука тревоги
type SirenType string

const (
	SirenPolice     SirenType = "police"      // чередование двух тонов
	SirenAmbulance  SirenType = "ambulance"   // плавный подъём/спад
	SirenFire       SirenType = "fire"        // пила
	SirenAirRaid    SirenType = "air_raid"    // экспоненциальный свип
	SirenAlarmClock SirenType = "alarm_clock" // прерывистый меандр
)

// SirenTypes - все поддерживаемые сирены
var SirenTypes = []SirenType{SirenPolice, SirenAmbulance, SirenFire, SirenAirRaid, SirenAlarmClock}

// Valid проверяет что сирена известна
func (s SirenType) Valid() bool {
	for _, t := range SirenTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Допустимый диапазон порогов в процентах
var (
	MinThresholdPercent = decimal.NewFromInt(1)
	MaxThresholdPercent = decimal.NewFromInt(50)
)

// RiskProfile - риск-настройки пользователя.
// Пороги убытка и прибыли независимы друг от друга.
type RiskProfile struct {
	UserID               string          `json:"user_id" db:"user_id"`
	InitialBalance       decimal.Decimal `json:"initial_balance" db:"initial_balance"` // база для расчёта % убытка
	LossThresholdPercent decimal.Decimal `json:"loss_threshold_percent" db:"loss_threshold_percent"`
	GainThresholdPercent decimal.Decimal `json:"gain_threshold_percent" db:"gain_threshold_percent"`
	LossEnabled          bool            `json:"loss_enabled" db:"loss_enabled"`
	GainEnabled          bool            `json:"gain_enabled" db:"gain_enabled"`
	SirenType            SirenType       `json:"siren_type" db:"siren_type"`
	AutoFlatten          bool            `json:"auto_flatten" db:"auto_flatten"` // kill-switch при emergency
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// DefaultRiskProfile - профиль нового пользователя (баланс не задан, мониторинг порогов неактивен)
func DefaultRiskProfile(userID string) RiskProfile {
	return RiskProfile{
		UserID:               userID,
		InitialBalance:       decimal.Zero,
		LossThresholdPercent: decimal.NewFromInt(5),
		GainThresholdPercent: decimal.NewFromInt(10),
		LossEnabled:          true,
		GainEnabled:          false,
		SirenType:            SirenPolice,
	}
}

// CanEvaluate - проценты считаются только при положительном начальном балансе
func (p RiskProfile) CanEvaluate() bool {
	return p.InitialBalance.IsPositive()
}
