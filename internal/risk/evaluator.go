// Package risk - оценка порогов убытка и прибыли.
//
// Evaluate - чистая функция: всё состояние "уже сработало" передаётся
// явно через State и возвращается в Result.Next. Вызывающий (пуллер)
// хранит State между циклами опроса.
package risk

import (
	"time"

	"riskwatch/internal/models"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	// HysteresisPercent - на сколько процентных пунктов ниже порога должен
	// опуститься показатель, чтобы тревога сбросилась и снова взвелась
	HysteresisPercent = decimal.NewFromInt(1)

	// Границы уровней риска в % от настроенного лимита
	breakpoints = []struct {
		limit decimal.Decimal
		level models.RiskLevel
	}{
		{decimal.NewFromInt(100), models.RiskEmergency},
		{decimal.NewFromInt(95), models.RiskCritical},
		{decimal.NewFromInt(85), models.RiskDanger},
		{decimal.NewFromInt(70), models.RiskWarning},
	}
)

// State - сработавшие пороги пользователя, переживает циклы опроса
type State struct {
	LossTriggered bool `json:"loss_triggered"`
	GainTriggered bool `json:"gain_triggered"`
}

// Side - результат оценки одной стороны (убыток или прибыль)
type Side struct {
	Enabled          bool             `json:"enabled"`
	Percent          decimal.Decimal  `json:"percent"`            // % от начального баланса, >= 0
	RiskLimitPercent decimal.Decimal  `json:"risk_limit_percent"` // % от настроенного порога
	Level            models.RiskLevel `json:"level"`
	Breached         bool             `json:"breached"`
}

// Alert - тревога, которую надо записать и озвучить
type Alert struct {
	Type             models.AlertType `json:"type"`
	Level            models.RiskLevel `json:"level"`
	PercentAtTrigger decimal.Decimal  `json:"percent_at_trigger"`
}

// Result - итог оценки
type Result struct {
	Skipped bool `json:"skipped"` // начальный баланс не задан

	CurrentBalance decimal.Decimal `json:"current_balance"`
	Loss           Side            `json:"loss"`
	Gain           Side            `json:"gain"`

	// Level - наибольший из уровней убытка и прибыли (для индикатора на дашборде)
	Level models.RiskLevel `json:"level"`

	ShouldAlert bool               `json:"should_alert"`
	Alerts      []Alert            `json:"alerts,omitempty"`
	Cleared     []models.AlertType `json:"cleared,omitempty"` // типы, вернувшиеся ниже порога минус гистерезис

	Next        State     `json:"next"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Evaluate сравнивает снимок аккаунта с профилем риска.
//
// Тревога поднимается только на переднем фронте: если сторона уже
// сработала (prev), повторной тревоги нет, пока процент не опустится
// ниже порог - HysteresisPercent.
func Evaluate(profile models.RiskProfile, snap models.AccountSnapshot, prev State) Result {
	res := Result{
		CurrentBalance: snap.CurrentBalance(),
		Next:           prev,
		EvaluatedAt:    snap.FetchedAt,
	}

	if !profile.CanEvaluate() {
		res.Skipped = true
		return res
	}

	initial := profile.InitialBalance
	diff := initial.Sub(res.CurrentBalance)

	lossPct := decimal.Zero
	gainPct := decimal.Zero
	if diff.IsPositive() {
		lossPct = diff.Div(initial).Mul(hundred)
	} else if diff.IsNegative() {
		gainPct = diff.Neg().Div(initial).Mul(hundred)
	}

	res.Loss = evaluateSide(profile.LossEnabled, lossPct, profile.LossThresholdPercent)
	res.Gain = evaluateSide(profile.GainEnabled, gainPct, profile.GainThresholdPercent)

	// ============ Убыток ============
	var fired bool
	var cleared bool
	res.Next.LossTriggered, fired, cleared = edge(prev.LossTriggered, res.Loss, profile.LossThresholdPercent)
	if fired {
		alertType, _ := models.AlertTypeForLevel(res.Loss.Level)
		res.Alerts = append(res.Alerts, Alert{
			Type:             alertType,
			Level:            res.Loss.Level,
			PercentAtTrigger: res.Loss.Percent.Round(4),
		})
	}
	if cleared {
		res.Cleared = append(res.Cleared, models.AlertEmergency)
	}

	// ============ Прибыль ============
	res.Next.GainTriggered, fired, cleared = edge(prev.GainTriggered, res.Gain, profile.GainThresholdPercent)
	if fired {
		res.Alerts = append(res.Alerts, Alert{
			Type:             models.AlertGain,
			Level:            res.Gain.Level,
			PercentAtTrigger: res.Gain.Percent.Round(4),
		})
	}
	if cleared {
		res.Cleared = append(res.Cleared, models.AlertGain)
	}

	res.ShouldAlert = len(res.Alerts) > 0
	res.Level = res.Loss.Level
	if res.Gain.Level > res.Level {
		res.Level = res.Gain.Level
	}
	return res
}

// evaluateSide считает процент от лимита и уровень риска
func evaluateSide(enabled bool, percent, threshold decimal.Decimal) Side {
	s := Side{Enabled: enabled, Percent: percent, RiskLimitPercent: decimal.Zero}
	if !enabled || !threshold.IsPositive() {
		return s
	}

	s.RiskLimitPercent = percent.Div(threshold).Mul(hundred).Round(4)
	s.Level = LevelFor(s.RiskLimitPercent)
	s.Breached = percent.GreaterThanOrEqual(threshold)
	return s
}

// edge возвращает новое состояние стороны, признак переднего фронта и признак сброса
func edge(triggered bool, side Side, threshold decimal.Decimal) (next, fired, cleared bool) {
	if !side.Enabled {
		// Отключённая сторона сбрасывается без тревоги
		return false, false, triggered
	}

	switch {
	case side.Breached && !triggered:
		return true, true, false
	case triggered && side.Percent.LessThan(threshold.Sub(HysteresisPercent)):
		return false, false, true
	default:
		return triggered, false, false
	}
}

// LevelFor переводит процент от лимита в уровень риска
func LevelFor(riskLimitPercent decimal.Decimal) models.RiskLevel {
	for _, bp := range breakpoints {
		if riskLimitPercent.GreaterThanOrEqual(bp.limit) {
			return bp.level
		}
	}
	return models.RiskNone
}
