package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyPnL - итог дня по рынку, заполняется фоновой сверкой
type DailyPnL struct {
	UserID      string          `json:"user_id" db:"user_id"`
	Market      string          `json:"market" db:"market"`
	Day         time.Time       `json:"day" db:"day"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	Commission  decimal.Decimal `json:"commission" db:"commission"`
	Funding     decimal.Decimal `json:"funding" db:"funding"`
	SyncedAt    time.Time       `json:"synced_at" db:"synced_at"`
}

// Net - итог дня с учётом комиссий и фандинга
func (d DailyPnL) Net() decimal.Decimal {
	return d.RealizedPnL.Add(d.Commission).Add(d.Funding)
}
