package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Стороны ордера
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Position - открытая позиция на фьючерсах.
// SignedAmount > 0 - long, < 0 - short.
type Position struct {
	Symbol           string          `json:"symbol"`
	SignedAmount     decimal.Decimal `json:"signed_amount"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	UnrealizedProfit decimal.Decimal `json:"unrealized_profit"`
	Leverage         int             `json:"leverage"`
	MarginRatio      decimal.Decimal `json:"margin_ratio"` // % начальной маржи позиции от баланса кошелька
}

// IsOpen - позиция с ненулевым объёмом
func (p Position) IsOpen() bool {
	return !p.SignedAmount.IsZero()
}

// CloseSide - сторона ордера, закрывающего позицию
func (p Position) CloseSide() string {
	if p.SignedAmount.IsNegative() {
		return SideBuy
	}
	return SideSell
}

// CloseQuantity - объём, точно перекрывающий позицию
func (p Position) CloseQuantity() decimal.Decimal {
	return p.SignedAmount.Abs()
}

// AccountSnapshot - состояние аккаунта на момент запроса. Не сохраняется в БД.
type AccountSnapshot struct {
	TotalBalance     decimal.Decimal `json:"total_balance"` // баланс кошелька USDT
	AvailableBalance decimal.Decimal `json:"available_balance"`
	UsedMargin       decimal.Decimal `json:"used_margin"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnLToday decimal.Decimal `json:"realized_pnl_today"`
	OpenPositions    []Position      `json:"open_positions"`
	FetchedAt        time.Time       `json:"fetched_at"`
}

// CurrentBalance - маржинальный баланс (кошелёк + нереализованный PnL),
// с ним сравнивается начальный баланс профиля
func (s AccountSnapshot) CurrentBalance() decimal.Decimal {
	return s.TotalBalance.Add(s.UnrealizedPnL)
}

// OrderResult - результат рыночного ордера
type OrderResult struct {
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Status      string          `json:"status"` // NEW, FILLED, ...
	AvgPrice    decimal.Decimal `json:"avg_price"`
	SubmittedAt time.Time       `json:"submitted_at"`
}
