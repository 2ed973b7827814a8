package exchange

import (
	"context"
	"time"

	"riskwatch/internal/models"

	"github.com/shopspring/decimal"
)

// Client - операции с фьючерсным аккаунтом, нужные мониторингу риска.
// Ключи передаются в каждый вызов: один клиент обслуживает всех пользователей.
type Client interface {
	// FetchAccountSnapshot получает баланс, позиции и реализованный PnL за сегодня
	FetchAccountSnapshot(ctx context.Context, creds models.Credentials) (*models.AccountSnapshot, error)

	// GetOpenPositions возвращает позиции с ненулевым объёмом
	GetOpenPositions(ctx context.Context, creds models.Credentials) ([]models.Position, error)

	// PlaceMarketOrder размещает рыночный ордер. Никогда не повторяется.
	PlaceMarketOrder(ctx context.Context, creds models.Credentials, req OrderRequest) (*models.OrderResult, error)

	// FetchDailyPnL суммирует доходы за календарный день UTC по рынку (usdt_m / coin_m)
	FetchDailyPnL(ctx context.Context, creds models.Credentials, market string, day time.Time) (*models.DailyPnL, error)
}

// OrderRequest - параметры рыночного ордера
type OrderRequest struct {
	Symbol     string
	Side       string // models.SideBuy / models.SideSell
	Quantity   decimal.Decimal
	ReduceOnly bool
}
