package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"riskwatch/internal/exchange"
	"riskwatch/internal/models"
	"riskwatch/pkg/utils"

	"github.com/shopspring/decimal"
)

// ClosedPosition - успешно закрытая позиция
type ClosedPosition struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	OrderID  string          `json:"order_id"`
	Status   string          `json:"status"`
}

// CloseError - позиция, которую не удалось закрыть
type CloseError struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Error    string          `json:"error"`
}

// FlattenResult - итог kill-switch по символам. Частичный успех - нормальный исход.
type FlattenResult struct {
	Closed []ClosedPosition `json:"closed"`
	Errors []CloseError     `json:"errors"`
}

// OK - все позиции закрыты
func (r *FlattenResult) OK() bool {
	return len(r.Errors) == 0
}

// KillSwitch закрывает все открытые позиции рыночными ордерами
type KillSwitch struct {
	client       exchange.Client
	orderTimeout time.Duration
	log          *utils.Logger
}

// NewKillSwitch создаёт исполнитель; orderTimeout ограничивает каждый ордер
func NewKillSwitch(client exchange.Client, orderTimeout time.Duration) *KillSwitch {
	if orderTimeout <= 0 {
		orderTimeout = 10 * time.Second
	}
	return &KillSwitch{
		client:       client,
		orderTimeout: orderTimeout,
		log:          utils.L().WithComponent("killswitch"),
	}
}

type closeOutcome struct {
	pos   models.Position
	order *models.OrderResult
	err   error
}

// FlattenAllPositions выставляет по каждой открытой позиции reduce-only ордер
// противоположной стороны на |amount|. Символы обрабатываются параллельно и
// независимо, неудачный ордер не повторяется: к моменту повтора цена и объём
// могут устареть. Ошибка возвращается только если не удалось получить позиции.
func (k *KillSwitch) FlattenAllPositions(ctx context.Context, creds models.Credentials) (*FlattenResult, error) {
	positions, err := k.client.GetOpenPositions(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("get open positions: %w", err)
	}

	var open []models.Position
	for _, p := range positions {
		if p.IsOpen() {
			open = append(open, p)
		}
	}

	outcomes := make([]closeOutcome, len(open))
	var wg sync.WaitGroup
	for i, pos := range open {
		wg.Add(1)
		go func(i int, pos models.Position) {
			defer wg.Done()
			outcomes[i] = k.closePosition(ctx, creds, pos)
		}(i, pos)
	}
	wg.Wait()

	result := &FlattenResult{Closed: []ClosedPosition{}, Errors: []CloseError{}}
	for _, o := range outcomes {
		side := o.pos.CloseSide()
		qty := o.pos.CloseQuantity()

		if o.err != nil {
			KillSwitchOrders.WithLabelValues("failed").Inc()
			k.log.Error("kill-switch close failed",
				utils.Symbol(o.pos.Symbol),
				utils.Side(side),
				utils.Err(o.err),
			)
			result.Errors = append(result.Errors, CloseError{
				Symbol:   o.pos.Symbol,
				Side:     side,
				Quantity: qty,
				Error:    o.err.Error(),
			})
			continue
		}

		KillSwitchOrders.WithLabelValues("closed").Inc()
		k.log.Info("kill-switch position closed",
			utils.Symbol(o.pos.Symbol),
			utils.Side(side),
			utils.OrderID(o.order.OrderID),
		)
		result.Closed = append(result.Closed, ClosedPosition{
			Symbol:   o.pos.Symbol,
			Side:     side,
			Quantity: qty,
			OrderID:  o.order.OrderID,
			Status:   o.order.Status,
		})
	}
	return result, nil
}

func (k *KillSwitch) closePosition(ctx context.Context, creds models.Credentials, pos models.Position) (out closeOutcome) {
	out.pos = pos
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("panic: %v", r)
		}
	}()

	orderCtx, cancel := context.WithTimeout(ctx, k.orderTimeout)
	defer cancel()

	out.order, out.err = k.client.PlaceMarketOrder(orderCtx, creds, exchange.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.CloseSide(),
		Quantity:   pos.CloseQuantity(),
		ReduceOnly: true,
	})
	if out.err == nil && out.order == nil {
		out.err = fmt.Errorf("empty order response")
	}
	return out
}
