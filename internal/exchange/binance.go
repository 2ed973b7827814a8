package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"riskwatch/internal/models"
	"riskwatch/pkg/ratelimit"
	"riskwatch/pkg/retry"
	"riskwatch/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultFuturesURL  = "https://fapi.binance.com"
	defaultDeliveryURL = "https://dapi.binance.com"

	defaultRecvWindow = 5000
	incomePageLimit   = 1000

	// пауза, если биржа не прислала Retry-After
	defaultRateLimitPause = 30 * time.Second
	defaultBanPause       = 2 * time.Minute

	defaultRealizedRefresh = time.Minute
)

// Типы записей истории доходов, входящие в дневной PnL
const (
	incomeRealizedPnL = "REALIZED_PNL"
	incomeCommission  = "COMMISSION"
	incomeFunding     = "FUNDING_FEE"
)

// BinanceConfig - настройки клиента
type BinanceConfig struct {
	FuturesURL  string // USDT-M, по умолчанию fapi.binance.com
	DeliveryURL string // COIN-M, по умолчанию dapi.binance.com
	RecvWindow  int64  // мс

	// RequestsPerSecond / Burst - локальный бюджет запросов на весь процесс
	RequestsPerSecond float64
	Burst             float64

	// RealizedRefresh - как часто снапшот перезапрашивает историю доходов за сегодня
	RealizedRefresh time.Duration

	Retry retry.Config
}

// DefaultBinanceConfig возвращает боевые адреса и умеренный бюджет запросов
func DefaultBinanceConfig() BinanceConfig {
	return BinanceConfig{
		FuturesURL:        defaultFuturesURL,
		DeliveryURL:       defaultDeliveryURL,
		RecvWindow:        defaultRecvWindow,
		RequestsPerSecond: 10,
		Burst:             20,
		RealizedRefresh:   defaultRealizedRefresh,
		Retry:             retry.ExchangeConfig(),
	}
}

// Binance - клиент фьючерсного API Binance (USDT-M и COIN-M)
type Binance struct {
	httpClient *http.Client
	cfg        BinanceConfig
	limiter    *ratelimit.RateLimiter
	log        *utils.Logger
	now        func() time.Time

	realizedMu sync.Mutex
	realized   map[string]realizedEntry // по API key
}

// realizedEntry - последний известный реализованный PnL за день UTC
type realizedEntry struct {
	day       time.Time
	value     decimal.Decimal
	checkedAt time.Time
}

// NewBinance создаёт клиент. httpClient = nil - используется NewHTTPClient по умолчанию.
func NewBinance(httpClient *http.Client, cfg BinanceConfig) *Binance {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPClientConfig())
	}
	if cfg.FuturesURL == "" {
		cfg.FuturesURL = defaultFuturesURL
	}
	if cfg.DeliveryURL == "" {
		cfg.DeliveryURL = defaultDeliveryURL
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = defaultRecvWindow
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.ExchangeConfig()
	}
	if cfg.RealizedRefresh <= 0 {
		cfg.RealizedRefresh = defaultRealizedRefresh
	}

	return &Binance{
		httpClient: httpClient,
		cfg:        cfg,
		limiter:    ratelimit.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		log:        utils.L().WithComponent("binance"),
		now:        time.Now,
		realized:   make(map[string]realizedEntry),
	}
}

// ============ Подпись и транспорт ============

// sign возвращает hex(HMAC-SHA256(secret, payload))
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// doSigned выполняет одну подписанную попытку. Timestamp берётся заново
// на каждую попытку, иначе повтор после -1021 снова выйдет за recvWindow.
func (b *Binance) doSigned(ctx context.Context, creds models.Credentials, method, baseURL, path string, params url.Values, out interface{}) error {
	if creds.Empty() {
		return &AuthError{Message: "credentials are not configured"}
	}

	if paused := b.limiter.PausedFor(); paused > 0 {
		return &RateLimitError{Status: http.StatusTooManyRequests, RetryAfter: paused, Message: "local pause after exchange rate limit"}
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
	q.Set("recvWindow", strconv.FormatInt(b.cfg.RecvWindow, 10))

	payload := q.Encode()
	signed := payload + "&signature=" + sign(creds.SecretKey, payload)

	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		req, err = http.NewRequestWithContext(ctx, method, baseURL+path+"?"+signed, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, baseURL+path, strings.NewReader(signed))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", creds.APIKey)

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	b.log.Debug("binance request",
		utils.String("method", method),
		utils.String("path", path),
		utils.Int("status", resp.StatusCode),
		utils.Latency(float64(time.Since(start).Microseconds())/1000),
	)

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorBody
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(body))
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), resp.StatusCode)
		classified := classifyResponse(resp.StatusCode, apiErr.Code, apiErr.Msg, retryAfter)
		if rl, ok := AsRateLimit(classified); ok {
			b.limiter.PauseUntil(time.Now().Add(rl.RetryAfter))
			b.log.Warn("binance rate limit hit, pausing requests",
				utils.Int("status", resp.StatusCode),
				utils.RetryAfter(rl.RetryAfter),
			)
		}
		return classified
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Status: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}

// getWithRetry - чтение с повторами на TransientError
func (b *Binance) getWithRetry(ctx context.Context, creds models.Credentials, baseURL, path string, params url.Values, out interface{}) error {
	return b.get(ctx, b.cfg.Retry, creds, baseURL, path, params, out)
}

func (b *Binance) get(ctx context.Context, cfg retry.Config, creds models.Credentials, baseURL, path string, params url.Values, out interface{}) error {
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		b.log.Warn("retrying binance request",
			utils.String("path", path),
			utils.Attempt(attempt),
			utils.Err(err),
			utils.Elapsed(delay),
		)
	}
	return retry.Do(ctx, func(ctx context.Context) error {
		return b.doSigned(ctx, creds, http.MethodGet, baseURL, path, params, out)
	}, cfg)
}

func parseRetryAfter(header string, status int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if status == http.StatusTeapot {
		return defaultBanPause
	}
	return defaultRateLimitPause
}

// ============ Аккаунт ============

type balanceRow struct {
	Asset            string          `json:"asset"`
	Balance          decimal.Decimal `json:"balance"`
	CrossUnPnl       decimal.Decimal `json:"crossUnPnl"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}

type positionRow struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	MarkPrice        decimal.Decimal `json:"markPrice"`
	UnRealizedProfit decimal.Decimal `json:"unRealizedProfit"`
	Leverage         string          `json:"leverage"`
	Notional         decimal.Decimal `json:"notional"`
}

func (b *Binance) fetchUSDTBalance(ctx context.Context, creds models.Credentials) (*balanceRow, error) {
	var rows []balanceRow
	if err := b.getWithRetry(ctx, creds, b.cfg.FuturesURL, "/fapi/v2/balance", nil, &rows); err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Asset == "USDT" {
			return &rows[i], nil
		}
	}
	// Пустой фьючерсный кошелёк - нулевой баланс, а не ошибка
	return &balanceRow{Asset: "USDT"}, nil
}

func (b *Binance) fetchPositions(ctx context.Context, creds models.Credentials, wallet decimal.Decimal) ([]models.Position, error) {
	var rows []positionRow
	if err := b.getWithRetry(ctx, creds, b.cfg.FuturesURL, "/fapi/v2/positionRisk", nil, &rows); err != nil {
		return nil, err
	}

	positions := make([]models.Position, 0, len(rows))
	for _, r := range rows {
		if r.PositionAmt.IsZero() {
			continue
		}
		leverage, _ := strconv.Atoi(r.Leverage)
		positions = append(positions, models.Position{
			Symbol:           r.Symbol,
			SignedAmount:     r.PositionAmt,
			EntryPrice:       r.EntryPrice,
			MarkPrice:        r.MarkPrice,
			UnrealizedProfit: r.UnRealizedProfit,
			Leverage:         leverage,
			MarginRatio:      marginRatio(r.Notional, leverage, wallet),
		})
	}
	return positions, nil
}

// marginRatio - начальная маржа позиции (|notional| / leverage) в % от кошелька
func marginRatio(notional decimal.Decimal, leverage int, wallet decimal.Decimal) decimal.Decimal {
	if leverage <= 0 || !wallet.IsPositive() {
		return decimal.Zero
	}
	margin := notional.Abs().Div(decimal.NewFromInt(int64(leverage)))
	return margin.Div(wallet).Mul(decimal.NewFromInt(100)).Round(4)
}

// GetOpenPositions возвращает позиции с ненулевым объёмом.
// Kill-switch нужны только объёмы: баланс не запрашивается, MarginRatio = 0.
func (b *Binance) GetOpenPositions(ctx context.Context, creds models.Credentials) ([]models.Position, error) {
	return b.fetchPositions(ctx, creds, decimal.Zero)
}

// FetchAccountSnapshot собирает баланс, позиции и реализованный PnL с начала дня UTC.
// Реализованный PnL берётся из кэша (см. realizedToday): его ошибка не срывает снапшот.
func (b *Binance) FetchAccountSnapshot(ctx context.Context, creds models.Credentials) (*models.AccountSnapshot, error) {
	bal, err := b.fetchUSDTBalance(ctx, creds)
	if err != nil {
		return nil, err
	}

	positions, err := b.fetchPositions(ctx, creds, bal.Balance)
	if err != nil {
		return nil, err
	}

	now := b.now().UTC()
	realized := b.realizedToday(ctx, creds, now)

	usedMargin := decimal.Zero
	for _, p := range positions {
		if p.Leverage > 0 {
			notional := p.SignedAmount.Abs().Mul(p.MarkPrice)
			usedMargin = usedMargin.Add(notional.Div(decimal.NewFromInt(int64(p.Leverage))))
		}
	}

	return &models.AccountSnapshot{
		TotalBalance:     bal.Balance,
		AvailableBalance: bal.AvailableBalance,
		UsedMargin:       usedMargin.Round(8),
		UnrealizedPnL:    bal.CrossUnPnl,
		RealizedPnLToday: realized,
		OpenPositions:    positions,
		FetchedAt:        now,
	}, nil
}

// realizedToday возвращает реализованный PnL за сегодня, обновляя его не чаще
// RealizedRefresh. История доходов тяжелее баланса по весу запроса, поэтому
// запрос идёт одной попыткой; при ошибке остаётся последнее значение за этот день.
func (b *Binance) realizedToday(ctx context.Context, creds models.Credentials, now time.Time) decimal.Decimal {
	day := utils.DayRange(now).Start

	b.realizedMu.Lock()
	entry, ok := b.realized[creds.APIKey]
	b.realizedMu.Unlock()

	if !ok || !entry.day.Equal(day) {
		entry = realizedEntry{day: day, value: decimal.Zero}
	} else if now.Sub(entry.checkedAt) < b.cfg.RealizedRefresh {
		return entry.value
	}

	pnl, err := b.fetchIncome(ctx, retry.Config{MaxAttempts: 1}, creds, models.MarketUSDTM, day)
	switch {
	case err == nil:
		entry.value = pnl.RealizedPnL
	case ctx.Err() != nil:
		return entry.value
	default:
		b.log.Warn("fetch realized pnl failed, using last known value",
			utils.Day(day),
			utils.Err(err),
		)
	}
	entry.checkedAt = now

	b.realizedMu.Lock()
	b.realized[creds.APIKey] = entry
	b.realizedMu.Unlock()
	return entry.value
}

// ============ Ордера ============

type orderResponse struct {
	OrderID     int64           `json:"orderId"`
	Symbol      string          `json:"symbol"`
	Status      string          `json:"status"`
	Side        string          `json:"side"`
	ExecutedQty decimal.Decimal `json:"executedQty"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
	UpdateTime  int64           `json:"updateTime"`
}

// PlaceMarketOrder размещает рыночный ордер на USDT-M.
// Повторов нет: при неизвестном исходе повтор может удвоить позицию.
func (b *Binance) PlaceMarketOrder(ctx context.Context, creds models.Credentials, req OrderRequest) (*models.OrderResult, error) {
	if req.Symbol == "" || !req.Quantity.IsPositive() {
		return nil, &APIError{Message: "invalid order: symbol and positive quantity required"}
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return nil, &APIError{Message: "invalid order side: " + req.Side}
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", "MARKET")
	params.Set("quantity", req.Quantity.String())
	params.Set("newOrderRespType", "RESULT")
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	var resp orderResponse
	if err := b.doSigned(ctx, creds, http.MethodPost, b.cfg.FuturesURL, "/fapi/v1/order", params, &resp); err != nil {
		return nil, err
	}

	qty := resp.ExecutedQty
	if qty.IsZero() {
		qty = req.Quantity
	}
	submitted := b.now().UTC()
	if resp.UpdateTime > 0 {
		submitted = utils.FromUnixMillis(resp.UpdateTime)
	}

	return &models.OrderResult{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Symbol:      resp.Symbol,
		Side:        resp.Side,
		Quantity:    qty,
		Status:      resp.Status,
		AvgPrice:    resp.AvgPrice,
		SubmittedAt: submitted,
	}, nil
}

// ============ История доходов ============

type incomeRow struct {
	Symbol     string          `json:"symbol"`
	IncomeType string          `json:"incomeType"`
	Income     decimal.Decimal `json:"income"`
	Asset      string          `json:"asset"`
	Time       int64           `json:"time"`
}

// FetchDailyPnL суммирует REALIZED_PNL, COMMISSION и FUNDING_FEE за день UTC.
// Страницы по 1000 записей запрашиваются, пока биржа отдаёт полные страницы.
func (b *Binance) FetchDailyPnL(ctx context.Context, creds models.Credentials, market string, day time.Time) (*models.DailyPnL, error) {
	return b.fetchIncome(ctx, b.cfg.Retry, creds, market, day)
}

func (b *Binance) fetchIncome(ctx context.Context, cfg retry.Config, creds models.Credentials, market string, day time.Time) (*models.DailyPnL, error) {
	var baseURL, path string
	switch market {
	case models.MarketUSDTM:
		baseURL, path = b.cfg.FuturesURL, "/fapi/v1/income"
	case models.MarketCoinM:
		baseURL, path = b.cfg.DeliveryURL, "/dapi/v1/income"
	default:
		return nil, &APIError{Message: "unknown market: " + market}
	}

	dayRange := utils.DayRange(day)
	result := &models.DailyPnL{
		Market:      market,
		Day:         dayRange.Start,
		RealizedPnL: decimal.Zero,
		Commission:  decimal.Zero,
		Funding:     decimal.Zero,
	}

	start := dayRange.Start.UnixMilli()
	end := dayRange.End.UnixMilli()
	for {
		params := url.Values{}
		params.Set("startTime", strconv.FormatInt(start, 10))
		params.Set("endTime", strconv.FormatInt(end, 10))
		params.Set("limit", strconv.Itoa(incomePageLimit))

		var rows []incomeRow
		if err := b.get(ctx, cfg, creds, baseURL, path, params, &rows); err != nil {
			return nil, err
		}

		last := start
		for _, r := range rows {
			switch r.IncomeType {
			case incomeRealizedPnL:
				result.RealizedPnL = result.RealizedPnL.Add(r.Income)
			case incomeCommission:
				result.Commission = result.Commission.Add(r.Income)
			case incomeFunding:
				result.Funding = result.Funding.Add(r.Income)
			}
			if r.Time > last {
				last = r.Time
			}
		}

		if len(rows) < incomePageLimit {
			break
		}
		start = last + 1
		if start > end {
			break
		}
	}

	result.SyncedAt = b.now().UTC()
	return result, nil
}

var _ Client = (*Binance)(nil)
