package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"riskwatch/internal/exchange"
	"riskwatch/internal/models"
	"riskwatch/pkg/utils"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ============ Биржа ============

type fakeClient struct {
	mu        sync.Mutex
	snapshots []*models.AccountSnapshot // выдаются по очереди, последний повторяется
	snapErr   error
	positions []models.Position
	orderErr  map[string]error // по символу
	orders    []exchange.OrderRequest
	pnlErr    map[string]error // по дню 2006-01-02
	pnlCalls  int
	fetches   int
}

func (c *fakeClient) FetchAccountSnapshot(_ context.Context, _ models.Credentials) (*models.AccountSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++
	if c.snapErr != nil {
		return nil, c.snapErr
	}
	if len(c.snapshots) == 0 {
		return nil, errors.New("no snapshot")
	}
	snap := *c.snapshots[0]
	if len(c.snapshots) > 1 {
		c.snapshots = c.snapshots[1:]
	}
	return &snap, nil
}

func (c *fakeClient) GetOpenPositions(_ context.Context, _ models.Credentials) ([]models.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Position(nil), c.positions...), nil
}

func (c *fakeClient) PlaceMarketOrder(_ context.Context, _ models.Credentials, req exchange.OrderRequest) (*models.OrderResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, req)
	if err := c.orderErr[req.Symbol]; err != nil {
		return nil, err
	}
	return &models.OrderResult{
		OrderID:  "ord-" + req.Symbol,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Status:   "FILLED",
	}, nil
}

func (c *fakeClient) FetchDailyPnL(_ context.Context, _ models.Credentials, market string, day time.Time) (*models.DailyPnL, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pnlCalls++
	if err := c.pnlErr[day.Format("2006-01-02")]; err != nil {
		return nil, err
	}
	return &models.DailyPnL{Market: market, Day: day, RealizedPnL: d("10")}, nil
}

func (c *fakeClient) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}

func (c *fakeClient) setSnapshots(balances ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapErr = nil
	c.snapshots = nil
	for _, b := range balances {
		c.snapshots = append(c.snapshots, &models.AccountSnapshot{TotalBalance: d(b)})
	}
}

// ============ Хранилища ============

type fakeProfiles struct {
	profile models.RiskProfile
}

func (f *fakeProfiles) Get(_ context.Context, userID string) (*models.RiskProfile, error) {
	p := f.profile
	p.UserID = userID
	return &p, nil
}

type alertKey struct {
	user string
	typ  models.AlertType
	day  string
}

// fakeAlerts повторяет уникальный ключ (user, type, day)
type fakeAlerts struct {
	mu      sync.Mutex
	records map[alertKey]*models.AlertRecord
	nextID  int64
	err     error

	// hold задерживает первый вызов RecordIfAbsent до закрытия канала,
	// held закрывается, когда вызов начал ждать
	hold chan struct{}
	held chan struct{}
}

func newFakeAlerts() *fakeAlerts {
	return &fakeAlerts{records: make(map[alertKey]*models.AlertRecord)}
}

func (f *fakeAlerts) RecordIfAbsent(_ context.Context, userID string, t models.AlertType, day time.Time, percent decimal.Decimal) (bool, *models.AlertRecord, error) {
	f.mu.Lock()
	hold, held := f.hold, f.held
	f.hold = nil
	f.mu.Unlock()
	if hold != nil {
		close(held)
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, nil, f.err
	}
	key := alertKey{userID, t, utils.GetDayStartFrom(day).Format("2006-01-02")}
	if rec, ok := f.records[key]; ok {
		return false, rec, nil
	}
	f.nextID++
	rec := &models.AlertRecord{ID: f.nextID, UserID: userID, Type: t, PercentAtTrigger: percent, Day: utils.GetDayStartFrom(day)}
	f.records[key] = rec
	return true, rec, nil
}

func (f *fakeAlerts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type statusCall struct {
	userID    string
	active    bool
	lastError string
}

type fakeAccounts struct {
	mu       sync.Mutex
	active   []string
	statuses []statusCall
}

func (f *fakeAccounts) ListActive(_ context.Context) ([]*models.ExchangeAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ExchangeAccount
	for _, id := range f.active {
		out = append(out, &models.ExchangeAccount{UserID: id, Active: true})
	}
	return out, nil
}

func (f *fakeAccounts) SetStatus(_ context.Context, userID string, active bool, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusCall{userID, active, lastError})
	return nil
}

type fakeCreds struct {
	mu    sync.Mutex
	err   map[string]error
	calls int
}

func (f *fakeCreds) Credentials(_ context.Context, userID string) (models.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.err[userID]; err != nil {
		return models.Credentials{}, err
	}
	return models.Credentials{APIKey: "key-" + userID, SecretKey: "secret"}, nil
}

type fakeDaily struct {
	mu       sync.Mutex
	existing map[string]bool // user|market|day
	upserts  []*models.DailyPnL
}

func (f *fakeDaily) MissingDays(_ context.Context, userID, market string, days []time.Time) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var missing []time.Time
	for _, day := range days {
		if !f.existing[userID+"|"+market+"|"+day.Format("2006-01-02")] {
			missing = append(missing, day)
		}
	}
	return missing, nil
}

func (f *fakeDaily) Upsert(_ context.Context, p *models.DailyPnL) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, p)
	return nil
}

type fakeSubs struct {
	subs []*models.Subscription
}

func (f *fakeSubs) ListExpiringBefore(_ context.Context, before time.Time) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for _, s := range f.subs {
		if s.ExpiresAt.Before(before) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ============ Уведомления и сирена ============

type fakeNotifier struct {
	mu        sync.Mutex
	published []*models.Notification
	now       func() time.Time
}

func (f *fakeNotifier) Publish(_ context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n.CreatedAt.IsZero() && f.now != nil {
		n.CreatedAt = f.now()
	}
	f.published = append(f.published, n)
	return nil
}

func (f *fakeNotifier) PublishOnce(ctx context.Context, n *models.Notification, window time.Duration) (bool, error) {
	f.mu.Lock()
	now := time.Now()
	if f.now != nil {
		now = f.now()
	}
	for _, p := range f.published {
		if p.UserID == n.UserID && p.Title == n.Title && p.CreatedAt.After(now.Add(-window)) {
			f.mu.Unlock()
			return false, nil
		}
	}
	f.mu.Unlock()
	n.CreatedAt = now
	return true, f.Publish(ctx, n)
}

func (f *fakeNotifier) byType(t string) []*models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Notification
	for _, n := range f.published {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type alarmCall struct {
	userID string
	types  []models.AlertType
	siren  models.SirenType
}

type fakeAlarm struct {
	mu       sync.Mutex
	triggers []alarmCall
	clears   []alarmCall
	playing  map[string]models.AlertType
}

func (f *fakeAlarm) Trigger(userID string, t models.AlertType, siren models.SirenType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, alarmCall{userID: userID, types: []models.AlertType{t}, siren: siren})
	if f.playing == nil {
		f.playing = make(map[string]models.AlertType)
	}
	f.playing[userID] = t
	return true
}

func (f *fakeAlarm) Clear(userID string, types ...models.AlertType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears = append(f.clears, alarmCall{userID: userID, types: types})
	current, ok := f.playing[userID]
	if !ok {
		return false
	}
	for _, t := range types {
		if t == current {
			delete(f.playing, userID)
			return true
		}
	}
	return false
}

// active возвращает звучащий тип сирены пользователя
func (f *fakeAlarm) active(userID string) (models.AlertType, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.playing[userID]
	return t, ok
}

func (f *fakeAlarm) triggerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}
