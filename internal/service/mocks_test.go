package service

import (
	"context"
	"sync"
	"time"

	"riskwatch/internal/alarm"
	"riskwatch/internal/exchange"
	"riskwatch/internal/models"
	"riskwatch/internal/repository"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// ============ Mock ProfileRepository ============

type MockProfileRepository struct {
	mu        sync.Mutex
	profiles  map[string]*models.RiskProfile
	getErr    error
	upsertErr error
	upserts   int
}

func NewMockProfileRepository() *MockProfileRepository {
	return &MockProfileRepository{profiles: make(map[string]*models.RiskProfile)}
}

func (m *MockProfileRepository) Get(ctx context.Context, userID string) (*models.RiskProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.profiles[userID]
	if !ok {
		def := models.DefaultRiskProfile(userID)
		p = &def
		m.profiles[userID] = p
	}
	cp := *p
	return &cp, nil
}

func (m *MockProfileRepository) Upsert(ctx context.Context, p *models.RiskProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	cp := *p
	m.profiles[p.UserID] = &cp
	m.upserts++
	return nil
}

// ============ Mock AlertRepository ============

type MockAlertRepository struct {
	mu      sync.Mutex
	records map[int64]*models.AlertRecord
	nextID  int64
	ackErr  error
	listErr error
}

func NewMockAlertRepository() *MockAlertRepository {
	return &MockAlertRepository{records: make(map[int64]*models.AlertRecord), nextID: 1}
}

func (m *MockAlertRepository) add(rec *models.AlertRecord) *models.AlertRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextID
	m.nextID++
	m.records[rec.ID] = rec
	return rec
}

func (m *MockAlertRepository) GetByID(ctx context.Context, id int64) (*models.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, repository.ErrAlertNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MockAlertRepository) Acknowledge(ctx context.Context, id int64) (*models.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ackErr != nil {
		return nil, m.ackErr
	}
	rec, ok := m.records[id]
	if !ok {
		return nil, repository.ErrAlertNotFound
	}
	if !rec.Acknowledged {
		now := time.Now()
		rec.Acknowledged = true
		rec.AcknowledgedAt = &now
	}
	cp := *rec
	return &cp, nil
}

func (m *MockAlertRepository) AcknowledgeAll(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ackErr != nil {
		return 0, m.ackErr
	}
	var n int64
	now := time.Now()
	for _, rec := range m.records {
		if rec.UserID == userID && !rec.Acknowledged {
			rec.Acknowledged = true
			rec.AcknowledgedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *MockAlertRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AlertRecord, error) {
	return m.list(func(r *models.AlertRecord) bool { return r.UserID == userID })
}

func (m *MockAlertRepository) ListUnacknowledged(ctx context.Context, userID string) ([]*models.AlertRecord, error) {
	return m.list(func(r *models.AlertRecord) bool { return r.UserID == userID && !r.Acknowledged })
}

func (m *MockAlertRepository) list(keep func(*models.AlertRecord) bool) ([]*models.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.AlertRecord
	for id := int64(1); id < m.nextID; id++ {
		if rec, ok := m.records[id]; ok && keep(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MockAlertRepository) InsertTest(ctx context.Context, userID string, alertType models.AlertType, percent decimal.Decimal) (*models.AlertRecord, error) {
	return m.add(&models.AlertRecord{
		UserID:           userID,
		Type:             alertType,
		PercentAtTrigger: percent,
		IsTest:           true,
		CreatedAt:        time.Now(),
	}), nil
}

func (m *MockAlertRepository) ClearTest(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if rec.IsTest && (userID == "" || rec.UserID == userID) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// ============ Mock AccountRepository ============

type MockAccountRepository struct {
	mu        sync.Mutex
	accounts  map[string]*models.ExchangeAccount
	upsertErr error
}

func NewMockAccountRepository() *MockAccountRepository {
	return &MockAccountRepository{accounts: make(map[string]*models.ExchangeAccount)}
}

func (m *MockAccountRepository) Upsert(ctx context.Context, acc *models.ExchangeAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	cp := *acc
	m.accounts[acc.UserID] = &cp
	return nil
}

func (m *MockAccountRepository) Get(ctx context.Context, userID string) (*models.ExchangeAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (m *MockAccountRepository) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[userID]; !ok {
		return repository.ErrAccountNotFound
	}
	delete(m.accounts, userID)
	return nil
}

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu        sync.Mutex
	items     []*models.Notification
	createErr error
	lastLimit int
}

func (m *MockNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = int64(len(m.items) + 1)
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.items = append(m.items, n)
	return nil
}

func (m *MockNotificationRepository) CreateIfNoRecentTitle(ctx context.Context, n *models.Notification, window time.Duration) (bool, error) {
	m.mu.Lock()
	if m.createErr != nil {
		m.mu.Unlock()
		return false, m.createErr
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	for _, prev := range m.items {
		if prev.UserID == n.UserID && prev.Title == n.Title && prev.CreatedAt.After(n.CreatedAt.Add(-window)) {
			m.mu.Unlock()
			return false, nil
		}
	}
	m.mu.Unlock()
	return true, m.Create(ctx, n)
}

func (m *MockNotificationRepository) ListByUser(ctx context.Context, userID string, limit int, unreadOnly bool) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	var out []*models.Notification
	for _, n := range m.items {
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) MarkRead(ctx context.Context, userID string, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for _, item := range m.items {
		if item.UserID == userID && !item.Read && (len(ids) == 0 || want[item.ID]) {
			item.Read = true
			n++
		}
	}
	return n, nil
}

func (m *MockNotificationRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	var n int64
	for _, item := range m.items {
		if item.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, item)
	}
	m.items = kept
	return n, nil
}

// ============ Mock AlarmControl ============

type alarmCall struct {
	op     string
	userID string
	types  []models.AlertType
	siren  models.SirenType
}

type MockAlarm struct {
	mu     sync.Mutex
	calls  []alarmCall
	active map[string]bool
}

func NewMockAlarm() *MockAlarm {
	return &MockAlarm{active: make(map[string]bool)}
}

func (m *MockAlarm) Trigger(userID string, alertType models.AlertType, siren models.SirenType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, alarmCall{op: "trigger", userID: userID, types: []models.AlertType{alertType}, siren: siren})
	m.active[userID] = true
	return true
}

func (m *MockAlarm) Stop(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, alarmCall{op: "stop", userID: userID})
	was := m.active[userID]
	m.active[userID] = false
	return was
}

func (m *MockAlarm) Clear(userID string, types ...models.AlertType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, alarmCall{op: "clear", userID: userID, types: types})
	return false
}

func (m *MockAlarm) Status(userID string) alarm.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := alarm.Status{UserID: userID, State: alarm.StateIdle}
	if m.active[userID] {
		st.State = alarm.StatePlaying
	}
	return st
}

func (m *MockAlarm) ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.op
	}
	return out
}

// ============ Mock PollerControl ============

type MockPollers struct {
	mu      sync.Mutex
	resumed []string
}

func (m *MockPollers) Resume(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumed = append(m.resumed, userID)
}

// ============ Mock exchange.Client ============

type MockExchangeClient struct {
	snapshotErr error
	seen        []models.Credentials
}

func (m *MockExchangeClient) FetchAccountSnapshot(ctx context.Context, creds models.Credentials) (*models.AccountSnapshot, error) {
	m.seen = append(m.seen, creds)
	if m.snapshotErr != nil {
		return nil, m.snapshotErr
	}
	return &models.AccountSnapshot{TotalBalance: decimal.NewFromInt(1000), FetchedAt: time.Now()}, nil
}

func (m *MockExchangeClient) GetOpenPositions(ctx context.Context, creds models.Credentials) ([]models.Position, error) {
	return nil, nil
}

func (m *MockExchangeClient) PlaceMarketOrder(ctx context.Context, creds models.Credentials, req exchange.OrderRequest) (*models.OrderResult, error) {
	return nil, nil
}

func (m *MockExchangeClient) FetchDailyPnL(ctx context.Context, creds models.Credentials, market string, day time.Time) (*models.DailyPnL, error) {
	return nil, nil
}

// ============ Mock AdminNotifier ============

type MockAdminNotifier struct {
	mu     sync.Mutex
	events []AdminEvent
	err    error
	block  chan struct{}
}

func (m *MockAdminNotifier) Notify(ctx context.Context, event AdminEvent) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func (m *MockAdminNotifier) Events() []AdminEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AdminEvent(nil), m.events...)
}

// ============ Mock kafka writer ============

type mockKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockKafkaWriter) Close() error {
	w.closed = true
	return nil
}
