package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"riskwatch/internal/alarm"
	"riskwatch/internal/models"
	"riskwatch/internal/monitor"
	"riskwatch/internal/repository"
	"riskwatch/internal/service"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// ErrMockDatabase - имитация ошибки БД
var ErrMockDatabase = errors.New("mock database error")

// withVars подставляет переменные пути, как это делает mux.Router
func withVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

// ============ Mock Profile Service ============

type MockProfileService struct {
	profiles  map[string]*models.RiskProfile
	getErr    error
	updateErr error
	lastReq   *service.UpdateProfileRequest
	mu        sync.Mutex
}

func NewMockProfileService() *MockProfileService {
	return &MockProfileService{profiles: make(map[string]*models.RiskProfile)}
}

func (m *MockProfileService) GetProfile(_ context.Context, userID string) (*models.RiskProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	return p, nil
}

func (m *MockProfileService) UpdateProfile(_ context.Context, userID string, req *service.UpdateProfileRequest) (*models.RiskProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReq = req
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	p, ok := m.profiles[userID]
	if !ok {
		def := models.DefaultRiskProfile(userID)
		p = &def
		m.profiles[userID] = p
	}
	if req.LossThresholdPercent != nil {
		p.LossThresholdPercent = *req.LossThresholdPercent
	}
	if req.GainThresholdPercent != nil {
		p.GainThresholdPercent = *req.GainThresholdPercent
	}
	if req.InitialBalance != nil {
		p.InitialBalance = *req.InitialBalance
	}
	return p, nil
}

// ============ Mock Account Service ============

type MockAccountService struct {
	accounts map[string]*models.ExchangeAccount
	setErr   error
	lastKeys [2]string
	mu       sync.Mutex
}

func NewMockAccountService() *MockAccountService {
	return &MockAccountService{accounts: make(map[string]*models.ExchangeAccount)}
}

func (m *MockAccountService) SetCredentials(_ context.Context, userID, apiKey, secretKey string) (*models.ExchangeAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastKeys = [2]string{apiKey, secretKey}
	if m.setErr != nil {
		return nil, m.setErr
	}
	acc := &models.ExchangeAccount{
		UserID:       userID,
		APIKeyEnc:    "enc:" + apiKey,
		SecretKeyEnc: "enc:" + secretKey,
		Active:       true,
		UpdatedAt:    time.Now(),
	}
	m.accounts[userID] = acc
	return acc, nil
}

func (m *MockAccountService) GetAccount(_ context.Context, userID string) (*models.ExchangeAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return acc, nil
}

func (m *MockAccountService) Credentials(_ context.Context, userID string) (models.Credentials, error) {
	return models.Credentials{}, service.ErrCredentialsUnreadable
}

func (m *MockAccountService) DeleteAccount(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[userID]; !ok {
		return repository.ErrAccountNotFound
	}
	delete(m.accounts, userID)
	return nil
}

// ============ Mock Alert Service ============

type MockAlertService struct {
	alerts   []*models.AlertRecord
	listErr  error
	stopErr  error
	testErr  error
	cleared  []string
	lastList struct {
		limit     int
		unackOnly bool
	}
	nextID int64
	mu     sync.Mutex
}

func NewMockAlertService() *MockAlertService {
	return &MockAlertService{nextID: 1}
}

func (m *MockAlertService) add(userID string, t models.AlertType) *models.AlertRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := &models.AlertRecord{
		ID:               m.nextID,
		UserID:           userID,
		Type:             t,
		PercentAtTrigger: decimal.NewFromInt(10),
		Day:              time.Now().UTC().Truncate(24 * time.Hour),
		CreatedAt:        time.Now(),
	}
	m.nextID++
	m.alerts = append(m.alerts, rec)
	return rec
}

func (m *MockAlertService) ListAlerts(_ context.Context, userID string, limit int, unackOnly bool) ([]*models.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastList.limit = limit
	m.lastList.unackOnly = unackOnly
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.AlertRecord
	for _, a := range m.alerts {
		if a.UserID != userID || (unackOnly && a.Acknowledged) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *MockAlertService) Acknowledge(_ context.Context, id int64) (*models.AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			if !a.Acknowledged {
				now := time.Now()
				a.Acknowledged = true
				a.AcknowledgedAt = &now
			}
			return a, nil
		}
	}
	return nil, repository.ErrAlertNotFound
}

func (m *MockAlertService) StopAlarm(_ context.Context, userID string) (*service.StopAlarmResult, error) {
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	return &service.StopAlarmResult{
		Acknowledged: 2,
		Stopped:      true,
		Alarm:        alarm.Status{UserID: userID, State: alarm.StateIdle},
	}, nil
}

func (m *MockAlertService) AlarmStatus(userID string) alarm.Status {
	return alarm.Status{UserID: userID, State: alarm.StatePlaying, AlertType: models.AlertEmergency, Audible: true}
}

func (m *MockAlertService) SendTestAlert(_ context.Context, userID string, t models.AlertType) (*models.AlertRecord, error) {
	if m.testErr != nil {
		return nil, m.testErr
	}
	if !t.Valid() {
		return nil, &service.ValidationError{Field: "type", Message: "unknown alert type"}
	}
	rec := m.add(userID, t)
	rec.IsTest = true
	return rec, nil
}

func (m *MockAlertService) ClearTestAlerts(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, userID)
	return 3, nil
}

// ============ Mock Notification Service ============

type MockNotificationService struct {
	items     []*models.Notification
	listErr   error
	lastLimit int
	marked    []int64
	mu        sync.Mutex
}

func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{}
}

func (m *MockNotificationService) AddNotification(userID, title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, &models.Notification{
		ID:        int64(len(m.items) + 1),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now(),
	})
}

func (m *MockNotificationService) Publish(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, n)
	return nil
}

func (m *MockNotificationService) PublishOnce(ctx context.Context, n *models.Notification, _ time.Duration) (bool, error) {
	return true, m.Publish(ctx, n)
}

func (m *MockNotificationService) List(_ context.Context, userID string, limit int, unreadOnly bool) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.Notification
	for _, n := range m.items {
		if n.UserID == userID && !(unreadOnly && n.Read) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *MockNotificationService) MarkRead(_ context.Context, userID string, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = ids
	var n int64
	for _, item := range m.items {
		if item.UserID != userID || item.Read {
			continue
		}
		if len(ids) == 0 || containsID(ids, item.ID) {
			item.Read = true
			n++
		}
	}
	return n, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ============ Mock Monitor ============

type MockMonitor struct {
	statuses   map[string]monitor.PollerStatus
	flattenErr error
	flattened  []string
	mu         sync.Mutex
}

func NewMockMonitor() *MockMonitor {
	return &MockMonitor{statuses: make(map[string]monitor.PollerStatus)}
}

func (m *MockMonitor) Status(userID string) (monitor.PollerStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[userID]
	return st, ok
}

func (m *MockMonitor) Flatten(_ context.Context, userID string) (*monitor.FlattenResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flattened = append(m.flattened, userID)
	if m.flattenErr != nil {
		return nil, m.flattenErr
	}
	return &monitor.FlattenResult{
		Closed: []monitor.ClosedPosition{{Symbol: "BTCUSDT", Side: "SELL", Quantity: decimal.NewFromFloat(0.5), OrderID: "1", Status: "FILLED"}},
		Errors: []monitor.CloseError{{Symbol: "ETHUSDT", Side: "BUY", Quantity: decimal.NewFromInt(2), Error: "insufficient margin"}},
	}, nil
}

// ============ Mock Reconciler ============

type MockReconciler struct {
	last monitor.Progress
	runs chan struct{}
}

func NewMockReconciler() *MockReconciler {
	return &MockReconciler{runs: make(chan struct{}, 4)}
}

func (m *MockReconciler) Run(_ context.Context) (monitor.Progress, error) {
	m.runs <- struct{}{}
	return m.last, nil
}

func (m *MockReconciler) Last() monitor.Progress { return m.last }
