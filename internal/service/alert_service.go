package service

import (
	"context"
	"fmt"

	"riskwatch/internal/alarm"
	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

// StopAlarmResult - итог остановки сирены
type StopAlarmResult struct {
	Acknowledged int64        `json:"acknowledged"`
	Stopped      bool         `json:"stopped"`
	Alarm        alarm.Status `json:"alarm"`
}

// AlertService - подтверждение алертов и управление сиреной.
//
// Сирена играет, пока пользователь явно её не остановит: StopAlarm
// подтверждает все алерты и глушит звук.
type AlertService struct {
	alerts   AlertRepositoryInterface
	profiles ProfileRepositoryInterface
	alarm    AlarmControl
	log      *utils.Logger
}

// NewAlertService создает новый экземпляр AlertService
func NewAlertService(alerts AlertRepositoryInterface, profiles ProfileRepositoryInterface, alarmCtl AlarmControl) *AlertService {
	return &AlertService{
		alerts:   alerts,
		profiles: profiles,
		alarm:    alarmCtl,
		log:      utils.L().WithComponent("alerts"),
	}
}

// ListAlerts возвращает алерты пользователя
func (s *AlertService) ListAlerts(ctx context.Context, userID string, limit int, unacknowledgedOnly bool) ([]*models.AlertRecord, error) {
	if unacknowledgedOnly {
		return s.alerts.ListUnacknowledged(ctx, userID)
	}
	return s.alerts.ListByUser(ctx, userID, limit)
}

// Acknowledge подтверждает алерт. Повторное подтверждение - не ошибка.
// Сирена этого типа снимается.
func (s *AlertService) Acknowledge(ctx context.Context, id int64) (*models.AlertRecord, error) {
	rec, err := s.alerts.Acknowledge(ctx, id)
	if err != nil {
		return nil, err
	}
	s.alarm.Clear(rec.UserID, rec.Type)
	return rec, nil
}

// StopAlarm подтверждает все алерты пользователя и глушит сирену
func (s *AlertService) StopAlarm(ctx context.Context, userID string) (*StopAlarmResult, error) {
	// Звук глушим в любом случае: пользователь нажал "стоп"
	stopped := s.alarm.Stop(userID)

	acked, err := s.alerts.AcknowledgeAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.log.Info("alarm stopped by user",
		utils.UserID(userID),
		utils.Int64("acknowledged", acked),
		utils.Bool("was_active", stopped),
	)
	return &StopAlarmResult{
		Acknowledged: acked,
		Stopped:      stopped,
		Alarm:        s.alarm.Status(userID),
	}, nil
}

// AlarmStatus - текущее состояние сирены пользователя
func (s *AlertService) AlarmStatus(userID string) alarm.Status {
	return s.alarm.Status(userID)
}

// SendTestAlert создаёт тестовый алерт (без дедупликации) и включает сирену
// пользователя его типом. Используется из админки для проверки звука.
func (s *AlertService) SendTestAlert(ctx context.Context, userID string, alertType models.AlertType) (*models.AlertRecord, error) {
	if !alertType.Valid() {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown alert type %q", alertType)}
	}

	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	percent := profile.LossThresholdPercent
	if alertType == models.AlertGain {
		percent = profile.GainThresholdPercent
	}

	rec, err := s.alerts.InsertTest(ctx, userID, alertType, percent)
	if err != nil {
		return nil, err
	}

	s.alarm.Trigger(userID, alertType, profile.SirenType)
	s.log.Info("test alert sent", utils.UserID(userID), utils.AlertType(string(alertType)))
	return rec, nil
}

// ClearTestAlerts удаляет тестовые алерты. Пустой userID - у всех пользователей.
func (s *AlertService) ClearTestAlerts(ctx context.Context, userID string) (int64, error) {
	deleted, err := s.alerts.ClearTest(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.log.Info("test alerts cleared", utils.UserID(userID), utils.Int64("deleted", deleted))
	return deleted, nil
}
