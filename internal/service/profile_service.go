package service

import (
	"context"
	"fmt"
	"time"

	"riskwatch/internal/models"

	"github.com/shopspring/decimal"
)

// ValidationError - недопустимое значение настройки. Ничего не сохраняется.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ProfileService предоставляет бизнес-логику для риск-профилей.
//
// Отвечает за:
// - Получение профиля (новый пользователь получает профиль по умолчанию)
// - Частичное обновление с валидацией всех полей до сохранения
// - Уведомление администратора об изменении порогов и флагов
type ProfileService struct {
	repo  ProfileRepositoryInterface
	admin *AdminDispatcher
	now   func() time.Time
}

// NewProfileService создает новый экземпляр ProfileService.
// admin может быть nil.
func NewProfileService(repo ProfileRepositoryInterface, admin *AdminDispatcher) *ProfileService {
	return &ProfileService{repo: repo, admin: admin, now: time.Now}
}

// GetProfile возвращает риск-профиль пользователя
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*models.RiskProfile, error) {
	return s.repo.Get(ctx, userID)
}

// UpdateProfileRequest представляет запрос на обновление профиля.
// Все поля опциональны - обновляются только переданные.
type UpdateProfileRequest struct {
	InitialBalance       *decimal.Decimal  `json:"initial_balance,omitempty"`
	LossThresholdPercent *decimal.Decimal  `json:"loss_threshold_percent,omitempty"`
	GainThresholdPercent *decimal.Decimal  `json:"gain_threshold_percent,omitempty"`
	LossEnabled          *bool             `json:"loss_enabled,omitempty"`
	GainEnabled          *bool             `json:"gain_enabled,omitempty"`
	SirenType            *models.SirenType `json:"siren_type,omitempty"`
	AutoFlatten          *bool             `json:"auto_flatten,omitempty"`
}

// UpdateProfile применяет запрос к текущему профилю.
//
// Правила валидации:
// - initial_balance: > 0
// - loss/gain_threshold_percent: в диапазоне [1, 50]
// - siren_type: одна из известных сирен
//
// При любой ошибке валидации профиль не меняется. Изменение порогов
// или флагов включения уходит администратору асинхронно.
func (s *ProfileService) UpdateProfile(ctx context.Context, userID string, req *UpdateProfileRequest) (*models.RiskProfile, error) {
	if err := validateProfileRequest(req); err != nil {
		return nil, err
	}

	current, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	updated := *current
	if req.InitialBalance != nil {
		updated.InitialBalance = *req.InitialBalance
	}
	if req.LossThresholdPercent != nil {
		updated.LossThresholdPercent = *req.LossThresholdPercent
	}
	if req.GainThresholdPercent != nil {
		updated.GainThresholdPercent = *req.GainThresholdPercent
	}
	if req.LossEnabled != nil {
		updated.LossEnabled = *req.LossEnabled
	}
	if req.GainEnabled != nil {
		updated.GainEnabled = *req.GainEnabled
	}
	if req.SirenType != nil {
		updated.SirenType = *req.SirenType
	}
	if req.AutoFlatten != nil {
		updated.AutoFlatten = *req.AutoFlatten
	}
	updated.UpdatedAt = s.now()

	if err := s.repo.Upsert(ctx, &updated); err != nil {
		return nil, err
	}

	if changed := riskFieldsChanged(current, &updated); len(changed) > 0 {
		s.admin.Submit(AdminEvent{
			Type:    AdminEventRiskSettingsChanged,
			UserID:  userID,
			Changed: changed,
			Details: map[string]interface{}{
				"loss_threshold_percent": updated.LossThresholdPercent.String(),
				"gain_threshold_percent": updated.GainThresholdPercent.String(),
				"loss_enabled":           updated.LossEnabled,
				"gain_enabled":           updated.GainEnabled,
			},
		})
	}

	return &updated, nil
}

// validateProfileRequest проверяет все переданные поля до любых изменений
func validateProfileRequest(req *UpdateProfileRequest) error {
	if req == nil {
		return &ValidationError{Field: "body", Message: "empty request"}
	}
	if req.InitialBalance != nil && !req.InitialBalance.IsPositive() {
		return &ValidationError{Field: "initial_balance", Message: "must be greater than 0"}
	}
	if req.LossThresholdPercent != nil {
		if err := validateThreshold("loss_threshold_percent", *req.LossThresholdPercent); err != nil {
			return err
		}
	}
	if req.GainThresholdPercent != nil {
		if err := validateThreshold("gain_threshold_percent", *req.GainThresholdPercent); err != nil {
			return err
		}
	}
	if req.SirenType != nil && !req.SirenType.Valid() {
		return &ValidationError{Field: "siren_type", Message: fmt.Sprintf("unknown siren %q", *req.SirenType)}
	}
	return nil
}

func validateThreshold(field string, v decimal.Decimal) error {
	if v.LessThan(models.MinThresholdPercent) || v.GreaterThan(models.MaxThresholdPercent) {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %s and %s", models.MinThresholdPercent, models.MaxThresholdPercent),
		}
	}
	return nil
}

// riskFieldsChanged - изменённые пороги и флаги включения
func riskFieldsChanged(before, after *models.RiskProfile) []string {
	var changed []string
	if !before.LossThresholdPercent.Equal(after.LossThresholdPercent) {
		changed = append(changed, "loss_threshold_percent")
	}
	if !before.GainThresholdPercent.Equal(after.GainThresholdPercent) {
		changed = append(changed, "gain_threshold_percent")
	}
	if before.LossEnabled != after.LossEnabled {
		changed = append(changed, "loss_enabled")
	}
	if before.GainEnabled != after.GainEnabled {
		changed = append(changed, "gain_enabled")
	}
	return changed
}
