package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"riskwatch/internal/models"
)

// Ошибки репозитория профилей риска
var (
	ErrProfileNotFound = errors.New("risk profile not found")
)

// ProfileRepository - работа с таблицей risk_profiles
type ProfileRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewProfileRepository создает новый экземпляр репозитория
func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db, now: time.Now}
}

// Get возвращает профиль пользователя.
// Если записи нет, создаёт её с дефолтными значениями.
func (r *ProfileRepository) Get(ctx context.Context, userID string) (*models.RiskProfile, error) {
	query := `
		SELECT user_id, initial_balance, loss_threshold_pct, gain_threshold_pct,
		       loss_enabled, gain_enabled, siren_type, auto_flatten, updated_at
		FROM risk_profiles
		WHERE user_id = $1`

	p := &models.RiskProfile{}
	var siren string
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID,
		&p.InitialBalance,
		&p.LossThresholdPercent,
		&p.GainThresholdPercent,
		&p.LossEnabled,
		&p.GainEnabled,
		&siren,
		&p.AutoFlatten,
		&p.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.createDefault(ctx, userID)
		}
		return nil, err
	}

	p.SirenType = models.SirenType(siren)
	if !p.SirenType.Valid() {
		p.SirenType = models.SirenPolice
	}
	return p, nil
}

// Upsert сохраняет профиль целиком
func (r *ProfileRepository) Upsert(ctx context.Context, p *models.RiskProfile) error {
	p.UpdatedAt = r.now()

	query := `
		INSERT INTO risk_profiles (user_id, initial_balance, loss_threshold_pct, gain_threshold_pct,
		                           loss_enabled, gain_enabled, siren_type, auto_flatten, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			initial_balance = EXCLUDED.initial_balance,
			loss_threshold_pct = EXCLUDED.loss_threshold_pct,
			gain_threshold_pct = EXCLUDED.gain_threshold_pct,
			loss_enabled = EXCLUDED.loss_enabled,
			gain_enabled = EXCLUDED.gain_enabled,
			siren_type = EXCLUDED.siren_type,
			auto_flatten = EXCLUDED.auto_flatten,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		p.UserID,
		p.InitialBalance,
		p.LossThresholdPercent,
		p.GainThresholdPercent,
		p.LossEnabled,
		p.GainEnabled,
		string(p.SirenType),
		p.AutoFlatten,
		p.UpdatedAt,
	)
	return err
}

// Delete удаляет профиль
func (r *ProfileRepository) Delete(ctx context.Context, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM risk_profiles WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// createDefault создает профиль с дефолтными значениями
func (r *ProfileRepository) createDefault(ctx context.Context, userID string) (*models.RiskProfile, error) {
	p := models.DefaultRiskProfile(userID)
	p.UpdatedAt = r.now()

	query := `
		INSERT INTO risk_profiles (user_id, initial_balance, loss_threshold_pct, gain_threshold_pct,
		                           loss_enabled, gain_enabled, siren_type, auto_flatten, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		p.UserID,
		p.InitialBalance,
		p.LossThresholdPercent,
		p.GainThresholdPercent,
		p.LossEnabled,
		p.GainEnabled,
		string(p.SirenType),
		p.AutoFlatten,
		p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
