package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"

	"github.com/shopspring/decimal"
)

// Ошибки репозитория алертов
var (
	ErrAlertNotFound = errors.New("alert not found")
)

const alertColumns = `id, user_id, type, percent_at_trigger, day, acknowledged, acknowledged_at, is_test, created_at`

// AlertRepository - работа с таблицей alert_records.
//
// Дедупликация держится на частичном уникальном индексе
// (user_id, type, day) WHERE NOT is_test, а не на блокировках в памяти:
// пуллеры разных процессов могут оценивать одного пользователя одновременно.
type AlertRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewAlertRepository создает новый экземпляр репозитория
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db, now: time.Now}
}

// RecordIfAbsent создаёт алерт, если за этот день UTC такого типа ещё не было.
// При конфликте возвращает существующую запись и created=false без ошибки.
func (r *AlertRepository) RecordIfAbsent(ctx context.Context, userID string, alertType models.AlertType, day time.Time, percent decimal.Decimal) (bool, *models.AlertRecord, error) {
	rec := &models.AlertRecord{
		UserID:           userID,
		Type:             alertType,
		PercentAtTrigger: percent,
		Day:              utils.GetDayStartFrom(day),
	}

	query := `
		INSERT INTO alert_records (user_id, type, percent_at_trigger, day, is_test, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		ON CONFLICT (user_id, type, day) WHERE NOT is_test DO NOTHING
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		rec.UserID,
		string(rec.Type),
		rec.PercentAtTrigger,
		rec.Day,
		r.now(),
	).Scan(&rec.ID, &rec.CreatedAt)

	if err == nil {
		return true, rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) && !isUniqueViolation(err) {
		return false, nil, err
	}

	// Конфликт: запись уже есть, читаем её
	existing, err := r.getByKey(ctx, rec.UserID, rec.Type, rec.Day)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *AlertRepository) getByKey(ctx context.Context, userID string, alertType models.AlertType, day time.Time) (*models.AlertRecord, error) {
	query := `SELECT ` + alertColumns + `
		FROM alert_records
		WHERE user_id = $1 AND type = $2 AND day = $3 AND NOT is_test`

	rec, err := scanAlert(r.db.QueryRowContext(ctx, query, userID, string(alertType), day))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	return rec, err
}

// GetByID возвращает алерт по ID
func (r *AlertRepository) GetByID(ctx context.Context, id int64) (*models.AlertRecord, error) {
	query := `SELECT ` + alertColumns + ` FROM alert_records WHERE id = $1`

	rec, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	return rec, err
}

// Acknowledge отмечает алерт подтверждённым. Повторный вызов ничего не меняет,
// время первого подтверждения сохраняется.
func (r *AlertRepository) Acknowledge(ctx context.Context, id int64) (*models.AlertRecord, error) {
	query := `
		UPDATE alert_records
		SET acknowledged = TRUE, acknowledged_at = COALESCE(acknowledged_at, $2)
		WHERE id = $1
		RETURNING ` + alertColumns

	rec, err := scanAlert(r.db.QueryRowContext(ctx, query, id, r.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	return rec, err
}

// AcknowledgeAll подтверждает все неподтверждённые алерты пользователя (остановка сирены)
func (r *AlertRepository) AcknowledgeAll(ctx context.Context, userID string) (int64, error) {
	query := `
		UPDATE alert_records
		SET acknowledged = TRUE, acknowledged_at = $2
		WHERE user_id = $1 AND NOT acknowledged`

	result, err := r.db.ExecContext(ctx, query, userID, r.now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListByUser возвращает последние алерты пользователя
func (r *AlertRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + alertColumns + `
		FROM alert_records
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	return r.queryAlerts(ctx, query, userID, limit)
}

// ListUnacknowledged возвращает неподтверждённые алерты пользователя
func (r *AlertRepository) ListUnacknowledged(ctx context.Context, userID string) ([]*models.AlertRecord, error) {
	query := `SELECT ` + alertColumns + `
		FROM alert_records
		WHERE user_id = $1 AND NOT acknowledged
		ORDER BY created_at DESC, id DESC`

	return r.queryAlerts(ctx, query, userID)
}

// InsertTest создаёт тестовый алерт (админка). Дедупликация на него не действует.
func (r *AlertRepository) InsertTest(ctx context.Context, userID string, alertType models.AlertType, percent decimal.Decimal) (*models.AlertRecord, error) {
	now := r.now()
	rec := &models.AlertRecord{
		UserID:           userID,
		Type:             alertType,
		PercentAtTrigger: percent,
		Day:              utils.GetDayStartFrom(now),
		IsTest:           true,
	}

	query := `
		INSERT INTO alert_records (user_id, type, percent_at_trigger, day, is_test, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		rec.UserID,
		string(rec.Type),
		rec.PercentAtTrigger,
		rec.Day,
		now,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ClearTest удаляет тестовые алерты. Пустой userID - у всех пользователей.
// Боевые алерты не удаляются никогда.
func (r *AlertRepository) ClearTest(ctx context.Context, userID string) (int64, error) {
	var result sql.Result
	var err error
	if userID == "" {
		result, err = r.db.ExecContext(ctx, `DELETE FROM alert_records WHERE is_test`)
	} else {
		result, err = r.db.ExecContext(ctx, `DELETE FROM alert_records WHERE is_test AND user_id = $1`, userID)
	}
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *AlertRepository) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*models.AlertRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.AlertRecord
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

// rowScanner - общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.AlertRecord, error) {
	rec := &models.AlertRecord{}
	var alertType string
	var ackAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&alertType,
		&rec.PercentAtTrigger,
		&rec.Day,
		&rec.Acknowledged,
		&ackAt,
		&rec.IsTest,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Type = models.AlertType(alertType)
	if ackAt.Valid {
		t := ackAt.Time
		rec.AcknowledgedAt = &t
	}
	return rec, nil
}
