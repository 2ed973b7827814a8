package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"riskwatch/internal/models"

	"github.com/lib/pq"
)

// NotificationRepository - работа с таблицей notifications (журнал уведомлений)
type NotificationRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db, now: time.Now}
}

// Create добавляет уведомление
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	metaJSON, err := marshalMeta(n.Meta)
	if err != nil {
		return err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}

	query := `
		INSERT INTO notifications (user_id, type, severity, title, message, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		n.UserID,
		n.Type,
		n.Severity,
		n.Title,
		n.Message,
		metaJSON,
		n.CreatedAt,
	).Scan(&n.ID)
}

// CreateIfNoRecentTitle добавляет уведомление, только если у пользователя нет
// уведомления с тем же заголовком за последние window.
//
// Проверка и вставка идут в одной транзакции под advisory lock на
// (user_id, title), поэтому параллельные сборщики не создадут дубль.
func (r *NotificationRepository) CreateIfNoRecentTitle(ctx context.Context, n *models.Notification, window time.Duration) (bool, error) {
	metaJSON, err := marshalMeta(n.Meta)
	if err != nil {
		return false, err
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	since := n.CreatedAt.Add(-window)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, n.UserID+":"+n.Title); err != nil {
		return false, err
	}

	query := `
		INSERT INTO notifications (user_id, type, severity, title, message, meta, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM notifications
			WHERE user_id = $1 AND title = $4 AND created_at > $8
		)
		RETURNING id`

	err = tx.QueryRowContext(ctx, query,
		n.UserID,
		n.Type,
		n.Severity,
		n.Title,
		n.Message,
		metaJSON,
		n.CreatedAt,
		since,
	).Scan(&n.ID)

	if errors.Is(err, sql.ErrNoRows) {
		return false, tx.Commit()
	}
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ListByUser возвращает последние уведомления пользователя
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int, unreadOnly bool) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, type, severity, title, message, meta, read, created_at
		FROM notifications
		WHERE user_id = $1 AND ($2 = FALSE OR read = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var metaJSON []byte
		err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.Type,
			&n.Severity,
			&n.Title,
			&n.Message,
			&metaJSON,
			&n.Read,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &n.Meta); err != nil {
				return nil, err
			}
		}
		notifications = append(notifications, n)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead отмечает уведомления прочитанными. Пустой ids - все уведомления пользователя.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID string, ids []int64) (int64, error) {
	var result sql.Result
	var err error
	if len(ids) == 0 {
		result, err = r.db.ExecContext(ctx,
			`UPDATE notifications SET read = TRUE WHERE user_id = $1 AND NOT read`, userID)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE notifications SET read = TRUE WHERE user_id = $1 AND id = ANY($2) AND NOT read`,
			userID, pq.Array(ids))
	}
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteOlderThan удаляет уведомления старше before (автоочистка журнала)
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func marshalMeta(meta map[string]interface{}) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}
