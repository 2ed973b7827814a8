package repository

import (
	"context"
	"database/sql"
	"time"

	"riskwatch/internal/models"
)

// SubscriptionRepository - чтение подписок для напоминаний о продлении.
// Сами платежи и ваучеры живут в биллинге, здесь только срок действия.
type SubscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository создает новый экземпляр репозитория
func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// ListExpiringBefore возвращает подписки, истекающие до before (включая уже истёкшие)
func (r *SubscriptionRepository) ListExpiringBefore(ctx context.Context, before time.Time) ([]*models.Subscription, error) {
	query := `
		SELECT user_id, plan, expires_at
		FROM subscriptions
		WHERE expires_at < $1
		ORDER BY expires_at`

	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		s := &models.Subscription{}
		if err := rows.Scan(&s.UserID, &s.Plan, &s.ExpiresAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

// Upsert сохраняет срок подписки (используется биллингом и тестами)
func (r *SubscriptionRepository) Upsert(ctx context.Context, s *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (user_id, plan, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET plan = EXCLUDED.plan, expires_at = EXCLUDED.expires_at`

	_, err := r.db.ExecContext(ctx, query, s.UserID, s.Plan, s.ExpiresAt)
	return err
}
