package repository

import (
	"context"
	"database/sql"
	"time"

	"riskwatch/internal/models"
	"riskwatch/pkg/utils"
)

// DailyPnLRepository - работа с таблицей daily_pnl
type DailyPnLRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewDailyPnLRepository создает новый экземпляр репозитория
func NewDailyPnLRepository(db *sql.DB) *DailyPnLRepository {
	return &DailyPnLRepository{db: db, now: time.Now}
}

// MissingDays возвращает дни из days, для которых нет записи (user, market).
// Порядок days сохраняется.
func (r *DailyPnLRepository) MissingDays(ctx context.Context, userID, market string, days []time.Time) ([]time.Time, error) {
	if len(days) == 0 {
		return nil, nil
	}

	from, to := days[0], days[0]
	for _, d := range days[1:] {
		if d.Before(from) {
			from = d
		}
		if d.After(to) {
			to = d
		}
	}

	query := `
		SELECT day FROM daily_pnl
		WHERE user_id = $1 AND market = $2 AND day BETWEEN $3 AND $4`

	rows, err := r.db.QueryContext(ctx, query, userID, market, utils.GetDayStartFrom(from), utils.GetDayStartFrom(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		existing[day.Format("2006-01-02")] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	var missing []time.Time
	for _, d := range days {
		if _, ok := existing[utils.GetDayStartFrom(d).Format("2006-01-02")]; !ok {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

// Upsert сохраняет итог дня; повторная сверка перезаписывает значения
func (r *DailyPnLRepository) Upsert(ctx context.Context, d *models.DailyPnL) error {
	if d.SyncedAt.IsZero() {
		d.SyncedAt = r.now()
	}

	query := `
		INSERT INTO daily_pnl (user_id, market, day, realized_pnl, commission, funding, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, market, day) DO UPDATE SET
			realized_pnl = EXCLUDED.realized_pnl,
			commission = EXCLUDED.commission,
			funding = EXCLUDED.funding,
			synced_at = EXCLUDED.synced_at`

	_, err := r.db.ExecContext(ctx, query,
		d.UserID,
		d.Market,
		utils.GetDayStartFrom(d.Day),
		d.RealizedPnL,
		d.Commission,
		d.Funding,
		d.SyncedAt,
	)
	return err
}

// ListByUser возвращает дневные итоги за период [from, to], от старых к новым
func (r *DailyPnLRepository) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*models.DailyPnL, error) {
	query := `
		SELECT user_id, market, day, realized_pnl, commission, funding, synced_at
		FROM daily_pnl
		WHERE user_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day, market`

	rows, err := r.db.QueryContext(ctx, query, userID, utils.GetDayStartFrom(from), utils.GetDayStartFrom(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.DailyPnL
	for rows.Next() {
		d := &models.DailyPnL{}
		err := rows.Scan(
			&d.UserID,
			&d.Market,
			&d.Day,
			&d.RealizedPnL,
			&d.Commission,
			&d.Funding,
			&d.SyncedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
