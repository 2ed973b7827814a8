package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"riskwatch/internal/models"
)

// Ошибки репозитория аккаунтов
var (
	ErrAccountNotFound = errors.New("exchange account not found")
)

// AccountRepository - работа с таблицей exchange_accounts.
// Ключи хранятся в зашифрованном виде, шифрование делает сервис.
type AccountRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db, now: time.Now}
}

const accountColumns = `user_id, api_key_enc, secret_key_enc, active, last_error, created_at, updated_at`

// Upsert сохраняет зашифрованные ключи и активирует аккаунт
func (r *AccountRepository) Upsert(ctx context.Context, acc *models.ExchangeAccount) error {
	now := r.now()
	acc.UpdatedAt = now
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}

	query := `
		INSERT INTO exchange_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			api_key_enc = EXCLUDED.api_key_enc,
			secret_key_enc = EXCLUDED.secret_key_enc,
			active = EXCLUDED.active,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		acc.UserID,
		acc.APIKeyEnc,
		acc.SecretKeyEnc,
		acc.Active,
		acc.LastError,
		acc.CreatedAt,
		acc.UpdatedAt,
	)
	return err
}

// Get возвращает аккаунт пользователя
func (r *AccountRepository) Get(ctx context.Context, userID string) (*models.ExchangeAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM exchange_accounts WHERE user_id = $1`

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return acc, err
}

// ListActive возвращает аккаунты, которые нужно мониторить
func (r *AccountRepository) ListActive(ctx context.Context) ([]*models.ExchangeAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM exchange_accounts WHERE active ORDER BY user_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.ExchangeAccount
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// SetStatus обновляет активность и последнюю ошибку (например, после AuthError)
func (r *AccountRepository) SetStatus(ctx context.Context, userID string, active bool, lastError string) error {
	query := `
		UPDATE exchange_accounts
		SET active = $2, last_error = $3, updated_at = $4
		WHERE user_id = $1`

	result, err := r.db.ExecContext(ctx, query, userID, active, lastError, r.now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Delete удаляет ключи пользователя
func (r *AccountRepository) Delete(ctx context.Context, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM exchange_accounts WHERE user_id = $1`, userID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func scanAccount(row rowScanner) (*models.ExchangeAccount, error) {
	acc := &models.ExchangeAccount{}
	err := row.Scan(
		&acc.UserID,
		&acc.APIKeyEnc,
		&acc.SecretKeyEnc,
		&acc.Active,
		&acc.LastError,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return acc, nil
}
