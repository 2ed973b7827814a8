package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"riskwatch/internal/models"
)

// ============================================================
// AccountRepository Tests
// ============================================================

var accountRowColumns = []string{"user_id", "api_key_enc", "secret_key_enc", "active", "last_error", "created_at", "updated_at"}

func TestAccountRepositoryUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	acc := &models.ExchangeAccount{UserID: "u1", APIKeyEnc: "enc-k", SecretKeyEnc: "enc-s", Active: true}

	mock.ExpectExec(`INSERT INTO exchange_accounts .+ ON CONFLICT \(user_id\) DO UPDATE SET`).
		WithArgs("u1", "enc-k", "enc-s", true, "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewAccountRepository(db)
	if err := repo.Upsert(context.Background(), acc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.CreatedAt.IsZero() || acc.UpdatedAt.IsZero() {
		t.Error("timestamps must be set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAccountRepositoryGet(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM exchange_accounts WHERE user_id = \$1`).
					WithArgs("u1").
					WillReturnRows(sqlmock.NewRows(accountRowColumns).AddRow("u1", "k", "s", true, "", now, now))
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM exchange_accounts`).
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrAccountNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewAccountRepository(db)
			acc, err := repo.Get(context.Background(), "u1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil || acc.APIKeyEnc != "k" {
				t.Errorf("Get = (%+v, %v)", acc, err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestAccountRepositoryListActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM exchange_accounts WHERE active ORDER BY user_id`).
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow("u1", "k1", "s1", true, "", now, now).
			AddRow("u2", "k2", "s2", true, "", now, now))

	repo := NewAccountRepository(db)
	accounts, err := repo.ListActive(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(accounts) != 2 || accounts[1].UserID != "u2" {
		t.Errorf("unexpected accounts %+v", accounts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAccountRepositorySetStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE exchange_accounts SET active = \$2, last_error = \$3, updated_at = \$4 WHERE user_id = \$1`).
		WithArgs("u1", false, "invalid api key", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE exchange_accounts`).
		WithArgs("ghost", false, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewAccountRepository(db)
	if err := repo.SetStatus(context.Background(), "u1", false, "invalid api key"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := repo.SetStatus(context.Background(), "ghost", false, ""); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
